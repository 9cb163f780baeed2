package audit

import (
	"io"
)

// Console writes formatted records to a writer, one line each.
type Console struct {
	w io.Writer
}

// NewConsole creates a console destination.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// WriteRecord appends the record line.
func (c *Console) WriteRecord(rec Record) error {
	_, err := io.WriteString(c.w, rec.Format()+"\n")
	return err
}
