package audit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultMaxBackups is the number of rotated files kept.
	DefaultMaxBackups = 30

	// unboundedSizeMB keeps lumberjack from rotating on size; rotation is
	// driven by the calendar day only.
	unboundedSizeMB = 1 << 20

	dayLayout = "2006-01-02"
)

// FileConfig configures a RotatingFile.
type FileConfig struct {
	// Path of the active log file, e.g. "logs/LW-Audit.log".
	Path string

	// MaxBackups is the number of rotated files to keep.
	// Default: 30.
	MaxBackups int
}

// RotatingFile appends records to a file and rotates it when the local
// calendar day of a record differs from the previous write. Rotated files
// beyond MaxBackups are deleted, oldest first.
type RotatingFile struct {
	mu      sync.Mutex
	out     *lumberjack.Logger
	lastDay string
}

// NewRotatingFile opens (or prepares) the log file at cfg.Path. An existing
// file's modification day is taken as its last write day, so a file left
// over from a previous day is rotated on the first write.
func NewRotatingFile(cfg FileConfig) (*RotatingFile, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit: file path is required")
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = DefaultMaxBackups
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	f := &RotatingFile{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    unboundedSizeMB,
			MaxBackups: cfg.MaxBackups,
			LocalTime:  true,
		},
	}

	info, err := os.Stat(cfg.Path)
	switch {
	case err == nil:
		f.lastDay = info.ModTime().Local().Format(dayLayout)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("checking log file: %w", err)
	}

	return f, nil
}

// WriteRecord appends one line, rotating first at a day boundary.
func (f *RotatingFile) WriteRecord(rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	day := rec.Time.Local().Format(dayLayout)
	if f.lastDay != "" && day != f.lastDay {
		if err := f.out.Rotate(); err != nil {
			return fmt.Errorf("rotating log file: %w", err)
		}
	}
	f.lastDay = day

	if _, err := f.out.Write([]byte(rec.Format() + "\n")); err != nil {
		return fmt.Errorf("writing log file: %w", err)
	}
	return nil
}

// Close closes the active file.
func (f *RotatingFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Close()
}
