package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// listFileHeader is written to a newly created device list.
const listFileHeader = "# Put one Livewire device IP Address per line\r\n" +
	"# Or, if you have a password - 111.222.333.444|password (separate IP and password with a 'pipe' symbol)\r\n" +
	"# Lines starting with a hash symbol are ignored\r\n" +
	"# IMPORTANT: You must restart the app for these changes to apply\r\n"

// listFilePermissions is the permission mode for a created device list.
const listFilePermissions = 0640

// Descriptor identifies one configured device.
type Descriptor struct {
	// Address is the device's network address (IP or hostname).
	Address string `json:"address"`

	// Password is the optional LWRP login password.
	Password string `json:"-"`
}

// ParseDescriptor parses a single "address" or "address|password" entry.
// Only the field after the first pipe is the password; any further
// pipe-separated fields are ignored. The caller is responsible for skipping
// blank and comment lines.
func ParseDescriptor(line string) (Descriptor, error) {
	line = strings.TrimSpace(line)

	fields := strings.Split(line, "|")
	address := strings.TrimSpace(fields[0])
	if address == "" {
		return Descriptor{}, fmt.Errorf("%w: empty address in %q", ErrInvalidDescriptor, line)
	}
	if strings.ContainsAny(address, " \t") {
		return Descriptor{}, fmt.Errorf("%w: address %q contains whitespace", ErrInvalidDescriptor, address)
	}

	d := Descriptor{Address: address}
	if len(fields) > 1 {
		d.Password = fields[1]
	}
	return d, nil
}

// LineError reports a device list line that was skipped.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e LineError) Unwrap() error {
	return e.Err
}

// ParseList reads a device list. Blank lines and lines starting with '#' are
// ignored. Invalid lines are skipped and returned as LineErrors so one typo
// never drops the other devices. Duplicates are preserved in order; the
// registry drops them. The error is non-nil only when reading fails.
func ParseList(r io.Reader) ([]Descriptor, []LineError, error) {
	var (
		descriptors []Descriptor
		invalid     []LineError
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		d, err := ParseDescriptor(line)
		if err != nil {
			invalid = append(invalid, LineError{Line: lineNo, Err: err})
			continue
		}
		descriptors = append(descriptors, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading device list: %w", err)
	}

	return descriptors, invalid, nil
}

// LoadList reads and parses the device list at path.
func LoadList(path string) ([]Descriptor, []LineError, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, nil, fmt.Errorf("opening device list: %w", err)
	}
	defer f.Close()

	return ParseList(f)
}

// EnsureListFile creates the device list with an explanatory header if it
// does not exist yet. It reports whether a file was created.
func EnsureListFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("checking device list: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return false, fmt.Errorf("creating device list directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(listFileHeader), listFilePermissions); err != nil {
		return false, fmt.Errorf("creating device list: %w", err)
	}
	return true, nil
}
