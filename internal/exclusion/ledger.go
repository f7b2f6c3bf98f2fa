package exclusion

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultFileName is the ledger file kept next to gamelist.xml.
const DefaultFileName = "Excluded_From_Scan.txt"

// Ledger is the set of file names that previously failed to match. The file
// is only ever appended to; removing a line by hand re-enables matching.
type Ledger struct {
	path  string
	names map[string]struct{}
}

// Load reads the ledger at path. A missing file yields an empty ledger. On a
// read error the returned ledger is empty but usable, so callers may log the
// error and carry on.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path, names: make(map[string]struct{})}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return l, fmt.Errorf("open exclusion list %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if name == "" {
			continue
		}
		l.names[name] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		l.names = make(map[string]struct{})
		return l, fmt.Errorf("read exclusion list %s: %w", path, err)
	}
	return l, nil
}

// Path returns the backing file path.
func (l *Ledger) Path() string { return l.path }

// Len returns the number of distinct names.
func (l *Ledger) Len() int { return len(l.names) }

// Contains reports whether name is excluded.
func (l *Ledger) Contains(name string) bool {
	_, ok := l.names[name]
	return ok
}

// Append writes name to the ledger file. The in-memory set only learns the
// name once the write succeeded, so a failed append is retried next run.
func (l *Ledger) Append(name string) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open exclusion list %s for append: %w", l.path, err)
	}
	line := name + "\n"
	if needsNewline(f) {
		line = "\n" + line
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("append %s to exclusion list %s: %w", name, l.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close exclusion list %s: %w", l.path, err)
	}
	l.names[name] = struct{}{}
	return nil
}

// needsNewline reports whether the file ends without a line break, as hand
// edited files often do.
func needsNewline(f *os.File) bool {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return false
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false
	}
	return last[0] != '\n'
}
