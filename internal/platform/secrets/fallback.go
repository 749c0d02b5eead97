package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// fallbackFile holds secret://name=value lines for development machines without Secret Manager
// access. It is read once on first use and ignores versions: a name maps to one value.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(ref reference) (string, bool, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", false, f.err
	}
	value, ok := f.values[ref.canonical]
	return value, ok, nil
}

func (f *fallbackFile) load() {
	f.values = make(map[string]string)
	if f.path == "" {
		return
	}
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.err = fmt.Errorf("secrets: open fallback %s: %w", f.path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		ref, err := parseReference(raw)
		if err != nil {
			continue
		}
		f.values[ref.canonical] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		f.err = fmt.Errorf("secrets: read fallback %s: %w", f.path, err)
	}
}
