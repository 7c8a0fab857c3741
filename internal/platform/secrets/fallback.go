package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// fallbackFile serves secrets from a local KEY=VALUE file for development machines
// without Secret Manager access. Keys are secret:// or sm:// references, optionally with a
// version query.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(ref reference, version string) (string, bool, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", false, f.err
	}
	if value, ok := f.values[cacheKey(ref.Canonical, version)]; ok {
		return value, true, nil
	}
	value, ok := f.values[ref.Canonical]
	return value, ok, nil
}

func (f *fallbackFile) load() {
	f.values = map[string]string{}
	if strings.TrimSpace(f.path) == "" {
		return
	}

	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.err = fmt.Errorf("secrets: open fallback file %s: %w", f.path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitFallbackLine(line)
		if !ok {
			continue
		}
		ref, err := parseReference(key)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		version := ref.Version
		if version == "" {
			version = latestVersion
			f.values[ref.Canonical] = value
		}
		f.values[cacheKey(ref.Canonical, version)] = value
	}
	if err := scanner.Err(); err != nil {
		f.err = fmt.Errorf("secrets: read fallback file %s: %w", f.path, err)
	}
}

// splitFallbackLine separates "ref=value", skipping the "=" of each query parameter on the
// reference.
func splitFallbackLine(line string) (key, value string, ok bool) {
	eq := strings.Index(line, "=")
	if eq < 0 {
		return "", "", false
	}
	query := strings.Index(line[:eq], "?")
	if query < 0 {
		return strings.TrimSpace(line[:eq]), line[eq+1:], true
	}
	pos := query + 1
	for {
		param := strings.Index(line[pos:], "=")
		if param < 0 {
			return "", "", false
		}
		pos += param + 1
		next := strings.IndexAny(line[pos:], "&=")
		if next < 0 {
			return "", "", false
		}
		pos += next
		if line[pos] == '=' {
			return strings.TrimSpace(line[:pos]), line[pos+1:], true
		}
		pos++
	}
}
