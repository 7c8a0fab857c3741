package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// environment resolves keys against ordered layers; earlier layers win.
type environment struct {
	layers []map[string]string
}

func newEnvironment(options loaderOptions) (environment, error) {
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return environment{}, err
	}
	var env environment
	if options.envMap != nil {
		env.layers = append(env.layers, options.envMap)
	}
	if options.useSystemEnv {
		env.layers = append(env.layers, systemEnv())
	}
	if dotenv != nil {
		env.layers = append(env.layers, dotenv)
	}
	return env, nil
}

func (e environment) lookup(key string) (string, bool) {
	for _, layer := range e.layers {
		if value, ok := layer[key]; ok {
			return value, true
		}
	}
	return "", false
}

// flatten merges every layer into one map using the same precedence as lookup.
func (e environment) flatten() map[string]string {
	out := make(map[string]string)
	for i := len(e.layers) - 1; i >= 0; i-- {
		for key, value := range e.layers[i] {
			out[key] = value
		}
	}
	return out
}

func (e environment) text(key, fallback string) string {
	if value, ok := e.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (e environment) lower(key, fallback string) string {
	return strings.ToLower(strings.TrimSpace(e.text(key, fallback)))
}

func (e environment) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.text(key, "")); err == nil {
		return d
	}
	return fallback
}

func (e environment) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(e.text(key, ""))); err == nil {
		return n
	}
	return fallback
}

func (e environment) flag(key string, fallback bool) bool {
	switch e.lower(key, "") {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

// list splits a comma separated value, dropping blanks.
func (e environment) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(e.text(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs parses "name=value,name=value" with lowercased names.
func (e environment) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range e.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

func systemEnv() map[string]string {
	out := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if key = strings.TrimSpace(key); ok && key != "" {
			out[key] = value
		}
	}
	return out
}

// readDotEnv parses KEY=VALUE lines, tolerating "export" prefixes and quoted values. A
// missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
