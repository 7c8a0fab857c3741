package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// reference is a parsed secret://name?version=N&project=P (or sm://) reference.
type reference struct {
	Canonical string
	Secret    string
	Version   string
	Project   string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	switch u.Scheme {
	case "secret":
	case "sm":
		u.Scheme = "secret"
	default:
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}

	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	query := u.Query()
	u.RawQuery = ""
	u.Fragment = ""
	return reference{
		Canonical: u.String(),
		Secret:    name,
		Version:   strings.TrimSpace(query.Get("version")),
		Project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func cacheKey(canonical, version string) string {
	return canonical + "#" + version
}

func keyWithEnv(env, canonical string) string {
	if env == "" {
		return canonical
	}
	return env + ":" + canonical
}

// maskReference hashes a reference for metric attributes.
func maskReference(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}

func copyStringMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
