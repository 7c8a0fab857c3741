package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/auth"
)

const guestRequester = "guest"

// requester scopes keys to the caller so two shoppers reusing a key never collide.
func requester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return "uid:" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil && svc.Subject != "" {
		return "svc:" + svc.Subject
	}
	return guestRequester
}

func scopedKey(key, requester string) string {
	return strings.TrimSpace(key) + "|" + requester
}

// fingerprint identifies the checkout a key was first used for. JSON bodies are
// canonicalised so a client re-serialising the same cart in another key order still
// matches.
func fingerprint(method, path, requester string, body []byte) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('|')
	b.WriteString(path)
	b.WriteByte('|')
	b.WriteString(requester)
	b.WriteByte('|')
	b.WriteString(sha256Hex(canonicalBody(body)))
	return sha256Hex([]byte(b.String()))
}

func canonicalBody(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	var decoded any
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	if err := decoder.Decode(&decoded); err != nil {
		return trimmed
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return trimmed
	}
	return canonical
}
