package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OrderCursor marks the last order of a page. Both sort keys are recorded so the same token
// works whichever field the listing is sorted by; ID breaks ties.
type OrderCursor struct {
	CreatedAt  time.Time `json:"c"`
	TotalPrice int64     `json:"t"`
	ID         string    `json:"id"`
}

// EncodeOrderCursor serialises the cursor into a base64 URL-safe page token.
func EncodeOrderCursor(cursor OrderCursor) (string, error) {
	if strings.TrimSpace(cursor.ID) == "" {
		return "", nil
	}
	cursor.CreatedAt = cursor.CreatedAt.UTC()
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeOrderCursor parses a token produced by EncodeOrderCursor. An empty token yields a
// zero cursor.
func DecodeOrderCursor(token string) (OrderCursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return OrderCursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return OrderCursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor OrderCursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return OrderCursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if strings.TrimSpace(cursor.ID) == "" {
		return OrderCursor{}, fmt.Errorf("%w: missing id", ErrInvalidPageToken)
	}
	return cursor, nil
}
