// Package pagination normalizes page sizes and encodes opaque keyset tokens.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// PageSizeConfig configures page size normalization.
type PageSizeConfig struct {
	Default int
	Max     int
}

// ClampPageSize applies defaults and limits for page sizes.
func ClampPageSize(value int, cfg PageSizeConfig) int {
	pageSize := value
	if pageSize <= 0 {
		pageSize = cfg.Default
	}
	if cfg.Max > 0 && pageSize > cfg.Max {
		pageSize = cfg.Max
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return pageSize
}

// ParsePageSize parses a page_size query value. Blank input means the default.
func ParsePageSize(raw string, cfg PageSizeConfig) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ClampPageSize(0, cfg), nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid page_size: %q", raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid page_size: %d", value)
	}
	return ClampPageSize(value, cfg), nil
}

// Cursor is the keyset position after the last row of a page.
type Cursor struct {
	SortKey int64
	ID      string
}

// EncodeCursor returns the opaque page token for c.
func EncodeCursor(c Cursor) string {
	raw := strconv.FormatInt(c.SortKey, 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, fmt.Errorf("page token is empty")
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid page token: %w", err)
	}
	sortKey, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return Cursor{}, fmt.Errorf("invalid page token")
	}
	value, err := strconv.ParseInt(sortKey, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid page token: %w", err)
	}
	return Cursor{SortKey: value, ID: id}, nil
}
