package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var ErrInvalidCursor = errors.New("pagination: invalid cursor")

// Cursor marks the last row of a page in (created_at, id) order.
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        uint64    `json:"i"`
}

// Page is one slice of a cursor-paginated listing.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// Encode returns the opaque string form of c.
func (c Cursor) Encode() string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses an opaque cursor. An empty string yields a nil cursor.
func Decode(raw string) (*Cursor, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil || cursor.ID == 0 {
		return nil, ErrInvalidCursor
	}
	return &cursor, nil
}

// ParseLimit reads a page size, clamping it to MaxLimit.
func ParseLimit(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultLimit, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value <= 0 {
		return 0, errors.New("pagination: invalid limit")
	}
	if value > MaxLimit {
		return MaxLimit, nil
	}
	return value, nil
}

// Apply orders query newest first and restricts it to rows after cursor.
// It fetches limit+1 rows so Build can tell whether another page exists.
func Apply(query *gorm.DB, table string, cursor *Cursor, limit int) *gorm.DB {
	prefix := ""
	if table != "" {
		prefix = table + "."
	}
	if cursor != nil {
		query = query.Where(
			"("+prefix+"created_at < ?) OR ("+prefix+"created_at = ? AND "+prefix+"id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}
	return query.Order(prefix + "created_at DESC").Order(prefix + "id DESC").Limit(limit + 1)
}

// Build trims the extra row fetched by Apply and computes the next cursor.
func Build[T any](rows []T, limit int, key func(T) Cursor) Page[T] {
	page := Page[T]{Items: rows}
	if page.Items == nil {
		page.Items = []T{}
	}
	if limit > 0 && len(rows) > limit {
		page.Items = rows[:limit]
		page.HasMore = true
		page.NextCursor = key(page.Items[len(page.Items)-1]).Encode()
	}
	return page
}
