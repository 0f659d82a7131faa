// Package models defines the records persisted by feedgate and the
// documents exchanged with the ingestion service.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Document is a free-form JSON object mirrored from the ingestion service.
// It is stored in JSONB columns.
type Document map[string]any

// Value implements driver.Valuer. A nil document is stored as {}.
func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JSON columns delivered as text or bytes.
func (d *Document) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = Document{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("document: unsupported source type %T", src)
	}

	out := Document{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("document: %w", err)
	}
	*d = out
	return nil
}

// String returns the value under key when it is a JSON string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}
