package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// FieldMap is a JSON key/value mapping stored as a JSONB column. It backs
// both the immutable action input payload and the durable action cache.
type FieldMap map[string]any

// Scan implements sql.Scanner for reading from database
func (fm *FieldMap) Scan(value any) error {
	if value == nil {
		*fm = make(FieldMap)
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan FieldMap: expected []byte or string, got %T", value)
	}
	return json.Unmarshal(bytes, fm)
}

// Value implements driver.Valuer for writing to database
func (fm FieldMap) Value() (driver.Value, error) {
	if fm == nil {
		return "{}", nil
	}
	bytes, err := json.Marshal(fm)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Clone returns a shallow copy so callers cannot mutate stored payloads.
func (fm FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(fm))
	for k, v := range fm {
		out[k] = v
	}
	return out
}
