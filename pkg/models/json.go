// Package models contains domain models for caselink.
package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// JSONFloat32Array stores a float32 slice as a JSON TEXT column.
// Used for record embedding vectors.
type JSONFloat32Array []float32

// Scan implements sql.Scanner.
func (a *JSONFloat32Array) Scan(value interface{}) error {
	return scanJSON(value, a)
}

// Value implements driver.Valuer.
func (a JSONFloat32Array) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// JSONStringArray stores a string slice as a JSON TEXT column.
type JSONStringArray []string

// Scan implements sql.Scanner.
func (a *JSONStringArray) Scan(value interface{}) error {
	return scanJSON(value, a)
}

// Value implements driver.Valuer.
func (a JSONStringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// JSONRelatedCases stores the append-only related-closed-cases list as a
// JSON TEXT column. Informational only; never implies case membership.
type JSONRelatedCases []RelatedClosedCase

// Scan implements sql.Scanner.
func (r *JSONRelatedCases) Scan(value interface{}) error {
	return scanJSON(value, r)
}

// Value implements driver.Valuer.
func (r JSONRelatedCases) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

// scanJSON unmarshals a TEXT/BLOB column into dst. NULL and the empty
// string leave dst at its zero value.
func scanJSON(value, dst interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		data = []byte(v)
	case []byte:
		if len(v) == 0 {
			return nil
		}
		data = v
	default:
		return fmt.Errorf("unsupported column type %T", value)
	}
	return json.Unmarshal(data, dst)
}
