package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure all JSONB types implement both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*DefinitionData)(nil)
	_ driver.Valuer = DefinitionData(nil)
	_ sql.Scanner   = (*RenderContext)(nil)
	_ driver.Valuer = RenderContext{}
)

// scanJSONB is a generic helper that scans a JSONB database value into a Go pointer.
// It handles nil values, []byte, and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB is a generic helper that converts a Go value to a JSONB-compatible driver.Value.
// Returns nil for nil interface values; otherwise marshals to JSON bytes.
func valueJSONB(v interface{}) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// ---------------------------------------------------------------------------
// DefinitionData
// ---------------------------------------------------------------------------

// Scan implements the sql.Scanner interface for reading JSONB from the database.
// The raw bytes are copied, not aliased, because drivers may reuse buffers.
func (d *DefinitionData) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*d = append((*d)[0:0], v...)
		return nil
	case string:
		*d = DefinitionData(v)
		return nil
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (d DefinitionData) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return []byte(d), nil
}

// ---------------------------------------------------------------------------
// RenderContext
// ---------------------------------------------------------------------------

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (rc *RenderContext) Scan(value interface{}) error {
	return scanJSONB(rc, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (rc RenderContext) Value() (driver.Value, error) {
	return valueJSONB(rc)
}
