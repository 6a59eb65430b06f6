package repositories

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// jsonbParam converts a value to JSONB format for database insertion.
// Nil pointers, slices and maps store SQL NULL rather than JSON null.
func jsonbParam(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
	}
	if raw, ok := v.(json.RawMessage); ok {
		return []byte(raw), nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T to jsonb: %w", v, err)
	}
	return b, nil
}

// unmarshalJSONB decodes a scanned JSONB column, leaving dst untouched for
// SQL NULL and JSON null.
func unmarshalJSONB(data []byte, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, dst)
}
