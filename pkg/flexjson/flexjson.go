// Package flexjson decodes loosely typed JSON produced by form tooling,
// where the same field may arrive as a string, a number or a boolean.
package flexjson

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Value converts a raw JSON value to a string. Strings are returned as-is,
// whole numbers without a decimal point, booleans as "true"/"false", null as
// "". Objects and arrays are returned in compact JSON form.
func Value(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if f, err := n.Float64(); err == nil {
			if f == float64(int64(f)) {
				return strconv.FormatInt(int64(f), 10)
			}
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return n.String()
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}

// String is a string field that also accepts numbers and booleans.
type String string

func (s *String) UnmarshalJSON(b []byte) error {
	*s = String(Value(b))
	return nil
}

func (s String) String() string { return string(s) }

// Map is an object whose values are flattened with Value.
type Map map[string]string

func (m *Map) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		*m = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Map, len(raw))
	for k, v := range raw {
		out[k] = Value(v)
	}
	*m = out
	return nil
}
