package fetcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is one upstream row. Field names and types are owned by the upstream
// site and may change without notice. JSON numbers are kept as json.Number so
// their textual form survives caching unchanged.
type Record map[string]any

// Field returns the string form of the named field and whether it was present.
func (r Record) Field(name string) (string, bool) {
	v, ok := r[name]
	if !ok {
		return "", false
	}
	return Stringify(v), true
}

// Stringify renders an upstream value the way it appeared on the wire.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// Decode unmarshals JSON into v, keeping numbers as json.Number.
func Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return NewFormatError("failed to decode JSON response", err)
	}
	return nil
}

// Flatten concatenates record chunks in order.
func Flatten(chunks [][]Record) []Record {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]Record, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
