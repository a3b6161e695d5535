package tenant

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StringList is a stored multi-valued field. Decoded is true when the stored
// value parsed as a JSON array; otherwise Raw holds the original scalar and
// Values is empty. Downstream code never re-checks decode success: an
// undecodable field behaves as an absent list.
type StringList struct {
	Values  []string
	Raw     string
	Decoded bool
}

// StringTable is a stored lookup table with the same decode-or-raw contract
// as StringList.
type StringTable struct {
	Values  map[string]string
	Raw     string
	Decoded bool
}

// DecodeList parses a stored JSON array. Malformed input degrades to the
// raw scalar instead of failing the pipeline.
func DecodeList(stored string) StringList {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return StringList{Decoded: true}
	}

	var raw []any
	if err := json.Unmarshal([]byte(stored), &raw); err != nil {
		return StringList{Raw: stored}
	}

	values := make([]string, 0, len(raw))
	for _, v := range raw {
		values = append(values, scalarString(v))
	}
	return StringList{Values: values, Decoded: true}
}

// DecodeTable parses a stored JSON object, with the same raw fallback.
func DecodeTable(stored string) StringTable {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return StringTable{Values: map[string]string{}, Decoded: true}
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(stored), &raw); err != nil {
		return StringTable{Raw: stored}
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[k] = scalarString(v)
	}
	return StringTable{Values: values, Decoded: true}
}

// Lookup returns the mapped value for key, empty string if the table is
// undecoded or has no entry.
func (t StringTable) Lookup(key string) string {
	if !t.Decoded {
		return ""
	}
	return t.Values[key]
}

// Contains reports whether the list holds the exact value
func (l StringList) Contains(value string) bool {
	for _, v := range l.Values {
		if v == value {
			return true
		}
	}
	return false
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

// parseBool interprets stored setting values; the admin surface writes
// "true"/"false" but legacy rows may hold "1"/"0".
func parseBool(stored string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(stored)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

// parseSeconds interprets a stored timeout value in whole seconds
func parseSeconds(stored string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(stored))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
