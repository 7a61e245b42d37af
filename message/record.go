package message

// Record is a structured record. Values are string, Record or []any, where array
// elements are string or Record.
type Record map[string]any

// Path walks nested records by key and returns the value found, if any.
// Arrays are not traversed.
func (r Record) Path(keys ...string) (any, bool) {
	var cur any = r
	for _, k := range keys {
		m, ok := asRecord(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asRecord(v any) (Record, bool) {
	switch m := v.(type) {
	case Record:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}
