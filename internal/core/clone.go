package core

// Clone returns a deep copy of cached data.
// Maps, slices, records and list data are copied recursively; any other value
// is returned as is and must be treated as immutable by its owner.
func Clone(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case Record:
		return cloneRecord(t)
	case map[string]interface{}:
		return map[string]interface{}(cloneRecord(Record(t)))
	case []Record:
		out := make([]Record, len(t))
		for i, r := range t {
			out[i] = cloneRecord(r)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	case ListData:
		return cloneList(t)
	case []ListData:
		out := make([]ListData, len(t))
		for i, l := range t {
			out[i] = cloneList(l)
		}
		return out
	case *ListData:
		if t == nil {
			return t
		}
		c := cloneList(*t)
		return &c
	default:
		return v
	}
}

func cloneRecord(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = Clone(v)
	}
	return out
}

func cloneList(l ListData) ListData {
	out := ListData{Total: l.Total}
	if l.Data != nil {
		out.Data = make([]Record, len(l.Data))
		for i, r := range l.Data {
			out.Data[i] = cloneRecord(r)
		}
	}
	return out
}
