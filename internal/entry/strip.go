package entry

// Strip returns a deep copy of v with every store envelope removed: an Entry
// is replaced by its stripped fields, records and lists are stripped element
// by element, scalars are returned as is. v is never modified.
//
// The result contains no *Entry at any depth. Cyclic inputs are not
// supported.
func Strip(v Value) Value {
	switch t := v.(type) {
	case *Entry:
		// unresolved links carry no field data
		if t == nil || t.IsLink() {
			return Record{}
		}
		return Strip(t.Fields)
	case Record:
		out := make(Record, len(t))
		for k, el := range t {
			out[k] = Strip(el)
		}
		return out
	case List:
		out := make(List, len(t))
		for i, el := range t {
			out[i] = Strip(el)
		}
		return out
	default:
		return v
	}
}

// StripAll strips each entry of a collection, preserving order. A nil entry
// strips to an empty record.
func StripAll(items []*Entry) []Record {
	out := make([]Record, len(items))
	for i, it := range items {
		out[i] = Strip(it).(Record)
	}
	return out
}
