package contentstore

// index holds every entry and asset seen in a response, keyed by link type and id
type index struct {
	byKey map[string]map[string]any
}

func newIndex() *index { return &index{byKey: make(map[string]map[string]any)} }

func (ix *index) add(linkType string, objs ...map[string]any) {
	for _, o := range objs {
		sys, _ := o["sys"].(map[string]any)
		id, _ := sys["id"].(string)
		if id == "" {
			continue
		}
		ix.byKey[linkType+"/"+id] = o
	}
}

func (ix *index) len() int { return len(ix.byKey) }

// link returns the link key of a {"sys": {"type": "Link", ...}} object
func link(m map[string]any) (string, bool) {
	sys, ok := m["sys"].(map[string]any)
	if !ok || sys["type"] != "Link" {
		return "", false
	}
	lt, _ := sys["linkType"].(string)
	id, _ := sys["id"].(string)
	if lt == "" || id == "" {
		return "", false
	}
	return lt + "/" + id, true
}

// resolve returns a copy of v with links replaced by the objects they point
// to, following at most depth links along any path. Links beyond depth, or to
// objects missing from the response, are left in place. The index objects
// are never modified, so an entry linked from several places is copied into
// each.
func (ix *index) resolve(v any, depth int) any {
	switch t := v.(type) {
	case map[string]any:
		if key, ok := link(t); ok {
			target, found := ix.byKey[key]
			if !found || depth <= 0 {
				return t
			}
			return ix.resolve(target, depth-1)
		}
		out := make(map[string]any, len(t))
		for k, el := range t {
			if k == "sys" {
				// sys holds contentType/space/environment links that are never resolved
				out[k] = el
				continue
			}
			out[k] = ix.resolve(el, depth)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = ix.resolve(el, depth)
		}
		return out
	default:
		return v
	}
}
