package entry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Value is one node of a decoded content tree.
type Value interface {
	isValue()
}

// Scalar holds a JSON leaf: string, float64, bool or nil.
type Scalar struct {
	V any
}

// List is an ordered sequence of values.
type List []Value

// Record is a plain object with no store envelope.
type Record map[string]Value

// Entry is an object wrapped in a store envelope. Links that the store did
// not resolve decode to an Entry with Sys set and Fields nil.
type Entry struct {
	Sys    Sys
	Fields Record
}

// Sys is the store-internal bookkeeping attached to an Entry.
type Sys struct {
	ID          string    `json:"id,omitempty"`
	Type        string    `json:"type,omitempty"`
	LinkType    string    `json:"linkType,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Locale      string    `json:"locale,omitempty"`
	Revision    int       `json:"revision,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

func (Scalar) isValue() {}
func (List) isValue()   {}
func (Record) isValue() {}
func (*Entry) isValue() {}

// IsLink reports whether e is an unresolved link placeholder.
func (e *Entry) IsLink() bool { return e.Sys.Type == "Link" && e.Fields == nil }

// ID returns the routing id of an entry: the string field "id" when present,
// otherwise sys.id.
func (e *Entry) ID() string {
	if id := e.Fields.String("id"); id != "" {
		return id
	}
	return e.Sys.ID
}

// String returns the string field at key, or "" if absent or not a string.
func (r Record) String(key string) string {
	if s, ok := r[key].(Scalar); ok {
		if str, ok := s.V.(string); ok {
			return str
		}
	}
	return ""
}

// Interface converts v back to plain Go values (map[string]any, []any and
// scalars), keeping envelopes as {"sys": ..., "fields": ...}.
func Interface(v Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Scalar:
		return t.V
	case List:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = Interface(el)
		}
		return out
	case Record:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = Interface(el)
		}
		return out
	case *Entry:
		out := map[string]any{"sys": t.Sys}
		if t.Fields != nil {
			out["fields"] = Interface(t.Fields)
		}
		return out
	default:
		panic(fmt.Sprintf("entry: unknown value type %T", v))
	}
}

func (s Scalar) MarshalJSON() ([]byte, error) { return json.Marshal(s.V) }
func (l List) MarshalJSON() ([]byte, error)   { return json.Marshal(Interface(l)) }
func (r Record) MarshalJSON() ([]byte, error) { return json.Marshal(Interface(r)) }
func (e *Entry) MarshalJSON() ([]byte, error) { return json.Marshal(Interface(e)) }
