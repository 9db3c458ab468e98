package entry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// Decode maps a generically unmarshaled JSON value onto the variant. An
// object carrying a "fields" or "sys" key is an Entry; any other object is a
// Record.
func Decode(v any) (Value, error) {
	switch t := v.(type) {
	case nil, string, bool, float64, json.Number:
		return Scalar{V: t}, nil
	case []any:
		out := make(List, len(t))
		for i, el := range t {
			dv, err := Decode(el)
			if err != nil {
				return nil, xerrors.Wrapf(err, "index %d", i)
			}
			out[i] = dv
		}
		return out, nil
	case map[string]any:
		_, hasFields := t["fields"]
		_, hasSys := t["sys"]
		if hasFields || hasSys {
			return decodeEntry(t)
		}
		return decodeRecord(t)
	default:
		return nil, xerrors.Newf("unsupported JSON value of type %T", v)
	}
}

func decodeRecord(m map[string]any) (Record, error) {
	out := make(Record, len(m))
	for k, el := range m {
		dv, err := Decode(el)
		if err != nil {
			return nil, xerrors.Wrapf(err, "key %q", k)
		}
		out[k] = dv
	}
	return out, nil
}

func decodeEntry(m map[string]any) (*Entry, error) {
	e := &Entry{}
	if raw, ok := m["sys"].(map[string]any); ok {
		sys, err := decodeSys(raw)
		if err != nil {
			return nil, err
		}
		e.Sys = sys
	}
	switch f := m["fields"].(type) {
	case nil:
	case map[string]any:
		rec, err := decodeRecord(f)
		if err != nil {
			return nil, xerrors.Wrapf(err, "entry %s fields", e.Sys.ID)
		}
		e.Fields = rec
	default:
		return nil, xerrors.Newf("entry %s: fields is %T, want object", e.Sys.ID, f)
	}
	return e, nil
}

func decodeSys(m map[string]any) (Sys, error) {
	var s Sys
	s.ID, _ = m["id"].(string)
	s.Type, _ = m["type"].(string)
	s.LinkType, _ = m["linkType"].(string)
	s.Locale, _ = m["locale"].(string)
	if rev, ok := m["revision"].(float64); ok {
		s.Revision = int(rev)
	}
	// contentType is itself a link: {"sys": {"id": "game", ...}}
	if ct, ok := m["contentType"].(map[string]any); ok {
		if inner, ok := ct["sys"].(map[string]any); ok {
			s.ContentType, _ = inner["id"].(string)
		}
	}
	var err error
	if s.CreatedAt, err = parseTime(m["createdAt"]); err != nil {
		return s, xerrors.Wrapf(err, "sys %s createdAt", s.ID)
	}
	if s.UpdatedAt, err = parseTime(m["updatedAt"]); err != nil {
		return s, xerrors.Wrapf(err, "sys %s updatedAt", s.ID)
	}
	return s, nil
}

func parseTime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	return t, nil
}

// DecodeJSON unmarshals raw JSON and decodes it onto the variant.
func DecodeJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, xerrors.Wrap(err, "decode json")
	}
	return Decode(v)
}
