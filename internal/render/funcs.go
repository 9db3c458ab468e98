package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"github.com/keithlinneman/portfolio-web/internal/entry"
)

func (rd *Renderer) funcs() template.FuncMap {
	return template.FuncMap{
		"field":     field,
		"str":       str,
		"id":        itemID,
		"asset":     assetURL,
		"date":      date,
		"abs":       absURL,
		"lower":     strings.ToLower,
		"hasPrefix": hasPrefix,
		"markdown":  rd.markdown,
	}
}

// plainData converts entry values in route data to maps and slices so
// templates can index them.
func plainData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case entry.Value:
		return entry.Interface(t)
	case []entry.Record:
		out := make([]any, len(t))
		for i, r := range t {
			out[i] = entry.Interface(r)
		}
		return out
	case []*entry.Entry:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = entry.Interface(e)
		}
		return out
	default:
		return v
	}
}

// field reads key from a plain record, looking inside "fields" first so
// that raw entries and sanitized records read the same way.
func field(v any, key string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if f, ok := m["fields"].(map[string]any); ok {
		if x, ok := f[key]; ok {
			return x
		}
	}
	return m[key]
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func itemID(v any) string {
	if id := str(field(v, "id")); id != "" {
		return id
	}
	if m, ok := v.(map[string]any); ok {
		if sys, ok := m["sys"].(entry.Sys); ok {
			return sys.ID
		}
	}
	return ""
}

// assetURL returns the file URL of an asset record. Contentful serves
// protocol-relative URLs.
func assetURL(v any) string {
	var u string
	if s, ok := v.(string); ok {
		u = s
	} else {
		u = str(field(field(v, "file"), "url"))
	}
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	return u
}

func date(v any) string {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return x
		}
		t = parsed
	}
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006")
}

func absURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

func (rd *Renderer) markdown(v any) (template.HTML, error) {
	src := str(v)
	if src == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := rd.md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	// goldmark drops raw HTML unless html.WithUnsafe is set
	return template.HTML(buf.String()), nil
}
