package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

// templates/ holds the page layouts, static/ is copied verbatim into the
// output directory under /static.
//
//go:embed templates static
var embedded embed.FS

func TemplatesFS() fs.FS { return sub("templates") }

func StaticFS() fs.FS { return sub("static") }

func sub(dir string) fs.FS {
	s, err := fs.Sub(embedded, dir)
	if err != nil {
		panic(fmt.Errorf("webassets: %s subfs: %w", dir, err))
	}
	return s
}
