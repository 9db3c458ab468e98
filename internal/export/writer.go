// Package export writes a rendered route tree to disk and packs the result
// into a publishable bundle.
package export

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/pathutil"
	"github.com/keithlinneman/portfolio-web/internal/routes"
	"github.com/keithlinneman/portfolio-web/internal/sitedata"
	"github.com/keithlinneman/portfolio-web/internal/webassets"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

const (
	pageFile      = "index.html"
	routeInfoFile = "routeInfo.json"
	notFoundFile  = "404.html"
	sitemapFile   = "sitemap.xml"
	staticDir     = "static"
)

// Renderer produces page bytes for routes.
type Renderer interface {
	Render(abs string, r routes.Route, site *sitedata.SiteData) ([]byte, error)
	RenderNotFound(site *sitedata.SiteData) ([]byte, error)
}

type Options struct {
	OutDir string
	Static fs.FS // default: embedded static assets
	Logger log.Logger
}

type Writer struct {
	out    string
	static fs.FS
	log    log.Logger
}

// Result summarizes one export.
type Result struct {
	Pages int
	Files int
	Bytes int64
}

func NewWriter(opts Options) (*Writer, error) {
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, xerrors.New("export: OutDir is required")
	}
	out, err := filepath.Abs(opts.OutDir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "resolve out dir %s", opts.OutDir)
	}
	if out == filepath.Dir(out) {
		return nil, xerrors.Newf("export: refusing to use filesystem root %s as out dir", out)
	}
	if opts.Static == nil {
		opts.Static = webassets.StaticFS()
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Writer{out: out, static: opts.Static, log: opts.Logger}, nil
}

func (w *Writer) OutDir() string { return w.out }

// Write renders every route into a fresh staging directory next to the out
// dir and swaps it into place once everything has been written. A failed
// export leaves the previous output untouched.
func (w *Writer) Write(ctx context.Context, tree []routes.Route, site *sitedata.SiteData, r Renderer) (Result, error) {
	var res Result

	if err := os.MkdirAll(filepath.Dir(w.out), 0o755); err != nil {
		return res, xerrors.Wrap(err, "create out parent")
	}
	stage, err := os.MkdirTemp(filepath.Dir(w.out), "."+filepath.Base(w.out)+"-*")
	if err != nil {
		return res, xerrors.Wrap(err, "create staging dir")
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(stage)
		}
	}()

	var urls []string
	err = routes.Walk(tree, func(abs string, rt routes.Route) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir, err := pathutil.Under(stage, abs)
		if err != nil {
			return xerrors.Wrapf(err, "route %q", abs)
		}

		html, err := r.Render(abs, rt, site)
		if err != nil {
			return err
		}
		if err := writeFile(&res, filepath.Join(dir, pageFile), html); err != nil {
			return err
		}

		info, err := json.Marshal(routeInfo{Path: abs, Kind: rt.Kind, Data: rt.Data})
		if err != nil {
			return xerrors.Wrapf(err, "encode route info %s", abs)
		}
		if err := writeFile(&res, filepath.Join(dir, routeInfoFile), info); err != nil {
			return err
		}

		res.Pages++
		urls = append(urls, abs)
		return nil
	})
	if err != nil {
		return res, xerrors.Wrap(err, "write routes")
	}

	nf, err := r.RenderNotFound(site)
	if err != nil {
		return res, xerrors.Wrap(err, "render 404")
	}
	if err := writeFile(&res, filepath.Join(stage, notFoundFile), nf); err != nil {
		return res, err
	}

	sm, err := Sitemap(site.Config.SiteURL, urls)
	if err != nil {
		return res, err
	}
	if err := writeFile(&res, filepath.Join(stage, sitemapFile), sm); err != nil {
		return res, err
	}

	if err := copyStatic(&res, w.static, filepath.Join(stage, staticDir)); err != nil {
		return res, err
	}

	if err := os.RemoveAll(w.out); err != nil {
		return res, xerrors.Wrapf(err, "clean out dir %s", w.out)
	}
	if err := os.Rename(stage, w.out); err != nil {
		return res, xerrors.Wrapf(err, "move staging dir to %s", w.out)
	}
	committed = true

	w.log.Info(ctx, "site exported",
		"out_dir", w.out,
		"pages", res.Pages,
		"files", res.Files,
		"bytes", res.Bytes,
	)
	return res, nil
}

type routeInfo struct {
	Path string         `json:"path"`
	Kind routes.Kind    `json:"kind"`
	Data map[string]any `json:"data"`
}

func writeFile(res *Result, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return xerrors.Wrapf(err, "write %s", path)
	}
	res.Files++
	res.Bytes += int64(len(data))
	return nil
}

func copyStatic(res *Result, src fs.FS, dst string) error {
	return fs.WalkDir(src, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := fs.ReadFile(src, p)
		if err != nil {
			return xerrors.Wrapf(err, "read static %s", p)
		}
		return writeFile(res, filepath.Join(dst, filepath.FromSlash(p)), data)
	})
}
