// Package render turns routes into HTML pages using the embedded layouts.
package render

import (
	"bytes"
	"html/template"
	"io/fs"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/keithlinneman/portfolio-web/internal/routes"
	"github.com/keithlinneman/portfolio-web/internal/sitedata"
	"github.com/keithlinneman/portfolio-web/internal/webassets"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

var pageKinds = []routes.Kind{
	routes.KindHome,
	routes.KindGames,
	routes.KindGame,
	routes.KindPens,
	routes.KindPen,
	routes.KindSearch,
}

const notFoundPage = "404"

type Renderer struct {
	pages map[string]*template.Template
	md    goldmark.Markdown
}

// New parses the embedded templates.
func New() (*Renderer, error) { return NewFromFS(webassets.TemplatesFS()) }

// NewFromFS parses base.html plus one {kind}.html per route kind and 404.html
// from fsys.
func NewFromFS(fsys fs.FS) (*Renderer, error) {
	r := &Renderer{
		pages: make(map[string]*template.Template, len(pageKinds)+1),
		md:    goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}

	base, err := template.New("base").Funcs(r.funcs()).ParseFS(fsys, "base.html")
	if err != nil {
		return nil, xerrors.Wrap(err, "parse base template")
	}

	names := make([]string, 0, len(pageKinds)+1)
	for _, k := range pageKinds {
		names = append(names, string(k))
	}
	names = append(names, notFoundPage)

	for _, name := range names {
		t, err := base.Clone()
		if err != nil {
			return nil, xerrors.Wrapf(err, "clone base for %s", name)
		}
		if _, err := t.ParseFS(fsys, name+".html"); err != nil {
			return nil, xerrors.Wrapf(err, "parse %s template", name)
		}
		r.pages[name] = t
	}
	return r, nil
}

// page is the value every template executes against
type page struct {
	Title   string
	Path    string
	Kind    string
	Avatar  string
	Site    map[string]any
	Socials []sitedata.Social
	Data    map[string]any

	// Codepen is set on the pens listing, which links out to the profile
	Codepen *sitedata.Social
}

// Render renders route r mounted at abs.
func (rd *Renderer) Render(abs string, r routes.Route, site *sitedata.SiteData) ([]byte, error) {
	p := newPage(abs, string(r.Kind), site)
	p.Data = plainData(r.Data)
	p.Title = pageTitle(r, site)

	if r.Kind == routes.KindPens {
		cp, err := site.Config.Social("codepen")
		if err != nil {
			return nil, xerrors.Wrapf(err, "render %s", abs)
		}
		p.Codepen = &cp
	}
	return rd.execute(string(r.Kind), p)
}

// RenderNotFound renders the 404 page.
func (rd *Renderer) RenderNotFound(site *sitedata.SiteData) ([]byte, error) {
	p := newPage("/404", notFoundPage, site)
	p.Title = joinTitle("Not found", site)
	return rd.execute(notFoundPage, p)
}

func (rd *Renderer) execute(name string, p page) ([]byte, error) {
	t, ok := rd.pages[name]
	if !ok {
		return nil, xerrors.Newf("no template for route kind %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", p); err != nil {
		return nil, xerrors.Wrapf(err, "execute %s template for %s", name, p.Path)
	}
	return buf.Bytes(), nil
}

func newPage(abs, kind string, site *sitedata.SiteData) page {
	return page{
		Path:    abs,
		Kind:    kind,
		Avatar:  site.Avatar,
		Site:    site.Map(),
		Socials: site.Config.SocialLinks,
	}
}

func siteTitle(site *sitedata.SiteData) string {
	if site.Config.Title != "" {
		return site.Config.Title
	}
	if name, _ := site.GitHub["name"].(string); name != "" {
		return name
	}
	return site.Config.GitHubUsername
}

func joinTitle(title string, site *sitedata.SiteData) string {
	if title == "" {
		return siteTitle(site)
	}
	return title + " | " + siteTitle(site)
}

func pageTitle(r routes.Route, site *sitedata.SiteData) string {
	switch r.Kind {
	case routes.KindGames:
		return joinTitle("Games", site)
	case routes.KindPens:
		return joinTitle("Pens", site)
	case routes.KindSearch:
		return joinTitle("Search", site)
	case routes.KindGame:
		return joinTitle(str(field(plainData(r.Data)["game"], "title")), site)
	case routes.KindPen:
		return joinTitle(str(field(plainData(r.Data)["pen"], "title")), site)
	default:
		return siteTitle(site)
	}
}

func hasPrefix(s, prefix string) bool { return strings.HasPrefix(s, prefix) }
