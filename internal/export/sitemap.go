package export

import (
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

type urlset struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

// Sitemap renders a sitemap.xml listing each path under siteURL.
func Sitemap(siteURL string, paths []string) ([]byte, error) {
	base, err := url.Parse(siteURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, xerrors.Newf("sitemap: siteUrl %q is not absolute", siteURL)
	}
	prefix := strings.TrimRight(base.String(), "/")

	set := urlset{XMLNS: sitemapNS, URLs: make([]sitemapURL, 0, len(paths))}
	for _, p := range paths {
		set.URLs = append(set.URLs, sitemapURL{Loc: prefix + (&url.URL{Path: p}).EscapedPath()})
	}

	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, xerrors.Wrap(err, "encode sitemap")
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}
