// Package routes turns the fetched content collections into the site's route
// tree. All page data is resolved while the tree is built; rendering never
// reaches back into the content store.
package routes

import (
	"github.com/keithlinneman/portfolio-web/internal/pathutil"
)

type Kind string

const (
	KindHome   Kind = "home"
	KindGames  Kind = "games"
	KindGame   Kind = "game"
	KindPens   Kind = "pens"
	KindPen    Kind = "pen"
	KindSearch Kind = "search"
)

// Route is one page. Path is relative to the parent route; top-level routes
// carry absolute paths.
type Route struct {
	Path     string         `json:"path"`
	Kind     Kind           `json:"kind"`
	Data     map[string]any `json:"data"`
	Children []Route        `json:"children,omitempty"`
}

// Walk calls fn for every route in depth-first order with the route's
// absolute path. A non-nil error from fn stops the walk.
func Walk(tree []Route, fn func(abs string, r Route) error) error {
	return walk("/", tree, fn)
}

func walk(parent string, tree []Route, fn func(string, Route) error) error {
	for _, r := range tree {
		abs := pathutil.JoinRoute(parent, r.Path)
		if err := fn(abs, r); err != nil {
			return err
		}
		if err := walk(abs, r.Children, fn); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of routes in tree, children included.
func Count(tree []Route) int {
	n := 0
	_ = Walk(tree, func(string, Route) error { n++; return nil })
	return n
}
