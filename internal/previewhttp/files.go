package previewhttp

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/keithlinneman/portfolio-web/internal/pathutil"
)

const notFoundFile = "404.html"

// Files serves the export directory. The directory is re-opened on every
// request so a rebuild that swaps the directory is picked up immediately.
type Files struct {
	dir string
}

func NewFiles(dir string) *Files { return &Files{dir: dir} }

func (f *Files) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	fsys := os.DirFS(f.dir)

	file, redirectTo, found := resolvePath(r.URL.Path, fsys)
	if redirectTo != "" {
		http.Redirect(w, r, redirectTo, http.StatusPermanentRedirect)
		return
	}
	if !found {
		serveNotFound(w, r, fsys)
		return
	}

	// preview output changes on every rebuild
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFileFS(w, r, fsys, file)
}

func serveNotFound(w http.ResponseWriter, r *http.Request, fsys fs.FS) {
	w.Header().Set("Cache-Control", "no-store")

	if existsFile(fsys, notFoundFile) {
		serveFileWithStatus(w, r, http.StatusNotFound, fsys, notFoundFile)
		return
	}

	// no build yet
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 page not found\n"))
}

// resolvePath maps a URL path to a file in fsys. Directories resolve to
// their index.html; a directory path without the trailing slash redirects to
// the canonical form.
func resolvePath(urlPath string, fsys fs.FS) (file string, redirectTo string, ok bool) {
	p := urlPath
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if strings.ContainsAny(p, "\x00\\") || pathutil.HasDotSegments(p) {
		return "", "", false
	}

	trailingSlash := strings.HasSuffix(p, "/")
	clean := path.Clean(p)

	if clean == "/" {
		return found(fsys, "index.html")
	}
	rel := strings.TrimPrefix(clean, "/")

	if trailingSlash {
		return found(fsys, rel+"/index.html")
	}
	if existsFile(fsys, rel) {
		return rel, "", true
	}
	// directories redirect to the slash form, dotted ids like v1.2 included
	if existsFile(fsys, rel+"/index.html") {
		return "", clean + "/", true
	}
	return "", "", false
}

func found(fsys fs.FS, name string) (string, string, bool) {
	if existsFile(fsys, name) {
		return name, "", true
	}
	return "", "", false
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// statusOverrideWriter forces the status of a file served with
// http.ServeFileFS, which would otherwise write 200.
type statusOverrideWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusOverrideWriter) WriteHeader(code int) {
	if w.wroteHeader {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(w.status)
}

func serveFileWithStatus(w http.ResponseWriter, r *http.Request, status int, fsys fs.FS, name string) {
	sw := &statusOverrideWriter{ResponseWriter: w, status: status}
	http.ServeFileFS(sw, r, fsys, name)
}
