package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Register mounts /-/healthy and /-/ready on r. A nil probe always passes.
func Register(r chi.Router, live, ready Probe) {
	r.Method(http.MethodGet, "/-/healthy", Handler(live, "ok"))
	r.Method(http.MethodGet, "/-/ready", Handler(ready, "ready"))
}

// Handler responds 200 with okBody when p passes, 503 with the reason otherwise.
func Handler(p Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error()+"\n", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody + "\n"))
	}
}
