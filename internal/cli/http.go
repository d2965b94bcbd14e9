package cli

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/rescache/cache"
	"github.com/IvanBrykalov/rescache/display"
)

type cacheStatus struct {
	Keys  []int       `json:"keys"`
	Stats cache.Stats `json:"stats"`
}

// newRouter exposes metrics, display status and cache state.
func newRouter(n *nodes, servers display.ServerCache, gatherer prometheus.Gatherer, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/displays", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, n.statuses(), log)
	})
	r.Get("/displays/{name}", func(w http.ResponseWriter, req *http.Request) {
		d, ok := n.get(chi.URLParam(req, "name"))
		if !ok {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, http.StatusOK, d.Status(), log)
	})
	r.Get("/cache", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, cacheStatus{Keys: servers.Keys(), Stats: servers.Stats()}, log)
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}
