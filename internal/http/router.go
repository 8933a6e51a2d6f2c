package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the health and metrics endpoints unguarded and the /api endpoints
// behind mw, which may be nil.
func NewRouter(svc *Service, mw func(http.Handler) http.Handler) http.Handler {
	if mw == nil {
		mw = func(h http.Handler) http.Handler { return h }
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", svc.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/patch", mw(http.HandlerFunc(svc.handlePatchStatus)))
	mux.Handle("/api/patch/tables", mw(http.HandlerFunc(svc.handlePatchTables)))
	return mux
}
