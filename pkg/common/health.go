package common

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthServer exposes readiness and introspection endpoints for a service.
// Readiness flips on the provided atomic so the serving goroutine never
// blocks startup; introspection reports the live counter snapshot supplied
// by the owning service.
type HealthServer struct {
	server *http.Server
	ready  *atomic.Bool
}

// NewHealthServer builds and starts an HTTP server on addr with two routes:
// /v1/health returns 200 once ready is true (503 before), and
// /v1/introspection returns the JSON-encoded value produced by stats.
// A nil stats func disables the introspection route.
func NewHealthServer(addr string, ready *atomic.Bool, stats func() any) *HealthServer {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if stats != nil {
		mux.HandleFunc("/v1/introspection", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(stats()); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		})
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	hs := &HealthServer{server: srv, ready: ready}
	go func() {
		// ErrServerClosed is the normal shutdown signal; anything else is
		// surfaced by Shutdown callers via the health checks going dark.
		_ = srv.ListenAndServe()
	}()

	return hs
}

// Shutdown stops the health server, waiting for in-flight requests.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	hs.ready.Store(false)
	return hs.server.Shutdown(ctx)
}
