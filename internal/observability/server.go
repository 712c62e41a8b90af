package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// OpsHandlers are the sources the ops endpoint reads from. Nil fields
// disable their routes.
type OpsHandlers struct {
	Health   *HealthMonitor
	Stats    func() any
	Sessions func() any
	Metrics  http.Handler

	// StopSession closes one session and reports whether it existed.
	StopSession func(id string) bool
	// StopAll closes every session.
	StopAll func()
}

// NewOpsMux builds the health, stats, sessions, metrics and control routes.
func NewOpsMux(h OpsHandlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if h.Health == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": StatusHealthy})
			return
		}
		sh := h.Health.Check(r.Context())
		code := http.StatusOK
		if sh.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, sh)
	})

	if h.Stats != nil {
		mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, h.Stats())
		})
	}
	if h.Sessions != nil {
		mux.HandleFunc("/sessions", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, h.Sessions())
		})
	}
	if h.Metrics != nil {
		mux.Handle("/metrics", h.Metrics)
	}

	if h.StopSession != nil {
		mux.HandleFunc("/control/stop", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			id := r.URL.Query().Get("id")
			if id == "" {
				http.Error(w, "missing id", http.StatusBadRequest)
				return
			}
			found := h.StopSession(id)
			log.Warn().Str("session", id).Bool("found", found).Msg("http: [CONTROL] stop session")
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "found": found})
		})
	}
	if h.StopAll != nil {
		mux.HandleFunc("/control/stop-all", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			log.Warn().Msg("http: [CONTROL] stop all sessions")
			h.StopAll()
			writeJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
		})
	}

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("http: encode response")
	}
}

// Serve runs an HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("http: ops server started")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
