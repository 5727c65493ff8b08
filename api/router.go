// Package api composes the HTTP surface of the dispatch service.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/freight/api/dispatch"
	"github.com/kilianp07/freight/api/drivers"
	"github.com/kilianp07/freight/core/assignment"
	"github.com/kilianp07/freight/core/dispatch/logging"
	"github.com/kilianp07/freight/core/logger"
	"github.com/kilianp07/freight/internal/eventbus"
)

// NewRouter wires the handlers and returns the API handler. When token is
// set, every /api request must carry it as a bearer token.
func NewRouter(svc *assignment.Service, bus eventbus.EventBus, logs logging.LogStore, token string, log logger.Logger) http.Handler {
	log = logger.OrNop(log)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	mux.Handle("/api/dispatch/logs", dispatch.NewLogHandler(logs, token))

	api := http.NewServeMux()
	drivers.NewHandler(svc, bus, log).Register(api)
	mux.Handle("/api/", requireToken(token, api))
	return logRequests(log, mux)
}

func requireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Serve listens on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, h http.Handler, log logger.Logger) error {
	log = logger.OrNop(log)
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("api server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("serving api on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
