package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/avreports/avsync"
	"github.com/hazyhaar/avreports/shield"
)

// service is the part of *avsync.Service the HTTP surface uses.
type service interface {
	SyncIndex(ctx context.Context) (*avsync.IndexResult, error)
	SyncPDFs(ctx context.Context, limit int) (*avsync.PDFResult, error)
	Runs(ctx context.Context, limit int, openOnly bool) ([]*avsync.Run, error)
	Summary(ctx context.Context) (*avsync.Summary, error)
	Latest(ctx context.Context, limit int) ([]*avsync.LatestItem, error)
	Requeue(ctx context.Context, keys []string, allFailed bool) (int, error)
	MetricsHandler() http.Handler
}

// newRouter builds the HTTP surface. Sync triggers run until lifetime ends,
// not until the client hangs up.
func newRouter(lifetime context.Context, svc service, cfg *avsync.Config, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(logger, cfg.API.MaxBodyBytes) {
		r.Use(mw)
	}
	limiter := shield.NewRateLimiter(cfg.API.SyncPerMin, time.Minute)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", svc.MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
			limit, err := queryInt(r, "limit", 0)
			if err != nil {
				writeError(w, r, err)
				return
			}
			runs, err := svc.Runs(r.Context(), limit, queryBool(r, "open"))
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Get("/summary", func(w http.ResponseWriter, r *http.Request) {
			sum, err := svc.Summary(r.Context())
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, sum)
		})

		r.Get("/latest", func(w http.ResponseWriter, r *http.Request) {
			limit, err := queryInt(r, "limit", 0)
			if err != nil {
				writeError(w, r, err)
				return
			}
			items, err := svc.Latest(r.Context(), limit)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, items)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireToken(cfg.API.TokenHash))

			r.With(limiter.Middleware).Post("/sync-index", func(w http.ResponseWriter, r *http.Request) {
				ctx, done := syncContext(lifetime, r)
				defer done()
				res, err := svc.SyncIndex(ctx)
				if err != nil {
					writeError(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, res)
			})

			r.With(limiter.Middleware).Post("/sync-pdfs", func(w http.ResponseWriter, r *http.Request) {
				limit, err := queryInt(r, "limit", 0)
				if err != nil {
					writeError(w, r, err)
					return
				}
				ctx, done := syncContext(lifetime, r)
				defer done()
				res, err := svc.SyncPDFs(ctx, limit)
				if err != nil {
					writeError(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, res)
			})

			r.Post("/requeue", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					EntryKeys []string `json:"entry_keys"`
					AllFailed bool     `json:"all_failed"`
				}
				dec := json.NewDecoder(r.Body)
				dec.DisallowUnknownFields()
				if err := dec.Decode(&req); err != nil {
					var mbe *http.MaxBytesError
					if errors.As(err, &mbe) {
						writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
						return
					}
					writeError(w, r, fmt.Errorf("%w: body: %v", avsync.ErrInvalidInput, err))
					return
				}
				n, err := svc.Requeue(r.Context(), req.EntryKeys, req.AllFailed)
				if err != nil {
					writeError(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
			})
		})
	})
	return r
}

// serve runs the HTTP server until ctx ends, then drains for 10s.
func serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Minute, // a pdf batch answers when it is done
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("avsync: server starting", "addr", addr, "version", version)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("avsync: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("avsync: server stopped")
	return nil
}

// syncContext detaches a sync from the client connection so a started run is
// finished and recorded even if the caller disconnects. Request values such as
// the request id are kept; the context is cancelled when lifetime ends.
func syncContext(lifetime context.Context, r *http.Request) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(lifetime, cancel)
	if lifetime.Err() != nil {
		cancel()
	}
	return ctx, func() {
		stop()
		cancel()
	}
}

// requireToken checks "Authorization: Bearer <token>" against a bcrypt hash.
// An empty hash disables the check.
func requireToken(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="avsync"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to status codes. Unexpected errors are
// logged and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var su *avsync.SourceUnavailableError
	switch {
	case errors.As(err, &su):
		writeJSON(w, http.StatusBadGateway, map[string]string{"run_id": su.RunID, "error": su.Error()})
	case errors.Is(err, avsync.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, avsync.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		writeJSON(w, 499, map[string]string{"error": "request cancelled"})
	default:
		shield.GetLogger(r.Context()).Error("avsync: request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", avsync.ErrInvalidInput, key)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
