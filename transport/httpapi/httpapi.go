// Package httpapi exposes the bridge over HTTP for callers that can only
// reach it through a local web request.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tomyedwab/sqlbridge/sqlbridge/errs"
	"github.com/tomyedwab/sqlbridge/sqlbridge/host"
	"github.com/tomyedwab/sqlbridge/sqlbridge/types"
)

// maxBody bounds a request body.
const maxBody = 4 << 20

// Bridge is the part of *host.Bridge the HTTP layer needs.
type Bridge interface {
	Submit(ctx context.Context, req types.Request) (types.Response, error)
	IsOpen() bool
}

// NewRouter returns the HTTP handler:
//
//	POST /v1/call  request envelope in, response envelope out
//	GET  /healthz  liveness and whether a database is open
func NewRouter(b Bridge, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Post("/v1/call", func(w http.ResponseWriter, r *http.Request) {
		var req types.Request
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, types.Response{
				Status: types.StatusError,
				Kind:   errs.KindMalformedArguments.String(),
				Error:  "failed to decode request: " + err.Error(),
			})
			return
		}
		if req.ID == "" {
			req.ID = middleware.GetReqID(r.Context())
		}

		resp, err := b.Submit(r.Context(), req)
		if err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "open": b.IsOpen()})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Msg("HTTP request")
		})
	}
}

var _ Bridge = (*host.Bridge)(nil)
