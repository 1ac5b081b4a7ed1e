package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-score-backend/internal/match"
)

type Options struct {
	// Prefix mounts the match routes, e.g. "/api/v1".
	Prefix string
	// WS serves the WebSocket upgrade at /ws.
	WS  http.Handler
	Log *zap.Logger
}

func SetupRoutes(svc *match.Service, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := handlers{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthz)
	if opts.WS != nil {
		r.Handle("/ws", opts.WS)
	}

	routes := func(r chi.Router) {
		r.Post("/matches", h.createMatch)
		r.Route("/matches/{matchID}", func(r chi.Router) {
			r.Get("/", h.getMatch)
			r.Post("/join", h.joinMatch)
			r.Post("/leave", h.leaveMatch)
			r.Post("/end", h.endMatch)
		})
	}
	if opts.Prefix == "" || opts.Prefix == "/" {
		routes(r)
	} else {
		r.Route(opts.Prefix, routes)
	}
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
