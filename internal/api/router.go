package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kdimtricp/deepcheck/internal/metrics"
	"go.uber.org/zap"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(app.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)
	r.Get("/healthz", app.HealthHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/analyses", func(r chi.Router) {
		r.Post("/", app.UploadHandler)
		r.Get("/", app.HistoryHandler)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.StatusHandler)
			r.Delete("/", app.ResetHandler)
			r.Get("/events", app.EventsHandler)
			r.Get("/ws", app.WebSocketHandler)
		})
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
