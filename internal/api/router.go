package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/yegors/sbs-radar/pkg/logger"
)

// Router wires the handlers to their routes
type Router struct {
	handler *Handler
	origins []string
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(handler *Handler, log *logger.Logger) *Router {
	origins := handler.config.Server.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Router{
		handler: handler,
		origins: origins,
		logger:  log.Named("router"),
	}
}

// Routes returns the HTTP handler serving every endpoint
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	h := rt.handler

	// Websocket upgrade is not compressed
	r.Get("/info", h.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/history", h.GetHistory)
		r.Get("/coverage", h.GetCoverage)
		r.Get("/aircraft", h.GetAllAircraft)
		r.Get("/aircraft/{icao}", h.GetAircraft)
		r.Get("/health", h.GetHealth)
		r.Get("/config", h.GetConfig)
	})

	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
