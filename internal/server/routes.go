package server

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/afroash/baeder-monitor/internal/metrics"
)

// RouterConfig wires the HTTP surface
type RouterConfig struct {
	API            *APIHandler
	Hub            *Hub
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	AllowedOrigins []string
	StaticDir      string
	Logger         zerolog.Logger
}

// NewRouter builds the dashboard's HTTP handler
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.Use(cfg.Metrics.Middleware)

	r.HandleFunc("/health", cfg.API.HandleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pools", cfg.API.HandlePools).Methods(http.MethodGet)
	api.HandleFunc("/readings", cfg.API.HandleReadings).Methods(http.MethodGet)
	api.HandleFunc("/readings/{pool}/{tile}", cfg.API.HandleReading).Methods(http.MethodGet)
	api.HandleFunc("/history/{pool}/{tile}", cfg.API.HandleHistory).Methods(http.MethodGet)
	api.HandleFunc("/stats", cfg.API.HandleStats).Methods(http.MethodGet)

	if cfg.Hub != nil {
		r.Handle("/ws", cfg.Hub)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler).Methods(http.MethodGet)
	}
	if cfg.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir))).Methods(http.MethodGet)
	}

	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
	)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{cfg.Logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
	return handlers.CombinedLoggingHandler(cfg.Logger.With().Str("component", "http").Logger(), h)
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("Recovered from panic in handler")
}
