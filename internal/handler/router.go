package handler

import (
	"net/http"

	"statebridge/internal/config"
	"statebridge/internal/engine"
	"statebridge/internal/middleware"
	"statebridge/internal/websocket"
	"statebridge/pkg/response"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter exposes one engine instance over HTTP.
func NewRouter(cfg *config.Config, eng *engine.Engine, manager *websocket.Manager) *mux.Router {
	configHandler := NewConfigHandler(eng.Configs)
	activityHandler := NewActivityHandler(eng.Activity)
	stateHandler := NewStateHandler(eng.Vault)
	migrationHandler := NewMigrationHandler(eng.Migration)
	wsHandler := NewWebSocketHandler(manager, cfg.JWT.Secret, cfg.WebSocket)

	r := mux.NewRouter()
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.SessionMiddleware())
	api.Use(middleware.OptionalAuthMiddleware(cfg.JWT.Secret))
	api.Use(middleware.LoggerMiddleware())

	api.HandleFunc("/platform", configHandler.Platform).Methods("GET", "OPTIONS")
	api.HandleFunc("/config", configHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/config/load", configHandler.Load).Methods("POST", "OPTIONS")
	api.HandleFunc("/config/save", configHandler.Save).Methods("POST", "OPTIONS")

	api.HandleFunc("/activity", activityHandler.Record).Methods("POST", "OPTIONS")

	api.HandleFunc("/state", stateHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/state", stateHandler.Put).Methods("PUT", "OPTIONS")

	api.HandleFunc("/migration/export", migrationHandler.Export).Methods("POST", "OPTIONS")
	api.HandleFunc("/migration/import", migrationHandler.Import).Methods("POST", "OPTIONS")

	var redeem http.Handler = http.HandlerFunc(migrationHandler.Redeem)
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute)
		redeem = middleware.RateLimitMiddleware(limiter, cfg.RateLimit.TrustedProxies)(redeem)
	}
	api.Handle("/migration/redeem", redeem).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("/migration").Subrouter()
	protected.Use(middleware.RequireAuthMiddleware())
	protected.HandleFunc("/restore", migrationHandler.Restore).Methods("POST", "OPTIONS")
	protected.HandleFunc("/history", migrationHandler.History).Methods("GET", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/health", healthHandler(eng)).Methods("GET")

	return r
}

func healthHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.Success(w, map[string]any{
			"status":   "healthy",
			"service":  "statebridge",
			"platform": eng.Platform.Type,
			"pending":  eng.Activity.Pending(),
		})
	}
}
