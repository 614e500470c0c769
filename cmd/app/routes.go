package main

import (
	"net/http"

	"go.uber.org/zap"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/mbhillrn/peerwatch/pkg/api"
	"github.com/mbhillrn/peerwatch/pkg/docs"
	"github.com/mbhillrn/peerwatch/pkg/metrics"
)

func registerRoutes(a *app, cfg config, logger *zap.Logger) {
	public := api.NewPublic(a.poller.Registry(), a.poller.Changes(), a.store, a.resolver, a.hub)
	adminAPI := api.NewAdmin(a.store, a.resolver, cfg.AdminKey, logger)
	wsAPI := api.NewWS(a.hub, logger)

	// Core control endpoints
	http.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	// Swagger
	http.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/swagger.json"),
		httpSwagger.InstanceName("swagger"),
	))
	http.HandleFunc("/swagger/swagger.json", docs.JSONHandler)

	// Public routes
	http.HandleFunc("/api/peers", public.Peers)
	http.HandleFunc("/api/stats", public.Stats)
	http.HandleFunc("/api/changes", public.ChangeFeed)

	// Admin routes
	http.HandleFunc("/admin/lookup", adminAPI.ForceLookup)
	http.HandleFunc("/admin/cache", adminAPI.CacheRecord)

	// WebSocket
	http.HandleFunc("/ws", wsAPI.ServeWS)

	// Metrics
	metrics.Init()
	http.Handle("/metrics", metrics.Handler())
}
