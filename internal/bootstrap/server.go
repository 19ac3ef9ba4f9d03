package bootstrap

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/api"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/server"
)

// ErrNoAuthSecret is returned when serve mode would expose the triggers
// without any credential configured.
var ErrNoAuthSecret = errors.New("auth.shared_secret or auth.jwt_secret must be set to serve HTTP triggers")

// SetupHTTPServer builds the HTTP server exposing health, metrics and the
// trigger API.
func (a *App) SetupHTTPServer() (*server.Server, error) {
	auth := a.Config.Auth
	if auth.SharedSecret == "" && auth.JWTSecret == "" {
		return nil, ErrNoAuthSecret
	}

	checks := map[string]server.HealthChecker{
		"database": server.PingChecker(a.DB.PingContext),
	}
	if a.Redis != nil {
		checks["redis"] = server.PingChecker(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}

	handler := api.NewHandler(api.Deps{
		Sync:     a.Orchestrator,
		Gate:     a.Gate,
		Detector: a.Detector,
		Filler:   a.Filler,
		People:   a.Enricher,
		Queue:    a.Queue,
		Status:   a.Status,
	})
	metrics := promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry})

	srv := server.New(server.Config{
		Port:           a.Config.Service.Port,
		Debug:          a.Config.Service.Debug,
		ServiceName:    a.Config.Service.Name,
		ServiceVersion: a.Config.Service.Version,
	}, a.Log, checks, func(router *gin.Engine) {
		api.RegisterRoutes(router, handler, api.SharedSecretAuth(auth.SharedSecret, auth.JWTSecret), metrics)
	})
	return srv, nil
}
