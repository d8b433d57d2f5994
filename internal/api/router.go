package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/opentreehole/treehole/internal/app"
	iauth "github.com/opentreehole/treehole/internal/auth"
	"github.com/opentreehole/treehole/internal/middleware"
	"github.com/opentreehole/treehole/internal/monitoring"
	"github.com/opentreehole/treehole/internal/monitoring/checks"
	"github.com/opentreehole/treehole/internal/notifications"
	"github.com/opentreehole/treehole/internal/realtime"
	"github.com/opentreehole/treehole/internal/services"
)

// Dependencies bundles the long-lived services the HTTP surface is built on.
type Dependencies struct {
	DB     *gorm.DB
	JWT    *iauth.JWTService
	Config *app.Config

	Hub *realtime.Hub
	// Publisher reaches sockets on every instance. Defaults to Hub.
	Publisher realtime.Publisher
	Notifier  notifications.BatchNotifier

	Messages *services.MessageService
	Tokens   *services.PushTokenService

	// Health defaults to a database readiness probe.
	Health *monitoring.HealthManager
}

func (d *Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return errors.New("database handle must be provided")
	case d.JWT == nil:
		return errors.New("jwt service must be provided")
	case d.Config == nil:
		return errors.New("config must be provided")
	case d.Hub == nil:
		return errors.New("realtime hub must be provided")
	case d.Notifier == nil:
		return errors.New("notifier must be provided")
	case d.Messages == nil:
		return errors.New("message service must be provided")
	case d.Tokens == nil:
		return errors.New("push token service must be provided")
	}
	if d.Publisher == nil {
		d.Publisher = d.Hub
	}
	if d.Health == nil {
		d.Health = monitoring.NewHealthManager()
		d.Health.RegisterReadiness(checks.Database(d.DB, 0))
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
		Burst:             cfg.Server.RateLimit.Burst,
	}))

	registerHealthRoutes(r, deps.Health)

	if err := registerRealtimeRoutes(r, deps); err != nil {
		return nil, err
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	if err := registerMessageRoutes(api, deps.Messages); err != nil {
		return nil, err
	}
	if err := registerPushTokenRoutes(api, deps.Tokens); err != nil {
		return nil, err
	}
	if err := registerNotificationRoutes(api, deps.Notifier); err != nil {
		return nil, err
	}
	if err := registerFlowRoutes(api, deps.Publisher); err != nil {
		return nil, err
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
