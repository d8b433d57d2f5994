package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opentreehole/treehole/internal/api"
	"github.com/opentreehole/treehole/internal/app"
	"github.com/opentreehole/treehole/internal/app/maintenance"
	iauth "github.com/opentreehole/treehole/internal/auth"
	"github.com/opentreehole/treehole/internal/database"
	"github.com/opentreehole/treehole/internal/monitoring"
	"github.com/opentreehole/treehole/internal/monitoring/checks"
	"github.com/opentreehole/treehole/internal/notifications"
	"github.com/opentreehole/treehole/internal/push"
	"github.com/opentreehole/treehole/internal/realtime"
	"github.com/opentreehole/treehole/internal/services"
	"github.com/opentreehole/treehole/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Relay      *realtime.RedisRelay
	Hub        *realtime.Hub
	Messages   *services.MessageService
	Tokens     *services.PushTokenService
	Dispatcher *notifications.Dispatcher
	Stats      *maintenance.StatsCollector
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, channel bus, push adapters,
// dispatcher, maintenance jobs and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	if stack.Messages, err = services.NewMessageService(stack.DB); err != nil {
		return nil, fmt.Errorf("initialise message service: %w", err)
	}
	if stack.Tokens, err = services.NewPushTokenService(stack.DB); err != nil {
		return nil, fmt.Errorf("initialise push token service: %w", err)
	}

	stack.Hub = realtime.NewHub()
	var publisher realtime.Publisher = stack.Hub

	if cfg.Realtime.Redis.Enabled {
		redisCfg := cfg.Realtime.RedisClientConfig()
		client, redisErr := realtime.NewRedisClient(ctx, redisCfg)
		if redisErr != nil {
			log.Warn("redis unavailable; realtime delivery limited to this instance", zap.Error(redisErr))
		} else {
			stack.Redis = client
			if stack.Relay, err = realtime.NewRedisRelay(client, stack.Hub, redisCfg.ChannelPrefix); err != nil {
				return nil, fmt.Errorf("initialise realtime relay: %w", err)
			}
			// The subscription outlives the bootstrap context; Close ends it.
			if err := stack.Relay.Start(context.Background()); err != nil {
				return nil, fmt.Errorf("start realtime relay: %w", err)
			}
			publisher = stack.Relay
			log.Info("redis connected", zap.String("addr", redisCfg.Address))
		}
	}

	adapters, err := buildPushAdapters(cfg, stack.Tokens, stack.Messages, log)
	if err != nil {
		return nil, err
	}

	stack.Dispatcher, err = notifications.NewDispatcher(stack.Messages, stack.Tokens, publisher, adapters, cfg.DispatcherSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise dispatcher: %w", err)
	}
	stack.Dispatcher.Start()

	stack.Stats = maintenance.NewStatsCollector(stack.Tokens, stack.Messages,
		maintenance.WithSchedule(cfg.Maintenance.StatsSchedule))
	if err := stack.Stats.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}
	if err := stack.Stats.RunOnce(ctx); err != nil {
		log.Warn("initial stats refresh failed", zap.Error(err))
	}

	var broker redis.UniversalClient
	if stack.Redis != nil {
		broker = stack.Redis
	}
	health := monitoring.NewHealthManager()
	health.RegisterLiveness(checks.Dispatcher(stack.Dispatcher))
	health.RegisterReadiness(checks.Database(stack.DB, 0))
	health.RegisterReadiness(checks.Redis(broker, cfg.Realtime.Redis.Enabled, 0))
	health.RegisterReadiness(checks.Dispatcher(stack.Dispatcher))

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:        stack.DB,
		JWT:       jwtSvc,
		Config:    cfg,
		Hub:       stack.Hub,
		Publisher: publisher,
		Notifier:  stack.Dispatcher,
		Messages:  stack.Messages,
		Tokens:    stack.Tokens,
		Health:    health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// buildPushAdapters returns every provider with credentials, each wrapped in a
// rate limiter and circuit breaker.
func buildPushAdapters(cfg *app.Config, tokens *services.PushTokenService, messages *services.MessageService, log *zap.Logger) ([]push.Adapter, error) {
	apns, err := push.NewAPNsAdapter(cfg.Push.APNsAdapterConfig(), tokens, messages)
	if err != nil {
		return nil, fmt.Errorf("initialise apns adapter: %w", err)
	}
	mipush := push.NewMiPushAdapter(cfg.Push.MiPushAdapterConfig(), tokens)

	var adapters []push.Adapter
	for _, adapter := range []push.Adapter{apns, mipush} {
		service := adapter.Service()
		if !adapter.Enabled() {
			log.Info("push provider disabled", zap.String("service", string(service)))
			continue
		}
		adapters = append(adapters, push.NewGuarded(adapter, cfg.Push.GuardConfig(service)))
		log.Info("push provider enabled", zap.String("service", string(service)))
	}
	return adapters, nil
}

// Shutdown stops background work in dependency order and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	var errs error

	if s.Stats != nil {
		<-s.Stats.Stop().Done()
	}

	if s.Dispatcher != nil {
		errs = multierr.Append(errs, s.Dispatcher.Stop(ctx))
	}

	if s.Relay != nil {
		errs = multierr.Append(errs, s.Relay.Close())
	}

	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}

	if s.DB != nil {
		errs = multierr.Append(errs, database.Close(s.DB))
	}

	if errs != nil {
		log.Warn("shutdown completed with errors", zap.Error(errs))
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
