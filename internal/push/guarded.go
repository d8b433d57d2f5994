package push

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/opentreehole/treehole/internal/models"
	"github.com/opentreehole/treehole/pkg/logger"
	"github.com/opentreehole/treehole/pkg/metrics"
)

// ErrRateLimited is returned when the send budget cannot be met before the
// push deadline.
var ErrRateLimited = errors.New("push: rate limit exceeded")

// GuardConfig configures the protection applied to an adapter.
type GuardConfig struct {
	// RatePerSecond of zero disables rate limiting.
	RatePerSecond float64
	Burst         int
	Breaker       BreakerConfig
}

// Guarded decorates an Adapter with a circuit breaker and a token-bucket rate
// limiter, and records request metrics. Pushes wait for the limiter until
// their deadline. Only outages feed the breaker; answers wrapping ErrRejected
// concern a single request and leave it closed.
type Guarded struct {
	adapter Adapter
	breaker *CircuitBreaker
	limiter *rate.Limiter
	log     *zap.Logger
}

var _ Adapter = (*Guarded)(nil)

// NewGuarded wraps adapter.
func NewGuarded(adapter Adapter, cfg GuardConfig) *Guarded {
	service := string(adapter.Service())
	log := logger.WithModule("push").With(zap.String("service", service))

	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg.Name = service
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Guarded{
		adapter: adapter,
		breaker: NewCircuitBreaker(breakerCfg, log),
		limiter: limiter,
		log:     log,
	}
}

func (g *Guarded) Service() models.PushService { return g.adapter.Service() }

func (g *Guarded) Enabled() bool { return g.adapter.Enabled() }

// Breaker exposes the circuit breaker state.
func (g *Guarded) Breaker() *CircuitBreaker { return g.breaker }

// Push forwards to the wrapped adapter when both guards admit the request.
func (g *Guarded) Push(ctx context.Context, n Notification, tokens []string) error {
	if len(tokens) == 0 || !g.adapter.Enabled() {
		return nil
	}
	service := string(g.adapter.Service())

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			metrics.PushRequests.WithLabelValues(service, "rejected").Inc()
			return fmt.Errorf("%w: %s: %w", ErrRateLimited, service, err)
		}
	}
	if !g.breaker.Allow() {
		metrics.PushRequests.WithLabelValues(service, "rejected").Inc()
		return fmt.Errorf("%w: %s", ErrCircuitOpen, service)
	}

	err := g.adapter.Push(ctx, n, tokens)
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
		metrics.PushRequests.WithLabelValues(service, "success").Inc()
	case isOutage(err):
		g.breaker.RecordFailure()
		metrics.PushRequests.WithLabelValues(service, "failure").Inc()
	default:
		g.breaker.RecordSuccess()
		metrics.PushRequests.WithLabelValues(service, "provider_rejected").Inc()
	}
	return err
}
