package maintenance

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/opentreehole/treehole/internal/models"
	"github.com/opentreehole/treehole/pkg/logger"
	"github.com/opentreehole/treehole/pkg/metrics"
)

const defaultStatsSpec = "@every 1m"

// TokenCounter reports registered devices per push provider.
type TokenCounter interface {
	CountByService(ctx context.Context) (map[models.PushService]int64, error)
}

// BacklogCounter reports the number of unread messages across all users.
type BacklogCounter interface {
	CountAllUnread(ctx context.Context) (int64, error)
}

// StatsCollector periodically refreshes gauges that are expensive to keep
// current on the request path.
type StatsCollector struct {
	tokens   TokenCounter
	backlog  BacklogCounter
	cron     *cron.Cron
	log      *zap.Logger
	schedule string
}

// Option customises the StatsCollector.
type Option func(*StatsCollector)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(collector *StatsCollector) {
		if c != nil {
			collector.cron = c
		}
	}
}

// WithSchedule overrides the cron expression of the refresh job.
func WithSchedule(spec string) Option {
	return func(collector *StatsCollector) {
		if spec != "" {
			collector.schedule = spec
		}
	}
}

// NewStatsCollector constructs a StatsCollector. A nil counter skips its gauge.
func NewStatsCollector(tokens TokenCounter, backlog BacklogCounter, opts ...Option) *StatsCollector {
	collector := &StatsCollector{
		tokens:   tokens,
		backlog:  backlog,
		schedule: defaultStatsSpec,
		log:      logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(collector)
	}

	if collector.cron == nil {
		collector.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return collector
}

// Start registers the refresh job and launches the scheduler.
func (s *StatsCollector) Start() error {
	if s.tokens == nil && s.backlog == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("stats refresh failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule stats refresh: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (s *StatsCollector) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce refreshes every gauge, continuing past individual failures.
func (s *StatsCollector) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if s.tokens != nil {
		counts, err := s.tokens.CountByService(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			for service, total := range counts {
				metrics.RegisteredTokens.WithLabelValues(string(service)).Set(float64(total))
			}
		}
	}

	if s.backlog != nil {
		total, err := s.backlog.CountAllUnread(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			metrics.UnreadBacklog.Set(float64(total))
		}
	}

	return errs
}
