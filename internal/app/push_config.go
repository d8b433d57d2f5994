package app

import (
	"strings"

	"github.com/opentreehole/treehole/internal/models"
	"github.com/opentreehole/treehole/internal/notifications"
	"github.com/opentreehole/treehole/internal/push"
)

// APNsAdapterConfig converts the APNs section into adapter settings.
func (c PushConfig) APNsAdapterConfig() push.APNsConfig {
	return push.APNsConfig{
		KeyPath:         strings.TrimSpace(c.APNs.KeyPath),
		KeyID:           strings.TrimSpace(c.APNs.KeyID),
		TeamID:          strings.TrimSpace(c.APNs.TeamID),
		Topic:           strings.TrimSpace(c.APNs.Topic),
		Production:      c.APNs.Production,
		AlternativePort: c.APNs.AlternativePort,
	}
}

// MiPushAdapterConfig converts the MiPush section into adapter settings.
func (c PushConfig) MiPushAdapterConfig() push.MiPushConfig {
	return push.MiPushConfig{
		AppSecret:   strings.TrimSpace(c.MiPush.AppSecret),
		PackageName: strings.TrimSpace(c.MiPush.PackageName),
		Endpoint:    strings.TrimSpace(c.MiPush.Endpoint),
		Timeout:     c.Timeout,
	}
}

// GuardConfig returns the rate limit and breaker settings for one provider.
func (c PushConfig) GuardConfig(service models.PushService) push.GuardConfig {
	return push.GuardConfig{
		RatePerSecond: c.RatePerSec,
		Burst:         c.Burst,
		Breaker: push.BreakerConfig{
			Name:            string(service),
			MaxFailures:     c.Breaker.MaxFailures,
			RecoveryTimeout: c.Breaker.RecoveryTimeout,
		},
	}
}

// DispatcherSettings merges the dispatcher and push sections into dispatcher settings.
func (c Config) DispatcherSettings() notifications.DispatcherConfig {
	return notifications.DispatcherConfig{
		Workers:     c.Dispatcher.Workers,
		QueueSize:   c.Dispatcher.QueueSize,
		PushTimeout: c.Push.Timeout,
	}
}
