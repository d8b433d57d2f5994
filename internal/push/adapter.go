// Package push delivers notifications to mobile devices through external
// provider APIs and prunes tokens the providers report as dead.
package push

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/opentreehole/treehole/internal/models"
	"github.com/opentreehole/treehole/pkg/metrics"
)

// ErrRejected marks a provider answer about one request, such as an oversized
// payload or a bad topic. The provider itself is healthy.
var ErrRejected = errors.New("push: rejected by provider")

// Notification is the provider-neutral content of one push.
type Notification struct {
	RecipientID string
	Title       string
	Subtitle    string
	Code        string
	// Message is the encoded wire shape of the persisted message.
	Message json.RawMessage
}

// Adapter sends notifications through one provider.
type Adapter interface {
	Service() models.PushService
	// Enabled reports whether credentials are configured. Disabled adapters
	// never touch the network.
	Enabled() bool
	// Push sends n to every token in a single batched provider call.
	Push(ctx context.Context, n Notification, tokens []string) error
}

// TokenPruner removes tokens a provider reported as permanently invalid.
type TokenPruner interface {
	DeleteByToken(ctx context.Context, service models.PushService, token string) (int64, error)
}

// BadgeCounter supplies the unread count shown on the app icon.
type BadgeCounter interface {
	CountUnread(ctx context.Context, userID string) (int, error)
}

func prune(ctx context.Context, pruner TokenPruner, log *zap.Logger, service models.PushService, token string) {
	if pruner == nil {
		return
	}
	removed, err := pruner.DeleteByToken(ctx, service, token)
	if err != nil {
		log.Warn("prune token failed", zap.String("service", string(service)), zap.Error(err))
		return
	}
	if removed > 0 {
		metrics.PushTokensPruned.WithLabelValues(string(service)).Add(float64(removed))
		log.Info("pruned invalid device token", zap.String("service", string(service)), zap.Int64("rows", removed))
	}
}

// decodeCustom spreads the message wire shape into top-level custom keys.
func decodeCustom(message json.RawMessage) map[string]any {
	if len(message) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(message, &out); err != nil {
		return nil
	}
	return out
}

// isOutage reports whether err contains anything besides per-request
// rejections: transport errors, deadlines or provider 5xx answers.
func isOutage(err error) bool {
	for _, e := range multierr.Errors(err) {
		if !errors.Is(e, ErrRejected) {
			return true
		}
	}
	return false
}
