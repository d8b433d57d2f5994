package push

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opentreehole/treehole/internal/models"
	"github.com/opentreehole/treehole/pkg/logger"
)

const (
	apnsConcurrency     = 8
	apnsAlternativePort = ":2197"
	pruneTimeout        = 5 * time.Second
)

// APNsConfig holds Apple Push Notification service credentials. An empty
// KeyPath disables the adapter. When KeyID and TeamID are set KeyPath is a
// .p8 signing key; otherwise it is a PEM certificate.
type APNsConfig struct {
	KeyPath         string
	KeyID           string
	TeamID          string
	Topic           string
	Production      bool
	AlternativePort bool
}

// APNsClient is the subset of *apns2.Client used by the adapter.
type APNsClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNsAdapter pushes alerts through APNs over a shared HTTP/2 client.
type APNsAdapter struct {
	client APNsClient
	topic  string
	pruner TokenPruner
	badges BadgeCounter
	log    *zap.Logger
}

var _ Adapter = (*APNsAdapter)(nil)

// NewAPNsAdapter loads credentials and builds the client. Missing credentials
// yield a disabled adapter.
func NewAPNsAdapter(cfg APNsConfig, pruner TokenPruner, badges BadgeCounter) (*APNsAdapter, error) {
	adapter := &APNsAdapter{
		topic:  strings.TrimSpace(cfg.Topic),
		pruner: pruner,
		badges: badges,
		log:    logger.WithModule("push.apns"),
	}

	keyPath := strings.TrimSpace(cfg.KeyPath)
	if keyPath == "" {
		return adapter, nil
	}

	var client *apns2.Client
	if cfg.KeyID != "" && cfg.TeamID != "" {
		authKey, err := token.AuthKeyFromFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("apns: load auth key: %w", err)
		}
		client = apns2.NewTokenClient(&token.Token{AuthKey: authKey, KeyID: cfg.KeyID, TeamID: cfg.TeamID})
	} else {
		cert, err := certificate.FromPemFile(keyPath, "")
		if err != nil {
			return nil, fmt.Errorf("apns: load certificate: %w", err)
		}
		client = apns2.NewClient(cert)
	}

	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	if cfg.AlternativePort {
		client.Host += apnsAlternativePort
	}

	adapter.client = client
	return adapter, nil
}

// NewAPNsAdapterWithClient builds an enabled adapter around an existing client.
func NewAPNsAdapterWithClient(client APNsClient, topic string, pruner TokenPruner, badges BadgeCounter) *APNsAdapter {
	return &APNsAdapter{
		client: client,
		topic:  topic,
		pruner: pruner,
		badges: badges,
		log:    logger.WithModule("push.apns"),
	}
}

func (a *APNsAdapter) Service() models.PushService { return models.PushServiceAPNs }

func (a *APNsAdapter) Enabled() bool { return a.client != nil }

// Push sends one alert per token concurrently and prunes tokens APNs rejects
// as invalid. Other per-token failures are combined into the returned error.
func (a *APNsAdapter) Push(ctx context.Context, n Notification, tokens []string) error {
	if !a.Enabled() || len(tokens) == 0 {
		return nil
	}

	body := a.buildPayload(ctx, n)

	var (
		mu     sync.Mutex
		errs   error
		group  errgroup.Group
		pruned []string
	)
	group.SetLimit(apnsConcurrency)

	for _, deviceToken := range tokens {
		deviceToken := deviceToken
		group.Go(func() error {
			resp, err := a.client.PushWithContext(ctx, &apns2.Notification{
				DeviceToken: deviceToken,
				Topic:       a.topic,
				PushType:    apns2.PushTypeAlert,
				Payload:     body,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = multierr.Append(errs, fmt.Errorf("apns: send: %w", err))
			case resp.Sent():
			case isInvalidTokenReason(resp.Reason):
				pruned = append(pruned, deviceToken)
			case resp.StatusCode >= http.StatusInternalServerError:
				errs = multierr.Append(errs, fmt.Errorf("apns: unavailable with %d %s", resp.StatusCode, resp.Reason))
			default:
				errs = multierr.Append(errs, fmt.Errorf("apns: rejected with %d %s: %w", resp.StatusCode, resp.Reason, ErrRejected))
			}
			return nil
		})
	}
	_ = group.Wait()

	if len(pruned) > 0 {
		// The batch may have spent most of the push deadline.
		pruneCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pruneTimeout)
		defer cancel()
		for _, deviceToken := range pruned {
			prune(pruneCtx, a.pruner, a.log, models.PushServiceAPNs, deviceToken)
		}
	}
	return errs
}

func (a *APNsAdapter) buildPayload(ctx context.Context, n Notification) *payload.Payload {
	p := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Subtitle).
		Sound("default").
		ThreadID(n.Code).
		Category(n.Code)

	if a.badges != nil {
		unread, err := a.badges.CountUnread(ctx, n.RecipientID)
		if err != nil {
			a.log.Warn("count unread for badge failed", zap.String("user_id", n.RecipientID), zap.Error(err))
		} else {
			p.Badge(unread)
		}
	}

	for key, value := range decodeCustom(n.Message) {
		p.Custom(key, value)
	}
	return p
}

func isInvalidTokenReason(reason string) bool {
	switch reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return true
	default:
		return false
	}
}
