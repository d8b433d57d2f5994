package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/require"

	"github.com/opentreehole/treehole/internal/database/testutil"
	"github.com/opentreehole/treehole/internal/models"
	"github.com/opentreehole/treehole/internal/push"
	"github.com/opentreehole/treehole/internal/realtime"
	"github.com/opentreehole/treehole/internal/services"
)

type fixture struct {
	messages *services.MessageService
	tokens   *services.PushTokenService
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	messages, err := services.NewMessageService(db)
	require.NoError(t, err)
	tokens, err := services.NewPushTokenService(db)
	require.NoError(t, err)
	return fixture{messages: messages, tokens: tokens}
}

type published struct {
	group   string
	payload any
}

type recordingPublisher struct {
	mu    sync.Mutex
	items []published
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, channel realtime.Channel, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, published{group: channel.Group(), payload: payload})
	return p.err
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.items...)
}

type recordingAdapter struct {
	mu      sync.Mutex
	service models.PushService
	enabled bool
	err     error
	pushes  []push.Notification
	tokens  [][]string
}

func (a *recordingAdapter) Service() models.PushService { return a.service }

func (a *recordingAdapter) Enabled() bool { return a.enabled }

func (a *recordingAdapter) Push(_ context.Context, n push.Notification, tokens []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushes = append(a.pushes, n)
	a.tokens = append(a.tokens, tokens)
	return a.err
}

func (a *recordingAdapter) calls() ([]push.Notification, [][]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]push.Notification(nil), a.pushes...), append([][]string(nil), a.tokens...)
}

type failingStore struct{}

func (failingStore) Create(context.Context, services.CreateMessageInput) (*services.MessageDTO, error) {
	return nil, errors.New("disk full")
}

// invalidTokenAPNs reports every token in dead as BadDeviceToken.
type invalidTokenAPNs struct {
	dead map[string]bool
}

func (c invalidTokenAPNs) PushWithContext(_ apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	if c.dead[n.DeviceToken] {
		return &apns2.Response{StatusCode: http.StatusBadRequest, Reason: apns2.ReasonBadDeviceToken}, nil
	}
	return &apns2.Response{StatusCode: http.StatusOK}, nil
}

type recordingConn struct {
	mu     sync.Mutex
	frames []json.RawMessage
}

func (c *recordingConn) Send(payload any) error {
	event, err := realtime.NewEvent(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, event.Data)
	return nil
}

func (c *recordingConn) last(t *testing.T, target any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.frames)
	require.NoError(t, json.Unmarshal(c.frames[len(c.frames)-1], target))
}

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
