package push

import (
	"context"
	"errors"
	"sync"

	"github.com/opentreehole/treehole/internal/models"
)

type recordingPruner struct {
	mu     sync.Mutex
	pruned []string
}

func (p *recordingPruner) DeleteByToken(_ context.Context, service models.PushService, token string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruned = append(p.pruned, string(service)+":"+token)
	return 1, nil
}

func (p *recordingPruner) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pruned...)
}

type staticBadges struct {
	count int
	err   error
}

func (b staticBadges) CountUnread(context.Context, string) (int, error) {
	return b.count, b.err
}

type stubAdapter struct {
	mu      sync.Mutex
	enabled bool
	err     error
	calls   int
}

func (s *stubAdapter) Service() models.PushService { return models.PushServiceAPNs }

func (s *stubAdapter) Enabled() bool { return s.enabled }

func (s *stubAdapter) Push(context.Context, Notification, []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *stubAdapter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var errProvider = errors.New("provider down")
