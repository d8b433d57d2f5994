package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opentreehole/treehole/internal/models"
	"github.com/opentreehole/treehole/pkg/logger"
)

// DefaultMiPushEndpoint is the regid send API of Xiaomi push.
const DefaultMiPushEndpoint = "https://api.xmpush.xiaomi.com/v3/message/regid"

// MiPushConfig holds Xiaomi push credentials. An empty AppSecret disables the adapter.
type MiPushConfig struct {
	AppSecret   string
	PackageName string
	Endpoint    string
	Timeout     time.Duration
}

type miPushResponse struct {
	Result      string `json:"result"`
	Code        int    `json:"code"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
	Data        struct {
		ID        string `json:"id"`
		BadRegIDs string `json:"bad_regids"`
	} `json:"data"`
}

// MiPushAdapter sends one request per notification covering every registration id.
type MiPushAdapter struct {
	client *http.Client
	cfg    MiPushConfig
	pruner TokenPruner
	log    *zap.Logger
}

var _ Adapter = (*MiPushAdapter)(nil)

// NewMiPushAdapter constructs the adapter.
func NewMiPushAdapter(cfg MiPushConfig, pruner TokenPruner) *MiPushAdapter {
	cfg.AppSecret = strings.TrimSpace(cfg.AppSecret)
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultMiPushEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &MiPushAdapter{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
		pruner: pruner,
		log:    logger.WithModule("push.mipush"),
	}
}

func (m *MiPushAdapter) Service() models.PushService { return models.PushServiceMiPush }

func (m *MiPushAdapter) Enabled() bool { return m.cfg.AppSecret != "" }

// Push posts the notification to every registration id and prunes the ids
// reported in data.bad_regids.
func (m *MiPushAdapter) Push(ctx context.Context, n Notification, tokens []string) error {
	if !m.Enabled() || len(tokens) == 0 {
		return nil
	}

	form := url.Values{}
	form.Set("registration_id", strings.Join(tokens, ","))
	form.Set("title", n.Title)
	form.Set("description", n.Subtitle)
	form.Set("payload", string(n.Message))
	form.Set("restricted_package_name", m.cfg.PackageName)
	form.Set("pass_through", "0")
	form.Set("notify_type", "-1")
	form.Set("extra.notify_foreground", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("mipush: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "key="+m.cfg.AppSecret)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mipush: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("mipush: non-2xx status %d, body: %s", resp.StatusCode, string(body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("mipush: non-2xx status %d, body: %s: %w", resp.StatusCode, string(body), ErrRejected)
	}

	var result miPushResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("mipush: decode response: %w", err)
	}

	pruneCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pruneTimeout)
	defer cancel()
	for _, regID := range strings.Split(result.Data.BadRegIDs, ",") {
		if regID = strings.TrimSpace(regID); regID != "" {
			prune(pruneCtx, m.pruner, m.log, models.PushServiceMiPush, regID)
		}
	}

	if result.Code != 0 {
		return fmt.Errorf("mipush: provider error %d: %s: %w", result.Code, firstNonEmpty(result.Reason, result.Description), ErrRejected)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
