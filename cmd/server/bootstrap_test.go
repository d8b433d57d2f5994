package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opentreehole/treehole/internal/app"
	"github.com/opentreehole/treehole/internal/notifications"
	"github.com/opentreehole/treehole/internal/services"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()

	cfg := &app.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	cfg.Auth.JWT.Secret = "bootstrap-secret"
	cfg.Maintenance.StatsSchedule = "@every 1h"
	cfg.Monitoring.Prometheus.Enabled = true
	return cfg
}

func TestBootstrapRuntimeInProcess(t *testing.T) {
	cfg := testConfig(t)

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.Nil(t, stack.Relay)
	require.NotNil(t, stack.Router)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, stack.Dispatcher.Notify(context.Background(), notifications.Event{
		RecipientID: "3",
		Text:        "hello",
		Code:        notifications.CodeGeneric,
	}))
	require.Eventually(t, func() bool {
		items, err := stack.Messages.List(context.Background(), services.ListMessagesInput{UserID: "3"})
		return err == nil && len(items) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBootstrapRuntimeWithRedisRelay(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Realtime.Redis.Enabled = true
	cfg.Realtime.Redis.Address = mr.Addr()
	cfg.Realtime.Redis.ChannelPrefix = "test:"

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.NotNil(t, stack.Relay)
	require.NotNil(t, stack.Redis)
}

func TestBootstrapRuntimeFallsBackWhenRedisDown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Realtime.Redis.Enabled = true
	cfg.Realtime.Redis.Address = "127.0.0.1:1"

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.Nil(t, stack.Relay)
	require.Nil(t, stack.Redis)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"degraded"`)
}

func TestBuildPushAdapters(t *testing.T) {
	cfg := testConfig(t)

	adapters, err := buildPushAdapters(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	require.Empty(t, adapters)

	cfg.Push.MiPush.AppSecret = "secret"
	adapters, err = buildPushAdapters(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	require.Equal(t, "mipush", string(adapters[0].Service()))

	cfg.Push.APNs.KeyPath = filepath.Join(t.TempDir(), "missing.pem")
	_, err = buildPushAdapters(cfg, nil, nil, zap.NewNop())
	require.ErrorContains(t, err, "apns")
}

func TestBootstrapRuntimeRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"
	cfg.Database.DSN = ""

	_, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestEnsureSecretsPresent(t *testing.T) {
	require.Error(t, ensureSecretsPresent(nil))
	require.Error(t, ensureSecretsPresent(&app.Config{}))

	cfg := &app.Config{}
	cfg.Auth.JWT.Secret = "  secret  "
	require.NoError(t, ensureSecretsPresent(cfg))
	require.Equal(t, "secret", cfg.Auth.JWT.Secret)
}

func TestLoadApplicationConfig(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing"))
	require.ErrorContains(t, err, "does not exist")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9999\n"), 0o600))

	cfg, err := loadApplicationConfig(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
}
