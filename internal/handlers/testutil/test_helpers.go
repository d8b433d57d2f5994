package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/opentreehole/treehole/internal/api"
	"github.com/opentreehole/treehole/internal/app"
	iauth "github.com/opentreehole/treehole/internal/auth"
	sharedtestutil "github.com/opentreehole/treehole/internal/database/testutil"
	"github.com/opentreehole/treehole/internal/notifications"
	"github.com/opentreehole/treehole/internal/realtime"
	"github.com/opentreehole/treehole/internal/services"
	"github.com/opentreehole/treehole/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T          *testing.T
	DB         *gorm.DB
	Router     *gin.Engine
	JWT        *iauth.JWTService
	Hub        *realtime.Hub
	Messages   *services.MessageService
	Tokens     *services.PushTokenService
	Dispatcher *notifications.Dispatcher
}

// NewEnv provisions a fresh handler test environment with migrations applied.
// The dispatcher is started and drained when the test finishes.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "test-suite-super-secret-key-32-bytes!!",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	messages, err := services.NewMessageService(db)
	require.NoError(t, err)
	tokens, err := services.NewPushTokenService(db)
	require.NoError(t, err)

	hub := realtime.NewHub()
	dispatcher, err := notifications.NewDispatcher(messages, tokens, hub, nil, notifications.DispatcherConfig{Workers: 2})
	require.NoError(t, err)
	dispatcher.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Stop(ctx)
	})

	router, err := api.NewRouter(api.Dependencies{
		DB:       db,
		JWT:      jwtSvc,
		Config:   &app.Config{},
		Hub:      hub,
		Notifier: dispatcher,
		Messages: messages,
		Tokens:   tokens,
	})
	require.NoError(t, err)

	return &Env{
		T:          t,
		DB:         db,
		Router:     router,
		JWT:        jwtSvc,
		Hub:        hub,
		Messages:   messages,
		Tokens:     tokens,
		Dispatcher: dispatcher,
	}
}

// Token mints an access token for userID.
func (e *Env) Token(userID string, admin bool) string {
	e.T.Helper()

	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID, IsAdmin: admin})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
