package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/opentreehole/treehole/internal/handlers/testutil"
	"github.com/opentreehole/treehole/internal/notifications"
	"github.com/opentreehole/treehole/internal/services"
)

func dialSocket(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, target any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(target))
}

func TestRealtimeAuthenticatedSocketReceivesNotifications(t *testing.T) {
	env := testutil.NewEnv(t)
	srv := httptest.NewServer(env.Router)
	defer srv.Close()

	seedMessages(t, env, "7", "pending")

	conn := dialSocket(t, srv, "?token="+env.Token("7", false))

	var greeting notifications.Reply
	readFrame(t, conn, &greeting)
	require.Equal(t, notifications.ReplyUnreadMessages, greeting.Message)

	var replayed services.MessageDTO
	readFrame(t, conn, &replayed)
	require.Equal(t, "pending", replayed.Message)

	w := env.Request(http.MethodPost, "/api/notifications", map[string]any{
		"recipient_ids": []string{"7"},
		"message":       "live",
		"code":          "mention",
	}, env.Token("1", true))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var live services.MessageDTO
	readFrame(t, conn, &live)
	require.Equal(t, "live", live.Message)
	require.Equal(t, "mention", live.Code)
	require.False(t, live.HasRead)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "read", "id": live.ID}))
	var marked services.MessageDTO
	readFrame(t, conn, &marked)
	require.Equal(t, live.ID, marked.ID)
	require.True(t, marked.HasRead)
}

func TestRealtimeRejectsInvalidToken(t *testing.T) {
	env := testutil.NewEnv(t)
	srv := httptest.NewServer(env.Router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRealtimeAnonymousFlowReceivesStatus(t *testing.T) {
	env := testutil.NewEnv(t)
	srv := httptest.NewServer(env.Router)
	defer srv.Close()

	flowID := uuid.NewString()
	conn := dialSocket(t, srv, "?uuid="+flowID)

	var hello notifications.FlowHello
	readFrame(t, conn, &hello)
	require.Equal(t, flowID, hello.CorrelationID)

	w := env.Request(http.MethodPost, "/api/flows/"+flowID+"/status", map[string]any{
		"status": "verified",
		"step":   2,
	}, env.Token("1", true))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var status map[string]any
	readFrame(t, conn, &status)
	require.Equal(t, "verified", status["status"])
	require.EqualValues(t, 2, status["step"])

	// Anonymous sockets may only listen.
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "get"}))
	var reply notifications.Reply
	readFrame(t, conn, &reply)
	require.Equal(t, notifications.ReplyAuthRequired, reply.Message)
}

func TestRealtimeAnonymousFlowGeneratesCorrelationID(t *testing.T) {
	env := testutil.NewEnv(t)
	srv := httptest.NewServer(env.Router)
	defer srv.Close()

	conn := dialSocket(t, srv, "?uuid=not-a-uuid")

	var hello notifications.FlowHello
	readFrame(t, conn, &hello)
	_, err := uuid.Parse(hello.CorrelationID)
	require.NoError(t, err)
}

func TestFlowHandlerValidation(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.Token("1", true)

	w := env.Request(http.MethodPost, "/api/flows/not-a-uuid/status", map[string]any{"status": "x"}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodPost, "/api/flows/"+uuid.NewString()+"/status", []int{1, 2}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodPost, "/api/flows/"+uuid.NewString()+"/status", map[string]any{"status": "x"}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.Request(http.MethodPost, "/api/flows/"+uuid.NewString()+"/status", map[string]any{"status": "x"}, env.Token("2", false))
	require.Equal(t, http.StatusForbidden, w.Code)

	// Publishing to a flow nobody listens to still succeeds.
	w = env.Request(http.MethodPost, "/api/flows/"+uuid.NewString()+"/status", map[string]any{"status": "x"}, token)
	require.Equal(t, http.StatusAccepted, w.Code)
}
