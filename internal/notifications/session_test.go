package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/opentreehole/treehole/internal/realtime"
	"github.com/opentreehole/treehole/internal/services"
)

func seedMessages(t *testing.T, fx fixture, userID string, texts ...string) []services.MessageDTO {
	t.Helper()
	var out []services.MessageDTO
	for _, text := range texts {
		dto, err := fx.messages.Create(context.Background(), services.CreateMessageInput{
			UserID: userID,
			Text:   text,
			Code:   string(CodeFavorite),
			Data:   map[string]any{"hole_id": 12},
		})
		require.NoError(t, err)
		out = append(out, *dto)
	}
	return out
}

func handle(t *testing.T, session *Session, conn *recordingConn, frame string) {
	t.Helper()
	require.NoError(t, session.Handle(context.Background(), conn, []byte(frame)))
}

func TestSessionChannelIsUserGroup(t *testing.T) {
	require.Equal(t, "user-5", NewSession("5", nil).Channel().Group())
}

func TestSessionOpenGreetsAndReplaysUnread(t *testing.T) {
	fx := newFixture(t)
	seeded := seedMessages(t, fx, "1", "a", "b")
	_, err := fx.messages.MarkRead(context.Background(), "1", seeded[0].ID)
	require.NoError(t, err)

	conn := &recordingConn{}
	require.NoError(t, NewSession("1", fx.messages).Open(context.Background(), conn))
	require.Equal(t, 2, conn.count())

	var greeting Reply
	require.NoError(t, json.Unmarshal(conn.frames[0], &greeting))
	require.Equal(t, ReplyUnreadMessages, greeting.Message)

	var replayed services.MessageDTO
	conn.last(t, &replayed)
	require.Equal(t, seeded[1].ID, replayed.ID)
}

func TestSessionGetByIDRoundTrips(t *testing.T) {
	fx := newFixture(t)
	seeded := seedMessages(t, fx, "1", "a")
	session := NewSession("1", fx.messages)
	conn := &recordingConn{}

	handle(t, session, conn, fmt.Sprintf(`{"action":"get","id":%d}`, seeded[0].ID))

	var got services.MessageDTO
	conn.last(t, &got)
	require.Equal(t, seeded[0].ID, got.ID)
	require.Equal(t, "favorite", got.Code)
	require.JSONEq(t, `{"hole_id":12}`, string(got.Data))
	require.False(t, got.HasRead)
}

func TestSessionGetForeignMessageIsNotFound(t *testing.T) {
	fx := newFixture(t)
	seeded := seedMessages(t, fx, "other", "secret")
	conn := &recordingConn{}

	handle(t, NewSession("1", fx.messages), conn, fmt.Sprintf(`{"action":"get","id":%d}`, seeded[0].ID))

	var reply Reply
	conn.last(t, &reply)
	require.Equal(t, ReplyNotFound, reply.Message)
}

func TestSessionGetListsUnreadOrAll(t *testing.T) {
	fx := newFixture(t)
	seeded := seedMessages(t, fx, "1", "a", "b", "c")
	_, err := fx.messages.MarkRead(context.Background(), "1", seeded[0].ID)
	require.NoError(t, err)

	session := NewSession("1", fx.messages)
	conn := &recordingConn{}

	handle(t, session, conn, `{"action":"get"}`)
	var unread []services.MessageDTO
	conn.last(t, &unread)
	require.Len(t, unread, 2)

	handle(t, session, conn, `{"action":"get","unread":false}`)
	var all []services.MessageDTO
	conn.last(t, &all)
	require.Len(t, all, 3)
}

func TestSessionReadUnreadAndClear(t *testing.T) {
	fx := newFixture(t)
	seeded := seedMessages(t, fx, "1", "a", "b")
	other := seedMessages(t, fx, "2", "c")
	session := NewSession("1", fx.messages)
	conn := &recordingConn{}

	handle(t, session, conn, fmt.Sprintf(`{"action":"read","id":%d}`, seeded[0].ID))
	var read services.MessageDTO
	conn.last(t, &read)
	require.True(t, read.HasRead)

	handle(t, session, conn, fmt.Sprintf(`{"action":"unread","id":%d}`, seeded[0].ID))
	var unread services.MessageDTO
	conn.last(t, &unread)
	require.False(t, unread.HasRead)

	handle(t, session, conn, `{"action":"clear"}`)
	var reply Reply
	conn.last(t, &reply)
	require.Equal(t, ReplyCleared, reply.Message)

	count, err := fx.messages.CountUnread(context.Background(), "1")
	require.NoError(t, err)
	require.Zero(t, count)

	untouched, err := fx.messages.Get(context.Background(), "2", other[0].ID)
	require.NoError(t, err)
	require.False(t, untouched.HasRead)
}

func TestSessionRejectsInvalidActions(t *testing.T) {
	fx := newFixture(t)
	session := NewSession("1", fx.messages)

	for _, frame := range []string{
		`{"action":"read"}`,
		`{"action":"unread"}`,
		`{"action":"delete","id":1}`,
		`{}`,
		`not json`,
	} {
		conn := &recordingConn{}
		handle(t, session, conn, frame)

		var reply Reply
		conn.last(t, &reply)
		require.Equal(t, ReplyInvalidAction, reply.Message, frame)
	}
}

func TestFlowSession(t *testing.T) {
	session := NewFlowSession("not-a-uuid")
	require.NotEqual(t, "not-a-uuid", session.CorrelationID())

	fixed := NewFlowSession("6f1c2a4e-6a53-4f0a-9a39-5a0f0f6c9b11")
	require.Equal(t, "flow-6f1c2a4e-6a53-4f0a-9a39-5a0f0f6c9b11", fixed.Channel().Group())

	conn := &recordingConn{}
	require.NoError(t, fixed.Open(context.Background(), conn))
	var hello FlowHello
	conn.last(t, &hello)
	require.Equal(t, fixed.CorrelationID(), hello.CorrelationID)

	require.NoError(t, fixed.Handle(context.Background(), conn, []byte(`{"action":"get"}`)))
	var reply Reply
	conn.last(t, &reply)
	require.Equal(t, ReplyAuthRequired, reply.Message)
}

func TestSocketCatchUpThenLiveDelivery(t *testing.T) {
	fx := newFixture(t)
	hub := realtime.NewHub()
	d, err := NewDispatcher(fx.messages, fx.tokens, hub, nil, DispatcherConfig{})
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), "u", "while offline", CodeGeneric, nil))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, NewSession("u", fx.messages))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func(target any) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(target))
	}

	var greeting Reply
	read(&greeting)
	require.Equal(t, ReplyUnreadMessages, greeting.Message)

	var replayed services.MessageDTO
	read(&replayed)
	require.Equal(t, "while offline", replayed.Message)

	require.Eventually(t, func() bool {
		return hub.Subscribers(realtime.UserChannel("u")) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, d.Dispatch(context.Background(), "u", "live", CodeGeneric, nil))
	var live services.MessageDTO
	read(&live)
	require.Equal(t, "live", live.Message)

	require.NoError(t, conn.WriteJSON(Request{Action: "clear"}))
	var cleared Reply
	read(&cleared)
	require.Equal(t, ReplyCleared, cleared.Message)
}
