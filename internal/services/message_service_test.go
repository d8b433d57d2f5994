package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opentreehole/treehole/internal/database/testutil"
	apperrors "github.com/opentreehole/treehole/pkg/errors"
)

func newMessageService(t *testing.T) *MessageService {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewMessageService(db)
	require.NoError(t, err)
	return svc
}

func TestNewMessageServiceRequiresDB(t *testing.T) {
	_, err := NewMessageService(nil)
	require.Error(t, err)
}

func TestMessageServiceCreateAndGet(t *testing.T) {
	svc := newMessageService(t)
	ctx := context.Background()

	dto, err := svc.Create(ctx, CreateMessageInput{
		UserID: "42",
		Text:   "someone mentioned you",
		Code:   "mention",
		Data:   map[string]any{"floor_id": 7},
	})
	require.NoError(t, err)
	require.NotZero(t, dto.ID)
	require.False(t, dto.HasRead)
	require.JSONEq(t, `{"floor_id":7}`, string(dto.Data))

	got, err := svc.Get(ctx, "42", dto.ID)
	require.NoError(t, err)
	require.Equal(t, dto.ID, got.ID)
	require.Equal(t, "mention", got.Code)

	_, err = svc.Get(ctx, "43", dto.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMessageServiceCreateValidates(t *testing.T) {
	svc := newMessageService(t)

	_, err := svc.Create(context.Background(), CreateMessageInput{Text: "x"})
	require.Error(t, err)

	_, err = svc.Create(context.Background(), CreateMessageInput{
		UserID: "1",
		Code:   "a-code-that-is-definitely-longer-than-thirty",
	})
	require.Error(t, err)
}

func TestMessageServiceEmptyDataSerialisesAsObject(t *testing.T) {
	svc := newMessageService(t)

	dto, err := svc.Create(context.Background(), CreateMessageInput{UserID: "1", Text: "hello"})
	require.NoError(t, err)

	encoded, err := json.Marshal(dto)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(encoded, &wire))
	require.Equal(t, map[string]any{}, wire["data"])
	for _, key := range []string{"message_id", "message", "code", "data", "has_read", "time_created"} {
		require.Contains(t, wire, key)
	}
}

func TestMessageServiceReadStateTransitions(t *testing.T) {
	svc := newMessageService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateMessageInput{UserID: "1", Text: "a"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateMessageInput{UserID: "1", Text: "b"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateMessageInput{UserID: "2", Text: "c"})
	require.NoError(t, err)

	read, err := svc.MarkRead(ctx, "1", first.ID)
	require.NoError(t, err)
	require.True(t, read.HasRead)

	count, err := svc.CountUnread(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	unread, err := svc.MarkUnread(ctx, "1", first.ID)
	require.NoError(t, err)
	require.False(t, unread.HasRead)

	_, err = svc.MarkRead(ctx, "2", second.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	changed, err := svc.MarkAllRead(ctx, "1")
	require.NoError(t, err)
	require.EqualValues(t, 2, changed)

	count, err = svc.CountUnread(ctx, "1")
	require.NoError(t, err)
	require.Zero(t, count)

	backlog, err := svc.CountAllUnread(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, backlog)
}

func TestMessageServiceListFilters(t *testing.T) {
	svc := newMessageService(t)
	ctx := context.Background()

	var ids []uint
	for _, text := range []string{"a", "b", "c"} {
		dto, err := svc.Create(ctx, CreateMessageInput{UserID: "9", Text: text})
		require.NoError(t, err)
		ids = append(ids, dto.ID)
	}
	_, err := svc.MarkRead(ctx, "9", ids[1])
	require.NoError(t, err)

	all, err := svc.List(ctx, ListMessagesInput{UserID: "9"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ids[2], all[0].ID)

	unread, err := svc.List(ctx, ListMessagesInput{UserID: "9", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 2)

	page, err := svc.List(ctx, ListMessagesInput{UserID: "9", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, ids[1], page[0].ID)

	replay, err := svc.Unread(ctx, "9")
	require.NoError(t, err)
	require.Len(t, replay, 2)
	require.Equal(t, ids[0], replay[0].ID)
	require.Equal(t, ids[2], replay[1].ID)

	_, err = svc.List(ctx, ListMessagesInput{})
	require.Error(t, err)
}
