package maintenance

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	dbtestutil "github.com/opentreehole/treehole/internal/database/testutil"
	"github.com/opentreehole/treehole/internal/models"
	"github.com/opentreehole/treehole/internal/services"
	"github.com/opentreehole/treehole/pkg/metrics"
)

func TestStatsCollectorRunOnce(t *testing.T) {
	db := dbtestutil.MustOpenTestDB(t, dbtestutil.WithAutoMigrate())
	ctx := context.Background()

	messages, err := services.NewMessageService(db)
	require.NoError(t, err)
	tokens, err := services.NewPushTokenService(db)
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err := messages.Create(ctx, services.CreateMessageInput{UserID: "1", Text: text, Code: "mention"})
		require.NoError(t, err)
	}
	read, err := messages.Create(ctx, services.CreateMessageInput{UserID: "2", Text: "read", Code: "mention"})
	require.NoError(t, err)
	_, err = messages.MarkRead(ctx, "2", read.ID)
	require.NoError(t, err)

	_, err = tokens.Upsert(ctx, services.UpsertPushTokenInput{UserID: "1", Service: "apns", DeviceID: "iphone", Token: "a"})
	require.NoError(t, err)
	_, err = tokens.Upsert(ctx, services.UpsertPushTokenInput{UserID: "2", Service: "apns", DeviceID: "ipad", Token: "b"})
	require.NoError(t, err)

	collector := NewStatsCollector(tokens, messages)
	require.NoError(t, collector.RunOnce(ctx))

	require.Equal(t, 3.0, testutil.ToFloat64(metrics.UnreadBacklog))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.RegisteredTokens.WithLabelValues(string(models.PushServiceAPNs))))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.RegisteredTokens.WithLabelValues(string(models.PushServiceMiPush))))
}

type failingCounter struct{}

func (failingCounter) CountByService(context.Context) (map[models.PushService]int64, error) {
	return nil, errors.New("tokens unavailable")
}

func (failingCounter) CountAllUnread(context.Context) (int64, error) {
	return 0, errors.New("messages unavailable")
}

func TestStatsCollectorAggregatesErrors(t *testing.T) {
	collector := NewStatsCollector(failingCounter{}, failingCounter{})

	err := collector.RunOnce(context.Background())
	require.ErrorContains(t, err, "tokens unavailable")
	require.ErrorContains(t, err, "messages unavailable")
}

func TestStatsCollectorStartRegistersJob(t *testing.T) {
	c := cron.New(cron.WithLogger(cron.DiscardLogger))
	collector := NewStatsCollector(failingCounter{}, nil, WithCron(c), WithSchedule("@every 1h"))

	require.NoError(t, collector.Start())
	require.Len(t, c.Entries(), 1)
	<-collector.Stop().Done()
}

func TestStatsCollectorRejectsBadSchedule(t *testing.T) {
	collector := NewStatsCollector(failingCounter{}, nil, WithSchedule("not a schedule"))
	require.Error(t, collector.Start())
}

func TestStatsCollectorWithoutCountersIsNoop(t *testing.T) {
	c := cron.New(cron.WithLogger(cron.DiscardLogger))
	collector := NewStatsCollector(nil, nil, WithCron(c))

	require.NoError(t, collector.Start())
	require.Empty(t, c.Entries())
	require.NoError(t, collector.RunOnce(context.Background()))
}
