package checks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/opentreehole/treehole/internal/database"
	"github.com/opentreehole/treehole/internal/database/testutil"
	"github.com/opentreehole/treehole/internal/monitoring"
)

func TestDatabaseCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	result := Database(db, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	require.Equal(t, monitoring.StatusDown, Database(nil, 0).Run(context.Background()).Status)

	require.NoError(t, database.Close(db))
	require.Equal(t, monitoring.StatusDown, Database(db, 0).Run(context.Background()).Status)
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.Equal(t, monitoring.StatusUp, Redis(client, true, 0).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusUp, Redis(nil, false, 0).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDegraded, Redis(nil, true, 0).Run(context.Background()).Status)

	mr.Close()
	result := Redis(client, true, 200*time.Millisecond).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "relay unreachable")
}

type dispatcherState struct {
	accepting        bool
	queued, capacity int
}

func (s dispatcherState) Accepting() bool                 { return s.accepting }
func (s dispatcherState) Backlog() (queued, capacity int) { return s.queued, s.capacity }

func TestDispatcherCheck(t *testing.T) {
	cases := []struct {
		name  string
		state DispatcherObserver
		want  monitoring.ProbeStatus
	}{
		{"missing", nil, monitoring.StatusDown},
		{"stopped", dispatcherState{accepting: false, capacity: 10}, monitoring.StatusDown},
		{"idle", dispatcherState{accepting: true, capacity: 10}, monitoring.StatusUp},
		{"busy", dispatcherState{accepting: true, queued: 5, capacity: 10}, monitoring.StatusUp},
		{"saturated", dispatcherState{accepting: true, queued: 9, capacity: 10}, monitoring.StatusDegraded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Dispatcher(tc.state).Run(context.Background())
			require.Equal(t, tc.want, result.Status)
		})
	}
}
