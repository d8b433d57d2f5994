package checks

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opentreehole/treehole/internal/monitoring"
)

const defaultRedisTimeout = 2 * time.Second

// Redis pings the realtime relay's broker. A disabled relay reports up; a
// missing or unreachable broker reports degraded while local delivery goes on.
func Redis(client redis.UniversalClient, enabled bool, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		switch {
		case !enabled:
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "relay disabled"}
		case client == nil:
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "relay unavailable; delivering locally"}
		}

		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultRedisTimeout))
		defer cancel()

		if err := client.Ping(probeCtx).Err(); err != nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "relay unreachable; delivering locally: " + err.Error(),
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}
