package checks

import (
	"context"
	"fmt"

	"github.com/opentreehole/treehole/internal/monitoring"
)

// backlogThreshold is the queue fill ratio above which the dispatcher is degraded.
const backlogThreshold = 0.9

// DispatcherObserver exposes the dispatcher state the probe reads.
type DispatcherObserver interface {
	Accepting() bool
	Backlog() (queued, capacity int)
}

// Dispatcher reports down once the dispatcher refuses events and degraded
// while its queue is nearly full.
func Dispatcher(observer DispatcherObserver) monitoring.Check {
	return monitoring.NewCheck("dispatcher", func(context.Context) monitoring.ProbeResult {
		if observer == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "dispatcher not configured"}
		}
		if !observer.Accepting() {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "dispatcher not accepting events"}
		}

		queued, capacity := observer.Backlog()
		details := fmt.Sprintf("%d/%d queued", queued, capacity)
		if capacity > 0 && float64(queued) >= backlogThreshold*float64(capacity) {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: details}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: details}
	})
}
