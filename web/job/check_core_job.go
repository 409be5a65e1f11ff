package job

import (
	"context"
	"time"

	"github.com/konstpic/marznode-stats/logger"
	"github.com/konstpic/marznode-stats/web/service"

	"go.uber.org/atomic"
)

// CheckCoreJob probes the core's stats API without resetting anything and
// reports it down after two consecutive failures.
type CheckCoreJob struct {
	source    service.CounterSource
	timeout   time.Duration
	checkTime int
	healthy   atomic.Bool
}

// NewCheckCoreJob creates a new core health check job instance.
func NewCheckCoreJob(source service.CounterSource, timeout time.Duration) *CheckCoreJob {
	j := &CheckCoreJob{source: source, timeout: timeout}
	j.healthy.Store(true)
	return j
}

// Run checks the stats API once.
func (j *CheckCoreJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err := j.source.GetUserCounters(ctx, false)
	if err == nil {
		if !j.healthy.Swap(true) {
			logger.Infof("%s stats API is back", j.source.Name())
		}
		j.checkTime = 0
		return
	}

	j.checkTime++
	// only report it down if it failed 2 times in a row
	if j.checkTime > 1 && j.healthy.Swap(false) {
		logger.Error("core stats API unreachable:", err)
	}
}

// Healthy reports whether the last checks reached the stats API.
func (j *CheckCoreJob) Healthy() bool {
	return j.healthy.Load()
}
