package job

import (
	"context"
	"strconv"
	"time"

	"github.com/konstpic/marznode-stats/logger"
	"github.com/konstpic/marznode-stats/store"
	"github.com/konstpic/marznode-stats/web/service"

	"go.uber.org/atomic"
)

// CollectTrafficJob reads and resets the core's per-user counters and adds
// the deltas to the attribution store. It is the only caller that resets the
// core's counters, so every byte is counted once.
type CollectTrafficJob struct {
	source         service.CounterSource
	store          *store.Store
	devices        *store.DeviceRegistry
	trafficService *service.UserTrafficService
	timeout        time.Duration

	runs     atomic.Int64
	failures atomic.Int64
	lastRun  atomic.Time
}

// NewCollectTrafficJob creates a new collector. devices may be nil to skip
// per-device accounting and trafficService may be nil to skip keeping
// all-time totals.
func NewCollectTrafficJob(source service.CounterSource, st *store.Store, devices *store.DeviceRegistry, trafficService *service.UserTrafficService, timeout time.Duration) *CollectTrafficJob {
	return &CollectTrafficJob{
		source:         source,
		store:          st,
		devices:        devices,
		trafficService: trafficService,
		timeout:        timeout,
	}
}

// Run collects one interval. When the core cannot be reached the interval is
// skipped and the store is left as it was.
func (j *CollectTrafficJob) Run() {
	j.runs.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	counters, err := j.source.GetUserCounters(ctx, true)
	if err != nil {
		j.failures.Inc()
		logger.Warning("collect traffic:", err)
		return
	}
	j.lastRun.Store(time.Now())

	j.store.ApplyCounterDeltas(counters)

	if j.devices != nil {
		for _, c := range counters {
			j.devices.AddUsage(strconv.FormatInt(c.UserID, 10), c.Uplink, c.Downlink)
		}
	}

	if j.trafficService != nil {
		if err := j.trafficService.AddTraffic(counters, j.store); err != nil {
			logger.Warning("save user traffic failed:", err)
		}
	}
	if len(counters) > 0 {
		logger.Debugf("collected traffic of %d users from %s", len(counters), j.source.Name())
	}
}

// CollectStats reports the collector's history.
type CollectStats struct {
	Runs     int64     `json:"runs"`
	Failures int64     `json:"failures"`
	LastRun  time.Time `json:"lastRun"`
}

// Stats returns the collector's counters.
func (j *CollectTrafficJob) Stats() CollectStats {
	return CollectStats{
		Runs:     j.runs.Load(),
		Failures: j.failures.Load(),
		LastRun:  j.lastRun.Load(),
	}
}
