package job

import (
	"time"

	"github.com/konstpic/marznode-stats/logger"
	"github.com/konstpic/marznode-stats/store"
)

// CheckDevicesJob marks idle devices inactive, forgets old ones and drops
// attribution rows that went quiet.
type CheckDevicesJob struct {
	devices         *store.DeviceRegistry
	store           *store.Store
	deviceRetention time.Duration
	idleRetention   time.Duration
	now             func() time.Time
}

// NewCheckDevicesJob creates a new maintenance job.
func NewCheckDevicesJob(devices *store.DeviceRegistry, st *store.Store, deviceRetention, idleRetention time.Duration) *CheckDevicesJob {
	return &CheckDevicesJob{
		devices:         devices,
		store:           st,
		deviceRetention: deviceRetention,
		idleRetention:   idleRetention,
		now:             time.Now,
	}
}

// Run performs one maintenance pass.
func (j *CheckDevicesJob) Run() {
	now := j.now()

	if j.devices != nil {
		if n := j.devices.MarkInactive(now); n > 0 {
			logger.Debugf("%d devices became inactive", n)
		}
		if n := j.devices.Cleanup(now, j.deviceRetention); n > 0 {
			logger.Infof("removed %d devices not seen for %v", n, j.deviceRetention)
		}
	}

	if j.store != nil && j.idleRetention > 0 {
		if n := j.store.Prune(now.Add(-j.idleRetention)); n > 0 {
			logger.Infof("pruned %d idle users", n)
		}
	}
}
