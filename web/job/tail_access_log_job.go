// Package job provides the background jobs of the stats agent: access log
// tailing, counter collection and periodic maintenance.
package job

import (
	"context"
	"errors"

	"github.com/konstpic/marznode-stats/logger"
	"github.com/konstpic/marznode-stats/store"
	"github.com/konstpic/marznode-stats/tail"
	"github.com/konstpic/marznode-stats/xray"

	"go.uber.org/atomic"
)

// maxPollsPerRun bounds how much backlog one run drains.
const maxPollsPerRun = 16

// TailStats reports the access log job's counters.
type TailStats struct {
	Lines        int64       `json:"lines"`
	Parsed       int64       `json:"parsed"`
	Failed       int64       `json:"failed"`
	Unattributed int64       `json:"unattributed"`
	Cursor       tail.Cursor `json:"cursor"`
}

// TailAccessLogJob feeds new access log lines into the attribution store.
type TailAccessLogJob struct {
	tailer     *tail.Tailer
	store      *store.Store
	devices    *store.DeviceRegistry
	clientName string

	lines        atomic.Int64
	parsed       atomic.Int64
	failed       atomic.Int64
	unattributed atomic.Int64
	unavailable  atomic.Bool
}

// NewTailAccessLogJob creates a new access log job. devices may be nil.
func NewTailAccessLogJob(tailer *tail.Tailer, st *store.Store, devices *store.DeviceRegistry, clientName string) *TailAccessLogJob {
	return &TailAccessLogJob{
		tailer:     tailer,
		store:      st,
		devices:    devices,
		clientName: clientName,
	}
}

// Run polls the log until it is drained or the per-run limit is hit.
func (j *TailAccessLogJob) Run() {
	ctx := context.Background()
	for range maxPollsPerRun {
		n, err := j.tailer.Poll(ctx, j.handle)
		if err != nil {
			var ioErr *tail.IOError
			if errors.As(err, &ioErr) {
				// keep the log quiet while the file stays missing
				if !j.unavailable.Swap(true) {
					logger.Warning("access log unavailable:", err)
				}
				return
			}
			logger.Error("tail access log failed:", err)
			return
		}
		if j.unavailable.Swap(false) {
			logger.Info("access log available again:", j.tailer.Path())
		}
		if n == 0 {
			return
		}
	}
}

func (j *TailAccessLogJob) handle(lines []string) error {
	for _, line := range lines {
		j.lines.Inc()
		rec, err := xray.ParseAccessLine(line)
		if err != nil {
			j.failed.Inc()
			logger.Debug(err)
			continue
		}
		j.parsed.Inc()
		if rec.UserID == "" {
			j.unattributed.Inc()
			continue
		}
		j.store.RecordConnection(rec)
		if j.devices != nil {
			j.devices.Observe(rec, j.clientName)
		}
	}
	return nil
}

// Stats returns the job's counters and the tailer's cursor.
func (j *TailAccessLogJob) Stats() TailStats {
	return TailStats{
		Lines:        j.lines.Load(),
		Parsed:       j.parsed.Load(),
		Failed:       j.failed.Load(),
		Unattributed: j.unattributed.Load(),
		Cursor:       j.tailer.Cursor(),
	}
}
