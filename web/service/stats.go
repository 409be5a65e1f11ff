package service

import (
	"github.com/konstpic/marznode-stats/store"
	"github.com/konstpic/marznode-stats/xray"
)

// UserUsage is one row of the stats query answer.
type UserUsage struct {
	UID        int64  `json:"uid"`
	Usage      int64  `json:"usage"`
	Uplink     int64  `json:"uplink"`
	Downlink   int64  `json:"downlink"`
	RemoteIP   string `json:"remote_ip"`
	ClientName string `json:"client_name"`
}

// StatsService answers per-user stats queries from the attribution store.
// It never touches the log file or the core, so queries cannot block on them.
type StatsService struct {
	store      *store.Store
	devices    *store.DeviceRegistry
	clientName string
}

// NewStatsService creates a StatsService. clientName is reported for users
// with no device history.
func NewStatsService(st *store.Store, devices *store.DeviceRegistry, clientName string) *StatsService {
	return &StatsService{store: st, devices: devices, clientName: clientName}
}

// GetStats returns current stats for every user ordered by uid. With reset
// the store's counters are zeroed while the pre-reset totals are returned.
// Rows whose id is not numeric cannot be expressed as a uid and are left out.
func (s *StatsService) GetStats(reset bool) []UserUsage {
	rows := s.store.Snapshot(reset)

	result := make([]UserUsage, 0, len(rows))
	for _, row := range rows {
		uid, ok := xray.UserIDFromEmail(row.UserID)
		if !ok {
			continue
		}
		usage := UserUsage{
			UID:        uid,
			Usage:      row.Uplink + row.Downlink,
			Uplink:     row.Uplink,
			Downlink:   row.Downlink,
			RemoteIP:   row.RemoteIP,
			ClientName: s.clientName,
		}
		if s.devices != nil {
			if d, ok := s.devices.Latest(row.UserID); ok && d.ClientName != "" {
				usage.ClientName = d.ClientName
				if usage.RemoteIP == "" {
					usage.RemoteIP = d.RemoteIP
				}
			}
		}
		result = append(result, usage)
	}
	return result
}

// GetDevices returns the device history of one user.
func (s *StatsService) GetDevices(uid string, activeOnly bool) []store.Device {
	if s.devices == nil {
		return nil
	}
	return s.devices.UserDevices(uid, activeOnly)
}

// GetAllDevices returns the device history of every user keyed by user id.
func (s *StatsService) GetAllDevices(activeOnly bool) map[string][]store.Device {
	if s.devices == nil {
		return map[string][]store.Device{}
	}
	return s.devices.AllDevices(activeOnly)
}
