package store

import (
	"sort"
	"sync"
	"time"

	"github.com/konstpic/marznode-stats/xray"
)

// Device is one remote address and client a user has connected from.
type Device struct {
	RemoteIP   string    `json:"remoteIp"`
	ClientName string    `json:"clientName"`
	Protocol   string    `json:"protocol"`
	Inbound    string    `json:"inbound"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastSeen   time.Time `json:"lastSeen"`
	Active     bool      `json:"active"`
	Uplink     int64     `json:"uplink"`
	Downlink   int64     `json:"downlink"`
	TotalUsage int64     `json:"totalUsage"`
}

// Key identifies the device within its user.
func (d Device) Key() string {
	return d.RemoteIP + ":" + d.ClientName
}

// DeviceRegistry tracks devices per user. Devices not seen for the
// inactivity timeout are marked inactive by MarkInactive.
type DeviceRegistry struct {
	mu         sync.Mutex
	devices    map[string]map[string]*Device
	inactivity time.Duration
}

// NewDeviceRegistry returns an empty registry.
func NewDeviceRegistry(inactivity time.Duration) *DeviceRegistry {
	return &DeviceRegistry{
		devices:    make(map[string]map[string]*Device),
		inactivity: inactivity,
	}
}

// Observe records that rec's user connected from rec's source address using
// clientName. Observing the same record twice leaves the registry unchanged.
func (r *DeviceRegistry) Observe(rec xray.ConnectionRecord, clientName string) {
	if rec.UserID == "" || rec.SourceIP == "" {
		return
	}
	key := Device{RemoteIP: rec.SourceIP, ClientName: clientName}.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	userDevices, ok := r.devices[rec.UserID]
	if !ok {
		userDevices = make(map[string]*Device)
		r.devices[rec.UserID] = userDevices
	}

	d, ok := userDevices[key]
	if !ok {
		userDevices[key] = &Device{
			RemoteIP:   rec.SourceIP,
			ClientName: clientName,
			Protocol:   rec.Network,
			Inbound:    rec.Inbound,
			FirstSeen:  rec.Timestamp,
			LastSeen:   rec.Timestamp,
			Active:     true,
		}
		return
	}

	if rec.Timestamp.Before(d.FirstSeen) {
		d.FirstSeen = rec.Timestamp
	}
	if !rec.Timestamp.Before(d.LastSeen) {
		d.LastSeen = rec.Timestamp
		if rec.Network != "" {
			d.Protocol = rec.Network
		}
		if rec.Inbound != "" {
			d.Inbound = rec.Inbound
		}
	}
	d.Active = true
}

// UserDevices returns copies of uid's devices, most recently seen first.
func (r *DeviceRegistry) UserDevices(uid string, activeOnly bool) []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userDevices(uid, activeOnly)
}

func (r *DeviceRegistry) userDevices(uid string, activeOnly bool) []Device {
	result := make([]Device, 0, len(r.devices[uid]))
	for _, d := range r.devices[uid] {
		if activeOnly && !d.Active {
			continue
		}
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastSeen.Equal(result[j].LastSeen) {
			return result[i].LastSeen.After(result[j].LastSeen)
		}
		return result[i].Key() < result[j].Key()
	})
	return result
}

// Latest returns uid's most recently seen device.
func (r *DeviceRegistry) Latest(uid string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	devices := r.userDevices(uid, false)
	if len(devices) == 0 {
		return Device{}, false
	}
	return devices[0], true
}

// AddUsage credits a traffic delta to uid's most recently seen device. It
// reports false when uid has no device to credit.
func (r *DeviceRegistry) AddUsage(uid string, uplink, downlink int64) bool {
	uplink, downlink = max(uplink, 0), max(downlink, 0)
	if uplink == 0 && downlink == 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *Device
	for _, d := range r.devices[uid] {
		if latest == nil || d.LastSeen.After(latest.LastSeen) ||
			(d.LastSeen.Equal(latest.LastSeen) && d.Key() < latest.Key()) {
			latest = d
		}
	}
	if latest == nil {
		return false
	}
	latest.Uplink += uplink
	latest.Downlink += downlink
	latest.TotalUsage += uplink + downlink
	return true
}

// AllDevices returns copies of every user's devices, each list most recently
// seen first.
func (r *DeviceRegistry) AllDevices(activeOnly bool) map[string][]Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string][]Device, len(r.devices))
	for uid := range r.devices {
		if devices := r.userDevices(uid, activeOnly); len(devices) > 0 {
			result[uid] = devices
		}
	}
	return result
}

// MarkInactive flags devices not seen within the inactivity timeout and
// returns how many changed.
func (r *DeviceRegistry) MarkInactive(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for _, userDevices := range r.devices {
		for _, d := range userDevices {
			if d.Active && now.Sub(d.LastSeen) > r.inactivity {
				d.Active = false
				changed++
			}
		}
	}
	return changed
}

// Cleanup removes devices not seen for maxAge, and users left without
// devices, returning the number of devices removed.
func (r *DeviceRegistry) Cleanup(now time.Time, maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for uid, userDevices := range r.devices {
		for key, d := range userDevices {
			if now.Sub(d.LastSeen) > maxAge {
				delete(userDevices, key)
				removed++
			}
		}
		if len(userDevices) == 0 {
			delete(r.devices, uid)
		}
	}
	return removed
}

// Counts returns the number of users with devices and of active devices.
func (r *DeviceRegistry) Counts() (users, active int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, userDevices := range r.devices {
		for _, d := range userDevices {
			if d.Active {
				active++
			}
		}
	}
	return len(r.devices), active
}
