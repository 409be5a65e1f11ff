package service

import (
	"runtime"
	"time"

	"github.com/konstpic/marznode-stats/config"
	"github.com/konstpic/marznode-stats/logger"
	"github.com/konstpic/marznode-stats/store"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// MemStatus is a used/total memory pair in bytes.
type MemStatus struct {
	Current uint64 `json:"current"`
	Total   uint64 `json:"total"`
}

// AppStatus describes the agent process itself.
type AppStatus struct {
	Threads uint32 `json:"threads"`
	Mem     uint64 `json:"mem"`
}

// Status is the agent's health and resource summary.
type Status struct {
	Version       string    `json:"version"`
	Core          string    `json:"core"`
	StartedAt     time.Time `json:"startedAt"`
	Uptime        uint64    `json:"uptime"`
	HostUptime    uint64    `json:"hostUptime"`
	Loads         []float64 `json:"loads"`
	Mem           MemStatus `json:"mem"`
	AppStats      AppStatus `json:"appStats"`
	Users         int       `json:"users"`
	DeviceUsers   int       `json:"deviceUsers"`
	ActiveDevices int       `json:"activeDevices"`
}

// ServerService reports the state of the agent and its host.
type ServerService struct {
	store     *store.Store
	devices   *store.DeviceRegistry
	core      string
	startedAt time.Time
}

// NewServerService creates a ServerService for the given core type.
func NewServerService(st *store.Store, devices *store.DeviceRegistry, core string) *ServerService {
	return &ServerService{
		store:     st,
		devices:   devices,
		core:      core,
		startedAt: time.Now(),
	}
}

// GetStatus collects the current status. Host metrics that cannot be read
// are left zero.
func (s *ServerService) GetStatus() *Status {
	now := time.Now()
	status := &Status{
		Version:   config.GetVersion(),
		Core:      s.core,
		StartedAt: s.startedAt,
		Uptime:    uint64(now.Sub(s.startedAt).Seconds()),
	}

	upTime, err := host.Uptime()
	if err != nil {
		logger.Warning("get uptime failed:", err)
	} else {
		status.HostUptime = upTime
	}

	avgState, err := load.Avg()
	if err != nil {
		logger.Warning("get load avg failed:", err)
	} else {
		status.Loads = []float64{avgState.Load1, avgState.Load5, avgState.Load15}
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		logger.Warning("get virtual memory failed:", err)
	} else {
		status.Mem.Current = memInfo.Used
		status.Mem.Total = memInfo.Total
	}

	var rtm runtime.MemStats
	runtime.ReadMemStats(&rtm)
	status.AppStats.Mem = rtm.Sys
	status.AppStats.Threads = uint32(runtime.NumGoroutine())

	if s.store != nil {
		status.Users = s.store.Len()
	}
	if s.devices != nil {
		status.DeviceUsers, status.ActiveDevices = s.devices.Counts()
	}
	return status
}
