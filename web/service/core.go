package service

import (
	"context"
	"fmt"

	"github.com/konstpic/marznode-stats/config"
	"github.com/konstpic/marznode-stats/logger"
	"github.com/konstpic/marznode-stats/singbox"
	"github.com/konstpic/marznode-stats/xray"
)

// CounterSource reads per-user traffic counters from a proxy core.
// This allows the collector to work with different cores (xray, sing-box)
// through a unified interface.
type CounterSource interface {
	// GetUserCounters returns the per-user deltas since the last reset,
	// zeroing the engine's counters when reset is set. Failures wrap
	// xray.ErrStatsUnavailable.
	GetUserCounters(ctx context.Context, reset bool) ([]xray.UserCounter, error)

	// Name returns the core type backing this source
	Name() string

	// Close releases the connection to the core
	Close()
}

// XrayCounterSource adapts XrayAPI to CounterSource.
type XrayCounterSource struct {
	api *xray.XrayAPI
}

// NewXrayCounterSource creates a new XrayCounterSource.
func NewXrayCounterSource(api *xray.XrayAPI) *XrayCounterSource {
	return &XrayCounterSource{api: api}
}

// GetUserCounters returns Xray per-user counters.
func (a *XrayCounterSource) GetUserCounters(ctx context.Context, reset bool) ([]xray.UserCounter, error) {
	return a.api.GetUserCounters(ctx, reset)
}

// Name returns "xray".
func (a *XrayCounterSource) Name() string {
	return config.CoreTypeXray
}

// Close closes the gRPC connection.
func (a *XrayCounterSource) Close() {
	a.api.Close()
}

// SingBoxCounterSource adapts SingBoxAPI to CounterSource.
type SingBoxCounterSource struct {
	api *singbox.SingBoxAPI
}

// NewSingBoxCounterSource creates a new SingBoxCounterSource.
func NewSingBoxCounterSource(api *singbox.SingBoxAPI) *SingBoxCounterSource {
	return &SingBoxCounterSource{api: api}
}

// GetUserCounters returns sing-box traffic statistics, converted to the xray
// format. Clients whose email has no numeric id prefix are skipped.
func (a *SingBoxCounterSource) GetUserCounters(ctx context.Context, reset bool) ([]xray.UserCounter, error) {
	sbClientTraffic, err := a.api.GetClientTraffic(ctx, reset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xray.ErrStatsUnavailable, err)
	}

	byUser := make(map[int64]int, len(sbClientTraffic))
	result := make([]xray.UserCounter, 0, len(sbClientTraffic))
	for _, ct := range sbClientTraffic {
		uid, ok := xray.UserIDFromEmail(ct.Email)
		if !ok {
			logger.Debugf("skipping sing-box counter for non-numeric client %q", ct.Email)
			continue
		}
		if ct.Up <= 0 && ct.Down <= 0 {
			continue
		}
		if i, seen := byUser[uid]; seen {
			result[i].Uplink += ct.Up
			result[i].Downlink += ct.Down
			continue
		}
		byUser[uid] = len(result)
		result = append(result, xray.UserCounter{UserID: uid, Uplink: ct.Up, Downlink: ct.Down})
	}
	return result, nil
}

// Name returns "sing-box".
func (a *SingBoxCounterSource) Name() string {
	return config.CoreTypeSingBox
}

// Close releases idle HTTP connections.
func (a *SingBoxCounterSource) Close() {
	a.api.Close()
}

// NewCounterSource returns the CounterSource for the configured core type.
func NewCounterSource(coreType, addr string) (CounterSource, error) {
	switch coreType {
	case config.CoreTypeSingBox:
		api := &singbox.SingBoxAPI{}
		if err := api.Init(addr); err != nil {
			return nil, err
		}
		return NewSingBoxCounterSource(api), nil
	case config.CoreTypeXray, "":
		api := &xray.XrayAPI{}
		if err := api.Init(addr); err != nil {
			return nil, err
		}
		return NewXrayCounterSource(api), nil
	default:
		return nil, fmt.Errorf("unsupported core type %q", coreType)
	}
}
