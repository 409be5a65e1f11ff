// Package xray provides integration with the Xray proxy core: the stats API
// client used to read per-user traffic counters and the access log parser used
// to attribute connections to users.
package xray

import (
	"context"
	"errors"
	"fmt"

	"github.com/konstpic/marznode-stats/logger"
	"github.com/konstpic/marznode-stats/util/common"

	statsService "github.com/xtls/xray-core/app/stats/command"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrStatsUnavailable reports that the engine's counter query failed.
var ErrStatsUnavailable = errors.New("xray stats unavailable")

// XrayAPI is a gRPC client for the Xray stats service.
type XrayAPI struct {
	StatsServiceClient *statsService.StatsServiceClient
	grpcClient         *grpc.ClientConn
	isConnected        bool
}

// Init connects to the Xray API server at addr and initializes the stats client.
// Extra dial options are appended after the insecure transport credentials.
func (x *XrayAPI) Init(addr string, opts ...grpc.DialOption) error {
	if addr == "" {
		return common.NewError("xray api address is empty")
	}

	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return fmt.Errorf("failed to connect to Xray API: %w", err)
	}

	x.grpcClient = conn
	x.isConnected = true

	ssClient := statsService.NewStatsServiceClient(conn)
	x.StatsServiceClient = &ssClient

	return nil
}

// IsConnected checks if the gRPC connection is still active.
func (x *XrayAPI) IsConnected() bool {
	return x.isConnected && x.grpcClient != nil
}

// Close closes the gRPC connection and resets the XrayAPI client state.
func (x *XrayAPI) Close() {
	if x.grpcClient != nil {
		x.grpcClient.Close()
	}
	x.grpcClient = nil
	x.StatsServiceClient = nil
	x.isConnected = false
}

// QueryCounters returns the raw per-user counters, asking the engine to zero
// them in the same call when reset is set. The call is bounded by ctx.
func (x *XrayAPI) QueryCounters(ctx context.Context, reset bool) ([]NamedCounter, error) {
	if !x.IsConnected() || x.StatsServiceClient == nil {
		return nil, fmt.Errorf("%w: api is not initialized", ErrStatsUnavailable)
	}

	resp, err := (*x.StatsServiceClient).QueryStats(ctx, &statsService.QueryStatsRequest{
		Pattern: userStatPrefix,
		Reset_:  reset,
	})
	if err != nil {
		logger.Debug("Failed to query Xray stats:", err)
		return nil, fmt.Errorf("%w: %v", ErrStatsUnavailable, err)
	}

	stats := make([]NamedCounter, 0, len(resp.GetStat()))
	for _, stat := range resp.GetStat() {
		stats = append(stats, NamedCounter{Name: stat.GetName(), Value: stat.GetValue()})
	}
	return stats, nil
}

// GetUserCounters queries per-user traffic deltas from the Xray core. With
// reset the engine zeroes its counters atomically with the read.
func (x *XrayAPI) GetUserCounters(ctx context.Context, reset bool) ([]UserCounter, error) {
	stats, err := x.QueryCounters(ctx, reset)
	if err != nil {
		return nil, err
	}
	return GroupUserCounters(stats), nil
}
