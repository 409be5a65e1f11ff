// Package singbox provides a client for the sing-box stats HTTP API, reporting
// per-user counters in the same shape the Xray stats service does.
package singbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	"github.com/konstpic/marznode-stats/util/common"
)

const defaultTimeout = 10 * time.Second

// SingBoxAPI is an HTTP client for the sing-box statistics endpoint.
type SingBoxAPI struct {
	baseURL     string
	httpClient  *fasthttp.Client
	isConnected bool
}

// Init prepares a client for the sing-box API listening on addr (host:port).
func (s *SingBoxAPI) Init(addr string) error {
	return s.InitWithClient(addr, &fasthttp.Client{
		ReadTimeout:  defaultTimeout,
		WriteTimeout: defaultTimeout,
	})
}

// InitWithClient is Init with a caller-supplied fasthttp client.
func (s *SingBoxAPI) InitWithClient(addr string, client *fasthttp.Client) error {
	if addr == "" {
		return common.NewError("sing-box api address is empty")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	s.baseURL = strings.TrimRight(addr, "/")
	s.httpClient = client
	s.isConnected = true
	return nil
}

// IsConnected reports whether the client has been initialized.
func (s *SingBoxAPI) IsConnected() bool {
	return s.isConnected && s.httpClient != nil
}

// Close releases idle connections and resets the client.
func (s *SingBoxAPI) Close() {
	if s.httpClient != nil {
		s.httpClient.CloseIdleConnections()
	}
	s.httpClient = nil
	s.isConnected = false
}

// GetClientTraffic queries per-user counters, optionally resetting them.
// sing-box returns {"user>>>email>>>traffic>>>uplink": 123, ...}.
func (s *SingBoxAPI) GetClientTraffic(ctx context.Context, reset bool) ([]*ClientTraffic, error) {
	if !s.IsConnected() {
		return nil, common.NewError("sing-box API is not initialized")
	}

	url := s.baseURL + "/stats"
	if reset {
		url += "?reset=true"
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	if err := s.httpClient.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("failed to query sing-box stats: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("sing-box API returned status %d", resp.StatusCode())
	}

	var stats map[string]int64
	if err := json.Unmarshal(resp.Body(), &stats); err != nil {
		return nil, fmt.Errorf("failed to parse stats: %w", err)
	}

	emailTrafficMap := make(map[string]*ClientTraffic)
	for key, value := range stats {
		email, direction, ok := parseUserTrafficKey(key)
		if !ok {
			continue
		}
		clientTraffic, ok := emailTrafficMap[email]
		if !ok {
			clientTraffic = &ClientTraffic{Email: email}
			emailTrafficMap[email] = clientTraffic
		}
		if direction == "downlink" {
			clientTraffic.Down += value
		} else {
			clientTraffic.Up += value
		}
	}

	result := make([]*ClientTraffic, 0, len(emailTrafficMap))
	for _, v := range emailTrafficMap {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Email < result[j].Email })
	return result, nil
}

// parseUserTrafficKey parses "user>>>email>>>traffic>>>uplink".
func parseUserTrafficKey(key string) (email, direction string, ok bool) {
	parts := strings.Split(key, ">>>")
	if len(parts) != 4 || parts[0] != "user" || parts[2] != "traffic" {
		return "", "", false
	}
	if parts[3] != "uplink" && parts[3] != "downlink" {
		return "", "", false
	}
	return parts[1], parts[3], true
}
