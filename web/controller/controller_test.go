package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/konstpic/marznode-stats/logger"
	"github.com/konstpic/marznode-stats/store"
	"github.com/konstpic/marznode-stats/web/service"
	"github.com/konstpic/marznode-stats/xray"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fakeSource struct {
	counters []xray.UserCounter
	err      error
	resets   int
}

func (f *fakeSource) GetUserCounters(_ context.Context, reset bool) ([]xray.UserCounter, error) {
	if f.err != nil {
		return nil, f.err
	}
	if reset {
		f.resets++
	}
	return f.counters, nil
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Close() {}

type response struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

func newRouter(st *store.Store, devices *store.DeviceRegistry, source service.CounterSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	g := engine.Group("/")
	NewStatsController(g, service.NewStatsService(st, devices, "xray"), nil)
	NewStatusController(g, service.NewServerService(st, devices, source.Name()), source, time.Second, StatusJobs{})
	return engine
}

func doGet(t *testing.T, engine *gin.Engine, path string) response {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, w.Code)
	}
	var resp response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("GET %s: %v (%s)", path, err, w.Body.String())
	}
	return resp
}

func TestGetStats(t *testing.T) {
	st := store.New()
	st.RecordConnection(xray.ConnectionRecord{Timestamp: time.Now(), SourceIP: "203.0.113.5", UserID: "42"})
	st.ApplyCounterDeltas([]xray.UserCounter{{UserID: 42, Uplink: 1000, Downlink: 500}})
	engine := newRouter(st, nil, &fakeSource{})

	resp := doGet(t, engine, "/stats?reset=true")
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	var rows []service.UserUsage
	if err := json.Unmarshal(resp.Obj, &rows); err != nil {
		t.Fatal(err)
	}
	want := service.UserUsage{UID: 42, Usage: 1500, Uplink: 1000, Downlink: 500, RemoteIP: "203.0.113.5", ClientName: "xray"}
	if len(rows) != 1 || rows[0] != want {
		t.Fatalf("rows = %+v", rows)
	}

	resp = doGet(t, engine, "/stats")
	rows = nil
	if err := json.Unmarshal(resp.Obj, &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Usage != 0 {
		t.Fatalf("after reset rows = %+v", rows)
	}
}

func TestGetStatsBadFlag(t *testing.T) {
	engine := newRouter(store.New(), nil, &fakeSource{})
	if resp := doGet(t, engine, "/stats?reset=maybe"); resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestGetDevices(t *testing.T) {
	devices := store.NewDeviceRegistry(time.Minute)
	devices.Observe(xray.ConnectionRecord{Timestamp: time.Now(), SourceIP: "203.0.113.5", UserID: "42", Network: "tcp"}, "xray")
	engine := newRouter(store.New(), devices, &fakeSource{})

	resp := doGet(t, engine, "/devices/42?active=true")
	var got []store.Device
	if err := json.Unmarshal(resp.Obj, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RemoteIP != "203.0.113.5" {
		t.Fatalf("devices = %+v", got)
	}
}

func TestGetAllDevices(t *testing.T) {
	devices := store.NewDeviceRegistry(time.Minute)
	devices.Observe(xray.ConnectionRecord{Timestamp: time.Now(), SourceIP: "203.0.113.5", UserID: "42", Network: "tcp"}, "xray")
	devices.Observe(xray.ConnectionRecord{Timestamp: time.Now(), SourceIP: "198.51.100.7", UserID: "7", Network: "udp"}, "xray")
	devices.AddUsage("42", 1000, 500)
	engine := newRouter(store.New(), devices, &fakeSource{})

	resp := doGet(t, engine, "/devices")
	var got map[string][]store.Device
	if err := json.Unmarshal(resp.Obj, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || len(got["42"]) != 1 || got["42"][0].TotalUsage != 1500 {
		t.Fatalf("devices = %+v", got)
	}
	if got["7"][0].TotalUsage != 0 {
		t.Fatalf("devices of 7 = %+v", got["7"])
	}
}

func TestTrafficDisabled(t *testing.T) {
	engine := newRouter(store.New(), nil, &fakeSource{})
	if resp := doGet(t, engine, "/traffic"); resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestDebugCountersDoesNotReset(t *testing.T) {
	src := &fakeSource{counters: []xray.UserCounter{{UserID: 7, Uplink: 3}}}
	engine := newRouter(store.New(), nil, src)

	resp := doGet(t, engine, "/debug/counters")
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	var got []xray.UserCounter
	if err := json.Unmarshal(resp.Obj, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].UserID != 7 {
		t.Fatalf("counters = %+v", got)
	}
	if src.resets != 0 {
		t.Fatal("diagnostic read reset the counters")
	}
}

func TestDebugCountersUnavailable(t *testing.T) {
	engine := newRouter(store.New(), nil, &fakeSource{err: xray.ErrStatsUnavailable})
	resp := doGet(t, engine, "/debug/counters")
	if resp.Success || resp.Msg == "" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestStatus(t *testing.T) {
	engine := newRouter(store.New(), nil, &fakeSource{})
	resp := doGet(t, engine, "/status")
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	var got struct {
		Version     string `json:"version"`
		Core        string `json:"core"`
		CoreHealthy bool   `json:"coreHealthy"`
	}
	if err := json.Unmarshal(resp.Obj, &got); err != nil {
		t.Fatal(err)
	}
	if got.Version == "" || got.Core != "fake" || !got.CoreHealthy {
		t.Fatalf("status = %+v", got)
	}
}

func TestStreamLogs(t *testing.T) {
	srv := httptest.NewServer(newRouter(store.New(), nil, &fakeSource{}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/logs/stream?level=warning"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	logger.Info("below the stream level")
	logger.Warning("collector timed out")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		line := string(msg)
		if strings.Contains(line, "below the stream level") {
			t.Fatalf("info line streamed at warning level: %q", line)
		}
		if strings.HasSuffix(line, "WARNING - collector timed out") {
			return
		}
	}
}

func TestGetLogs(t *testing.T) {
	logger.Warning("tail: access log vanished")
	engine := newRouter(store.New(), nil, &fakeSource{})

	resp := doGet(t, engine, "/logs/10?level=warning")
	var got []string
	if err := json.Unmarshal(resp.Obj, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || !strings.HasSuffix(got[0], "WARNING - tail: access log vanished") {
		t.Fatalf("logs = %q", got)
	}
}
