package controller

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/konstpic/marznode-stats/logger"
	"github.com/konstpic/marznode-stats/util/common"
	"github.com/konstpic/marznode-stats/web/job"
	"github.com/konstpic/marznode-stats/web/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	logStreamBuffer    = 64
	logStreamWriteWait = 5 * time.Second
)

var logStreamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusController serves agent health, recent logs and diagnostics.
type StatusController struct {
	serverService *service.ServerService
	source        service.CounterSource
	timeout       time.Duration

	tailJob    *job.TailAccessLogJob
	collectJob *job.CollectTrafficJob
	coreJob    *job.CheckCoreJob
}

// StatusJobs groups the jobs whose state is reported by /status. Any of them
// may be nil.
type StatusJobs struct {
	Tail    *job.TailAccessLogJob
	Collect *job.CollectTrafficJob
	Core    *job.CheckCoreJob
}

// NewStatusController creates a new StatusController and sets up its routes.
func NewStatusController(g *gin.RouterGroup, serverService *service.ServerService, source service.CounterSource, timeout time.Duration, jobs StatusJobs) *StatusController {
	a := &StatusController{
		serverService: serverService,
		source:        source,
		timeout:       timeout,
		tailJob:       jobs.Tail,
		collectJob:    jobs.Collect,
		coreJob:       jobs.Core,
	}
	a.initRouter(g)
	return a
}

func (a *StatusController) initRouter(g *gin.RouterGroup) {
	g.GET("/status", a.status)
	g.GET("/logs/stream", a.streamLogs)
	g.GET("/logs/:count", a.getLogs)
	g.GET("/debug/counters", a.debugCounters)
}

type statusResponse struct {
	*service.Status
	CoreHealthy bool              `json:"coreHealthy"`
	Tail        *job.TailStats    `json:"tail,omitempty"`
	Collect     *job.CollectStats `json:"collect,omitempty"`
}

func (a *StatusController) status(c *gin.Context) {
	resp := statusResponse{
		Status:      a.serverService.GetStatus(),
		CoreHealthy: true,
	}
	if a.coreJob != nil {
		resp.CoreHealthy = a.coreJob.Healthy()
	}
	if a.tailJob != nil {
		s := a.tailJob.Stats()
		resp.Tail = &s
	}
	if a.collectJob != nil {
		s := a.collectJob.Stats()
		resp.Collect = &s
	}
	jsonObj(c, resp, nil)
}

// getLogs returns the most recent log lines at or above the given level.
func (a *StatusController) getLogs(c *gin.Context) {
	count, err := strconv.Atoi(c.Param("count"))
	if err != nil || count <= 0 {
		count = 100
	}
	level := c.DefaultQuery("level", "info")
	jsonObj(c, logger.GetLogs(count, level), nil)
}

// streamLogs upgrades to a websocket and pushes every new log line at or
// above the given level until the client goes away.
func (a *StatusController) streamLogs(c *gin.Context) {
	// subscribe before the handshake so nothing logged after it is missed
	lines, cancel := logger.Subscribe(c.DefaultQuery("level", "info"), logStreamBuffer)
	defer cancel()

	conn, err := logStreamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debug("log stream upgrade:", err)
		return
	}
	defer conn.Close()

	// clients never send anything, reading only notices the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		defer common.Recover("log stream reader")
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(logStreamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// debugCounters reads the core's counters without resetting them.
func (a *StatusController) debugCounters(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.timeout)
	defer cancel()

	counters, err := a.source.GetUserCounters(ctx, false)
	if err != nil {
		jsonMsg(c, "Query counters", err)
		return
	}
	jsonObj(c, counters, nil)
}
