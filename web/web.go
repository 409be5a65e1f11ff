// Package web wires the stats agent together: it owns the HTTP server, the
// cron scheduler and the background jobs feeding the attribution store.
package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/konstpic/marznode-stats/config"
	"github.com/konstpic/marznode-stats/logger"
	"github.com/konstpic/marznode-stats/store"
	"github.com/konstpic/marznode-stats/tail"
	"github.com/konstpic/marznode-stats/util/common"
	"github.com/konstpic/marznode-stats/web/controller"
	"github.com/konstpic/marznode-stats/web/job"
	"github.com/konstpic/marznode-stats/web/service"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const requestIDHeader = "X-Request-Id"

// Server is the running agent.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	cron       *cron.Cron

	cfg     *config.Config
	cursors tail.CursorStore
	source  service.CounterSource

	store          *store.Store
	devices        *store.DeviceRegistry
	trafficService *service.UserTrafficService

	tailJob    *job.TailAccessLogJob
	collectJob *job.CollectTrafficJob
	coreJob    *job.CheckCoreJob
	devicesJob *job.CheckDevicesJob

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a Server. cursors persists the access log position and
// source reads the core's counters; the server closes source on Stop.
func NewServer(cfg *config.Config, cursors tail.CursorStore, source service.CounterSource) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		cursors: cursors,
		source:  source,
		store:   store.New(),
		devices: store.NewDeviceRegistry(cfg.DeviceInactivity.Std()),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) initRouter() *gin.Engine {
	if s.cfg.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.DefaultWriter = io.Discard
		gin.DefaultErrorWriter = io.Discard
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestID())
	engine.Use(gzip.Gzip(gzip.DefaultCompression))

	g := engine.Group("/")
	controller.NewStatsController(g, service.NewStatsService(s.store, s.devices, s.cfg.ClientName), s.trafficService)
	controller.NewStatusController(g, service.NewServerService(s.store, s.devices, s.source.Name()), s.source, s.cfg.CollectTimeout.Std(), controller.StatusJobs{
		Tail:    s.tailJob,
		Collect: s.collectJob,
		Core:    s.coreJob,
	})
	return engine
}

func (s *Server) initJobs() {
	if s.cfg.KeepHistory {
		s.trafficService = &service.UserTrafficService{}
	}

	tailer := tail.New(s.cfg.AccessLog, s.cursors, s.cfg.MaxBatchBytes)
	s.tailJob = job.NewTailAccessLogJob(tailer, s.store, s.devices, s.cfg.ClientName)
	s.collectJob = job.NewCollectTrafficJob(s.source, s.store, s.devices, s.trafficService, s.cfg.CollectTimeout.Std())
	s.coreJob = job.NewCheckCoreJob(s.source, s.cfg.CollectTimeout.Std())
	s.devicesJob = job.NewCheckDevicesJob(s.devices, s.store, s.cfg.DeviceRetention.Std(), s.cfg.StoreIdleRetention.Std())
}

func (s *Server) startTask() error {
	schedule := []struct {
		every time.Duration
		job   cron.Job
	}{
		{s.cfg.TailInterval.Std(), s.tailJob},
		{s.cfg.CollectInterval.Std(), s.collectJob},
		{s.cfg.DeviceCheckInterval.Std(), s.coreJob},
		{s.cfg.DeviceCheckInterval.Std(), s.devicesJob},
	}
	for _, task := range schedule {
		if _, err := s.cron.AddJob("@every "+task.every.String(), task.job); err != nil {
			return err
		}
	}

	// fill the store right away instead of waiting for the first tick
	go func() {
		defer common.Recover("initial tail")
		select {
		case <-time.After(time.Second):
			s.tailJob.Run()
		case <-s.ctx.Done():
		}
	}()
	return nil
}

// Start schedules the jobs and starts serving HTTP on cfg.Listen.
func (s *Server) Start() (err error) {
	defer func() {
		if err != nil {
			s.Stop()
		}
	}()

	cronLogger := cron.PrintfLogger(cronLog{})
	s.cron = cron.New(cron.WithLogger(cronLogger), cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	s.cron.Start()

	s.initJobs()
	if err = s.startTask(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	logger.Info("stats API listening on", listener.Addr())
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.initRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("stats API stopped:", err)
		}
	}()

	return nil
}

// Stop stops the scheduler, waits for running jobs and shuts the HTTP
// server down.
func (s *Server) Stop() error {
	s.cancel()
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.source != nil {
		s.source.Close()
	}
	var err error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.httpServer.Shutdown(ctx)
	} else if s.listener != nil {
		err = s.listener.Close()
	}
	return err
}

// Addr returns the address the HTTP server listens on, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

type cronLog struct{}

func (cronLog) Printf(format string, args ...any) {
	logger.Debugf(format, args...)
}
