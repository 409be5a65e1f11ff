// Package controller provides the HTTP handlers of the stats agent.
package controller

import (
	"strconv"

	"github.com/konstpic/marznode-stats/util/common"
	"github.com/konstpic/marznode-stats/web/service"

	"github.com/gin-gonic/gin"
)

var errHistoryDisabled = common.NewError("traffic history is disabled")

// StatsController serves per-user usage and device history.
type StatsController struct {
	statsService   *service.StatsService
	trafficService *service.UserTrafficService
}

// NewStatsController creates a new StatsController and sets up its routes.
// trafficService may be nil when all-time totals are not kept.
func NewStatsController(g *gin.RouterGroup, statsService *service.StatsService, trafficService *service.UserTrafficService) *StatsController {
	a := &StatsController{
		statsService:   statsService,
		trafficService: trafficService,
	}
	a.initRouter(g)
	return a
}

func (a *StatsController) initRouter(g *gin.RouterGroup) {
	g.GET("/stats", a.getStats)
	g.GET("/devices", a.getAllDevices)
	g.GET("/devices/:uid", a.getDevices)
	g.GET("/traffic", a.getTraffic)
	g.POST("/traffic/reset/:uid", a.resetTraffic)
}

// getStats returns per-user usage, optionally resetting the counters.
func (a *StatsController) getStats(c *gin.Context) {
	reset, err := queryBool(c, "reset")
	if err != nil {
		jsonMsg(c, "Invalid reset flag", err)
		return
	}
	jsonObj(c, a.statsService.GetStats(reset), nil)
}

func (a *StatsController) getDevices(c *gin.Context) {
	active, err := queryBool(c, "active")
	if err != nil {
		jsonMsg(c, "Invalid active flag", err)
		return
	}
	jsonObj(c, a.statsService.GetDevices(c.Param("uid"), active), nil)
}

// getAllDevices returns the devices of every user with their attributed usage.
func (a *StatsController) getAllDevices(c *gin.Context) {
	active, err := queryBool(c, "active")
	if err != nil {
		jsonMsg(c, "Invalid active flag", err)
		return
	}
	jsonObj(c, a.statsService.GetAllDevices(active), nil)
}

// getTraffic returns the stored all-time totals.
func (a *StatsController) getTraffic(c *gin.Context) {
	if a.trafficService == nil {
		jsonMsg(c, "Get traffic", errHistoryDisabled)
		return
	}
	traffics, err := a.trafficService.GetUsersTraffic()
	if err != nil {
		jsonMsg(c, "Get traffic", err)
		return
	}
	jsonObj(c, traffics, nil)
}

// resetTraffic zeroes the stored totals of one user, or of all users for "all".
func (a *StatsController) resetTraffic(c *gin.Context) {
	if a.trafficService == nil {
		jsonMsg(c, "Reset traffic", errHistoryDisabled)
		return
	}
	uid := int64(-1)
	if p := c.Param("uid"); p != "all" {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id < 0 {
			jsonMsg(c, "Invalid user ID", common.NewErrorf("bad uid %q", p))
			return
		}
		uid = id
	}
	err := a.trafficService.ResetUserTraffic(uid)
	jsonMsg(c, "Reset traffic", err)
}
