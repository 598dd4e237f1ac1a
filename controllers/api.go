package controllers

import (
	"net/http"

	"arc/internal/models"
	"arc/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIPrefix is the route group of the management API
const APIPrefix = "/arc/api/v1"

type APIController struct {
	server *services.Server
}

/**
 * Create new API controller instance
 * @param {*services.Server} server - coordinator of the running instance
 * @returns {*APIController} New API controller instance
 * @example
 * controller := controllers.NewAPIController(server)
 * controller.RegisterRoutes(router)
 */
func NewAPIController(server *services.Server) *APIController {
	return &APIController{
		server: server,
	}
}

/**
 * Register instance-wide routes to Gin engine
 * @param {*gin.Engine} r - Gin router instance
 * @description
 * - /healthz and /metrics sit outside the versioned group
 * - status, reload and check live under /arc/api/v1
 */
func (a *APIController) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", a.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group(APIPrefix)
	api.GET("/status", a.Status)
	api.POST("/reload", a.ReloadConfig)
	api.POST("/check", a.Check)
}

// @Summary 实例状态快照
// @Description 返回站点、进程和健康汇总
// @Tags System
// @Produce json
// @Success 200 {object} models.Snapshot
// @Router /arc/api/v1/status [get]
func (a *APIController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, a.server.Snapshot())
}

// @Summary 重新加载配置
// @Description 从磁盘重新读取配置文件并应用；被拒绝时保留当前配置
// @Tags Config
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} models.ErrorResponse
// @Router /arc/api/v1/reload [post]
func (a *APIController) ReloadConfig(c *gin.Context) {
	if err := a.server.ReloadFromDisk(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, &models.ErrorResponse{
			Code:  "config.reload_failed",
			Error: "Failed to reload configuration: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Configuration reloaded successfully",
	})
}

// @Summary 执行健康检查
// @Description 立即探测所有站点并记录结果
// @Tags System
// @Produce json
// @Success 200 {object} models.CheckResponse
// @Router /arc/api/v1/check [post]
func (a *APIController) Check(c *gin.Context) {
	c.JSON(http.StatusOK, a.server.CheckAll(c.Request.Context()))
}

// @Summary 业务就绪探针
// @Description 返回版本、启动时间、健康状态和关键指标
// @Tags System
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Router /healthz [get]
func (a *APIController) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, a.server.GetHealthz())
}
