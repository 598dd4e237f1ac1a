package controllers

import (
	"arc/internal/logger"
	"arc/internal/middleware"
	"arc/services"

	"github.com/gin-gonic/gin"
)

/**
 * Build the admin API engine
 * @param {*services.Server} server - coordinator of the running instance
 * @param {string} mode - gin mode, empty means release
 * @returns {*gin.Engine} engine with every controller registered
 * @description
 * - gin errors and recovered panics go to the orchestrator log
 */
func NewRouter(server *services.Server, mode string) *gin.Engine {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
	gin.DefaultErrorWriter = logger.StdLogger().Writer()

	router := gin.New()
	router.Use(gin.Recovery(), middleware.AccessLog(), middleware.MetricsMiddleware())

	NewAPIController(server).RegisterRoutes(router)
	NewSiteController(server).RegisterRoutes(router)
	NewTunnelController(server).RegisterRoutes(router)
	return router
}
