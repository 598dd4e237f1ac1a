package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"arc/internal/models"
	"arc/services"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const defaultLogLines = 100

type SiteController struct {
	server *services.Server
}

/**
 * Create new site controller instance
 * @param {*services.Server} server - coordinator of the running instance
 * @returns {*SiteController} New site controller instance
 */
func NewSiteController(server *services.Server) *SiteController {
	return &SiteController{
		server: server,
	}
}

/**
 * Register all site routes to Gin engine
 * @param {*gin.Engine} r - Gin router instance
 * @description
 * - Registers routes for:
 *   - Site listing and details
 *   - Restart of service sites
 *   - On-demand health probe
 *   - Log tail
 */
func (s *SiteController) RegisterRoutes(r *gin.Engine) {
	api := r.Group(APIPrefix)
	// 站点管理接口
	api.GET("/sites", s.ListSites)
	api.GET("/sites/:name", s.GetSite)
	api.POST("/sites/:name/restart", s.RestartSite)
	api.GET("/sites/:name/health", s.CheckSite)
	api.GET("/sites/:name/logs", s.GetLogs)
}

func siteNotFound(c *gin.Context, name string) {
	c.JSON(http.StatusNotFound, &models.ErrorResponse{
		Code:  "site.notexist",
		Error: fmt.Sprintf("site [%s] isn't exist", name),
	})
}

// ListSites lists all configured sites
//
//	@Summary		List all sites
//	@Description	Get list of all configured sites with process and health state
//	@Tags			Sites
//	@Produce		json
//	@Success		200	{array}		models.SiteState
//	@Router			/arc/api/v1/sites [get]
func (s *SiteController) ListSites(c *gin.Context) {
	c.JSON(http.StatusOK, s.server.Snapshot().Sites)
}

// GetSite returns a single site
//
//	@Summary		Get site
//	@Tags			Sites
//	@Produce		json
//	@Param			name	path		string	true	"Site name"
//	@Success		200		{object}	models.SiteState
//	@Failure		404		{object}	models.ErrorResponse
//	@Router			/arc/api/v1/sites/{name} [get]
func (s *SiteController) GetSite(c *gin.Context) {
	name := c.Param("name")
	st, ok := lo.Find(s.server.Snapshot().Sites, func(st models.SiteState) bool {
		return st.Name == name
	})
	if !ok {
		siteNotFound(c, name)
		return
	}
	c.JSON(http.StatusOK, st)
}

// RestartSite restarts the process of a service site
//
//	@Summary		Restart site
//	@Tags			Sites
//	@Produce		json
//	@Param			name	path		string	true	"Site name"
//	@Success		200		{object}	map[string]interface{}
//	@Failure		400		{object}	models.ErrorResponse	"Static site"
//	@Failure		404		{object}	models.ErrorResponse
//	@Failure		500		{object}	models.ErrorResponse
//	@Router			/arc/api/v1/sites/{name}/restart [post]
func (s *SiteController) RestartSite(c *gin.Context) {
	name := c.Param("name")
	pid, err := s.server.RestartSite(c.Request.Context(), name)
	switch {
	case errors.Is(err, services.ErrSiteNotFound):
		siteNotFound(c, name)
	case errors.Is(err, services.ErrNoProcess):
		c.JSON(http.StatusBadRequest, &models.ErrorResponse{
			Code:  "site.noprocess",
			Error: fmt.Sprintf("site [%s] is static and has no process", name),
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, &models.ErrorResponse{
			Code:  "site.restart_failed",
			Error: err.Error(),
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"name":    name,
			"pid":     pid,
			"message": fmt.Sprintf("Site %s restarted", name),
		})
	}
}

// CheckSite probes a site now
//
//	@Summary		Check site health
//	@Tags			Sites
//	@Produce		json
//	@Param			name	path		string	true	"Site name"
//	@Success		200		{object}	models.HealthCheckResult
//	@Failure		404		{object}	models.ErrorResponse
//	@Router			/arc/api/v1/sites/{name}/health [get]
func (s *SiteController) CheckSite(c *gin.Context) {
	name := c.Param("name")
	res, err := s.server.CheckSite(c.Request.Context(), name)
	if err != nil {
		siteNotFound(c, name)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetLogs returns the last lines of a process log
//
//	@Summary		Tail site log
//	@Tags			Sites
//	@Produce		json
//	@Param			name	path		string	true	"Site name, or tunnel"
//	@Param			lines	query		int		false	"Number of lines, 0 for all"
//	@Success		200		{object}	map[string]interface{}
//	@Failure		400		{object}	models.ErrorResponse
//	@Failure		404		{object}	models.ErrorResponse
//	@Router			/arc/api/v1/sites/{name}/logs [get]
func (s *SiteController) GetLogs(c *gin.Context) {
	name := c.Param("name")
	n := defaultLogLines
	if v := c.Query("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, &models.ErrorResponse{
				Code:  "param.invalid",
				Error: "Invalid lines parameter",
			})
			return
		}
		n = parsed
	}
	lines, err := s.server.Logs().Tail(name, n)
	if errors.Is(err, services.ErrLogNotFound) {
		c.JSON(http.StatusNotFound, &models.ErrorResponse{
			Code:  "log.notexist",
			Error: fmt.Sprintf("no log for [%s]", name),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, &models.ErrorResponse{
			Code:  "log.invalid",
			Error: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":  name,
		"lines": lines,
	})
}
