package controllers

import (
	"errors"
	"net/http"

	"arc/internal/errs"
	"arc/internal/models"
	"arc/services"

	"github.com/gin-gonic/gin"
)

// TunnelController handles tunnel helper HTTP requests
type TunnelController struct {
	server *services.Server
}

func NewTunnelController(server *services.Server) *TunnelController {
	return &TunnelController{
		server: server,
	}
}

// GetTunnel reports the tunnel helper process
//
//	@Summary		Get tunnel status
//	@Tags			Tunnel
//	@Produce		json
//	@Success		200	{object}	models.TunnelStatus
//	@Router			/arc/api/v1/tunnel [get]
func (tc *TunnelController) GetTunnel(c *gin.Context) {
	c.JSON(http.StatusOK, tc.server.TunnelStatus())
}

// RestartTunnel stops and starts the tunnel helper
//
//	@Summary		Restart tunnel
//	@Tags			Tunnel
//	@Produce		json
//	@Success		200	{object}	models.TunnelStatus
//	@Failure		400	{object}	models.ErrorResponse	"Tunnel disabled or misconfigured"
//	@Failure		500	{object}	models.ErrorResponse
//	@Router			/arc/api/v1/tunnel/restart [post]
func (tc *TunnelController) RestartTunnel(c *gin.Context) {
	err := tc.server.RestartTunnel(c.Request.Context())
	var cfgErr *errs.TunnelConfigurationError
	if errors.As(err, &cfgErr) {
		c.JSON(http.StatusBadRequest, &models.ErrorResponse{
			Code:  "tunnel.config",
			Error: err.Error(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, &models.ErrorResponse{
			Code:  "tunnel.restart_failed",
			Error: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, tc.server.TunnelStatus())
}

/**
 * Register tunnel routes to Gin engine
 * @param {*gin.Engine} r - Gin router instance
 */
func (tc *TunnelController) RegisterRoutes(r *gin.Engine) {
	api := r.Group(APIPrefix)
	{
		api.GET("/tunnel", tc.GetTunnel)
		api.POST("/tunnel/restart", tc.RestartTunnel)
	}
}
