package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/hpc_job_server/internal/pkg/ws"
)

// Health GET /health
func Health(hub *ws.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": hub.ConnectionCount(),
		})
	}
}
