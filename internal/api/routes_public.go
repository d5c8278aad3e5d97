package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconsole/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rconsole",
		"version": Version,
	})
}

// handleInfo returns host details and profile counts.
func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":           Version,
		"host":              util.GetHostInfo(),
		"servers":           len(s.manager.List()),
		"connected_servers": s.manager.ConnectedCount(),
	})
}
