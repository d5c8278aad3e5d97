package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/minecraft"
	"github.com/energizer-project/rconsole/internal/util"
)

// maxHistoryLimit caps the limit query parameter of the history endpoint.
const maxHistoryLimit = 500

func (s *Server) handleListServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"servers":   s.manager.Statuses(),
		"connected": s.manager.ConnectedCount(),
	})
}

func (s *Server) handleGetServer(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, inst.Status())
}

// handleGetPlayers returns the last polled player list. It does not query
// the server; POST .../refresh does.
func (s *Server) handleGetPlayers(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}
	snap := inst.State().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"server":      inst.Name(),
		"online":      len(snap.Players),
		"max":         snap.MaxPlayers,
		"players":     snap.Players,
		"last_polled": snap.LastPoll,
	})
}

func (s *Server) handleGetHistory(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.store.QueryHistory(db.HistoryFilter{
		Server:     c.Query("server"),
		Source:     c.Query("source"),
		OnlyFailed: c.Query("failed") == "true",
		Limit:      limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"history": entries,
	})
}

// handleGetCommands lists the command templates and quick commands.
func (s *Server) handleGetCommands(c *gin.Context) {
	names := minecraft.TemplateNames()
	templates := make([]minecraft.Template, 0, len(names))
	for _, n := range names {
		templates = append(templates, minecraft.Templates[n])
	}
	c.JSON(http.StatusOK, gin.H{
		"templates": templates,
		"quick":     minecraft.QuickCommands,
	})
}

func (s *Server) handleGetUsage(c *gin.Context) {
	c.JSON(http.StatusOK, util.GetUsage())
}
