package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/minecraft"
	"github.com/energizer-project/rconsole/internal/rcon"
	"github.com/energizer-project/rconsole/internal/server"
	"github.com/energizer-project/rconsole/internal/util"
)

// maxCommandLength bounds a command body. The wire limit is lower still;
// the engine rejects what does not fit in one packet.
const maxCommandLength = 4096

// commandContext detaches the command from the HTTP request. A client
// that hangs up mid-command would otherwise cancel it, which fails the
// RCON session for everyone.
func commandContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (s *Server) handleConnect(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}
	if err := inst.Connect(commandContext(c)); err != nil {
		s.connectError(c, inst, err)
		return
	}
	s.logAction(c, inst, "connect")
	c.JSON(http.StatusOK, inst.Status())
}

func (s *Server) handleDisconnect(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}
	if err := inst.Disconnect(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logAction(c, inst, "disconnect")
	c.JSON(http.StatusOK, inst.Status())
}

func (s *Server) handleReconnect(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}
	if err := inst.Reconnect(commandContext(c)); err != nil {
		s.connectError(c, inst, err)
		return
	}
	s.logAction(c, inst, "reconnect")
	c.JSON(http.StatusOK, inst.Status())
}

func (s *Server) connectError(c *gin.Context, inst *server.Instance, err error) {
	status := http.StatusBadGateway
	if ae, ok := rcon.AsAuthError(err); ok && ae.Kind == rcon.AuthRejected {
		status = http.StatusUnauthorized
	}
	log.Warn().Err(err).Str("server", inst.Name()).Msg("API: connect failed")
	c.JSON(status, gin.H{
		"error":     err.Error(),
		"server":    inst.Name(),
		"retryable": rcon.IsRetryable(err),
	})
}

type runRequest struct {
	Command string `json:"command" binding:"required"`
}

func (s *Server) handleRun(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}

	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	command := strings.TrimSpace(req.Command)
	switch {
	case command == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is empty"})
		return
	case len(command) > maxCommandLength:
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is too long"})
		return
	case strings.ContainsAny(command, "\r\n"):
		c.JSON(http.StatusBadRequest, gin.H{"error": "command must be a single line"})
		return
	}

	start := time.Now()
	resp, err := inst.Run(commandContext(c), command, db.SourceAPI)
	if err != nil {
		s.commandError(c, inst, err)
		return
	}
	s.logAction(c, inst, util.ScrubCommand(command))
	c.JSON(http.StatusOK, gin.H{
		"server":      inst.Name(),
		"response":    resp,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

type actionRequest struct {
	Args minecraft.Args `json:"args"`
}

// handleAction runs a named command template, or a quick command when
// the action is "quick" and args holds {"name": ...}.
func (s *Server) handleAction(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}

	var req actionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	action := c.Param("action")
	admin := inst.Admin(db.SourceAPI)

	var (
		resp string
		err  error
	)
	if action == "quick" {
		resp, err = admin.Quick(commandContext(c), req.Args["name"])
	} else {
		resp, err = admin.Do(commandContext(c), action, req.Args)
	}
	if err != nil {
		switch {
		case errors.Is(err, minecraft.ErrUnknownTemplate):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "action": action})
		case errors.Is(err, minecraft.ErrMissingArg), errors.Is(err, minecraft.ErrInvalidArg):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "action": action})
		default:
			s.commandError(c, inst, err)
		}
		return
	}

	s.logAction(c, inst, action)
	c.JSON(http.StatusOK, gin.H{
		"server":   inst.Name(),
		"action":   action,
		"response": resp,
	})
}

func (s *Server) handleRefreshPlayers(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}
	list, err := inst.RefreshPlayers(commandContext(c))
	if err != nil {
		s.commandError(c, inst, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"server":  inst.Name(),
		"online":  list.Online,
		"max":     list.Max,
		"players": list.Players,
	})
}

func (s *Server) commandError(c *gin.Context, inst *server.Instance, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, server.ErrNotConnected) {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"error":     err.Error(),
		"server":    inst.Name(),
		"connected": inst.IsConnected(),
	})
}

func (s *Server) logAction(c *gin.Context, inst *server.Instance, action string) {
	tokenName, _ := c.Get(ctxTokenName)
	log.Info().
		Str("server", inst.Name()).
		Str("action", action).
		Interface("token", tokenName).
		Msg("API: control action")
}
