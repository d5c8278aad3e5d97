package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/util"
)

// handleGetConfig returns the configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	red := s.cfg.Redacted()
	c.JSON(http.StatusOK, gin.H{
		"servers":          red.Servers,
		"application_data": red.ApplicationData,
	})
}

// handleUpsertServer adds or replaces a server profile. An empty or
// masked password keeps the stored one, so a profile read from
// GET /config can be sent back as is.
func (s *Server) handleUpsertServer(c *gin.Context) {
	var p config.ServerProfile
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	prev, existed := s.cfg.GetServer(p.Name)
	if existed && (p.Password == "" || p.Password == util.RedactedValue) {
		p.Password = prev.Password
	}

	s.cfg.UpsertServer(p)
	if result := config.Validate(s.cfg); !result.IsValid() {
		if existed {
			s.cfg.UpsertServer(prev)
		} else {
			s.cfg.RemoveServer(p.Name)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server profile", "details": result.Errors})
		return
	}

	if !s.persist(c, "servers", p.Name) {
		return
	}

	p.Password = util.Redact(p.Password)
	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"status": "saved", "server": p})
}

func (s *Server) handleRemoveServer(c *gin.Context) {
	name := c.Param("name")
	prev, ok := s.cfg.GetServer(name)
	if !ok || !s.cfg.RemoveServer(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found", "server": name})
		return
	}
	if result := config.Validate(s.cfg); !result.IsValid() {
		s.cfg.UpsertServer(prev)
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot remove server", "details": result.Errors})
		return
	}
	if !s.persist(c, "servers", name) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed", "server": name})
}

// persist saves the config file, when there is one, and lets the
// services pick up the change. The sync emit means the profile manager
// has caught up by the time the response is written.
func (s *Server) persist(c *gin.Context, section, key string) bool {
	if s.cfg.Path() != "" {
		if err := s.cfg.Save(); err != nil {
			log.Error().Err(err).Msg("API: failed to save config")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
			return false
		}
	}

	if s.eventBus != nil {
		ev := events.New(events.EventConfigChanged, "api", events.ConfigChangedPayload{Section: section, Key: key})
		if err := s.eventBus.EmitSync(c.Request.Context(), ev); err != nil {
			log.Warn().Err(err).Msg("API: config change handler failed")
		}
	}

	tokenName, _ := c.Get(ctxTokenName)
	log.Info().Str("section", section).Str("key", key).Interface("token", tokenName).Msg("API: configuration updated")
	return true
}

func (s *Server) handleListTokens(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	tokens, err := s.store.ListTokens()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

type createTokenRequest struct {
	Name       string `json:"name" binding:"required"`
	Permission string `json:"permission" binding:"required"`
}

// handleCreateToken returns the plaintext token. It is never shown again.
func (s *Server) handleCreateToken(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	var req createTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	perm, err := db.ParsePermission(req.Permission)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plaintext, tok, err := s.store.CreateToken(strings.TrimSpace(req.Name), perm)
	if err != nil {
		if errors.Is(err, db.ErrTokenExists) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}

	tokenName, _ := c.Get(ctxTokenName)
	log.Info().Str("name", tok.Name).Str("permission", string(perm)).Interface("by", tokenName).Msg("API: token created")
	c.JSON(http.StatusCreated, gin.H{"token": plaintext, "info": tok})
}

func (s *Server) handleRevokeToken(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	name := c.Param("name")
	if err := s.store.RevokeToken(name); err != nil {
		if errors.Is(err, db.ErrTokenNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	log.Info().Str("name", name).Msg("API: token revoked")
	c.JSON(http.StatusOK, gin.H{"status": "revoked", "name": name})
}
