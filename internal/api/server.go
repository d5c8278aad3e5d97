package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/events"
	intnet "github.com/energizer-project/rconsole/internal/network"
	"github.com/energizer-project/rconsole/internal/server"
	"github.com/energizer-project/rconsole/internal/util"
)

// Version is reported by the public endpoints. It is set at build time.
var Version = "dev"

// Store is the persistence the API needs. *db.Database implements it.
type Store interface {
	VerifyToken(plaintext string) (db.Token, error)
	CreateToken(name string, perm db.Permission) (string, db.Token, error)
	ListTokens() ([]db.Token, error)
	RevokeToken(nameOrID string) error
	QueryHistory(f db.HistoryFilter) ([]db.HistoryEntry, error)
}

// Server is the REST API server.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  *server.Manager
	store    Store

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server and builds its routes. store may be
// nil, in which case history and token endpoints answer 503 and only
// auth_disabled access works.
func NewServer(cfg *config.Config, eventBus *events.EventBus, manager *server.Manager, store Store) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		store:    store,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	app := s.cfg.GetApplicationData()
	addr := net.JoinHostPort(app.API.ListenAddr, strconv.Itoa(app.API.Port))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sec := app.Security
	if sec.TLSEnabled {
		if err := util.EnsureSelfSignedCert(sec.TLSCertFile, sec.TLSKeyFile, app.API.ListenAddr); err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(sec.TLSCertFile, sec.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", sec.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if sec.TLSEnabled {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	sec := s.cfg.GetApplicationData().Security

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := sec.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(sec.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	auth := NewAuthMiddleware(s.store, s.cfg)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	protected := router.Group("/api")
	protected.Use(auth.RequireAuth())

	monitor := protected.Group("/monitor")
	monitor.Use(auth.RequirePermission(db.PermMonitor))
	{
		monitor.GET("/servers", s.handleListServers)
		monitor.GET("/servers/:name", s.handleGetServer)
		monitor.GET("/servers/:name/players", s.handleGetPlayers)
		monitor.GET("/history", s.handleGetHistory)
		monitor.GET("/commands", s.handleGetCommands)
		monitor.GET("/usage", s.handleGetUsage)
	}

	control := protected.Group("/control")
	control.Use(auth.RequirePermission(db.PermControl))
	{
		control.POST("/servers/:name/connect", s.handleConnect)
		control.POST("/servers/:name/disconnect", s.handleDisconnect)
		control.POST("/servers/:name/reconnect", s.handleReconnect)
		control.POST("/servers/:name/run", s.handleRun)
		control.POST("/servers/:name/action/:action", s.handleAction)
		control.POST("/servers/:name/refresh", s.handleRefreshPlayers)
	}

	configure := protected.Group("/configure")
	configure.Use(auth.RequirePermission(db.PermConfigure))
	{
		configure.GET("/config", s.handleGetConfig)
		configure.POST("/servers", s.handleUpsertServer)
		configure.DELETE("/servers/:name", s.handleRemoveServer)
		configure.GET("/tokens", s.handleListTokens)
		configure.POST("/tokens", s.handleCreateToken)
		configure.DELETE("/tokens/:name", s.handleRevokeToken)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "rconsole API is running", "version": Version})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// instance resolves the :name parameter, answering 404 when unknown.
func (s *Server) instance(c *gin.Context) (*server.Instance, bool) {
	name := c.Param("name")
	inst, ok := s.manager.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found", "server": name})
		return nil, false
	}
	return inst, true
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database is not available"})
		return false
	}
	return true
}
