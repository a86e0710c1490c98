// Package server exposes the chat orchestrator over an HTTP API plus a
// WebSocket channel for incremental UI events.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/ui"
	"github.com/parleyhq/parley/pkg/types"
)

// Orchestrator is the chat entry point the server dispatches to.
type Orchestrator interface {
	HandleChatRequest(ctx context.Context, req *chat.Request) *types.ChatEnvelope
}

// ProviderLister is the minimal registry surface the server needs.
type ProviderLister interface {
	Names() []string
}

// availabilityLister is implemented by registries that can also report
// per-provider readiness.
type availabilityLister interface {
	Availability() map[string]bool
}

// Health reports data-layer liveness.
type Health interface {
	Health() error
}

// Server is the HTTP front end.
type Server struct {
	cfg          config.ServerConfig
	orchestrator Orchestrator
	providers    ProviderLister
	health       Health

	mu      sync.Mutex
	session *ui.SessionSink

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, orchestrator Orchestrator, providers ProviderLister, health Health) *Server {
	s := &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		providers:    providers,
		health:       health,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API binds to loopback; the UI shell connects without an
			// Origin header that matches.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", s.handleHealth)
	api := router.Group("/api")
	{
		api.POST("/chat", s.handleChat)
		api.GET("/ws", s.handleWebSocket)
		api.GET("/providers", s.handleProviders)
	}

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	log.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener and tears down the active UI session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}
	s.mu.Unlock()
	return s.httpSrv.Shutdown(ctx)
}

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	Messages       []types.Message `json:"messages" binding:"required,min=1"`
	User           types.User      `json:"user"`
	ConversationID int64           `json:"conversation_id"`
	Title          string          `json:"title"`
	CollectionID   string          `json:"collection_id"`
}

// handleChat runs one chat cycle. The response is always a ChatEnvelope;
// orchestration failures come back as the envelope's error form, so the only
// non-200 outcome is a malformed body.
func (s *Server) handleChat(c *gin.Context) {
	var body chatRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if body.User.ID == "" {
		body.User = types.User{ID: "local", Name: "Local User"}
	}

	env := s.orchestrator.HandleChatRequest(c.Request.Context(), &chat.Request{
		Messages:       body.Messages,
		User:           body.User,
		ConversationID: body.ConversationID,
		Title:          body.Title,
		CollectionID:   body.CollectionID,
		Sink:           s.currentSession(),
	})
	c.JSON(http.StatusOK, env)
}

// handleWebSocket upgrades the connection and binds it as the active UI
// session, replacing any previous one.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := ui.NewSessionSink(conn)

	s.mu.Lock()
	if s.session != nil {
		s.session.Close()
	}
	s.session = session
	s.mu.Unlock()

	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("ui session bound")
}

// currentSession returns the active session sink, or nil when no UI is
// connected. A nil sink degrades to fire-and-forget no-ops downstream.
func (s *Server) currentSession() ui.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || s.session.Closed() {
		return nil
	}
	return s.session
}

// providerInfo is one entry of GET /api/providers.
type providerInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// handleProviders lists configured backends. Availability is included when
// the registry supports probing it.
func (s *Server) handleProviders(c *gin.Context) {
	names := s.providers.Names()

	availability := map[string]bool{}
	if al, ok := s.providers.(availabilityLister); ok {
		availability = al.Availability()
	}

	out := make([]providerInfo, 0, len(names))
	for _, name := range names {
		avail, probed := availability[name]
		out = append(out, providerInfo{Name: name, Available: !probed || avail})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// handleHealth reports process and data-layer liveness.
func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestLogger emits one structured line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}
