package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"finance-relay/src/logger"
	"finance-relay/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// RelayServer
// -----------------------------------------------------------------------------

type RelayServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	Relay  *Relay
	engine *gin.Engine

	upgrader websocket.Upgrader
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewRelayServer(cfg *models.MConfig, log *logger.Logger, relay *Relay) *RelayServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &RelayServer{
		Config: cfg,
		Logger: log,
		Relay:  relay,
		engine: gin.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the dev frontend origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// setup web routes
	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *RelayServer) setupRoutes() {
	// REST API endpoints
	s.engine.GET("/", s.getRoot)
	s.engine.GET("/healthcheck", s.getHealthcheck)
	s.engine.GET("/api/health", s.getHealth)
	s.engine.POST("/api/chat", s.postChatStream)
	s.engine.POST("/api/chat/json", s.postChatJSON)

	// WebSocket endpoint
	s.engine.GET("/ws/chat/:user_id", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *RelayServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	return s.engine.Run(addr)
}

// -----------------------------------------------------------------------------
// REST Handlers
// -----------------------------------------------------------------------------

func (s *RelayServer) getRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("%s API is running", s.Config.Name),
	})
}

// -----------------------------------------------------------------------------

func (s *RelayServer) getHealthcheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// -----------------------------------------------------------------------------

func (s *RelayServer) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"active_connections": s.Relay.Registry.Count(),
		"agent":              s.Config.Agent.DisplayName,
	})
}

// -----------------------------------------------------------------------------

// postChatStream is the stateless SSE chat endpoint. The caller sends
// its own history, the reply streams back as data frames and ends with
// a [DONE] terminator.
func (s *RelayServer) postChatStream(c *gin.Context) {
	var req models.MChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := s.Relay.Agent.StreamTurn(c.Request.Context(), restHistory(req.History),
		models.MTurn{Role: "user", Content: req.Message})
	if err != nil {
		s.Logger.Error("Chat stream failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	for event := range events {
		if event.Kind != models.AgentToken {
			continue
		}
		frame, _ := json.Marshal(gin.H{"content": event.Token})
		fmt.Fprintf(c.Writer, "data: %s\n\n", frame)
		c.Writer.Flush()
	}

	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

// -----------------------------------------------------------------------------

// postChatJSON buffers the whole reply for clients that cannot consume
// server-sent events.
func (s *RelayServer) postChatJSON(c *gin.Context) {
	var req models.MChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := s.Relay.Agent.StreamTurn(c.Request.Context(), restHistory(req.History),
		models.MTurn{Role: "user", Content: req.Message})
	if err != nil {
		s.Logger.Error("Chat completion failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	var reply strings.Builder
	for event := range events {
		if event.Kind == models.AgentToken {
			reply.WriteString(event.Token)
		}
	}

	c.JSON(http.StatusOK, gin.H{"content": reply.String()})
}

// -----------------------------------------------------------------------------
// WebSocket Handler
// -----------------------------------------------------------------------------

func (s *RelayServer) handleWebSocket(c *gin.Context) {
	userID := c.Param("user_id")
	if strings.TrimSpace(userID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Error("WebSocket upgrade failed: %v", err)
		return
	}

	s.Logger.Info("WebSocket connected for user %s", userID)

	// Run blocks for the connection's lifetime; gin has already handed
	// the socket over, so this goroutine is ours to hold.
	s.Relay.Run(NewWSTransport(conn), userID)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func restHistory(payload []models.MChatTurnPayload) []models.MTurn {
	turns := make([]models.MTurn, 0, len(payload))
	for _, p := range payload {
		turns = append(turns, models.MTurn{Role: p.Role, Content: p.Content})
	}
	return turns
}
