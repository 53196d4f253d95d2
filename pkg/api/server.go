package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/agent"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/config"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/events"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/export"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
)

// Server is the HTTP API server.
type Server struct {
	cfg      *config.Config
	sessions *SessionManager
	log      *slog.Logger

	engine *gin.Engine
	http   *http.Server
}

// NewServer wires the routes.
func NewServer(cfg *config.Config, sessions *SessionManager, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		log:      log,
		engine:   engine,
	}

	engine.GET("/health", s.health)
	api := engine.Group("/api")
	{
		api.POST("/agent", s.createSession)
		api.GET("/agent/:id", s.getSession)
		api.GET("/agent/:id/ws", s.sessionWS)
		api.POST("/agent/:id/export", s.exportToGitHub)
		api.GET("/agent/:id/export/bundle", s.exportBundle)
		api.DELETE("/agent/:id", s.closeSession)
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and closes all sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.CloseAll()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": s.sessions.Count(),
	})
}

type createSessionRequest struct {
	Query        string `json:"query" binding:"required"`
	ProjectType  string `json:"projectType"`
	TemplateName string `json:"templateName"`
	AgentMode    string `json:"agentMode"`
	UserID       string `json:"userId"`
}

// createSession streams NDJSON progress lines: a creation notice, then either
// the session coordinates or an error line.
func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	projectType := models.ProjectType(req.ProjectType)
	if req.ProjectType == "" {
		projectType = models.ProjectTypeApp
	}

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.WriteHeader(http.StatusOK)
	writeLine := func(v any) {
		raw, err := json.Marshal(v)
		if err != nil {
			return
		}
		_, _ = c.Writer.Write(append(raw, '\n'))
		c.Writer.Flush()
	}

	writeLine(gin.H{"message": "Creating your session"})

	session, err := s.sessions.Create(c.Request.Context(), agent.InitArgs{
		Query:        req.Query,
		ProjectType:  projectType,
		TemplateName: req.TemplateName,
		Hostname:     s.cfg.Hostname,
		AgentMode:    models.AgentMode(req.AgentMode),
		InferenceContext: models.InferenceContext{
			UserID: req.UserID,
		},
	})
	if err != nil {
		s.log.Error("Session creation failed", "error", err)
		writeLine(gin.H{"error": err.Error()})
		return
	}

	writeLine(gin.H{
		"agentId":      session.ID(),
		"websocketUrl": "ws://" + s.cfg.Hostname + "/api/agent/" + session.ID() + "/ws",
		"message":      "Session created",
	})
}

func (s *Server) getSession(c *gin.Context) {
	session, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	snap := session.State().Get()
	c.JSON(http.StatusOK, gin.H{
		"agentId":     session.ID(),
		"projectName": snap.ProjectName,
		"projectType": snap.ProjectType,
		"generating":  session.Generating(),
		"fileCount":   len(snap.GeneratedFilesMap),
	})
}

// sessionWS upgrades to WebSocket, attaches the connection to the session bus,
// and pumps inbound control frames until the client disconnects.
func (s *Server) sessionWS(c *gin.Context) {
	session, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "session_id", session.ID(), "error", err)
		return
	}

	channelID := session.Bus().Attach(&events.WSSink{Conn: conn})
	defer session.Bus().Detach(channelID)
	s.log.Info("WebSocket channel attached", "session_id", session.ID(), "channel_id", channelID)

	ctx := c.Request.Context()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			s.log.Debug("WebSocket closed", "session_id", session.ID(), "channel_id", channelID, "error", err)
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		session.HandleControlFrame(ctx, channelID, data)
	}
}

type exportRequest struct {
	Repository string `json:"repository" binding:"required"`
	Branch     string `json:"branch"`
}

func (s *Server) exportToGitHub(c *gin.Context) {
	session, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exporter := export.NewGitHubExporter(
		session.VCS(),
		session.Bus(),
		export.EnvCredentials{Var: s.cfg.GitHubTokenVar},
		s.cfg.GitHubAPIURL,
		s.log,
	)
	url, err := exporter.Push(c.Request.Context(), req.Repository, req.Branch)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"repositoryUrl": url})
}

func (s *Server) exportBundle(c *gin.Context) {
	session, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	bundle, err := export.ExportBundle(c.Request.Context(), session.VCS())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func (s *Server) closeSession(c *gin.Context) {
	if err := s.sessions.Close(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true})
}
