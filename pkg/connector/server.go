// Package connector is the agent runtime process: it receives launch
// requests from the worker, runs one voice session per call, bridges
// the carrier's media stream, and serializes user turns through the
// tool and LLM layers.
package connector

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocero-ai/vocero/pkg/api"
	"github.com/vocero-ai/vocero/pkg/config"
	"github.com/vocero-ai/vocero/pkg/database"
	"github.com/vocero-ai/vocero/pkg/llm"
	"github.com/vocero-ai/vocero/pkg/metrics"
	"github.com/vocero-ai/vocero/pkg/session"
	"github.com/vocero-ai/vocero/pkg/store"
	"github.com/vocero-ai/vocero/pkg/tools"
	"github.com/vocero-ai/vocero/pkg/turns"
	"github.com/vocero-ai/vocero/pkg/voice"
)

// Server hosts the connector's HTTP and websocket surface.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	db         *database.Client
	voice      *voice.Manager
	llm        llm.Client
	gateway    *tools.Gateway
	serializer *turns.Serializer
	sessions   *session.Registry
	bridges    *bridgeRegistry
	metrics    *metrics.Metrics
}

// NewServer wires the connector. db may be nil in tests; health then
// skips the database probe.
func NewServer(cfg *config.Config, st *store.Store, db *database.Client,
	vm *voice.Manager, client llm.Client, gw *tools.Gateway, m *metrics.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		store:      st,
		db:         db,
		voice:      vm,
		llm:        client,
		gateway:    gw,
		serializer: turns.NewSerializer(),
		sessions:   session.NewRegistry(),
		bridges:    newBridgeRegistry(),
		metrics:    m,
	}
}

// Router builds the gin engine with all connector routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(api.RequestLogger(), gin.Recovery())

	r.POST("/internal/launch", s.HandleLaunch)
	r.POST("/runtime/sessions/:callId/user-turn", s.HandleUserTurn)
	r.GET("/media-stream", s.HandleMediaStream)
	r.GET("/health", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Health reports process health plus live session counts.
func (s *Server) Health(c *gin.Context) {
	resp := gin.H{
		"status":        "healthy",
		"voice_enabled": s.cfg.Voice.Enabled,
		"sessions":      s.sessions.Count(),
		"media_streams": s.bridges.Count(),
		"llm_provider":  s.llm.Provider(),
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if _, err := database.Health(ctx, s.db); err != nil {
			resp["status"] = "unhealthy"
			resp["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "ok"
	}
	c.JSON(http.StatusOK, resp)
}
