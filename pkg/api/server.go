// Package api is the control-plane HTTP surface: the carrier webhook
// that accepts calls and the one-shot dispatch claim endpoint, plus
// health and metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocero-ai/vocero/pkg/auth"
	"github.com/vocero-ai/vocero/pkg/config"
	"github.com/vocero-ai/vocero/pkg/database"
	"github.com/vocero-ai/vocero/pkg/metrics"
	"github.com/vocero-ai/vocero/pkg/store"
)

// Server holds the handler dependencies.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	db      *database.Client
	tokens  *auth.ServiceTokenService
	metrics *metrics.Metrics
}

// NewServer creates the control-plane server. db may be nil in tests
// that exercise handlers directly against a store.
func NewServer(cfg *config.Config, st *store.Store, db *database.Client, tokens *auth.ServiceTokenService, m *metrics.Metrics) *Server {
	return &Server{cfg: cfg, store: st, db: db, tokens: tokens, metrics: m}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(), gin.Recovery())

	r.POST("/webhooks/twilio/voice", s.HandleVoiceWebhook)
	r.POST("/v1/dispatches/:id/claim", s.HandleClaimDispatch)
	r.GET("/health", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Health reports process and database health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if s.db != nil {
		dbHealth, err := database.Health(ctx, s.db)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": dbHealth,
				"error":    err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": dbHealth})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
