package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"momentum-trader/internal/engine"
	"momentum-trader/internal/events"
	"momentum-trader/pkg/db"
)

var log = logrus.WithField("component", "api")

// Server wires HTTP endpoints around the engine service.
type Server struct {
	Router    *gin.Engine
	Svc       engine.Service
	Bus       *events.Bus
	DB        *db.Database
	JWTSecret string
}

// NewServer builds the router. With an empty jwtSecret the /api group is
// left open, which is only meant for local dry runs.
func NewServer(svc engine.Service, bus *events.Bus, database *db.Database, jwtSecret string) *Server {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware(newIPLimiters(20, 50)))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Svc:       svc,
		Bus:       bus,
		DB:        database,
		JWTSecret: jwtSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	if s.JWTSecret != "" {
		api.Use(AuthMiddleware(s.JWTSecret))
	} else {
		log.Warn("api: JWT secret not set, /api is unauthenticated")
	}
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/risk", s.getRiskMetrics)
		api.PUT("/trading", s.setTrading)

		api.GET("/orders", s.getOrders)
		api.GET("/orders/:id", s.getOrder)
		api.GET("/orders/:id/reconcile", s.reconcileOrder)
		api.GET("/summary", s.getSummary)
		api.GET("/anomalies", s.getAnomalies)

		api.GET("/signals", s.getSignals)
		api.GET("/submissions", s.getSubmissions)
		api.GET("/report", s.getReport)
		api.POST("/cycle", s.triggerCycle)

		api.GET("/history/orders", s.getOrderHistory)
		api.GET("/history/orders/:id/updates", s.getOrderUpdateHistory)
		api.GET("/history/submissions", s.getSubmissionHistory)
		api.GET("/history/reports/:session", s.getStoredReport)

		api.GET("/ws", s.websocket)
	}
}

func (s *Server) health(c *gin.Context) {
	if !s.Svc.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler exposes the router for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
