package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"traffic-observer/src/cache"
	"traffic-observer/src/logger"
	"traffic-observer/src/metrics"
	"traffic-observer/src/models"
	"traffic-observer/src/service"

	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server exposes the aggregation API over HTTP and pushes refresh events over
// websockets. It also implements the refresh-notifier contract the ETL runner
// broadcasts through.
type Server struct {
	Config  *models.MConfig
	Logger  *logger.Logger
	Service *service.TrafficService
	Cache   *cache.ResultCache
	Metrics *metrics.Registry
	engine  *gin.Engine

	// WebSocket clients. Only the hub goroutine touches the map;
	// clientCount mirrors its size for handlers.
	clients     map[*Client]struct{}
	clientCount atomic.Int64
	broadcast   chan models.MRefreshEvent
	register    chan *Client
	unregister  chan *Client
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewServer(cfg *models.MConfig, svc *service.TrafficService, resultCache *cache.ResultCache, reg *metrics.Registry, log *logger.Logger) *Server {
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		Config:  cfg,
		Logger:  log,
		Service: svc,
		Cache:   resultCache,
		Metrics: reg,
		engine:  gin.Default(),
		clients: make(map[*Client]struct{}),
		// Buffered so a burst of ETL runs never blocks the runner.
		broadcast:  make(chan models.MRefreshEvent, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}

	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.engine.GET("/api/aggregate", s.getAggregate)
	s.engine.GET("/api/stores", s.getStores)
	s.engine.GET("/api/health", s.getHealth)

	// Ops surface.
	s.engine.POST("/internal/cache/clear", s.postCacheClear)
	s.engine.GET("/metrics", gin.WrapH(s.Metrics.Handler()))

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	go s.handleWebsockets()

	return s.engine.Run(addr)
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

// getAggregate answers GET /api/aggregate?period=&start_date=&end_date=&store=&include_outliers=
func (s *Server) getAggregate(c *gin.Context) {
	start, err := time.Parse(dateLayout, c.Query("start_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid start_date: %v", err)})
		return
	}
	end, err := time.Parse(dateLayout, c.Query("end_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid end_date: %v", err)})
		return
	}

	req, err := models.NewAggregationRequest(
		c.Query("period"),
		start,
		end,
		c.Query("store"),
		c.Query("include_outliers") == "true",
	)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.Service.Aggregate(c.Request.Context(), req)
	if err != nil {
		s.Logger.Error("Aggregation failed for %s: %v", req.Fingerprint(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregation failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// -----------------------------------------------------------------------------

func (s *Server) getStores(c *gin.Context) {
	stores, err := s.Service.ListStores(c.Request.Context())
	if err != nil {
		s.Logger.Error("Store listing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stores": stores})
}

// -----------------------------------------------------------------------------

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": s.clientCount.Load(),
	})
}

// -----------------------------------------------------------------------------

// postCacheClear drops every cached aggregation. Meant for operators after a
// manual backfill or a business-rule change.
func (s *Server) postCacheClear(c *gin.Context) {
	s.Cache.Invalidate(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
