package status

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ponytojas/sensormap/internal/nearest"
	"github.com/ponytojas/sensormap/internal/tracker"
)

// SnapshotSource provides the current tracker state.
type SnapshotSource interface {
	Snapshot() *tracker.Snapshot
}

// Server exposes the tracker state over HTTP.
type Server struct {
	addr   string
	source SnapshotSource
	engine *gin.Engine
}

// New constructs a server with routes and middleware.
func New(addr string, source SnapshotSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())
	engine.Use(corsMiddleware())

	server := &Server{addr: addr, source: source, engine: engine}
	server.registerRoutes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.engine.Group("/api/v1")
	v1.GET("/nearest", s.handleNearest)
	v1.GET("/position", s.handlePosition)
	v1.GET("/sensors", s.handleSensors)
	v1.GET("/sensors/ranked", s.handleRanked)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) handleNearest(c *gin.Context) {
	snap := s.source.Snapshot()
	if snap.Result == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":        snap.Message(),
			"auth_expired": snap.AuthExpired(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": snap.Result,
		"meta": gin.H{"updated_at": snap.UpdatedAt},
	})
}

func (s *Server) handlePosition(c *gin.Context) {
	snap := s.source.Snapshot()
	if snap.Position == nil {
		msg := tracker.MsgWaitingForPosition
		if snap.LocationErr != nil {
			msg = tracker.MsgLocationUnavailable
		}
		c.JSON(http.StatusNotFound, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snap.Position})
}

func (s *Server) handleSensors(c *gin.Context) {
	snap := s.source.Snapshot()
	if snap.Sensors == nil {
		resp := gin.H{"error": tracker.MsgWaitingForSensors}
		if snap.LastError != nil {
			resp["error"] = snap.LastError.Error()
			resp["auth_expired"] = snap.AuthExpired()
		}
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": snap.Sensors,
		"meta": gin.H{
			"count":      len(snap.Sensors),
			"updated_at": snap.UpdatedAt,
		},
	})
}

type rankedSensor struct {
	ID             int     `json:"id"`
	Type           string  `json:"tipo"`
	Location       string  `json:"localizacao"`
	DistanceMeters float64 `json:"distance_m"`
}

// handleRanked lists cached sensors by distance from the current position.
func (s *Server) handleRanked(c *gin.Context) {
	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	snap := s.source.Snapshot()
	if snap.Position == nil || snap.Sensors == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": snap.Message()})
		return
	}

	ranked := nearest.Rank(snap.Sensors, snap.Position.Coordinate())
	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}

	data := make([]rankedSensor, 0, len(ranked))
	for _, r := range ranked {
		data = append(data, rankedSensor{
			ID:             r.Sensor.ID,
			Type:           string(r.Sensor.Type),
			Location:       r.Sensor.Location,
			DistanceMeters: r.DistanceMeters,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"data": data,
		"meta": gin.H{"count": len(data), "position": snap.Position},
	})
}
