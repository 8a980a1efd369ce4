// Package api exposes the REST query surface: event queries, polling
// status, health, readiness, and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quakewatch/quake-alert-service/internal/domain"
	"github.com/quakewatch/quake-alert-service/internal/scheduler"
	"github.com/quakewatch/quake-alert-service/internal/store"
)

const (
	defaultLimit = 10
	maxLimit     = 500
)

// EventStore is the read surface the API serves from.
type EventStore interface {
	Ping(ctx context.Context) error
	LatestEvents(ctx context.Context, limit int) ([]domain.Earthquake, error)
	EventsByDay(ctx context.Context, year, month, day int) ([]domain.Earthquake, error)
	EventsByWeek(ctx context.Context, year, week int) ([]domain.Earthquake, error)
	EventsByMonth(ctx context.Context, year, month int) ([]domain.Earthquake, error)
	SearchEvents(ctx context.Context, f store.SearchFilter) ([]domain.Earthquake, error)
}

// StatusProvider reports the polling loop state.
type StatusProvider interface {
	Status() scheduler.Status
}

// Server wraps the HTTP listener around the gin router.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the router and listener.
func NewServer(addr string, st EventStore, poller StatusProvider, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "quake-alert-service",
			"endpoints": []string{
				"/health", "/ready", "/metrics", "/polling/status",
				"/earthquakes/latest", "/earthquakes/day/:date",
				"/earthquakes/week/:year/:week", "/earthquakes/month/:year/:month",
				"/earthquakes/search",
			},
		})
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/polling/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, poller.Status())
	})

	quakes := r.Group("/earthquakes")
	quakes.GET("/latest", handleLatest(st))
	quakes.GET("/day/:date", handleByDay(st))
	quakes.GET("/week/:year/:week", handleByWeek(st))
	quakes.GET("/month/:year/:month", handleByMonth(st))
	quakes.GET("/search", handleSearch(st))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains connections within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the router, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// respond wraps event lists in the {"count", "data"} envelope. A nil slice
// serializes as an empty array, not null.
func respond(c *gin.Context, events []domain.Earthquake, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []domain.Earthquake{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(events), "data": events})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func handleLatest(st EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultLimit
		if raw := c.Query("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 || v > maxLimit {
				badRequest(c, "limit must be an integer between 1 and 500")
				return
			}
			limit = v
		}
		events, err := st.LatestEvents(c.Request.Context(), limit)
		respond(c, events, err)
	}
}

func handleByDay(st EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		day, err := time.Parse("2006-01-02", c.Param("date"))
		if err != nil {
			badRequest(c, "date must be YYYY-MM-DD")
			return
		}
		events, err := st.EventsByDay(c.Request.Context(), day.Year(), int(day.Month()), day.Day())
		respond(c, events, err)
	}
}

func handleByWeek(st EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		year, err1 := strconv.Atoi(c.Param("year"))
		week, err2 := strconv.Atoi(c.Param("week"))
		if err1 != nil || err2 != nil || week < 1 || week > 53 {
			badRequest(c, "year and week must be integers, week between 1 and 53")
			return
		}
		events, err := st.EventsByWeek(c.Request.Context(), year, week)
		respond(c, events, err)
	}
}

func handleByMonth(st EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		year, err1 := strconv.Atoi(c.Param("year"))
		month, err2 := strconv.Atoi(c.Param("month"))
		if err1 != nil || err2 != nil || month < 1 || month > 12 {
			badRequest(c, "year and month must be integers, month between 1 and 12")
			return
		}
		events, err := st.EventsByMonth(c.Request.Context(), year, month)
		respond(c, events, err)
	}
}

func handleSearch(st EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f store.SearchFilter

		if raw := c.Query("min_magnitude"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				badRequest(c, "min_magnitude must be a number")
				return
			}
			f.MinMagnitude = &v
		}
		if raw := c.Query("max_magnitude"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				badRequest(c, "max_magnitude must be a number")
				return
			}
			f.MaxMagnitude = &v
		}
		if raw := c.Query("start"); raw != "" {
			v, err := time.Parse("2006-01-02", raw)
			if err != nil {
				badRequest(c, "start must be YYYY-MM-DD")
				return
			}
			f.From = &v
		}
		if raw := c.Query("end"); raw != "" {
			v, err := time.Parse("2006-01-02", raw)
			if err != nil {
				badRequest(c, "end must be YYYY-MM-DD")
				return
			}
			end := v.Add(24*time.Hour - time.Nanosecond)
			f.To = &end
		}
		f.Location = c.Query("location")

		f.Limit = defaultLimit * 10
		if raw := c.Query("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 || v > maxLimit {
				badRequest(c, "limit must be an integer between 1 and 500")
				return
			}
			f.Limit = v
		}

		events, err := st.SearchEvents(c.Request.Context(), f)
		respond(c, events, err)
	}
}
