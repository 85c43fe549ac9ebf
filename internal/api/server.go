// Package api exposes the engine's boundary operations over HTTP. It
// is a thin collaborator surface: errors cross it as stable codes plus
// displayable messages, never as internal detail.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/painreview/internal/engine"
)

// Server represents the API server.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	port   int
}

// NewServer creates a new API server around an engine.
func NewServer(eng *engine.Engine, port int, rateLimit float64) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if rateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(rateLimit))))
	}

	server := &Server{
		echo:   e,
		engine: eng,
		port:   port,
	}
	server.setupRoutes()
	return server
}

// setupRoutes configures all API endpoints.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")

	v1.POST("/reviews", s.submitReview)
	v1.GET("/reviews", s.queryHistory)
	v1.GET("/reviews/:id", s.getResult)
	v1.DELETE("/reviews/:id", s.cancelReview)

	v1.POST("/sessions", s.openOrJoinSession)
	v1.GET("/sessions/:id", s.getSession)
	v1.POST("/sessions/:id/contributions", s.contribute)
	v1.POST("/sessions/:id/close", s.closeSession)

	v1.GET("/events", s.pollEvents)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.engine.Shutdown(ctx); err != nil {
		return err
	}
	return s.echo.Shutdown(ctx)
}
