// Package server provides the HTTP/WebSocket/SSE surface for the
// document hub, built on Echo v4 exactly as the teacher wires it.
package server

import (
	"context"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/commonplace-systems/commonplace/internal/broker"
	"github.com/commonplace-systems/commonplace/internal/commitstore"
	"github.com/commonplace-systems/commonplace/internal/config"
	"github.com/commonplace-systems/commonplace/internal/docstore"
	"github.com/commonplace-systems/commonplace/internal/fsreconciler"
	"github.com/commonplace-systems/commonplace/internal/room"
)

// Server wraps the Echo instance and application dependencies.
type Server struct {
	echo *echo.Echo
	cfg  *config.Config

	docStore   *docstore.Store
	commits    commitstore.Store
	rooms      *room.Manager
	reconciler *fsreconciler.Reconciler // nil if no fs-root configured
	resolver   *broker.PathResolver     // nil alongside reconciler
}

// New creates a configured Echo server with all routes registered.
// reconciler may be nil if the deployment has no fs-root configured.
func New(cfg *config.Config, docStore *docstore.Store, commits commitstore.Store, rooms *room.Manager, reconciler *fsreconciler.Reconciler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true // We log the listen address ourselves.

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{
		echo:       e,
		cfg:        cfg,
		docStore:   docStore,
		commits:    commits,
		rooms:      rooms,
		reconciler: reconciler,
	}
	if reconciler != nil {
		s.resolver = broker.NewPathResolver(reconciler)
	}

	s.registerRoutes()
	return s
}

// Start begins listening for HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown allowing
// in-flight requests to complete.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", s.cfg.ListenAddr)
		if err := s.echo.Start(s.cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Println("Shutting down HTTP server...")
		return s.echo.Shutdown(context.Background())
	}
}
