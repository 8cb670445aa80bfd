package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/billpay/internal/routes"
)

// Server wraps the Fiber application and the services behind it.
type Server struct {
	app      *fiber.App
	deps     routes.Deps
	services *routes.Services
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(d routes.Deps) (*Server, error) {
	services, err := routes.NewServices(d)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:      d.Cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: d.Cfg.DispatchTimeout + 15*time.Second,
		ErrorHandler: errorHandler,
	})
	routes.Setup(app, d, services)

	return &Server{app: app, deps: d, services: services}, nil
}

// Services exposes the domain services, e.g. for the sweeper.
func (s *Server) Services() *routes.Services {
	return s.services
}

// App returns the underlying Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.deps.Cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders errors as JSON.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	reqID, _ := c.Locals("X-Request-ID").(string)
	return c.Status(code).JSON(fiber.Map{
		"error":      err.Error(),
		"request_id": reqID,
	})
}
