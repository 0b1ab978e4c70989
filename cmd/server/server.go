package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/sentinel/console/internal/infrastructure/logger"
	transporthttp "github.com/sentinel/console/internal/transport/http"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	app, err := bootstrap(cfg, log)
	if err != nil {
		log.Errorw("bootstrap_failed", "error", err)
		return err
	}

	server := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ErrorHandler:          globalErrorHandler(log),
		DisableStartupMessage: true,
	})

	server.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	allowedOrigins := "*"
	if len(cfg.Auth.AllowedOrigins) > 0 {
		allowedOrigins = strings.Join(cfg.Auth.AllowedOrigins, ",")
	}
	server.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
		AllowMethods: "GET, POST, HEAD",
	}))

	server.Use(func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals(requestIDKey{}, reqID)
		c.SetUserContext(context.WithValue(c.UserContext(), requestIDKey{}, reqID))
		c.Set(requestIDHeader, reqID)
		return c.Next()
	})

	server.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		routePath := ""
		if c.Route() != nil {
			routePath = c.Route().Path
		}
		log.Debugw("http_access",
			"method", c.Method(),
			"path", c.Path(),
			"route", routePath,
			"status", c.Response().StatusCode(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.IP(),
			"request_id", c.Locals(requestIDKey{}),
		)
		return err
	})

	transporthttp.SetupRoutes(server, transporthttp.RouterConfig{
		Logger:   log.Named("http"),
		Config:   cfg,
		Tasks:    app.tasks,
		Notifier: app.router,
		Hub:      app.hub,
		Metrics:  app.metrics,
		Store:    app.store,
		Ready:    app.ready,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.start(ctx); err != nil {
		app.shutdown()
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Listen(cfg.Server.Address())
	}()
	log.Infof("server started on %s", cfg.Server.Address())

	return gracefulShutdown(server, app, serveErr)
}

func globalErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
		}

		if code < fiber.StatusInternalServerError {
			log.Warnw("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", c.Locals(requestIDKey{}),
			)
		} else {
			log.Errorw("request error",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", c.Locals(requestIDKey{}),
			)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

// gracefulShutdown blocks until a signal or a listener failure, then stops
// HTTP first so no request observes a closed component.
func gracefulShutdown(server *fiber.App, app *application, serveErr <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var listenErr error
	select {
	case sig := <-quit:
		app.log.Infow("shutting down server", "signal", sig.String())
	case listenErr = <-serveErr:
		app.log.Errorw("server failed", "error", listenErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.ShutdownWithContext(ctx); err != nil {
		app.log.Errorf("server forced to shutdown: %v", err)
	}
	app.shutdown()

	app.log.Info("server exited gracefully")
	return listenErr
}
