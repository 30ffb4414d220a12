package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AppOptions controls how the Fiber application is assembled.
type AppOptions struct {
	Logger *logrus.Logger
	// Register attaches route handlers after the middleware chain.
	Register func(fiber.Router)
}

const contextKeyRequestID = "_preloadhub_request_id"

// NewApp builds a Fiber application with request id middleware, structured
// error handling and a JSON 404 fallback.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	if opts.Register != nil {
		opts.Register(app)
	}

	app.Use(func(c fiber.Ctx) error {
		return WriteError(c, fiber.StatusNotFound, "route_not_found", "")
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并记录访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		start := time.Now()
		err := c.Next()

		logger.WithFields(logrus.Fields{
			"action":     "http_request",
			"request_id": reqID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"elapsed_ms": time.Since(start).Milliseconds(),
		}).Debug("request handled")
		return err
	}
}

func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
			code = "http_error"
		}
		logger.WithFields(logrus.Fields{
			"action":     "http_error",
			"request_id": RequestID(c),
			"path":       c.Path(),
			"status":     status,
		}).WithError(err).Warn("request failed")
		return WriteError(c, status, code, err.Error())
	}
}

// WriteError 输出统一的 JSON 错误体 {"error": code, "message": ...}。
func WriteError(c fiber.Ctx, status int, code, message string) error {
	body := fiber.Map{"error": code}
	if message != "" {
		body["message"] = message
	}
	return c.Status(status).JSON(body)
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
