package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tilehub/tilehub/internal/cache"
	"github.com/tilehub/tilehub/internal/source"
)

// TileStore describes the cache operations the tile routes depend on. It
// allows injecting fake stores during tests.
type TileStore interface {
	GetTile(ctx context.Context, source string, key cache.TileKey) (cache.TileRecord, bool)
	PutTile(ctx context.Context, source string, key cache.TileKey, data []byte, opts cache.PutOptions) error
	ClearStore(ctx context.Context, source string) error
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Catalog    *source.Catalog
	Store      TileStore
	ListenPort int
}

const (
	contextKeySource    = "_tilehub_source"
	contextKeyRequestID = "_tilehub_request_id"
)

// NewApp builds a Fiber application with request-id middleware, panic
// recovery and the tile routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("source catalog is required")
	}
	if opts.Store == nil {
		return nil, errors.New("tile store is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	h := &tileHandler{
		logger: opts.Logger,
		store:  opts.Store,
	}
	app.Get("/tiles/:source/:z/:x/:y", withSource(opts, h.getTile))
	app.Put("/tiles/:source/:z/:x/:y", withSource(opts, h.putTile))
	app.Delete("/tiles/:source", withSource(opts, h.clearStore))

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID，并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// withSource 根据路径中的 :source 查找来源，未配置时返回 404。
func withSource(opts AppOptions, next func(fiber.Ctx, *source.Source) error) fiber.Handler {
	return func(c fiber.Ctx) error {
		name := c.Params("source")
		src, ok := opts.Catalog.Lookup(name)
		if !ok {
			return renderSourceUnknown(c, opts.Logger, name)
		}
		c.Locals(contextKeySource, src)
		return next(c, src)
	}
}

func renderSourceUnknown(c fiber.Ctx, logger *logrus.Logger, name string) error {
	logger.WithFields(logrus.Fields{
		"action":     "source_lookup",
		"source":     name,
		"request_id": RequestID(c),
	}).Warn("source unknown")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "source_unknown",
	})
}

// SourceFromContext returns the source resolved by the tile routes.
func SourceFromContext(c fiber.Ctx) (*source.Source, bool) {
	if value := c.Locals(contextKeySource); value != nil {
		if src, ok := value.(*source.Source); ok {
			return src, true
		}
	}
	return nil, false
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

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
