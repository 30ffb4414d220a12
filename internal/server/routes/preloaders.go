package routes

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/preload-hub/preload-hub/internal/bridge"
	"github.com/preload-hub/preload-hub/internal/engine"
	"github.com/preload-hub/preload-hub/internal/server"
	"github.com/preload-hub/preload-hub/internal/source"
)

// Preloader 是路由依赖的桥接模块能力，测试中可替换。
type Preloader interface {
	CreatePreloader(ctx context.Context) (int, error)
	Preload(ctx context.Context, id int, sources []map[string]any) (int, error)
	ClearMemoryCache(ctx context.Context) error
	ClearDiskCache(ctx context.Context) error
	GetCachePath(ctx context.Context, raw map[string]any) (*string, error)
	Diagnostics() bridge.Diagnostics
}

type preloadRequest struct {
	Sources []map[string]any `json:"sources"`
}

// RegisterPreloadRoutes 挂载 createPreloader / preload / 缓存操作接口。
func RegisterPreloadRoutes(router fiber.Router, module Preloader) {
	if router == nil || module == nil {
		return
	}

	router.Post("/preloaders", func(c fiber.Ctx) error {
		id, err := module.CreatePreloader(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"id": id})
	})

	router.Post("/preloaders/:id/preload", func(c fiber.Ctx) error {
		id, err := strconv.Atoi(c.Params("id"))
		if err != nil || id < 0 {
			return server.WriteError(c, fiber.StatusBadRequest, "invalid_preloader_id", c.Params("id"))
		}
		var payload preloadRequest
		if err := json.Unmarshal(c.Body(), &payload); err != nil {
			return server.WriteError(c, fiber.StatusBadRequest, "invalid_body", err.Error())
		}
		total, err := module.Preload(c.Context(), id, payload.Sources)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": id, "total": total})
	})

	router.Post("/cache/memory/clear", func(c fiber.Ctx) error {
		if err := module.ClearMemoryCache(c.Context()); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	router.Post("/cache/disk/clear", func(c fiber.Ctx) error {
		if err := module.ClearDiskCache(c.Context()); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	router.Post("/cache/path", func(c fiber.Ctx) error {
		var raw map[string]any
		if err := json.Unmarshal(c.Body(), &raw); err != nil {
			return server.WriteError(c, fiber.StatusBadRequest, "invalid_body", err.Error())
		}
		path, err := module.GetCachePath(c.Context(), raw)
		switch {
		case errors.Is(err, source.ErrInvalidSource):
			return server.WriteError(c, fiber.StatusBadRequest, "invalid_source", err.Error())
		case errors.Is(err, engine.ErrLoadFailed):
			return server.WriteError(c, fiber.StatusBadGateway, engine.ErrLoadFailed.Error(), err.Error())
		case err != nil:
			return err
		}
		return c.JSON(fiber.Map{"path": path})
	})
}
