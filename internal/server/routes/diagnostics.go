package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/preload-hub/preload-hub/internal/events"
	"github.com/preload-hub/preload-hub/internal/server"
)

const (
	defaultEventWait = 25 * time.Second
	maxEventWait     = 60 * time.Second
)

// RegisterDiagnosticsRoutes 暴露 /-/preloaders 与 /-/events 诊断接口。
func RegisterDiagnosticsRoutes(router fiber.Router, module Preloader, bus *events.Bus) {
	if router == nil {
		return
	}

	if module != nil {
		router.Get("/-/preloaders", func(c fiber.Ctx) error {
			return c.JSON(module.Diagnostics())
		})
	}

	if bus != nil {
		// 长轮询：返回订阅后的下一条事件，超时返回 204；订阅前发出的事件不会补发。
		router.Get("/-/events", func(c fiber.Ctx) error {
			wait, err := parseWait(c.Query("wait"))
			if err != nil {
				return server.WriteError(c, fiber.StatusBadRequest, "invalid_wait", err.Error())
			}

			ch, cancel := bus.Subscribe(1)
			defer cancel()

			timer := time.NewTimer(wait)
			defer timer.Stop()

			select {
			case evt, ok := <-ch:
				if !ok {
					return c.SendStatus(fiber.StatusNoContent)
				}
				return c.JSON(evt)
			case <-timer.C:
				return c.SendStatus(fiber.StatusNoContent)
			case <-c.Context().Done():
				return c.SendStatus(fiber.StatusNoContent)
			}
		})
	}
}

func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return defaultEventWait, nil
	}
	wait, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if wait <= 0 {
		return 0, nil
	}
	if wait > maxEventWait {
		wait = maxEventWait
	}
	return wait, nil
}
