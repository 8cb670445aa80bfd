package routes

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/billpay/internal/provider"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps, providers *provider.Registry) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		dbStatus := "in-memory"
		redisStatus := "disabled"

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			dbStatus = "ok"
			if err := d.DB.Ping(ctx); err != nil {
				dbStatus = err.Error()
			}
		}
		if d.Cache != nil {
			redisStatus = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		}

		healthy := (d.DB == nil || dbStatus == "ok") && (d.Cache == nil || redisStatus == "ok")
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}

		codes := make([]string, 0)
		for code := range providers.Codes() {
			codes = append(codes, code)
		}
		sort.Strings(codes)

		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"postgres": dbStatus, "redis": redisStatus},
			"providers": codes,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
