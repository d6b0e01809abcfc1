package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/curadesk/curadesk/app/controllers"
	"github.com/curadesk/curadesk/internal/pkg/billing"
	"github.com/curadesk/curadesk/internal/pkg/cache"
	"github.com/curadesk/curadesk/internal/pkg/database"
	"github.com/curadesk/curadesk/internal/pkg/env"
	"github.com/curadesk/curadesk/internal/pkg/metrics/counter"
	"github.com/curadesk/curadesk/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	gateway := billing.NewStripeGateway(
		env.GetEnv("STRIPE_SECRET_KEY", ""),
		env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	)
	controllers.Setup(gateway)

	app := fiber.New(fiber.Config{
		AppName:      "curadesk",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("ADMIN_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	router.InstallRouter(app)

	startCounterFlusher()

	return app
}

// startCounterFlusher drains the Redis stat counters into the database
// periodically. Increments accumulate in Redis between runs.
func startCounterFlusher() {
	interval := time.Duration(env.GetEnvInt("STATS_FLUSH_INTERVAL_SECONDS", 60)) * time.Second
	go func() {
		for range time.Tick(interval) {
			if err := counter.Flush(); err != nil {
				log.Printf("stats counter flush failed: %v", err)
			}
		}
	}()
}
