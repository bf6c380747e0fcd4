package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/billingsync/app/controllers"
	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/cache"
	"github.com/ManuelReschke/billingsync/internal/pkg/config"
	"github.com/ManuelReschke/billingsync/internal/pkg/database"
	"github.com/ManuelReschke/billingsync/internal/pkg/env"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway/patreon"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway/stripe"
	"github.com/ManuelReschke/billingsync/internal/pkg/jobqueue"
	"github.com/ManuelReschke/billingsync/internal/pkg/mail"
	"github.com/ManuelReschke/billingsync/internal/pkg/notify"
	"github.com/ManuelReschke/billingsync/internal/pkg/rolesync"
	"github.com/ManuelReschke/billingsync/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()

	// stop the workers and the sweep before exiting
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		fiberlog.Info("[Main] Shutting down...")
		if err := app.Shutdown(); err != nil {
			fiberlog.Errorf("[Main] HTTP shutdown error: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	manager.Stop()
	if cerr := cache.Close(); cerr != nil {
		fiberlog.Warnf("[Main] Closing cache: %v", cerr)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	cfg := config.LoadBilling()
	db := database.GetDB()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	registry := gateway.NewRegistry(cfg)
	registry.Register(stripe.Name, stripe.Factory)
	registry.Register(patreon.Name, patreon.Factory)

	// integration events: engine -> redis queue -> consumers
	queue := jobqueue.NewQueue(cache.GetClient(), cfg.DispatchWorkers)
	dispatcher := jobqueue.NewDispatcher(
		rolesync.New(repos),
		notify.New(repos.User, mail.NewSMTPMailerFromEnv()),
	)
	dispatcher.Register(queue)

	billingLog := billing.NewLogger(cfg)
	engine := billing.NewEngine(db, registry, jobqueue.NewEventPublisher(queue), billingLog)
	service := billing.NewService(db, registry, cfg, billingLog)

	manager := jobqueue.NewManager(queue, service, cfg.CheckoutSweepSchedule)
	if err := manager.Start(); err != nil {
		panic(err)
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // provider payloads stay well below 1 MiB
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber runtime stats, prometheus lives at /metrics
	app.Get("/monitor", monitor.New())

	// ROUTER
	router.InstallRouter(app,
		controllers.NewWebhookController(engine),
		controllers.NewBillingController(service),
	)

	return app, manager
}
