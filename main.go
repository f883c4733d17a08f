package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"data-marketplace/config"
	"data-marketplace/handlers"
	"data-marketplace/logger"
	"data-marketplace/middleware"
	"data-marketplace/services"
	"data-marketplace/store"
	"data-marketplace/utils"
	"data-marketplace/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Database)
	if err != nil {
		logger.Fatal(err)
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		logger.Fatal(err)
	}

	var archiver services.Archiver = utils.NoopArchiver{}
	if cfg.Archive.Enabled {
		r2, err := utils.NewR2Archiver(ctx, cfg.Archive)
		if err != nil {
			logger.Fatal("failed to initialize R2 client: ", err)
		}
		archiver = r2
	}

	pointsService := services.NewPointsService(st, cfg.Points)
	userService := services.NewUserService(st, pointsService, cfg.Points)
	contributionService := services.NewContributionService(st)
	referralService := services.NewReferralService(st, pointsService, cfg.Referral)
	optOutService := services.NewOptOutService(st, cfg.Points, archiver)
	gate := middleware.NewAdmissionGate(cfg.Admission.MaxConcurrent, cfg.Admission.MaxQueue)

	scheduler, err := workers.NewScheduler(cfg.Referral, referralService, pointsService)
	if err != nil {
		logger.Fatal(err)
	}
	scheduler.Start()

	if cfg.Sync.URL != "" {
		syncWorker := workers.NewProfileSyncWorker(cfg.Sync.URL, cfg.Sync.Token, cfg.Sync.Interval, userService)
		go syncWorker.Run(ctx)
	} else {
		logger.Warnf("SYNC_URL not set, profile sync worker disabled")
	}

	app := fiber.New(fiber.Config{
		BodyLimit:    cfg.Server.BodyLimitBytes,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.Server.Origins(), ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// probes and scrapers bypass gateway auth
	handlers.SetupPublicRoutes(app, st)

	app.Use(middleware.GatewayAuthMiddleware(cfg.Server.GatewayToken))

	handlers.SetupContributionRoutes(app, &handlers.ContributionHandler{
		Contributions: contributionService,
		Points:        pointsService,
		Users:         userService,
	}, gate)
	handlers.SetupUserRoutes(app, &handlers.UserHandler{
		Users:     userService,
		Points:    pointsService,
		Referrals: referralService,
		OptOut:    optOutService,
	})
	handlers.SetupAdminRoutes(app, &handlers.AdminHandler{
		Points:    pointsService,
		Referrals: referralService,
	})
	handlers.SetupSystemRoutes(app, gate)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server...")
		if err := scheduler.Shutdown(); err != nil {
			logger.Errorf("scheduler shutdown: %v", err)
		}
		if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
			logger.Errorf("server shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Infof("data marketplace listening on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Errorf("server stopped: %v", err)
	}
}
