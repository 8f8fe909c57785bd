package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/pettinen/gifdome/bot"
	"github.com/pettinen/gifdome/brackets"
	"github.com/pettinen/gifdome/config"
	"github.com/pettinen/gifdome/db"
	"github.com/pettinen/gifdome/handlers"
	"github.com/pettinen/gifdome/kvstore"
	"github.com/pettinen/gifdome/rendering"
	"github.com/pettinen/gifdome/repositories"
	"github.com/pettinen/gifdome/routes"
	"github.com/pettinen/gifdome/services"
	"github.com/pettinen/gifdome/storage"
	"github.com/pettinen/gifdome/transport"
)

const schedulerInterval = 30 * time.Second // How often the poll expiry check runs

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		}
	}()
	logger.Info("database connection established")

	redisStore, err := kvstore.ConnectRedis(cfg.RedisURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisStore.Close(); err != nil {
			logger.Error("failed to close redis connection", slog.Any("error", err))
		}
	}()
	logger.Info("redis connection established")

	uploader, err := storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		BucketName:      cfg.R2Bucket,
		PublicBaseURL:   cfg.R2PublicBaseURL,
	})
	if err != nil {
		logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
		os.Exit(1)
	}

	renderer, err := rendering.NewExecRenderer(cfg.RenderVersusCmd, cfg.RenderBracketCmd)
	if err != nil {
		logger.Error("failed to initialize renderer", slog.Any("error", err))
		os.Exit(1)
	}

	telegram, err := transport.NewTelegram(cfg.TelegramToken, logger)
	if err != nil {
		logger.Error("failed to connect to Telegram", slog.Any("error", err))
		os.Exit(1)
	}

	var logo []byte
	if cfg.LogoPath != "" {
		logo, err = os.ReadFile(cfg.LogoPath)
		if err != nil {
			logger.Warn("failed to read logo, continuing without one", slog.Any("error", err))
			logo = nil
		}
	}

	wsHub := brackets.NewHub(logger)
	go wsHub.Run()

	stateRepo := repositories.NewKVStateRepository(redisStore)
	userRepo := repositories.NewPostgresUserRepository(dbConn)
	animationRepo := repositories.NewPostgresAnimationRepository(dbConn)
	submissionRepo := repositories.NewPostgresSubmissionRepository(dbConn)
	seedingRepo := repositories.NewPostgresSeedingRepository(dbConn)

	exportService := services.NewExportService(
		stateRepo,
		animationRepo,
		submissionRepo,
		telegram,
		renderer,
		uploader,
		logger,
	)
	progressionService := services.NewProgressionService(
		stateRepo,
		animationRepo,
		submissionRepo,
		telegram,
		renderer,
		exportService,
		wsHub,
		logger,
		services.ProgressionConfig{
			Admins:           cfg.Admins,
			MinVotes:         cfg.MinVotes,
			DurationOverride: cfg.MatchDurationOverride,
			AutovoteUntil:    cfg.AutovoteUntil,
		},
	)
	tournamentService := services.NewTournamentService(
		stateRepo,
		userRepo,
		animationRepo,
		submissionRepo,
		seedingRepo,
		telegram,
		exportService,
		progressionService,
		wsHub,
		logger,
		services.TournamentConfig{
			Admins:             cfg.Admins,
			SubmissionsPerUser: cfg.SubmissionsPerUser,
			Logo:               logo,
		},
	)
	authService := services.NewAuthService(cfg.AdminAPIUser, cfg.AdminAPIPasswordHash, cfg.JWTSecretKey)
	recoveryService := services.NewRecoveryService(stateRepo, tournamentService, logger)
	logger.Info("services initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Refuse to serve on top of corrupted state.
	if err := recoveryService.ValidateStartup(ctx); err != nil {
		logger.Error("startup validation failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("persisted state validated")

	if err := exportService.SyncChatDescription(ctx); err != nil {
		logger.Warn("failed to sync chat description", slog.Any("error", err))
	}

	if cfg.DowntimeNotifications {
		if groupID, ok, err := stateRepo.GroupID(ctx); err == nil && ok {
			text := "The Gifdome is back up! Sorry for the downtime."
			if _, err := telegram.SendMessage(ctx, groupID, text); err != nil {
				logger.Warn("failed to send return notification", slog.Any("error", err))
			}
		}
	}

	dispatcher := bot.New(
		tournamentService,
		progressionService,
		exportService,
		telegram,
		logger,
		bot.Config{Admins: cfg.Admins, Logo: logo},
	)
	go dispatcher.Run(ctx, telegram.Updates())
	logger.Info("bot dispatcher started")

	go func() {
		ticker := time.NewTicker(schedulerInterval)
		defer ticker.Stop()
		logger.Info("poll expiry scheduler started", slog.Duration("interval", schedulerInterval))

		// Run once immediately so a poll that expired while the process was
		// down does not wait for the first tick.
		if err := progressionService.CheckExpiry(ctx); err != nil {
			logger.Error("poll expiry check failed", slog.Any("error", err))
		}

		for {
			select {
			case <-ticker.C:
				if err := progressionService.CheckExpiry(ctx); err != nil {
					logger.Error("poll expiry check failed", slog.Any("error", err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	exportHandler := handlers.NewExportHandler(exportService)
	adminHandler := handlers.NewAdminHandler(authService, tournamentService, progressionService)
	webSocketHandler := handlers.NewWebSocketHandler(wsHub, cfg.CORSAllowedOrigins, logger)

	router := routes.InitRoutes(exportHandler, adminHandler, webSocketHandler, routes.Config{
		JWTSecret:      cfg.JWTSecretKey,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		if cfg.DowntimeNotifications {
			if groupID, ok, err := stateRepo.GroupID(ctx); err == nil && ok {
				text := "Gifdome going down for maintenance and shit..."
				if _, err := telegram.SendMessage(ctx, groupID, text); err != nil {
					logger.Warn("failed to send downtime notification", slog.Any("error", err))
				}
			}
		}

		telegram.Stop()
		cancel()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
}
