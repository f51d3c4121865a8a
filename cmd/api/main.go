package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sayit-api/internal/config"
	"github.com/noah-isme/sayit-api/internal/database"
	"github.com/noah-isme/sayit-api/internal/handler"
	"github.com/noah-isme/sayit-api/internal/middleware"
	"github.com/noah-isme/sayit-api/internal/repository"
	"github.com/noah-isme/sayit-api/internal/router"
	"github.com/noah-isme/sayit-api/internal/service"
	cloud "github.com/noah-isme/sayit-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("%v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	var avatarStorage service.FileStorage
	if cfg.CloudinaryEnabled() {
		uploader, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		avatarStorage = uploader
	} else {
		logger.Warn().Msg("cloudinary not configured, avatar uploads disabled")
	}

	var denylist service.TokenDenylist
	if redisClient != nil {
		denylist = service.NewRedisTokenDenylist(redisClient)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	relationRepo := repository.NewRelationRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	bus := service.NewRealtimeBus(redisClient, natsConn, cfg.RealtimeChannel, logger)
	bus.Start(runCtx)

	presence := service.NewPresenceTracker(userRepo, bus, logger)
	notificationService := service.NewNotificationService(notificationRepo, bus, validate, logger)
	conversationService := service.NewConversationService(conversationRepo, logger)
	messageService := service.NewMessageService(messageRepo, userRepo, conversationService, notificationService, bus, validate, logger)
	relationService := service.NewRelationService(relationRepo, userRepo, notificationService, validate, logger)
	authService := service.NewAuthService(userRepo, profileRepo, denylist, validate, service.AuthConfig{Secret: cfg.JWTSecret, TTL: cfg.JWTTTL}, logger)
	profileService := service.NewProfileService(userRepo, profileRepo, avatarStorage, cfg.AvatarMaxSizeMB, validate, logger)
	statsService := service.NewStatsService(relationRepo, messageRepo, redisClient, cfg.StatsCacheTTL, logger)
	gateway := service.NewRealtimeGateway(bus, presence, validate, logger)

	go purgeNotifications(runCtx, notificationService, cfg, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, CORSOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		AuthHandler:         handler.NewAuthHandler(authService, logger),
		ProfileHandler:      handler.NewProfileHandler(profileService, logger),
		RelationHandler:     handler.NewRelationHandler(relationService, logger),
		MessageHandler:      handler.NewMessageHandler(messageService, relationService, statsService, middleware.RateLimit("messages", cfg.MessageRateLimit, time.Minute), logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger, 0),
		RealtimeHandler:     handler.NewRealtimeHandler(gateway, logger),
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret, denylist),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, presence, logger)
}

func purgeNotifications(ctx context.Context, notifications service.NotificationService, cfg config.Config, logger zerolog.Logger) {
	ticker := time.NewTicker(cfg.NotificationCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := notifications.PurgeRead(ctx, cfg.NotificationRetention)
			if err != nil {
				logger.Warn().Err(err).Msg("notification cleanup failed")
				continue
			}
			logger.Info().Int64("removed", removed).Msg("read notifications purged")
		}
	}
}

func waitForShutdown(app *fiber.App, presence service.PresenceTracker, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := presence.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to mark users offline")
	}

	logger.Info().Msg("server stopped")
}
