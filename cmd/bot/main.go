package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGVisionBot/internal/admin"
	"github.com/digkill/TGVisionBot/internal/config"
	"github.com/digkill/TGVisionBot/internal/database"
	"github.com/digkill/TGVisionBot/internal/openai"
	"github.com/digkill/TGVisionBot/internal/repository"
	"github.com/digkill/TGVisionBot/internal/service"
	"github.com/digkill/TGVisionBot/internal/storage"
	"github.com/digkill/TGVisionBot/internal/telegram"
	"github.com/digkill/TGVisionBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	var uploader service.Uploader
	switch cfg.HostingProvider {
	case "s3":
		uploader, err = storage.NewS3Uploader(storage.S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
	default:
		uploader, err = storage.NewMultipartUploader(cfg.UploadURL, cfg.UploadPreset, cfg.RequestTimeout)
	}
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	backend := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.RequestTimeout, logr)

	accountStore := repository.NewMySQLAccountStore(db)
	jobRepo := repository.NewJobRepository(db)

	quota := service.NewQuotaService(accountStore, cfg.FreeDailyCredits, cfg.ReferralBonus)
	gateway := service.NewGatewayService(cfg, logr, backend, uploader)

	bot := telegram.NewBot(cfg, botAPI, logr, quota, gateway, jobRepo)

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, quota, botAPI)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", logger.Err(err))
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", logger.Err(err))
	}
}
