package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vendezap/pixstore-bot/internal/admin"
	"github.com/vendezap/pixstore-bot/internal/catalog"
	"github.com/vendezap/pixstore-bot/internal/config"
	"github.com/vendezap/pixstore-bot/internal/conversation"
	"github.com/vendezap/pixstore-bot/internal/database"
	"github.com/vendezap/pixstore-bot/internal/payments"
	"github.com/vendezap/pixstore-bot/internal/repository"
	"github.com/vendezap/pixstore-bot/internal/storage"
	"github.com/vendezap/pixstore-bot/internal/telegram"
	"github.com/vendezap/pixstore-bot/pkg/logger"
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

	productRepo := repository.NewProductRepository(db)
	feeRepo := repository.NewFeeRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	funnelRepo := repository.NewFunnelRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	catalogService := catalog.NewService(cfg.OwnerID, productRepo, feeRepo, templateRepo, funnelRepo, logr)
	pixClient := payments.NewClient(cfg, logr)

	dispatcher := conversation.NewDispatcher(nil, logr)
	bot := telegram.NewBot(botAPI, dispatcher, logr)

	machine := conversation.NewMachine(conversation.Options{
		Currency:   cfg.Currency,
		ReviewLink: cfg.ReviewLink,
		FAQLink:    cfg.FAQLink,
	}, catalogService, sessionRepo, orderRepo, pixClient, bot, logr)
	dispatcher.SetHandler(machine)
	defer dispatcher.Close()

	paymentService := payments.NewService(orderRepo, dispatcher, logr)

	sweeper := conversation.NewSweeper(sessionRepo, catalogService, bot, logr,
		cfg.CartRemindAfter, cfg.CartExpireAfter, cfg.SweepInterval)
	go sweeper.Run(ctx)

	var uploader admin.MediaStorage
	if cfg.S3Enabled() {
		up, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		uploader = up
	}

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword,
		logr, catalogService, paymentService, uploader, bot, sessionRepo)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
