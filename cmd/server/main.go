package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/QuickDatePay/internal/api"
	"github.com/digkill/QuickDatePay/internal/config"
	"github.com/digkill/QuickDatePay/internal/database"
	"github.com/digkill/QuickDatePay/internal/gateway/aamarpay"
	"github.com/digkill/QuickDatePay/internal/gateway/authorizenet"
	"github.com/digkill/QuickDatePay/internal/notify"
	"github.com/digkill/QuickDatePay/internal/pricing"
	"github.com/digkill/QuickDatePay/internal/repository"
	"github.com/digkill/QuickDatePay/internal/service"
	"github.com/digkill/QuickDatePay/internal/storage"
	"github.com/digkill/QuickDatePay/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store repository.Store
	if cfg.StoreDriver == "memory" {
		logr.Info("using in-memory store; data is lost on restart")
		store = repository.NewMemoryStore()
	} else {
		db, err := database.Connect(cfg)
		if err != nil {
			log.Fatalf("database connect: %v", err)
		}
		defer db.Close()

		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("database migrate: %v", err)
		}
		store = repository.NewSQLStore(db)
	}

	listeners := []service.PurchaseListener{notify.NewLog(logr)}

	if cfg.TelegramBotToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Fatalf("telegram bot: %v", err)
		}
		listeners = append(listeners, notify.NewTelegram(botAPI, cfg.TelegramAdminChatID))
	}

	if cfg.S3Bucket != "" {
		archiver, err := storage.NewReceiptArchiver(storage.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Bucket:       cfg.S3Bucket,
			UsePathStyle: cfg.S3UsePathStyle,
			Prefix:       cfg.S3ReceiptPrefix,
		})
		if err != nil {
			log.Fatalf("receipt archiver: %v", err)
		}
		listeners = append(listeners, archiver)
	}

	prices := pricing.NewTable(cfg.Pricing)
	aamarpayClient := aamarpay.NewClient(cfg.Aamarpay)

	var charger service.Charger
	if cfg.Authorize.HasCredentials() {
		charger = authorizenet.NewClient(cfg.Authorize, logr)
	} else {
		logr.Warn("authorize.net credentials not configured; charges are simulated")
	}

	paymentService := service.NewPaymentService(cfg, logr, store, prices, aamarpayClient, charger, listeners...)

	server := api.NewServer(cfg, logr, paymentService)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
