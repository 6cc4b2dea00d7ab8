package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/blobstore"
	"github.com/careloop/medvault/internal/cache"
	"github.com/careloop/medvault/internal/changefeed"
	"github.com/careloop/medvault/internal/config"
	"github.com/careloop/medvault/internal/export"
	httpiface "github.com/careloop/medvault/internal/interfaces/http"
	"github.com/careloop/medvault/internal/interpret"
	"github.com/careloop/medvault/internal/notify"
	"github.com/careloop/medvault/internal/repository"
	"github.com/careloop/medvault/internal/service"
	"github.com/careloop/medvault/internal/uploader"
	"github.com/careloop/medvault/pkg/database"
	"github.com/careloop/medvault/pkg/utils"
)

func main() {
	// Local development credentials live in .env; missing file is fine.
	gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting MedVault record service",
		zap.String("version", "1.0.0"),
		zap.String("owner_id", cfg.Server.OwnerID),
		zap.Int("port", cfg.Server.Port))

	// Database and schema.
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.Run(repository.Migrations()); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Change feed plus repository: writes publish, the cache subscribes.
	feed := changefeed.New(changefeed.WithLogger(&feedLoggerAdapter{logger: logger}))
	defer feed.Close()

	recordRepo := repository.NewRecordRepository(db, feed, logger)

	recordCache := cache.New(cfg.Server.OwnerID, recordRepo, logger)
	subscription := cache.NewSubscription(feed, recordCache, logger)
	subscription.Start()
	defer subscription.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := recordCache.Refresh(ctx); err != nil {
		// Start anyway; the cache serves empty-but-stale until a refresh lands.
		logger.Warn("Initial record load failed", zap.Error(err))
	}

	// Attachment storage.
	blobs, err := blobstore.NewLocalStore(cfg.Blobstore.BaseDir, cfg.Blobstore.URLPrefix, logger)
	if err != nil {
		logger.Fatal("Failed to initialize blob store", zap.Error(err))
	}

	// Interpretation pipeline.
	prompts := interpret.DefaultPrompts()
	if cfg.OpenAI.PromptsPath != "" {
		prompts, err = interpret.LoadPrompts(cfg.OpenAI.PromptsPath)
		if err != nil {
			logger.Fatal("Failed to load prompts", zap.Error(err))
		}
	}
	completer := interpret.NewClient(interpret.ClientConfig{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Timeout:     cfg.OpenAI.Timeout,
	}, prompts, logger)

	notifier := notify.NewLarkNotifier(notify.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
		ReceiveID: cfg.Lark.ReceiveID,
	}, logger)

	controller := uploader.New(
		cfg.Server.OwnerID,
		uploader.Config{
			AllowedMimeTypes: cfg.Upload.AllowedMimeTypes,
			MaxFileSize:      cfg.Upload.MaxFileSize,
			AutoDismissDelay: cfg.Upload.AutoDismissDelay,
			ProcessingTick:   cfg.Upload.ProcessingTick,
		},
		blobs,
		completer,
		prompts,
		recordRepo,
		recordCache,
		notifier,
		logger,
	)
	defer controller.Close()

	records := service.NewRecordService(
		cfg.Server.OwnerID,
		recordRepo,
		blobs,
		recordCache,
		cfg.Blobstore.URLPrefix,
		logger,
	)

	server := httpiface.NewServer(httpiface.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, records, controller, export.NewExcelExporter(logger), logger)

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}

// feedLoggerAdapter adapts zap.Logger to the changefeed.Logger interface.
type feedLoggerAdapter struct {
	logger *zap.Logger
}

func (a *feedLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Sugar().Infow(msg, keysAndValues...)
}

func (a *feedLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Sugar().Errorw(msg, keysAndValues...)
}
