package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/oursfolio/oursfolio/internal/background"
	"github.com/oursfolio/oursfolio/internal/config"
	"github.com/oursfolio/oursfolio/internal/database"
	"github.com/oursfolio/oursfolio/internal/repositories"
	"github.com/oursfolio/oursfolio/internal/services"
	"github.com/oursfolio/oursfolio/internal/tasks"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	accountRepo := repositories.NewAccountRepository(db)
	historyRepo := repositories.NewLoginHistoryRepository(db)

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid redis URL", slog.Any("error", err))
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	taskQueue := tasks.NewQueue(redisClient, cfg.Redis.QueueName)

	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Email.AdminAddress,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Task worker
	worker := tasks.NewWorker(taskQueue, logger)
	taskHandlers := tasks.NewHandlers(emailService, accountRepo, historyRepo, logger)
	taskHandlers.RegisterAll(worker)

	// Scheduled maintenance
	housekeeper := background.NewHousekeeper(accountRepo, taskQueue, logger)
	if err := housekeeper.Schedule(cfg.Worker.LockSweepSchedule, cfg.Worker.DailyReportSchedule); err != nil {
		logger.Error("failed to schedule housekeeping jobs", slog.Any("error", err))
		os.Exit(1)
	}
	housekeeper.Start()

	ctx, cancel := context.WithCancel(context.Background())

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker stopped with error", slog.Any("error", err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cancel()
	housekeeper.Stop()
	<-workerDone

	logger.Info("worker stopped gracefully")
}
