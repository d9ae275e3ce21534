package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskloop/notification-service/internal/config"
	"taskloop/notification-service/internal/httpserver"
	"taskloop/notification-service/internal/mqhandler"
	"taskloop/notification-service/internal/repository"
	"taskloop/notification-service/internal/service"
	"taskloop/pkg/db"
	"taskloop/pkg/events"
	"taskloop/pkg/logger"
	"taskloop/pkg/mq"
	pkgredis "taskloop/pkg/redis"
	"taskloop/pkg/util"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting notification-service...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("smtp_host", cfg.SMTP.Host),
	)

	// DB
	log.Info("Initializing database connection...")
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("Database connection established successfully")

	// Redis (event dedup)
	rdb := pkgredis.NewClient(cfg.Redis)
	defer rdb.Close()
	deduper := util.NewDeduper(rdb, 24*time.Hour, log)

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	deliveryRepo := repository.NewDeliveryRepository(dbConn, log)

	// Services
	delays := make([]time.Duration, 0, len(cfg.Notification.RetryDelaysSeconds))
	for _, s := range cfg.Notification.RetryDelaysSeconds {
		delays = append(delays, time.Duration(s)*time.Second)
	}
	sendTimeout := time.Duration(cfg.Notification.SendTimeoutSeconds) * time.Second
	sender := service.NewSMTPSender(cfg.SMTP, sendTimeout, log)
	eventPublisher := events.NewPublisher(publisher, log)
	worker := service.NewDeliveryWorker(sender, deliveryRepo, eventPublisher, delays, log)

	// MQ Handlers
	reminderScheduledHandler := mqhandler.NewReminderScheduledHandler(worker, deliveryRepo, deduper, log)

	// MQ Consumer for reminder.scheduled
	log.Info("Initializing MQ consumer for reminder.scheduled...",
		zap.String("queue", "reminder.scheduled.q"),
		zap.String("routing_key", "reminder.scheduled"),
	)
	consumer, err := mq.NewConsumer(cfg.MQ.URL, "reminder.scheduled.q", "reminder.scheduled", log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()

	consumer.SetHandler(reminderScheduledHandler.Handle)

	go func() {
		log.Info("Starting reminder.scheduled consumer...")
		if err := consumer.StartConsuming(); err != nil {
			log.Fatal("Reminder scheduled consumer failed", zap.Error(err))
		}
	}()

	// HTTP Server (health checks + metrics)
	router := httpserver.NewRouter(dbConn)
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router.Engine,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("notification-service is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notification-service gracefully...")

	// Stop taking new messages, then wind down delivery goroutines.
	consumer.Stop()
	worker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	publisher.Close()
	dbConn.Close()

	log.Info("notification-service shutdown complete")
}
