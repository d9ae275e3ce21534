package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskloop/pkg/logger"
	"taskloop/pkg/mq"
	pkgredis "taskloop/pkg/redis"
	"taskloop/pkg/util"
	"taskloop/recurring-service/internal/client"
	"taskloop/recurring-service/internal/config"
	"taskloop/recurring-service/internal/httpserver"
	"taskloop/recurring-service/internal/mqhandler"
	"taskloop/recurring-service/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting recurring-service...",
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("task_api_url", cfg.TaskAPI.URL),
	)

	// Redis (dedup + retry counters)
	rdb := pkgredis.NewClient(cfg.Redis)
	defer rdb.Close()
	deduper := util.NewDeduper(rdb, 24*time.Hour, log)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// Task service client
	taskAPI := client.NewHTTPTaskAPI(cfg.TaskAPI.URL, log)

	// Services
	coordinator := service.NewCoordinator(taskAPI, log)

	// DLQ publisher for poison messages
	dlqPublisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init DLQ publisher", zap.Error(err))
	}
	defer dlqPublisher.Close()
	if err := dlqPublisher.DeclareDLQ("task.completed"); err != nil {
		log.Fatal("Failed to declare DLQ", zap.Error(err))
	}

	// MQ Handlers
	taskCompletedHandler := mqhandler.NewTaskCompletedHandler(coordinator, deduper, retryCounter, dlqPublisher, log)

	// MQ Consumer for task.completed
	log.Info("Initializing MQ consumer for task.completed...",
		zap.String("queue", "recurring.task.completed.q"),
		zap.String("routing_key", "task.completed"),
	)
	consumer, err := mq.NewConsumer(cfg.MQ.URL, "recurring.task.completed.q", "task.completed", log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()

	consumer.SetHandler(taskCompletedHandler.Handle)

	go func() {
		log.Info("Starting task.completed consumer...")
		if err := consumer.StartConsuming(); err != nil {
			log.Fatal("Task completed consumer failed", zap.Error(err))
		}
	}()

	// HTTP Server (health checks + metrics)
	router := httpserver.NewRouter(consumer.IsConnected)
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

	log.Info("recurring-service is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down recurring-service gracefully...")

	consumer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("recurring-service shutdown complete")
}
