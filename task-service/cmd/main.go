package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskloop/pkg/db"
	"taskloop/pkg/events"
	"taskloop/pkg/logger"
	"taskloop/pkg/mq"
	"taskloop/pkg/outbox"
	pkgredis "taskloop/pkg/redis"
	"taskloop/pkg/scheduler"
	"taskloop/pkg/util"
	"taskloop/task-service/internal/config"
	"taskloop/task-service/internal/handler"
	"taskloop/task-service/internal/httpserver"
	"taskloop/task-service/internal/mqhandler"
	"taskloop/task-service/internal/repository"
	"taskloop/task-service/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting task-service...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("scheduler_url", cfg.Scheduler.URL),
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
	taskRepo := repository.NewTaskRepository(dbConn, log)
	ruleRepo := repository.NewRecurrenceRuleRepository(dbConn, log)
	reminderRepo := repository.NewReminderRepository(dbConn, log)
	userRepo := repository.NewUserRepository(dbConn, log)

	// Services
	jobs := scheduler.NewClient(cfg.Scheduler.URL)
	reminderScheduler := service.NewReminderScheduler(jobs, cfg.TaskAPI.URL, log)
	eventPublisher := events.NewPublisher(publisher, log)
	taskService := service.NewTaskService(
		dbConn,
		taskRepo,
		ruleRepo,
		reminderRepo,
		userRepo,
		reminderScheduler,
		eventPublisher,
		log,
	)

	// Outbox dispatcher for task lifecycle events
	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	defer dispatcherCancel()
	dispatcher := outbox.NewDispatcher(outbox.NewRepository(dbConn), publisher, log)
	go dispatcher.Start(dispatcherCtx)

	// MQ Handlers
	reminderDeliveredHandler := mqhandler.NewReminderDeliveredHandler(taskService, deduper, log)

	// MQ Consumer for reminder.delivered
	log.Info("Initializing MQ consumer for reminder.delivered...",
		zap.String("queue", "reminder.delivered.q"),
		zap.String("routing_key", "reminder.delivered"),
	)
	consumer, err := mq.NewConsumer(cfg.MQ.URL, "reminder.delivered.q", "reminder.delivered", log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()

	consumer.SetHandler(reminderDeliveredHandler.Handle)

	go func() {
		log.Info("Starting reminder.delivered consumer...")
		if err := consumer.StartConsuming(); err != nil {
			log.Fatal("Reminder delivered consumer failed", zap.Error(err))
		}
	}()

	// HTTP Server
	taskHandler := handler.NewTaskHandler(taskService, log)
	internalHandler := handler.NewInternalHandler(taskService, log)
	router := httpserver.NewRouter(log, dbConn, cfg.JWT.Secret, taskHandler, internalHandler)

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

	log.Info("task-service is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down task-service gracefully...")

	consumer.Stop()
	dispatcherCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	publisher.Close()
	dbConn.Close()

	log.Info("task-service shutdown complete")
}
