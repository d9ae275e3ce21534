package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskloop/pkg/logger"
	pkgredis "taskloop/pkg/redis"
	"taskloop/scheduler-service/internal/config"
	"taskloop/scheduler-service/internal/handler"
	"taskloop/scheduler-service/internal/httpserver"
	"taskloop/scheduler-service/internal/jobstore"
	"taskloop/scheduler-service/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting scheduler-service...",
		zap.String("redis_addr", cfg.Redis.Addr),
	)

	// Redis (job store)
	rdb := pkgredis.NewClient(cfg.Redis)
	defer rdb.Close()

	store := jobstore.NewStore(rdb, log)

	// Dispatcher
	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	defer dispatcherCancel()
	dispatcher := service.NewDispatcher(store, log)
	go dispatcher.Start(dispatcherCtx)

	// HTTP Server
	jobHandler := handler.NewJobHandler(store, log)
	router := httpserver.NewRouter(rdb, jobHandler)
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

	log.Info("scheduler-service is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down scheduler-service gracefully...")

	dispatcherCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("scheduler-service shutdown complete")
}
