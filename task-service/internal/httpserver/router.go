package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"taskloop/pkg/metrics"
	"taskloop/pkg/util"
	"taskloop/task-service/internal/handler"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	logger *zap.Logger,
	db *pgxpool.Pool,
	jwtSecret string,
	taskHandler *handler.TaskHandler,
	internalHandler *handler.InternalHandler,
) *Router {
	r := gin.Default()

	r.Use(metricsMiddleware())

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", authMiddleware(jwtSecret, logger))
	{
		api.POST("/tasks", taskHandler.CreateTask)
		api.GET("/tasks", taskHandler.ListTasks)
		api.GET("/tasks/:id", taskHandler.GetTask)
		api.PATCH("/tasks/:id", taskHandler.UpdateTask)
		api.POST("/tasks/:id/complete", taskHandler.CompleteTask)
		api.POST("/tasks/:id/reopen", taskHandler.ReopenTask)
		api.DELETE("/tasks/:id", taskHandler.DeleteTask)
		api.DELETE("/tasks/:id/series", taskHandler.DeleteSeries)
	}

	internal := r.Group("/internal")
	{
		internal.POST("/reminders/trigger", internalHandler.TriggerReminder)
		internal.POST("/recurring/generate", internalHandler.GenerateRecurring)
		internal.GET("/tasks/:id", internalHandler.GetTask)
		internal.POST("/tasks", internalHandler.CreateTask)
		internal.GET("/recurrence-rules/:id", internalHandler.GetRule)
		internal.POST("/recurrence-rules/:id/advance", internalHandler.AdvanceRule)
	}

	return &Router{Engine: r}
}

func authMiddleware(secret string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		userID, err := util.ParseJWT(token, secret)
		if err != nil {
			logger.Warn("Rejected request with invalid token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
