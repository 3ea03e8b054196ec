package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"crypto_indicators_backend/cache"
	"crypto_indicators_backend/config"
	"crypto_indicators_backend/models"
	"crypto_indicators_backend/routes"
	"crypto_indicators_backend/scheduler"
	"crypto_indicators_backend/services/candles"
	"crypto_indicators_backend/services/indicators"
	"crypto_indicators_backend/taskq"
)

func main() {
	initialChargeDays := flag.Int("initial-charge", 0,
		"backfill the moving-average table for N days and exit")
	flag.Parse()

	logger := newLogger()
	logger.Info("Indicators backend starting")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Warn("Config load issue")
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database connection
	db, err := config.InitDB()
	if err != nil {
		logger.WithError(err).Fatal("Database connection failed")
	}

	// Run database migrations
	if err := runMigrations(); err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}

	// Seed default admin user
	if err := models.SeedDefaultAdminUser(db); err != nil {
		logger.WithError(err).Warn("Could not seed admin user")
	}

	// Connect to the shared cache service
	redis, err := cache.NewRedisClient(cfg.RedisAddr(), "", cfg.RedisDB)
	if err != nil {
		logger.WithError(err).Fatal("Redis connection failed")
	}
	logger.WithField("addr", cfg.RedisAddr()).Info("Connected to redis")

	// Build the candle client selected by configuration
	candleClient, err := candles.New(cfg.CandleBackend, candles.Config{
		BaseURL:    cfg.CandleBaseURL,
		Timeout:    cfg.CandleTimeout,
		MaxRetries: cfg.CandleMaxRetries,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid candle backend")
	}

	// Wire the pipeline: queue, calculator, task handlers
	queue := taskq.New(redis, logger)
	calculator := indicators.NewCalculator(db, candleClient, logger)
	taskCfg := indicators.DefaultTaskConfig(cfg.Pairs, cfg.Precision)
	taskCfg.JitterMin = cfg.JitterMin
	taskCfg.JitterMax = cfg.JitterMax
	runner := indicators.NewTaskRunner(taskCfg, redis, queue, calculator, logger)
	runner.Register()

	if *initialChargeDays > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := runner.InitialCharge(ctx, db, *initialChargeDays); err != nil {
			logger.WithError(err).Fatal("Initial charge failed")
		}
		return
	}

	// Start queue workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		queue.Run(workerCtx, indicators.QueueSelectPairs, indicators.QueueCalculate)
	}()

	// Start the beat cadence
	jobScheduler := scheduler.NewScheduler(runner, logger)
	if err := jobScheduler.Start(cfg.BeatCron); err != nil {
		logger.WithError(err).Fatal("Scheduler failed to start")
	}

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger(logger))

	routes.SetupRoutes(router, db, redis, cfg, logger)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server error")
		}
	}()

	gracefulShutdown(server, jobScheduler, redis, stopWorkers, workersDone, logger)
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// runMigrations runs all database migrations
func runMigrations() error {
	db := config.DB

	if err := models.MigrateIndicatorModels(db); err != nil {
		return err
	}

	if err := models.MigrateTicketModels(db); err != nil {
		return err
	}

	if err := models.MigrateAdminModels(db); err != nil {
		return err
	}

	return nil
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/ping" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			logger.WithFields(logrus.Fields{
				"method":   c.Request.Method,
				"path":     path,
				"status":   c.Writer.Status(),
				"duration": duration.String(),
			}).Warn("Request completed")
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(
	server *http.Server,
	jobScheduler *scheduler.Scheduler,
	redis *goredis.Client,
	stopWorkers context.CancelFunc,
	workersDone <-chan struct{},
	logger *logrus.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logger.WithField("signal", sig.String()).Info("Shutting down gracefully")

	// Stop producing new work first, then drain the workers
	jobScheduler.Stop()
	stopWorkers()

	select {
	case <-workersDone:
	case <-time.After(10 * time.Second):
		logger.Warn("Queue workers did not drain in time")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	if err := redis.Close(); err != nil {
		logger.WithError(err).Warn("Redis close failed")
	}

	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			logger.Info("Database connection closed")
		}
	}

	logger.Info("Server shutdown completed")
}
