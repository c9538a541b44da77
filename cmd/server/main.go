package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cdduran/percepsim/api"
	"github.com/cdduran/percepsim/internal/config"
	"github.com/cdduran/percepsim/internal/slogging"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (defaults and environment only when empty)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "percepsim: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	err = slogging.Initialize(slogging.Config{
		Level:            slogging.ParseLogLevel(cfg.Logging.Level),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer slogging.Close()
	logger := slogging.Get()

	logger.Info("Starting percepsim server on %s", cfg.Server.ListenAddr())

	db, err := gorm.Open(mysql.Open(cfg.Database.MySQL.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access database handle: %w", err)
	}
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	store := api.NewGormRecommendationStore(db)
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Database.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Database.Redis.Addr(),
			Password: cfg.Database.Redis.Password,
			DB:       cfg.Database.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis unavailable, continuing without cache: %v", err)
			redisClient.Close()
			redisClient = nil
		}
		cancel()
		if redisClient != nil {
			defer redisClient.Close()
		}
	}
	cache := api.NewRecommendationCache(redisClient)

	server := api.NewServer(cfg, store, cache)

	if !cfg.Logging.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(slogging.LoggerMiddleware())
	engine.Use(slogging.Recoverer())
	server.RegisterHandlers(engine)

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	loopCtx, stopLoops := context.WithCancel(context.Background())
	go server.Run(loopCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal %v, shutting down", sig)
	case err := <-errCh:
		stopLoops()
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop accepting new connections, notify live clients, then stop the
	// background loops.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown error: %v", err)
	}
	server.Shutdown("Server is shutting down")
	stopLoops()

	logger.Info("Shutdown complete")
	return nil
}
