package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowdesk/internal/config"
	"flowdesk/internal/handlers"
	"flowdesk/internal/middleware"
	"flowdesk/internal/models"
	"flowdesk/internal/observability"
	"flowdesk/internal/services"
	"flowdesk/internal/store"
	"flowdesk/pkg/actionclient"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// Config from ./config.yml plus environment overrides.
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	logger := logrus.StandardLogger()

	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		logger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password,
			cfg.Database.Name, cfg.Database.Port, cfg.Database.SSLMode, cfg.Database.TimeZone)
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&models.Automation{}, &models.ExecutionLog{}, &store.DocumentRow{},
	); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	recordStore := store.NewSQL(db)

	var executor services.ActionExecutor
	if cfg.Engine.ActionExecutor.Endpoint != "" {
		executor = actionclient.New(cfg.Engine.ActionExecutor.Endpoint, cfg.Engine.ActionExecutor.Timeout, logger)
	} else {
		logger.Warn("no action executor endpoint configured; all actions will fail")
	}

	registry := services.NewAutomationService(db, logger)
	execLogs := services.NewExecutionLogService(db, logger)
	manager := services.NewListenerManager(registry, execLogs, recordStore, executor, logger)
	scheduler := services.NewScheduleRunner(registry, manager, logger)

	eventHub := services.NewExecutionEventHub(logger)
	manager.SetEventHub(eventHub)
	go eventHub.Run()

	if cfg.Engine.EnableListeners {
		if err := manager.EnableListeners(context.Background()); err != nil {
			logger.Errorf("enable listeners: %v", err)
		}
	}
	if cfg.Engine.EnableScheduler {
		if err := scheduler.Start(context.Background()); err != nil {
			logger.Errorf("start schedule runner: %v", err)
		}
	}

	if cfg.Server.Host != "localhost" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(registry, manager, execLogs, recordStore, eventHub, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	scheduler.Stop()
	manager.DisableListeners()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	logger.Info("Server exited")
}

func setupRouter(
	registry *services.AutomationService,
	manager *services.ListenerManager,
	execLogs *services.ExecutionLogService,
	recordStore store.RecordStore,
	eventHub *services.ExecutionEventHub,
	logger *logrus.Logger,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("flowdesk"))

	healthHandler := handlers.NewHealthHandler()
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	feedHandler := handlers.NewExecutionFeedHandler(eventHub)
	router.GET("/ws/executions", feedHandler.HandleWebSocket)

	api := router.Group("/api")
	api.Use(middleware.Actor())

	automationHandler := handlers.NewAutomationHandler(registry, manager, execLogs, logger)
	handlers.RegisterAutomationRoutes(api, automationHandler)

	recordHandler := handlers.NewRecordHandler(recordStore, logger)
	handlers.RegisterRecordRoutes(api, recordHandler)

	api.GET("/ws-stats", feedHandler.GetStats)

	return router
}
