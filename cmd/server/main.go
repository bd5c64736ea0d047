package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consultation_chat/internal/config"
	"consultation_chat/internal/domain"
	"consultation_chat/internal/handler"
	"consultation_chat/internal/middleware"
	"consultation_chat/internal/realtime"
	"consultation_chat/internal/repository"
	"consultation_chat/internal/service"
	"consultation_chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level, cfg.Environment)
	defer appLogger.Sync()

	// Подключение к PostgreSQL
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("Failed to parse database DSN", "error", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	dbPool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	defer dbPool.Close()

	// Проверка подключения к БД
	if err := dbPool.Ping(context.Background()); err != nil {
		appLogger.Fatal("Failed to ping database", "error", err)
	}
	appLogger.Info("Database connection established")

	// Подключение к Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// Проверка подключения к Redis
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	// Инициализация репозиториев
	repos := repository.NewRepositories(dbPool, rdb, appLogger)

	// Реестр соединений, рассылка и сборщик зависших соединений
	registry := realtime.NewRegistry()
	hub := realtime.NewHub(registry, repos.Presence, appLogger)
	reaper := realtime.NewReaper(registry, cfg.Realtime.ReapInterval, cfg.Realtime.StaleThreshold, appLogger)

	// Инициализация сервисов
	services := service.NewServices(repos, hub, reaper, cfg, appLogger)
	reaper.OnReap(reapAuditHook(services.Audit, appLogger))

	backgroundCtx, stopBackground := context.WithCancel(context.Background())
	go hub.Run(backgroundCtx)
	go reaper.Run(backgroundCtx)

	// Инициализация middleware
	authMiddleware := middleware.NewAuthMiddleware(services.Auth, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, 100, time.Minute, appLogger)

	// Инициализация handlers
	handlers := handler.NewHandlers(services, hub, cfg, appLogger)

	// Настройка роутера
	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	// Запуск HTTP сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ожидание сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	// Shutdown не ждет захваченные websocket-соединения, закрываем их явно
	for _, info := range registry.Snapshot() {
		if conn, ok := registry.Lookup(info.ConnectionID); ok {
			_ = conn.Close()
			registry.Deregister(conn)
		}
	}

	stopBackground()
	services.Dispatcher.Wait()

	appLogger.Info("Server exited")
}

func reapAuditHook(audit service.AuditService, log logger.Logger) realtime.ReapHook {
	// Запись в журнал не должна задерживать проход сборщика
	return func(info domain.ConnectionInfo, reason string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			userID := info.UserID
			err := audit.LogEvent(ctx, &userID, domain.ActorRoleSystem, nil, domain.EventTypeConnectionReaped, map[string]interface{}{
				"connection_id": info.ConnectionID,
				"reason":        reason,
				"last_activity": info.LastActivity,
				"connected_at":  info.ConnectedAt,
			})
			if err != nil {
				log.Warn("Failed to audit reaped connection", "error", err, "connection_id", info.ConnectionID)
			}
		}()
	}
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))

	// Health check
	router.GET("/health", handlers.Health.Check)

	// WebSocket: учетные данные проверяются до апгрейда
	router.GET("/ws", handlers.WebSocket.Handle)

	// API v1
	v1 := router.Group("/api/v1")
	v1.Use(rateLimitMiddleware.Limit(), authMiddleware.RequireAuth())
	{
		conversations := v1.Group("/conversations/:id")
		{
			conversations.GET("", handlers.Conversation.Get)
			conversations.PUT("/status", handlers.Conversation.ChangeStatus)
			conversations.GET("/messages", handlers.Chat.GetMessages)
			conversations.POST("/messages", handlers.Chat.SendMessage)
			conversations.POST("/read", handlers.Chat.MarkRead)
			conversations.GET("/unread", handlers.Chat.UnreadCount)
		}

		messages := v1.Group("/messages")
		{
			messages.PUT("/:messageId", handlers.Chat.EditMessage)
			messages.DELETE("/:messageId", handlers.Chat.DeleteMessage)
		}

		// Мониторинг realtime-слоя
		monitor := v1.Group("/monitor")
		{
			monitor.GET("/stats", middleware.RequireRole(domain.RoleAdmin, domain.RoleSuperAdmin), handlers.Monitor.Stats)
			monitor.POST("/cleanup", middleware.RequireRole(domain.RoleSuperAdmin), handlers.Monitor.Cleanup)
		}
	}

	return router
}
