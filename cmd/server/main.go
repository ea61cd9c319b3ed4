package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "mailroom/backend/internal/auth/jwt"
	"mailroom/backend/internal/cache"
	"mailroom/backend/internal/config"
	"mailroom/backend/internal/health"
	"mailroom/backend/internal/logger"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/notify"
	"mailroom/backend/internal/service"
	"mailroom/backend/internal/storage"
	"mailroom/backend/internal/storage/memory"
	"mailroom/backend/internal/storage/postgres"
	redisstore "mailroom/backend/internal/storage/redis"
	httptransport "mailroom/backend/internal/transport/http"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Service:     "mailroom",
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  5,
		MaxAge:      30,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := initializeStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	probes := health.NewHealthChecker(log)
	probes.AddReadinessCheck("database", health.PingerFunc(store.Health))
	reportProbes := []monitoring.Probe{
		{Name: "database", Critical: true, Check: store.Health},
	}

	// 用户查询默认直连存储，配置 Redis 后加一层读缓存
	var users storage.UserRepository = store
	if cfg.Redis.Address != "" {
		client, err := redisstore.New(ctx, &cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer client.Close()

		users = redisstore.NewUserCache(store, client, cfg.Redis.UserCacheTTL)
		probes.AddReadinessCheck("redis", client)
		// 缓存不可用时服务降级但仍可工作
		reportProbes = append(reportProbes, monitoring.Probe{Name: "redis", Check: client.Ping})
	}
	localUsers := cache.NewLocalUserCache(users, 10000, 30*time.Second)

	notifier, err := initializeNotifier(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize notifier", zap.Error(err))
	}

	metrics := monitoring.NewMetrics()

	forwardingService := service.NewForwardingService(store, store, service.NewForwardingPolicy(&cfg.Forwarding), metrics, log)
	ingestService := service.NewIngestService(
		localUsers,
		store,
		store,
		cfg.Ingest.SourcePrefix,
		metrics,
		log,
		service.NewAuditLogHook(store),
		service.NewNotificationHook(notifier),
	)
	slotAllocator := service.NewSlotAllocator(store, metrics, log)

	// 未配置密钥时转寄接口信任请求体中的 userId，由网关负责鉴权
	var jwtManager *jwtpkg.Manager
	if cfg.JWT.Secret != "" {
		jwtManager = jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, 0)
	} else {
		log.Warn("JWT secret not configured, forwarding endpoints trust the userId field")
	}

	router, err := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:            cfg,
		ForwardingService: forwardingService,
		IngestService:     ingestService,
		SlotAllocator:     slotAllocator,
		JWTManager:        jwtManager,
		Metrics:           metrics,
		Probes:            probes,
		HealthReport:      monitoring.NewHealthChecker(log, version, reportProbes...),
		Logger:            log,
	})
	if err != nil {
		log.Fatal("failed to build router", zap.Error(err))
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server",
			zap.String("address", httpAddr),
			zap.String("version", version),
			zap.String("database_type", storageName(cfg.Database.Type)),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 本地用户缓存清理
	group.Go(func() error {
		localUsers.Run(groupCtx, time.Minute)
		return nil
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}

// initializeStorage 按配置选择存储后端，类型为空时使用内存存储
func initializeStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	opts := postgres.OptionsFromConfig(&cfg.Database, log)

	switch cfg.Database.Type {
	case "":
		log.Warn("no database configured, using in-memory storage (data is lost on restart)")
		return memory.NewStore(), nil
	case "postgres":
		client, err := postgres.New(ctx, &cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store, err := postgres.NewStore(client, opts)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create postgres store: %w", err)
		}
		return store, nil
	case "mysql":
		store, err := postgres.NewMySQLStore(cfg.Database.DSN, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create mysql store: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := postgres.NewSQLiteStore(cfg.Database.DSN, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
}

// initializeNotifier 配置了 SMTP 地址时发送真实邮件，否则只写日志
func initializeNotifier(cfg *config.Config, log *zap.Logger) (notify.Notifier, error) {
	if cfg.Notify.SMTPAddr == "" {
		log.Info("SMTP relay not configured, mail notifications are logged only")
		return notify.NewLogNotifier(log), nil
	}
	notifier, err := notify.NewSMTPNotifier(&cfg.Notify, log)
	if err != nil {
		return nil, err
	}
	return notifier, nil
}

func storageName(dbType string) string {
	if dbType == "" {
		return "memory"
	}
	return dbType
}
