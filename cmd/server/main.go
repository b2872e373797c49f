package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitfantasy/nimo-pps/internal/config"
	"github.com/bitfantasy/nimo-pps/internal/middleware"
	"github.com/bitfantasy/nimo-pps/internal/pps/conflictcheck"
	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"github.com/bitfantasy/nimo-pps/internal/pps/erp"
	"github.com/bitfantasy/nimo-pps/internal/pps/handler"
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"github.com/bitfantasy/nimo-pps/internal/pps/service"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting nimo-pps service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// 排产核心表
	if err := db.AutoMigrate(
		&entity.Todo{},
		&entity.TodoSegment{},
		&entity.TodoDependency{},
		&entity.ResourceCache{},
		&entity.Conflict{},
	); err != nil {
		zapLogger.Warn("AutoMigrate pps tables warning", zap.Error(err))
	}

	// ERP镜像表（同步作业写入，这里只兜底建表）
	if err := db.AutoMigrate(
		&erp.Order{},
		&erp.OrderArticle{},
		&erp.WorkplanStep{},
		&erp.BomItem{},
		&erp.Employee{},
		&erp.Machine{},
		&erp.Department{},
	); err != nil {
		zapLogger.Warn("AutoMigrate erp mirror tables warning", zap.Error(err))
	}
	zapLogger.Info("Database migration completed")

	// 初始化Redis（可见性闭包缓存，关闭时走无缓存路径）
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = initRedis(cfg.Redis)
	}

	// 初始化依赖
	repos := repository.NewRepositories(db)
	gateway := erp.NewGormGateway(db)
	detector := conflictcheck.NewMachineOverlapDetector(db)
	services := service.NewServices(db, repos, gateway, rdb, detector, zapLogger)
	handlers := handler.NewHandlers(services, repos)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(middleware.EmployeeIdentity())
	// 配置了JWT时token身份覆盖请求头身份
	if cfg.JWT.Secret != "" {
		router.Use(middleware.OptionalJWTAuth(cfg.JWT.Secret))
	}
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 注册路由
	registerRoutes(router, handlers, cfg.JWT)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, jwtCfg config.JWTConfig) {
	// 健康检查
	healthz := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	r.GET("/healthz", healthz)
	r.GET("/health/live", healthz)
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// API v1。管理端点要求显式登录 + 管理员角色
	v1 := r.Group("/api/v1")
	var adminGuards []gin.HandlerFunc
	if jwtCfg.Secret != "" {
		adminGuards = []gin.HandlerFunc{
			middleware.JWTAuth(jwtCfg.Secret),
			middleware.RequireRole("pps_admin"),
		}
	}
	handler.RegisterRoutes(v1, h, adminGuards...)
}
