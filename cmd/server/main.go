package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/system-design/trivia-rooms/internal"
	"github.com/koopa0/system-design/trivia-rooms/internal/events"
	"github.com/koopa0/system-design/trivia-rooms/internal/ledger"
	"github.com/koopa0/system-design/trivia-rooms/internal/migrations"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		configPath = flag.String("config", "", "配置檔路徑（YAML），空白則使用預設值")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置檔）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
	)
	flag.Parse()

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "載入配置失敗: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.Error("服務器異常結束", "error", err)
		os.Exit(1)
	}
}

func run(cfg *internal.Config, logger *slog.Logger) error {
	ctx := context.Background()
	checks := make(map[string]internal.HealthCheck)

	// 計分庫：PostgreSQL（未設定時用記憶體）+ 可選的 Redis 快取
	var scores ledger.Ledger = ledger.NewMemory()

	if dsn := cfg.PostgresDSN(); dsn != "" {
		if err := migrate(dsn, logger); err != nil {
			return err
		}

		pool, err := ledger.NewPool(ctx, ledger.PoolConfig{
			DSN:      dsn,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			return err
		}
		defer pool.Close()

		pg := ledger.NewPostgres(pool)
		scores = pg
		checks["postgres"] = pg.Ping
		logger.Info("計分庫使用 PostgreSQL")
	} else {
		logger.Warn("未設定 PostgreSQL，分數只保存在記憶體")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}

		scores = ledger.NewCached(scores, client, cfg.Redis.CacheTTL, logger)
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info("排行榜快取已啟用", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	// 遊戲事件：NATS JetStream（未設定時不發布）
	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		p, err := events.NewNATSPublisher(events.Config{
			URL:        cfg.NATS.URL,
			StreamName: cfg.NATS.StreamName,
			Subject:    cfg.NATS.Subject,
		})
		if err != nil {
			return err
		}
		publisher = p
		logger.Info("遊戲事件發布已啟用", "stream", cfg.NATS.StreamName)
	}

	hub := internal.NewWebSocketHub(logger, internal.RateLimit{
		Burst:  cfg.Chat.BurstSize,
		Refill: cfg.Chat.RefillRate,
	})
	manager := internal.NewManager(hub, logger,
		internal.WithGameConfig(cfg.Game),
		internal.WithLedger(scores),
		internal.WithPublisher(publisher),
	)
	hub.Attach(manager)

	handler := internal.NewHandler(manager, logger)
	for name, check := range checks {
		handler.AddHealthCheck(name, check)
	}

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("GET /ws", hub.ServeWS)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("問答聊天室服務器啟動",
			"port", cfg.Server.Port,
			"log_level", cfg.Log.Level,
			"server_timing", cfg.Game.ServerTiming)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-sigChan:
		logger.Info("收到關閉信號，開始優雅關閉...")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// 停止接受新連接（已升級的 WebSocket 不受影響）
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 先關閉所有 WebSocket，再停止計時器並送完遊戲事件
	hub.Stop()
	manager.Stop()

	logger.Info("服務器已關閉")
	return nil
}

// migrate 執行計分庫遷移
func migrate(dsn string, logger *slog.Logger) error {
	m, err := migrations.New(dsn, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("關閉遷移工具失敗", "error", err)
		}
	}()
	return m.Up()
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
