// Package main 任务监控服务入口
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/api"
	"github.com/getkanchi/kanchi-sub002/internal/config"
	"github.com/getkanchi/kanchi-sub002/internal/ingest"
	"github.com/getkanchi/kanchi-sub002/internal/monitor"
	cacheredis "github.com/getkanchi/kanchi-sub002/internal/shared/cache/redis"
	queueredis "github.com/getkanchi/kanchi-sub002/internal/shared/queue/redis"
	"github.com/getkanchi/kanchi-sub002/internal/shared/storage"
	"github.com/getkanchi/kanchi-sub002/internal/shared/storage/dbutil"
	"github.com/getkanchi/kanchi-sub002/internal/shared/storage/driver/postgres"
	"github.com/getkanchi/kanchi-sub002/internal/shared/storage/driver/sqlite"
	"github.com/getkanchi/kanchi-sub002/internal/shared/storage/repository"
	"github.com/getkanchi/kanchi-sub002/pkg/logging"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 选择 configs/{env}.yaml）
	cfg := config.Load()

	logger := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Component: "kanchi-server",
	})

	log.Printf("Starting kanchi server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 初始化快照存储（可选：driver 为空时纯内存运行）
	snapshots, err := openSnapshotStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open snapshot store: %v", err)
	}
	if snapshots != nil {
		defer snapshots.Close()
		log.Printf("Snapshot store ready [driver=%s]", cfg.DatabaseDriver)
	}

	// 初始化 Redis（事件流消费 + 重投队列 + 心跳镜像）
	q, err := queueredis.NewStoreFromURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer q.Close()
	mirror, err := cacheredis.NewStoreFromURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer mirror.Close()
	log.Println("Connected to Redis")

	// 初始化监控器
	mon := monitor.New(monitor.Config{
		SweepInterval:      cfg.Monitor.SweepInterval,
		WorkerTimeout:      cfg.Monitor.WorkerTimeout,
		StaleThreshold:     cfg.Monitor.StaleThreshold,
		SubscriberBuffer:   cfg.Monitor.SubscriberBuffer,
		SubscriberMaxDrops: cfg.Monitor.SubscriberMaxDrops,
	}, logger, snapshots, q, mirror)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon.Start(ctx)
	defer mon.Close()

	// 启动事件流消费者
	consumer := ingest.New(q, mon, logging.Default("ingest"), "")
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("Consumer error: %v", err)
		}
	}()

	h := api.NewHandler(mon, logging.Default("api"))

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("kanchi server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}

// openSnapshotStore 按配置打开快照存储
//
// driver 为空或 DSN 为空时返回 nil（禁用快照，纯内存运行）。
func openSnapshotStore(cfg *config.Config) (storage.SnapshotStore, error) {
	if cfg.DatabaseDriver == "" || cfg.DatabaseDSN == "" {
		return nil, nil
	}

	var (
		db      *sql.DB
		dialect dbutil.Dialect
		err     error
	)
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err = sqlite.Open(cfg.DatabaseDSN)
		dialect = sqlite.NewDialect()
	case "postgres":
		db, err = postgres.Open(cfg.DatabaseDSN)
		dialect = postgres.NewDialect()
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
	if err != nil {
		return nil, err
	}

	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return repository.NewStore(db, dialect), nil
}
