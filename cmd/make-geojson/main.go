package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"chinamap/internal/logger"
	"chinamap/internal/metrics"
	"chinamap/internal/migrate"
	"chinamap/internal/pipeline"
	"chinamap/internal/registry"
	"chinamap/internal/store"
	"chinamap/internal/utils"
)

// 用法：make-geojson [local|antv]
func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	started := time.Now()

	arg := ""
	if len(os.Args) > 1 {
		arg = os.Args[1]
	}
	mode := pipeline.ModeFromArg(arg)
	l.Info("make_geojson_start", "mode", string(mode))

	reg, err := registry.Load(os.Getenv("REGISTRY_DIR"))
	if err != nil {
		l.Error("registry_load_error", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 下载校验缓存：Redis 不可用时退化为每次完整下载
	var rdb *redis.Client
	if strings.ToLower(os.Getenv("ACQUIRE_CACHE")) == "redis" {
		rdb = utils.OpenRedisFromEnv()
		if err := rdb.Ping(ctx).Err(); err != nil {
			l.Warn("redis_ping_error", "err", err)
			_ = rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var idx pipeline.Indexer
	if strings.ToLower(os.Getenv("INDEX_TO_DB")) == "true" {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		idx = store.AttachDB(db)
	}

	p := pipeline.FromEnv(reg, rdb, idx)
	sum, err := p.Run(ctx, mode)
	if exportErr := metrics.Export(os.Getenv("METRICS_TEXTFILE"), os.Getenv("PUSHGATEWAY_URL"), "make_geojson"); exportErr != nil {
		l.Warn("metrics_export_error", "err", exportErr)
	}
	if err != nil {
		l.Error("make_geojson_failed", "mode", string(sum.Mode), "err", err)
		os.Exit(1)
	}
	l.Info("make_geojson_done",
		"mode", string(sum.Mode),
		"provinces", sum.Provinces.Written,
		"cities", sum.Cities.Written,
		"cities_skipped", sum.Cities.Skipped,
		"ms", time.Since(started).Milliseconds())
}
