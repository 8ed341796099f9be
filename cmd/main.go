// 程序入口：地图服务，提供 public/ 静态文件与 API_BASE 下的地图解析、区域列表、坐标定位接口
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chinamap/internal/api"
	"chinamap/internal/config"
	"chinamap/internal/ingest"
	"chinamap/internal/logger"
	"chinamap/internal/metrics"
	"chinamap/internal/middleware"
	"chinamap/internal/migrate"
	"chinamap/internal/pipeline"
	"chinamap/internal/registry"
	"chinamap/internal/revgeo"
	"chinamap/internal/store"
	"chinamap/internal/utils"
)

func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	apiBase = "/" + strings.Trim(apiBase, "/")
	l.Debug("config_api_base", "base", apiBase)

	layout := config.LayoutFromEnv()
	l.Debug("config_public_dir", "dir", layout.PublicDir())
	reg, err := registry.Load(os.Getenv("REGISTRY_DIR"))
	if err != nil {
		l.Error("registry_load_error", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 区域索引：可选，未启用时 /regions 由参考表与磁盘文件推导
	srv := &api.Server{Layout: layout, Registry: reg}
	var idx pipeline.Indexer
	if os.Getenv("INDEX_TO_DB") == "true" {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		st := store.AttachDB(db)
		srv.Regions = st
		idx = st
	}

	if os.Getenv("REVGEO_ENABLE") != "false" {
		snap, err := revgeo.LoadSnapshot(layout.ProvincesDir(), reg)
		if err != nil {
			l.Error("revgeo_load_error", "err", err)
		} else {
			srv.Locator = revgeo.NewLocator(snap)
		}
	}

	// 每周重建：在暂存目录重跑 antv 流水线，换入线上目录后再替换定位快照
	if os.Getenv("REBUILD_WEEKLY") == "true" {
		rdb := utils.OpenRedisFromEnv()
		if err := rdb.Ping(ctx).Err(); err != nil {
			l.Warn("redis_ping_error", "err", err)
			_ = rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
		}
		p := pipeline.FromEnv(reg, rdb, idx)
		ingest.StartWeeklyShanghai(ctx, func(ctx context.Context) error {
			sum, err := p.Rebuild(ctx, config.ModeAntv)
			if err != nil {
				return err
			}
			l.Info("rebuild_done", "mode", string(sum.Mode), "provinces", sum.Provinces.Written, "cities", sum.Cities.Written)
			if srv.Locator != nil {
				snap, err := revgeo.LoadSnapshot(layout.ProvincesDir(), reg)
				if err != nil {
					return err
				}
				srv.Locator.Swap(snap)
			}
			return nil
		})
	}

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(srv)
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())
	mux.Handle("/", http.FileServer(http.Dir(layout.PublicDir())))

	// NOTE: 向前端暴露 API 基础路径，避免硬编码
	mux.HandleFunc("/config.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/javascript; charset=utf-8")
		w.Header().Set("cache-control", "no-store")
		_, _ = w.Write([]byte("window.__API_BASE__='" + apiBase + "'\n"))
	})

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	s := &http.Server{Addr: addr, Handler: middleware.Chain(l, mux), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	if os.Getenv("TLS_ENABLE") == "true" {
		certPath := os.Getenv("TLS_CERT_PATH")
		keyPath := os.Getenv("TLS_KEY_PATH")
		if certPath == "" {
			certPath = filepath.Join("data", "certs", "server.crt")
		}
		if keyPath == "" {
			keyPath = filepath.Join("data", "certs", "server.key")
		}
		if err := utils.EnsureSelfSignedCert(certPath, keyPath, "chinamap.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		if err := s.ListenAndServeTLS(certPath, keyPath); err != nil && err != http.ErrServerClosed {
			l.Error("server_error", "err", err)
			os.Exit(1)
		}
		return
	}
	l.Info("listening", "addr", addr)
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
}
