// 包 api：地图服务的 HTTP 路由，挂载在 API_BASE 前缀下
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chinamap/internal/config"
	"chinamap/internal/logger"
	"chinamap/internal/metrics"
	"chinamap/internal/registry"
	"chinamap/internal/revgeo"
	"chinamap/internal/store"
)

// RegionLister：区域索引（Postgres 中的 _geo_regions）
type RegionLister interface {
	ListRegions(ctx context.Context, level string) ([]store.Region, error)
}

// Server：路由依赖；Regions 为空时区域列表由参考表与磁盘文件推导，Locator 为空时 /locate 返回 503
type Server struct {
	Layout   config.Layout
	Registry *registry.Registry
	Regions  RegionLister
	Locator  *revgeo.Locator
}

type mapResult struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func escapePath(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// BuildRoutes：独立 ServeMux，由主入口以 StripPrefix 挂载到 API_BASE
func BuildRoutes(s *Server) *http.ServeMux {
	mux := http.NewServeMux()

	// 地图名称解析：302 到静态 geojson 文件；resolve=1 时只返回路径与大小
	mux.HandleFunc("GET /maps/{name...}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		rel, err := MapPath(name)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		st, err := os.Stat(filepath.Join(s.Layout.OutDir(), filepath.FromSlash(rel)))
		if err != nil || st.IsDir() {
			metrics.MapRequestsTotal.WithLabelValues("missing").Inc()
			logger.L().Debug("map_missing", "name", name, "path", rel)
			writeJSON(w, http.StatusNotFound, errorBody{Error: "map not found"})
			return
		}
		metrics.MapRequestsTotal.WithLabelValues("found").Inc()
		if r.URL.Query().Get("resolve") == "1" {
			writeJSON(w, http.StatusOK, mapResult{Name: name, Path: "geojson/" + rel, Size: st.Size()})
			return
		}
		http.Redirect(w, r, "/geojson/"+escapePath(rel), http.StatusFound)
	})

	mux.HandleFunc("GET /regions", func(w http.ResponseWriter, r *http.Request) {
		level := r.URL.Query().Get("level")
		if level != "" && level != "province" && level != "city" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "level must be province or city"})
			return
		}
		var regions []store.Region
		if s.Regions != nil {
			var err error
			regions, err = s.Regions.ListRegions(r.Context(), level)
			if err != nil {
				logger.L().Error("regions_list_error", "err", err)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "region index unavailable"})
				return
			}
		} else {
			regions = regionsFromDisk(s.Layout, s.Registry, level)
		}
		if regions == nil {
			regions = []store.Region{}
		}
		writeJSON(w, http.StatusOK, regions)
	})

	mux.HandleFunc("GET /locate", func(w http.ResponseWriter, r *http.Request) {
		if s.Locator == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "locator disabled"})
			return
		}
		start := time.Now()
		metrics.LocateRequestsTotal.Inc()
		defer func() {
			metrics.LocateDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000)
		}()
		q := r.URL.Query()
		lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
		lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
		if err := errors.Join(err1, err2); err != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "lat and lon must be valid degrees"})
			return
		}
		cs, err := revgeo.ParseCoordSys(q.Get("coord_sys"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		m, ok := s.Locator.Query(lat, lon, cs)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "no region at point"})
			return
		}
		writeJSON(w, http.StatusOK, m)
	})

	return mux
}
