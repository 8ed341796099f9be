package revgeo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"chinamap/internal/logger"
	"chinamap/internal/registry"
)

// LoadSnapshot：从拆分输出目录加载省级与市级边界
// 背景：只读取按代码命名的文件（{code}.geojson 与 {provinceCode}/{cityCode}.geojson），名称文件是同一份数据。
// 约束：目录不存在时返回空快照；单个文件解析失败只记录日志并跳过。
func LoadSnapshot(provincesDir string, reg *registry.Registry) (*Snapshot, error) {
	snap := &Snapshot{BuiltAt: time.Now()}
	if _, err := os.Stat(provincesDir); errors.Is(err, os.ErrNotExist) {
		logger.L().Warn("revgeo_dir_missing", "dir", provincesDir)
		return snap, nil
	} else if err != nil {
		return nil, err
	}
	for _, p := range reg.Provinces {
		path := filepath.Join(provincesDir, p.Code+".geojson")
		s, ok := loadShape(path, Region{Code: p.Code, Name: p.Name, Level: "province"})
		if ok {
			snap.Provinces = append(snap.Provinces, s)
		}
		cityDir := filepath.Join(provincesDir, p.Code)
		entries, err := os.ReadDir(cityDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".geojson") {
				continue
			}
			code := strings.TrimSuffix(e.Name(), ".geojson")
			r := Region{Code: code, Name: code, Level: "city", ProvinceCode: p.Code, ProvinceName: p.Name}
			if u, ok := reg.Lookup(code); ok {
				r.Name = u.Name
			}
			if s, ok := loadShape(filepath.Join(cityDir, e.Name()), r); ok {
				snap.Cities = append(snap.Cities, s)
			}
		}
	}
	logger.L().Info("revgeo_loaded", "provinces", len(snap.Provinces), "cities", len(snap.Cities))
	return snap, nil
}

func loadShape(path string, r Region) (Shape, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.L().Warn("revgeo_read_error", "path", path, "err", err)
		}
		return Shape{}, false
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		logger.L().Warn("revgeo_parse_error", "path", path, "err", err)
		return Shape{}, false
	}
	s, err := shapeOf(r, fc)
	if err != nil {
		logger.L().Debug("revgeo_shape_empty", "path", path, "err", err)
		return Shape{}, false
	}
	return s, true
}

func shapeOf(r Region, fc *geojson.FeatureCollection) (Shape, error) {
	s := Shape{Region: r}
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			s.Polys = append(s.Polys, g)
		case orb.MultiPolygon:
			s.Polys = append(s.Polys, g...)
		}
	}
	if len(s.Polys) == 0 {
		return s, fmt.Errorf("no polygons for %s", r.Code)
	}
	mp := orb.MultiPolygon(s.Polys)
	s.Bound = mp.Bound()
	s.Centroid, _ = planar.CentroidArea(mp)
	return s, nil
}

// Contains：包围盒过滤后做点入多边形判定（含洞）
func (s *Shape) Contains(pt orb.Point) bool {
	if !s.Bound.Contains(pt) {
		return false
	}
	for _, p := range s.Polys {
		if planar.PolygonContains(p, pt) {
			return true
		}
	}
	return false
}
