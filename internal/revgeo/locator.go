package revgeo

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// CoordSys：输入坐标系
type CoordSys string

const (
	GCJ02 CoordSys = "GCJ-02"
	WGS84 CoordSys = "WGS84"
	BD09  CoordSys = "BD-09"
)

// ParseCoordSys：空值按 GCJ-02 处理（边界数据本身为 GCJ-02）；大小写与连字符不敏感
func ParseCoordSys(s string) (CoordSys, error) {
	norm := strings.NewReplacer("-", "", "_", "").Replace(strings.ToUpper(strings.TrimSpace(s)))
	switch norm {
	case "", "GCJ02":
		return GCJ02, nil
	case "WGS84":
		return WGS84, nil
	case "BD09":
		return BD09, nil
	}
	return "", fmt.Errorf("unsupported coord_sys %q", s)
}

// Match：命中的省份与（若有）城市；Approx 表示由最近邻兜底得到
type Match struct {
	Province   Region  `json:"province"`
	City       *Region `json:"city,omitempty"`
	Approx     bool    `json:"approx"`
	DistanceKm float64 `json:"distance_km,omitempty"`
}

const cacheCellLevel = 16

// Locator：点 -> 行政区查询（包围盒候选 -> PIP 命中 -> 质心最近邻兜底）
// 约束：快照可在重建后整体替换，替换时清空缓存
type Locator struct {
	mu          sync.RWMutex
	snap        *Snapshot
	kd          *kdNode
	cache       *LRU
	cacheTTL    time.Duration
	maxRadiusKm float64
}

// NewLocator：REVGEO_CACHE_TTL_S（默认 3600）、REVGEO_MAX_RADIUS_KM（默认 50）
func NewLocator(snap *Snapshot) *Locator {
	ttl := 3600
	if n, err := strconv.Atoi(os.Getenv("REVGEO_CACHE_TTL_S")); err == nil && n > 0 {
		ttl = n
	}
	r := 50.0
	if f, err := strconv.ParseFloat(os.Getenv("REVGEO_MAX_RADIUS_KM"), 64); err == nil && f >= 0 {
		r = f
	}
	o := &Locator{cacheTTL: time.Duration(ttl) * time.Second, maxRadiusKm: r}
	o.Swap(snap)
	return o
}

func (o *Locator) Swap(snap *Snapshot) {
	if snap == nil {
		snap = &Snapshot{}
	}
	items := make([]kdItem, len(snap.Provinces))
	for i, s := range snap.Provinces {
		items[i] = kdItem{pt: s.Centroid, idx: i}
	}
	kd := buildKD(items, 0)
	o.mu.Lock()
	o.snap, o.kd, o.cache = snap, kd, NewLRU(4096, o.cacheTTL)
	o.mu.Unlock()
}

// Query：返回 ok=false 表示既未命中也不在兜底半径内
func (o *Locator) Query(lat, lon float64, cs CoordSys) (Match, bool) {
	switch cs {
	case WGS84:
		lat, lon = transformGCJ(lat, lon)
	case BD09:
		lat, lon = bd09ToGCJ02(lat, lon)
	}
	o.mu.RLock()
	snap, kd, cache := o.snap, o.kd, o.cache
	o.mu.RUnlock()

	key := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon)).Parent(cacheCellLevel).ToToken()
	if m, ok := cache.Get(key); ok {
		return m, true
	}
	pt := orb.Point{lon, lat}
	for i := range snap.Provinces {
		p := &snap.Provinces[i]
		if !p.Contains(pt) {
			continue
		}
		m := Match{Province: p.Region}
		for j := range snap.Cities {
			c := &snap.Cities[j]
			if c.ProvinceCode == p.Code && c.Contains(pt) {
				city := c.Region
				m.City = &city
				break
			}
		}
		cache.Set(key, m)
		return m, true
	}
	if idx, d := nearest(kd, pt); idx >= 0 && d <= o.maxRadiusKm {
		m := Match{Province: snap.Provinces[idx].Region, Approx: true, DistanceKm: math.Round(d*10) / 10}
		cache.Set(key, m)
		return m, true
	}
	return Match{}, false
}

// 坐标系转换（WGS84/BD-09 -> GCJ-02），误差在数米级；境外坐标不做偏移
func bd09ToGCJ02(lat, lon float64) (float64, float64) {
	x := lon - 0.0065
	y := lat - 0.006
	z := math.Sqrt(x*x+y*y) - 0.00002*math.Sin(y*math.Pi)
	theta := math.Atan2(y, x) - 0.000003*math.Cos(x*math.Pi)
	return z * math.Sin(theta), z * math.Cos(theta)
}

func transformGCJ(lat, lon float64) (float64, float64) {
	if outOfChina(lat, lon) {
		return lat, lon
	}
	dLat := transformLat(lon-105.0, lat-35.0)
	dLon := transformLon(lon-105.0, lat-35.0)
	radLat := lat / 180.0 * math.Pi
	magic := math.Sin(radLat)
	magic = 1 - 0.00669342162296594323*magic*magic
	sqrtMagic := math.Sqrt(magic)
	dLat = (dLat * 180.0) / ((6378245.0 * (1 - 0.00669342162296594323)) / (magic * sqrtMagic) * math.Pi)
	dLon = (dLon * 180.0) / (6378245.0 / sqrtMagic * math.Cos(radLat) * math.Pi)
	return lat + dLat, lon + dLon
}

func outOfChina(lat, lon float64) bool {
	return lon < 72.004 || lon > 137.8347 || lat < 0.8293 || lat > 55.8271
}

func transformLat(x, y float64) float64 {
	ret := -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*x*y + 0.2*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(y*math.Pi) + 40.0*math.Sin(y/3.0*math.Pi)) * 2.0 / 3.0
	ret += (160.0*math.Sin(y/12.0*math.Pi) + 320*math.Sin(y*math.Pi/30.0)) * 2.0 / 3.0
	return ret
}

func transformLon(x, y float64) float64 {
	ret := 300.0 + x + 2.0*y + 0.1*x*x + 0.1*x*y + 0.1*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(x*math.Pi) + 40.0*math.Sin(x/3.0*math.Pi)) * 2.0 / 3.0
	ret += (150.0*math.Sin(x/12.0*math.Pi) + 300.0*math.Sin(x/30.0*math.Pi)) * 2.0 / 3.0
	return ret
}
