package revgeo

import (
	"time"

	"github.com/paulmach/orb"
)

// Region：省级或市级行政单元；市级单元带所属省份
type Region struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	Level        string `json:"level"`
	ProvinceCode string `json:"province_code,omitempty"`
	ProvinceName string `json:"province_name,omitempty"`
}

// Shape：行政单元的边界，Bound 用于候选过滤，Centroid 用于最近邻兜底
// 约束：只收集 Polygon/MultiPolygon，其他几何忽略
type Shape struct {
	Region
	Bound    orb.Bound
	Polys    []orb.Polygon
	Centroid orb.Point
}

// Snapshot：加载结果快照，只读，供查询期共享
type Snapshot struct {
	Provinces []Shape
	Cities    []Shape
	BuiltAt   time.Time
}
