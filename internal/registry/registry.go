// 包 registry：省/市行政区划代码参考表
// 背景：参考表来自 province-city-china（dist/province.json、dist/city.json），随二进制内嵌；
// 可通过 REGISTRY_DIR 指向同结构的新版本文件替换。
// 约束：Load 之后只读，显式传入分区器，不作为全局状态引用。
package registry

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed data/province.json data/city.json
var embedded embed.FS

// Unit：参考表中的一个行政单元
type Unit struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Province string `json:"province"`
	City     string `json:"city,omitempty"`
}

// Registry：省级与市级参考表，保持文件中的顺序
type Registry struct {
	Provinces []Unit
	Cities    []Unit
	byCode    map[string]Unit
}

// cityOverrides：参考表 city.json 缺失直辖市、港澳与台湾，手工补齐
var cityOverrides = []Unit{
	{Code: "110000", Name: "北京市", Province: "11", City: "00"},
	{Code: "120000", Name: "天津市", Province: "12", City: "00"},
	{Code: "310000", Name: "上海市", Province: "31", City: "00"},
	{Code: "500000", Name: "重庆市", Province: "50", City: "00"},
	{Code: "810000", Name: "香港特别行政区", Province: "81", City: "00"},
	{Code: "820000", Name: "澳门特别行政区", Province: "82", City: "00"},
	{Code: "710000", Name: "台湾省", Province: "71", City: "00"},
}

// Load：读取参考表；dir 为空时使用内嵌数据
func Load(dir string) (*Registry, error) {
	var fsys fs.FS
	if dir == "" {
		sub, err := fs.Sub(embedded, "data")
		if err != nil {
			return nil, err
		}
		fsys = sub
	} else {
		fsys = os.DirFS(dir)
	}
	provinces, err := readUnits(fsys, "province.json")
	if err != nil {
		return nil, err
	}
	cities, err := readUnits(fsys, "city.json")
	if err != nil {
		return nil, err
	}
	return New(provinces, cities), nil
}

// New：由内存中的参考表构建（测试与自定义数据源使用）
func New(provinces, cities []Unit) *Registry {
	r := &Registry{Provinces: provinces, Cities: cities, byCode: make(map[string]Unit, len(provinces)+len(cities)+len(cityOverrides))}
	for _, u := range cityOverrides {
		r.byCode[u.Code] = u
	}
	for _, u := range cities {
		r.byCode[u.Code] = u
	}
	// 省级代码与直辖市等覆盖项重合时以省级表为准
	for _, u := range provinces {
		r.byCode[u.Code] = u
	}
	return r
}

func readUnits(fsys fs.FS, name string) ([]Unit, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", name, err)
	}
	var units []Unit
	if err := json.Unmarshal(b, &units); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", filepath.Base(name), err)
	}
	for i, u := range units {
		if u.Code == "" || u.Name == "" {
			return nil, fmt.Errorf("registry: %s entry %d has empty code or name", name, i)
		}
	}
	return units, nil
}

// CityOverrides：七个手工补齐的市级单元（副本）
func CityOverrides() []Unit {
	return append([]Unit(nil), cityOverrides...)
}

// CitySeeds：市级分区的预置桶，先覆盖项后参考表；同代码时参考表条目替换覆盖项并保留其位置
func (r *Registry) CitySeeds() []Unit {
	out := make([]Unit, 0, len(cityOverrides)+len(r.Cities))
	pos := make(map[string]int, cap(out))
	for _, u := range cityOverrides {
		pos[u.Code] = len(out)
		out = append(out, u)
	}
	for _, u := range r.Cities {
		if i, ok := pos[u.Code]; ok {
			out[i] = u
			continue
		}
		pos[u.Code] = len(out)
		out = append(out, u)
	}
	return out
}

// Lookup：按代码查询省级或市级单元
func (r *Registry) Lookup(code string) (Unit, bool) {
	u, ok := r.byCode[code]
	return u, ok
}
