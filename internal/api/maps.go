package api

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	"chinamap/internal/config"
	"chinamap/internal/registry"
	"chinamap/internal/store"
)

var ErrBadMapName = errors.New("bad map name")

// MapPath：地图名称 -> 输出目录下的相对路径
// 背景：名称含 china 的为全国文件（china、china-city 等），其余为省级或 省/市 两段式拆分文件
// 约束：拒绝空段、..、反斜杠与超过两段的名称
func MapPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `\`) {
		return "", ErrBadMapName
	}
	segs := strings.Split(name, "/")
	if len(segs) > 2 {
		return "", ErrBadMapName
	}
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return "", ErrBadMapName
		}
	}
	if strings.Contains(name, "china") {
		if len(segs) != 1 {
			return "", ErrBadMapName
		}
		return name + ".geojson", nil
	}
	return path.Join("provinces", name) + ".geojson", nil
}

// regionsFromDisk：未接入区域索引时按参考表与磁盘文件推导区域列表
func regionsFromDisk(l config.Layout, reg *registry.Registry, level string) []store.Region {
	var out []store.Region
	exists := func(rel string) (os.FileInfo, bool) {
		st, err := os.Stat(filepath.Join(l.OutDir(), filepath.FromSlash(rel)))
		return st, err == nil && !st.IsDir()
	}
	if level == "" || level == "province" {
		for _, p := range reg.Provinces {
			codePath := path.Join("provinces", p.Code+".geojson")
			st, ok := exists(codePath)
			if !ok {
				continue
			}
			out = append(out, store.Region{
				Code: p.Code, Level: "province", Name: p.Name,
				ProvinceCode: p.Code, ProvinceName: p.Name,
				CodePath: codePath, NamePath: path.Join("provinces", p.Name+".geojson"),
				BuiltAt: st.ModTime().UTC(),
			})
		}
	}
	if level == "" || level == "city" {
		for _, c := range reg.CitySeeds() {
			pc := c.Province + "0000"
			prov, ok := reg.Lookup(pc)
			if !ok {
				continue
			}
			codePath := path.Join("provinces", pc, c.Code+".geojson")
			st, ok := exists(codePath)
			if !ok {
				continue
			}
			out = append(out, store.Region{
				Code: c.Code, Level: "city", Name: c.Name,
				ProvinceCode: pc, ProvinceName: prov.Name,
				CodePath: codePath, NamePath: path.Join("provinces", prov.Name, c.Name+".geojson"),
				BuiltAt: st.ModTime().UTC(),
			})
		}
	}
	return out
}
