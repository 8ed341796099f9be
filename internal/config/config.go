// 包 config：构建脚本的固定目录布局、远端地址与运行模式
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Mode：原始数据来源
type Mode string

const (
	ModeLocal Mode = "local"
	ModeAntv  Mode = "antv"
)

// Kind：需要获取的原始输入种类
type Kind string

const (
	KindBoundary Kind = "boundary"
	KindProvince Kind = "province"
	KindCity     Kind = "city"
	KindCounty   Kind = "county"
)

// Levels：几何归档的三个行政层级，顺序即远端下载与日志顺序
var Levels = []Kind{KindProvince, KindCity, KindCounty}

// 默认远端地址（AntV L7 GISDATA 所用 CDN）
const (
	DefaultChinaGeoJSONURL = "https://mdn.alipayobjects.com/afts/file/A*zMVuS7mKBI4AAAAAAAAAAAAADrd2AQ/全国边界.json"
	DefaultProvincePbfURL  = "https://jsd.onmicrosoft.cn/npm/xingzhengqu@2024/data/gcj02/province.pbf"
	DefaultCityPbfURL      = "https://jsd.onmicrosoft.cn/npm/xingzhengqu@2024/data/gcj02/city.pbf"
	DefaultCountyPbfURL    = "https://jsd.onmicrosoft.cn/npm/xingzhengqu@2024/data/gcj02/county.pbf"
)

var ErrLocalInputMissing = errors.New("local input missing")

// ParseMode：解析命令行模式参数
// 约束：空参数视为 local；非法参数回退到 local 并返回 ok=false，由调用方输出警告
func ParseMode(arg string) (Mode, bool) {
	switch Mode(strings.TrimSpace(arg)) {
	case "", ModeLocal:
		return ModeLocal, true
	case ModeAntv:
		return ModeAntv, true
	}
	return ModeLocal, false
}

// Layout：相对项目根目录的固定文件布局
type Layout struct {
	Root string
}

func (l Layout) PublicDir() string    { return filepath.Join(l.Root, "public") }
func (l Layout) BoundaryDir() string  { return filepath.Join(l.PublicDir(), "boundary") }
func (l Layout) PbfDir() string       { return filepath.Join(l.PublicDir(), "pbf") }
func (l Layout) OutDir() string       { return filepath.Join(l.PublicDir(), "geojson") }
func (l Layout) ProvincesDir() string { return filepath.Join(l.OutDir(), "provinces") }

// Staging：定时重建使用的暂存根目录，产物成功后才换入 OutDir
func (l Layout) Staging() Layout { return Layout{Root: filepath.Join(l.Root, ".rebuild")} }

// BoundaryFile：缓存的全国边界文件
func (l Layout) BoundaryFile() string { return filepath.Join(l.BoundaryDir(), "china.geojson") }

// BoundaryOutput：复制到输出目录后的全国边界文件
func (l Layout) BoundaryOutput() string { return filepath.Join(l.OutDir(), "china.geojson") }

// Archive：某层级的缓存几何归档
func (l Layout) Archive(level Kind) string {
	return filepath.Join(l.PbfDir(), string(level)+".pbf")
}

// FlatFile：某层级解码后的全国扁平文件
func (l Layout) FlatFile(level Kind) string {
	return filepath.Join(l.OutDir(), "china-"+string(level)+".geojson")
}

// CacheTarget：kind 对应的本地缓存路径
func (l Layout) CacheTarget(kind Kind) string {
	if kind == KindBoundary {
		return l.BoundaryFile()
	}
	return l.Archive(kind)
}

// FlatFileFor：由归档文件名推导输出文件名（province.pbf -> china-province.geojson）
func (l Layout) FlatFileFor(archive string) string {
	base := strings.TrimSuffix(filepath.Base(archive), ".pbf")
	return filepath.Join(l.OutDir(), "china-"+base+".geojson")
}

// LayoutFromEnv：PROJECT_ROOT 为空时使用当前目录
func LayoutFromEnv() Layout {
	root := os.Getenv("PROJECT_ROOT")
	if root == "" {
		root = "."
	}
	return Layout{Root: root}
}

// URLs：每种原始输入的远端地址
type URLs map[Kind]string

// URLsFromEnv：读取环境变量覆盖，未设置时使用默认地址
func URLsFromEnv() URLs {
	get := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	return URLs{
		KindBoundary: get("CHINA_GEOJSON_URL", DefaultChinaGeoJSONURL),
		KindProvince: get("PROVINCE_PBF_URL", DefaultProvincePbfURL),
		KindCity:     get("CITY_PBF_URL", DefaultCityPbfURL),
		KindCounty:   get("COUNTY_PBF_URL", DefaultCountyPbfURL),
	}
}

// HTTPTimeoutFromEnv：下载超时，默认 120 秒
func HTTPTimeoutFromEnv() time.Duration {
	sec := 120
	if v := os.Getenv("HTTP_TIMEOUT_S"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n > 0 {
			sec = n
		}
	}
	return time.Duration(sec) * time.Second
}

// WorkersFromEnv：分区写出并发数，默认 8
func WorkersFromEnv() int {
	n := 8
	if v := os.Getenv("PARTITION_WORKERS"); v != "" {
		if w, e := strconv.Atoi(v); e == nil && w > 0 {
			n = w
		}
	}
	return n
}

// CheckLocal：local 模式的一次性整体校验
// 背景：四种输入一起校验而非按种类校验；任一不满足即整体切换 antv 模式
// 返回：包装 ErrLocalInputMissing 的错误，消息中带缺失路径
func CheckLocal(l Layout) error {
	for _, dir := range []string{l.BoundaryDir(), l.PbfDir()} {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return fmt.Errorf("%w: directory %s", ErrLocalInputMissing, dir)
		}
	}
	if _, err := os.Stat(l.BoundaryFile()); err != nil {
		return fmt.Errorf("%w: %s", ErrLocalInputMissing, l.BoundaryFile())
	}
	archives, err := LocalArchives(l)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLocalInputMissing, err)
	}
	if len(archives) == 0 {
		return fmt.Errorf("%w: no .pbf file in %s", ErrLocalInputMissing, l.PbfDir())
	}
	return nil
}

// LocalArchives：pbf 目录中的全部归档（跳过下载中断遗留的 *_temp.pbf），按文件名排序
func LocalArchives(l Layout) ([]string, error) {
	entries, err := os.ReadDir(l.PbfDir())
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".pbf") || strings.HasSuffix(name, "_temp.pbf") {
			continue
		}
		out = append(out, filepath.Join(l.PbfDir(), name))
	}
	return out, nil
}
