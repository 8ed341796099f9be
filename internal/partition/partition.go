// 包 partition：把全国级 FeatureCollection 按行政区划代码拆分成省级、市级文件
// 背景：前端按名称请求 geojson/provinces/{name}.geojson，需要同一份数据按代码和名称各写一份。
// 约束：流式解析失败时整个 pass 失败且不写任何文件；单个文件写入失败只影响该文件。
package partition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"chinamap/internal/logger"
	"chinamap/internal/metrics"
	"chinamap/internal/registry"
	"chinamap/internal/taskgroup"
)

var ErrSourceMissing = errors.New("partition source missing")

type Pass string

const (
	PassProvince Pass = "province"
	PassCity     Pass = "city"
)

// 要素属性中的分组字段
const (
	propProvinceCode = "properties.province_adcode"
	propProvinceName = "properties.province"
	propCityCode     = "properties.city_adcode"
)

// bucket：一个行政单元及其收集到的原始要素
type bucket struct {
	code         string
	name         string
	provinceCode string
	provinceName string
	features     []json.RawMessage
}

// UnitResult：单个行政单元的输出结果；Skipped 为 true 时未写文件
type UnitResult struct {
	Code         string
	Name         string
	ProvinceCode string
	ProvinceName string
	Features     int
	CodePath     string
	NamePath     string
	Skipped      bool
	Err          error
}

// Report：一次 pass 的汇总
type Report struct {
	Pass    Pass
	Written int
	Skipped int
	Dropped int
	Units   []UnitResult
}

// Provinces：按 province_adcode 将 src 分组到注册表中的每个省份
// 每个省份都会输出 {code}.geojson 与 {name}.geojson，即使没有任何要素
func Provinces(ctx context.Context, src string, reg *registry.Registry, outDir string, workers int) (Report, error) {
	buckets := make([]*bucket, 0, len(reg.Provinces))
	for _, u := range reg.Provinces {
		buckets = append(buckets, &bucket{code: u.Code, name: u.Name})
	}
	header, dropped, err := fold(ctx, src, PassProvince, buckets, propProvinceCode, nil)
	if err != nil {
		return Report{Pass: PassProvince}, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Report{Pass: PassProvince}, err
	}
	return emit(ctx, PassProvince, header, buckets, dropped, workers, func(b *bucket) (string, string, bool) {
		return filepath.Join(outDir, b.code+".geojson"), filepath.Join(outDir, b.name+".geojson"), true
	})
}

// Cities：按 city_adcode 将 src 分组到注册表城市与七个特殊单元
// 城市所属省份取自第一个命中要素的 province / province_adcode；
// 没有要素或无法确定所属省份的城市不输出
func Cities(ctx context.Context, src string, reg *registry.Registry, outDir string, workers int) (Report, error) {
	seeds := reg.CitySeeds()
	buckets := make([]*bucket, 0, len(seeds))
	for _, u := range seeds {
		buckets = append(buckets, &bucket{code: u.Code, name: u.Name})
	}
	backfill := func(b *bucket, feat json.RawMessage) {
		if b.provinceName == "" {
			b.provinceName = gjson.GetBytes(feat, propProvinceName).String()
		}
		if b.provinceCode == "" {
			b.provinceCode = gjson.GetBytes(feat, propProvinceCode).String()
		}
	}
	header, dropped, err := fold(ctx, src, PassCity, buckets, propCityCode, backfill)
	if err != nil {
		return Report{Pass: PassCity}, err
	}
	return emit(ctx, PassCity, header, buckets, dropped, workers, func(b *bucket) (string, string, bool) {
		if b.provinceCode == "" || b.provinceName == "" || len(b.features) == 0 {
			return "", "", false
		}
		return filepath.Join(outDir, b.provinceCode, b.code+".geojson"),
			filepath.Join(outDir, b.provinceName, b.name+".geojson"), true
	})
}

// fold：流式读取 src，把要素追加到分组键匹配的 bucket；未匹配的要素计入 dropped
func fold(ctx context.Context, src string, pass Pass, buckets []*bucket, keyPath string, onMatch func(*bucket, json.RawMessage)) ([]Member, int, error) {
	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrSourceMissing, src)
		}
		return nil, 0, err
	}
	defer f.Close()

	byCode := make(map[string]*bucket, len(buckets))
	for _, b := range buckets {
		byCode[b.code] = b
	}
	matched, dropped := 0, 0
	s := NewStream(f)
	for s.Scan() {
		if (matched+dropped)&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		feat := s.Feature()
		b, ok := byCode[gjson.GetBytes(feat, keyPath).String()]
		if !ok {
			dropped++
			continue
		}
		b.features = append(b.features, feat)
		if onMatch != nil {
			onMatch(b, feat)
		}
		matched++
	}
	if err := s.Err(); err != nil {
		logger.L().Error("partition_parse_error", "pass", string(pass), "src", src, "err", err)
		return nil, 0, fmt.Errorf("parse %s: %w", src, err)
	}
	metrics.PartitionFeaturesTotal.WithLabelValues(string(pass), "matched").Add(float64(matched))
	metrics.PartitionFeaturesTotal.WithLabelValues(string(pass), "dropped").Add(float64(dropped))
	logger.L().Info("partition_folded", "pass", string(pass), "src", src, "matched", matched, "dropped", dropped)
	return s.Header(), dropped, nil
}

// emit：并发写出每个 bucket；paths 返回 false 表示跳过该单元
func emit(ctx context.Context, pass Pass, header []Member, buckets []*bucket, dropped, workers int, paths func(*bucket) (string, string, bool)) (Report, error) {
	rep := Report{Pass: pass, Dropped: dropped, Units: make([]UnitResult, len(buckets))}
	g := taskgroup.New[struct{}](workers)
	var queued []int
	for i, b := range buckets {
		ur := UnitResult{
			Code:         b.code,
			Name:         b.name,
			ProvinceCode: b.provinceCode,
			ProvinceName: b.provinceName,
			Features:     len(b.features),
		}
		codePath, namePath, ok := paths(b)
		if !ok {
			ur.Skipped = true
			rep.Units[i] = ur
			rep.Skipped++
			metrics.PartitionSkippedTotal.WithLabelValues(string(pass)).Inc()
			logger.L().Info("partition_unit_skipped", "pass", string(pass), "code", b.code, "name", b.name,
				"province_code", b.provinceCode, "province_name", b.provinceName, "features", len(b.features))
			continue
		}
		ur.CodePath, ur.NamePath = codePath, namePath
		rep.Units[i] = ur
		queued = append(queued, i)
		g.Go(b.code, func(ctx context.Context) (struct{}, error) {
			doc, err := Assemble(header, b.features)
			if err != nil {
				return struct{}{}, err
			}
			for _, p := range []string{codePath, namePath} {
				if err := writeFile(p, doc); err != nil {
					return struct{}{}, err
				}
				metrics.PartitionFilesTotal.WithLabelValues(string(pass)).Inc()
				logger.L().Debug("partition_file_written", "pass", string(pass), "path", p, "features", len(b.features))
			}
			return struct{}{}, nil
		})
	}

	results := g.Wait(ctx)
	for j, r := range results {
		u := &rep.Units[queued[j]]
		if r.Err != nil {
			u.Err = r.Err
			logger.L().Error("partition_unit_error", "pass", string(pass), "code", u.Code, "name", u.Name, "err", r.Err)
			continue
		}
		rep.Written++
	}
	logger.L().Info("partition_done", "pass", string(pass), "written", rep.Written, "skipped", rep.Skipped, "dropped", rep.Dropped)
	return rep, results.Err()
}

func writeFile(path string, doc []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, doc, 0o644)
}

// Assemble：按源文件顺序写回头部成员，再追加 features 数组；要素字节原样保留
func Assemble(header []Member, features []json.RawMessage) ([]byte, error) {
	doc := []byte("{}")
	var err error
	for _, m := range header {
		doc, err = sjson.SetRawBytes(doc, escapeKey(m.Key), m.Value)
		if err != nil {
			return nil, fmt.Errorf("header member %q: %w", m.Key, err)
		}
	}
	var buf bytes.Buffer
	buf.Grow(featuresSize(features))
	buf.WriteByte('[')
	for i, f := range features {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(f)
	}
	buf.WriteByte(']')
	return sjson.SetRawBytesOptions(doc, "features", buf.Bytes(), &sjson.Options{ReplaceInPlace: true})
}

func featuresSize(features []json.RawMessage) int {
	n := 2
	for _, f := range features {
		n += len(f) + 1
	}
	return n
}

var pathEscaper = strings.NewReplacer(`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `#`, `\#`, `@`, `\@`, `:`, `\:`)

// escapeKey：成员名按字面量使用，转义 sjson 路径语法中的特殊字符
func escapeKey(k string) string { return pathEscaper.Replace(k) }
