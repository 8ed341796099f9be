// 包 pipeline：构建流程编排
// 顺序：确定模式 -> 准备目录 -> 下载/解码 -> 复制边界 -> 省级拆分 -> 市级拆分 -> 写区域索引
// 约束：同一阶段内各单元互不影响，但任一单元失败都会阻止后续阶段开始。
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"chinamap/internal/acquire"
	"chinamap/internal/config"
	"chinamap/internal/geobuf"
	"chinamap/internal/logger"
	"chinamap/internal/metrics"
	"chinamap/internal/partition"
	"chinamap/internal/registry"
	"chinamap/internal/store"
	"chinamap/internal/taskgroup"
)

// Indexer：区域索引写入端，由 store.Store 实现
type Indexer interface {
	ReplaceRegions(ctx context.Context, regions []store.Region) error
}

type Pipeline struct {
	Layout   config.Layout
	URLs     config.URLs
	Fetcher  *acquire.Fetcher
	Registry *registry.Registry
	Workers  int
	Index    Indexer
	Now      func() time.Time
}

// Summary：一次成功运行的结果
type Summary struct {
	Mode      config.Mode
	Converted taskgroup.Results[int]
	Provinces partition.Report
	Cities    partition.Report
}

// ModeFromArg：解析命令行模式参数，非法值输出警告并按 local 继续
func ModeFromArg(arg string) config.Mode {
	mode, ok := config.ParseMode(arg)
	if !ok {
		logger.L().Warn("mode_invalid", "arg", arg, "fallback", string(config.ModeLocal))
	}
	return mode
}

// ResolveMode：local 模式下本地输入不完整时整体切换为 antv
func (p *Pipeline) ResolveMode(mode config.Mode) config.Mode {
	if mode != config.ModeLocal {
		return mode
	}
	if err := config.CheckLocal(p.Layout); err != nil {
		logger.L().Warn("mode_fallback", "from", string(config.ModeLocal), "to", string(config.ModeAntv), "reason", err.Error())
		return config.ModeAntv
	}
	return mode
}

func (p *Pipeline) Run(ctx context.Context, mode config.Mode) (Summary, error) {
	mode = p.ResolveMode(mode)
	sum := Summary{Mode: mode}
	l := logger.L().With("mode", string(mode))
	l.Info("pipeline_start", "root", p.Layout.Root)

	if mode == config.ModeAntv {
		if p.Fetcher == nil {
			p.Fetcher = acquire.NewFetcher(config.HTTPTimeoutFromEnv())
		}
		for _, dir := range []string{p.Layout.BoundaryDir(), p.Layout.PbfDir()} {
			if err := acquire.EnsureDir(dir); err != nil {
				return sum, err
			}
		}
	}
	if err := resetDir(p.Layout.OutDir()); err != nil {
		return sum, err
	}

	var results taskgroup.Results[int]
	if mode == config.ModeLocal {
		var err error
		if results, err = p.convertLocal(ctx); err != nil {
			return sum, err
		}
	} else {
		results = p.convertRemote(ctx)
	}
	sum.Converted = results
	if err := results.Err(); err != nil {
		l.Error("convert_failed", "failed", results.Failed(), "total", len(results))
		return sum, fmt.Errorf("convert: %w", err)
	}
	l.Info("convert_done", "units", len(results))

	if err := copyFile(p.Layout.BoundaryFile(), p.Layout.BoundaryOutput()); err != nil {
		return sum, fmt.Errorf("copy boundary: %w", err)
	}
	l.Info("boundary_copied", "path", p.Layout.BoundaryOutput())

	if err := p.partition(ctx, &sum); err != nil {
		return sum, err
	}

	if p.Index != nil {
		regions := p.regions(sum)
		if err := p.Index.ReplaceRegions(ctx, regions); err != nil {
			return sum, fmt.Errorf("region index: %w", err)
		}
	}
	l.Info("pipeline_done", "provinces", sum.Provinces.Written, "cities", sum.Cities.Written)
	return sum, nil
}

// convertLocal：解码 pbf 目录中的每个归档
func (p *Pipeline) convertLocal(ctx context.Context) (taskgroup.Results[int], error) {
	archives, err := config.LocalArchives(p.Layout)
	if err != nil {
		return nil, err
	}
	g := taskgroup.New[int](0)
	for _, a := range archives {
		g.Go(filepath.Base(a), func(ctx context.Context) (int, error) {
			return decode(label(a), a, p.Layout.FlatFileFor(a))
		})
	}
	return g.Wait(ctx), nil
}

// convertRemote：边界文件与三个层级归档并发下载，归档下载完成后立即解码
func (p *Pipeline) convertRemote(ctx context.Context) taskgroup.Results[int] {
	g := taskgroup.New[int](0)
	g.Go(string(config.KindBoundary), func(ctx context.Context) (int, error) {
		res, err := p.Fetcher.Fetch(ctx, config.KindBoundary, p.URLs[config.KindBoundary], p.Layout.BoundaryFile())
		return int(res.Bytes), err
	})
	for _, level := range config.Levels {
		g.Go(string(level), func(ctx context.Context) (int, error) {
			target := p.Layout.Archive(level)
			if _, err := p.Fetcher.Fetch(ctx, level, p.URLs[level], target); err != nil {
				return 0, err
			}
			return decode(string(level), target, p.Layout.FlatFile(level))
		})
	}
	return g.Wait(ctx)
}

func (p *Pipeline) partition(ctx context.Context, sum *Summary) error {
	dir := p.Layout.ProvincesDir()
	if err := resetDir(dir); err != nil {
		return err
	}
	// 省级数据取自市级平铺文件：市级要素都带 province_adcode
	rep, err := partition.Provinces(ctx, p.Layout.FlatFile(config.KindCity), p.Registry, dir, p.Workers)
	sum.Provinces = rep
	if err != nil {
		return fmt.Errorf("province pass: %w", err)
	}
	rep, err = partition.Cities(ctx, p.Layout.FlatFile(config.KindCounty), p.Registry, dir, p.Workers)
	sum.Cities = rep
	if err != nil {
		return fmt.Errorf("city pass: %w", err)
	}
	return nil
}

// regions：把两次拆分的输出整理为索引行，路径相对于输出目录
func (p *Pipeline) regions(sum Summary) []store.Region {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	builtAt := now().UTC()
	var out []store.Region
	for _, rep := range []partition.Report{sum.Provinces, sum.Cities} {
		for _, u := range rep.Units {
			if u.Skipped || u.Err != nil {
				continue
			}
			out = append(out, store.Region{
				Code:         u.Code,
				Level:        string(rep.Pass),
				Name:         u.Name,
				ProvinceCode: u.ProvinceCode,
				ProvinceName: u.ProvinceName,
				FeatureCount: u.Features,
				CodePath:     p.rel(u.CodePath),
				NamePath:     p.rel(u.NamePath),
				BuiltAt:      builtAt,
			})
		}
	}
	return out
}

func (p *Pipeline) rel(path string) string {
	r, err := filepath.Rel(p.Layout.OutDir(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(r)
}

func decode(level, archive, output string) (int, error) {
	started := time.Now()
	n, err := geobuf.DecodeAndWrite(archive, output)
	metrics.DecodeDurationMs.WithLabelValues(level).Observe(float64(time.Since(started).Milliseconds()))
	if err != nil {
		metrics.DecodeTotal.WithLabelValues(level, "error").Inc()
		logger.L().Error("decode_error", "level", level, "archive", archive, "err", err)
		return 0, err
	}
	metrics.DecodeTotal.WithLabelValues(level, "ok").Inc()
	logger.L().Info("decode_done", "level", level, "output", output, "features", n)
	return n, nil
}

// label：province.pbf -> province
func label(archive string) string {
	base := filepath.Base(archive)
	return base[:len(base)-len(filepath.Ext(base))]
}

// resetDir：整体删除后重建，不做增量更新
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

// FromEnv：按环境变量组装流水线；rdb 非空时启用下载校验缓存，idx 可为空
func FromEnv(reg *registry.Registry, rdb *redis.Client, idx Indexer) *Pipeline {
	f := acquire.NewFetcher(config.HTTPTimeoutFromEnv())
	if rdb != nil {
		f.Cache = acquire.NewRedisValidators(rdb)
	}
	return &Pipeline{
		Layout:   config.LayoutFromEnv(),
		URLs:     config.URLsFromEnv(),
		Fetcher:  f,
		Registry: reg,
		Workers:  config.WorkersFromEnv(),
		Index:    idx,
	}
}
