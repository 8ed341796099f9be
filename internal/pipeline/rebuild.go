package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"chinamap/internal/config"
	"chinamap/internal/logger"
)

// Rebuild：在暂存根目录完整运行一次，成功后把暂存产物整体换入线上输出目录
// 背景：服务运行期间线上 public/geojson 持续被读取，直接 Run 会先清空它，失败时留下半成品。
// 约束：任一阶段失败时线上目录保持不变；区域索引在换入之后写入，路径仍相对于输出目录。
// 暂存目录下的 boundary/pbf 缓存跨次保留，条件请求依旧生效。
func (p *Pipeline) Rebuild(ctx context.Context, mode config.Mode) (Summary, error) {
	staged := *p
	staged.Layout = p.Layout.Staging()
	staged.Index = nil
	sum, err := staged.Run(ctx, mode)
	if err != nil {
		return sum, fmt.Errorf("staged run: %w", err)
	}
	backup := filepath.Join(staged.Layout.Root, "geojson.old")
	if err := promote(staged.Layout.OutDir(), p.Layout.OutDir(), backup); err != nil {
		logger.L().Error("rebuild_promote_error", "err", err)
		return sum, fmt.Errorf("promote: %w", err)
	}
	logger.L().Info("rebuild_promoted", "dir", p.Layout.OutDir())

	if p.Index != nil {
		if err := p.Index.ReplaceRegions(ctx, staged.regions(sum)); err != nil {
			return sum, fmt.Errorf("region index: %w", err)
		}
	}
	return sum, nil
}

// promote：live -> backup，staged -> live；第二次 rename 失败时把 backup 挪回
func promote(staged, live, backup string) error {
	if err := os.MkdirAll(filepath.Dir(live), 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(backup); err != nil {
		return err
	}
	hadLive := true
	if err := os.Rename(live, backup); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		hadLive = false
	}
	if err := os.Rename(staged, live); err != nil {
		if hadLive {
			if rerr := os.Rename(backup, live); rerr != nil {
				return errors.Join(err, rerr)
			}
		}
		return err
	}
	if hadLive {
		if err := os.RemoveAll(backup); err != nil {
			logger.L().Warn("rebuild_backup_cleanup_error", "dir", backup, "err", err)
		}
	}
	return nil
}
