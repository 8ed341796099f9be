// 包 acquire：从远端下载边界文件与几何归档到本地缓存目录
// 约束：先写 <name>_temp<ext> 再 rename 到目标路径；任一步失败都删除临时文件，目标路径上不会出现半截文件。
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chinamap/internal/config"
	"chinamap/internal/logger"
	"chinamap/internal/metrics"
)

var ErrStatus = errors.New("unexpected http status")

// Result：一次下载的结果；NotModified 为 true 时沿用已有缓存文件
type Result struct {
	Path        string
	Bytes       int64
	Status      int
	NotModified bool
}

// Fetcher：HTTP GET + 原子落盘；Cache 为空时每次都完整下载
type Fetcher struct {
	Client *http.Client
	Cache  ValidatorCache
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: timeout}}
}

// TempPath：province.pbf -> province_temp.pbf
func TempPath(target string) string {
	ext := filepath.Ext(target)
	return strings.TrimSuffix(target, ext) + "_temp" + ext
}

// Fetch：下载 url 到 target，kind 用于日志与指标标签
// 背景：缓存了 ETag/Last-Modified 且目标文件存在时发送条件请求，304 直接返回已有文件。
func (f *Fetcher) Fetch(ctx context.Context, k config.Kind, url, target string) (Result, error) {
	kind := string(k)
	l := logger.L().With("kind", kind, "url", url)
	l.Info("acquire_start", "target", target)
	started := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, err
	}
	conditional := false
	if f.Cache != nil {
		if _, err := os.Stat(target); err == nil {
			v, ok, err := f.Cache.Get(ctx, url)
			if err != nil {
				l.Warn("acquire_cache_get_error", "err", err)
			} else if ok {
				conditional = v.Apply(req)
			}
		}
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		metrics.AcquireTotal.WithLabelValues(kind, "error").Inc()
		l.Error("acquire_error", "err", err)
		return Result{}, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if conditional && resp.StatusCode == http.StatusNotModified {
		metrics.AcquireTotal.WithLabelValues(kind, "not_modified").Inc()
		l.Info("acquire_not_modified", "target", target)
		return Result{Path: target, Status: resp.StatusCode, NotModified: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.AcquireTotal.WithLabelValues(kind, "error").Inc()
		l.Error("acquire_error", "status", resp.StatusCode)
		return Result{Status: resp.StatusCode}, fmt.Errorf("get %s: %w %d", url, ErrStatus, resp.StatusCode)
	}

	n, err := saveAtomic(resp.Body, target)
	if err != nil {
		metrics.AcquireTotal.WithLabelValues(kind, "error").Inc()
		l.Error("acquire_save_error", "target", target, "err", err)
		return Result{Status: resp.StatusCode}, err
	}
	metrics.AcquireTotal.WithLabelValues(kind, "ok").Inc()
	metrics.AcquireBytesTotal.WithLabelValues(kind).Add(float64(n))

	if f.Cache != nil {
		if v := ValidatorsFrom(resp.Header); !v.Empty() {
			if err := f.Cache.Put(ctx, url, v); err != nil {
				l.Warn("acquire_cache_put_error", "err", err)
			}
		}
	}
	l.Info("acquire_done", "target", target, "bytes", n, "ms", time.Since(started).Milliseconds())
	return Result{Path: target, Bytes: n, Status: resp.StatusCode}, nil
}

// saveAtomic：写临时文件后 rename；失败时删除临时文件
func saveAtomic(r io.Reader, target string) (n int64, err error) {
	tmp := TempPath(target)
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	out, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err = io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", tmp, err)
	}
	if err = os.Rename(tmp, target); err != nil {
		return 0, err
	}
	return n, nil
}

// EnsureDir：缓存目录不存在时创建
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	logger.L().Info("cache_dir_created", "dir", dir)
	return nil
}
