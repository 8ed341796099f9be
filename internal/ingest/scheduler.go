// 包 ingest：在地图服务进程内按周重建 geojson 拆分文件
package ingest

import (
	"context"
	"os"
	"strconv"
	"time"

	"chinamap/internal/logger"
)

// nextMondayAt：now 之后最近一个周一 hour 点（不含当前已过时的当周）
// 约束：基于传入时区 loc 与整点 hour；仅前推至未来时间
func nextMondayAt(now time.Time, loc *time.Location, hour int) time.Time {
	now = now.In(loc)
	for i := 0; i <= 7; i++ {
		d := now.AddDate(0, 0, i)
		if d.Weekday() == time.Monday {
			t := time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
			if t.After(now) {
				return t
			}
		}
	}
	d := now.AddDate(0, 0, 7)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
}

// hourFromEnv：INGEST_HOUR，默认 3，超出 0-23 时回退默认值
func hourFromEnv() int {
	if h := os.Getenv("INGEST_HOUR"); h != "" {
		if n, err := strconv.Atoi(h); err == nil && n >= 0 && n < 24 {
			return n
		}
	}
	return 3
}

// StartWeeklyShanghai：北京时间（Asia/Shanghai）每周一 INGEST_HOUR 点执行 job
// 背景：上游 xingzhengqu 数据包按版本发布，周级刷新足够；错误只记录日志，继续调度下一周
// 约束：运行于后台协程，ctx 取消后退出；返回的通道在协程退出时关闭
func StartWeeklyShanghai(ctx context.Context, job func(context.Context) error) <-chan struct{} {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return startWeekly(ctx, loc, hourFromEnv(), time.Now, job)
}

func startWeekly(ctx context.Context, loc *time.Location, hour int, now func() time.Time, job func(context.Context) error) <-chan struct{} {
	l := logger.L()
	done := make(chan struct{})
	next := nextMondayAt(now(), loc, hour)
	l.Info("ingest_scheduled", "next", next)
	go func() {
		defer close(done)
		for {
			t := time.NewTimer(next.Sub(now()))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			l.Info("ingest_start", "at", next)
			if err := job(ctx); err != nil {
				l.Error("ingest_error", "err", err)
			} else {
				l.Info("ingest_done")
			}
			next = next.AddDate(0, 0, 7)
		}
	}()
	return done
}
