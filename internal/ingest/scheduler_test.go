package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cst = time.FixedZone("CST", 8*3600)

func TestNextMondayAt(t *testing.T) {
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		// 周三 -> 下周一
		{time.Date(2026, 10, 14, 12, 0, 0, 0, cst), time.Date(2026, 10, 19, 3, 0, 0, 0, cst)},
		// 周一 2 点 -> 当天 3 点
		{time.Date(2026, 10, 19, 2, 0, 0, 0, cst), time.Date(2026, 10, 19, 3, 0, 0, 0, cst)},
		// 周一 3 点整已过 -> 下周一
		{time.Date(2026, 10, 19, 3, 0, 0, 0, cst), time.Date(2026, 10, 26, 3, 0, 0, 0, cst)},
		// UTC 周日 20 点即北京时间周一 4 点
		{time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC), time.Date(2026, 10, 26, 3, 0, 0, 0, cst)},
	}
	for _, c := range cases {
		got := nextMondayAt(c.now, cst, 3)
		assert.True(t, c.want.Equal(got), "now=%s got=%s", c.now, got)
	}
}

func TestHourFromEnv(t *testing.T) {
	t.Setenv("INGEST_HOUR", "")
	assert.Equal(t, 3, hourFromEnv())
	t.Setenv("INGEST_HOUR", "5")
	assert.Equal(t, 5, hourFromEnv())
	t.Setenv("INGEST_HOUR", "24")
	assert.Equal(t, 3, hourFromEnv())
}

func TestStartWeeklyRunsJobAndStops(t *testing.T) {
	t0 := time.Date(2026, 10, 19, 2, 59, 0, 0, cst)
	var calls atomic.Int32
	// 首次调用用于计算下次时间，之后时间跳到一年后，计时器立即触发
	now := func() time.Time {
		if calls.Add(1) == 1 {
			return t0
		}
		return t0.AddDate(1, 0, 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var runs atomic.Int32
	done := startWeekly(ctx, cst, 3, now, func(context.Context) error {
		if runs.Add(1) == 2 {
			cancel()
		}
		return errors.New("upstream unavailable")
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestStartWeeklyCancelBeforeFirstRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := startWeekly(ctx, cst, 3, time.Now, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	cancel()
	<-done
	assert.Zero(t, runs.Load())
}
