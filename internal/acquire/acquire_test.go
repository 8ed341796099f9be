package acquire

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chinamap/internal/config"
	"chinamap/internal/metrics"
)

func assertNoFile(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "%s should not exist", path)
}

func TestTempPath(t *testing.T) {
	assert.Equal(t, filepath.Join("pbf", "province_temp.pbf"), TempPath(filepath.Join("pbf", "province.pbf")))
	assert.Equal(t, "china_temp.geojson", TempPath("china.geojson"))
}

func TestFetchWritesTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pbf-bytes"))
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "city.pbf")
	res, err := NewFetcher(5*time.Second).Fetch(context.Background(), config.KindCity, srv.URL+"/city.pbf", target)
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.Bytes)
	assert.Equal(t, target, res.Path)
	assert.False(t, res.NotModified)

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "pbf-bytes", string(b))
	assertNoFile(t, TempPath(target))
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "county.pbf")
	res, err := NewFetcher(5*time.Second).Fetch(context.Background(), config.KindCity, srv.URL, target)
	assert.ErrorIs(t, err, ErrStatus)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assertNoFile(t, target)
	assertNoFile(t, TempPath(target))
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	target := filepath.Join(t.TempDir(), "province.pbf")
	_, err := NewFetcher(time.Second).Fetch(context.Background(), config.KindCity, url, target)
	assert.Error(t, err)
	assertNoFile(t, target)
}

func TestFetchTruncatedBodyRemovesTemp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "province.pbf")
	_, err := NewFetcher(5*time.Second).Fetch(context.Background(), config.KindCity, srv.URL, target)
	require.Error(t, err)
	assertNoFile(t, target)
	assertNoFile(t, TempPath(target))
}

func TestFetchRenameFailureRemovesTemp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "city.pbf")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "occupied"), 0o755))

	_, err := NewFetcher(5*time.Second).Fetch(context.Background(), config.KindCity, srv.URL, target)
	require.Error(t, err)
	assertNoFile(t, TempPath(target))
	fi, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, fi.IsDir(), "target must not be replaced by a file")
}

func TestFetchConditionalWithRedisValidators(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var full, conditional int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			atomic.AddInt32(&conditional, 1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		atomic.AddInt32(&full, 1)
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		_, _ = w.Write([]byte("v1-body"))
	}))
	defer srv.Close()

	f := NewFetcher(5 * time.Second)
	f.Cache = NewRedisValidators(rdb)
	target := filepath.Join(t.TempDir(), "province.pbf")
	url := srv.URL + "/province.pbf"

	res, err := f.Fetch(context.Background(), config.KindCity, url, target)
	require.NoError(t, err)
	assert.False(t, res.NotModified)
	assert.Equal(t, `"v1"`, mr.HGet(validatorKeyPrefix+url, "etag"))

	res, err = f.Fetch(context.Background(), config.KindCity, url, target)
	require.NoError(t, err)
	assert.True(t, res.NotModified)
	assert.Equal(t, int32(1), atomic.LoadInt32(&full))
	assert.Equal(t, int32(1), atomic.LoadInt32(&conditional))
	b, _ := os.ReadFile(target)
	assert.Equal(t, "v1-body", string(b))

	// 缓存文件丢失时不发送条件请求
	require.NoError(t, os.Remove(target))
	res, err = f.Fetch(context.Background(), config.KindCity, url, target)
	require.NoError(t, err)
	assert.False(t, res.NotModified)
	assert.Equal(t, int32(2), atomic.LoadInt32(&full))
}

func TestRedisValidatorsRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	c := NewRedisValidators(rdb)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "http://x/a.pbf")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "http://x/a.pbf", Validators{LastModified: "yesterday"}))
	v, ok, err := c.Get(ctx, "http://x/a.pbf")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Validators{LastModified: "yesterday"}, v)
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "public", "pbf")
	require.NoError(t, EnsureDir(dir))
	fi, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
	require.NoError(t, EnsureDir(dir))
}

func TestFetchLabelsByKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer srv.Close()

	ok := metrics.AcquireTotal.WithLabelValues(string(config.KindBoundary), "ok")
	before := testutil.ToFloat64(ok)
	target := filepath.Join(t.TempDir(), "china.geojson")
	_, err := NewFetcher(5*time.Second).Fetch(context.Background(), config.KindBoundary, srv.URL, target)
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(ok))
	assert.Zero(t, testutil.ToFloat64(metrics.AcquireTotal.WithLabelValues("china", "ok")))
}
