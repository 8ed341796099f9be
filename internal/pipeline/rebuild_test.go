package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chinamap/internal/acquire"
	"chinamap/internal/config"
)

func seedLive(t *testing.T, layout config.Layout) string {
	t.Helper()
	path := filepath.Join(layout.ProvincesDir(), "110000.geojson")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`), 0o644))
	return path
}

func TestRebuildFailureKeepsLiveOutput(t *testing.T) {
	_, urls := remoteServer(t, "/county.pbf")
	idx := &fakeIndex{}
	p := newPipeline(t.TempDir(), idx)
	p.URLs = urls
	live := seedLive(t, p.Layout)

	_, err := p.Rebuild(context.Background(), config.ModeAntv)
	require.Error(t, err)
	assert.ErrorIs(t, err, acquire.ErrStatus)

	b, err := os.ReadFile(live)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(b))
	assert.Len(t, snapshot(t, p.Layout.OutDir()), 1)
	assert.Nil(t, idx.regions)
}

func TestRebuildPromotesStagedOutput(t *testing.T) {
	_, urls := remoteServer(t, "")
	idx := &fakeIndex{}
	p := newPipeline(t.TempDir(), idx)
	p.URLs = urls
	seedLive(t, p.Layout)
	// 旧产物中存在而新产物没有的文件会随整个目录一起被替换掉
	stale := filepath.Join(p.Layout.ProvincesDir(), "999999.geojson")
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o644))

	sum, err := p.Rebuild(context.Background(), config.ModeAntv)
	require.NoError(t, err)
	assert.Equal(t, config.ModeAntv, sum.Mode)

	out := snapshot(t, p.Layout.OutDir())
	assert.Equal(t, boundary, out["china.geojson"])
	assert.Contains(t, out, "provinces/440000/440300.geojson")
	assert.NotContains(t, out, "provinces/999999.geojson")

	staging := p.Layout.Staging()
	assert.False(t, exists(staging.OutDir()))
	assert.False(t, exists(filepath.Join(staging.Root, "geojson.old")))
	// 下载缓存留在暂存目录，线上不产生 boundary/pbf
	assert.True(t, exists(staging.Archive(config.KindCounty)))
	assert.False(t, exists(p.Layout.PbfDir()))

	require.Len(t, idx.regions, 4)
	assert.Equal(t, "provinces/110000.geojson", idx.regions[0].CodePath)
	assert.Equal(t, "provinces/440000/440300.geojson", idx.regions[3].CodePath)
}

func TestPromoteWithoutLiveDir(t *testing.T) {
	root := t.TempDir()
	staged := filepath.Join(root, "staged")
	require.NoError(t, os.MkdirAll(staged, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staged, "china.geojson"), []byte("{}"), 0o644))
	live := filepath.Join(root, "public", "geojson")

	require.NoError(t, promote(staged, live, filepath.Join(root, "old")))
	assert.True(t, exists(filepath.Join(live, "china.geojson")))
	assert.False(t, exists(staged))
}

func TestPromoteMissingStagedRestoresLive(t *testing.T) {
	root := t.TempDir()
	live := filepath.Join(root, "geojson")
	require.NoError(t, os.MkdirAll(live, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(live, "china.geojson"), []byte("{}"), 0o644))

	err := promote(filepath.Join(root, "absent"), live, filepath.Join(root, "old"))
	require.Error(t, err)
	assert.True(t, exists(filepath.Join(live, "china.geojson")))
}
