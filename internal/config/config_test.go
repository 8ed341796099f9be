package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		arg  string
		mode Mode
		ok   bool
	}{
		{"", ModeLocal, true},
		{"local", ModeLocal, true},
		{"antv", ModeAntv, true},
		{" antv ", ModeAntv, true},
		{"xyz", ModeLocal, false},
		{"ANTV", ModeLocal, false},
	}
	for _, c := range cases {
		m, ok := ParseMode(c.arg)
		assert.Equal(t, c.mode, m, c.arg)
		assert.Equal(t, c.ok, ok, c.arg)
	}
}

func TestLayoutPaths(t *testing.T) {
	l := Layout{Root: "/srv/app"}
	assert.Equal(t, "/srv/app/public/boundary/china.geojson", l.BoundaryFile())
	assert.Equal(t, "/srv/app/public/pbf/county.pbf", l.Archive(KindCounty))
	assert.Equal(t, "/srv/app/public/geojson/china-city.geojson", l.FlatFile(KindCity))
	assert.Equal(t, "/srv/app/public/geojson/china-city.geojson", l.FlatFileFor("/x/city.pbf"))
	assert.Equal(t, "/srv/app/public/geojson/provinces", l.ProvincesDir())
	assert.Equal(t, l.BoundaryFile(), l.CacheTarget(KindBoundary))
	assert.Equal(t, l.Archive(KindProvince), l.CacheTarget(KindProvince))
	assert.Equal(t, "/srv/app/.rebuild/public/geojson", l.Staging().OutDir())
}

func TestURLsFromEnv(t *testing.T) {
	t.Setenv("CITY_PBF_URL", "http://example.test/city.pbf")
	u := URLsFromEnv()
	assert.Equal(t, "http://example.test/city.pbf", u[KindCity])
	assert.Equal(t, DefaultProvincePbfURL, u[KindProvince])
	assert.Equal(t, DefaultChinaGeoJSONURL, u[KindBoundary])
}

func TestCheckLocal(t *testing.T) {
	l := Layout{Root: t.TempDir()}

	err := CheckLocal(l)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocalInputMissing))

	require.NoError(t, os.MkdirAll(l.BoundaryDir(), 0o755))
	require.NoError(t, os.MkdirAll(l.PbfDir(), 0o755))
	err = CheckLocal(l)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "china.geojson")

	require.NoError(t, os.WriteFile(l.BoundaryFile(), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(l.PbfDir(), "city_temp.pbf"), []byte{1}, 0o644))
	err = CheckLocal(l)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .pbf file")

	require.NoError(t, os.WriteFile(l.Archive(KindCity), []byte{1}, 0o644))
	assert.NoError(t, CheckLocal(l))

	archives, err := LocalArchives(l)
	require.NoError(t, err)
	assert.Equal(t, []string{l.Archive(KindCity)}, archives)
}
