package partition

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, src string) ([]string, *Stream) {
	t.Helper()
	s := NewStream(strings.NewReader(src))
	var out []string
	for s.Scan() {
		out = append(out, string(s.Feature()))
	}
	return out, s
}

func TestStreamYieldsRawFeaturesAndHeader(t *testing.T) {
	src := `{"type":"FeatureCollection","crs":{"type":"name"},"features":[{ "type": "Feature", "properties": {"a": 1} },{"type":"Feature"}],"name":"tail"}`
	feats, s := collect(t, src)
	require.NoError(t, s.Err())
	assert.Equal(t, []string{`{ "type": "Feature", "properties": {"a": 1} }`, `{"type":"Feature"}`}, feats)

	h := s.Header()
	require.Len(t, h, 3)
	assert.Equal(t, "type", h[0].Key)
	assert.Equal(t, `"FeatureCollection"`, string(h[0].Value))
	assert.Equal(t, "crs", h[1].Key)
	assert.Equal(t, "name", h[2].Key)
	assert.False(t, s.Scan())
}

func TestStreamEmptyFeatures(t *testing.T) {
	feats, s := collect(t, `{"type":"FeatureCollection","features":[]}`)
	assert.NoError(t, s.Err())
	assert.Empty(t, feats)
}

func TestStreamRejectsNonCollections(t *testing.T) {
	cases := map[string]string{
		"array":           `[{"type":"Feature"}]`,
		"feature":         `{"type":"Feature","geometry":null,"properties":{}}`,
		"wrong type":      `{"type":"Feature","features":[]}`,
		"features object": `{"type":"FeatureCollection","features":{}}`,
		"duplicate":       `{"features":[],"features":[]}`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, s := collect(t, src)
			assert.True(t, errors.Is(s.Err(), ErrNotFeatureCollection), "got %v", s.Err())
		})
	}
}

func TestStreamTruncatedInput(t *testing.T) {
	feats, s := collect(t, `{"type":"FeatureCollection","features":[{"type":"Feature"},{"type":`)
	assert.Len(t, feats, 1)
	require.Error(t, s.Err())

	_, s = collect(t, `{"type":"FeatureCollection","features":[{"type":"Feature"}]`)
	assert.ErrorIs(t, s.Err(), io.ErrUnexpectedEOF)

	_, s = collect(t, ``)
	assert.ErrorIs(t, s.Err(), io.ErrUnexpectedEOF)
}
