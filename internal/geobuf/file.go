package geobuf

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"

	"chinamap/internal/logger"
)

// DecodeFile：整体读入归档并解码
func DecodeFile(path string) (*geojson.FeatureCollection, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return fc, nil
}

// DecodeAndWrite：解码归档并序列化为紧凑 JSON 写入 output
// 返回：写出的要素数；读取、解码、写入任一失败都只影响本文件
func DecodeAndWrite(archive, output string) (int, error) {
	fc, err := DecodeFile(archive)
	if err != nil {
		return 0, err
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", output, err)
	}
	if err := os.WriteFile(output, b, 0o644); err != nil {
		return 0, err
	}
	logger.L().Debug("geobuf_written", "archive", archive, "output", output, "features", len(fc.Features), "bytes", len(b))
	return len(fc.Features), nil
}
