// 包 geobuftest：为测试生成 geobuf 归档，只覆盖点与单环面两种几何，属性值支持字符串与非负整数
package geobuftest

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Feature：Ring 非空时编码为 Polygon（不含闭合点），否则编码为 Point
type Feature struct {
	Point [2]float64
	Ring  [][2]float64
	Props map[string]interface{}
}

const precision = 6

// Encode：生成 FeatureCollection 形式的 Data 消息
func Encode(features ...Feature) []byte {
	keyIdx := map[string]uint64{}
	var keys []string
	for _, f := range features {
		for k := range f.Props {
			if _, ok := keyIdx[k]; !ok {
				keyIdx[k] = 0
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	for i, k := range keys {
		keyIdx[k] = uint64(i)
	}

	var data []byte
	for _, k := range keys {
		data = protowire.AppendTag(data, 1, protowire.BytesType)
		data = protowire.AppendString(data, k)
	}
	data = protowire.AppendTag(data, 3, protowire.VarintType)
	data = protowire.AppendVarint(data, precision)

	var fc []byte
	for _, f := range features {
		fc = protowire.AppendTag(fc, 1, protowire.BytesType)
		fc = protowire.AppendBytes(fc, encodeFeature(f, keyIdx))
	}
	data = protowire.AppendTag(data, 4, protowire.BytesType)
	return protowire.AppendBytes(data, fc)
}

func encodeFeature(f Feature, keyIdx map[string]uint64) []byte {
	var geom []byte
	var coords []int64
	if len(f.Ring) > 0 {
		geom = appendVarintField(geom, 1, 4)
		var prev [2]int64
		for _, p := range f.Ring {
			for j := 0; j < 2; j++ {
				v := int64(math.Round(p[j] * 1e6))
				coords = append(coords, v-prev[j])
				prev[j] = v
			}
		}
	} else {
		geom = appendVarintField(geom, 1, 0)
		coords = []int64{int64(math.Round(f.Point[0] * 1e6)), int64(math.Round(f.Point[1] * 1e6))}
	}
	var packed []byte
	for _, c := range coords {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(c))
	}
	geom = protowire.AppendTag(geom, 3, protowire.BytesType)
	geom = protowire.AppendBytes(geom, packed)

	out := protowire.AppendTag(nil, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, geom)

	names := make([]string, 0, len(f.Props))
	for k := range f.Props {
		names = append(names, k)
	}
	sort.Strings(names)
	var pairs []byte
	for i, k := range names {
		var val []byte
		switch v := f.Props[k].(type) {
		case string:
			val = protowire.AppendTag(val, 1, protowire.BytesType)
			val = protowire.AppendString(val, v)
		case int:
			val = appendVarintField(val, 3, uint64(v))
		default:
			panic(fmt.Sprintf("geobuftest: unsupported property %s of type %T", k, v))
		}
		out = protowire.AppendTag(out, 13, protowire.BytesType)
		out = protowire.AppendBytes(out, val)
		pairs = protowire.AppendVarint(pairs, keyIdx[k])
		pairs = protowire.AppendVarint(pairs, uint64(i))
	}
	if len(pairs) > 0 {
		out = protowire.AppendTag(out, 14, protowire.BytesType)
		out = protowire.AppendBytes(out, pairs)
	}
	return out
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
