// 包 geobuf：将 geobuf（protobuf 编码的紧凑 GeoJSON）几何归档解码为 GeoJSON
// 背景：行政区划数据以 province/city/county 三个 .pbf 归档分发，前端只消费 GeoJSON。
// 约束：坐标只保留前两维（orb.Point 为二维）；Feature 级 custom_properties 不保留，
// FeatureCollection 级 custom_properties 作为顶层成员输出。
package geobuf

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"google.golang.org/protobuf/encoding/protowire"
)

// Data 消息字段号
const (
	dataKeys              protowire.Number = 1
	dataDimensions        protowire.Number = 2
	dataPrecision         protowire.Number = 3
	dataFeatureCollection protowire.Number = 4
	dataFeature           protowire.Number = 5
	dataGeometry          protowire.Number = 6
)

// Feature / Geometry / FeatureCollection 共用字段号
const (
	featGeometry  protowire.Number = 1
	featID        protowire.Number = 11
	featIntID     protowire.Number = 12
	msgValues     protowire.Number = 13
	featProps     protowire.Number = 14
	msgCustomProp protowire.Number = 15

	geomType       protowire.Number = 1
	geomLengths    protowire.Number = 2
	geomCoords     protowire.Number = 3
	geomGeometries protowire.Number = 4

	fcFeatures protowire.Number = 1
)

// 几何类型枚举
const (
	typePoint = iota
	typeMultiPoint
	typeLineString
	typeMultiLineString
	typePolygon
	typeMultiPolygon
	typeGeometryCollection
)

var ErrEmpty = errors.New("geobuf: no feature collection, feature or geometry in data")

// maxDimensions：geobuf 编码器只产生 2-4 维坐标
const maxDimensions = 4

type decoder struct {
	keys []string
	dim  int
	e    float64
}

// Decode：解码完整的 geobuf Data 消息
// 返回：FeatureCollection；若数据只含单个 Feature 或 Geometry，包装为只有一个要素的集合
func Decode(b []byte) (*geojson.FeatureCollection, error) {
	d := &decoder{dim: 2}
	precision := uint64(6)
	var payload []byte
	var kind protowire.Number
	err := eachField(b, func(f field) error {
		switch f.num {
		case dataKeys:
			if err := expectBytes(f); err != nil {
				return err
			}
			d.keys = append(d.keys, string(f.b))
		case dataDimensions:
			if err := expectVarint(f); err != nil {
				return err
			}
			if f.v < 2 || f.v > maxDimensions {
				return fmt.Errorf("geobuf: unsupported dimensions %d", f.v)
			}
			d.dim = int(f.v)
		case dataPrecision:
			if err := expectVarint(f); err != nil {
				return err
			}
			precision = f.v
		case dataFeatureCollection, dataFeature, dataGeometry:
			if err := expectBytes(f); err != nil {
				return err
			}
			// oneof：后出现的覆盖先出现的
			kind, payload = f.num, f.b
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if kind == 0 {
		return nil, ErrEmpty
	}
	if precision > 15 {
		return nil, fmt.Errorf("geobuf: unsupported precision %d", precision)
	}
	d.e = math.Pow10(int(precision))

	switch kind {
	case dataFeatureCollection:
		return d.readFeatureCollection(payload)
	case dataFeature:
		f, err := d.readFeature(payload)
		if err != nil {
			return nil, err
		}
		fc := geojson.NewFeatureCollection()
		fc.Append(f)
		return fc, nil
	default:
		g, err := d.readGeometry(payload)
		if err != nil {
			return nil, err
		}
		fc := geojson.NewFeatureCollection()
		fc.Append(geojson.NewFeature(g))
		return fc, nil
	}
}

func (d *decoder) readFeatureCollection(msg []byte) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	var values []interface{}
	var custom []uint64
	err := eachField(msg, func(f field) error {
		var err error
		switch f.num {
		case fcFeatures:
			if err = expectBytes(f); err != nil {
				return err
			}
			feat, err := d.readFeature(f.b)
			if err != nil {
				return fmt.Errorf("geobuf: feature %d: %w", len(fc.Features), err)
			}
			fc.Append(feat)
		case msgValues:
			if err = expectBytes(f); err != nil {
				return err
			}
			v, err := readValue(f.b)
			if err != nil {
				return err
			}
			values = append(values, v)
		case msgCustomProp:
			custom, err = appendVarints(custom, f)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(custom) > 0 {
		members := make(geojson.Properties, len(custom)/2)
		if err := d.readProps(custom, values, members); err != nil {
			return nil, err
		}
		fc.ExtraMembers = members
	}
	return fc, nil
}

func (d *decoder) readFeature(msg []byte) (*geojson.Feature, error) {
	var geom orb.Geometry
	var id interface{}
	var values []interface{}
	var props []uint64
	err := eachField(msg, func(f field) error {
		var err error
		switch f.num {
		case featGeometry:
			if err = expectBytes(f); err != nil {
				return err
			}
			geom, err = d.readGeometry(f.b)
		case featID:
			if err = expectBytes(f); err != nil {
				return err
			}
			id = string(f.b)
		case featIntID:
			if err = expectVarint(f); err != nil {
				return err
			}
			id = protowire.DecodeZigZag(f.v)
		case msgValues:
			if err = expectBytes(f); err != nil {
				return err
			}
			var v interface{}
			v, err = readValue(f.b)
			values = append(values, v)
		case featProps:
			props, err = appendVarints(props, f)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	feat := geojson.NewFeature(geom)
	feat.ID = id
	if err := d.readProps(props, values, feat.Properties); err != nil {
		return nil, err
	}
	return feat, nil
}

// readProps：属性以 (键下标, 值下标) 成对编码，键为全局表，值为当前消息内的表
func (d *decoder) readProps(pairs []uint64, values []interface{}, dst map[string]interface{}) error {
	if len(pairs)%2 != 0 {
		return fmt.Errorf("geobuf: odd property index count %d", len(pairs))
	}
	for i := 0; i < len(pairs); i += 2 {
		k, v := pairs[i], pairs[i+1]
		if k >= uint64(len(d.keys)) || v >= uint64(len(values)) {
			return fmt.Errorf("geobuf: property index out of range (key %d/%d, value %d/%d)", k, len(d.keys), v, len(values))
		}
		dst[d.keys[k]] = values[v]
	}
	return nil
}

func readValue(msg []byte) (interface{}, error) {
	var out interface{}
	err := eachField(msg, func(f field) error {
		switch f.num {
		case 1:
			if err := expectBytes(f); err != nil {
				return err
			}
			out = string(f.b)
		case 2:
			if f.typ != protowire.Fixed64Type {
				return fmt.Errorf("geobuf: double value: unexpected wire type %d", f.typ)
			}
			out = math.Float64frombits(f.v)
		case 3, 4, 5:
			if err := expectVarint(f); err != nil {
				return err
			}
			switch f.num {
			case 3:
				out = f.v
			case 4:
				out = -int64(f.v)
			default:
				out = f.v != 0
			}
		case 6:
			if err := expectBytes(f); err != nil {
				return err
			}
			if !json.Valid(f.b) {
				return fmt.Errorf("geobuf: invalid json value %q", f.b)
			}
			out = json.RawMessage(append([]byte(nil), f.b...))
		}
		return nil
	})
	return out, err
}

func (d *decoder) readGeometry(msg []byte) (orb.Geometry, error) {
	var typ uint64
	var lengths, raw []uint64
	var children []orb.Geometry
	err := eachField(msg, func(f field) error {
		var err error
		switch f.num {
		case geomType:
			if err = expectVarint(f); err != nil {
				return err
			}
			typ = f.v
		case geomLengths:
			lengths, err = appendVarints(lengths, f)
		case geomCoords:
			raw, err = appendVarints(raw, f)
		case geomGeometries:
			if err = expectBytes(f); err != nil {
				return err
			}
			var g orb.Geometry
			g, err = d.readGeometry(f.b)
			children = append(children, g)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	coords := make([]int64, len(raw))
	for i, v := range raw {
		coords[i] = protowire.DecodeZigZag(v)
	}
	if len(coords)%d.dim != 0 {
		return nil, fmt.Errorf("geobuf: %d coordinates not divisible by dimensions %d", len(coords), d.dim)
	}

	switch typ {
	case typePoint:
		if len(coords) < d.dim {
			return nil, errors.New("geobuf: point without coordinates")
		}
		return orb.Point{float64(coords[0]) / d.e, float64(coords[1]) / d.e}, nil
	case typeMultiPoint:
		return orb.MultiPoint(d.readLine(coords, false)), nil
	case typeLineString:
		return orb.LineString(d.readLine(coords, false)), nil
	case typeMultiLineString:
		lines, err := d.readMultiLine(coords, lengths, false)
		if err != nil {
			return nil, err
		}
		out := make(orb.MultiLineString, len(lines))
		for i, l := range lines {
			out[i] = orb.LineString(l)
		}
		return out, nil
	case typePolygon:
		rings, err := d.readMultiLine(coords, lengths, true)
		if err != nil {
			return nil, err
		}
		return toPolygon(rings), nil
	case typeMultiPolygon:
		return d.readMultiPolygon(coords, lengths)
	case typeGeometryCollection:
		return orb.Collection(children), nil
	}
	return nil, fmt.Errorf("geobuf: unknown geometry type %d", typ)
}

// readLine：坐标在每条线内做增量编码；闭合环解码时补回首点
func (d *decoder) readLine(coords []int64, closed bool) []orb.Point {
	line := make([]orb.Point, 0, len(coords)/d.dim+1)
	prev := make([]int64, d.dim)
	for i := 0; i+d.dim <= len(coords); i += d.dim {
		for j := 0; j < d.dim; j++ {
			prev[j] += coords[i+j]
		}
		line = append(line, orb.Point{float64(prev[0]) / d.e, float64(prev[1]) / d.e})
	}
	if closed && len(line) > 0 {
		line = append(line, line[0])
	}
	return line
}

func (d *decoder) readMultiLine(coords []int64, lengths []uint64, closed bool) ([][]orb.Point, error) {
	if len(lengths) == 0 {
		return [][]orb.Point{d.readLine(coords, closed)}, nil
	}
	out := make([][]orb.Point, 0, len(lengths))
	start := 0
	for _, n := range lengths {
		if n > uint64((len(coords)-start)/d.dim) {
			return nil, fmt.Errorf("geobuf: line length %d exceeds coordinates", n)
		}
		end := start + int(n)*d.dim
		out = append(out, d.readLine(coords[start:end], closed))
		start = end
	}
	return out, nil
}

// readMultiPolygon：lengths = [多边形数, 环数, 各环长度..., 环数, 各环长度...]
func (d *decoder) readMultiPolygon(coords []int64, lengths []uint64) (orb.Geometry, error) {
	if len(lengths) == 0 {
		return orb.MultiPolygon{toPolygon([][]orb.Point{d.readLine(coords, true)})}, nil
	}
	// 每个多边形至少占一个环数项
	if lengths[0] > uint64(len(lengths)-1) {
		return nil, fmt.Errorf("geobuf: polygon count %d exceeds lengths", lengths[0])
	}
	polys := int(lengths[0])
	out := make(orb.MultiPolygon, 0, polys)
	start, j := 0, 1
	for i := 0; i < polys; i++ {
		if j >= len(lengths) {
			return nil, errors.New("geobuf: truncated multipolygon lengths")
		}
		if lengths[j] > uint64(len(lengths)-j-1) {
			return nil, errors.New("geobuf: truncated multipolygon ring lengths")
		}
		nrings := int(lengths[j])
		rings := make([][]orb.Point, 0, nrings)
		for k := 0; k < nrings; k++ {
			n := lengths[j+1+k]
			if n > uint64((len(coords)-start)/d.dim) {
				return nil, fmt.Errorf("geobuf: ring length %d exceeds coordinates", n)
			}
			end := start + int(n)*d.dim
			rings = append(rings, d.readLine(coords[start:end], true))
			start = end
		}
		j += nrings + 1
		out = append(out, toPolygon(rings))
	}
	return out, nil
}

func toPolygon(rings [][]orb.Point) orb.Polygon {
	p := make(orb.Polygon, len(rings))
	for i, r := range rings {
		p[i] = orb.Ring(r)
	}
	return p
}
