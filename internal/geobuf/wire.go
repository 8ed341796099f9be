package geobuf

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// field：一个已解析的 protobuf 字段；varint/fixed 值放在 v，长度限定值放在 b
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	b   []byte
}

// eachField：按顺序遍历消息中的字段；未知 wire 类型直接跳过
func eachField(msg []byte, fn func(f field) error) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return protowire.ParseError(n)
		}
		msg = msg[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(msg)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(msg)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(msg)
		case protowire.Fixed32Type:
			var v32 uint32
			v32, n = protowire.ConsumeFixed32(msg)
			f.v = uint64(v32)
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return protowire.ParseError(n)
			}
			msg = msg[n:]
			continue
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		msg = msg[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// appendVarints：repeated 整型字段，同时兼容 packed 与非 packed 编码
func appendVarints(dst []uint64, f field) ([]uint64, error) {
	switch f.typ {
	case protowire.VarintType:
		return append(dst, f.v), nil
	case protowire.BytesType:
		b := f.b
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return dst, protowire.ParseError(n)
			}
			dst = append(dst, v)
			b = b[n:]
		}
		return dst, nil
	}
	return dst, fmt.Errorf("geobuf: field %d: unexpected wire type %d", f.num, f.typ)
}

func expectBytes(f field) error {
	if f.typ != protowire.BytesType {
		return fmt.Errorf("geobuf: field %d: expected length-delimited, got wire type %d", f.num, f.typ)
	}
	return nil
}

func expectVarint(f field) error {
	if f.typ != protowire.VarintType {
		return fmt.Errorf("geobuf: field %d: expected varint, got wire type %d", f.num, f.typ)
	}
	return nil
}
