package partition

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
)

var ErrNotFeatureCollection = errors.New("not a geojson FeatureCollection")

// Member：FeatureCollection 的一个顶层成员（features 除外），按源文件顺序保存
type Member struct {
	Key   string
	Value json.RawMessage
}

// Stream：逐个拉取 FeatureCollection 中的要素
// 背景：全国县级数据几百 MB，只在内存中保留头部成员和当前要素。
// 约束：序列有限且不可重放；Header 在 Scan 返回 false 之后才完整（features 之后的成员也计入）。
type Stream struct {
	dec         *json.Decoder
	header      []Member
	cur         json.RawMessage
	err         error
	started     bool
	inFeatures  bool
	sawFeatures bool
	done        bool
}

func NewStream(r io.Reader) *Stream {
	return &Stream{dec: json.NewDecoder(r)}
}

// Scan：前进到下一个要素；结束或出错时返回 false，通过 Err 区分
func (s *Stream) Scan() bool {
	if s.err != nil || s.done {
		return false
	}
	if !s.started {
		s.started = true
		if err := s.expectDelim('{'); err != nil {
			return s.fail(err)
		}
	}
	for {
		if s.inFeatures {
			if s.dec.More() {
				var raw json.RawMessage
				if err := s.dec.Decode(&raw); err != nil {
					return s.fail(err)
				}
				s.cur = raw
				return true
			}
			if err := s.expectDelim(']'); err != nil {
				return s.fail(err)
			}
			s.inFeatures = false
			continue
		}
		if !s.dec.More() {
			if err := s.expectDelim('}'); err != nil {
				return s.fail(err)
			}
			s.done = true
			s.cur = nil
			if err := s.validate(); err != nil {
				s.err = err
			}
			return false
		}
		tok, err := s.dec.Token()
		if err != nil {
			return s.fail(err)
		}
		key, ok := tok.(string)
		if !ok {
			return s.fail(fmt.Errorf("unexpected token %v", tok))
		}
		if key == "features" {
			if s.sawFeatures {
				return s.fail(fmt.Errorf("%w: duplicate features member", ErrNotFeatureCollection))
			}
			if err := s.expectDelim('['); err != nil {
				return s.fail(fmt.Errorf("%w: features is not an array", ErrNotFeatureCollection))
			}
			s.sawFeatures = true
			s.inFeatures = true
			continue
		}
		var raw json.RawMessage
		if err := s.dec.Decode(&raw); err != nil {
			return s.fail(err)
		}
		s.header = append(s.header, Member{Key: key, Value: raw})
	}
}

func (s *Stream) Feature() json.RawMessage { return s.cur }

func (s *Stream) Err() error { return s.err }

func (s *Stream) Header() []Member { return s.header }

func (s *Stream) expectDelim(want json.Delim) error {
	tok, err := s.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		if want == '{' {
			return fmt.Errorf("%w: top level is %v", ErrNotFeatureCollection, tok)
		}
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func (s *Stream) validate() error {
	if !s.sawFeatures {
		return fmt.Errorf("%w: missing features member", ErrNotFeatureCollection)
	}
	for _, m := range s.header {
		if m.Key == "type" {
			if t := gjson.ParseBytes(m.Value).String(); t != "FeatureCollection" {
				return fmt.Errorf("%w: type %q", ErrNotFeatureCollection, t)
			}
			return nil
		}
	}
	return nil
}

func (s *Stream) fail(err error) bool {
	s.err = err
	s.cur = nil
	return false
}
