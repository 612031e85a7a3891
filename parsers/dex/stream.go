package dex

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// stream is a bounds-checked little endian cursor over the dex bytes.
// The first failure sticks; callers check err once after a run of reads.
type stream struct {
	data []byte
	pos  uint32
	err  error
}

func newStream(data []byte, off uint32) *stream {
	s := &stream{data: data, pos: off}
	if int(off) > len(data) {
		s.fail("offset %#x past end of file", off)
	}
	return s
}

func (s *stream) fail(format string, a ...interface{}) {
	if s.err == nil {
		s.err = &MalformedContainerError{Offset: s.pos, Reason: fmt.Sprintf(format, a...)}
	}
}

func (s *stream) need(n uint32) bool {
	if s.err != nil {
		return false
	}
	if uint64(s.pos)+uint64(n) > uint64(len(s.data)) {
		s.fail("truncated: need %d bytes at %#x", n, s.pos)
		return false
	}
	return true
}

func (s *stream) u8() uint8 {
	if !s.need(1) {
		return 0
	}
	v := s.data[s.pos]
	s.pos++
	return v
}

func (s *stream) u16() uint16 {
	if !s.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(s.data[s.pos:])
	s.pos += 2
	return v
}

func (s *stream) u32() uint32 {
	if !s.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(s.data[s.pos:])
	s.pos += 4
	return v
}

// uleb128 reads at most five bytes, as the format allows for 32-bit values.
func (s *stream) uleb128() uint32 {
	var result uint32
	for i := uint(0); i < 5; i++ {
		b := s.u8()
		if s.err != nil {
			return 0
		}
		result |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return result
		}
	}
	s.fail("uleb128 longer than 5 bytes")
	return 0
}

// uleb128p1 is the "plus one" encoding used for optional indices; a raw
// zero decodes to NoIndex.
func (s *stream) uleb128p1() uint32 {
	return s.uleb128() - 1
}

func (s *stream) sleb128() int32 {
	var result int32
	var shift uint
	for i := 0; i < 5; i++ {
		b := s.u8()
		if s.err != nil {
			return 0
		}
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result
		}
	}
	s.fail("sleb128 longer than 5 bytes")
	return 0
}

// align advances to the next multiple of n bytes.
func (s *stream) align(n uint32) {
	if rem := s.pos % n; rem != 0 {
		s.pos += n - rem
	}
}

// mutf8 decodes the "modified" UTF-8 the format uses for strings: nulls are
// two bytes and supplementary characters are stored as surrogate pairs.
// See https://source.android.com/devices/tech/dalvik/dex-format.html#mutf-8
//
// Unpaired surrogates are legal in a dex string. They are kept in the
// result in their three byte generalized UTF-8 form (WTF-8), so UTF16Units
// gives back exactly the units of the file.
func (s *stream) mutf8(utf16Len uint32) string {
	units := make([]uint16, 0, utf16Len)
	for {
		a := s.u8()
		if s.err != nil {
			return ""
		}
		switch {
		case a == 0:
			return wtf8(units)
		case a < 0x80:
			units = append(units, uint16(a))
		case a&0xe0 == 0xc0:
			b := s.u8()
			if b&0xc0 != 0x80 {
				s.fail("bad mutf-8 continuation byte %#x", b)
				return ""
			}
			units = append(units, uint16(a&0x1f)<<6|uint16(b&0x3f))
		case a&0xf0 == 0xe0:
			b := s.u8()
			c := s.u8()
			if b&0xc0 != 0x80 || c&0xc0 != 0x80 {
				s.fail("bad mutf-8 continuation bytes %#x %#x", b, c)
				return ""
			}
			units = append(units, uint16(a&0x0f)<<12|uint16(b&0x3f)<<6|uint16(c&0x3f))
		default:
			s.fail("bad mutf-8 lead byte %#x", a)
			return ""
		}
	}
}

func isSurrogate(u uint16) bool {
	return u >= 0xd800 && u < 0xe000
}

// wtf8 encodes UTF-16 units, writing a lone surrogate as if it were a
// code point.
func wtf8(units []uint16) string {
	out := make([]byte, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if !isSurrogate(u) {
			out = utf8.AppendRune(out, rune(u))
			continue
		}
		if u < 0xdc00 && i+1 < len(units) && units[i+1] >= 0xdc00 && units[i+1] < 0xe000 {
			out = utf8.AppendRune(out, utf16.DecodeRune(rune(u), rune(units[i+1])))
			i++
			continue
		}
		out = append(out, byte(0xe0|u>>12), byte(0x80|(u>>6)&0x3f), byte(0x80|u&0x3f))
	}
	return string(out)
}

// UTF16Units returns the UTF-16 code units of a string read from a dex
// file, lone surrogates included. Bytes that are neither UTF-8 nor an
// encoded surrogate become U+FFFD.
func UTF16Units(s string) []uint16 {
	out := make([]uint16, 0, len(s))
	for i := 0; i < len(s); {
		r, n := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && n == 1 && i+2 < len(s) &&
			s[i] == 0xed && s[i+1]&0xe0 == 0xa0 && s[i+2]&0xc0 == 0x80 {
			out = append(out, uint16(s[i]&0x0f)<<12|uint16(s[i+1]&0x3f)<<6|uint16(s[i+2]&0x3f))
			i += 3
			continue
		}
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			out = append(out, uint16(hi), uint16(lo))
		} else {
			out = append(out, uint16(r))
		}
		i += n
	}
	return out
}
