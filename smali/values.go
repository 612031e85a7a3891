package smali

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vsoch/gobaksmali/parsers/dex"
)

// hex renders a signed integer the way smali reads it back: 0x1f, -0x1.
func hex(v int64) string {
	if v < 0 {
		return "-0x" + strconv.FormatUint(uint64(-v), 16)
	}
	return "0x" + strconv.FormatInt(v, 16)
}

// quote renders a Java string literal. Everything outside printable ASCII
// is written as \u escapes, one per UTF-16 unit, so supplementary
// characters come out as surrogate pairs and lone surrogates survive.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, u := range dex.UTF16Units(s) {
		escape(&b, u)
	}
	b.WriteByte('"')
	return b.String()
}

func char(u uint16) string {
	var b strings.Builder
	b.WriteByte('\'')
	escape(&b, u)
	b.WriteByte('\'')
	return b.String()
}

func escape(b *strings.Builder, u uint16) {
	switch u {
	case '\n':
		b.WriteString(`\n`)
	case '\r':
		b.WriteString(`\r`)
	case '\t':
		b.WriteString(`\t`)
	case '\b':
		b.WriteString(`\b`)
	case '\f':
		b.WriteString(`\f`)
	case '\\', '"', '\'':
		b.WriteByte('\\')
		b.WriteByte(byte(u))
	default:
		if u >= 0x20 && u < 0x7f {
			b.WriteByte(byte(u))
			return
		}
		fmt.Fprintf(b, `\u%04x`, u)
	}
}

// javaFloat formats like Float.toString and Double.toString: plain
// decimals between 1e-3 and 1e7, computerized notation outside.
func javaFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs == 0 || (abs >= 1e-3 && abs < 1e7) {
		s := strconv.FormatFloat(f, 'f', -1, bits)
		if !strings.ContainsRune(s, '.') {
			s += ".0"
		}
		return s
	}
	s := strconv.FormatFloat(f, 'E', -1, bits)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.ContainsRune(mant, '.') {
		mant += ".0"
	}
	n, _ := strconv.Atoi(exp)
	return mant + "E" + strconv.Itoa(n)
}

// literal renders a scalar encoded value.
func (e *Emitter) literal(v dex.EncodedValue) string {
	c := e.c
	switch v.Kind {
	case dex.ValueByte:
		return hex(int64(v.Bits)) + "t"
	case dex.ValueShort:
		return hex(int64(v.Bits)) + "s"
	case dex.ValueChar:
		return char(uint16(v.Bits))
	case dex.ValueInt:
		return hex(int64(v.Bits))
	case dex.ValueLong:
		return hex(int64(v.Bits)) + "L"
	case dex.ValueFloat:
		return javaFloat(float64(math.Float32frombits(uint32(v.Bits))), 32) + "f"
	case dex.ValueDouble:
		return javaFloat(math.Float64frombits(v.Bits), 64)
	case dex.ValueMethodType:
		return c.ProtoString(v.Index())
	case dex.ValueMethodHandle:
		return c.MethodHandleString(v.Index())
	case dex.ValueString:
		return quote(c.String(v.Index()))
	case dex.ValueType:
		return c.Type(v.Index())
	case dex.ValueField:
		return c.FieldString(v.Index())
	case dex.ValueMethod:
		return c.MethodString(v.Index())
	case dex.ValueEnum:
		return ".enum " + c.FieldString(v.Index())
	case dex.ValueNull:
		return "null"
	case dex.ValueBoolean:
		return strconv.FormatBool(v.Bool())
	}
	return "# unknown value " + v.String()
}

// value writes v starting at the current column; the lines of arrays and
// subannotations are indented relative to indent.
func (e *Emitter) value(b *bytes.Buffer, v dex.EncodedValue, indent string) {
	switch {
	case v.Kind == dex.ValueArray:
		if len(v.Array) == 0 {
			b.WriteString("{}")
			return
		}
		b.WriteString("{\n")
		for i, elem := range v.Array {
			b.WriteString(indent + "    ")
			e.value(b, elem, indent+"    ")
			if i < len(v.Array)-1 {
				b.WriteByte(',')
			}
			b.WriteByte('\n')
		}
		b.WriteString(indent + "}")
	case v.Kind == dex.ValueAnnotation && v.Annotation != nil:
		fmt.Fprintf(b, ".subannotation %s\n", e.c.Type(v.Annotation.Type))
		e.elements(b, v.Annotation.Elements, indent+"    ")
		b.WriteString(indent + ".end subannotation")
	default:
		b.WriteString(e.literal(v))
	}
}
