//
// Package dextest assembles small, valid dex and odex images in memory for
// the unit tests of the reader, decoder, deodexer and emitter. Pools are
// filled in first-use order (the reader does not require them sorted), so
// a test can intern a string or member and use the returned index inside
// hand written code units.
//
package dextest

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"hash/adler32"
	"sort"

	"github.com/vsoch/gobaksmali/parsers/dex"
)

const noIndex = 0xffffffff

// Access flags used by the tests.
const (
	AccPublic      = 0x1
	AccPrivate     = 0x2
	AccProtected   = 0x4
	AccStatic      = 0x8
	AccFinal       = 0x10
	AccSynthetic   = 0x1000
	AccInterface   = 0x200
	AccAbstract    = 0x400
	AccConstructor = 0x10000
)

// Builder accumulates pools and classes.
type Builder struct {
	strings []string
	strIdx  map[string]uint32
	types   []uint32
	typIdx  map[string]uint32
	protos  []proto
	proIdx  map[string]uint32
	fields  []member
	fldIdx  map[string]uint32
	methods []member
	mthIdx  map[string]uint32
	classes []*Class

	// Odex wraps the dex in an odex header.
	Odex bool
	// OdexDeps are written to the odex dependency section.
	OdexDeps []string
	// Version is the three digit format version, "035" by default.
	Version string
	// CorruptChecksum writes a checksum that does not match.
	CorruptChecksum bool
}

type proto struct {
	shorty uint32
	ret    uint32
	params []uint32
}

type member struct {
	class, typ, name uint32
}

// Class describes a class_def plus its class data.
type Class struct {
	Descriptor     string
	Access         uint32
	Super          string
	Interfaces     []string
	SourceFile     string
	StaticFields   []Field
	InstanceFields []Field
	DirectMethods  []*Method
	VirtualMethods []*Method
	StaticValues   []Value
	Annotations    []Annotation
}

// Field is a declared field.
type Field struct {
	Name, Type string
	Access     uint32
}

// Method is a declared method; Code nil means abstract or native.
type Method struct {
	Name        string
	Return      string
	Params      []string
	Access      uint32
	Code        *Code
	Annotations []Annotation
}

// Code is a code_item.
type Code struct {
	Registers, Ins, Outs uint16
	Insns                []uint16
	Tries                []Try
	Debug                *Debug
}

// Try is a try block with its handler.
type Try struct {
	Start    uint32
	Count    uint16
	Catches  []Catch
	CatchAll int64 // -1 for none
}

// Catch is a typed handler.
type Catch struct {
	Type string
	Addr uint32
}

// Debug is a debug_info_item expressed as high level steps.
type Debug struct {
	LineStart  uint32
	ParamNames []string
	Steps      []DebugStep
}

// DebugStep is one debug opcode.
type DebugStep struct {
	op        byte
	addr      uint32
	line      int32
	reg       uint32
	name, typ string
}

// Position advances the address and line together (special opcode).
func Position(addrDelta uint32, lineDelta int32) DebugStep {
	return DebugStep{op: 0xff, addr: addrDelta, line: lineDelta}
}

// StartLocal introduces a named local in reg.
func StartLocal(reg uint32, name, typ string) DebugStep {
	return DebugStep{op: 0x03, reg: reg, name: name, typ: typ}
}

// EndLocal ends the local in reg.
func EndLocal(reg uint32) DebugStep { return DebugStep{op: 0x05, reg: reg} }

// RestartLocal restarts the local in reg.
func RestartLocal(reg uint32) DebugStep { return DebugStep{op: 0x06, reg: reg} }

// PrologueEnd marks the end of the prologue.
func PrologueEnd() DebugStep { return DebugStep{op: 0x07} }

// EpilogueBegin marks the start of the epilogue.
func EpilogueBegin() DebugStep { return DebugStep{op: 0x08} }

// AdvancePC moves the address without emitting a position.
func AdvancePC(n uint32) DebugStep { return DebugStep{op: 0x01, addr: n} }

// Value is an encoded value; only the kinds the tests need.
type Value struct {
	Kind byte
	Int  int64
	Str  string
}

// Encoded value kinds.
const (
	ValueInt     = 0x04
	ValueString  = 0x17
	ValueType    = 0x18
	ValueNull    = 0x1e
	ValueBoolean = 0x1f
)

// Annotation is an annotation with simple element values.
type Annotation struct {
	Visibility byte
	Type       string
	Elements   []Element
}

// Element is a name/value pair.
type Element struct {
	Name  string
	Value Value
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{
		strIdx: map[string]uint32{},
		typIdx: map[string]uint32{},
		proIdx: map[string]uint32{},
		fldIdx: map[string]uint32{},
		mthIdx: map[string]uint32{},
	}
}

// String interns s and returns its index.
func (b *Builder) String(s string) uint32 {
	if i, ok := b.strIdx[s]; ok {
		return i
	}
	i := uint32(len(b.strings))
	b.strings = append(b.strings, s)
	b.strIdx[s] = i
	return i
}

// Type interns a type descriptor.
func (b *Builder) Type(desc string) uint32 {
	if i, ok := b.typIdx[desc]; ok {
		return i
	}
	s := b.String(desc)
	i := uint32(len(b.types))
	b.types = append(b.types, s)
	b.typIdx[desc] = i
	return i
}

func shortyChar(desc string) byte {
	if desc[0] == '[' || desc[0] == 'L' {
		return 'L'
	}
	return desc[0]
}

// Proto interns a prototype.
func (b *Builder) Proto(ret string, params ...string) uint32 {
	key := ret + "("
	for _, p := range params {
		key += p
	}
	if i, ok := b.proIdx[key]; ok {
		return i
	}
	shorty := []byte{shortyChar(ret)}
	for _, p := range params {
		shorty = append(shorty, shortyChar(p))
	}
	p := proto{shorty: b.String(string(shorty)), ret: b.Type(ret)}
	for _, param := range params {
		p.params = append(p.params, b.Type(param))
	}
	i := uint32(len(b.protos))
	b.protos = append(b.protos, p)
	b.proIdx[key] = i
	return i
}

// Field interns a field reference.
func (b *Builder) Field(class, name, typ string) uint32 {
	key := class + "->" + name + ":" + typ
	if i, ok := b.fldIdx[key]; ok {
		return i
	}
	f := member{class: b.Type(class), typ: b.Type(typ), name: b.String(name)}
	i := uint32(len(b.fields))
	b.fields = append(b.fields, f)
	b.fldIdx[key] = i
	return i
}

// Method interns a method reference.
func (b *Builder) Method(class, name, ret string, params ...string) uint32 {
	key := class + "->" + name + "("
	for _, p := range params {
		key += p
	}
	key += ")" + ret
	if i, ok := b.mthIdx[key]; ok {
		return i
	}
	m := member{class: b.Type(class), typ: b.Proto(ret, params...), name: b.String(name)}
	i := uint32(len(b.methods))
	b.methods = append(b.methods, m)
	b.mthIdx[key] = i
	return i
}

// AddClass interns everything the class declares and queues it.
func (b *Builder) AddClass(c *Class) *Class {
	b.Type(c.Descriptor)
	if c.Super != "" {
		b.Type(c.Super)
	}
	for _, i := range c.Interfaces {
		b.Type(i)
	}
	if c.SourceFile != "" {
		b.String(c.SourceFile)
	}
	for _, f := range append(append([]Field{}, c.StaticFields...), c.InstanceFields...) {
		b.Field(c.Descriptor, f.Name, f.Type)
	}
	for _, m := range append(append([]*Method{}, c.DirectMethods...), c.VirtualMethods...) {
		b.Method(c.Descriptor, m.Name, m.Return, m.Params...)
	}
	b.classes = append(b.classes, c)
	return c
}

type writer struct {
	bytes.Buffer
	base uint32
}

func (w *writer) pos() uint32 { return w.base + uint32(w.Len()) }
func (w *writer) u8(v byte)   { w.WriteByte(v) }
func (w *writer) u16(v uint16) { binary.Write(&w.Buffer, binary.LittleEndian, v) }
func (w *writer) u32(v uint32) { binary.Write(&w.Buffer, binary.LittleEndian, v) }

func (w *writer) uleb(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			w.WriteByte(b | 0x80)
			continue
		}
		w.WriteByte(b)
		return
	}
}

func (w *writer) sleb(v int32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.WriteByte(b)
			return
		}
		w.WriteByte(b | 0x80)
	}
}

func (w *writer) align(n int) {
	for w.pos()%uint32(n) != 0 {
		w.WriteByte(0)
	}
}

func mutf8(s string) []byte {
	var out []byte
	for _, u := range dex.UTF16Units(s) {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, byte(0xc0|u>>6), byte(0x80|u&0x3f))
		default:
			out = append(out, byte(0xe0|u>>12), byte(0x80|(u>>6)&0x3f), byte(0x80|u&0x3f))
		}
	}
	return out
}

func (b *Builder) writeValue(w *writer, v Value) {
	switch v.Kind {
	case ValueNull:
		w.u8(ValueNull)
		return
	case ValueBoolean:
		w.u8(byte(v.Int&1)<<5 | ValueBoolean)
		return
	case ValueString:
		writeUnsigned(w, ValueString, uint64(b.String(v.Str)))
		return
	case ValueType:
		writeUnsigned(w, ValueType, uint64(b.Type(v.Str)))
		return
	}
	// signed, minimal width
	n := 1
	for n < 8 {
		shift := uint(64 - 8*n)
		if v.Int<<shift>>shift == v.Int {
			break
		}
		n++
	}
	w.u8(byte(n-1)<<5 | v.Kind)
	for i := 0; i < n; i++ {
		w.u8(byte(uint64(v.Int) >> (8 * uint(i))))
	}
}

func writeUnsigned(w *writer, kind byte, v uint64) {
	n := 1
	for n < 8 && v>>(8*uint(n)) != 0 {
		n++
	}
	w.u8(byte(n-1)<<5 | kind)
	for i := 0; i < n; i++ {
		w.u8(byte(v >> (8 * uint(i))))
	}
}

// Bytes lays the image out and returns it with a valid signature and
// checksum (unless CorruptChecksum is set).
func (b *Builder) Bytes() []byte {
	// Intern everything reachable before the id sections are sized.
	for _, c := range b.classes {
		for _, v := range c.StaticValues {
			b.internValue(v)
		}
		for _, a := range c.Annotations {
			b.internAnnotation(a)
		}
		for _, m := range append(append([]*Method{}, c.DirectMethods...), c.VirtualMethods...) {
			for _, a := range m.Annotations {
				b.internAnnotation(a)
			}
			if m.Code == nil {
				continue
			}
			for _, t := range m.Code.Tries {
				for _, c := range t.Catches {
					b.Type(c.Type)
				}
			}
			if d := m.Code.Debug; d != nil {
				for _, n := range d.ParamNames {
					if n != "" {
						b.String(n)
					}
				}
				for _, s := range d.Steps {
					if s.name != "" {
						b.String(s.name)
					}
					if s.typ != "" {
						b.Type(s.typ)
					}
				}
			}
		}
	}

	const headerSize = 0x70
	off := uint32(headerSize)
	stringIdsOff := off
	off += 4 * uint32(len(b.strings))
	typeIdsOff := off
	off += 4 * uint32(len(b.types))
	protoIdsOff := off
	off += 12 * uint32(len(b.protos))
	fieldIdsOff := off
	off += 8 * uint32(len(b.fields))
	methodIdsOff := off
	off += 8 * uint32(len(b.methods))
	classDefsOff := off
	off += 32 * uint32(len(b.classes))
	dataOff := off

	data := &writer{base: dataOff}

	stringOffs := make([]uint32, len(b.strings))
	for i, s := range b.strings {
		stringOffs[i] = data.pos()
		data.uleb(uint32(len(dex.UTF16Units(s))))
		data.Write(mutf8(s))
		data.u8(0)
	}

	typeList := func(list []uint32) uint32 {
		if len(list) == 0 {
			return 0
		}
		data.align(4)
		at := data.pos()
		data.u32(uint32(len(list)))
		for _, t := range list {
			data.u16(uint16(t))
		}
		return at
	}
	protoParams := make([]uint32, len(b.protos))
	for i, p := range b.protos {
		protoParams[i] = typeList(p.params)
	}

	type classOffs struct {
		interfaces, data, values, annotations uint32
	}
	offs := make([]classOffs, len(b.classes))
	for ci, c := range b.classes {
		var ifaces []uint32
		for _, i := range c.Interfaces {
			ifaces = append(ifaces, b.Type(i))
		}
		offs[ci].interfaces = typeList(ifaces)

		codeOffs := map[*Method]uint32{}
		for _, m := range append(append([]*Method{}, c.DirectMethods...), c.VirtualMethods...) {
			if m.Code != nil {
				codeOffs[m] = b.writeCode(data, m.Code)
			}
		}

		if len(c.StaticValues) > 0 {
			offs[ci].values = data.pos()
			data.uleb(uint32(len(c.StaticValues)))
			for _, v := range c.StaticValues {
				b.writeValue(data, v)
			}
		}

		offs[ci].annotations = b.writeAnnotations(data, c)

		offs[ci].data = data.pos()
		data.uleb(uint32(len(c.StaticFields)))
		data.uleb(uint32(len(c.InstanceFields)))
		data.uleb(uint32(len(c.DirectMethods)))
		data.uleb(uint32(len(c.VirtualMethods)))
		writeFields := func(fs []Field) {
			type ef struct{ idx, acc uint32 }
			var list []ef
			for _, f := range fs {
				list = append(list, ef{b.Field(c.Descriptor, f.Name, f.Type), f.Access})
			}
			sort.Slice(list, func(i, j int) bool { return list[i].idx < list[j].idx })
			prev := uint32(0)
			for _, f := range list {
				data.uleb(f.idx - prev)
				data.uleb(f.acc)
				prev = f.idx
			}
		}
		writeMethods := func(ms []*Method) {
			type em struct{ idx, acc, code uint32 }
			var list []em
			for _, m := range ms {
				list = append(list, em{b.Method(c.Descriptor, m.Name, m.Return, m.Params...), m.Access, codeOffs[m]})
			}
			sort.Slice(list, func(i, j int) bool { return list[i].idx < list[j].idx })
			prev := uint32(0)
			for _, m := range list {
				data.uleb(m.idx - prev)
				data.uleb(m.acc)
				data.uleb(m.code)
				prev = m.idx
			}
		}
		writeFields(c.StaticFields)
		writeFields(c.InstanceFields)
		writeMethods(c.DirectMethods)
		writeMethods(c.VirtualMethods)
	}

	data.align(4)
	mapOff := data.pos()
	type mapEntry struct {
		typ       uint16
		size, off uint32
	}
	entries := []mapEntry{{0x0000, 1, 0}}
	add := func(typ uint16, size, off uint32) {
		if size > 0 {
			entries = append(entries, mapEntry{typ, size, off})
		}
	}
	add(0x0001, uint32(len(b.strings)), stringIdsOff)
	add(0x0002, uint32(len(b.types)), typeIdsOff)
	add(0x0003, uint32(len(b.protos)), protoIdsOff)
	add(0x0004, uint32(len(b.fields)), fieldIdsOff)
	add(0x0005, uint32(len(b.methods)), methodIdsOff)
	add(0x0006, uint32(len(b.classes)), classDefsOff)
	if len(b.strings) > 0 {
		add(0x2002, uint32(len(b.strings)), stringOffs[0])
	}
	entries = append(entries, mapEntry{0x1000, 1, mapOff})
	data.u32(uint32(len(entries)))
	for _, e := range entries {
		data.u16(e.typ)
		data.u16(0)
		data.u32(e.size)
		data.u32(e.off)
	}

	fileSize := dataOff + uint32(data.Len())
	out := &writer{}
	version := b.Version
	if version == "" {
		version = "035"
	}
	out.WriteString("dex\n" + version + "\x00")
	out.u32(0)                  // checksum, patched below
	out.Write(make([]byte, 20)) // signature, patched below
	out.u32(fileSize)
	out.u32(headerSize)
	out.u32(0x12345678)
	out.u32(0) // link size
	out.u32(0) // link off
	out.u32(mapOff)
	sizeOff := func(n int, off uint32) {
		out.u32(uint32(n))
		if n == 0 {
			out.u32(0)
			return
		}
		out.u32(off)
	}
	sizeOff(len(b.strings), stringIdsOff)
	sizeOff(len(b.types), typeIdsOff)
	sizeOff(len(b.protos), protoIdsOff)
	sizeOff(len(b.fields), fieldIdsOff)
	sizeOff(len(b.methods), methodIdsOff)
	sizeOff(len(b.classes), classDefsOff)
	out.u32(uint32(data.Len()))
	out.u32(dataOff)

	for _, o := range stringOffs {
		out.u32(o)
	}
	for _, t := range b.types {
		out.u32(t)
	}
	for i, p := range b.protos {
		out.u32(p.shorty)
		out.u32(p.ret)
		out.u32(protoParams[i])
	}
	for _, f := range b.fields {
		out.u16(uint16(f.class))
		out.u16(uint16(f.typ))
		out.u32(f.name)
	}
	for _, m := range b.methods {
		out.u16(uint16(m.class))
		out.u16(uint16(m.typ))
		out.u32(m.name)
	}
	for ci, c := range b.classes {
		out.u32(b.Type(c.Descriptor))
		out.u32(c.Access)
		if c.Super == "" {
			out.u32(noIndex)
		} else {
			out.u32(b.Type(c.Super))
		}
		out.u32(offs[ci].interfaces)
		if c.SourceFile == "" {
			out.u32(noIndex)
		} else {
			out.u32(b.String(c.SourceFile))
		}
		out.u32(offs[ci].annotations)
		out.u32(offs[ci].data)
		out.u32(offs[ci].values)
	}
	out.Write(data.Bytes())

	img := out.Bytes()
	sig := sha1.Sum(img[32:])
	copy(img[12:32], sig[:])
	sum := adler32.Checksum(img[12:])
	if b.CorruptChecksum {
		sum ^= 0xdeadbeef
	}
	binary.LittleEndian.PutUint32(img[8:], sum)

	if !b.Odex {
		return img
	}
	deps := &writer{}
	if len(b.OdexDeps) > 0 {
		deps.u32(0)  // modification time
		deps.u32(0)  // crc
		deps.u32(27) // vm build
		deps.u32(uint32(len(b.OdexDeps)))
		for _, d := range b.OdexDeps {
			deps.u32(uint32(len(d) + 1))
			deps.WriteString(d)
			deps.u8(0)
			deps.Write(make([]byte, 20))
		}
	}
	depsOff := 40 + uint32(len(img))
	odex := &writer{}
	odex.WriteString("dey\n036\x00")
	odex.u32(40)
	odex.u32(uint32(len(img)))
	odex.u32(depsOff)
	odex.u32(uint32(deps.Len()))
	odex.u32(depsOff + uint32(deps.Len())) // aux
	odex.u32(0)
	odex.u32(0) // flags
	odex.u32(0)
	odex.Write(img)
	odex.Write(deps.Bytes())
	return odex.Bytes()
}

func (b *Builder) internValue(v Value) {
	switch v.Kind {
	case ValueString:
		b.String(v.Str)
	case ValueType:
		b.Type(v.Str)
	}
}

func (b *Builder) internAnnotation(a Annotation) {
	b.Type(a.Type)
	for _, e := range a.Elements {
		b.String(e.Name)
		b.internValue(e.Value)
	}
}

func (b *Builder) writeCode(w *writer, c *Code) uint32 {
	var debugOff uint32
	if c.Debug != nil {
		debugOff = b.writeDebug(w, c.Debug)
	}
	w.align(4)
	at := w.pos()
	w.u16(c.Registers)
	w.u16(c.Ins)
	w.u16(c.Outs)
	w.u16(uint16(len(c.Tries)))
	w.u32(debugOff)
	w.u32(uint32(len(c.Insns)))
	for _, u := range c.Insns {
		w.u16(u)
	}
	if len(c.Tries) == 0 {
		return at
	}
	if len(c.Insns)%2 == 1 {
		w.u16(0)
	}

	// Handlers are encoded first into a side buffer to learn their offsets.
	handlers := &writer{}
	handlers.uleb(uint32(len(c.Tries)))
	handlerOffs := make([]uint16, len(c.Tries))
	for i, t := range c.Tries {
		handlerOffs[i] = uint16(handlers.Len())
		size := int32(len(t.Catches))
		if t.CatchAll >= 0 {
			size = -size
		}
		handlers.sleb(size)
		for _, ct := range t.Catches {
			handlers.uleb(b.Type(ct.Type))
			handlers.uleb(ct.Addr)
		}
		if t.CatchAll >= 0 {
			handlers.uleb(uint32(t.CatchAll))
		}
	}
	for i, t := range c.Tries {
		w.u32(t.Start)
		w.u16(t.Count)
		w.u16(handlerOffs[i])
	}
	w.Write(handlers.Bytes())
	return at
}

func (b *Builder) writeDebug(w *writer, d *Debug) uint32 {
	at := w.pos()
	w.uleb(d.LineStart)
	w.uleb(uint32(len(d.ParamNames)))
	for _, n := range d.ParamNames {
		if n == "" {
			w.uleb(0)
			continue
		}
		w.uleb(b.String(n) + 1)
	}
	for _, s := range d.Steps {
		switch s.op {
		case 0xff:
			adjusted := (s.line + 4) + 15*int32(s.addr)
			if s.line < -4 || s.line > 10 || adjusted+0x0a > 0xff {
				w.u8(0x01)
				w.uleb(s.addr)
				w.u8(0x02)
				w.sleb(s.line)
				w.u8(0x0a + 4) // zero advance
				continue
			}
			w.u8(byte(adjusted + 0x0a))
		case 0x01:
			w.u8(0x01)
			w.uleb(s.addr)
		case 0x03:
			w.u8(0x03)
			w.uleb(s.reg)
			w.uleb(b.String(s.name) + 1)
			w.uleb(b.Type(s.typ) + 1)
		case 0x05, 0x06:
			w.u8(s.op)
			w.uleb(s.reg)
		default:
			w.u8(s.op)
		}
	}
	w.u8(0x00)
	return at
}

func (b *Builder) writeAnnotationSet(w *writer, set []Annotation) uint32 {
	items := make([]uint32, len(set))
	for i, a := range set {
		items[i] = w.pos()
		w.u8(a.Visibility)
		w.uleb(b.Type(a.Type))
		w.uleb(uint32(len(a.Elements)))
		for _, e := range a.Elements {
			w.uleb(b.String(e.Name))
			b.writeValue(w, e.Value)
		}
	}
	w.align(4)
	at := w.pos()
	w.u32(uint32(len(items)))
	for _, it := range items {
		w.u32(it)
	}
	return at
}

func (b *Builder) writeAnnotations(w *writer, c *Class) uint32 {
	var classSet uint32
	if len(c.Annotations) > 0 {
		classSet = b.writeAnnotationSet(w, c.Annotations)
	}
	type entry struct{ idx, off uint32 }
	var methods []entry
	for _, m := range append(append([]*Method{}, c.DirectMethods...), c.VirtualMethods...) {
		if len(m.Annotations) == 0 {
			continue
		}
		methods = append(methods, entry{b.Method(c.Descriptor, m.Name, m.Return, m.Params...), b.writeAnnotationSet(w, m.Annotations)})
	}
	if classSet == 0 && len(methods) == 0 {
		return 0
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i].idx < methods[j].idx })
	w.align(4)
	at := w.pos()
	w.u32(classSet)
	w.u32(0)
	w.u32(uint32(len(methods)))
	w.u32(0)
	for _, m := range methods {
		w.u32(m.idx)
		w.u32(m.off)
	}
	return at
}
