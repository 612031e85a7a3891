package dex

//
// Reader for dex containers. See:
//
//   https://source.android.com/devices/tech/dalvik/dex-format.html
//
// for a specification of the format. Read validates the header, then walks
// every section by its declared offset and count, resolving all embedded
// indices eagerly so that a corrupt index is reported at load time together
// with the class or member that holds it.
//

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/adler32"
)

// ReadOptions tune how strictly Read treats its input.
type ReadOptions struct {
	// Name is used in diagnostics only.
	Name string
	// SkipChecksum disables the Adler-32 check (hand patched files).
	SkipChecksum bool
	// IgnoreErrors drops classes holding dangling references instead of
	// failing the whole container. Dropped classes end up in Skipped.
	IgnoreErrors bool
	// CheckCode, when set, is run on every code item once the pools are
	// loaded. A *DanglingReferenceError it returns is attributed to the
	// owning method and handled like any other bad index.
	CheckCode func(c *Container, code *CodeItem) error
}

type loader struct {
	c    *Container
	data []byte
	opts ReadOptions
}

// Read parses a dex or odex image. Any failure to make sense of the
// container itself is a *MalformedContainerError; a bad cross reference
// is a *DanglingReferenceError.
func Read(data []byte, opts ReadOptions) (*Container, error) {
	if len(data) < 8 {
		return nil, malformed("truncated: %d bytes", len(data))
	}
	c := &Container{Name: opts.Name, byTyp: map[uint32]*ClassDef{}}

	var prefix [4]byte
	copy(prefix[:], data)
	switch prefix {
	case odexMagicPrefix:
		dexData, odex, err := readOdexHeader(data)
		if err != nil {
			return nil, err
		}
		c.Odex = odex
		c.OdexDeps = readOdexDeps(data, odex)
		c.IsOptimized = true
		data = dexData
	case dexMagicPrefix:
	default:
		return nil, malformed("bad magic %q", data[:8])
	}

	if err := readHeader(c, data, opts); err != nil {
		return nil, err
	}
	c.data = data[:c.Header.FileSize]

	l := &loader{c: c, data: c.data, opts: opts}
	steps := []func() error{
		l.readMap,
		l.readStrings,
		l.readTypes,
		l.readProtos,
		l.readFields,
		l.readMethods,
		l.readMethodHandles,
		l.readCallSites,
		l.readClasses,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func readOdexHeader(data []byte) ([]byte, *OdexHeader, error) {
	if len(data) < odexHeaderSize {
		return nil, nil, malformed("truncated odex header")
	}
	var odex OdexHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &odex); err != nil {
		return nil, nil, malformed("unable to decode odex header: %v", err)
	}
	if v := magicVersion(odex.Magic); v < 35 || v > 36 {
		return nil, nil, malformed("unsupported odex version %q", odex.Magic[4:7])
	}
	end := uint64(odex.DexOffset) + uint64(odex.DexLength)
	if odex.DexOffset < odexHeaderSize || end > uint64(len(data)) {
		return nil, nil, malformed("odex dex section [%#x,%#x) outside file of %d bytes",
			odex.DexOffset, end, len(data))
	}
	return data[odex.DexOffset:end], &odex, nil
}

// readOdexDeps lists the boot classpath entries an odex was optimized
// against. The section is advisory, so anything unexpected yields nil.
func readOdexDeps(data []byte, odex *OdexHeader) []string {
	end := uint64(odex.DepsOffset) + uint64(odex.DepsLength)
	if odex.DepsLength < 16 || end > uint64(len(data)) {
		return nil
	}
	s := newStream(data[:end], odex.DepsOffset)
	s.u32() // source modification time
	s.u32() // source crc
	s.u32() // vm build
	n := s.u32()
	var deps []string
	for i := uint32(0); i < n && s.err == nil; i++ {
		size := s.u32()
		if !s.need(size + 20) {
			break
		}
		name := data[s.pos : s.pos+size]
		deps = append(deps, string(bytes.TrimRight(name, "\x00")))
		s.pos += size + 20
	}
	if s.err != nil {
		return nil
	}
	return deps
}

func readHeader(c *Container, data []byte, opts ReadOptions) error {
	if len(data) < headerSize {
		return malformed("truncated header: %d bytes", len(data))
	}
	var prefix [4]byte
	copy(prefix[:], data)
	if prefix != dexMagicPrefix {
		return malformed("bad dex magic %q", data[:8])
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &c.Header); err != nil {
		return malformed("unable to decode dex header: %v", err)
	}
	h := &c.Header
	if v := h.Version(); v < 35 || v > 39 {
		return malformed("unsupported dex version %q", h.Magic[4:7])
	}
	switch h.EndianTag {
	case endianConstant:
	case reverseEndianConstant:
		return malformed("big endian containers are not supported")
	default:
		return malformed("bad endian tag %#x", h.EndianTag)
	}
	if h.HeaderSize < headerSize {
		return malformed("header size %#x too small", h.HeaderSize)
	}
	if h.FileSize < headerSize || uint64(h.FileSize) > uint64(len(data)) {
		return malformed("file size %d does not match %d available bytes", h.FileSize, len(data))
	}
	if !opts.SkipChecksum {
		if sum := adler32.Checksum(data[12:h.FileSize]); sum != h.Checksum {
			return malformed("checksum mismatch: header %#08x computed %#08x", h.Checksum, sum)
		}
	}

	sections := []struct {
		name      string
		size, off uint32
		entrySize uint32
	}{
		{"string_ids", h.StringIdsSize, h.StringIdsOff, 4},
		{"type_ids", h.TypeIdsSize, h.TypeIdsOff, 4},
		{"proto_ids", h.ProtoIdsSize, h.ProtoIdsOff, 12},
		{"field_ids", h.FieldIdsSize, h.FieldIdsOff, 8},
		{"method_ids", h.MethodIdsSize, h.MethodIdsOff, 8},
		{"class_defs", h.ClassDefsSize, h.ClassDefsOff, classDefSize},
		{"data", h.DataSize, h.DataOff, 1},
		{"link", h.LinkSize, h.LinkOff, 1},
	}
	for _, s := range sections {
		if s.size == 0 {
			continue
		}
		end := uint64(s.off) + uint64(s.size)*uint64(s.entrySize)
		if s.off < headerSize && s.name != "data" || end > uint64(h.FileSize) {
			return malformed("%s section [%#x,%#x) outside file of %d bytes", s.name, s.off, end, h.FileSize)
		}
	}
	if h.TypeIdsSize > 0xffff {
		return malformed("%d type ids exceed the 16-bit limit", h.TypeIdsSize)
	}
	if h.ProtoIdsSize > 0xffff {
		return malformed("%d proto ids exceed the 16-bit limit", h.ProtoIdsSize)
	}
	return nil
}

// check validates idx against a pool of size entries; NoIndex is rejected
// unless optional is set.
func check(pool string, idx uint32, size int, owner string, optional bool) error {
	if optional && idx == NoIndex {
		return nil
	}
	if uint64(idx) >= uint64(size) {
		return &DanglingReferenceError{Pool: pool, Index: idx, Size: uint32(size), Owner: owner}
	}
	return nil
}

func (l *loader) readMap() error {
	off := l.c.Header.MapOff
	if off == 0 {
		return nil
	}
	s := newStream(l.data, off)
	n := s.u32()
	for i := uint32(0); i < n && s.err == nil; i++ {
		var item MapItem
		item.Type = s.u16()
		s.u16()
		item.Size = s.u32()
		item.Offset = s.u32()
		l.c.Map = append(l.c.Map, item)
	}
	return s.err
}

func (l *loader) mapItem(typ uint16) (MapItem, bool) {
	for _, m := range l.c.Map {
		if m.Type == typ {
			return m, true
		}
	}
	return MapItem{}, false
}

func (l *loader) readStrings() error {
	h := &l.c.Header
	l.c.Strings = make([]string, h.StringIdsSize)
	ids := newStream(l.data, h.StringIdsOff)
	for i := range l.c.Strings {
		off := ids.u32()
		if ids.err != nil {
			return ids.err
		}
		s := newStream(l.data, off)
		n := s.uleb128()
		l.c.Strings[i] = s.mutf8(n)
		if s.err != nil {
			return s.err
		}
	}
	return nil
}

func (l *loader) readTypes() error {
	h := &l.c.Header
	l.c.Types = make([]uint32, h.TypeIdsSize)
	s := newStream(l.data, h.TypeIdsOff)
	for i := range l.c.Types {
		l.c.Types[i] = s.u32()
		if err := check("string", l.c.Types[i], len(l.c.Strings), "type_ids", false); err != nil {
			return err
		}
	}
	return s.err
}

func (l *loader) typeList(off uint32, owner string) ([]uint32, error) {
	if off == 0 {
		return nil, nil
	}
	s := newStream(l.data, off)
	n := s.u32()
	if s.err != nil {
		return nil, s.err
	}
	if uint64(n)*2 > uint64(len(l.data)) {
		return nil, malformed("type list at %#x claims %d entries", off, n)
	}
	list := make([]uint32, n)
	for i := range list {
		list[i] = uint32(s.u16())
		if err := check("type", list[i], len(l.c.Types), owner, false); err != nil {
			return nil, err
		}
	}
	return list, s.err
}

func (l *loader) readProtos() error {
	h := &l.c.Header
	l.c.Protos = make([]Proto, h.ProtoIdsSize)
	s := newStream(l.data, h.ProtoIdsOff)
	for i := range l.c.Protos {
		p := &l.c.Protos[i]
		p.Shorty = s.u32()
		p.ReturnType = s.u32()
		paramsOff := s.u32()
		if s.err != nil {
			return s.err
		}
		if err := check("string", p.Shorty, len(l.c.Strings), "proto_ids", false); err != nil {
			return err
		}
		if err := check("type", p.ReturnType, len(l.c.Types), "proto_ids", false); err != nil {
			return err
		}
		params, err := l.typeList(paramsOff, "proto_ids")
		if err != nil {
			return err
		}
		p.Params = params
	}
	return nil
}

func (l *loader) readFields() error {
	h := &l.c.Header
	l.c.Fields = make([]FieldRef, h.FieldIdsSize)
	s := newStream(l.data, h.FieldIdsOff)
	for i := range l.c.Fields {
		f := &l.c.Fields[i]
		f.Class = uint32(s.u16())
		f.Type = uint32(s.u16())
		f.Name = s.u32()
		if s.err != nil {
			return s.err
		}
		for _, err := range []error{
			check("type", f.Class, len(l.c.Types), "field_ids", false),
			check("type", f.Type, len(l.c.Types), "field_ids", false),
			check("string", f.Name, len(l.c.Strings), "field_ids", false),
		} {
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *loader) readMethods() error {
	h := &l.c.Header
	l.c.Methods = make([]MethodRef, h.MethodIdsSize)
	s := newStream(l.data, h.MethodIdsOff)
	for i := range l.c.Methods {
		m := &l.c.Methods[i]
		m.Class = uint32(s.u16())
		m.Proto = uint32(s.u16())
		m.Name = s.u32()
		if s.err != nil {
			return s.err
		}
		for _, err := range []error{
			check("type", m.Class, len(l.c.Types), "method_ids", false),
			check("proto", m.Proto, len(l.c.Protos), "method_ids", false),
			check("string", m.Name, len(l.c.Strings), "method_ids", false),
		} {
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *loader) readMethodHandles() error {
	item, ok := l.mapItem(TypeMethodHandleItem)
	if !ok {
		return nil
	}
	l.c.MethodHandles = make([]MethodHandle, item.Size)
	s := newStream(l.data, item.Offset)
	for i := range l.c.MethodHandles {
		h := &l.c.MethodHandles[i]
		h.Kind = s.u16()
		s.u16()
		h.Target = uint32(s.u16())
		s.u16()
		if s.err != nil {
			return s.err
		}
		var err error
		switch {
		case h.Kind > HandleInvokeInterface:
			err = malformed("method handle %d has unknown kind %d", i, h.Kind)
		case h.IsField():
			err = check("field", h.Target, len(l.c.Fields), "method_handles", false)
		default:
			err = check("method", h.Target, len(l.c.Methods), "method_handles", false)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) readCallSites() error {
	item, ok := l.mapItem(TypeCallSiteIDItem)
	if !ok {
		return nil
	}
	l.c.CallSites = make([]CallSite, item.Size)
	ids := newStream(l.data, item.Offset)
	for i := range l.c.CallSites {
		off := ids.u32()
		if ids.err != nil {
			return ids.err
		}
		values, err := l.encodedArray(off, "call_site_ids")
		if err != nil {
			return err
		}
		if len(values) < 3 || values[0].Kind != ValueMethodHandle {
			return malformed("call site %d is not a bootstrap triple", i)
		}
		l.c.CallSites[i].Values = values
	}
	return nil
}

func (l *loader) readClasses() error {
	h := &l.c.Header
	seen := map[uint32]bool{}
	for i := uint32(0); i < h.ClassDefsSize; i++ {
		cl, err := l.readClass(i, h.ClassDefsOff+i*classDefSize)
		if err != nil {
			var dangling *DanglingReferenceError
			if l.opts.IgnoreErrors && errors.As(err, &dangling) {
				l.c.Skipped = append(l.c.Skipped, err)
				continue
			}
			return err
		}
		if seen[cl.Type] {
			err := &DanglingReferenceError{Pool: "class_defs", Index: cl.Type,
				Size: uint32(len(l.c.Types)), Owner: "duplicate definition of " + l.c.Type(cl.Type)}
			if l.opts.IgnoreErrors {
				l.c.Skipped = append(l.c.Skipped, err)
				continue
			}
			return err
		}
		seen[cl.Type] = true
		l.c.Classes = append(l.c.Classes, cl)
		l.c.byTyp[cl.Type] = cl
	}
	return nil
}
