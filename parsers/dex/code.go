package dex

import "errors"

// CodeItem is a method body. Insns holds the raw 16-bit code units; all
// addresses (try ranges, handlers, debug positions) count code units.
type CodeItem struct {
	Offset    uint32
	Registers uint16
	Ins       uint16
	Outs      uint16
	Insns     []uint16
	Tries     []TryItem
	Debug     *DebugInfo
}

// TryItem covers [Start, Start+Count) code units.
type TryItem struct {
	Start   uint32
	Count   uint16
	Handler CatchHandler
}

// End returns the first code unit after the covered range
func (t TryItem) End() uint32 {
	return t.Start + uint32(t.Count)
}

// CatchHandler lists the typed catches of a try block, then an optional
// catch-all.
type CatchHandler struct {
	Catches     []Catch
	HasCatchAll bool
	CatchAll    uint32
}

// Catch routes exceptions of Type to Addr.
type Catch struct {
	Type uint32
	Addr uint32
}

func (l *loader) readCode(off uint32, owner string) (*CodeItem, error) {
	s := newStream(l.data, off)
	code := &CodeItem{Offset: off}
	code.Registers = s.u16()
	code.Ins = s.u16()
	code.Outs = s.u16()
	triesSize := s.u16()
	debugOff := s.u32()
	insnsSize := s.u32()
	if s.err != nil {
		return nil, s.err
	}
	if code.Ins > code.Registers {
		return nil, malformed("%s has %d ins but only %d registers", owner, code.Ins, code.Registers)
	}
	if uint64(insnsSize)*2 > uint64(len(l.data)) {
		return nil, malformed("%s claims %d code units", owner, insnsSize)
	}
	code.Insns = make([]uint16, insnsSize)
	for i := range code.Insns {
		code.Insns[i] = s.u16()
	}
	if triesSize > 0 && insnsSize%2 == 1 {
		s.u16() // padding
	}
	if s.err != nil {
		return nil, s.err
	}

	type rawTry struct {
		start      uint32
		count      uint16
		handlerOff uint16
	}
	raw := make([]rawTry, triesSize)
	for i := range raw {
		raw[i] = rawTry{s.u32(), s.u16(), s.u16()}
	}
	if s.err != nil {
		return nil, s.err
	}
	handlersBase := s.pos
	for _, r := range raw {
		t := TryItem{Start: r.start, Count: r.count}
		if uint64(t.End()) > uint64(insnsSize) {
			return nil, &DanglingReferenceError{Pool: "code address", Index: t.End(), Size: insnsSize, Owner: owner + " try block"}
		}
		h, err := l.catchHandler(handlersBase+uint32(r.handlerOff), insnsSize, owner)
		if err != nil {
			return nil, err
		}
		t.Handler = h
		code.Tries = append(code.Tries, t)
	}

	if debugOff != 0 {
		dbg, err := l.readDebugInfo(debugOff, owner)
		if err != nil {
			return nil, err
		}
		code.Debug = dbg
	}

	if l.opts.CheckCode != nil {
		if err := l.opts.CheckCode(l.c, code); err != nil {
			var dangling *DanglingReferenceError
			if errors.As(err, &dangling) {
				dangling.Owner = owner + ", " + dangling.Owner
			}
			return nil, err
		}
	}
	return code, nil
}

func (l *loader) catchHandler(off, insnsSize uint32, owner string) (CatchHandler, error) {
	var h CatchHandler
	s := newStream(l.data, off)
	size := s.sleb128()
	if s.err != nil {
		return h, s.err
	}
	n := size
	if n < 0 {
		n = -n
	}
	if n > 0xffff {
		return h, malformed("%s catch handler has %d entries", owner, n)
	}
	for i := int32(0); i < n; i++ {
		c := Catch{Type: s.uleb128(), Addr: s.uleb128()}
		if s.err != nil {
			return h, s.err
		}
		if err := check("type", c.Type, len(l.c.Types), owner+" catch", false); err != nil {
			return h, err
		}
		if err := check("code address", c.Addr, int(insnsSize), owner+" catch", false); err != nil {
			return h, err
		}
		h.Catches = append(h.Catches, c)
	}
	if size <= 0 {
		h.HasCatchAll = true
		h.CatchAll = s.uleb128()
		if s.err != nil {
			return h, s.err
		}
		if err := check("code address", h.CatchAll, int(insnsSize), owner+" catch-all", false); err != nil {
			return h, err
		}
	}
	return h, nil
}
