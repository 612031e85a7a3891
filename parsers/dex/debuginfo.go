package dex

// Debug info opcodes.
// https://source.android.com/devices/tech/dalvik/dex-format.html#debug-info-item
const (
	dbgEndSequence        = 0x00
	dbgAdvancePC          = 0x01
	dbgAdvanceLine        = 0x02
	dbgStartLocal         = 0x03
	dbgStartLocalExtended = 0x04
	dbgEndLocal           = 0x05
	dbgRestartLocal       = 0x06
	dbgSetPrologueEnd     = 0x07
	dbgSetEpilogueBegin   = 0x08
	dbgSetFile            = 0x09
	dbgFirstSpecial       = 0x0a
	dbgLineBase           = -4
	dbgLineRange          = 15
)

// DebugEventKind says what a DebugEvent records.
type DebugEventKind uint8

const (
	DebugLine DebugEventKind = iota
	DebugStartLocal
	DebugEndLocal
	DebugRestartLocal
	DebugPrologueEnd
	DebugEpilogueBegin
	DebugSetFile
)

// DebugEvent is one state change of the debug state machine, positioned at
// code unit Addr. Name, Type and Signature are NoIndex when absent.
type DebugEvent struct {
	Kind      DebugEventKind
	Addr      uint32
	Line      uint32
	Register  uint32
	Name      uint32
	Type      uint32
	Signature uint32
}

// DebugInfo is a decoded debug_info_item. ParameterNames excludes "this".
type DebugInfo struct {
	LineStart      uint32
	ParameterNames []uint32
	Events         []DebugEvent
}

func (l *loader) readDebugInfo(off uint32, owner string) (*DebugInfo, error) {
	s := newStream(l.data, off)
	info := &DebugInfo{LineStart: s.uleb128()}
	n := s.uleb128()
	if s.err != nil {
		return nil, s.err
	}
	if n > 255 {
		return nil, malformed("%s debug info declares %d parameters", owner, n)
	}
	owner += " debug info"
	nStrings, nTypes := len(l.c.Strings), len(l.c.Types)
	for i := uint32(0); i < n; i++ {
		name := s.uleb128p1()
		if err := check("string", name, nStrings, owner, true); err != nil {
			return nil, err
		}
		info.ParameterNames = append(info.ParameterNames, name)
	}

	addr, line := uint32(0), info.LineStart
	for {
		op := s.u8()
		if s.err != nil {
			return nil, s.err
		}
		ev := DebugEvent{Addr: addr, Name: NoIndex, Type: NoIndex, Signature: NoIndex}
		switch op {
		case dbgEndSequence:
			return info, nil
		case dbgAdvancePC:
			addr += s.uleb128()
			continue
		case dbgAdvanceLine:
			line = uint32(int32(line) + s.sleb128())
			continue
		case dbgStartLocal, dbgStartLocalExtended:
			ev.Kind = DebugStartLocal
			ev.Register = s.uleb128()
			ev.Name = s.uleb128p1()
			ev.Type = s.uleb128p1()
			if op == dbgStartLocalExtended {
				ev.Signature = s.uleb128p1()
			}
			for _, err := range []error{
				check("string", ev.Name, nStrings, owner, true),
				check("type", ev.Type, nTypes, owner, true),
				check("string", ev.Signature, nStrings, owner, true),
			} {
				if err != nil {
					return nil, err
				}
			}
		case dbgEndLocal:
			ev.Kind = DebugEndLocal
			ev.Register = s.uleb128()
		case dbgRestartLocal:
			ev.Kind = DebugRestartLocal
			ev.Register = s.uleb128()
		case dbgSetPrologueEnd:
			ev.Kind = DebugPrologueEnd
		case dbgSetEpilogueBegin:
			ev.Kind = DebugEpilogueBegin
		case dbgSetFile:
			ev.Kind = DebugSetFile
			ev.Name = s.uleb128p1()
			if err := check("string", ev.Name, nStrings, owner, true); err != nil {
				return nil, err
			}
		default:
			adjusted := int32(op) - dbgFirstSpecial
			line = uint32(int32(line) + dbgLineBase + adjusted%dbgLineRange)
			addr += uint32(adjusted / dbgLineRange)
			ev.Kind = DebugLine
			ev.Addr = addr
			ev.Line = line
		}
		if s.err != nil {
			return nil, s.err
		}
		info.Events = append(info.Events, ev)
	}
}
