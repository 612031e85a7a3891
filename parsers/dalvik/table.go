package dalvik

import (
	"fmt"
	"sync"
)

// Table maps opcode values to opcodes for one API level. Tables are built
// once per (level, jumbo) pair and never modified afterwards, so they can
// be shared by any number of decoders.
type Table struct {
	Level int
	Jumbo bool

	ops    [256]*Opcode
	jumbo  [256]*Opcode
	byName map[string]*Opcode
}

// Supported API levels.
const (
	MinAPILevel = 1
	MaxAPILevel = 34
)

type tableKey struct {
	level int
	jumbo bool
}

var (
	tablesMu sync.Mutex
	tables   = map[tableKey]*Table{}
)

// ForAPILevel returns the opcode table for level. Jumbo opcodes are only
// included when requested and level is a Dalvik level that had them.
func ForAPILevel(level int, jumbo bool) *Table {
	key := tableKey{level: level, jumbo: jumbo && level >= 14 && level <= lastDalvik}
	tablesMu.Lock()
	defer tablesMu.Unlock()
	if t, ok := tables[key]; ok {
		return t
	}
	t := newTable(key.level, key.jumbo)
	tables[key] = t
	return t
}

func newTable(level int, jumbo bool) *Table {
	t := &Table{Level: level, Jumbo: jumbo, byName: map[string]*Opcode{}}
	for i := range opcodes {
		op := &opcodes[i]
		if !op.availableAt(level) {
			continue
		}
		switch {
		case op.Format.IsPayload():
		case op.Flags&Jumbo != 0:
			if !jumbo {
				continue
			}
			t.jumbo[op.Value-JumboBase] = op
		default:
			t.ops[op.Value] = op
		}
		t.byName[op.Name] = op
	}
	// With jumbo enabled 0xff is the prefix byte, not an opcode.
	if jumbo {
		t.ops[0xff] = nil
	}
	return t
}

// Op returns the opcode for value v, or nil when v does not exist at this
// level.
func (t *Table) Op(v Op) *Opcode {
	switch {
	case v < JumboBase:
		return t.ops[v]
	case v < JumboBase+256:
		return t.jumbo[v-JumboBase]
	}
	for i := range opcodes {
		if opcodes[i].Value == v && opcodes[i].Format.IsPayload() {
			return &opcodes[i]
		}
	}
	return nil
}

// ByName returns the opcode with the given mnemonic at this level.
func (t *Table) ByName(name string) *Opcode {
	return t.byName[name]
}

// Lookup decodes the opcode held by the first code unit of an instruction.
func (t *Table) Lookup(unit uint16) (*Opcode, error) {
	low, high := Op(unit&0xff), Op(unit>>8)
	var op *Opcode
	switch {
	case low == 0x00 && high >= 1 && high <= 3:
		op = t.Op(OpPackedSwitchPayload + high - 1)
	case low == 0xff && t.Jumbo:
		op = t.jumbo[high]
	default:
		op = t.ops[low]
	}
	if op == nil {
		return nil, &UnknownOpcodeError{Unit: unit, Level: t.Level}
	}
	return op, nil
}

// Opcodes returns the ordinary opcodes of the table in value order.
func (t *Table) Opcodes() []*Opcode {
	var out []*Opcode
	for _, op := range t.ops {
		if op != nil {
			out = append(out, op)
		}
	}
	for _, op := range t.jumbo {
		if op != nil {
			out = append(out, op)
		}
	}
	return out
}

func (t *Table) String() string {
	if t.Jumbo {
		return fmt.Sprintf("api %d (jumbo)", t.Level)
	}
	return fmt.Sprintf("api %d", t.Level)
}
