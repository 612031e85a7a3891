package dalvik

import (
	"errors"
	"fmt"
	"iter"

	"github.com/vsoch/gobaksmali/parsers/dex"
)

// Instruction is one decoded instruction. Offsets and sizes count 16-bit
// code units from the start of the method.
type Instruction struct {
	Offset uint32
	Size   uint32
	// Opcode is nil only for an unknown opcode.
	Opcode *Opcode
	// Original is the opcode found in the code when a patch replaced it.
	Original *Opcode
	Units    []uint16

	// Registers in operand order; for the range formats the full
	// contiguous list.
	Registers []uint32
	Literal   int64
	// Target is relative to Offset.
	Target int32

	// Index is the raw reference operand and Ref its resolved text.
	// RefKind may differ from Opcode.Ref for throw-verification-error.
	Index   uint32
	RefKind RefKind
	Ref     string
	// Index2 and Ref2 carry the proto of invoke-polymorphic.
	Index2 uint32
	Ref2   string

	Payload *Payload

	// Invalid marks an instruction that could not be fully decoded; its
	// Units are still available for a raw dump.
	Invalid bool
}

// Name returns the mnemonic, or "" for an unknown opcode.
func (i *Instruction) Name() string {
	if i.Opcode == nil {
		return ""
	}
	return i.Opcode.Name
}

// HasTarget reports whether Target is meaningful.
func (i *Instruction) HasTarget() bool {
	return i.Opcode != nil && !i.Invalid && i.Opcode.Flags&(Branch|Switch) != 0
}

// TargetAddr returns the absolute code offset of the branch target.
func (i *Instruction) TargetAddr() uint32 {
	return uint32(int64(i.Offset) + int64(i.Target))
}

// Patch replaces the opcode (and reference index) of the instruction at
// one code offset. Patches come from the deodexer; the replacement must
// have the same operand layout as the original. When Ref is set it is used
// as the rendered reference and Index is not looked up, since a member
// resolved against the boot classpath need not be in the container's pools.
type Patch struct {
	Op    Op
	Index uint32
	Ref   string
}

// Patches maps code offsets to patches.
type Patches map[uint32]Patch

type decoder struct {
	code    *dex.CodeItem
	table   *Table
	c       *dex.Container
	patches Patches
}

// Decode lazily decodes the instructions of code. Every range over the
// returned sequence starts again at offset 0. An instruction that fails to
// decode is yielded with Invalid set together with its error, and the walk
// continues after it.
func Decode(code *dex.CodeItem, table *Table, c *dex.Container, patches Patches) iter.Seq2[Instruction, error] {
	d := &decoder{code: code, table: table, c: c, patches: patches}
	return func(yield func(Instruction, error) bool) {
		if code == nil {
			return
		}
		for pos := uint32(0); pos < uint32(len(code.Insns)); {
			ins, err := d.at(pos)
			if !yield(ins, err) {
				return
			}
			pos += ins.Size
		}
	}
}

// DecodeAll materializes Decode, collecting the errors alongside.
func DecodeAll(code *dex.CodeItem, table *Table, c *dex.Container, patches Patches) ([]Instruction, []error) {
	var out []Instruction
	var errs []error
	for ins, err := range Decode(code, table, c, patches) {
		out = append(out, ins)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errs
}

// CheckReferences returns a dex.ReadOptions.CheckCode hook that decodes
// every method with table and fails on the first pool index that does not
// fit its pool. Unknown opcodes and bad registers only spoil one
// instruction and are left to the emitter.
func CheckReferences(table *Table) func(*dex.Container, *dex.CodeItem) error {
	return func(c *dex.Container, code *dex.CodeItem) error {
		for _, err := range Decode(code, table, c, nil) {
			var dangling *dex.DanglingReferenceError
			if errors.As(err, &dangling) {
				return err
			}
		}
		return nil
	}
}

func u32(lo, hi uint16) uint32 {
	return uint32(lo) | uint32(hi)<<16
}

func (d *decoder) truncated(ins Instruction, name string) (Instruction, error) {
	insns := d.code.Insns
	ins.Size = uint32(len(insns)) - ins.Offset
	ins.Units = insns[ins.Offset:]
	ins.Invalid = true
	return ins, &dex.MalformedContainerError{
		Reason: fmt.Sprintf("%s at code offset %#x runs past the end of the method", name, ins.Offset),
	}
}

func (d *decoder) at(pos uint32) (Instruction, error) {
	insns := d.code.Insns
	ins := Instruction{Offset: pos, Size: 1, Units: insns[pos : pos+1]}

	op, err := d.table.Lookup(insns[pos])
	if err != nil {
		ins.Invalid = true
		return ins, &UnknownOpcodeError{Offset: pos, Unit: insns[pos], Level: d.table.Level}
	}
	ins.Opcode = op
	if op.Format.IsPayload() {
		return d.payload(ins)
	}

	size := op.Format.Size()
	if uint64(pos)+uint64(size) > uint64(len(insns)) {
		return d.truncated(ins, op.Name)
	}
	u := insns[pos : pos+size]
	ins.Size = size
	ins.Units = u

	a8 := uint32(u[0] >> 8)
	a4 := uint32(u[0]>>8) & 0xf
	b4 := uint32(u[0] >> 12)

	switch op.Format {
	case Format10x:
	case Format12x:
		ins.Registers = []uint32{a4, b4}
	case Format11n:
		ins.Registers = []uint32{a4}
		ins.Literal = int64(int8(u[0]>>8) >> 4)
	case Format11x:
		ins.Registers = []uint32{a8}
	case Format10t:
		ins.Target = int32(int8(u[0] >> 8))
	case Format20t:
		ins.Target = int32(int16(u[1]))
	case Format20bc:
		ins.Literal = int64(a8 & 0x3f)
		ins.Index = uint32(u[1])
	case Format22x:
		ins.Registers = []uint32{a8, uint32(u[1])}
	case Format21t:
		ins.Registers = []uint32{a8}
		ins.Target = int32(int16(u[1]))
	case Format21s:
		ins.Registers = []uint32{a8}
		ins.Literal = int64(int16(u[1]))
	case Format21h:
		ins.Registers = []uint32{a8}
		if op.Flags&SetsWideRegister != 0 {
			ins.Literal = int64(int16(u[1])) << 48
		} else {
			ins.Literal = int64(int32(uint32(u[1]) << 16))
		}
	case Format21c:
		ins.Registers = []uint32{a8}
		ins.Index = uint32(u[1])
	case Format23x:
		ins.Registers = []uint32{a8, uint32(u[1] & 0xff), uint32(u[1] >> 8)}
	case Format22b:
		ins.Registers = []uint32{a8, uint32(u[1] & 0xff)}
		ins.Literal = int64(int8(u[1] >> 8))
	case Format22t:
		ins.Registers = []uint32{a4, b4}
		ins.Target = int32(int16(u[1]))
	case Format22s:
		ins.Registers = []uint32{a4, b4}
		ins.Literal = int64(int16(u[1]))
	case Format22c, Format22cs:
		ins.Registers = []uint32{a4, b4}
		ins.Index = uint32(u[1])
	case Format30t:
		ins.Target = int32(u32(u[1], u[2]))
	case Format32x:
		ins.Registers = []uint32{uint32(u[1]), uint32(u[2])}
	case Format31i:
		ins.Registers = []uint32{a8}
		ins.Literal = int64(int32(u32(u[1], u[2])))
	case Format31t:
		ins.Registers = []uint32{a8}
		ins.Target = int32(u32(u[1], u[2]))
	case Format31c:
		ins.Registers = []uint32{a8}
		ins.Index = u32(u[1], u[2])
	case Format35c, Format35ms, Format35mi, Format45cc:
		if b4 > 5 {
			ins.Invalid = true
			return ins, &dex.MalformedContainerError{
				Reason: fmt.Sprintf("%s at code offset %#x passes %d registers", op.Name, pos, b4),
			}
		}
		all := [5]uint32{uint32(u[2] & 0xf), uint32(u[2]>>4) & 0xf, uint32(u[2]>>8) & 0xf, uint32(u[2] >> 12), a4}
		ins.Registers = append([]uint32(nil), all[:b4]...)
		ins.Index = uint32(u[1])
		if op.Format == Format45cc {
			ins.Index2 = uint32(u[3])
		}
	case Format3rc, Format3rms, Format3rmi, Format4rcc:
		ins.Registers = registerRange(uint32(u[2]), a8)
		ins.Index = uint32(u[1])
		if op.Format == Format4rcc {
			ins.Index2 = uint32(u[3])
		}
	case Format51l:
		ins.Registers = []uint32{a8}
		ins.Literal = int64(uint64(u32(u[1], u[2])) | uint64(u32(u[3], u[4]))<<32)
	case Format41c:
		ins.Index = u32(u[1], u[2])
		ins.Registers = []uint32{uint32(u[3])}
	case Format52c:
		ins.Index = u32(u[1], u[2])
		ins.Registers = []uint32{uint32(u[3]), uint32(u[4])}
	case Format5rc:
		ins.Index = u32(u[1], u[2])
		ins.Registers = registerRange(uint32(u[4]), uint32(u[3]))
	}

	if p, ok := d.patches[pos]; ok {
		if repl := d.table.Op(p.Op); repl != nil {
			ins.Original = op
			ins.Opcode = repl
			ins.Index = p.Index
			ins.Ref = p.Ref
		}
	}

	for _, r := range ins.Registers {
		if r >= uint32(d.code.Registers) {
			ins.Invalid = true
			return ins, &RegisterOutOfRangeError{Offset: pos, Opcode: ins.Opcode.Name, Register: r, Registers: d.code.Registers}
		}
	}
	if err := d.resolve(&ins); err != nil {
		ins.Invalid = true
		return ins, err
	}
	return ins, nil
}

func registerRange(first, count uint32) []uint32 {
	regs := make([]uint32, count)
	for i := range regs {
		regs[i] = first + uint32(i)
	}
	return regs
}

// Verification error kinds of throw-verification-error.
var verificationErrors = []string{
	"",
	"generic-error",
	"no-such-class",
	"no-such-field",
	"no-such-method",
	"illegal-class-access",
	"illegal-field-access",
	"illegal-method-access",
	"class-change-error",
	"instantiation-error",
}

// VerificationErrorName names the kind literal of throw-verification-error.
func VerificationErrorName(kind int64) string {
	if kind > 0 && int(kind) < len(verificationErrors) {
		return verificationErrors[kind]
	}
	return fmt.Sprintf("verification-error-%d", kind)
}

func (d *decoder) resolve(ins *Instruction) error {
	op := ins.Opcode
	ins.RefKind = op.Ref
	if op.Ref == RefVerificationError {
		// The reference type lives in the top two bits of AA.
		switch ins.Units[0] >> 14 {
		case 1:
			ins.RefKind = RefType
		case 2:
			ins.RefKind = RefField
		case 3:
			ins.RefKind = RefMethod
		default:
			ins.RefKind = RefNone
		}
	}
	if ins.Ref == "" {
		ref, err := d.ref(ins.RefKind, ins.Index, ins.Offset)
		if err != nil {
			return err
		}
		ins.Ref = ref
	}
	if op.Ref2 != RefNone {
		ref, err := d.ref(op.Ref2, ins.Index2, ins.Offset)
		if err != nil {
			return err
		}
		ins.Ref2 = ref
	}
	return nil
}

func (d *decoder) ref(kind RefKind, idx, pos uint32) (string, error) {
	c := d.c
	size := 0
	switch kind {
	case RefNone:
		return "", nil
	case RefFieldOffset:
		return fmt.Sprintf("field@%#x", idx), nil
	case RefVtableIndex:
		return fmt.Sprintf("vtable@%#x", idx), nil
	case RefInlineIndex:
		return fmt.Sprintf("inline@%#x", idx), nil
	case RefString:
		size = len(c.Strings)
	case RefType:
		size = len(c.Types)
	case RefField:
		size = len(c.Fields)
	case RefMethod:
		size = len(c.Methods)
	case RefProto:
		size = len(c.Protos)
	case RefCallSite:
		size = len(c.CallSites)
	case RefMethodHandle:
		size = len(c.MethodHandles)
	}
	if uint64(idx) >= uint64(size) {
		return "", &dex.DanglingReferenceError{Pool: kind.String(), Index: idx, Size: uint32(size),
			Owner: fmt.Sprintf("instruction at code offset %#x", pos)}
	}
	switch kind {
	case RefString:
		return c.String(idx), nil
	case RefType:
		return c.Type(idx), nil
	case RefField:
		return c.FieldString(idx), nil
	case RefMethod:
		return c.MethodString(idx), nil
	case RefProto:
		return c.ProtoString(idx), nil
	case RefCallSite:
		return fmt.Sprintf("call_site_%d", idx), nil
	default:
		return c.MethodHandleString(idx), nil
	}
}
