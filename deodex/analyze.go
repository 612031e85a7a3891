package deodex

import (
	"strings"

	"github.com/vsoch/gobaksmali/descriptor"
	"github.com/vsoch/gobaksmali/parsers/dalvik"
	"github.com/vsoch/gobaksmali/parsers/dex"
)

type typeKind uint8

const (
	kindUnknown typeKind = iota
	kindPrimitive
	kindNull
	kindRef
	kindConflict
	// kindUnset is a register no path has written yet
	kindUnset
)

// regType is what the analysis knows about a register. Only reference
// types carry a descriptor; the primitive types are not told apart since
// deodexing never needs them.
type regType struct {
	kind typeKind
	desc string
}

var (
	unknownType   = regType{}
	primitiveType = regType{kind: kindPrimitive}
	nullType      = regType{kind: kindNull}
	conflictType  = regType{kind: kindConflict}
	unsetType     = regType{kind: kindUnset}
)

func refType(desc string) regType {
	return regType{kind: kindRef, desc: desc}
}

// typeOf maps a descriptor to a register type. Void is unknown.
func typeOf(desc string) regType {
	switch {
	case desc == "" || desc == "V":
		return unknownType
	case descriptor.IsReference(desc):
		return refType(desc)
	}
	return primitiveType
}

func (ix *ClasspathIndex) join(a, b regType) regType {
	switch {
	case a == b:
		return a
	case a.kind == kindUnset:
		return b
	case b.kind == kindUnset:
		return a
	case a.kind == kindUnknown:
		return b
	case b.kind == kindUnknown:
		return a
	case a.kind == kindConflict || b.kind == kindConflict:
		return conflictType
	case a.kind == kindNull:
		// a zero constant is also a valid int
		return b
	case b.kind == kindNull:
		return a
	case a.kind == kindRef && b.kind == kindRef:
		return refType(ix.CommonSuperclass(a.desc, b.desc))
	}
	return conflictType
}

// frame holds one type per register plus, in the last slot, the pending
// result of an invoke or filled-new-array.
type frame []regType

func (f frame) clone() frame {
	return append(frame(nil), f...)
}

func (f frame) result() int {
	return len(f) - 1
}

func (f frame) set(reg uint32, t regType, wide bool) {
	if int(reg) >= f.result() {
		return
	}
	f[reg] = t
	if wide && int(reg)+1 < f.result() {
		f[reg+1] = primitiveType
	}
}

// analyzer runs a forward dataflow over one method to learn the static
// type of every register before every instruction.
type analyzer struct {
	d     *Deodexer
	class string
	code  *dex.CodeItem
	insns []dalvik.Instruction
	index map[uint32]int

	in        []frame
	exception map[uint32]regType
	resolved  map[uint32]resolution
}

func newAnalyzer(d *Deodexer, class string, code *dex.CodeItem, insns []dalvik.Instruction) *analyzer {
	a := &analyzer{
		d:         d,
		class:     class,
		code:      code,
		insns:     insns,
		index:     map[uint32]int{},
		in:        make([]frame, len(insns)),
		exception: map[uint32]regType{},
		resolved:  map[uint32]resolution{},
	}
	for i := range insns {
		a.index[insns[i].Offset] = i
	}
	for _, try := range code.Tries {
		for _, catch := range try.Handler.Catches {
			a.addException(catch.Addr, refType(d.c.Type(catch.Type)))
		}
		if try.Handler.HasCatchAll {
			a.addException(try.Handler.CatchAll, refType(descriptor.Throwable))
		}
	}
	return a
}

func (a *analyzer) addException(addr uint32, t regType) {
	a.exception[addr] = a.d.index.join(a.exception[addr], t)
}

// entry types the parameter registers, the receiver first for instance
// methods.
func (a *analyzer) entry(static bool, params []string) frame {
	f := make(frame, int(a.code.Registers)+1)
	for r := 0; r < f.result(); r++ {
		f[r] = unsetType
	}
	reg := uint32(a.code.Registers) - uint32(a.code.Ins)
	if !static {
		f.set(reg, refType(a.class), false)
		reg++
	}
	for _, p := range params {
		f.set(reg, typeOf(p), descriptor.IsWide(p))
		reg += uint32(descriptor.Words(p))
	}
	return f
}

func (a *analyzer) run(start frame) {
	if len(a.insns) == 0 {
		return
	}
	a.in[0] = start
	work := []int{0}
	queued := map[int]bool{0: true}
	for len(work) > 0 {
		i := work[0]
		work = work[1:]
		queued[i] = false

		ins := &a.insns[i]
		in := a.in[i]
		out := a.transfer(ins, in)
		for _, succ := range a.successors(ins) {
			if a.merge(succ.index, succ.state(in, out)) && !queued[succ.index] {
				queued[succ.index] = true
				work = append(work, succ.index)
			}
		}
	}
}

type successor struct {
	index int
	// handler edges see the registers as they were before the throwing
	// instruction ran
	handler bool
}

func (s successor) state(in, out frame) frame {
	if s.handler {
		f := in.clone()
		f[f.result()] = unknownType
		return f
	}
	return out
}

func (a *analyzer) merge(i int, f frame) bool {
	if a.in[i] == nil {
		a.in[i] = f.clone()
		return true
	}
	changed := false
	cur := a.in[i]
	for r := range cur {
		if t := a.d.index.join(cur[r], f[r]); t != cur[r] {
			cur[r] = t
			changed = true
		}
	}
	return changed
}

func (a *analyzer) successors(ins *dalvik.Instruction) []successor {
	var out []successor
	add := func(addr uint32, handler bool) {
		if i, ok := a.index[addr]; ok {
			out = append(out, successor{index: i, handler: handler})
		}
	}
	op := ins.Opcode
	if ins.Invalid || op == nil || op.Format.IsPayload() {
		return nil
	}
	if op.Has(dalvik.CanContinue) {
		add(ins.Offset+ins.Size, false)
	}
	switch {
	case op.Has(dalvik.Switch):
		if i, ok := a.index[ins.TargetAddr()]; ok && a.insns[i].Payload != nil {
			for _, t := range a.insns[i].Payload.Targets {
				add(uint32(int64(ins.Offset)+int64(t)), false)
			}
		}
	case op.Has(dalvik.Branch) && op.Format != dalvik.Format31t:
		// 31t with a branch flag is fill-array-data, whose target is data
		add(ins.TargetAddr(), false)
	}
	if op.Has(dalvik.CanThrow) {
		for _, try := range a.code.Tries {
			if ins.Offset < try.Start || ins.Offset >= try.End() {
				continue
			}
			for _, c := range try.Handler.Catches {
				add(c.Addr, true)
			}
			if try.Handler.HasCatchAll {
				add(try.Handler.CatchAll, true)
			}
		}
	}
	return out
}

func (a *analyzer) transfer(ins *dalvik.Instruction, in frame) frame {
	out := in.clone()
	op := ins.Opcode
	if ins.Invalid || op == nil {
		return out
	}
	if op.IsOdex() {
		a.resolved[ins.Offset] = a.d.resolve(a.class, ins, in)
	}
	if op.Has(dalvik.SetsResult) {
		out[out.result()] = a.resultType(ins)
	}
	if op.Has(dalvik.SetsRegister) && len(ins.Registers) > 0 {
		out.set(ins.Registers[0], a.destType(ins, in), op.Has(dalvik.SetsWideRegister))
	}
	return out
}

func (a *analyzer) resultType(ins *dalvik.Instruction) regType {
	op := ins.Opcode
	switch op.Ref {
	case dalvik.RefType:
		return typeOf(ins.Ref)
	case dalvik.RefMethod:
		if op.Ref2 == dalvik.RefProto {
			return typeOf(descriptor.ReturnType(ins.Ref2))
		}
		return typeOf(descriptor.ReturnType(ins.Ref))
	case dalvik.RefVtableIndex, dalvik.RefInlineIndex:
		if r := a.resolved[ins.Offset]; r.ok {
			return typeOf(descriptor.ReturnType(r.member.Type))
		}
	}
	return unknownType
}

func (a *analyzer) destType(ins *dalvik.Instruction, in frame) regType {
	op := ins.Opcode
	name := op.Name
	switch {
	case strings.HasPrefix(name, "move-object"):
		return in[ins.Registers[1]]
	case name == "move-result-object":
		return in[in.result()]
	case name == "move-exception":
		if t, ok := a.exception[ins.Offset]; ok {
			return t
		}
		return refType(descriptor.Throwable)
	case name == "const/4" || name == "const/16" || name == "const" || name == "const/high16":
		if ins.Literal == 0 {
			return nullType
		}
		return primitiveType
	case name == "aget-object":
		arr := in[ins.Registers[1]]
		if arr.kind == kindRef && descriptor.IsArray(arr.desc) {
			return typeOf(descriptor.ElementType(arr.desc))
		}
		return unknownType
	case strings.HasPrefix(name, "instance-of"):
		return primitiveType
	case strings.HasPrefix(name, "const-class"):
		return refType(descriptor.Class)
	}
	switch op.Ref {
	case dalvik.RefString:
		return refType(descriptor.String)
	case dalvik.RefType:
		return typeOf(ins.Ref)
	case dalvik.RefField:
		if f, ok := descriptor.ParseField(ins.Ref); ok {
			return typeOf(f.Type)
		}
		return unknownType
	case dalvik.RefFieldOffset:
		if r := a.resolved[ins.Offset]; r.ok {
			return typeOf(r.member.Type)
		}
		if name == "iget-object-quick" {
			return unknownType
		}
	case dalvik.RefMethodHandle:
		return refType("Ljava/lang/invoke/MethodHandle;")
	case dalvik.RefProto:
		return refType("Ljava/lang/invoke/MethodType;")
	}
	return primitiveType
}
