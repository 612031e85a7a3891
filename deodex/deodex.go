// Package deodex recovers the portable instructions behind the optimized
// opcodes of an odex file. Quickened field accesses name a byte offset and
// quickened invokes a vtable slot or inline table entry; both are mapped
// back to symbolic references using the class layouts of the boot
// classpath the odex was optimized against and the static register types
// found by a dataflow pass over each method.
package deodex

import (
	"fmt"
	"sync"

	"github.com/vsoch/gobaksmali/descriptor"
	"github.com/vsoch/gobaksmali/parsers/dalvik"
	"github.com/vsoch/gobaksmali/parsers/dex"
)

// Options control the deodexer
type Options struct {
	// FailOnUnresolved makes Method stop at the first instruction it
	// cannot deodex and return no patches.
	FailOnUnresolved bool
}

// Deodexer computes patches for the methods of one optimized container.
// It is safe for concurrent use.
type Deodexer struct {
	c      *dex.Container
	index  *ClasspathIndex
	table  *dalvik.Table
	inline *InlineTable
	opts   Options

	poolsOnce sync.Once
	fieldIdx  map[string]uint32
	methodIdx map[string]uint32
}

// New prepares a deodexer for c. index should already have c layered on
// top (see ClasspathIndex.Layer); a nil inline table picks the built-in
// one for the odex version.
func New(c *dex.Container, index *ClasspathIndex, table *dalvik.Table, inline *InlineTable, opts Options) *Deodexer {
	if inline == nil {
		version := 0
		if c.Odex != nil {
			version = c.Odex.Version()
		}
		inline = DefaultInlineTable(version, table.Level)
	}
	return &Deodexer{c: c, index: index, table: table, inline: inline, opts: opts}
}

// FailOnUnresolved reports whether an unresolved instruction should stop
// the run.
func (d *Deodexer) FailOnUnresolved() bool {
	return d.opts.FailOnUnresolved
}

// resolution is the outcome of looking at one optimized instruction.
type resolution struct {
	ok     bool
	patch  dalvik.Patch
	member Member
	reason string
}

func unresolved(format string, a ...interface{}) resolution {
	return resolution{reason: fmt.Sprintf(format, a...)}
}

// Method returns the patches that turn every optimized instruction of m
// into its canonical form, and an *UnresolvedQuickRefError for each one it
// could not. Canonical instructions get no patch, so running the result
// through the decoder and deodexing again yields nothing new. Containers
// that are not optimized are never deodexed.
func (d *Deodexer) Method(cl *dex.ClassDef, m *dex.EncodedMethod) (dalvik.Patches, []error) {
	if !d.c.IsOptimized || m == nil || m.Code == nil {
		return nil, nil
	}
	insns, _ := dalvik.DecodeAll(m.Code, d.table, d.c, nil)
	optimized := false
	for i := range insns {
		if op := insns[i].Opcode; op != nil && op.IsOdex() {
			optimized = true
			break
		}
	}
	if !optimized {
		return nil, nil
	}

	class := d.c.ClassName(cl)
	ref := d.c.Methods[m.Method]
	params, _ := descriptor.SplitProto(d.c.ProtoString(ref.Proto))
	a := newAnalyzer(d, class, m.Code, insns)
	a.run(a.entry(m.AccessFlags&descriptor.AccStatic != 0, params))

	patches := dalvik.Patches{}
	var errs []error
	for i := range insns {
		ins := &insns[i]
		if ins.Invalid || ins.Opcode == nil || !ins.Opcode.IsOdex() {
			continue
		}
		r, visited := a.resolved[ins.Offset]
		if !visited {
			r = d.resolve(class, ins, nil)
		}
		if r.ok {
			if r.patch.Op != ins.Opcode.Value {
				patches[ins.Offset] = r.patch
			}
			continue
		}
		if r.reason == "" {
			// left as is, e.g. throw-verification-error
			continue
		}
		err := &UnresolvedQuickRefError{
			Class:  class,
			Method: d.c.MethodString(m.Method),
			Offset: ins.Offset,
			Opcode: ins.Opcode.Name,
			Reason: r.reason,
		}
		if d.opts.FailOnUnresolved {
			return nil, []error{err}
		}
		errs = append(errs, err)
	}
	if len(patches) == 0 {
		patches = nil
	}
	return patches, errs
}

// resolve works out the canonical form of one optimized instruction given
// the register types before it. in is nil when the instruction is never
// reached; only the instructions that need no types resolve then.
func (d *Deodexer) resolve(class string, ins *dalvik.Instruction, in frame) resolution {
	op := ins.Opcode
	switch op.Ref {
	case dalvik.RefVerificationError:
		return resolution{}
	case dalvik.RefNone, dalvik.RefMethod:
		// return-void-barrier, invoke-direct-empty, invoke-object-init
		return resolution{ok: true, patch: dalvik.Patch{Op: op.Canonical, Index: ins.Index}}
	case dalvik.RefField:
		// volatile accesses keep their field reference
		typ := ""
		if f, ok := descriptor.ParseField(ins.Ref); ok {
			typ = f.Type
		}
		return resolution{ok: true, patch: dalvik.Patch{Op: typedFieldOp(op.Canonical, typ), Index: ins.Index}}
	case dalvik.RefFieldOffset:
		if in == nil {
			return unresolved("unreachable code")
		}
		return d.quickField(ins, in)
	case dalvik.RefVtableIndex:
		if op.Canonical == opInvokeSuper || op.Canonical == opInvokeSuperRange {
			return d.superMethod(class, ins)
		}
		if in == nil {
			return unresolved("unreachable code")
		}
		return d.virtualMethod(ins, in)
	case dalvik.RefInlineIndex:
		return d.inlineMethod(ins)
	}
	return unresolved("no canonical form for %s", op.Name)
}

// Canonical opcodes the deodexer produces.
const (
	opIget               dalvik.Op = 0x52
	opIput               dalvik.Op = 0x59
	opSget               dalvik.Op = 0x60
	opSput               dalvik.Op = 0x67
	opInvokeVirtual      dalvik.Op = 0x6e
	opInvokeSuper        dalvik.Op = 0x6f
	opInvokeDirect       dalvik.Op = 0x70
	opInvokeStatic       dalvik.Op = 0x71
	opInvokeVirtualRange dalvik.Op = 0x74
	opInvokeSuperRange   dalvik.Op = 0x75
	opInvokeDirectRange  dalvik.Op = 0x76
	opInvokeStaticRange  dalvik.Op = 0x77
)

// typedFieldOp picks the -boolean, -byte, -char or -short variant of a
// 32-bit field access from the field type.
func typedFieldOp(op dalvik.Op, typ string) dalvik.Op {
	switch op {
	case opIget, opIput, opSget, opSput:
	default:
		return op
	}
	switch typ {
	case "Z":
		return op + 3
	case "B":
		return op + 4
	case "C":
		return op + 5
	case "S":
		return op + 6
	}
	return op
}

// receiver returns the class whose layout applies to the object held in
// reg.
func (d *Deodexer) receiver(reg uint32, in frame) (*ClassInfo, string) {
	if int(reg) >= in.result() {
		return nil, fmt.Sprintf("register v%d out of range", reg)
	}
	t := in[reg]
	switch t.kind {
	case kindUnknown:
		return nil, fmt.Sprintf("register v%d has no known type", reg)
	case kindUnset:
		return nil, fmt.Sprintf("register v%d is never written", reg)
	case kindNull:
		return nil, fmt.Sprintf("register v%d is always null", reg)
	case kindPrimitive:
		return nil, fmt.Sprintf("register v%d holds a primitive", reg)
	case kindConflict:
		return nil, fmt.Sprintf("register v%d has conflicting types", reg)
	}
	ci := d.index.Class(t.desc)
	if ci == nil {
		return nil, fmt.Sprintf("class %s is not on the classpath", t.desc)
	}
	if !ci.Resolved {
		return nil, fmt.Sprintf("class %s has unresolved ancestors", ci.Descriptor)
	}
	return ci, ""
}

func (d *Deodexer) quickField(ins *dalvik.Instruction, in frame) resolution {
	ci, why := d.receiver(ins.Registers[1], in)
	if ci == nil {
		return unresolved("%s", why)
	}
	f, ok := ci.Fields[ins.Index]
	if !ok {
		return unresolved("no field at offset %#x in %s", ins.Index, ci.Descriptor)
	}
	patch := dalvik.Patch{Op: typedFieldOp(ins.Opcode.Canonical, f.Type)}
	d.fieldRef(f, &patch)
	return resolution{ok: true, patch: patch, member: f}
}

func (d *Deodexer) vtableMethod(ins *dalvik.Instruction, ci *ClassInfo) resolution {
	if uint64(ins.Index) >= uint64(len(ci.Vtable)) {
		return unresolved("vtable index %d out of range for %s (%d entries)", ins.Index, ci.Descriptor, len(ci.Vtable))
	}
	m := ci.Vtable[ins.Index]
	patch := dalvik.Patch{Op: ins.Opcode.Canonical}
	d.methodRef(m, &patch)
	return resolution{ok: true, patch: patch, member: m}
}

func (d *Deodexer) virtualMethod(ins *dalvik.Instruction, in frame) resolution {
	if len(ins.Registers) == 0 {
		return unresolved("no receiver register")
	}
	ci, why := d.receiver(ins.Registers[0], in)
	if ci == nil {
		return unresolved("%s", why)
	}
	if ci.IsInterface {
		if ci = d.index.Class(descriptor.Object); ci == nil {
			return unresolved("class %s is not on the classpath", descriptor.Object)
		}
	}
	return d.vtableMethod(ins, ci)
}

func (d *Deodexer) superMethod(class string, ins *dalvik.Instruction) resolution {
	ci := d.index.Class(class)
	if ci == nil {
		return unresolved("class %s is not on the classpath", class)
	}
	super := d.index.Class(ci.Super)
	if super == nil || !super.Resolved {
		return unresolved("superclass %s of %s is not resolvable", ci.Super, class)
	}
	return d.vtableMethod(ins, super)
}

func (d *Deodexer) inlineMethod(ins *dalvik.Instruction) resolution {
	entry, ok := d.inline.Lookup(ins.Index)
	if !ok {
		return unresolved("inline index %d out of range", ins.Index)
	}
	kind := entry.Kind
	m := Member{Class: entry.Method.Class, Name: entry.Method.Name, Type: entry.Method.Proto()}
	if kind == InlineUnknown {
		ci := d.index.Class(m.Class)
		if ci == nil {
			return unresolved("class %s of inline method %s is not on the classpath", m.Class, entry.Method)
		}
		found, ok := ci.Method(m.Name, m.Type)
		if !ok {
			return unresolved("inline method %s not found", entry.Method)
		}
		switch {
		case found.Access&descriptor.AccStatic != 0:
			kind = InlineStatic
		case found.Access&(descriptor.AccPrivate|descriptor.AccConstructor) != 0:
			kind = InlineDirect
		default:
			kind = InlineVirtual
		}
	}
	ranged := ins.Opcode.Format == dalvik.Format3rmi
	var op dalvik.Op
	switch kind {
	case InlineStatic:
		op = pick(ranged, opInvokeStaticRange, opInvokeStatic)
	case InlineDirect:
		op = pick(ranged, opInvokeDirectRange, opInvokeDirect)
	default:
		op = pick(ranged, opInvokeVirtualRange, opInvokeVirtual)
	}
	patch := dalvik.Patch{Op: op}
	d.methodRef(m, &patch)
	return resolution{ok: true, patch: patch, member: m}
}

func pick(cond bool, a, b dalvik.Op) dalvik.Op {
	if cond {
		return a
	}
	return b
}

func (d *Deodexer) pools() {
	d.poolsOnce.Do(func() {
		d.fieldIdx = make(map[string]uint32, len(d.c.Fields))
		for i := range d.c.Fields {
			d.fieldIdx[d.c.FieldString(uint32(i))] = uint32(i)
		}
		d.methodIdx = make(map[string]uint32, len(d.c.Methods))
		for i := range d.c.Methods {
			d.methodIdx[d.c.MethodString(uint32(i))] = uint32(i)
		}
	})
}

// fieldRef points the patch at the pool entry for f, or carries the
// rendered reference when the container has none.
func (d *Deodexer) fieldRef(f Member, patch *dalvik.Patch) {
	d.pools()
	ref := f.FieldString()
	if idx, ok := d.fieldIdx[ref]; ok {
		patch.Index = idx
		return
	}
	patch.Ref = ref
}

func (d *Deodexer) methodRef(m Member, patch *dalvik.Patch) {
	d.pools()
	ref := m.MethodString()
	if idx, ok := d.methodIdx[ref]; ok {
		patch.Index = idx
		return
	}
	patch.Ref = ref
}
