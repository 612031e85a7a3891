package smali

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/apex/log"

	"github.com/vsoch/gobaksmali/deodex"
	"github.com/vsoch/gobaksmali/descriptor"
	"github.com/vsoch/gobaksmali/diag"
	"github.com/vsoch/gobaksmali/parsers/dalvik"
	"github.com/vsoch/gobaksmali/parsers/dex"
)

func (e *Emitter) method(b *bytes.Buffer, cl *dex.ClassDef, m *dex.EncodedMethod, st *Stats) error {
	c := e.c
	ref := c.Methods[m.Method]
	st.Methods++
	name := c.String(ref.Name) + c.ProtoString(ref.Proto)
	fmt.Fprintf(b, ".method %s\n", join(descriptor.AccessString(m.AccessFlags, descriptor.ForMethod), name))

	if code := m.Code; code != nil {
		if e.opts.UseLocals {
			fmt.Fprintf(b, "    .locals %d\n", code.Registers-code.Ins)
		} else {
			fmt.Fprintf(b, "    .registers %d\n", code.Registers)
		}
	}
	e.parameters(b, cl, m)
	if set := methodAnnotations(cl, m.Method); len(set) > 0 {
		e.annotations(b, set, "    ")
	}
	if m.Code != nil {
		if err := e.code(b, cl, m, st); err != nil {
			return err
		}
	}
	b.WriteString(".end method\n")
	return nil
}

// parameters writes a .parameter directive per declared parameter when
// any of them has a debug name or annotations.
func (e *Emitter) parameters(b *bytes.Buffer, cl *dex.ClassDef, m *dex.EncodedMethod) {
	c := e.c
	params := c.Protos[c.Methods[m.Method].Proto].Params
	var names []uint32
	if !e.opts.NoDebugInfo && m.Code != nil && m.Code.Debug != nil {
		names = m.Code.Debug.ParameterNames
	}
	annos := parameterAnnotations(cl, m.Method)
	if len(names) == 0 && len(annos) == 0 {
		return
	}
	for i := range params {
		b.WriteString("    .parameter")
		if i < len(names) && names[i] != dex.NoIndex {
			fmt.Fprintf(b, " %s", quote(c.String(names[i])))
		}
		b.WriteByte('\n')
		if i < len(annos) && len(annos[i]) > 0 {
			e.annotations(b, annos[i], "        ")
			b.WriteString("    .end parameter\n")
		}
	}
}

// methodWriter holds the per method state of the code listing.
type methodWriter struct {
	e    *Emitter
	code *dex.CodeItem
	st   *Stats
	// params is the first parameter register
	params uint32

	insns      []dalvik.Instruction
	errs       map[uint32]error
	unresolved map[uint32]*deodex.UnresolvedQuickRefError
	rejected   map[uint32]*deodex.VerificationError
	labels     *labelSet
	tryLast    []int64
	locals     map[uint32]string
}

func (e *Emitter) code(b *bytes.Buffer, cl *dex.ClassDef, m *dex.EncodedMethod, st *Stats) error {
	c := e.c
	fields := log.Fields{"class": c.ClassName(cl), "method": c.MethodString(m.Method)}
	w := &methodWriter{
		e:          e,
		code:       m.Code,
		st:         st,
		params:     uint32(m.Code.Registers - m.Code.Ins),
		errs:       map[uint32]error{},
		unresolved: map[uint32]*deodex.UnresolvedQuickRefError{},
		rejected:   map[uint32]*deodex.VerificationError{},
		locals:     map[uint32]string{},
	}

	var patches dalvik.Patches
	if d := e.opts.Deodexer; d != nil {
		var errs []error
		patches, errs = d.Method(cl, m)
		for _, err := range errs {
			if d.FailOnUnresolved() {
				return err
			}
			var uerr *deodex.UnresolvedQuickRefError
			if errors.As(err, &uerr) {
				w.unresolved[uerr.Offset] = uerr
			}
			st.Unresolved++
			e.sink.Record(diag.UnresolvedQuickRef, err, fields)
		}
	}

	for ins, err := range dalvik.Decode(m.Code, e.opts.Table, c, patches) {
		if err != nil {
			w.errs[ins.Offset] = err
			e.sink.Record(kindOf(err), err, log.Fields{
				"class":  fields["class"],
				"method": fields["method"],
				"offset": ins.Offset,
			})
		}
		w.insns = append(w.insns, ins)
	}
	st.Instructions += len(w.insns)
	if v := e.opts.Verifier; v != nil {
		for _, err := range v.Method(cl, m, w.insns) {
			var verr *deodex.VerificationError
			if errors.As(err, &verr) {
				w.rejected[verr.Offset] = verr
			}
			st.Rejected++
			e.sink.Record(diag.Verification, err, fields)
		}
	}
	w.labels, w.tryLast = collectLabels(w.insns, m.Code.Tries, e.opts.SequentialLabels)
	w.write(b)
	return nil
}

func kindOf(err error) diag.Kind {
	var unknown *dalvik.UnknownOpcodeError
	var regs *dalvik.RegisterOutOfRangeError
	var dangling *dex.DanglingReferenceError
	switch {
	case errors.As(err, &unknown):
		return diag.UnknownOpcode
	case errors.As(err, &regs):
		return diag.RegisterOutOfRange
	case errors.As(err, &dangling):
		return diag.DanglingReference
	}
	return diag.InvalidInstruction
}

// write lists the instructions. Each instruction is preceded by a blank
// line, the debug directives and labels at its address, then any comments.
func (w *methodWriter) write(b *bytes.Buffer) {
	var events []dex.DebugEvent
	if !w.e.opts.NoDebugInfo && w.code.Debug != nil {
		events = w.code.Debug.Events
	}
	labels := w.labels.labels
	ei, li := 0, 0
	for i := range w.insns {
		ins := &w.insns[i]
		b.WriteByte('\n')
		for ; ei < len(events) && events[ei].Addr <= ins.Offset; ei++ {
			w.debug(b, events[ei])
		}
		for ; li < len(labels) && labels[li].addr <= ins.Offset; li++ {
			w.label(b, labels[li])
		}
		if w.e.opts.CodeOffsets {
			fmt.Fprintf(b, "    #@%x\n", ins.Offset)
		}
		w.instruction(b, ins)
		w.tryEnd(b, ins)
	}
	for ; ei < len(events); ei++ {
		w.debug(b, events[ei])
	}
	for ; li < len(labels); li++ {
		w.label(b, labels[li])
	}
}

func (w *methodWriter) label(b *bytes.Buffer, k labelKey) {
	// try_end follows the last covered instruction
	if k.kind == labelTryEnd {
		return
	}
	fmt.Fprintf(b, "    %s\n", w.labels.name(k.kind, k.addr))
}

func (w *methodWriter) tryEnd(b *bytes.Buffer, ins *dalvik.Instruction) {
	c := w.e.c
	for i, try := range w.code.Tries {
		if w.tryLast[i] != int64(ins.Offset) {
			continue
		}
		start := w.labels.name(labelTryStart, try.Start)
		end := w.labels.name(labelTryEnd, try.End())
		fmt.Fprintf(b, "    %s\n", end)
		for _, h := range try.Handler.Catches {
			fmt.Fprintf(b, "    .catch %s {%s .. %s} %s\n", c.Type(h.Type), start, end, w.labels.name(labelCatch, h.Addr))
		}
		if try.Handler.HasCatchAll {
			fmt.Fprintf(b, "    .catchall {%s .. %s} %s\n", start, end, w.labels.name(labelCatchAll, try.Handler.CatchAll))
		}
	}
}

func (w *methodWriter) debug(b *bytes.Buffer, ev dex.DebugEvent) {
	c := w.e.c
	switch ev.Kind {
	case dex.DebugLine:
		fmt.Fprintf(b, "    .line %d\n", ev.Line)
	case dex.DebugStartLocal:
		reg, ok := w.debugReg(ev.Register)
		if !ok {
			return
		}
		name, typ := "null", "null"
		if ev.Name != dex.NoIndex {
			name = c.String(ev.Name)
		}
		if ev.Type != dex.NoIndex {
			typ = c.Type(ev.Type)
		}
		local := name + ":" + typ
		if ev.Signature != dex.NoIndex {
			local += ", " + quote(c.String(ev.Signature))
		}
		w.locals[ev.Register] = local
		fmt.Fprintf(b, "    .local %s, %s\n", reg, local)
	case dex.DebugEndLocal, dex.DebugRestartLocal:
		reg, ok := w.debugReg(ev.Register)
		if !ok {
			return
		}
		directive := ".end local"
		if ev.Kind == dex.DebugRestartLocal {
			directive = ".restart local"
		}
		if local, ok := w.locals[ev.Register]; ok {
			fmt.Fprintf(b, "    %s %s    # %s\n", directive, reg, local)
		} else {
			fmt.Fprintf(b, "    %s %s\n", directive, reg)
		}
	case dex.DebugPrologueEnd:
		b.WriteString("    .prologue\n")
	case dex.DebugEpilogueBegin:
		b.WriteString("    .epilogue\n")
	case dex.DebugSetFile:
		if ev.Name != dex.NoIndex {
			fmt.Fprintf(b, "    .source %s\n", quote(c.String(ev.Name)))
		}
	}
}

// placeholder stands in for an instruction that could not be decoded; the
// raw code units are kept so nothing is silently lost.
func (w *methodWriter) placeholder(b *bytes.Buffer, ins *dalvik.Instruction, err error) {
	w.st.Placeholders++
	msg := "undecodable instruction"
	if err != nil {
		msg = err.Error()
	}
	units := make([]string, len(ins.Units))
	for i, u := range ins.Units {
		units[i] = fmt.Sprintf("%04x", u)
	}
	fmt.Fprintf(b, "    # invalid instruction: %s\n", msg)
	fmt.Fprintf(b, "    # raw units: %s\n", strings.Join(units, " "))
}
