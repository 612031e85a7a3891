package deodex

import (
	"fmt"
	"strings"

	"github.com/vsoch/gobaksmali/descriptor"
	"github.com/vsoch/gobaksmali/parsers/dalvik"
	"github.com/vsoch/gobaksmali/parsers/dex"
)

// VerificationError is an instruction whose register use does not agree
// with the types the dataflow pass found for it.
type VerificationError struct {
	Class  string
	Method string
	Offset uint32
	Opcode string
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s at code offset %#x in %s: %s", e.Opcode, e.Offset, e.Method, e.Reason)
}

// Verifier checks the register use of every method of one container. It
// runs the same analysis as the deodexer, so it is safe for concurrent use
// as well.
type Verifier struct {
	d *Deodexer
}

// NewVerifier prepares a verifier for c. index should have c layered on
// top; classes missing from it only make the merged types less precise.
func NewVerifier(c *dex.Container, index *ClasspathIndex, table *dalvik.Table) *Verifier {
	return &Verifier{d: New(c, index, table, nil, Options{})}
}

// Method verifies the decoded instructions of m. insns may carry deodex
// patches. At most one error is returned per instruction; instructions
// that are invalid or never reached are not checked.
func (v *Verifier) Method(cl *dex.ClassDef, m *dex.EncodedMethod, insns []dalvik.Instruction) []error {
	if m == nil || m.Code == nil || len(insns) == 0 {
		return nil
	}
	c := v.d.c
	class := c.ClassName(cl)
	params, _ := descriptor.SplitProto(c.ProtoString(c.Methods[m.Method].Proto))
	a := newAnalyzer(v.d, class, m.Code, insns)
	a.run(a.entry(m.AccessFlags&descriptor.AccStatic != 0, params))

	var errs []error
	for i := range insns {
		ins := &insns[i]
		in := a.in[i]
		if in == nil || ins.Invalid || ins.Opcode == nil || ins.Opcode.Format.IsPayload() {
			continue
		}
		if reason := verifyInstruction(ins, in); reason != "" {
			errs = append(errs, &VerificationError{
				Class:  class,
				Method: c.MethodString(m.Method),
				Offset: ins.Offset,
				Opcode: ins.Opcode.Name,
				Reason: reason,
			})
		}
	}
	return errs
}

// verifyInstruction returns why ins cannot run on the register types in,
// or "" when it can.
func verifyInstruction(ins *dalvik.Instruction, in frame) string {
	for _, r := range reads(ins) {
		if int(r) >= in.result() {
			continue
		}
		switch in[r].kind {
		case kindUnset:
			return fmt.Sprintf("v%d is read before it is written", r)
		case kindConflict:
			return fmt.Sprintf("v%d holds conflicting types", r)
		}
	}
	for _, r := range objectOperands(ins) {
		if int(r) < in.result() && in[r].kind == kindPrimitive {
			return fmt.Sprintf("v%d holds a primitive where an object is required", r)
		}
	}
	return ""
}

// reads lists the registers ins reads. The first register of an
// instruction that sets one is only written, except for the /2addr forms
// and check-cast.
func reads(ins *dalvik.Instruction) []uint32 {
	regs := ins.Registers
	op := ins.Opcode
	if len(regs) == 0 || !op.Has(dalvik.SetsRegister) {
		return regs
	}
	if strings.HasSuffix(op.Name, "/2addr") || strings.HasPrefix(op.Name, "check-cast") {
		return regs
	}
	return regs[1:]
}

// objectOperands lists the registers ins needs to hold a reference (or
// null).
func objectOperands(ins *dalvik.Instruction) []uint32 {
	regs := ins.Registers
	name := ins.Opcode.Name
	first := func() []uint32 {
		if len(regs) > 0 {
			return regs[:1]
		}
		return nil
	}
	second := func() []uint32 {
		if len(regs) > 1 {
			return regs[1:2]
		}
		return nil
	}
	switch {
	case strings.HasPrefix(name, "invoke-virtual"), strings.HasPrefix(name, "invoke-super"),
		strings.HasPrefix(name, "invoke-direct"), strings.HasPrefix(name, "invoke-interface"),
		strings.HasPrefix(name, "invoke-polymorphic"), strings.HasPrefix(name, "invoke-object-init"):
		return first()
	case strings.HasPrefix(name, "iput-object"), strings.HasPrefix(name, "aput-object"):
		return append(append([]uint32(nil), first()...), second()...)
	case strings.HasPrefix(name, "iget"), strings.HasPrefix(name, "iput"),
		strings.HasPrefix(name, "aget"), strings.HasPrefix(name, "aput"),
		name == "array-length", strings.HasPrefix(name, "instance-of"):
		return second()
	case strings.HasPrefix(name, "sput-object"), name == "return-object",
		name == "monitor-enter", name == "monitor-exit", name == "throw",
		strings.HasPrefix(name, "check-cast"), name == "fill-array-data":
		return first()
	}
	return nil
}
