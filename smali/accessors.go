package smali

import (
	"strings"

	"github.com/vsoch/gobaksmali/descriptor"
	"github.com/vsoch/gobaksmali/parsers/dalvik"
)

// The compiler reaches private members of an enclosing or nested class
// through static synthetic methods named access$NNN. A call to one is
// annotated with what the accessor does, e.g.
//
//	#getter for: Lcom/example/Outer;->count:I
//	invoke-static {p0}, Lcom/example/Outer;->access$000(Lcom/example/Outer;)I

const accessorPrefix = "access$"

// accessorComment returns the comment for a call to a synthetic accessor
// defined in the container, or "".
func (e *Emitter) accessorComment(ins *dalvik.Instruction) string {
	if e.opts.NoAccessorComments || ins.Original != nil {
		return ""
	}
	if name := ins.Opcode.Name; name != "invoke-static" && name != "invoke-static/range" {
		return ""
	}
	if v, ok := e.accessors.Load(ins.Index); ok {
		return v.(string)
	}
	text := e.accessor(ins.Index)
	e.accessors.Store(ins.Index, text)
	return text
}

func (e *Emitter) accessor(idx uint32) string {
	c := e.c
	if int(idx) >= len(c.Methods) || !strings.HasPrefix(c.String(c.Methods[idx].Name), accessorPrefix) {
		return ""
	}
	_, m := c.FindMethod(idx)
	const want = descriptor.AccStatic | descriptor.AccSynthetic
	if m == nil || m.Code == nil || m.AccessFlags&want != want {
		return ""
	}
	insns, errs := dalvik.DecodeAll(m.Code, e.opts.Table, c, nil)
	if len(errs) > 0 {
		return ""
	}

	var get, put, call string
	for i := range insns {
		op := insns[i].Opcode
		switch {
		case op.Ref == dalvik.RefField && (strings.HasPrefix(op.Name, "iget") || strings.HasPrefix(op.Name, "sget")):
			get = insns[i].Ref
		case op.Ref == dalvik.RefField && (strings.HasPrefix(op.Name, "iput") || strings.HasPrefix(op.Name, "sput")):
			put = insns[i].Ref
		case op.Has(dalvik.Invoke) && call == "":
			call = insns[i].Ref
		}
	}
	switch {
	case get != "" && get == put:
		return "operator for: " + put
	case put != "":
		return "setter for: " + put
	case get != "":
		return "getter for: " + get
	case call != "":
		return "invokes: " + call
	}
	return ""
}
