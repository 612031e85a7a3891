package smali

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vsoch/gobaksmali/parsers/dalvik"
)

func (w *methodWriter) instruction(b *bytes.Buffer, ins *dalvik.Instruction) {
	if err := w.errs[ins.Offset]; err != nil || ins.Invalid || ins.Opcode == nil {
		w.placeholder(b, ins, err)
		return
	}
	if comment := w.e.accessorComment(ins); comment != "" {
		fmt.Fprintf(b, "    #%s\n", comment)
	}
	if u := w.unresolved[ins.Offset]; u != nil {
		fmt.Fprintf(b, "    #unresolved: %s\n", u.Reason)
	}
	if v := w.rejected[ins.Offset]; v != nil {
		fmt.Fprintf(b, "    #verification error: %s\n", v.Reason)
	}
	w.registerInfo(b, ins)
	if ins.Payload != nil {
		w.payload(b, ins)
		return
	}
	fmt.Fprintf(b, "    %s\n", w.text(ins))
}

// text renders one ordinary instruction: mnemonic, then registers,
// literal, reference and target in operand order.
func (w *methodWriter) text(ins *dalvik.Instruction) string {
	op := ins.Opcode
	var args []string
	switch op.Format {
	case dalvik.Format10x:
	case dalvik.Format20bc:
		args = append(args, dalvik.VerificationErrorName(ins.Literal))
		if ins.Ref != "" {
			args = append(args, w.ref(ins))
		}
	case dalvik.Format35c, dalvik.Format35ms, dalvik.Format35mi, dalvik.Format45cc:
		args = append(args, "{"+w.regList(ins.Registers)+"}", w.ref(ins))
		if ins.Ref2 != "" {
			args = append(args, ins.Ref2)
		}
	case dalvik.Format3rc, dalvik.Format3rms, dalvik.Format3rmi, dalvik.Format4rcc, dalvik.Format5rc:
		args = append(args, w.regRange(ins.Registers), w.ref(ins))
		if ins.Ref2 != "" {
			args = append(args, ins.Ref2)
		}
	default:
		for _, r := range ins.Registers {
			args = append(args, w.reg(r))
		}
		if hasLiteral(op.Format) {
			lit := hex(ins.Literal)
			if op.Has(dalvik.SetsWideRegister) {
				lit += "L"
			}
			args = append(args, lit)
		}
		if ins.RefKind != dalvik.RefNone {
			args = append(args, w.ref(ins))
		}
		if ins.HasTarget() {
			args = append(args, w.labels.name(targetKind(op), ins.TargetAddr()))
		}
	}
	if len(args) == 0 {
		return op.Name
	}
	return op.Name + " " + strings.Join(args, ", ")
}

func hasLiteral(f dalvik.Format) bool {
	switch f {
	case dalvik.Format11n, dalvik.Format21s, dalvik.Format21h, dalvik.Format31i,
		dalvik.Format51l, dalvik.Format22b, dalvik.Format22s:
		return true
	}
	return false
}

func (w *methodWriter) ref(ins *dalvik.Instruction) string {
	if ins.RefKind == dalvik.RefString {
		return quote(ins.Ref)
	}
	return ins.Ref
}

// payload writes the data of a switch or fill-array-data payload as a
// multi line directive.
func (w *methodWriter) payload(b *bytes.Buffer, ins *dalvik.Instruction) {
	p := ins.Payload
	switch ins.Opcode.Format {
	case dalvik.FormatPackedSwitchPayload:
		base := switchBase(w.insns, ins.Offset)
		fmt.Fprintf(b, "    .packed-switch %s\n", hex(int64(p.FirstKey)))
		for _, t := range p.Targets {
			fmt.Fprintf(b, "        %s\n", w.labels.name(labelPackedSwitch, uint32(int64(base)+int64(t))))
		}
		b.WriteString("    .end packed-switch\n")
	case dalvik.FormatSparseSwitchPayload:
		base := switchBase(w.insns, ins.Offset)
		b.WriteString("    .sparse-switch\n")
		for i, t := range p.Targets {
			fmt.Fprintf(b, "        %s -> %s\n", hex(int64(p.Keys[i])), w.labels.name(labelSparseSwitch, uint32(int64(base)+int64(t))))
		}
		b.WriteString("    .end sparse-switch\n")
	case dalvik.FormatArrayPayload:
		fmt.Fprintf(b, "    .array-data %d\n", p.ElementWidth)
		suffix := elementSuffix[p.ElementWidth]
		for i := 0; i < p.Len(); i++ {
			fmt.Fprintf(b, "        %s%s\n", hex(p.Element(i)), suffix)
		}
		b.WriteString("    .end array-data\n")
	}
}

var elementSuffix = map[uint16]string{
	1: "t",
	2: "s",
	8: "L",
}
