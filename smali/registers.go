package smali

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vsoch/gobaksmali/parsers/dalvik"
)

// RegisterInfo selects the register comments written above each
// instruction.
type RegisterInfo uint8

const (
	// RegisterArgs lists the registers an instruction reads.
	RegisterArgs RegisterInfo = 1 << iota
	// RegisterDest names the register an instruction writes.
	RegisterDest

	RegisterAll = RegisterArgs | RegisterDest
)

var registerInfoNames = map[string]RegisterInfo{
	"ALL":     RegisterAll,
	"ALLPRE":  RegisterArgs,
	"ALLPOST": RegisterDest,
	"ARGS":    RegisterArgs,
	"DEST":    RegisterDest,
}

// ParseRegisterInfo reads a comma separated list such as "ARGS,DEST".
// ALLPRE and ALLPOST are accepted as ARGS and DEST.
func ParseRegisterInfo(s string) (RegisterInfo, error) {
	var info RegisterInfo
	for _, name := range strings.Split(s, ",") {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		bits, ok := registerInfoNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown register info %q", name)
		}
		info |= bits
	}
	return info, nil
}

// reg names register r, as pN for the parameter registers unless raw
// numbering was asked for.
func (w *methodWriter) reg(r uint32) string {
	if !w.e.opts.NoParameterRegisters && r >= w.params {
		return fmt.Sprintf("p%d", r-w.params)
	}
	return fmt.Sprintf("v%d", r)
}

func (w *methodWriter) regList(regs []uint32) string {
	names := make([]string, len(regs))
	for i, r := range regs {
		names[i] = w.reg(r)
	}
	return strings.Join(names, ", ")
}

// regRange renders the register operand of the range formats.
func (w *methodWriter) regRange(regs []uint32) string {
	switch len(regs) {
	case 0:
		return "{}"
	case 1:
		return "{" + w.reg(regs[0]) + "}"
	}
	return "{" + w.reg(regs[0]) + " .. " + w.reg(regs[len(regs)-1]) + "}"
}

// debugReg names the register of a debug directive. ok is false when the
// directive should be dropped.
func (w *methodWriter) debugReg(r uint32) (string, bool) {
	if r >= uint32(w.code.Registers) && w.e.opts.FixRegisters {
		return "", false
	}
	return w.reg(r), true
}

func (w *methodWriter) registerInfo(b *bytes.Buffer, ins *dalvik.Instruction) {
	info := w.e.opts.RegisterInfo
	if info == 0 || len(ins.Registers) == 0 {
		return
	}
	args := ins.Registers
	var dest []uint32
	if ins.Opcode.Has(dalvik.SetsRegister) {
		dest, args = args[:1], args[1:]
		if ins.Opcode.Has(dalvik.SetsWideRegister) {
			dest = []uint32{dest[0], dest[0] + 1}
		}
	}
	if info&RegisterArgs != 0 && len(args) > 0 {
		fmt.Fprintf(b, "    #args: %s\n", w.regList(args))
	}
	if info&RegisterDest != 0 && len(dest) > 0 {
		fmt.Fprintf(b, "    #dest: %s\n", w.regList(dest))
	}
}
