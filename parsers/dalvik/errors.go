package dalvik

import "fmt"

// UnknownOpcodeError reports a code unit that is not an opcode at the
// table's API level. It only invalidates the one instruction.
type UnknownOpcodeError struct {
	Offset uint32
	Unit   uint16
	Level  int
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode %#04x at %#x for api level %d", e.Unit&0xff, e.Offset, e.Level)
}

// RegisterOutOfRangeError reports a register operand at or above the
// method's register count.
type RegisterOutOfRangeError struct {
	Offset    uint32
	Opcode    string
	Register  uint32
	Registers uint16
}

func (e *RegisterOutOfRangeError) Error() string {
	return fmt.Sprintf("%s at %#x uses v%d but the method has %d registers",
		e.Opcode, e.Offset, e.Register, e.Registers)
}
