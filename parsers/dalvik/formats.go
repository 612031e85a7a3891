package dalvik

// Format is an instruction format in the usual Dalvik notation: the first
// digit is the size in code units, the second the number of registers and
// the letter says what else is encoded (x none, n/b/s/i/l/h literals,
// t branch, c constant pool index, ms/mi/cs quick indices).
// https://source.android.com/devices/tech/dalvik/instruction-formats
type Format uint8

const (
	Format10x Format = iota
	Format12x
	Format11n
	Format11x
	Format10t
	Format20t
	Format20bc
	Format22x
	Format21t
	Format21s
	Format21h
	Format21c
	Format23x
	Format22b
	Format22t
	Format22s
	Format22c
	Format22cs
	Format30t
	Format32x
	Format31i
	Format31t
	Format31c
	Format35c
	Format35ms
	Format35mi
	Format3rc
	Format3rms
	Format3rmi
	Format45cc
	Format4rcc
	Format51l
	Format41c
	Format52c
	Format5rc
	FormatPackedSwitchPayload
	FormatSparseSwitchPayload
	FormatArrayPayload
)

var formatInfo = [...]struct {
	name string
	size uint32
}{
	Format10x:                 {"10x", 1},
	Format12x:                 {"12x", 1},
	Format11n:                 {"11n", 1},
	Format11x:                 {"11x", 1},
	Format10t:                 {"10t", 1},
	Format20t:                 {"20t", 2},
	Format20bc:                {"20bc", 2},
	Format22x:                 {"22x", 2},
	Format21t:                 {"21t", 2},
	Format21s:                 {"21s", 2},
	Format21h:                 {"21h", 2},
	Format21c:                 {"21c", 2},
	Format23x:                 {"23x", 2},
	Format22b:                 {"22b", 2},
	Format22t:                 {"22t", 2},
	Format22s:                 {"22s", 2},
	Format22c:                 {"22c", 2},
	Format22cs:                {"22cs", 2},
	Format30t:                 {"30t", 3},
	Format32x:                 {"32x", 3},
	Format31i:                 {"31i", 3},
	Format31t:                 {"31t", 3},
	Format31c:                 {"31c", 3},
	Format35c:                 {"35c", 3},
	Format35ms:                {"35ms", 3},
	Format35mi:                {"35mi", 3},
	Format3rc:                 {"3rc", 3},
	Format3rms:                {"3rms", 3},
	Format3rmi:                {"3rmi", 3},
	Format45cc:                {"45cc", 4},
	Format4rcc:                {"4rcc", 4},
	Format51l:                 {"51l", 5},
	Format41c:                 {"41c", 4},
	Format52c:                 {"52c", 5},
	Format5rc:                 {"5rc", 5},
	FormatPackedSwitchPayload: {"packed-switch-payload", 0},
	FormatSparseSwitchPayload: {"sparse-switch-payload", 0},
	FormatArrayPayload:        {"array-payload", 0},
}

func (f Format) String() string {
	if int(f) < len(formatInfo) {
		return formatInfo[f].name
	}
	return "unknown"
}

// Size returns the instruction size in code units, or 0 for the variable
// sized payloads.
func (f Format) Size() uint32 {
	if int(f) < len(formatInfo) {
		return formatInfo[f].size
	}
	return 0
}

// IsPayload reports whether f is one of the data payload pseudo formats.
func (f Format) IsPayload() bool {
	return f >= FormatPackedSwitchPayload
}

// IsRange reports whether the registers are encoded as a first register
// plus a count.
func (f Format) IsRange() bool {
	switch f {
	case Format3rc, Format3rms, Format3rmi, Format4rcc, Format5rc:
		return true
	}
	return false
}
