package dalvik

import "strings"

// Op is an opcode value. Ordinary opcodes are 0x00-0xff; the jumbo
// opcodes (0xff prefix with an extended opcode in the high byte) are
// numbered JumboBase+extended.
type Op uint16

// JumboBase is added to the extended opcode of jumbo instructions.
const JumboBase Op = 0x100

// Payload pseudo opcodes. In the code stream they share the nop byte and
// are told apart by the high byte of the first code unit.
const (
	OpPackedSwitchPayload Op = 0x300 + iota
	OpSparseSwitchPayload
	OpArrayPayload
)

// RefKind says what the index operand of an instruction refers to.
type RefKind uint8

const (
	RefNone RefKind = iota
	RefString
	RefType
	RefField
	RefMethod
	RefProto
	RefCallSite
	RefMethodHandle
	// Quickened operands only meaningful against a boot classpath.
	RefFieldOffset
	RefVtableIndex
	RefInlineIndex
	// throw-verification-error encodes the kind in its literal.
	RefVerificationError
)

var refKindNames = [...]string{
	RefNone:              "none",
	RefString:            "string",
	RefType:              "type",
	RefField:             "field",
	RefMethod:            "method",
	RefProto:             "proto",
	RefCallSite:          "call_site",
	RefMethodHandle:      "method_handle",
	RefFieldOffset:       "field offset",
	RefVtableIndex:       "vtable",
	RefInlineIndex:       "inline",
	RefVerificationError: "verification error",
}

func (k RefKind) String() string {
	if int(k) < len(refKindNames) {
		return refKindNames[k]
	}
	return "unknown"
}

// Flags describe control flow and register effects.
type Flags uint16

const (
	CanContinue Flags = 1 << iota
	CanThrow
	SetsResult
	SetsRegister
	SetsWideRegister
	Branch
	Switch
	Invoke
	Odex
	Static
	Jumbo
)

// Opcode is one entry of an opcode table.
type Opcode struct {
	Value  Op
	Name   string
	Format Format
	Ref    RefKind
	// Ref2 is the proto operand of invoke-polymorphic.
	Ref2  RefKind
	Flags Flags
	// MinAPI and MaxAPI bound the levels the opcode exists at; MaxAPI 0
	// means no upper bound.
	MinAPI int
	MaxAPI int
	// Canonical is the portable opcode an odex-only opcode stands for.
	// Field access quick opcodes name the int variant; the deodexer picks
	// the typed variant from the resolved field.
	Canonical Op
}

// Has reports whether all of f are set.
func (o *Opcode) Has(f Flags) bool {
	return o.Flags&f == f
}

// IsOdex reports whether o only appears in optimized code.
func (o *Opcode) IsOdex() bool {
	return o.Flags&Odex != 0
}

func (o *Opcode) String() string {
	return o.Name
}

func (o *Opcode) availableAt(level int) bool {
	return level >= o.MinAPI && (o.MaxAPI == 0 || level <= o.MaxAPI)
}

const (
	cont   = CanContinue
	throws = CanContinue | CanThrow
	sets   = CanContinue | SetsRegister
	setsW  = CanContinue | SetsRegister | SetsWideRegister
	tsets  = throws | SetsRegister
	tsetsW = throws | SetsRegister | SetsWideRegister
	invoke = throws | SetsResult | Invoke
)

// lastDalvik is the last API level of the Dalvik VM. Odex opcodes and
// jumbo instructions do not exist after it.
const lastDalvik = 20

// opcodes lists every opcode the decoder knows, ordinary and jumbo. An
// opcode value may appear more than once with disjoint API ranges.
var opcodes = buildOpcodes()

func series(start Op, format Format, ref RefKind, flags Flags, names ...string) []Opcode {
	out := make([]Opcode, len(names))
	for i, name := range names {
		out[i] = Opcode{Value: start + Op(i), Name: name, Format: format, Ref: ref, Flags: flags, MinAPI: 1}
	}
	return out
}

var (
	unops = []string{
		"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double", "long-to-int",
		"long-to-float", "long-to-double", "float-to-int", "float-to-long",
		"float-to-double", "double-to-int", "double-to-long", "double-to-float",
		"int-to-byte", "int-to-char", "int-to-short",
	}
	binops = []string{
		"add-int", "sub-int", "mul-int", "div-int", "rem-int", "and-int",
		"or-int", "xor-int", "shl-int", "shr-int", "ushr-int",
		"add-long", "sub-long", "mul-long", "div-long", "rem-long", "and-long",
		"or-long", "xor-long", "shl-long", "shr-long", "ushr-long",
		"add-float", "sub-float", "mul-float", "div-float", "rem-float",
		"add-double", "sub-double", "mul-double", "div-double", "rem-double",
	}
	fieldSuffixes = []string{"", "-wide", "-object", "-boolean", "-byte", "-char", "-short"}
	invokeKinds   = []string{"virtual", "super", "direct", "static", "interface"}
)

// wideResult reports whether the named operation writes a register pair.
func wideResult(name string) bool {
	if strings.HasPrefix(name, "cmp") {
		return false
	}
	op, _, _ := strings.Cut(name, "/")
	if _, to, ok := strings.Cut(op, "-to-"); ok {
		return to == "long" || to == "double"
	}
	return strings.HasSuffix(op, "-long") || strings.HasSuffix(op, "-double") || strings.HasSuffix(op, "-wide")
}

func buildOpcodes() []Opcode {
	var ops []Opcode
	add := func(o ...Opcode) {
		for _, op := range o {
			if op.MinAPI == 0 {
				op.MinAPI = 1
			}
			ops = append(ops, op)
		}
	}

	add(
		Opcode{Value: 0x00, Name: "nop", Format: Format10x, Flags: cont},
		Opcode{Value: 0x01, Name: "move", Format: Format12x, Flags: sets},
		Opcode{Value: 0x02, Name: "move/from16", Format: Format22x, Flags: sets},
		Opcode{Value: 0x03, Name: "move/16", Format: Format32x, Flags: sets},
		Opcode{Value: 0x04, Name: "move-wide", Format: Format12x, Flags: setsW},
		Opcode{Value: 0x05, Name: "move-wide/from16", Format: Format22x, Flags: setsW},
		Opcode{Value: 0x06, Name: "move-wide/16", Format: Format32x, Flags: setsW},
		Opcode{Value: 0x07, Name: "move-object", Format: Format12x, Flags: sets},
		Opcode{Value: 0x08, Name: "move-object/from16", Format: Format22x, Flags: sets},
		Opcode{Value: 0x09, Name: "move-object/16", Format: Format32x, Flags: sets},
		Opcode{Value: 0x0a, Name: "move-result", Format: Format11x, Flags: sets},
		Opcode{Value: 0x0b, Name: "move-result-wide", Format: Format11x, Flags: setsW},
		Opcode{Value: 0x0c, Name: "move-result-object", Format: Format11x, Flags: sets},
		Opcode{Value: 0x0d, Name: "move-exception", Format: Format11x, Flags: sets},
		Opcode{Value: 0x0e, Name: "return-void", Format: Format10x},
		Opcode{Value: 0x0f, Name: "return", Format: Format11x},
		Opcode{Value: 0x10, Name: "return-wide", Format: Format11x},
		Opcode{Value: 0x11, Name: "return-object", Format: Format11x},
		Opcode{Value: 0x12, Name: "const/4", Format: Format11n, Flags: sets},
		Opcode{Value: 0x13, Name: "const/16", Format: Format21s, Flags: sets},
		Opcode{Value: 0x14, Name: "const", Format: Format31i, Flags: sets},
		Opcode{Value: 0x15, Name: "const/high16", Format: Format21h, Flags: sets},
		Opcode{Value: 0x16, Name: "const-wide/16", Format: Format21s, Flags: setsW},
		Opcode{Value: 0x17, Name: "const-wide/32", Format: Format31i, Flags: setsW},
		Opcode{Value: 0x18, Name: "const-wide", Format: Format51l, Flags: setsW},
		Opcode{Value: 0x19, Name: "const-wide/high16", Format: Format21h, Flags: setsW},
		Opcode{Value: 0x1a, Name: "const-string", Format: Format21c, Ref: RefString, Flags: tsets},
		Opcode{Value: 0x1b, Name: "const-string/jumbo", Format: Format31c, Ref: RefString, Flags: tsets},
		Opcode{Value: 0x1c, Name: "const-class", Format: Format21c, Ref: RefType, Flags: tsets},
		Opcode{Value: 0x1d, Name: "monitor-enter", Format: Format11x, Flags: throws},
		Opcode{Value: 0x1e, Name: "monitor-exit", Format: Format11x, Flags: throws},
		Opcode{Value: 0x1f, Name: "check-cast", Format: Format21c, Ref: RefType, Flags: tsets},
		Opcode{Value: 0x20, Name: "instance-of", Format: Format22c, Ref: RefType, Flags: tsets},
		Opcode{Value: 0x21, Name: "array-length", Format: Format12x, Flags: tsets},
		Opcode{Value: 0x22, Name: "new-instance", Format: Format21c, Ref: RefType, Flags: tsets},
		Opcode{Value: 0x23, Name: "new-array", Format: Format22c, Ref: RefType, Flags: tsets},
		Opcode{Value: 0x24, Name: "filled-new-array", Format: Format35c, Ref: RefType, Flags: throws | SetsResult},
		Opcode{Value: 0x25, Name: "filled-new-array/range", Format: Format3rc, Ref: RefType, Flags: throws | SetsResult},
		Opcode{Value: 0x26, Name: "fill-array-data", Format: Format31t, Flags: cont | Branch},
		Opcode{Value: 0x27, Name: "throw", Format: Format11x, Flags: CanThrow},
		Opcode{Value: 0x28, Name: "goto", Format: Format10t, Flags: Branch},
		Opcode{Value: 0x29, Name: "goto/16", Format: Format20t, Flags: Branch},
		Opcode{Value: 0x2a, Name: "goto/32", Format: Format30t, Flags: Branch},
		Opcode{Value: 0x2b, Name: "packed-switch", Format: Format31t, Flags: cont | Switch},
		Opcode{Value: 0x2c, Name: "sparse-switch", Format: Format31t, Flags: cont | Switch},
	)
	add(series(0x2d, Format23x, RefNone, sets, "cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long")...)
	add(series(0x32, Format22t, RefNone, cont|Branch, "if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le")...)
	add(series(0x38, Format21t, RefNone, cont|Branch, "if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez")...)

	var agets, aputs, igets, iputs, sgets, sputs []string
	for _, s := range fieldSuffixes {
		agets = append(agets, "aget"+s)
		aputs = append(aputs, "aput"+s)
		igets = append(igets, "iget"+s)
		iputs = append(iputs, "iput"+s)
		sgets = append(sgets, "sget"+s)
		sputs = append(sputs, "sput"+s)
	}
	add(series(0x44, Format23x, RefNone, tsets, agets...)...)
	add(series(0x4b, Format23x, RefNone, throws, aputs...)...)
	add(series(0x52, Format22c, RefField, tsets, igets...)...)
	add(series(0x59, Format22c, RefField, throws, iputs...)...)
	add(series(0x60, Format21c, RefField, tsets|Static, sgets...)...)
	add(series(0x67, Format21c, RefField, throws|Static, sputs...)...)

	var invokes, ranges []string
	for _, k := range invokeKinds {
		invokes = append(invokes, "invoke-"+k)
		ranges = append(ranges, "invoke-"+k+"/range")
	}
	add(series(0x6e, Format35c, RefMethod, invoke, invokes...)...)
	add(series(0x74, Format3rc, RefMethod, invoke, ranges...)...)

	add(series(0x7b, Format12x, RefNone, sets, unops...)...)
	add(series(0x90, Format23x, RefNone, sets, binops...)...)
	var twoAddr []string
	for _, b := range binops {
		twoAddr = append(twoAddr, b+"/2addr")
	}
	add(series(0xb0, Format12x, RefNone, sets, twoAddr...)...)
	add(series(0xd0, Format22s, RefNone, sets,
		"add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16",
		"rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16")...)
	add(series(0xd8, Format22b, RefNone, sets,
		"add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8",
		"rem-int/lit8", "and-int/lit8", "or-int/lit8", "xor-int/lit8",
		"shl-int/lit8", "shr-int/lit8", "ushr-int/lit8")...)

	// Division may throw.
	for i := range ops {
		switch ops[i].Name {
		case "div-int", "rem-int", "div-long", "rem-long",
			"div-int/2addr", "rem-int/2addr", "div-long/2addr", "rem-long/2addr",
			"div-int/lit16", "rem-int/lit16", "div-int/lit8", "rem-int/lit8":
			ops[i].Flags |= CanThrow
		}
	}

	// Optimized opcodes, Dalvik only.
	odex := func(o Opcode, canonical Op) Opcode {
		o.Flags |= Odex
		o.Canonical = canonical
		if o.MaxAPI == 0 {
			o.MaxAPI = lastDalvik
		}
		return o
	}
	add(
		odex(Opcode{Value: 0xe3, Name: "iget-volatile", Format: Format22c, Ref: RefField, Flags: tsets, MinAPI: 9}, 0x52),
		odex(Opcode{Value: 0xe4, Name: "iput-volatile", Format: Format22c, Ref: RefField, Flags: throws, MinAPI: 9}, 0x59),
		odex(Opcode{Value: 0xe5, Name: "sget-volatile", Format: Format21c, Ref: RefField, Flags: tsets | Static, MinAPI: 9}, 0x60),
		odex(Opcode{Value: 0xe6, Name: "sput-volatile", Format: Format21c, Ref: RefField, Flags: throws | Static, MinAPI: 9}, 0x67),
		odex(Opcode{Value: 0xe7, Name: "iget-object-volatile", Format: Format22c, Ref: RefField, Flags: tsets, MinAPI: 9}, 0x54),
		odex(Opcode{Value: 0xe8, Name: "iget-wide-volatile", Format: Format22c, Ref: RefField, Flags: tsetsW, MinAPI: 9}, 0x53),
		odex(Opcode{Value: 0xe9, Name: "iput-wide-volatile", Format: Format22c, Ref: RefField, Flags: throws, MinAPI: 9}, 0x5a),
		odex(Opcode{Value: 0xea, Name: "sget-wide-volatile", Format: Format21c, Ref: RefField, Flags: tsetsW | Static, MinAPI: 9}, 0x61),
		odex(Opcode{Value: 0xeb, Name: "sput-wide-volatile", Format: Format21c, Ref: RefField, Flags: throws | Static, MinAPI: 9}, 0x68),
		odex(Opcode{Value: 0xed, Name: "throw-verification-error", Format: Format20bc, Ref: RefVerificationError, Flags: CanThrow, MinAPI: 5}, 0xed),
		odex(Opcode{Value: 0xee, Name: "execute-inline", Format: Format35mi, Ref: RefInlineIndex, Flags: invoke}, 0x71),
		odex(Opcode{Value: 0xef, Name: "execute-inline/range", Format: Format3rmi, Ref: RefInlineIndex, Flags: invoke, MinAPI: 8}, 0x77),
		odex(Opcode{Value: 0xf0, Name: "invoke-direct-empty", Format: Format35c, Ref: RefMethod, Flags: invoke, MaxAPI: 13}, 0x70),
		odex(Opcode{Value: 0xf0, Name: "invoke-object-init/range", Format: Format3rc, Ref: RefMethod, Flags: invoke, MinAPI: 14}, 0x76),
		odex(Opcode{Value: 0xf1, Name: "return-void-barrier", Format: Format10x, MinAPI: 11}, 0x0e),
		odex(Opcode{Value: 0xf2, Name: "iget-quick", Format: Format22cs, Ref: RefFieldOffset, Flags: tsets}, 0x52),
		odex(Opcode{Value: 0xf3, Name: "iget-wide-quick", Format: Format22cs, Ref: RefFieldOffset, Flags: tsetsW}, 0x53),
		odex(Opcode{Value: 0xf4, Name: "iget-object-quick", Format: Format22cs, Ref: RefFieldOffset, Flags: tsets}, 0x54),
		odex(Opcode{Value: 0xf5, Name: "iput-quick", Format: Format22cs, Ref: RefFieldOffset, Flags: throws}, 0x59),
		odex(Opcode{Value: 0xf6, Name: "iput-wide-quick", Format: Format22cs, Ref: RefFieldOffset, Flags: throws}, 0x5a),
		odex(Opcode{Value: 0xf7, Name: "iput-object-quick", Format: Format22cs, Ref: RefFieldOffset, Flags: throws}, 0x5b),
		odex(Opcode{Value: 0xf8, Name: "invoke-virtual-quick", Format: Format35ms, Ref: RefVtableIndex, Flags: invoke}, 0x6e),
		odex(Opcode{Value: 0xf9, Name: "invoke-virtual-quick/range", Format: Format3rms, Ref: RefVtableIndex, Flags: invoke}, 0x74),
		odex(Opcode{Value: 0xfa, Name: "invoke-super-quick", Format: Format35ms, Ref: RefVtableIndex, Flags: invoke}, 0x6f),
		odex(Opcode{Value: 0xfb, Name: "invoke-super-quick/range", Format: Format3rms, Ref: RefVtableIndex, Flags: invoke}, 0x75),
		odex(Opcode{Value: 0xfc, Name: "iput-object-volatile", Format: Format22c, Ref: RefField, Flags: throws, MinAPI: 9}, 0x5b),
		odex(Opcode{Value: 0xfd, Name: "sget-object-volatile", Format: Format21c, Ref: RefField, Flags: tsets | Static, MinAPI: 9}, 0x62),
		odex(Opcode{Value: 0xfe, Name: "sput-object-volatile", Format: Format21c, Ref: RefField, Flags: throws | Static, MinAPI: 9}, 0x69),
	)

	// Opcodes of the ART era reuse the top of the odex range.
	add(
		Opcode{Value: 0xfa, Name: "invoke-polymorphic", Format: Format45cc, Ref: RefMethod, Ref2: RefProto, Flags: invoke, MinAPI: 26},
		Opcode{Value: 0xfb, Name: "invoke-polymorphic/range", Format: Format4rcc, Ref: RefMethod, Ref2: RefProto, Flags: invoke, MinAPI: 26},
		Opcode{Value: 0xfc, Name: "invoke-custom", Format: Format35c, Ref: RefCallSite, Flags: invoke, MinAPI: 26},
		Opcode{Value: 0xfd, Name: "invoke-custom/range", Format: Format3rc, Ref: RefCallSite, Flags: invoke, MinAPI: 26},
		Opcode{Value: 0xfe, Name: "const-method-handle", Format: Format21c, Ref: RefMethodHandle, Flags: tsets, MinAPI: 28},
		Opcode{Value: 0xff, Name: "const-method-type", Format: Format21c, Ref: RefProto, Flags: tsets, MinAPI: 28},
	)

	// Jumbo opcodes, present only in Dalvik builds with jumbo support.
	jumbo := func(ext Op, name string, format Format, ref RefKind, flags Flags) Opcode {
		return Opcode{Value: JumboBase + ext, Name: name, Format: format, Ref: ref,
			Flags: flags | Jumbo, MinAPI: 14, MaxAPI: lastDalvik}
	}
	add(
		jumbo(0x00, "const-class/jumbo", Format41c, RefType, tsets),
		jumbo(0x01, "check-cast/jumbo", Format41c, RefType, tsets),
		jumbo(0x02, "instance-of/jumbo", Format52c, RefType, tsets),
		jumbo(0x03, "new-instance/jumbo", Format41c, RefType, tsets),
		jumbo(0x04, "new-array/jumbo", Format52c, RefType, tsets),
		jumbo(0x05, "filled-new-array/jumbo", Format5rc, RefType, throws|SetsResult),
	)
	for i, s := range fieldSuffixes {
		ext := Op(i)
		add(
			jumbo(0x06+ext, "iget"+s+"/jumbo", Format52c, RefField, tsets),
			jumbo(0x0d+ext, "iput"+s+"/jumbo", Format52c, RefField, throws),
			jumbo(0x14+ext, "sget"+s+"/jumbo", Format41c, RefField, tsets|Static),
			jumbo(0x1b+ext, "sput"+s+"/jumbo", Format41c, RefField, throws|Static),
		)
	}
	for i, k := range invokeKinds {
		add(jumbo(0x22+Op(i), "invoke-"+k+"/jumbo", Format5rc, RefMethod, invoke))
	}

	add(
		Opcode{Value: OpPackedSwitchPayload, Name: "packed-switch-payload", Format: FormatPackedSwitchPayload},
		Opcode{Value: OpSparseSwitchPayload, Name: "sparse-switch-payload", Format: FormatSparseSwitchPayload},
		Opcode{Value: OpArrayPayload, Name: "array-payload", Format: FormatArrayPayload},
	)

	for i := range ops {
		if ops[i].Flags&SetsRegister != 0 && wideResult(ops[i].Name) {
			ops[i].Flags |= SetsWideRegister
		}
	}
	return ops
}
