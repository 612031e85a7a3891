package descriptor

import "strings"

// Access flags of classes, fields and methods.
const (
	AccPublic       = 0x1
	AccPrivate      = 0x2
	AccProtected    = 0x4
	AccStatic       = 0x8
	AccFinal        = 0x10
	AccSynchronized = 0x20
	AccVolatile     = 0x40
	AccBridge       = 0x40
	AccTransient    = 0x80
	AccVarargs      = 0x80
	AccNative       = 0x100
	AccInterface    = 0x200
	AccAbstract     = 0x400
	AccStrict       = 0x800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
	AccConstructor  = 0x10000
	AccDeclaredSync = 0x20000
)

// Target says what kind of item a set of access flags belongs to; some
// bits mean different things for fields and methods.
type Target int

const (
	ForClass Target = iota
	ForField
	ForMethod
)

type accessFlag struct {
	bit     uint32
	name    string
	targets []Target
}

var accessFlags = []accessFlag{
	{AccPublic, "public", []Target{ForClass, ForField, ForMethod}},
	{AccPrivate, "private", []Target{ForClass, ForField, ForMethod}},
	{AccProtected, "protected", []Target{ForClass, ForField, ForMethod}},
	{AccStatic, "static", []Target{ForClass, ForField, ForMethod}},
	{AccFinal, "final", []Target{ForClass, ForField, ForMethod}},
	{AccSynchronized, "synchronized", []Target{ForMethod}},
	{AccVolatile, "volatile", []Target{ForField}},
	{AccBridge, "bridge", []Target{ForMethod}},
	{AccTransient, "transient", []Target{ForField}},
	{AccVarargs, "varargs", []Target{ForMethod}},
	{AccNative, "native", []Target{ForMethod}},
	{AccInterface, "interface", []Target{ForClass}},
	{AccAbstract, "abstract", []Target{ForClass, ForMethod}},
	{AccStrict, "strictfp", []Target{ForMethod}},
	{AccSynthetic, "synthetic", []Target{ForClass, ForField, ForMethod}},
	{AccAnnotation, "annotation", []Target{ForClass}},
	{AccEnum, "enum", []Target{ForClass, ForField}},
	{AccConstructor, "constructor", []Target{ForMethod}},
	{AccDeclaredSync, "declared-synchronized", []Target{ForMethod}},
}

// AccessNames lists the names of the flags set in flags, in the order
// smali prints them.
func AccessNames(flags uint32, target Target) []string {
	var out []string
	for _, f := range accessFlags {
		if flags&f.bit == 0 {
			continue
		}
		for _, t := range f.targets {
			if t == target {
				out = append(out, f.name)
				break
			}
		}
	}
	return out
}

// AccessString joins AccessNames with spaces.
func AccessString(flags uint32, target Target) string {
	return strings.Join(AccessNames(flags, target), " ")
}
