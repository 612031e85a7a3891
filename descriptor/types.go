package descriptor

import "strings"

// Well known class descriptors
const (
	Object    = "Ljava/lang/Object;"
	String    = "Ljava/lang/String;"
	Class     = "Ljava/lang/Class;"
	Throwable = "Ljava/lang/Throwable;"
)

// IsReference reports whether desc names a class or array type.
func IsReference(desc string) bool {
	return desc != "" && (desc[0] == 'L' || desc[0] == '[')
}

// IsArray reports whether desc is an array type
func IsArray(desc string) bool {
	return strings.HasPrefix(desc, "[")
}

// IsWide reports whether a value of type desc takes two registers.
func IsWide(desc string) bool {
	return desc == "J" || desc == "D"
}

// IsPrimitive reports whether desc is one of the primitive types (void
// included).
func IsPrimitive(desc string) bool {
	return len(desc) == 1 && strings.ContainsRune("VZBSCIJFD", rune(desc[0]))
}

// Words returns the number of registers a value of type desc occupies.
func Words(desc string) int {
	if IsWide(desc) {
		return 2
	}
	return 1
}

// ElementType strips one array dimension.
func ElementType(desc string) string {
	if !IsArray(desc) {
		return ""
	}
	return desc[1:]
}

// Dimensions counts the leading '[' of desc.
func Dimensions(desc string) int {
	n := 0
	for n < len(desc) && desc[n] == '[' {
		n++
	}
	return n
}

// Package returns the package part of a class descriptor, with slashes,
// e.g. "java/lang" for "Ljava/lang/String;". The default package is "".
func Package(desc string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(desc, "L"), ";")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

// SimpleName returns the class name after the last slash.
func SimpleName(desc string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(desc, "L"), ";")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// SamePackage reports whether two class descriptors share a package.
func SamePackage(a, b string) bool {
	return Package(a) == Package(b)
}

// SplitParams splits a concatenation of descriptors, as found between the
// parentheses of a method prototype.
func SplitParams(s string) []string {
	var out []string
	for len(s) > 0 {
		n := Dimensions(s)
		if n >= len(s) {
			out = append(out, s)
			break
		}
		end := n + 1
		if s[n] == 'L' {
			if i := strings.IndexByte(s[n:], ';'); i >= 0 {
				end = n + i + 1
			} else {
				end = len(s)
			}
		}
		out = append(out, s[:end])
		s = s[end:]
	}
	return out
}

// SplitProto splits "(params)ret" into its parameter and return types.
func SplitProto(proto string) ([]string, string) {
	end := strings.IndexByte(proto, ')')
	if !strings.HasPrefix(proto, "(") || end < 0 {
		return nil, ""
	}
	return SplitParams(proto[1:end]), proto[end+1:]
}

// ReturnType returns the return descriptor of a prototype or method
// reference string.
func ReturnType(ref string) string {
	if i := strings.LastIndexByte(ref, ')'); i >= 0 {
		return ref[i+1:]
	}
	return ""
}

// ParamWords counts the registers taken by the parameters, not counting
// the receiver of an instance method.
func ParamWords(params []string) int {
	n := 0
	for _, p := range params {
		n += Words(p)
	}
	return n
}

// MethodDescription is a method split into the pieces the disassembler
// works with.
type MethodDescription struct {
	Class  string   `json:"class"`
	Name   string   `json:"name"`
	Params []string `json:"parameters"`
	Return string   `json:"return"`
}

// ParseMethod splits "Lcls;->name(params)ret".
func ParseMethod(ref string) (MethodDescription, bool) {
	cls, rest, ok := strings.Cut(ref, "->")
	if !ok {
		return MethodDescription{}, false
	}
	open := strings.IndexByte(rest, '(')
	if open <= 0 {
		return MethodDescription{}, false
	}
	params, ret := SplitProto(rest[open:])
	if ret == "" {
		return MethodDescription{}, false
	}
	return MethodDescription{Class: cls, Name: rest[:open], Params: params, Return: ret}, true
}

// Proto renders "(params)ret"
func (m MethodDescription) Proto() string {
	return "(" + strings.Join(m.Params, "") + ")" + m.Return
}

func (m MethodDescription) String() string {
	return m.Class + "->" + m.Name + m.Proto()
}

// FieldDescription is a field split into its pieces.
type FieldDescription struct {
	Class string `json:"class"`
	Name  string `json:"name"`
	Type  string `json:"type"`
}

// ParseField splits "Lcls;->name:Type".
func ParseField(ref string) (FieldDescription, bool) {
	cls, rest, ok := strings.Cut(ref, "->")
	if !ok {
		return FieldDescription{}, false
	}
	name, typ, ok := strings.Cut(rest, ":")
	if !ok || name == "" || typ == "" {
		return FieldDescription{}, false
	}
	return FieldDescription{Class: cls, Name: name, Type: typ}, true
}

func (f FieldDescription) String() string {
	return f.Class + "->" + f.Name + ":" + f.Type
}
