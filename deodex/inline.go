package deodex

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vsoch/gobaksmali/descriptor"
)

// InlineKind is how an inlined method is invoked once deodexed.
type InlineKind int

const (
	// InlineUnknown entries come from a table file line without a kind;
	// the kind is looked up on the classpath.
	InlineUnknown InlineKind = iota
	InlineStatic
	InlineDirect
	InlineVirtual
)

var inlineKindNames = map[InlineKind]string{
	InlineUnknown: "unknown",
	InlineStatic:  "static",
	InlineDirect:  "direct",
	InlineVirtual: "virtual",
}

func (k InlineKind) String() string {
	return inlineKindNames[k]
}

// InlineMethod is one entry of the execute-inline table.
type InlineMethod struct {
	Kind   InlineKind
	Method descriptor.MethodDescription
}

// InlineTable lists the methods execute-inline can name, by index.
type InlineTable struct {
	Methods []InlineMethod
}

// Lookup returns entry i.
func (t *InlineTable) Lookup(i uint32) (InlineMethod, bool) {
	if t == nil || uint64(i) >= uint64(len(t.Methods)) {
		return InlineMethod{}, false
	}
	return t.Methods[i], true
}

func mustInline(kind InlineKind, ref string) InlineMethod {
	m, ok := descriptor.ParseMethod(ref)
	if !ok {
		panic("bad inline method " + ref)
	}
	return InlineMethod{Kind: kind, Method: m}
}

var inlineCommon = []InlineMethod{
	mustInline(InlineStatic, "Lorg/apache/harmony/dalvik/NativeTestTarget;->emptyInlineMethod()V"),
	mustInline(InlineVirtual, "Ljava/lang/String;->charAt(I)C"),
	mustInline(InlineVirtual, "Ljava/lang/String;->compareTo(Ljava/lang/String;)I"),
	mustInline(InlineVirtual, "Ljava/lang/String;->equals(Ljava/lang/Object;)Z"),
}

var inlineMath = []InlineMethod{
	mustInline(InlineStatic, "Ljava/lang/Math;->abs(I)I"),
	mustInline(InlineStatic, "Ljava/lang/Math;->abs(J)J"),
	mustInline(InlineStatic, "Ljava/lang/Math;->abs(F)F"),
	mustInline(InlineStatic, "Ljava/lang/Math;->abs(D)D"),
	mustInline(InlineStatic, "Ljava/lang/Math;->min(II)I"),
	mustInline(InlineStatic, "Ljava/lang/Math;->max(II)I"),
	mustInline(InlineStatic, "Ljava/lang/Math;->sqrt(D)D"),
	mustInline(InlineStatic, "Ljava/lang/Math;->cos(D)D"),
	mustInline(InlineStatic, "Ljava/lang/Math;->sin(D)D"),
}

var inline35 = &InlineTable{Methods: concat(
	inlineCommon,
	[]InlineMethod{mustInline(InlineVirtual, "Ljava/lang/String;->length()I")},
	inlineMath,
)}

var inline36 = &InlineTable{Methods: concat(
	inlineCommon,
	[]InlineMethod{
		mustInline(InlineDirect, "Ljava/lang/String;->fastIndexOf(II)I"),
		mustInline(InlineVirtual, "Ljava/lang/String;->isEmpty()Z"),
		mustInline(InlineVirtual, "Ljava/lang/String;->length()I"),
	},
	inlineMath,
	[]InlineMethod{
		mustInline(InlineStatic, "Ljava/lang/Float;->floatToIntBits(F)I"),
		mustInline(InlineStatic, "Ljava/lang/Float;->floatToRawIntBits(F)I"),
		mustInline(InlineStatic, "Ljava/lang/Float;->intBitsToFloat(I)F"),
		mustInline(InlineStatic, "Ljava/lang/Double;->doubleToLongBits(D)J"),
		mustInline(InlineStatic, "Ljava/lang/Double;->doubleToRawLongBits(D)J"),
		mustInline(InlineStatic, "Ljava/lang/Double;->longBitsToDouble(J)D"),
		mustInline(InlineStatic, "Ljava/lang/StrictMath;->abs(I)I"),
		mustInline(InlineStatic, "Ljava/lang/StrictMath;->abs(J)J"),
		mustInline(InlineStatic, "Ljava/lang/StrictMath;->abs(F)F"),
		mustInline(InlineStatic, "Ljava/lang/StrictMath;->abs(D)D"),
		mustInline(InlineStatic, "Ljava/lang/StrictMath;->min(II)I"),
		mustInline(InlineStatic, "Ljava/lang/StrictMath;->max(II)I"),
		mustInline(InlineStatic, "Ljava/lang/StrictMath;->sqrt(D)D"),
	},
)}

func concat(parts ...[]InlineMethod) []InlineMethod {
	var out []InlineMethod
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// DefaultInlineTable returns the built-in table for an odex format
// version (35 or 36). Version 0 picks by API level instead.
func DefaultInlineTable(odexVersion, apiLevel int) *InlineTable {
	switch {
	case odexVersion == 35:
		return inline35
	case odexVersion >= 36:
		return inline36
	case apiLevel < 9:
		return inline35
	}
	return inline36
}

// ParseInlineTable reads one method reference per line, optionally
// prefixed by its kind ("static", "direct" or "virtual"). Blank lines and
// lines starting with '#' are ignored.
func ParseInlineTable(r io.Reader) (*InlineTable, error) {
	t := &InlineTable{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		kind := InlineUnknown
		if word, rest, ok := strings.Cut(text, " "); ok {
			switch word {
			case "static":
				kind = InlineStatic
			case "direct":
				kind = InlineDirect
			case "virtual":
				kind = InlineVirtual
			default:
				return nil, fmt.Errorf("inline table line %d: unknown method kind %q", line, word)
			}
			text = strings.TrimSpace(rest)
		}
		m, ok := descriptor.ParseMethod(text)
		if !ok {
			return nil, fmt.Errorf("inline table line %d: bad method reference %q", line, text)
		}
		t.Methods = append(t.Methods, InlineMethod{Kind: kind, Method: m})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadInlineTable parses the named inline table file
func LoadInlineTable(path string) (*InlineTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ParseInlineTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
