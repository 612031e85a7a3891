package dex

import "fmt"

// ValueKind is the value_type of an encoded_value.
type ValueKind uint8

const (
	ValueByte         ValueKind = 0x00
	ValueShort        ValueKind = 0x02
	ValueChar         ValueKind = 0x03
	ValueInt          ValueKind = 0x04
	ValueLong         ValueKind = 0x06
	ValueFloat        ValueKind = 0x10
	ValueDouble       ValueKind = 0x11
	ValueMethodType   ValueKind = 0x15
	ValueMethodHandle ValueKind = 0x16
	ValueString       ValueKind = 0x17
	ValueType         ValueKind = 0x18
	ValueField        ValueKind = 0x19
	ValueMethod       ValueKind = 0x1a
	ValueEnum         ValueKind = 0x1b
	ValueArray        ValueKind = 0x1c
	ValueAnnotation   ValueKind = 0x1d
	ValueNull         ValueKind = 0x1e
	ValueBoolean      ValueKind = 0x1f
)

// EncodedValue is a decoded encoded_value. Bits holds integers sign (or for
// char, zero) extended, float/double bit patterns, and index values.
type EncodedValue struct {
	Kind       ValueKind
	Bits       uint64
	Array      []EncodedValue
	Annotation *EncodedAnnotation
}

// Index returns Bits as a pool index for the reference kinds.
func (v EncodedValue) Index() uint32 {
	return uint32(v.Bits)
}

// Bool reports the value of a ValueBoolean.
func (v EncodedValue) Bool() bool {
	return v.Bits != 0
}

// EncodedAnnotation is a type plus name/value elements.
type EncodedAnnotation struct {
	Type     uint32
	Elements []AnnotationElement
}

// AnnotationElement is a single name = value pair.
type AnnotationElement struct {
	Name  uint32
	Value EncodedValue
}

// Annotation visibilities.
const (
	VisibilityBuild   = 0x00
	VisibilityRuntime = 0x01
	VisibilitySystem  = 0x02
)

// Annotation is an annotation_item.
type Annotation struct {
	Visibility uint8
	EncodedAnnotation
}

// AnnotationsDirectory holds the annotations of one class and its members,
// keyed by field and method index.
type AnnotationsDirectory struct {
	Class      []Annotation
	Fields     map[uint32][]Annotation
	Methods    map[uint32][]Annotation
	Parameters map[uint32][][]Annotation
}

func (l *loader) encodedValue(s *stream, owner string, depth int) (EncodedValue, error) {
	if depth > 64 {
		return EncodedValue{}, malformed("encoded value nesting too deep in %s", owner)
	}
	tag := s.u8()
	if s.err != nil {
		return EncodedValue{}, s.err
	}
	v := EncodedValue{Kind: ValueKind(tag & 0x1f)}
	arg := uint(tag >> 5)

	switch v.Kind {
	case ValueArray:
		arr, err := l.encodedArrayBody(s, owner, depth)
		v.Array = arr
		return v, err
	case ValueAnnotation:
		a, err := l.encodedAnnotation(s, owner, depth)
		v.Annotation = a
		return v, err
	case ValueNull:
		return v, nil
	case ValueBoolean:
		v.Bits = uint64(arg)
		return v, nil
	}

	size := arg + 1
	var raw uint64
	for i := uint(0); i < size; i++ {
		raw |= uint64(s.u8()) << (8 * i)
	}
	if s.err != nil {
		return v, s.err
	}

	var err error
	switch v.Kind {
	case ValueByte, ValueShort, ValueInt, ValueLong:
		shift := 64 - 8*size
		v.Bits = uint64(int64(raw<<shift) >> shift)
	case ValueChar:
		v.Bits = raw
	case ValueFloat:
		// zero extended to the right
		v.Bits = raw << (32 - 8*size)
	case ValueDouble:
		v.Bits = raw << (64 - 8*size)
	case ValueString:
		v.Bits = raw
		err = check("string", v.Index(), len(l.c.Strings), owner, false)
	case ValueType:
		v.Bits = raw
		err = check("type", v.Index(), len(l.c.Types), owner, false)
	case ValueField, ValueEnum:
		v.Bits = raw
		err = check("field", v.Index(), len(l.c.Fields), owner, false)
	case ValueMethod:
		v.Bits = raw
		err = check("method", v.Index(), len(l.c.Methods), owner, false)
	case ValueMethodType:
		v.Bits = raw
		err = check("proto", v.Index(), len(l.c.Protos), owner, false)
	case ValueMethodHandle:
		v.Bits = raw
		err = check("method_handle", v.Index(), len(l.c.MethodHandles), owner, false)
	default:
		err = malformed("unknown encoded value type %#x in %s", uint8(v.Kind), owner)
	}
	return v, err
}

func (l *loader) encodedArrayBody(s *stream, owner string, depth int) ([]EncodedValue, error) {
	n := s.uleb128()
	if s.err != nil {
		return nil, s.err
	}
	if uint64(n) > uint64(len(l.data)) {
		return nil, malformed("encoded array of %d values in %s", n, owner)
	}
	values := make([]EncodedValue, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := l.encodedValue(s, owner, depth+1)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (l *loader) encodedArray(off uint32, owner string) ([]EncodedValue, error) {
	if off == 0 {
		return nil, nil
	}
	return l.encodedArrayBody(newStream(l.data, off), owner, 0)
}

func (l *loader) encodedAnnotation(s *stream, owner string, depth int) (*EncodedAnnotation, error) {
	a := &EncodedAnnotation{Type: s.uleb128()}
	n := s.uleb128()
	if s.err != nil {
		return nil, s.err
	}
	if err := check("type", a.Type, len(l.c.Types), owner, false); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		e := AnnotationElement{Name: s.uleb128()}
		if s.err != nil {
			return nil, s.err
		}
		if err := check("string", e.Name, len(l.c.Strings), owner, false); err != nil {
			return nil, err
		}
		v, err := l.encodedValue(s, owner, depth+1)
		if err != nil {
			return nil, err
		}
		e.Value = v
		a.Elements = append(a.Elements, e)
	}
	return a, nil
}

func (l *loader) annotationSet(off uint32, owner string) ([]Annotation, error) {
	if off == 0 {
		return nil, nil
	}
	s := newStream(l.data, off)
	n := s.u32()
	if s.err != nil {
		return nil, s.err
	}
	if uint64(n)*4 > uint64(len(l.data)) {
		return nil, malformed("annotation set at %#x claims %d entries", off, n)
	}
	set := make([]Annotation, 0, n)
	for i := uint32(0); i < n; i++ {
		itemOff := s.u32()
		if s.err != nil {
			return nil, s.err
		}
		item := newStream(l.data, itemOff)
		vis := item.u8()
		enc, err := l.encodedAnnotation(item, owner, 0)
		if err != nil {
			return nil, err
		}
		set = append(set, Annotation{Visibility: vis, EncodedAnnotation: *enc})
	}
	return set, nil
}

func (l *loader) annotationsDirectory(off uint32, owner string) (*AnnotationsDirectory, error) {
	if off == 0 {
		return nil, nil
	}
	s := newStream(l.data, off)
	classOff := s.u32()
	nFields := s.u32()
	nMethods := s.u32()
	nParams := s.u32()
	if s.err != nil {
		return nil, s.err
	}
	if uint64(nFields+nMethods+nParams)*8 > uint64(len(l.data)) {
		return nil, malformed("annotations directory at %#x is too large", off)
	}

	dir := &AnnotationsDirectory{
		Fields:     map[uint32][]Annotation{},
		Methods:    map[uint32][]Annotation{},
		Parameters: map[uint32][][]Annotation{},
	}
	var err error
	if dir.Class, err = l.annotationSet(classOff, owner); err != nil {
		return nil, err
	}
	for i := uint32(0); i < nFields; i++ {
		idx, setOff := s.u32(), s.u32()
		if err := check("field", idx, len(l.c.Fields), owner+" field annotations", false); err != nil {
			return nil, err
		}
		if dir.Fields[idx], err = l.annotationSet(setOff, owner); err != nil {
			return nil, err
		}
	}
	for i := uint32(0); i < nMethods; i++ {
		idx, setOff := s.u32(), s.u32()
		if err := check("method", idx, len(l.c.Methods), owner+" method annotations", false); err != nil {
			return nil, err
		}
		if dir.Methods[idx], err = l.annotationSet(setOff, owner); err != nil {
			return nil, err
		}
	}
	for i := uint32(0); i < nParams; i++ {
		idx, refOff := s.u32(), s.u32()
		if err := check("method", idx, len(l.c.Methods), owner+" parameter annotations", false); err != nil {
			return nil, err
		}
		refs := newStream(l.data, refOff)
		n := refs.u32()
		if refs.err != nil {
			return nil, refs.err
		}
		if n > 255 {
			return nil, malformed("%d parameter annotation sets in %s", n, owner)
		}
		sets := make([][]Annotation, n)
		for j := range sets {
			if sets[j], err = l.annotationSet(refs.u32(), owner); err != nil {
				return nil, err
			}
		}
		if refs.err != nil {
			return nil, refs.err
		}
		dir.Parameters[idx] = sets
	}
	return dir, s.err
}

// String renders v for diagnostics.
func (v EncodedValue) String() string {
	return fmt.Sprintf("%#x:%#x", uint8(v.Kind), v.Bits)
}
