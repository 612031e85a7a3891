package dex

import "fmt"

// ClassDef is a class_def_item together with its decoded class data.
// Fields and methods are kept partitioned the way the format stores them.
type ClassDef struct {
	// Index is the position in the class_defs section.
	Index       int
	Type        uint32
	AccessFlags uint32
	Super       uint32 // NoIndex for java.lang.Object
	Interfaces  []uint32
	SourceFile  uint32 // NoIndex when absent

	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []*EncodedMethod
	VirtualMethods []*EncodedMethod

	// StaticValues are the initial values of the leading static fields.
	StaticValues []EncodedValue
	Annotations  *AnnotationsDirectory
}

// EncodedField is a field declared by a class.
type EncodedField struct {
	Field       uint32
	AccessFlags uint32
}

// EncodedMethod is a method declared by a class. Code is nil for abstract
// and native methods.
type EncodedMethod struct {
	Method      uint32
	AccessFlags uint32
	CodeOff     uint32
	Code        *CodeItem
}

// NumMethods returns the number of declared methods
func (cl *ClassDef) NumMethods() int {
	return len(cl.DirectMethods) + len(cl.VirtualMethods)
}

// Methods returns direct then virtual methods.
func (cl *ClassDef) Methods() []*EncodedMethod {
	out := make([]*EncodedMethod, 0, cl.NumMethods())
	out = append(out, cl.DirectMethods...)
	return append(out, cl.VirtualMethods...)
}

// ClassName returns the class descriptor.
func (c *Container) ClassName(cl *ClassDef) string {
	return c.Type(cl.Type)
}

// SuperName returns the superclass descriptor or "".
func (c *Container) SuperName(cl *ClassDef) string {
	if cl.Super == NoIndex {
		return ""
	}
	return c.Type(cl.Super)
}

func (l *loader) readClass(i, off uint32) (*ClassDef, error) {
	s := newStream(l.data, off)
	cl := &ClassDef{Index: int(i)}
	cl.Type = s.u32()
	cl.AccessFlags = s.u32()
	cl.Super = s.u32()
	interfacesOff := s.u32()
	cl.SourceFile = s.u32()
	annotationsOff := s.u32()
	classDataOff := s.u32()
	staticValuesOff := s.u32()
	if s.err != nil {
		return nil, s.err
	}

	owner := fmt.Sprintf("class_defs[%d]", i)
	if err := check("type", cl.Type, len(l.c.Types), owner, false); err != nil {
		return nil, err
	}
	owner = "class " + l.c.Type(cl.Type)
	if err := check("type", cl.Super, len(l.c.Types), owner+" superclass", true); err != nil {
		return nil, err
	}
	if err := check("string", cl.SourceFile, len(l.c.Strings), owner+" source file", true); err != nil {
		return nil, err
	}

	var err error
	if cl.Interfaces, err = l.typeList(interfacesOff, owner+" interfaces"); err != nil {
		return nil, err
	}
	if err = l.readClassData(cl, classDataOff, owner); err != nil {
		return nil, err
	}
	if cl.StaticValues, err = l.encodedArray(staticValuesOff, owner+" static values"); err != nil {
		return nil, err
	}
	if len(cl.StaticValues) > len(cl.StaticFields) {
		return nil, malformed("%s has %d static values for %d static fields",
			owner, len(cl.StaticValues), len(cl.StaticFields))
	}
	if cl.Annotations, err = l.annotationsDirectory(annotationsOff, owner); err != nil {
		return nil, err
	}
	return cl, nil
}

//
// Note that within the class_data_item the counts and member indices are
// ULEB128 encoded, and member indices are deltas from the previous entry
// of the same list.
//
func (l *loader) readClassData(cl *ClassDef, off uint32, owner string) error {
	if off == 0 {
		return nil
	}
	s := newStream(l.data, off)
	numStatic := s.uleb128()
	numInstance := s.uleb128()
	numDirect := s.uleb128()
	numVirtual := s.uleb128()
	if s.err != nil {
		return s.err
	}
	if uint64(numStatic)+uint64(numInstance)+uint64(numDirect)+uint64(numVirtual) > uint64(len(l.data)) {
		return malformed("%s class data claims too many members", owner)
	}

	readFields := func(n uint32) ([]EncodedField, error) {
		var out []EncodedField
		idx := uint32(0)
		for i := uint32(0); i < n; i++ {
			idx += s.uleb128()
			f := EncodedField{Field: idx, AccessFlags: s.uleb128()}
			if s.err != nil {
				return nil, s.err
			}
			if err := check("field", f.Field, len(l.c.Fields), owner, false); err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	}
	readMethods := func(n uint32) ([]*EncodedMethod, error) {
		var out []*EncodedMethod
		idx := uint32(0)
		for i := uint32(0); i < n; i++ {
			idx += s.uleb128()
			m := &EncodedMethod{Method: idx, AccessFlags: s.uleb128(), CodeOff: s.uleb128()}
			if s.err != nil {
				return nil, s.err
			}
			if err := check("method", m.Method, len(l.c.Methods), owner, false); err != nil {
				return nil, err
			}
			if m.CodeOff != 0 {
				code, err := l.readCode(m.CodeOff, owner+"->"+l.c.String(l.c.Methods[m.Method].Name))
				if err != nil {
					return nil, err
				}
				m.Code = code
			}
			out = append(out, m)
		}
		return out, nil
	}

	var err error
	if cl.StaticFields, err = readFields(numStatic); err != nil {
		return err
	}
	if cl.InstanceFields, err = readFields(numInstance); err != nil {
		return err
	}
	if cl.DirectMethods, err = readMethods(numDirect); err != nil {
		return err
	}
	if cl.VirtualMethods, err = readMethods(numVirtual); err != nil {
		return err
	}
	return nil
}
