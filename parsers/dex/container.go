package dex

import (
	"fmt"
	"strings"
)

// Container is one parsed dex (or odex) file. Every cross reference held by
// its classes and members is an index into the pools below; indices never
// point into another Container. A Container is read-only once Read returns.
type Container struct {
	Name        string
	Header      Header
	Odex        *OdexHeader
	OdexDeps    []string
	IsOptimized bool
	Map         []MapItem

	Strings       []string
	Types         []uint32 // descriptor string index per type id
	Protos        []Proto
	Fields        []FieldRef
	Methods       []MethodRef
	MethodHandles []MethodHandle
	CallSites     []CallSite
	Classes       []*ClassDef

	// Skipped holds the errors of classes dropped under IgnoreErrors.
	Skipped []error

	data  []byte
	byTyp map[uint32]*ClassDef
}

// Proto is a method prototype.
type Proto struct {
	Shorty     uint32
	ReturnType uint32
	Params     []uint32
}

// FieldRef identifies a field by defining class, type and name.
type FieldRef struct {
	Class uint32
	Type  uint32
	Name  uint32
}

// MethodRef identifies a method by defining class, prototype and name.
type MethodRef struct {
	Class uint32
	Proto uint32
	Name  uint32
}

// MethodHandle kinds.
const (
	HandleStaticPut = iota
	HandleStaticGet
	HandleInstancePut
	HandleInstanceGet
	HandleInvokeStatic
	HandleInvokeInstance
	HandleInvokeConstructor
	HandleInvokeDirect
	HandleInvokeInterface
)

// MethodHandle references a field (kinds 0-3) or a method (kinds 4-8).
type MethodHandle struct {
	Kind   uint16
	Target uint32
}

// IsField reports whether Target is a field index.
func (h MethodHandle) IsField() bool {
	return h.Kind <= HandleInstanceGet
}

// CallSite is the decoded call_site_item: bootstrap handle, name, type and
// any extra bootstrap arguments.
type CallSite struct {
	Values []EncodedValue
}

// Bytes returns the raw dex bytes (the embedded dex for odex input).
func (c *Container) Bytes() []byte {
	return c.data
}

// String returns the pool string, or a placeholder for a bad index.
func (c *Container) String(i uint32) string {
	if int(i) >= len(c.Strings) {
		return fmt.Sprintf("<string@%d>", i)
	}
	return c.Strings[i]
}

// Type returns the type descriptor for type id i.
func (c *Container) Type(i uint32) string {
	if int(i) >= len(c.Types) {
		return fmt.Sprintf("<type@%d>", i)
	}
	return c.String(c.Types[i])
}

// ProtoString renders a prototype as "(params)ret".
func (c *Container) ProtoString(i uint32) string {
	if int(i) >= len(c.Protos) {
		return fmt.Sprintf("<proto@%d>", i)
	}
	p := c.Protos[i]
	var b strings.Builder
	b.WriteByte('(')
	for _, t := range p.Params {
		b.WriteString(c.Type(t))
	}
	b.WriteByte(')')
	b.WriteString(c.Type(p.ReturnType))
	return b.String()
}

// FieldString renders "Lcls;->name:Type".
func (c *Container) FieldString(i uint32) string {
	if int(i) >= len(c.Fields) {
		return fmt.Sprintf("<field@%d>", i)
	}
	f := c.Fields[i]
	return c.Type(f.Class) + "->" + c.String(f.Name) + ":" + c.Type(f.Type)
}

// MethodString renders "Lcls;->name(params)ret".
func (c *Container) MethodString(i uint32) string {
	if int(i) >= len(c.Methods) {
		return fmt.Sprintf("<method@%d>", i)
	}
	m := c.Methods[i]
	return c.Type(m.Class) + "->" + c.String(m.Name) + c.ProtoString(m.Proto)
}

// MethodHandleString renders a handle as "kind@target".
func (c *Container) MethodHandleString(i uint32) string {
	if int(i) >= len(c.MethodHandles) {
		return fmt.Sprintf("<method_handle@%d>", i)
	}
	h := c.MethodHandles[i]
	kind := handleKindNames[h.Kind]
	if h.IsField() {
		return kind + "@" + c.FieldString(h.Target)
	}
	return kind + "@" + c.MethodString(h.Target)
}

var handleKindNames = map[uint16]string{
	HandleStaticPut:         "static-put",
	HandleStaticGet:         "static-get",
	HandleInstancePut:       "instance-put",
	HandleInstanceGet:       "instance-get",
	HandleInvokeStatic:      "invoke-static",
	HandleInvokeInstance:    "invoke-instance",
	HandleInvokeConstructor: "invoke-constructor",
	HandleInvokeDirect:      "invoke-direct",
	HandleInvokeInterface:   "invoke-interface",
}

// ClassByType finds the class defined for descriptor type id t.
func (c *Container) ClassByType(t uint32) *ClassDef {
	return c.byTyp[t]
}

// ClassByDescriptor finds a class defined in this container by descriptor.
func (c *Container) ClassByDescriptor(desc string) *ClassDef {
	for _, cl := range c.Classes {
		if c.Type(cl.Type) == desc {
			return cl
		}
	}
	return nil
}

// FindMethod returns the encoded method for method index idx when it is
// defined by a class in this container.
func (c *Container) FindMethod(idx uint32) (*ClassDef, *EncodedMethod) {
	if int(idx) >= len(c.Methods) {
		return nil, nil
	}
	cl := c.byTyp[c.Methods[idx].Class]
	if cl == nil {
		return nil, nil
	}
	for _, m := range cl.DirectMethods {
		if m.Method == idx {
			return cl, m
		}
	}
	for _, m := range cl.VirtualMethods {
		if m.Method == idx {
			return cl, m
		}
	}
	return cl, nil
}
