package smali

import (
	"bytes"
	"fmt"

	"github.com/vsoch/gobaksmali/descriptor"
	"github.com/vsoch/gobaksmali/parsers/dex"
)

// render assembles the text of one class in memory.
//
//	.class <access> <descriptor>
//	.super <descriptor>
//	.source "<file>"
//
// followed by the interfaces, annotations, static fields, instance fields,
// direct methods and virtual methods, each section under a "# name"
// heading and separated by a blank line pair.
func (e *Emitter) render(cl *dex.ClassDef, st *Stats) ([]byte, error) {
	c := e.c
	var b bytes.Buffer
	fmt.Fprintf(&b, ".class %s\n", join(descriptor.AccessString(cl.AccessFlags, descriptor.ForClass), c.ClassName(cl)))
	if super := c.SuperName(cl); super != "" {
		fmt.Fprintf(&b, ".super %s\n", super)
	}
	if cl.SourceFile != dex.NoIndex {
		fmt.Fprintf(&b, ".source %s\n", quote(c.String(cl.SourceFile)))
	}

	if len(cl.Interfaces) > 0 {
		b.WriteString("\n\n# interfaces\n")
		for _, t := range cl.Interfaces {
			fmt.Fprintf(&b, ".implements %s\n", c.Type(t))
		}
	}
	if cl.Annotations != nil && len(cl.Annotations.Class) > 0 {
		b.WriteString("\n\n# annotations\n")
		e.annotations(&b, cl.Annotations.Class, "")
	}

	e.fields(&b, cl, "static fields", cl.StaticFields, cl.StaticValues)
	e.fields(&b, cl, "instance fields", cl.InstanceFields, nil)
	if err := e.methods(&b, cl, "direct methods", cl.DirectMethods, st); err != nil {
		return nil, err
	}
	if err := e.methods(&b, cl, "virtual methods", cl.VirtualMethods, st); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// fields writes one field section. values are the initial values of the
// leading static fields.
func (e *Emitter) fields(b *bytes.Buffer, cl *dex.ClassDef, title string, fields []dex.EncodedField, values []dex.EncodedValue) {
	if len(fields) == 0 {
		return
	}
	c := e.c
	fmt.Fprintf(b, "\n\n# %s\n", title)
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('\n')
		}
		ref := c.Fields[f.Field]
		name := c.String(ref.Name) + ":" + c.Type(ref.Type)
		fmt.Fprintf(b, ".field %s", join(descriptor.AccessString(f.AccessFlags, descriptor.ForField), name))
		if i < len(values) {
			b.WriteString(" = ")
			e.value(b, values[i], "")
		}
		b.WriteByte('\n')
		if set := fieldAnnotations(cl, f.Field); len(set) > 0 {
			e.annotations(b, set, "    ")
			b.WriteString(".end field\n")
		}
	}
}

func (e *Emitter) methods(b *bytes.Buffer, cl *dex.ClassDef, title string, methods []*dex.EncodedMethod, st *Stats) error {
	if len(methods) == 0 {
		return nil
	}
	fmt.Fprintf(b, "\n\n# %s\n", title)
	for i, m := range methods {
		if i > 0 {
			b.WriteByte('\n')
		}
		if err := e.method(b, cl, m, st); err != nil {
			return err
		}
	}
	return nil
}
