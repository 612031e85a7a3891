package smali

import (
	"bytes"
	"fmt"

	"github.com/vsoch/gobaksmali/parsers/dex"
)

var visibilities = map[uint8]string{
	dex.VisibilityBuild:   "build",
	dex.VisibilityRuntime: "runtime",
	dex.VisibilitySystem:  "system",
}

func visibility(v uint8) string {
	if name, ok := visibilities[v]; ok {
		return name
	}
	return fmt.Sprintf("visibility-%#x", v)
}

// annotations writes an annotation set, one blank line between entries.
func (e *Emitter) annotations(b *bytes.Buffer, set []dex.Annotation, indent string) {
	for i, a := range set {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(b, "%s.annotation %s %s\n", indent, visibility(a.Visibility), e.c.Type(a.Type))
		e.elements(b, a.Elements, indent+"    ")
		fmt.Fprintf(b, "%s.end annotation\n", indent)
	}
}

func (e *Emitter) elements(b *bytes.Buffer, elems []dex.AnnotationElement, indent string) {
	for _, el := range elems {
		fmt.Fprintf(b, "%s%s = ", indent, e.c.String(el.Name))
		e.value(b, el.Value, indent)
		b.WriteByte('\n')
	}
}

func fieldAnnotations(cl *dex.ClassDef, field uint32) []dex.Annotation {
	if cl.Annotations == nil {
		return nil
	}
	return cl.Annotations.Fields[field]
}

func methodAnnotations(cl *dex.ClassDef, method uint32) []dex.Annotation {
	if cl.Annotations == nil {
		return nil
	}
	return cl.Annotations.Methods[method]
}

func parameterAnnotations(cl *dex.ClassDef, method uint32) [][]dex.Annotation {
	if cl.Annotations == nil {
		return nil
	}
	return cl.Annotations.Parameters[method]
}
