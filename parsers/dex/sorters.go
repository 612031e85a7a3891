package dex

import "sort"

// SortByName orders classes by descriptor
type SortByName struct {
	c       *Container
	classes []*ClassDef
}

func (x SortByName) Less(i, j int) bool {
	return x.c.ClassName(x.classes[i]) < x.c.ClassName(x.classes[j])
}

// Len returns the number of classes in the sorter
func (x SortByName) Len() int {
	return len(x.classes)
}

// Swap swaps two classes
func (x SortByName) Swap(i, j int) {
	x.classes[i], x.classes[j] = x.classes[j], x.classes[i]
}

// SortedClasses returns a copy of Classes ordered by descriptor. The
// declaration order in Classes is left untouched.
func (c *Container) SortedClasses() []*ClassDef {
	out := make([]*ClassDef, len(c.Classes))
	copy(out, c.Classes)
	sort.Stable(SortByName{c: c, classes: out})
	return out
}
