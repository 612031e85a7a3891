package deodex

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vsoch/gobaksmali/descriptor"
	"github.com/vsoch/gobaksmali/parsers/dex"
	"golang.org/x/sync/errgroup"
)

// SplitList splits a colon separated classpath, dropping empty entries.
func SplitList(list string) []string {
	var out []string
	for _, e := range strings.Split(list, ":") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// ResolveEntries finds every entry of the boot classpath, then of the
// extra entries, in dirs. An entry given as "core.jar" also matches an
// optimized "core.odex" next to it. Absolute entries are used as is.
func ResolveEntries(bootClassPath, extra string, dirs []string) ([]string, error) {
	var out []string
	for _, entry := range append(SplitList(bootClassPath), SplitList(extra)...) {
		path, err := resolveEntry(entry, dirs)
		if err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

func resolveEntry(entry string, dirs []string) (string, error) {
	candidates := []string{entry}
	if ext := filepath.Ext(entry); ext != ".odex" {
		candidates = append(candidates, strings.TrimSuffix(entry, ext)+".odex")
	}
	if filepath.IsAbs(entry) {
		for _, c := range candidates {
			if isFile(c) {
				return c, nil
			}
		}
		// Odex dependencies name device paths; retry on the base name.
		return resolveEntry(filepath.Base(entry), dirs)
	}
	for _, dir := range dirs {
		for _, c := range candidates {
			if path := filepath.Join(dir, c); isFile(path) {
				return path, nil
			}
		}
	}
	return "", &MissingEntryError{Entry: entry, Dirs: dirs}
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// LoadClasspath opens every path in parallel. The containers come back in
// classpath order, which is also the lookup priority.
func LoadClasspath(ctx context.Context, paths []string, opts dex.ReadOptions) ([]*dex.Container, error) {
	loaded := make([][]*dex.Container, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cs, err := dex.Open(path, opts)
			if err != nil {
				return err
			}
			loaded[i] = cs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []*dex.Container
	for _, cs := range loaded {
		out = append(out, cs...)
	}
	return out, nil
}

// Member is a field or method as the classpath sees it. Type is the field
// type, or the prototype of a method.
type Member struct {
	Class  string
	Name   string
	Type   string
	Access uint32
}

// FieldString renders the member as a field reference.
func (m Member) FieldString() string {
	return m.Class + "->" + m.Name + ":" + m.Type
}

// MethodString renders the member as a method reference.
func (m Member) MethodString() string {
	return m.Class + "->" + m.Name + m.Type
}

// ClassInfo is the runtime layout of one class.
type ClassInfo struct {
	Descriptor  string
	Super       string
	Interfaces  []string
	Access      uint32
	IsInterface bool
	// Resolved is false when the class or one of its ancestors could not
	// be found; its layout is then incomplete.
	Resolved bool

	// ObjectSize is the instance size in bytes, header included.
	ObjectSize uint32
	// Fields maps byte offsets to instance fields, inherited ones too.
	Fields map[uint32]Member
	Vtable []Member

	// Direct and Virtual are the methods the class itself declares.
	Direct  []Member
	Virtual []Member
}

// Method finds a declared method by name and prototype.
func (ci *ClassInfo) Method(name, proto string) (Member, bool) {
	for _, list := range [][]Member{ci.Direct, ci.Virtual} {
		for _, m := range list {
			if m.Name == name && m.Type == proto {
				return m, true
			}
		}
	}
	return Member{}, false
}

type classSource struct {
	c   *dex.Container
	def *dex.ClassDef
}

// IndexOptions configure layout computation
type IndexOptions struct {
	// CheckPackagePrivateAccess stops a method from overriding a package
	// private method of a superclass in another package.
	CheckPackagePrivateAccess bool
}

// ClasspathIndex answers layout questions about the classes of a boot
// classpath. Layouts are computed on first use and cached; lookups are
// safe for concurrent use. Layer adds a higher priority container (the
// one being disassembled) without touching the shared index.
type ClasspathIndex struct {
	parent *ClasspathIndex
	opts   IndexOptions
	defs   map[string]classSource

	mu      sync.Mutex
	classes map[string]*ClassInfo
	pending map[string]bool
}

// NewClasspathIndex indexes containers in priority order: the first
// definition of a descriptor wins.
func NewClasspathIndex(containers []*dex.Container, opts IndexOptions) *ClasspathIndex {
	ix := &ClasspathIndex{
		opts:    opts,
		defs:    map[string]classSource{},
		classes: map[string]*ClassInfo{},
		pending: map[string]bool{},
	}
	for _, c := range containers {
		ix.add(c)
	}
	return ix
}

func (ix *ClasspathIndex) add(c *dex.Container) {
	for _, def := range c.Classes {
		desc := c.ClassName(def)
		if _, ok := ix.defs[desc]; !ok {
			ix.defs[desc] = classSource{c: c, def: def}
		}
	}
}

// Layer returns an index that looks in c before falling back to ix.
func (ix *ClasspathIndex) Layer(c *dex.Container) *ClasspathIndex {
	child := NewClasspathIndex([]*dex.Container{c}, ix.opts)
	child.parent = ix
	return child
}

// Len returns the number of distinct classes the index can see.
func (ix *ClasspathIndex) Len() int {
	seen := map[string]bool{}
	for ; ix != nil; ix = ix.parent {
		for desc := range ix.defs {
			seen[desc] = true
		}
	}
	return len(seen)
}

// Has reports whether a class definition for desc is visible.
func (ix *ClasspathIndex) Has(desc string) bool {
	for ; ix != nil; ix = ix.parent {
		if _, ok := ix.defs[desc]; ok {
			return true
		}
	}
	return false
}

// Class returns the layout of desc, or nil when no layer defines it. Array
// types share the layout of java.lang.Object.
func (ix *ClasspathIndex) Class(desc string) *ClassInfo {
	if descriptor.IsArray(desc) {
		desc = descriptor.Object
	}
	if _, ok := ix.defs[desc]; !ok {
		return ix.outside(desc)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.classLocked(desc)
}

func (ix *ClasspathIndex) outside(desc string) *ClassInfo {
	if ix.parent != nil {
		return ix.parent.Class(desc)
	}
	return nil
}

func (ix *ClasspathIndex) classLocked(desc string) *ClassInfo {
	if ci, ok := ix.classes[desc]; ok {
		return ci
	}
	src, ok := ix.defs[desc]
	if !ok {
		return ix.outside(desc)
	}
	if ix.pending[desc] {
		// circular hierarchy
		return nil
	}
	ix.pending[desc] = true
	defer delete(ix.pending, desc)

	ci := newClassInfo(src)
	var super *ClassInfo
	if ci.Super != "" {
		super = ix.classLocked(ci.Super)
	}
	var ifaces []*ClassInfo
	for _, name := range ci.Interfaces {
		if iface := ix.classLocked(name); iface != nil {
			ifaces = append(ifaces, iface)
		}
	}
	ix.layout(ci, src, super, ifaces)
	ix.classes[desc] = ci
	return ci
}

func newClassInfo(src classSource) *ClassInfo {
	c, def := src.c, src.def
	ci := &ClassInfo{
		Descriptor:  c.ClassName(def),
		Super:       c.SuperName(def),
		Access:      def.AccessFlags,
		IsInterface: def.AccessFlags&descriptor.AccInterface != 0,
		Resolved:    true,
		Fields:      map[uint32]Member{},
	}
	for _, t := range def.Interfaces {
		ci.Interfaces = append(ci.Interfaces, c.Type(t))
	}
	for _, m := range def.DirectMethods {
		ci.Direct = append(ci.Direct, methodMember(c, m))
	}
	for _, m := range def.VirtualMethods {
		ci.Virtual = append(ci.Virtual, methodMember(c, m))
	}
	return ci
}

func methodMember(c *dex.Container, m *dex.EncodedMethod) Member {
	ref := c.Methods[m.Method]
	return Member{
		Class:  c.Type(ref.Class),
		Name:   c.String(ref.Name),
		Type:   c.ProtoString(ref.Proto),
		Access: m.AccessFlags,
	}
}

func fieldMember(c *dex.Container, f dex.EncodedField) Member {
	ref := c.Fields[f.Field]
	return Member{
		Class:  c.Type(ref.Class),
		Name:   c.String(ref.Name),
		Type:   c.Type(ref.Type),
		Access: f.AccessFlags,
	}
}

// Ancestors returns desc followed by its superclasses, as far as they are
// known.
func (ix *ClasspathIndex) Ancestors(desc string) []string {
	var out []string
	seen := map[string]bool{}
	for desc != "" && !seen[desc] {
		seen[desc] = true
		out = append(out, desc)
		ci := ix.Class(desc)
		if ci == nil {
			break
		}
		desc = ci.Super
	}
	return out
}

// IsSubclass reports whether desc is super or extends it.
func (ix *ClasspathIndex) IsSubclass(desc, super string) bool {
	for _, a := range ix.Ancestors(desc) {
		if a == super {
			return true
		}
	}
	return false
}

// CommonSuperclass returns the closest class both a and b extend.
func (ix *ClasspathIndex) CommonSuperclass(a, b string) string {
	if a == b {
		return a
	}
	if descriptor.IsArray(a) || descriptor.IsArray(b) {
		ea, eb := descriptor.ElementType(a), descriptor.ElementType(b)
		if descriptor.IsReference(ea) && descriptor.IsReference(eb) {
			return "[" + ix.CommonSuperclass(ea, eb)
		}
		return descriptor.Object
	}
	mine := map[string]bool{}
	for _, x := range ix.Ancestors(a) {
		mine[x] = true
	}
	for _, y := range ix.Ancestors(b) {
		if mine[y] {
			return y
		}
	}
	return descriptor.Object
}
