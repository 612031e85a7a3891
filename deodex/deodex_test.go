package deodex_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/vsoch/gobaksmali/deodex"
	"github.com/vsoch/gobaksmali/parsers/dalvik"
	"github.com/vsoch/gobaksmali/parsers/dex"
	"github.com/vsoch/gobaksmali/parsers/dex/dextest"
)

const (
	base = "Lcom/example/Base;"
	sub  = "Lcom/example/Sub;"
)

// boot builds a boot classpath image: Object with three virtual methods
// and Base, which overrides toString and declares fields of each kind.
func boot() *dextest.Builder {
	b := dextest.New()
	b.AddClass(&dextest.Class{
		Descriptor: "Ljava/lang/Object;",
		Access:     dextest.AccPublic,
		VirtualMethods: []*dextest.Method{
			{Name: "equals", Return: "Z", Params: []string{"Ljava/lang/Object;"}, Access: dextest.AccPublic},
			{Name: "hashCode", Return: "I", Access: dextest.AccPublic},
			{Name: "toString", Return: "Ljava/lang/String;", Access: dextest.AccPublic},
		},
	})
	b.AddClass(&dextest.Class{
		Descriptor: base,
		Access:     dextest.AccPublic,
		Super:      "Ljava/lang/Object;",
		InstanceFields: []dextest.Field{
			{Name: "a", Type: "I"},
			{Name: "o", Type: "Ljava/lang/Object;"},
			{Name: "w", Type: "J"},
			{Name: "flag", Type: "Z"},
		},
		VirtualMethods: []*dextest.Method{
			{Name: "toString", Return: "Ljava/lang/String;", Access: dextest.AccPublic},
			{Name: "run", Return: "V", Access: dextest.AccPublic},
		},
	})
	return b
}

// odex wraps one instance method of Sub (a subclass of Base) holding the
// given code in an optimized container.
func odex(registers, ins uint16, insns []uint16) *dextest.Builder {
	return addSub(dextest.New(), registers, ins, insns)
}

func addSub(b *dextest.Builder, registers, ins uint16, insns []uint16) *dextest.Builder {
	b.Odex = true
	b.AddClass(&dextest.Class{
		Descriptor: sub,
		Access:     dextest.AccPublic,
		Super:      base,
		VirtualMethods: []*dextest.Method{{
			Name:   "go",
			Return: "V",
			Access: dextest.AccPublic,
			Code:   &dextest.Code{Registers: registers, Ins: ins, Insns: insns},
		}},
	})
	return b
}

func read(t *testing.T, b *dextest.Builder) *dex.Container {
	t.Helper()
	c, err := dex.Read(b.Bytes(), dex.ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return c
}

type fixture struct {
	target *dex.Container
	index  *deodex.ClasspathIndex
	table  *dalvik.Table
}

func setup(t *testing.T, b *dextest.Builder) fixture {
	bootC := read(t, boot())
	target := read(t, b)
	index := deodex.NewClasspathIndex([]*dex.Container{bootC}, deodex.IndexOptions{}).Layer(target)
	return fixture{target: target, index: index, table: dalvik.ForAPILevel(14, false)}
}

func (f fixture) run(t *testing.T, opts deodex.Options) (dalvik.Patches, []error, []dalvik.Instruction) {
	t.Helper()
	d := deodex.New(f.target, f.index, f.table, nil, opts)
	cl := f.target.Classes[0]
	m := cl.VirtualMethods[0]
	patches, errs := d.Method(cl, m)
	insns, _ := dalvik.DecodeAll(m.Code, f.table, f.target, patches)
	return patches, errs, insns
}

// quickened is the body of Sub.go; v2 is this.
var quickened = []uint16{
	0x20f2, 0x000c,         // iget-quick v0, v2, field@0xc
	0x21f4, 0x0008,         // iget-object-quick v1, v2, field@0x8
	0x10f8, 0x0001, 0x0001, // invoke-virtual-quick {v1}, vtable@0x1
	0x20f2, 0x0018,         // iget-quick v0, v2, field@0x18
	0x10fa, 0x0002, 0x0002, // invoke-super-quick {v2}, vtable@0x2
	0x10ee, 0x0007, 0x0000, // execute-inline {v0}, inline@0x7
	0x00f1,                 // return-void-barrier
}

func TestClassLayout(t *testing.T) {
	f := setup(t, odex(3, 1, quickened))
	ci := f.index.Class(base)
	if ci == nil || !ci.Resolved {
		t.Fatalf("Base not resolved: %s", spew.Sdump(ci))
	}
	want := map[uint32]string{
		8:  "Lcom/example/Base;->o:Ljava/lang/Object;",
		12: "Lcom/example/Base;->a:I",
		16: "Lcom/example/Base;->w:J",
		24: "Lcom/example/Base;->flag:Z",
	}
	for off, ref := range want {
		if got := ci.Fields[off].FieldString(); got != ref {
			t.Errorf("offset %d: %s, wanted %s", off, got, ref)
		}
	}
	if ci.ObjectSize != 28 {
		t.Errorf("object size %d", ci.ObjectSize)
	}

	var vtable []string
	for _, m := range ci.Vtable {
		vtable = append(vtable, m.MethodString())
	}
	wantVtable := []string{
		"Ljava/lang/Object;->equals(Ljava/lang/Object;)Z",
		"Ljava/lang/Object;->hashCode()I",
		"Lcom/example/Base;->toString()Ljava/lang/String;",
		"Lcom/example/Base;->run()V",
	}
	if strings.Join(vtable, " ") != strings.Join(wantVtable, " ") {
		t.Errorf("vtable %q", vtable)
	}

	// Sub comes from the layered container and inherits everything.
	if s := f.index.Class(sub); s == nil || s.ObjectSize != 28 || len(s.Vtable) != 5 {
		t.Errorf("Sub layout %s", spew.Sdump(s))
	}
	if f.index.Class("[I").Descriptor != "Ljava/lang/Object;" {
		t.Errorf("arrays do not share Object's layout")
	}
	if f.index.Class("Lmissing;") != nil {
		t.Errorf("found a missing class")
	}
	if got := f.index.CommonSuperclass(sub, "Ljava/lang/Object;"); got != "Ljava/lang/Object;" {
		t.Errorf("common superclass %s", got)
	}
	if got := f.index.CommonSuperclass(sub, base); got != base {
		t.Errorf("common superclass %s", got)
	}
}

func TestDeodexMethod(t *testing.T) {
	f := setup(t, odex(3, 1, quickened))
	patches, errs, insns := f.run(t, deodex.Options{})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(patches) != 7 {
		t.Errorf("got %d patches: %s", len(patches), spew.Sdump(patches))
	}

	want := []struct {
		name string
		ref  string
	}{
		{"iget", "Lcom/example/Base;->a:I"},
		{"iget-object", "Lcom/example/Base;->o:Ljava/lang/Object;"},
		{"invoke-virtual", "Ljava/lang/Object;->hashCode()I"},
		{"iget-boolean", "Lcom/example/Base;->flag:Z"},
		{"invoke-super", "Lcom/example/Base;->toString()Ljava/lang/String;"},
		{"invoke-static", "Ljava/lang/Math;->abs(I)I"},
		{"return-void", ""},
	}
	if len(insns) != len(want) {
		t.Fatalf("decoded %d instructions", len(insns))
	}
	for i, w := range want {
		ins := insns[i]
		if ins.Name() != w.name || ins.Ref != w.ref {
			t.Errorf("instruction %d: %s %s, wanted %s %s", i, ins.Name(), ins.Ref, w.name, w.ref)
		}
		if ins.Original == nil || !ins.Original.IsOdex() {
			t.Errorf("instruction %d lost its original opcode", i)
		}
	}
}

func TestDeodexCanonicalCodeIsUntouched(t *testing.T) {
	b := dextest.New()
	field := b.Field(base, "a", "I")
	// iget v0, v2, Base->a:I
	f := setup(t, addSub(b, 3, 1, []uint16{0x2052, uint16(field), 0x000e}))
	patches, errs, _ := f.run(t, deodex.Options{})
	if patches != nil || errs != nil {
		t.Errorf("canonical code patched: %v %v", patches, errs)
	}
}

func TestDeodexPlainContainer(t *testing.T) {
	b := odex(3, 1, quickened)
	b.Odex = false
	f := setup(t, b)
	if f.target.IsOptimized {
		t.Fatalf("plain container reported as optimized")
	}
	patches, errs, _ := f.run(t, deodex.Options{})
	if patches != nil || errs != nil {
		t.Errorf("plain container deodexed: %v %v", patches, errs)
	}
}

func TestDeodexUnresolved(t *testing.T) {
	insns := []uint16{
		0x10f2, 0x000c, // iget-quick v0, v1, field@0xc; v1 never set
		0x20f2, 0x00f0, // iget-quick v0, v2, field@0xf0; no such field
		0x000e,         // return-void
	}
	f := setup(t, odex(3, 1, insns))

	patches, errs, decoded := f.run(t, deodex.Options{})
	if len(errs) != 2 {
		t.Fatalf("got %d errors: %v", len(errs), errs)
	}
	var unresolved *deodex.UnresolvedQuickRefError
	if !errors.As(errs[0], &unresolved) {
		t.Fatalf("expected *UnresolvedQuickRefError, got %T", errs[0])
	}
	if unresolved.Offset != 0 || unresolved.Opcode != "iget-quick" || !strings.Contains(unresolved.Reason, "no known type") {
		t.Errorf("first error %+v", unresolved)
	}
	if unresolved.Class != sub || unresolved.Method != "Lcom/example/Sub;->go()V" {
		t.Errorf("error context %+v", unresolved)
	}
	if !strings.Contains(errs[1].Error(), "no field at offset 0xf0") {
		t.Errorf("second error %v", errs[1])
	}
	if patches != nil {
		t.Errorf("unexpected patches %v", patches)
	}
	if decoded[0].Name() != "iget-quick" || decoded[0].Ref != "field@0xc" {
		t.Errorf("unresolved instruction changed: %s %s", decoded[0].Name(), decoded[0].Ref)
	}

	patches, errs, _ = f.run(t, deodex.Options{FailOnUnresolved: true})
	if patches != nil || len(errs) != 1 {
		t.Errorf("FailOnUnresolved: %v %v", patches, errs)
	}
}

func TestDeodexFollowsBranches(t *testing.T) {
	insns := []uint16{
		0x0012,                 // const/4 v0, 0
		0x0238, 0x0004,         // if-eqz v2, +4
		0x20f4, 0x0008,         // iget-object-quick v0, v2, field@0x8
		0x10f8, 0x0002, 0x0000, // invoke-virtual-quick {v0}, vtable@0x2
		0x000e,                 // return-void
	}
	f := setup(t, odex(3, 1, insns))
	_, errs, decoded := f.run(t, deodex.Options{})
	// on the branch that skips the field load v0 is null, which joins
	// with Object to Object
	if len(errs) != 0 {
		t.Fatalf("errors: %v", errs)
	}
	if decoded[3].Ref != "Ljava/lang/Object;->toString()Ljava/lang/String;" {
		t.Errorf("invoke resolved to %q", decoded[3].Ref)
	}
}

func TestResolveEntries(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	for _, name := range []string{"core.jar", "framework.odex"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(other, "extra.jar"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	paths, err := deodex.ResolveEntries("core.jar::framework.jar", "extra.jar", []string{dir, other})
	if err != nil {
		t.Fatalf("ResolveEntries: %v", err)
	}
	want := []string{
		filepath.Join(dir, "core.jar"),
		filepath.Join(dir, "framework.odex"),
		filepath.Join(other, "extra.jar"),
	}
	if strings.Join(paths, ":") != strings.Join(want, ":") {
		t.Errorf("got %q", paths)
	}

	// device paths from an odex dependency list fall back to the base name
	paths, err = deodex.ResolveEntries("/system/framework/core.jar", "", []string{dir})
	if err != nil || len(paths) != 1 || paths[0] != filepath.Join(dir, "core.jar") {
		t.Errorf("device path: %q %v", paths, err)
	}

	_, err = deodex.ResolveEntries("services.jar", "", []string{dir})
	var missing *deodex.MissingEntryError
	if !errors.As(err, &missing) || missing.Entry != "services.jar" {
		t.Errorf("expected *MissingEntryError, got %v", err)
	}
}

func TestLoadClasspath(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.dex")
	second := filepath.Join(dir, "second.dex")
	if err := os.WriteFile(first, boot().Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, odex(3, 1, quickened).Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	cs, err := deodex.LoadClasspath(context.Background(), []string{first, second}, dex.ReadOptions{})
	if err != nil {
		t.Fatalf("LoadClasspath: %v", err)
	}
	if len(cs) != 2 || len(cs[0].Classes) != 2 || !cs[1].IsOptimized {
		t.Errorf("containers out of order")
	}
	index := deodex.NewClasspathIndex(cs, deodex.IndexOptions{})
	if index.Len() != 3 || !index.Has(sub) {
		t.Errorf("index sees %d classes", index.Len())
	}

	if _, err := deodex.LoadClasspath(context.Background(), []string{filepath.Join(dir, "missing.jar")}, dex.ReadOptions{}); err == nil {
		t.Errorf("missing entry loaded")
	}
}

func TestPackagePrivateOverride(t *testing.T) {
	b := dextest.New()
	b.AddClass(&dextest.Class{Descriptor: "Ljava/lang/Object;", Access: dextest.AccPublic})
	b.AddClass(&dextest.Class{
		Descriptor:     "Lp/A;",
		Super:          "Ljava/lang/Object;",
		VirtualMethods: []*dextest.Method{{Name: "m", Return: "V"}},
	})
	b.AddClass(&dextest.Class{
		Descriptor:     "Lq/B;",
		Super:          "Lp/A;",
		VirtualMethods: []*dextest.Method{{Name: "m", Return: "V"}},
	})
	c := read(t, b)

	loose := deodex.NewClasspathIndex([]*dex.Container{c}, deodex.IndexOptions{})
	if n := len(loose.Class("Lq/B;").Vtable); n != 1 {
		t.Errorf("without access checks B has %d slots", n)
	}
	strict := deodex.NewClasspathIndex([]*dex.Container{c}, deodex.IndexOptions{CheckPackagePrivateAccess: true})
	if n := len(strict.Class("Lq/B;").Vtable); n != 2 {
		t.Errorf("with access checks B has %d slots", n)
	}
}
