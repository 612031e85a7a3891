package dex_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/vsoch/gobaksmali/parsers/dex"
	"github.com/vsoch/gobaksmali/parsers/dex/dextest"
)

// fibonacci builds a small image with one class that exercises most of
// the sections the reader walks.
func fibonacci() *dextest.Builder {
	b := dextest.New()
	b.AddClass(&dextest.Class{
		Descriptor: "Lfibonacci;",
		Access:     dextest.AccPublic,
		Super:      "Ljava/lang/Object;",
		Interfaces: []string{"Ljava/lang/Runnable;"},
		SourceFile: "fibonacci.java",
		StaticFields: []dextest.Field{
			{Name: "LIMIT", Type: "I", Access: dextest.AccStatic | dextest.AccFinal},
			{Name: "NAME", Type: "Ljava/lang/String;", Access: dextest.AccStatic},
		},
		InstanceFields: []dextest.Field{
			{Name: "count", Type: "J", Access: dextest.AccPrivate},
		},
		StaticValues: []dextest.Value{
			{Kind: dextest.ValueInt, Int: -2},
			{Kind: dextest.ValueString, Str: "fib"},
		},
		DirectMethods: []*dextest.Method{{
			Name:   "<init>",
			Return: "V",
			Access: dextest.AccPublic | dextest.AccConstructor,
			Code: &dextest.Code{
				Registers: 1, Ins: 1,
				Insns: []uint16{0x000e},
				Debug: &dextest.Debug{
					LineStart: 3,
					Steps: []dextest.DebugStep{
						dextest.PrologueEnd(),
						dextest.Position(0, 0),
					},
				},
			},
		}},
		VirtualMethods: []*dextest.Method{{
			Name:   "run",
			Return: "V",
			Access: dextest.AccPublic,
		}},
		Annotations: []dextest.Annotation{{
			Visibility: 1,
			Type:       "Lfibonacci$Marker;",
			Elements: []dextest.Element{
				{Name: "value", Value: dextest.Value{Kind: dextest.ValueInt, Int: 300}},
			},
		}},
	})
	return b
}

func TestReadSmallImage(t *testing.T) {
	c, err := dex.Read(fibonacci().Bytes(), dex.ReadOptions{Name: "fib.dex"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if c.IsOptimized {
		t.Errorf("plain dex reported as optimized")
	}
	if len(c.Classes) != 1 {
		t.Fatalf("got %d classes, wanted 1", len(c.Classes))
	}
	cl := c.Classes[0]
	if got := c.ClassName(cl); got != "Lfibonacci;" {
		t.Errorf("class name %q", got)
	}
	if got := c.SuperName(cl); got != "Ljava/lang/Object;" {
		t.Errorf("super name %q", got)
	}
	if got := c.String(cl.SourceFile); got != "fibonacci.java" {
		t.Errorf("source file %q", got)
	}
	if len(cl.Interfaces) != 1 || c.Type(cl.Interfaces[0]) != "Ljava/lang/Runnable;" {
		t.Errorf("interfaces %v", cl.Interfaces)
	}
	if len(cl.StaticFields) != 2 || len(cl.InstanceFields) != 1 {
		t.Fatalf("fields: %d static %d instance", len(cl.StaticFields), len(cl.InstanceFields))
	}
	if got := c.FieldString(cl.InstanceFields[0].Field); got != "Lfibonacci;->count:J" {
		t.Errorf("instance field %q", got)
	}

	if len(cl.StaticValues) != 2 {
		t.Fatalf("got %d static values", len(cl.StaticValues))
	}
	if v := cl.StaticValues[0]; v.Kind != dex.ValueInt || int32(v.Bits) != -2 {
		t.Errorf("first static value %v", v)
	}
	if v := cl.StaticValues[1]; v.Kind != dex.ValueString || c.String(v.Index()) != "fib" {
		t.Errorf("second static value %v", v)
	}

	if cl.NumMethods() != 2 {
		t.Fatalf("got %d methods", cl.NumMethods())
	}
	init := cl.DirectMethods[0]
	if got := c.MethodString(init.Method); got != "Lfibonacci;-><init>()V" {
		t.Errorf("constructor %q", got)
	}
	if init.Code == nil || len(init.Code.Insns) != 1 || init.Code.Insns[0] != 0x000e {
		t.Fatalf("constructor code %+v", init.Code)
	}
	if init.Code.Debug == nil || init.Code.Debug.LineStart != 3 {
		t.Fatalf("debug info %+v", init.Code.Debug)
	}
	if run := cl.VirtualMethods[0]; run.Code != nil || run.CodeOff != 0 {
		t.Errorf("abstract run has code")
	}

	dir := cl.Annotations
	if dir == nil || len(dir.Class) != 1 {
		t.Fatalf("class annotations %+v", dir)
	}
	a := dir.Class[0]
	if a.Visibility != dex.VisibilityRuntime || c.Type(a.Type) != "Lfibonacci$Marker;" {
		t.Errorf("annotation %+v", a)
	}
	if len(a.Elements) != 1 || c.String(a.Elements[0].Name) != "value" || a.Elements[0].Value.Bits != 300 {
		t.Errorf("annotation elements %+v", a.Elements)
	}

	if found := c.ClassByDescriptor("Lfibonacci;"); found != cl {
		t.Errorf("ClassByDescriptor did not find the class")
	}
	if owner, m := c.FindMethod(init.Method); owner != cl || m != init {
		t.Errorf("FindMethod(%d) = %v, %v", init.Method, owner, m)
	}
}

func TestReadZeroClasses(t *testing.T) {
	c, err := dex.Read(dextest.New().Bytes(), dex.ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(c.Classes) != 0 {
		t.Errorf("got %d classes", len(c.Classes))
	}
}

func TestReadVersions(t *testing.T) {
	for _, version := range []string{"035", "037", "038", "039"} {
		b := fibonacci()
		b.Version = version
		c, err := dex.Read(b.Bytes(), dex.ReadOptions{})
		if err != nil {
			t.Errorf("version %s: %v", version, err)
			continue
		}
		if want := int(version[1]-'0')*10 + int(version[2]-'0'); c.Header.Version() != want {
			t.Errorf("version %s reported as %d", version, c.Header.Version())
		}
	}

	b := fibonacci()
	b.Version = "040"
	if _, err := dex.Read(b.Bytes(), dex.ReadOptions{}); err == nil {
		t.Errorf("expected an error for version 040")
	}
}

func expectMalformed(t *testing.T, what string, err error) {
	t.Helper()
	var malformed *dex.MalformedContainerError
	if !errors.As(err, &malformed) {
		t.Errorf("%s: expected *MalformedContainerError, got %T (%v)", what, err, err)
	}
}

func TestReadMalformed(t *testing.T) {
	good := fibonacci().Bytes()

	bad := append([]byte{}, good...)
	copy(bad, "zip\n035\x00")
	_, err := dex.Read(bad, dex.ReadOptions{})
	expectMalformed(t, "bad magic", err)

	_, err = dex.Read(good[:len(good)/2], dex.ReadOptions{})
	expectMalformed(t, "truncated", err)

	_, err = dex.Read(good[:20], dex.ReadOptions{})
	expectMalformed(t, "truncated header", err)

	bad = append([]byte{}, good...)
	binary.LittleEndian.PutUint32(bad[40:], 0x78563412)
	_, err = dex.Read(bad, dex.ReadOptions{SkipChecksum: true})
	expectMalformed(t, "reverse endian", err)
}

func TestReadChecksum(t *testing.T) {
	b := fibonacci()
	b.CorruptChecksum = true
	img := b.Bytes()
	_, err := dex.Read(img, dex.ReadOptions{})
	expectMalformed(t, "checksum", err)

	if _, err := dex.Read(img, dex.ReadOptions{SkipChecksum: true}); err != nil {
		t.Errorf("SkipChecksum: %v", err)
	}
}

// twoClasses returns an image whose first class has its superclass index
// pointed outside the type pool.
func twoClasses() []byte {
	b := dextest.New()
	b.AddClass(&dextest.Class{Descriptor: "La;", Super: "Ljava/lang/Object;"})
	b.AddClass(&dextest.Class{Descriptor: "Lb;", Super: "Ljava/lang/Object;"})
	img := b.Bytes()
	classDefsOff := binary.LittleEndian.Uint32(img[0x64:])
	binary.LittleEndian.PutUint32(img[classDefsOff+8:], 0x7fff)
	return img
}

func TestReadDanglingReference(t *testing.T) {
	img := twoClasses()

	_, err := dex.Read(img, dex.ReadOptions{SkipChecksum: true})
	var dangling *dex.DanglingReferenceError
	if !errors.As(err, &dangling) {
		t.Fatalf("expected *DanglingReferenceError, got %v", err)
	}
	if dangling.Pool != "type" || dangling.Index != 0x7fff {
		t.Errorf("unexpected error %+v", dangling)
	}
	if dangling.Owner != "class La; superclass" {
		t.Errorf("owner %q", dangling.Owner)
	}

	c, err := dex.Read(img, dex.ReadOptions{SkipChecksum: true, IgnoreErrors: true})
	if err != nil {
		t.Fatalf("IgnoreErrors: %v", err)
	}
	if len(c.Classes) != 1 || c.ClassName(c.Classes[0]) != "Lb;" {
		t.Errorf("expected only Lb; to survive, got %d classes", len(c.Classes))
	}
	if len(c.Skipped) != 1 {
		t.Errorf("got %d skipped", len(c.Skipped))
	}
}

func TestReadCheckCode(t *testing.T) {
	b := dextest.New()
	for _, desc := range []string{"La;", "Lb;"} {
		registers := uint16(1)
		if desc == "La;" {
			registers = 7
		}
		b.AddClass(&dextest.Class{
			Descriptor: desc,
			Super:      "Ljava/lang/Object;",
			VirtualMethods: []*dextest.Method{{
				Name: "go", Return: "V", Access: dextest.AccPublic,
				Code: &dextest.Code{Registers: registers, Ins: 1, Insns: []uint16{0x000e}},
			}},
		})
	}
	img := b.Bytes()

	checked := 0
	hook := func(c *dex.Container, code *dex.CodeItem) error {
		checked++
		if len(c.Strings) == 0 {
			t.Errorf("code checked before the pools were loaded")
		}
		if code.Registers == 7 {
			return &dex.DanglingReferenceError{Pool: "string", Index: 9, Size: 1, Owner: "instruction at code offset 0x0"}
		}
		return nil
	}

	_, err := dex.Read(img, dex.ReadOptions{CheckCode: hook})
	var dangling *dex.DanglingReferenceError
	if !errors.As(err, &dangling) {
		t.Fatalf("expected *DanglingReferenceError, got %v", err)
	}
	if dangling.Owner != "class La;->go, instruction at code offset 0x0" {
		t.Errorf("owner %q", dangling.Owner)
	}

	checked = 0
	c, err := dex.Read(img, dex.ReadOptions{CheckCode: hook, IgnoreErrors: true})
	if err != nil {
		t.Fatalf("IgnoreErrors: %v", err)
	}
	if checked != 2 {
		t.Errorf("checked %d code items, wanted 2", checked)
	}
	if len(c.Classes) != 1 || c.ClassName(c.Classes[0]) != "Lb;" || len(c.Skipped) != 1 {
		t.Errorf("got %d classes and %d skipped", len(c.Classes), len(c.Skipped))
	}
}

func TestReadDuplicateClass(t *testing.T) {
	b := dextest.New()
	b.AddClass(&dextest.Class{Descriptor: "La;"})
	b.AddClass(&dextest.Class{Descriptor: "La;"})
	img := b.Bytes()
	if _, err := dex.Read(img, dex.ReadOptions{}); err == nil {
		t.Errorf("expected an error for a duplicate class")
	}
	c, err := dex.Read(img, dex.ReadOptions{IgnoreErrors: true})
	if err != nil {
		t.Fatalf("IgnoreErrors: %v", err)
	}
	if len(c.Classes) != 1 || len(c.Skipped) != 1 {
		t.Errorf("got %d classes and %d skipped", len(c.Classes), len(c.Skipped))
	}
}

func TestReadOdex(t *testing.T) {
	b := fibonacci()
	b.Odex = true
	c, err := dex.Read(b.Bytes(), dex.ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !c.IsOptimized || c.Odex == nil {
		t.Fatalf("odex not detected")
	}
	if c.Odex.DexOffset != 40 {
		t.Errorf("dex offset %d", c.Odex.DexOffset)
	}
	if len(c.Classes) != 1 {
		t.Errorf("got %d classes", len(c.Classes))
	}
	if string(c.Bytes()[:4]) != "dex\n" {
		t.Errorf("Bytes does not start at the embedded dex")
	}
}

func TestReadTries(t *testing.T) {
	b := dextest.New()
	b.AddClass(&dextest.Class{
		Descriptor: "Ltry;",
		DirectMethods: []*dextest.Method{{
			Name: "go", Return: "V", Access: dextest.AccStatic,
			Code: &dextest.Code{
				Registers: 1,
				// nop, nop, nop, return-void (odd count forces padding)
				Insns: []uint16{0x0000, 0x0000, 0x0000, 0x000e, 0x0000},
				Tries: []dextest.Try{
					{Start: 0, Count: 2, Catches: []dextest.Catch{{Type: "Ljava/io/IOException;", Addr: 2}}, CatchAll: 3},
					{Start: 2, Count: 1, CatchAll: 3},
				},
			},
		}},
	})
	c, err := dex.Read(b.Bytes(), dex.ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	code := c.Classes[0].DirectMethods[0].Code
	if len(code.Tries) != 2 {
		t.Fatalf("got %d tries", len(code.Tries))
	}
	first := code.Tries[0]
	if first.Start != 0 || first.End() != 2 {
		t.Errorf("first try covers [%d,%d)", first.Start, first.End())
	}
	if len(first.Handler.Catches) != 1 || c.Type(first.Handler.Catches[0].Type) != "Ljava/io/IOException;" {
		t.Errorf("first handler %+v", first.Handler)
	}
	if !first.Handler.HasCatchAll || first.Handler.CatchAll != 3 {
		t.Errorf("first catch-all %+v", first.Handler)
	}
	second := code.Tries[1].Handler
	if len(second.Catches) != 0 || !second.HasCatchAll {
		t.Errorf("second handler %+v", second)
	}
}

func TestReadDebugInfo(t *testing.T) {
	b := dextest.New()
	b.AddClass(&dextest.Class{
		Descriptor: "Ldbg;",
		DirectMethods: []*dextest.Method{{
			Name: "f", Return: "V", Params: []string{"I"}, Access: dextest.AccStatic,
			Code: &dextest.Code{
				Registers: 2, Ins: 1,
				Insns: []uint16{0x0000, 0x0000, 0x0000, 0x000e},
				Debug: &dextest.Debug{
					LineStart:  10,
					ParamNames: []string{"n"},
					Steps: []dextest.DebugStep{
						dextest.PrologueEnd(),
						dextest.Position(0, 0),
						dextest.StartLocal(0, "x", "I"),
						dextest.Position(2, 1),
						dextest.EndLocal(0),
						dextest.Position(1, 20),
						dextest.RestartLocal(0),
						dextest.EpilogueBegin(),
					},
				},
			},
		}},
	})
	c, err := dex.Read(b.Bytes(), dex.ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	dbg := c.Classes[0].DirectMethods[0].Code.Debug
	if len(dbg.ParameterNames) != 1 || c.String(dbg.ParameterNames[0]) != "n" {
		t.Errorf("parameter names %v", dbg.ParameterNames)
	}

	type want struct {
		kind dex.DebugEventKind
		addr uint32
		line uint32
	}
	wants := []want{
		{dex.DebugPrologueEnd, 0, 0},
		{dex.DebugLine, 0, 10},
		{dex.DebugStartLocal, 0, 0},
		{dex.DebugLine, 2, 11},
		{dex.DebugEndLocal, 2, 0},
		{dex.DebugLine, 3, 31},
		{dex.DebugRestartLocal, 3, 0},
		{dex.DebugEpilogueBegin, 3, 0},
	}
	if len(dbg.Events) != len(wants) {
		t.Fatalf("got %d events, wanted %d: %+v", len(dbg.Events), len(wants), dbg.Events)
	}
	for i, w := range wants {
		ev := dbg.Events[i]
		if ev.Kind != w.kind || ev.Addr != w.addr || (w.kind == dex.DebugLine && ev.Line != w.line) {
			t.Errorf("event %d = %+v, wanted %+v", i, ev, w)
		}
	}
	local := dbg.Events[2]
	if c.String(local.Name) != "x" || c.Type(local.Type) != "I" || local.Signature != dex.NoIndex {
		t.Errorf("local %+v", local)
	}
}

func TestSortedClasses(t *testing.T) {
	b := dextest.New()
	for _, name := range []string{"Lc;", "La;", "Lb;"} {
		b.AddClass(&dextest.Class{Descriptor: name})
	}
	c, err := dex.Read(b.Bytes(), dex.ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	sorted := c.SortedClasses()
	var got []string
	for _, cl := range sorted {
		got = append(got, c.ClassName(cl))
	}
	if got[0] != "La;" || got[1] != "Lb;" || got[2] != "Lc;" {
		t.Errorf("sorted order %v", got)
	}
	if c.ClassName(c.Classes[0]) != "Lc;" {
		t.Errorf("SortedClasses reordered the container")
	}
}

func TestReadOdexDependencies(t *testing.T) {
	b := fibonacci()
	b.Odex = true
	b.OdexDeps = []string{"/system/framework/core.jar", "/system/framework/framework.jar"}
	c, err := dex.Read(b.Bytes(), dex.ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(c.OdexDeps) != 2 || c.OdexDeps[1] != "/system/framework/framework.jar" {
		t.Errorf("dependencies %q", c.OdexDeps)
	}
}
