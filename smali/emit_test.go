package smali_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vsoch/gobaksmali/deodex"
	"github.com/vsoch/gobaksmali/diag"
	"github.com/vsoch/gobaksmali/parsers/dalvik"
	"github.com/vsoch/gobaksmali/parsers/dex"
	"github.com/vsoch/gobaksmali/parsers/dex/dextest"
	"github.com/vsoch/gobaksmali/smali"
)

const hello = "Lcom/example/Hello;"

func read(t *testing.T, b *dextest.Builder) *dex.Container {
	t.Helper()
	c, err := dex.Read(b.Bytes(), dex.ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return c
}

// helloBuilder holds Hello (a field of each kind, a constructor with line
// numbers and a branching virtual method) and the empty class Top.
func helloBuilder() *dextest.Builder {
	b := dextest.New()
	init := b.Method("Ljava/lang/Object;", "<init>", "V")
	hi := b.String("hi")
	b.AddClass(&dextest.Class{
		Descriptor: hello,
		Access:     dextest.AccPublic,
		Super:      "Ljava/lang/Object;",
		Interfaces: []string{"Ljava/lang/Runnable;"},
		SourceFile: "Hello.java",
		StaticFields: []dextest.Field{
			{Name: "COUNT", Type: "I", Access: dextest.AccPublic | dextest.AccStatic | dextest.AccFinal},
		},
		StaticValues: []dextest.Value{{Kind: dextest.ValueInt, Int: 3}},
		InstanceFields: []dextest.Field{
			{Name: "name", Type: "Ljava/lang/String;", Access: dextest.AccPrivate},
		},
		DirectMethods: []*dextest.Method{{
			Name:   "<init>",
			Return: "V",
			Access: dextest.AccPublic | dextest.AccConstructor,
			Code: &dextest.Code{
				Registers: 1, Ins: 1, Outs: 1,
				Insns: []uint16{
					0x1070, uint16(init), 0x0000, // invoke-direct {p0}, Object-><init>
					0x000e, // return-void
				},
				Debug: &dextest.Debug{
					LineStart: 3,
					Steps: []dextest.DebugStep{
						dextest.PrologueEnd(),
						dextest.Position(0, 0),
						dextest.Position(3, 1),
					},
				},
			},
		}},
		VirtualMethods: []*dextest.Method{{
			Name:   "run",
			Return: "V",
			Access: dextest.AccPublic,
			Code: &dextest.Code{
				Registers: 3, Ins: 1,
				Insns: []uint16{
					0x0012,             // const/4 v0, 0x0
					0x0038, 0x0004,     // if-eqz v0, +4
					0x011a, uint16(hi), // const-string v1, "hi"
					0x000e,             // return-void
				},
			},
		}},
	})
	b.AddClass(&dextest.Class{Descriptor: "LTop;", Super: "Ljava/lang/Object;"})
	return b
}

const helloText = `.class public Lcom/example/Hello;
.super Ljava/lang/Object;
.source "Hello.java"


# interfaces
.implements Ljava/lang/Runnable;


# static fields
.field public static final COUNT:I = 0x3


# instance fields
.field private name:Ljava/lang/String;


# direct methods
.method public constructor <init>()V
    .registers 1

    .prologue
    .line 3
    invoke-direct {p0}, Ljava/lang/Object;-><init>()V

    .line 4
    return-void
.end method


# virtual methods
.method public run()V
    .registers 3

    const/4 v0, 0x0

    if-eqz v0, :cond_5

    const-string v1, "hi"

    :cond_5
    return-void
.end method
`

func TestRenderClass(t *testing.T) {
	c := read(t, helloBuilder())
	e := smali.New(c, smali.Options{}, nil)
	got, err := e.Render(c.ClassByDescriptor(hello))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(got) != helloText {
		t.Errorf("got:\n%s\nwanted:\n%s", got, helloText)
	}

	got, _ = e.Render(c.ClassByDescriptor("LTop;"))
	if string(got) != ".class LTop;\n.super Ljava/lang/Object;\n" {
		t.Errorf("empty class rendered as %q", got)
	}
}

func TestRenderOptions(t *testing.T) {
	c := read(t, helloBuilder())
	opts := smali.Options{
		SequentialLabels:     true,
		CodeOffsets:          true,
		NoDebugInfo:          true,
		UseLocals:            true,
		NoParameterRegisters: true,
		RegisterInfo:         smali.RegisterAll,
	}
	got, err := smali.New(c, opts, nil).Render(c.ClassByDescriptor(hello))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	text := string(got)
	for _, want := range []string{
		"    .locals 0\n",
		"    .locals 2\n",
		"    #@0\n    #args: v0\n    invoke-direct {v0}, Ljava/lang/Object;-><init>()V\n",
		"    #@0\n    #dest: v0\n    const/4 v0, 0x0\n",
		"    #@1\n    #args: v0\n    if-eqz v0, :cond_0\n",
		"    #@3\n    #dest: v1\n    const-string v1, \"hi\"\n",
		"    :cond_0\n    #@5\n    return-void\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
	for _, unwanted := range []string{".line", ".prologue", ".registers", "p0"} {
		if strings.Contains(text, unwanted) {
			t.Errorf("unexpected %q in:\n%s", unwanted, text)
		}
	}
}

func TestEmitLayout(t *testing.T) {
	c := read(t, helloBuilder())
	out := t.TempDir()
	stats, err := smali.Emit(context.Background(), c, c.Classes, smali.Options{OutputDir: out, Jobs: 2}, nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if stats.Classes != 2 || stats.Written != 2 || stats.Failed != 0 || stats.Methods != 2 {
		t.Errorf("stats %+v", stats)
	}
	data, err := os.ReadFile(filepath.Join(out, "com", "example", "Hello.smali"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != helloText {
		t.Errorf("Hello.smali differs from Render")
	}
	if _, err := os.Stat(filepath.Join(out, "Top.smali")); err != nil {
		t.Errorf("Top.smali: %v", err)
	}

	// existing files are overwritten
	if _, err := smali.Emit(context.Background(), c, c.Classes, smali.Options{OutputDir: out}, nil); err != nil {
		t.Fatalf("second Emit: %v", err)
	}
}

func TestEmitDeterministic(t *testing.T) {
	c := read(t, helloBuilder())
	var runs [2]map[string][]byte
	for i := range runs {
		out := t.TempDir()
		if _, err := smali.Emit(context.Background(), c, c.Classes, smali.Options{OutputDir: out, Jobs: 4}, nil); err != nil {
			t.Fatalf("Emit: %v", err)
		}
		runs[i] = map[string][]byte{}
		err := filepath.Walk(out, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			rel, _ := filepath.Rel(out, path)
			runs[i][rel], err = os.ReadFile(path)
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if len(runs[0]) != 2 || len(runs[0]) != len(runs[1]) {
		t.Fatalf("file sets differ: %d and %d", len(runs[0]), len(runs[1]))
	}
	for name, data := range runs[0] {
		if !bytes.Equal(data, runs[1][name]) {
			t.Errorf("%s differs between runs", name)
		}
	}
}

func TestEmitZeroClasses(t *testing.T) {
	c := read(t, helloBuilder())
	out := filepath.Join(t.TempDir(), "out")
	stats, err := smali.Emit(context.Background(), c, nil, smali.Options{OutputDir: out}, nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("output directory missing: %v", err)
	}
	if len(entries) != 0 || stats.Written != 0 {
		t.Errorf("got %d entries, stats %+v", len(entries), stats)
	}
}

func TestEmitWriteFailure(t *testing.T) {
	c := read(t, helloBuilder())
	out := t.TempDir()
	// a file where the com/ directory should go
	if err := os.WriteFile(filepath.Join(out, "com"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	sink := diag.Discard()
	stats, err := smali.Emit(context.Background(), c, c.Classes, smali.Options{OutputDir: out}, sink)
	if err != nil {
		t.Fatalf("a write failure aborted the run: %v", err)
	}
	if stats.Failed != 1 || stats.Written != 1 {
		t.Errorf("stats %+v", stats)
	}
	if sink.Count(diag.OutputWrite) != 1 {
		t.Errorf("recorded %d write failures", sink.Count(diag.OutputWrite))
	}
	if _, err := os.Stat(filepath.Join(out, "Top.smali")); err != nil {
		t.Errorf("Top.smali was not written: %v", err)
	}
}

// static builds a container with one static method run(I)V in Ltest;.
func static(b *dextest.Builder, registers, ins uint16, insns []uint16, tries ...dextest.Try) *dex.Container {
	b.AddClass(&dextest.Class{
		Descriptor: "Ltest;",
		Super:      "Ljava/lang/Object;",
		DirectMethods: []*dextest.Method{{
			Name: "run", Return: "V", Params: []string{"I"}, Access: dextest.AccStatic,
			Code: &dextest.Code{Registers: registers, Ins: ins, Insns: insns, Tries: tries},
		}},
	})
	c, err := dex.Read(b.Bytes(), dex.ReadOptions{})
	if err != nil {
		panic(err)
	}
	return c
}

func render(t *testing.T, c *dex.Container, opts smali.Options, sink *diag.Sink) string {
	t.Helper()
	text, err := smali.New(c, opts, sink).Render(c.ClassByDescriptor("Ltest;"))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return string(text)
}

func TestUnknownOpcodePlaceholder(t *testing.T) {
	c := static(dextest.New(), 1, 1, []uint16{
		0x003e, // unused at API 14
		0x000e, // return-void
	})
	sink := diag.Discard()
	text := render(t, c, smali.Options{}, sink)
	want := "\n    # invalid instruction: "
	if !strings.Contains(text, want) || !strings.Contains(text, "    # raw units: 003e\n\n    return-void\n") {
		t.Errorf("no placeholder in:\n%s", text)
	}
	if sink.Count(diag.UnknownOpcode) != 1 {
		t.Errorf("recorded %d unknown opcodes", sink.Count(diag.UnknownOpcode))
	}
}

func TestSwitchPayload(t *testing.T) {
	c := static(dextest.New(), 1, 1, []uint16{
		0x002b, 0x0006, 0x0000, // packed-switch p0, +6
		0x000e, // return-void
		0x000e, // return-void
		0x0000, // nop
		0x0100, 0x0002, 0x0001, 0x0000, 0x0003, 0x0000, 0x0004, 0x0000,
	})
	want := `
    packed-switch p0, :pswitch_data_0

    :pswitch_0
    return-void

    :pswitch_1
    return-void

    nop

    :pswitch_data_0
    .packed-switch 0x1
        :pswitch_0
        :pswitch_1
    .end packed-switch
.end method
`
	text := render(t, c, smali.Options{SequentialLabels: true}, nil)
	if !strings.Contains(text, want) {
		t.Errorf("got:\n%s", text)
	}
	text = render(t, c, smali.Options{}, nil)
	for _, label := range []string{":pswitch_data_6", ":pswitch_3", ":pswitch_4"} {
		if strings.Count(text, label) != 2 {
			t.Errorf("%s not used twice in:\n%s", label, text)
		}
	}
}

func TestTryCatch(t *testing.T) {
	b := dextest.New()
	f := b.Method("Ltest;", "f", "V")
	c := static(b, 2, 1, []uint16{
		0x0071, uint16(f), 0x0000, // invoke-static {}, f
		0x000e, // return-void
		0x000d, // move-exception v0
		0x000e, // return-void
	}, dextest.Try{
		Start:    0,
		Count:    3,
		Catches:  []dextest.Catch{{Type: "Ljava/lang/Exception;", Addr: 4}},
		CatchAll: -1,
	})
	want := `
    :try_start_0
    invoke-static {}, Ltest;->f()V
    :try_end_3
    .catch Ljava/lang/Exception; {:try_start_0 .. :try_end_3} :catch_4

    return-void

    :catch_4
    move-exception v0
`
	text := render(t, c, smali.Options{}, nil)
	if !strings.Contains(text, want) {
		t.Errorf("got:\n%s", text)
	}
	text = render(t, c, smali.Options{SequentialLabels: true}, nil)
	if !strings.Contains(text, ".catch Ljava/lang/Exception; {:try_start_0 .. :try_end_0} :catch_0\n") {
		t.Errorf("sequential labels:\n%s", text)
	}
}

func TestLoneSurrogateString(t *testing.T) {
	b := dextest.New()
	s := b.String("\xed\xa0\x80x")
	c := static(b, 1, 1, []uint16{
		0x001a, uint16(s), // const-string p0, "\ud800x"
		0x000e, // return-void
	})
	text := render(t, c, smali.Options{}, nil)
	if !strings.Contains(text, `const-string p0, "\ud800x"`) {
		t.Errorf("got:\n%s", text)
	}
}

func TestVerifierComments(t *testing.T) {
	c := static(dextest.New(), 2, 1, []uint16{
		0x1012, // const/4 v0, 0x1
		0x001d, // monitor-enter v0
		0x000e, // return-void
	})
	table := dalvik.ForAPILevel(14, false)
	index := deodex.NewClasspathIndex(nil, deodex.IndexOptions{}).Layer(c)
	sink := diag.Discard()
	text := render(t, c, smali.Options{Table: table, Verifier: deodex.NewVerifier(c, index, table)}, sink)
	want := "    #verification error: v0 holds a primitive where an object is required\n    monitor-enter v0\n"
	if !strings.Contains(text, want) {
		t.Errorf("got:\n%s", text)
	}
	if sink.Count(diag.Verification) != 1 {
		t.Errorf("recorded %d verification errors", sink.Count(diag.Verification))
	}
	if text := render(t, c, smali.Options{}, nil); strings.Contains(text, "#verification error") {
		t.Errorf("verified without a verifier:\n%s", text)
	}
}

func TestAccessorComments(t *testing.T) {
	const outer = "Lcom/example/Outer;"
	b := dextest.New()
	count := b.Field(outer, "count", "I")
	access := b.Method(outer, "access$000", "I", outer)
	b.AddClass(&dextest.Class{
		Descriptor:     outer,
		Super:          "Ljava/lang/Object;",
		InstanceFields: []dextest.Field{{Name: "count", Type: "I", Access: dextest.AccPrivate}},
		DirectMethods: []*dextest.Method{
			{
				Name: "access$000", Return: "I", Params: []string{outer},
				Access: dextest.AccStatic | dextest.AccSynthetic,
				Code: &dextest.Code{Registers: 2, Ins: 1, Insns: []uint16{
					0x1052, uint16(count), // iget v0, p0, count
					0x000f, // return v0
				}},
			},
			{
				Name: "use", Return: "V", Params: []string{outer},
				Access: dextest.AccStatic,
				Code: &dextest.Code{Registers: 1, Ins: 1, Outs: 1, Insns: []uint16{
					0x1071, uint16(access), 0x0000, // invoke-static {p0}, access$000
					0x000e, // return-void
				}},
			},
		},
	})
	c := read(t, b)
	cl := c.ClassByDescriptor(outer)

	text, err := smali.New(c, smali.Options{}, nil).Render(cl)
	if err != nil {
		t.Fatal(err)
	}
	want := "    #getter for: Lcom/example/Outer;->count:I\n    invoke-static {p0}, Lcom/example/Outer;->access$000(Lcom/example/Outer;)I\n"
	if !strings.Contains(string(text), want) {
		t.Errorf("no accessor comment in:\n%s", text)
	}

	text, _ = smali.New(c, smali.Options{NoAccessorComments: true}, nil).Render(cl)
	if strings.Contains(string(text), "getter for") {
		t.Errorf("accessor comment not suppressed:\n%s", text)
	}
}

func TestDebugLocals(t *testing.T) {
	b := dextest.New()
	b.AddClass(&dextest.Class{
		Descriptor: "Ltest;",
		Super:      "Ljava/lang/Object;",
		DirectMethods: []*dextest.Method{{
			Name: "run", Return: "V", Params: []string{"I"}, Access: dextest.AccStatic,
			Code: &dextest.Code{
				Registers: 2, Ins: 1,
				Insns: []uint16{
					0x1012, // const/4 v0, 0x1
					0x000e, // return-void
				},
				Debug: &dextest.Debug{
					LineStart:  7,
					ParamNames: []string{"count"},
					Steps: []dextest.DebugStep{
						dextest.Position(0, 0),
						dextest.AdvancePC(1),
						dextest.StartLocal(0, "x", "I"),
						dextest.EndLocal(0),
						dextest.RestartLocal(0),
						dextest.StartLocal(9, "bad", "I"),
					},
				},
			},
		}},
	})
	c := read(t, b)
	text := render(t, c, smali.Options{}, nil)
	for _, want := range []string{
		"    .registers 2\n    .parameter \"count\"\n\n    .line 7\n    const/4 v0, 0x1\n",
		"    .local v0, x:I\n    .end local v0    # x:I\n    .restart local v0    # x:I\n",
		// outside the frame, printed as found
		"    .local p8, bad:I\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}

	text = render(t, c, smali.Options{FixRegisters: true}, nil)
	if strings.Contains(text, "bad:I") {
		t.Errorf("register outside the frame kept:\n%s", text)
	}
}

func TestEmitDeodexed(t *testing.T) {
	b := dextest.New()
	b.Odex = true
	c := static(b, 2, 1, []uint16{
		0x10ee, 0x0007, 0x0001, // execute-inline {p0}, inline@0x7
		0x10f2, 0x000c, // iget-quick v0, p0, field@0xc
		0x000e, // return-void
	})
	table := dalvik.ForAPILevel(14, false)
	index := deodex.NewClasspathIndex(nil, deodex.IndexOptions{}).Layer(c)

	sink := diag.Discard()
	d := deodex.New(c, index, table, nil, deodex.Options{})
	text := render(t, c, smali.Options{Table: table, Deodexer: d}, sink)
	if !strings.Contains(text, "    invoke-static {p0}, Ljava/lang/Math;->abs(I)I\n") {
		t.Errorf("execute-inline not deodexed:\n%s", text)
	}
	if !strings.Contains(text, "    #unresolved: ") || !strings.Contains(text, "    iget-quick v0, p0, field@0xc\n") {
		t.Errorf("unresolved instruction not kept:\n%s", text)
	}
	if sink.Count(diag.UnresolvedQuickRef) != 1 {
		t.Errorf("recorded %d unresolved instructions", sink.Count(diag.UnresolvedQuickRef))
	}

	d = deodex.New(c, index, table, nil, deodex.Options{FailOnUnresolved: true})
	_, err := smali.Emit(context.Background(), c, c.Classes, smali.Options{OutputDir: t.TempDir(), Table: table, Deodexer: d}, nil)
	var uerr *deodex.UnresolvedQuickRefError
	if !errors.As(err, &uerr) {
		t.Errorf("got %v, wanted an unresolved quick reference", err)
	}
}
