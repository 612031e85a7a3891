package deodex

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultInlineTables(t *testing.T) {
	v35 := DefaultInlineTable(35, 14)
	v36 := DefaultInlineTable(36, 8)
	if len(v35.Methods) != 14 || len(v36.Methods) != 29 {
		t.Fatalf("table sizes %d and %d", len(v35.Methods), len(v36.Methods))
	}
	if DefaultInlineTable(0, 8) != v35 || DefaultInlineTable(0, 9) != v36 {
		t.Errorf("api level fallback picked the wrong table")
	}

	m, ok := v36.Lookup(4)
	if !ok || m.Kind != InlineDirect || m.Method.String() != "Ljava/lang/String;->fastIndexOf(II)I" {
		t.Errorf("v36[4] = %+v", m)
	}
	m, _ = v35.Lookup(4)
	if m.Kind != InlineVirtual || m.Method.Name != "length" {
		t.Errorf("v35[4] = %+v", m)
	}
	m, _ = v36.Lookup(28)
	if m.Method.String() != "Ljava/lang/StrictMath;->sqrt(D)D" {
		t.Errorf("v36[28] = %+v", m)
	}
	if _, ok := v35.Lookup(14); ok {
		t.Errorf("lookup past the end succeeded")
	}
}

func TestParseInlineTable(t *testing.T) {
	text := `
# custom table
static Ljava/lang/Math;->abs(I)I
virtual Ljava/lang/String;->length()I
Ljava/lang/String;->isEmpty()Z
`
	table, err := ParseInlineTable(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseInlineTable: %v", err)
	}
	kinds := []InlineKind{InlineStatic, InlineVirtual, InlineUnknown}
	if len(table.Methods) != len(kinds) {
		t.Fatalf("got %d methods", len(table.Methods))
	}
	for i, k := range kinds {
		if table.Methods[i].Kind != k {
			t.Errorf("method %d kind %s, wanted %s", i, table.Methods[i].Kind, k)
		}
	}

	for _, bad := range []string{"sometimes Lfoo;->bar()V", "static Lfoo;->bar", "Lfoo;"} {
		if _, err := ParseInlineTable(strings.NewReader(bad)); err == nil {
			t.Errorf("%q parsed", bad)
		}
	}
}

func TestLoadInlineTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inline.txt")
	if err := os.WriteFile(path, []byte("direct Ljava/lang/String;->fastIndexOf(II)I\n"), 0644); err != nil {
		t.Fatal(err)
	}
	table, err := LoadInlineTable(path)
	if err != nil {
		t.Fatalf("LoadInlineTable: %v", err)
	}
	if m, ok := table.Lookup(0); !ok || m.Kind != InlineDirect {
		t.Errorf("got %+v", m)
	}
	if _, err := LoadInlineTable(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Errorf("missing file loaded")
	}
}
