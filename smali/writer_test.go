package smali

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// leftovers lists the temporary files writeFile left in dir.
func leftovers(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestWriteFileReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "com", "Foo.smali")
	if err := writeFile(path, []byte("first, and longer\n")); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	if err := writeFile(path, []byte("second\n")); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "second\n" {
		t.Errorf("got %q, %v", data, err)
	}
	if info, err := os.Stat(path); err != nil || info.Mode().Perm() != 0644 {
		t.Errorf("mode %v, %v", info.Mode(), err)
	}
	if tmp := leftovers(t, filepath.Dir(path)); len(tmp) != 0 {
		t.Errorf("temporary files left behind: %q", tmp)
	}
}

func TestWriteFileFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	// a non-empty directory where the class file should go
	path := filepath.Join(dir, "Foo.smali")
	if err := os.MkdirAll(filepath.Join(path, "x"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(path, []byte(".class LFoo;\n")); err == nil {
		t.Fatalf("writing over a directory succeeded")
	}
	if tmp := leftovers(t, dir); len(tmp) != 0 {
		t.Errorf("temporary files left behind: %q", tmp)
	}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		t.Errorf("the directory was replaced: %v", err)
	}
}
