package dex_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vsoch/gobaksmali/parsers/dex"
	"github.com/vsoch/gobaksmali/parsers/dex/dextest"
)

func writeApk(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	z := zip.NewWriter(f)
	for name, data := range entries {
		w, err := z.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := z.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenApk(t *testing.T) {
	second := dextest.New()
	second.AddClass(&dextest.Class{Descriptor: "Lsecond;"})

	path := filepath.Join(t.TempDir(), "app.apk")
	writeApk(t, path, map[string][]byte{
		"classes2.dex":        second.Bytes(),
		"classes.dex":         fibonacci().Bytes(),
		"res/raw/classes.dex": []byte("not really"),
		"AndroidManifest.xml": []byte("<manifest/>"),
	})

	containers, err := dex.Open(path, dex.ReadOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(containers) != 2 {
		t.Fatalf("got %d containers, wanted 2", len(containers))
	}
	if !strings.HasSuffix(containers[0].Name, "!classes.dex") {
		t.Errorf("first container %q", containers[0].Name)
	}
	if containers[1].ClassByDescriptor("Lsecond;") == nil {
		t.Errorf("classes2.dex not second")
	}
}

func TestOpenPlainDex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.dex")
	if err := os.WriteFile(path, fibonacci().Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	containers, err := dex.Open(path, dex.ReadOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(containers) != 1 || containers[0].Name != path {
		t.Errorf("unexpected containers %v", containers)
	}
}

func TestOpenUnrecognized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello, world"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := dex.Open(path, dex.ReadOptions{})
	expectMalformed(t, "unrecognized", err)
}
