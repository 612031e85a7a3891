package dex

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
)

// Entry is one dex image found inside an input file. Plain dex and odex
// files have a single entry; zip archives (apk, jar) one per classes*.dex.
type Entry struct {
	Name string
	Data []byte
}

// We need multiple openers to handle the different kinds of input files
var openers = []func(name string, raw []byte) ([]Entry, error){
	openRaw,
	openZip,
}

func openRaw(name string, raw []byte) ([]Entry, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("too short")
	}
	var prefix [4]byte
	copy(prefix[:], raw)
	if prefix != dexMagicPrefix && prefix != odexMagicPrefix {
		return nil, fmt.Errorf("not a dex or odex file")
	}
	return []Entry{{Name: name, Data: raw}}, nil
}

var isDex = regexp.MustCompile(`^classes\d*\.dex$`)

func openZip(name string, raw []byte) ([]Entry, error) {
	z, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, f := range z.File {
		if !isDex.MatchString(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s!%s: %v", name, f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s!%s: %v", name, f.Name, err)
		}
		entries = append(entries, Entry{Name: name + "!" + f.Name, Data: data})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s contains no classes.dex", name)
	}
	// classes.dex first, then classes2.dex, classes3.dex, ...
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].Name) != len(entries[j].Name) {
			return len(entries[i].Name) < len(entries[j].Name)
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// OpenEntries returns the dex images held by the named file.
func OpenEntries(name string) ([]Entry, error) {
	raw, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return entriesOf(name, raw)
}

func entriesOf(name string, raw []byte) ([]Entry, error) {
	for _, function := range openers {
		if entries, err := function(name, raw); err == nil {
			return entries, nil
		}
	}
	return nil, &MalformedContainerError{Reason: fmt.Sprintf("cannot open %s: unrecognized file type", name)}
}

// Open reads and parses every dex image held by the named file.
func Open(name string, opts ReadOptions) ([]*Container, error) {
	entries, err := OpenEntries(name)
	if err != nil {
		return nil, err
	}
	out := make([]*Container, 0, len(entries))
	for _, e := range entries {
		o := opts
		o.Name = e.Name
		c, err := Read(e.Data, o)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name, err)
		}
		out = append(out, c)
	}
	return out, nil
}
