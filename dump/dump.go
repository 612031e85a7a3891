// Package dump writes a structural summary of a dex container: the header
// fields, the section map, the pool sizes and one line per class.
package dump

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"

	"github.com/vsoch/gobaksmali/descriptor"
	"github.com/vsoch/gobaksmali/diag"
	"github.com/vsoch/gobaksmali/parsers/dex"
)

// ErrOptimized is what Write records when asked to dump an odex file.
var ErrOptimized = errors.New("dump is not supported for odex input")

var headerConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	DisableMethods:          true,
	SortKeys:                true,
}

// Write dumps c to w. With sorted set the class list is ordered by
// descriptor instead of declaration order; nothing else changes. On odex
// input the dump is skipped and a warning is recorded on sink.
func Write(w io.Writer, c *dex.Container, sorted bool, sink *diag.Sink) error {
	if sink == nil {
		sink = diag.Discard()
	}
	if c.IsOptimized {
		sink.Warnf("%s: %v, skipping the dump", c.Name, ErrOptimized)
		return nil
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# %s (dex version %03d)\n\nheader:\n", c.Name, c.Header.Version())
	headerConfig.Fdump(bw, c.Header)

	tw := tabwriter.NewWriter(bw, 8, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "\nmap:\n")
	fmt.Fprintf(tw, "  type\tcount\toffset\n")
	for _, item := range c.Map {
		fmt.Fprintf(tw, "  %s\t%d\t%#x\n", item.TypeName(), item.Size, item.Offset)
	}

	fmt.Fprintf(tw, "\npools:\n")
	for _, p := range []struct {
		name string
		n    int
	}{
		{"strings", len(c.Strings)},
		{"types", len(c.Types)},
		{"protos", len(c.Protos)},
		{"fields", len(c.Fields)},
		{"methods", len(c.Methods)},
		{"method handles", len(c.MethodHandles)},
		{"call sites", len(c.CallSites)},
		{"classes", len(c.Classes)},
	} {
		fmt.Fprintf(tw, "  %s\t%d\n", p.name, p.n)
	}

	classes := c.Classes
	if sorted {
		classes = c.SortedClasses()
	}
	fmt.Fprintf(tw, "\nclasses:\n")
	fmt.Fprintf(tw, "  index\tclass\taccess\tstatic\tinstance\tdirect\tvirtual\tcode units\n")
	for _, cl := range classes {
		units := 0
		for _, m := range cl.Methods() {
			if m.Code != nil {
				units += len(m.Code.Insns)
			}
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			cl.Index, c.ClassName(cl),
			descriptor.AccessString(cl.AccessFlags, descriptor.ForClass),
			len(cl.StaticFields), len(cl.InstanceFields),
			len(cl.DirectMethods), len(cl.VirtualMethods), units)
	}
	for _, err := range c.Skipped {
		fmt.Fprintf(tw, "  -\tskipped: %v\n", err)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteFile dumps c into the named file.
func WriteFile(path string, c *dex.Container, sorted bool, sink *diag.Sink) error {
	if c.IsOptimized {
		return Write(io.Discard, c, sorted, sink)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, c, sorted, sink); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteDex writes the raw dex image of c to the named file. Like the dump
// it is skipped with a warning for odex input.
func WriteDex(path string, c *dex.Container, sink *diag.Sink) error {
	if sink == nil {
		sink = diag.Discard()
	}
	if c.IsOptimized {
		sink.Warnf("%s: cannot write a dex file from odex input, skipping", c.Name)
		return nil
	}
	return os.WriteFile(path, c.Bytes(), 0644)
}
