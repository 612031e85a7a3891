// Package smali renders the classes of a dex container as smali text, one
// file per class, laid out in directories that mirror the package names.
package smali

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"github.com/vsoch/gobaksmali/deodex"
	"github.com/vsoch/gobaksmali/diag"
	"github.com/vsoch/gobaksmali/parsers/dalvik"
	"github.com/vsoch/gobaksmali/parsers/dex"
)

// Options control the text emitter. The zero value writes offset labels,
// debug directives, accessor comments and .registers into the current
// directory.
type Options struct {
	OutputDir string
	// Table decodes instructions; nil picks API level 14.
	Table *dalvik.Table
	// Deodexer, when set, supplies the patches for optimized methods.
	Deodexer *deodex.Deodexer
	// Verifier, when set, checks every method and comments the
	// instructions it rejects.
	Verifier *deodex.Verifier

	SequentialLabels     bool
	CodeOffsets          bool
	NoAccessorComments   bool
	NoDebugInfo          bool
	UseLocals            bool
	NoParameterRegisters bool
	RegisterInfo         RegisterInfo
	// FixRegisters drops debug directives that name a register outside
	// the method frame instead of printing them as found.
	FixRegisters bool

	// Jobs bounds the worker pool; 0 means one worker per CPU.
	Jobs int
	// DryRun renders every class but writes nothing.
	DryRun bool
}

// Stats summarizes an Emit call.
type Stats struct {
	Classes      int
	Written      int
	Failed       int
	Methods      int
	Instructions int
	Placeholders int
	Unresolved   int
	Rejected     int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Classes += o.Classes
	s.Written += o.Written
	s.Failed += o.Failed
	s.Methods += o.Methods
	s.Instructions += o.Instructions
	s.Placeholders += o.Placeholders
	s.Unresolved += o.Unresolved
	s.Rejected += o.Rejected
}

// OutputWriteError is a class file that could not be written.
type OutputWriteError struct {
	Path  string
	Class string
	Err   error
}

func (e *OutputWriteError) Error() string {
	if e.Class == "" {
		return fmt.Sprintf("cannot write %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("cannot write %s for %s: %v", e.Path, e.Class, e.Err)
}

func (e *OutputWriteError) Unwrap() error {
	return e.Err
}

// Emitter renders the classes of one container. It only reads the
// container, so one Emitter is shared by all workers.
type Emitter struct {
	c    *dex.Container
	opts Options
	sink *diag.Sink

	// accessors caches the comment for each invoked method index
	accessors sync.Map
}

// New returns an emitter for c. A nil sink discards diagnostics.
func New(c *dex.Container, opts Options, sink *diag.Sink) *Emitter {
	if opts.Table == nil {
		opts.Table = dalvik.ForAPILevel(14, false)
	}
	if sink == nil {
		sink = diag.Discard()
	}
	return &Emitter{c: c, opts: opts, sink: sink}
}

// Emit writes one file per class of classes below opts.OutputDir.
func Emit(ctx context.Context, c *dex.Container, classes []*dex.ClassDef, opts Options, sink *diag.Sink) (Stats, error) {
	return New(c, opts, sink).Emit(ctx, classes)
}

// Emit renders and writes every class. A file that cannot be written is
// recorded and counted and the others are still written. The returned
// error is non-nil only when the context ends or an unresolved optimized
// instruction is fatal under the deodexer options.
func (e *Emitter) Emit(ctx context.Context, classes []*dex.ClassDef) (Stats, error) {
	var stats Stats
	if !e.opts.DryRun {
		if err := os.MkdirAll(e.dir(), 0755); err != nil {
			return stats, &OutputWriteError{Path: e.dir(), Err: err}
		}
	}

	jobs := e.opts.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, cl := range classes {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			st, err := e.emitClass(cl)
			mu.Lock()
			stats.Add(st)
			mu.Unlock()
			return err
		})
	}
	return stats, g.Wait()
}

func (e *Emitter) dir() string {
	if e.opts.OutputDir == "" {
		return "."
	}
	return e.opts.OutputDir
}

func (e *Emitter) emitClass(cl *dex.ClassDef) (Stats, error) {
	name := e.c.ClassName(cl)
	st := Stats{Classes: 1}
	text, err := e.render(cl, &st)
	if err != nil {
		return st, err
	}
	if e.opts.DryRun {
		return st, nil
	}

	path := filepath.Join(e.dir(), Path(name))
	if err := writeFile(path, text); err != nil {
		werr := &OutputWriteError{Path: path, Class: name, Err: err}
		e.sink.Record(diag.OutputWrite, werr, log.Fields{"class": name, "path": path})
		st.Failed++
		return st, nil
	}
	st.Written++
	return st, nil
}

// Render returns the smali text of one class without writing it.
func (e *Emitter) Render(cl *dex.ClassDef) ([]byte, error) {
	var st Stats
	return e.render(cl, &st)
}

// writeFile writes an assembled class to a temporary file next to path
// and renames it into place, so a failed write never leaves a partial
// .smali file behind.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".class-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Path maps a class descriptor to its file below the output directory,
// e.g. "com/example/Foo$Bar.smali" for "Lcom/example/Foo$Bar;".
func Path(desc string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(desc, "L"), ";")
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = pathElement(p)
	}
	return filepath.Join(parts...) + ".smali"
}

// pathElement keeps a descriptor component from naming a directory
// outside the output tree.
func pathElement(p string) string {
	switch p {
	case "":
		return "_"
	case ".", "..":
		return strings.Repeat("_", len(p))
	}
	return strings.ReplaceAll(p, `\`, "_")
}

// join puts access flags in front of a name.
func join(access, name string) string {
	if access == "" {
		return name
	}
	return access + " " + name
}
