// Package pipeline runs one disassembly: read the input, deodex it when
// asked, write the smali tree and the optional dump. It owns the policy
// decisions that sit between the stages, such as what is ignored for odex
// input and which failures stop a file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/apex/log"

	"github.com/vsoch/gobaksmali/deodex"
	"github.com/vsoch/gobaksmali/diag"
	"github.com/vsoch/gobaksmali/dump"
	"github.com/vsoch/gobaksmali/parsers/dalvik"
	"github.com/vsoch/gobaksmali/parsers/dex"
	"github.com/vsoch/gobaksmali/smali"
)

// Result describes one processed input file.
type Result struct {
	Input string `json:"input"`
	// Containers is the number of dex images read (several for a multidex apk).
	Containers int  `json:"containers"`
	Optimized  bool `json:"optimized"`
	Deodexed   bool `json:"deodexed"`
	Dumped     bool `json:"dumped"`
	// Skipped counts classes dropped under IgnoreErrors.
	Skipped int         `json:"skipped"`
	Stats   smali.Stats `json:"stats"`
}

// Run disassembles input according to opts. Problems that only degrade
// part of the output are recorded on sink and do not fail the run.
func Run(ctx context.Context, input string, opts Options, sink *diag.Sink) (*Result, error) {
	if sink == nil {
		sink = diag.Discard()
	}
	opts, err := opts.Validate()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(input); err != nil {
		return nil, fmt.Errorf("can't find the file %s: %w", input, err)
	}

	fields := log.Fields{"file": input}
	table := dalvik.ForAPILevel(opts.APILevel, opts.Jumbo)
	containers, err := dex.Open(input, dex.ReadOptions{
		SkipChecksum: opts.SkipChecksum,
		IgnoreErrors: opts.IgnoreErrors,
		CheckCode:    dalvik.CheckReferences(table),
	})
	if err != nil {
		sink.Record(errorKind(err), err, fields)
		return nil, err
	}

	r := &Result{Input: input, Containers: len(containers)}
	var index *deodex.ClasspathIndex
	for i, c := range containers {
		for _, err := range c.Skipped {
			sink.Record(diag.DanglingReference, err, log.Fields{"file": c.Name})
		}
		r.Skipped += len(c.Skipped)

		eopts := opts.emitterOptions()
		eopts.Table = table
		if c.IsOptimized {
			r.Optimized = true
			warnOdex(sink, c, opts)
			if opts.Deodex {
				if index == nil {
					index, err = buildIndex(ctx, c, opts, sink)
					if err != nil {
						return r, err
					}
				}
				d, err := newDeodexer(c, index, table, opts)
				if err != nil {
					return r, err
				}
				eopts.Deodexer = d
				r.Deodexed = true
			}
		}
		if opts.Verify {
			base := index
			if base == nil {
				// only the container itself when no boot classpath was loaded
				base = deodex.NewClasspathIndex(nil, deodex.IndexOptions{
					CheckPackagePrivateAccess: opts.CheckPackagePrivateAccess,
				})
			}
			eopts.Verifier = deodex.NewVerifier(c, base.Layer(c), table)
		}

		if !opts.SkipDisassembly {
			classes := c.Classes
			if opts.Sort {
				classes = c.SortedClasses()
			}
			st, err := smali.Emit(ctx, c, classes, eopts, sink)
			r.Stats.Add(st)
			if err != nil {
				return r, err
			}
		}

		if c.IsOptimized {
			continue
		}
		if opts.DumpFile != "" {
			if err := dump.WriteFile(numbered(opts.DumpFile, i), c, opts.Sort, sink); err != nil {
				sink.Record(diag.OutputWrite, err, fields)
			} else {
				r.Dumped = true
			}
		}
		if opts.OutputDexFile != "" {
			if err := dump.WriteDex(numbered(opts.OutputDexFile, i), c, sink); err != nil {
				sink.Record(diag.OutputWrite, err, fields)
			}
		}
	}

	sink.WithFields(log.Fields{
		"file":     input,
		"classes":  r.Stats.Classes,
		"written":  r.Stats.Written,
		"failed":   r.Stats.Failed,
		"rejected": r.Stats.Rejected,
	}).Info("disassembled")
	return r, nil
}

// warnOdex records the options that have no effect on odex input.
func warnOdex(sink *diag.Sink, c *dex.Container, opts Options) {
	if opts.DumpFile != "" {
		sink.Warnf("%s: a dump cannot be written for an odex file, ignoring the dump file", c.Name)
	}
	if opts.OutputDexFile != "" {
		sink.Warnf("%s: a dex file cannot be written from an odex file, ignoring the output dex file", c.Name)
	}
	if !opts.Deodex {
		sink.Warnf("%s: disassembling an odex file without deodexing it, the result cannot be reassembled", c.Name)
	}
}

// buildIndex loads the boot classpath once for the run. Entries that
// cannot be found are recorded; the classes they define then stay
// unresolved unless FailOnUnresolved makes that fatal.
func buildIndex(ctx context.Context, c *dex.Container, opts Options, sink *diag.Sink) (*deodex.ClasspathIndex, error) {
	bootClassPath := opts.BootClassPath
	if bootClassPath == "" {
		bootClassPath = strings.Join(c.OdexDeps, ":")
	}
	if bootClassPath == "" {
		bootClassPath = DefaultBootClassPath
	}

	var paths []string
	for _, entry := range append(deodex.SplitList(bootClassPath), deodex.SplitList(opts.ExtraBootClassPath)...) {
		found, err := deodex.ResolveEntries(entry, "", opts.BootClassPathDirs)
		if err != nil {
			if opts.FailOnUnresolved {
				return nil, err
			}
			sink.Record(diag.UnresolvedQuickRef, err, log.Fields{"file": c.Name, "entry": entry})
			continue
		}
		paths = append(paths, found...)
	}

	containers, err := deodex.LoadClasspath(ctx, paths, dex.ReadOptions{IgnoreErrors: true})
	if err != nil {
		return nil, fmt.Errorf("loading the boot classpath: %w", err)
	}
	sink.WithFields(log.Fields{"entries": len(paths), "containers": len(containers)}).Debug("boot classpath loaded")
	return deodex.NewClasspathIndex(containers, deodex.IndexOptions{
		CheckPackagePrivateAccess: opts.CheckPackagePrivateAccess,
	}), nil
}

func newDeodexer(c *dex.Container, index *deodex.ClasspathIndex, table *dalvik.Table, opts Options) (*deodex.Deodexer, error) {
	var inline *deodex.InlineTable
	if opts.InlineTable != "" {
		t, err := deodex.LoadInlineTable(opts.InlineTable)
		if err != nil {
			return nil, err
		}
		inline = t
	}
	return deodex.New(c, index.Layer(c), table, inline, deodex.Options{
		FailOnUnresolved: opts.FailOnUnresolved,
	}), nil
}

// numbered names the file for the i-th image of a multidex input.
func numbered(path string, i int) string {
	if i == 0 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s%d%s", strings.TrimSuffix(path, ext), i+1, ext)
}

func errorKind(err error) diag.Kind {
	var dangling *dex.DanglingReferenceError
	if errors.As(err, &dangling) {
		return diag.DanglingReference
	}
	return diag.Malformed
}

// RunBatch runs every input in turn. A panic or error stops only the file
// it happened in; the errors of all files are joined. Unless there is a
// single input, each file gets its own directory below opts.OutputDir.
func RunBatch(ctx context.Context, inputs []string, opts Options, sink *diag.Sink) ([]*Result, error) {
	if sink == nil {
		sink = diag.Discard()
	}
	var results []*Result
	var errs []error
	taken := map[string]bool{}
	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		o := opts
		if len(inputs) > 1 && o.OutputDir != "" {
			o.OutputDir = filepath.Join(o.OutputDir, batchDir(input, taken))
		}
		r, err := runSafe(ctx, input, o, sink)
		if r != nil {
			results = append(results, r)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", input, err))
		}
	}
	return results, errors.Join(errs...)
}

// batchDir names the directory of input within a batch: its base name
// without extension, with a numeric suffix when an earlier input already
// took that name.
func batchDir(input string, taken map[string]bool) string {
	base := filepath.Base(input)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	dir := name
	for n := 2; taken[dir]; n++ {
		dir = fmt.Sprintf("%s_%d", name, n)
	}
	taken[dir] = true
	return dir
}

// runSafe turns a panic inside Run into an error for that file.
func runSafe(ctx context.Context, input string, opts Options, sink *diag.Sink) (r *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unexpected top-level error: %v", p)
			sink.Record(diag.Internal, err, log.Fields{"file": input, "stack": string(debug.Stack())})
		}
	}()
	return Run(ctx, input, opts, sink)
}
