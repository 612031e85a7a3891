package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/fatih/color"

	"github.com/vsoch/gobaksmali/diag"
	"github.com/vsoch/gobaksmali/pipeline"
)

// GlobalFlags apply to every subcommand
type GlobalFlags struct {
	Verbose bool `short:"v" long:"verbose" desc:"Log every recovered problem, not only the summary."`
	NoColor bool `short:"n" long:"no-color" desc:"Do not color the summary."`
}

// DisasmFlags are shared by disasm and check. Zero values leave the value
// from --config (or the default) alone.
type DisasmFlags struct {
	Config string `short:"C" long:"config" desc:"JSON options file to start from."`
	Output string `short:"o" long:"output" desc:"Directory to write the smali files to (default: out)."`
	Jobs   int    `short:"j" long:"jobs" desc:"Number of classes rendered in parallel (default: one per CPU)."`

	APILevel  int    `short:"a" long:"api-level" desc:"API level the input was built for (default: 14)."`
	Jumbo     bool   `short:"J" long:"jumbo" desc:"Decode jumbo instructions."`
	Deodex    bool   `short:"x" long:"deodex" desc:"Deodex an odex input."`
	Classpath string `short:"c" long:"bootclasspath" desc:"Colon separated boot classpath; a leading ':' appends to the default."`
	Dirs      string `short:"d" long:"bootclasspath-dir" desc:"Colon separated directories to search for the boot classpath (default: .)."`
	Inline    string `short:"T" long:"inline-table" desc:"File with the execute-inline method table."`
	Private   bool   `short:"k" long:"check-package-private-access" desc:"Honour package private access when resolving overrides."`
	Strict    bool   `short:"S" long:"fail-on-unresolved" desc:"Fail when an optimized instruction cannot be deodexed."`
	Verify    bool   `short:"V" long:"verify" desc:"Check the register use of every method and comment what fails."`

	NoDebugInfo  bool   `short:"b" long:"no-debug-info" desc:"Leave out .line, .local, .parameter and similar directives."`
	CodeOffsets  bool   `short:"f" long:"code-offsets" desc:"Comment every instruction with its code offset."`
	UseLocals    bool   `short:"l" long:"use-locals" desc:"Write .locals instead of .registers."`
	NoAccessors  bool   `short:"m" long:"no-accessor-comments" desc:"Do not comment calls to synthetic accessors."`
	NoParams     bool   `short:"p" long:"no-parameter-registers" desc:"Name parameter registers vN instead of pN."`
	RegisterInfo string `short:"r" long:"register-info" desc:"Register comments to add: ARGS, DEST or ALL."`
	Sequential   bool   `short:"s" long:"sequential-labels" desc:"Number labels per kind instead of by address."`
	FixRegisters bool   `short:"F" long:"fix-registers" desc:"Drop debug directives naming registers outside the frame."`

	IgnoreErrors bool   `short:"I" long:"ignore-errors" desc:"Skip classes with bad references instead of failing."`
	SkipChecksum bool   `short:"K" long:"skip-checksum" desc:"Do not verify the file checksum."`
	Sort         bool   `short:"O" long:"sort" desc:"Process classes sorted by name."`
	DumpFile     string `short:"D" long:"dump-to" desc:"Also write a structural dump to this file (ignored for odex)."`
	WriteDex     string `short:"W" long:"write-dex" desc:"Also write the dex image to this file (ignored for odex)."`
}

// options layers the flags on top of the config file or the defaults.
func (f *DisasmFlags) options() (pipeline.Options, error) {
	opts := pipeline.Default()
	if f.Config != "" {
		loaded, err := pipeline.Load(f.Config)
		if err != nil {
			return opts, err
		}
		opts = loaded
	}

	setString(&opts.OutputDir, f.Output)
	setString(&opts.InlineTable, f.Inline)
	setString(&opts.RegisterInfo, f.RegisterInfo)
	setString(&opts.DumpFile, f.DumpFile)
	setString(&opts.OutputDexFile, f.WriteDex)
	if f.Jobs != 0 {
		opts.Jobs = f.Jobs
	}
	if f.APILevel != 0 {
		opts.APILevel = f.APILevel
	}
	if f.Dirs != "" {
		opts.BootClassPathDirs = strings.Split(f.Dirs, ":")
	}
	switch {
	case strings.HasPrefix(f.Classpath, ":"):
		opts.ExtraBootClassPath = strings.TrimPrefix(f.Classpath, ":")
	case f.Classpath != "":
		opts.BootClassPath = f.Classpath
	}

	setBool(&opts.Jumbo, f.Jumbo)
	setBool(&opts.Deodex, f.Deodex)
	setBool(&opts.CheckPackagePrivateAccess, f.Private)
	setBool(&opts.FailOnUnresolved, f.Strict)
	setBool(&opts.Verify, f.Verify)
	setBool(&opts.NoDebugInfo, f.NoDebugInfo)
	setBool(&opts.CodeOffsets, f.CodeOffsets)
	setBool(&opts.UseLocals, f.UseLocals)
	setBool(&opts.NoAccessorComments, f.NoAccessors)
	setBool(&opts.NoParameterRegisters, f.NoParams)
	setBool(&opts.SequentialLabels, f.Sequential)
	setBool(&opts.FixRegisters, f.FixRegisters)
	setBool(&opts.IgnoreErrors, f.IgnoreErrors)
	setBool(&opts.SkipChecksum, f.SkipChecksum)
	setBool(&opts.Sort, f.Sort)
	return opts, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v bool) {
	if v {
		*dst = true
	}
}

var (
	colorFile = color.New(color.Bold).SprintFunc()
	colorOK   = color.New(color.FgHiGreen).SprintFunc()
	colorWarn = color.New(color.FgYellow).SprintFunc()
	colorFail = color.New(color.Bold, color.FgHiRed).SprintFunc()
)

// newSink installs the cli log handler and returns the sink for a run.
// Recovered problems are only logged with --verbose; the summary reports
// their counts either way.
func newSink(flags *GlobalFlags) *diag.Sink {
	if flags.NoColor {
		color.NoColor = true
	}
	log.SetHandler(clihandler.New(os.Stderr))
	log.SetLevel(log.ErrorLevel)
	if flags.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	return diag.New(log.Log)
}

func globals(flags interface{}) *GlobalFlags {
	if g, ok := flags.(*GlobalFlags); ok && g != nil {
		return g
	}
	return &GlobalFlags{}
}

// summary prints the per kind counts of sink.
func summary(sink *diag.Sink) {
	counts := sink.Counts()
	if len(counts) == 0 {
		fmt.Println(colorOK("no problems found"))
		return
	}
	for _, c := range counts {
		paint := colorWarn
		if c.Kind == diag.Malformed || c.Kind == diag.Internal || c.Kind == diag.OutputWrite {
			paint = colorFail
		}
		fmt.Printf("  %s %d\n", paint(c.Kind.String()+":"), c.N)
	}
}
