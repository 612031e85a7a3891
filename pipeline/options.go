package pipeline

import (
	"fmt"
	"strings"

	"github.com/vsoch/gobaksmali/deodex"
	"github.com/vsoch/gobaksmali/parsers/dalvik"
	"github.com/vsoch/gobaksmali/smali"
)

// DefaultBootClassPath is used for canonical input when no boot classpath
// is given.
const DefaultBootClassPath = "core.jar:ext.jar:framework.jar:android.policy.jar:services.jar"

// Options is the whole configuration of a run. Build one with Default (or
// Load), change what you need, and hand it to Run, which validates it once.
type Options struct {
	OutputDir string `json:"output_dir"`
	APILevel  int    `json:"api_level"`
	Jumbo     bool   `json:"jumbo"`

	// Deodex rewrites optimized instructions of odex input.
	Deodex bool `json:"deodex"`
	// BootClassPath is a colon separated list of jar, apk, dex or odex
	// names looked up in BootClassPathDirs. For odex input it defaults to
	// the dependencies recorded in the odex file.
	BootClassPath      string   `json:"boot_class_path"`
	ExtraBootClassPath string   `json:"extra_boot_class_path"`
	BootClassPathDirs  []string `json:"boot_class_path_dirs"`
	// InlineTable names a file overriding the built-in execute-inline table.
	InlineTable               string `json:"inline_table"`
	CheckPackagePrivateAccess bool   `json:"check_package_private_access"`
	FailOnUnresolved          bool   `json:"fail_on_unresolved"`
	// Verify runs the register type analysis over every method and
	// comments the instructions it rejects.
	Verify bool `json:"verify"`

	FixRegisters         bool   `json:"fix_registers"`
	RegisterInfo         string `json:"register_info"`
	NoDebugInfo          bool   `json:"no_debug_info"`
	CodeOffsets          bool   `json:"code_offsets"`
	NoAccessorComments   bool   `json:"no_accessor_comments"`
	SequentialLabels     bool   `json:"sequential_labels"`
	NoParameterRegisters bool   `json:"no_parameter_registers"`
	UseLocals            bool   `json:"use_locals"`

	// SkipDisassembly only reads the input (and dumps it when asked).
	SkipDisassembly bool `json:"skip_disassembly"`
	// DryRun decodes and renders every class without writing any file.
	DryRun bool `json:"dry_run"`
	// DumpFile and OutputDexFile are ignored for odex input.
	DumpFile      string `json:"dump_file"`
	OutputDexFile string `json:"output_dex_file"`
	// Sort orders classes by name for emission and the dump.
	Sort bool `json:"sort"`

	IgnoreErrors bool `json:"ignore_errors"`
	SkipChecksum bool `json:"skip_checksum"`
	Jobs         int  `json:"jobs"`
}

// Default returns the options of a plain disassembly into "out".
func Default() Options {
	return Options{
		OutputDir:         "out",
		APILevel:          14,
		BootClassPathDirs: []string{"."},
	}
}

// Validate checks o and returns a normalized copy: defaults filled in and
// classpath lists cleaned up. o itself is not modified.
func (o Options) Validate() (Options, error) {
	if o.APILevel == 0 {
		o.APILevel = 14
	}
	if o.APILevel < dalvik.MinAPILevel || o.APILevel > dalvik.MaxAPILevel {
		return o, fmt.Errorf("api level %d outside [%d, %d]", o.APILevel, dalvik.MinAPILevel, dalvik.MaxAPILevel)
	}
	if o.OutputDir == "" && !o.SkipDisassembly && !o.DryRun {
		return o, fmt.Errorf("an output directory is required")
	}
	if o.Jobs < 0 {
		return o, fmt.Errorf("jobs must not be negative, got %d", o.Jobs)
	}
	if _, err := smali.ParseRegisterInfo(o.RegisterInfo); err != nil {
		return o, err
	}

	o.BootClassPath = strings.Join(deodex.SplitList(o.BootClassPath), ":")
	o.ExtraBootClassPath = strings.Join(deodex.SplitList(o.ExtraBootClassPath), ":")
	var dirs []string
	for _, d := range o.BootClassPathDirs {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	o.BootClassPathDirs = dirs
	return o, nil
}

// emitterOptions maps o onto the text emitter. o must be validated.
func (o Options) emitterOptions() smali.Options {
	info, _ := smali.ParseRegisterInfo(o.RegisterInfo)
	return smali.Options{
		OutputDir:            o.OutputDir,
		SequentialLabels:     o.SequentialLabels,
		CodeOffsets:          o.CodeOffsets,
		NoAccessorComments:   o.NoAccessorComments,
		NoDebugInfo:          o.NoDebugInfo,
		UseLocals:            o.UseLocals,
		NoParameterRegisters: o.NoParameterRegisters,
		RegisterInfo:         info,
		FixRegisters:         o.FixRegisters,
		Jobs:                 o.Jobs,
		DryRun:               o.DryRun,
	}
}
