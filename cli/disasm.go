package cli

import (
	"context"
	"fmt"

	"github.com/DataDrake/cli-ng/v2/cmd"
	"github.com/apex/log"

	"github.com/vsoch/gobaksmali/pipeline"
)

// Args and flags for disasm
type DisasmArgs struct {
	Input []string `desc:"One or more dex, odex, apk or jar files to disassemble."`
}

var Disasm = cmd.Sub{
	Name:  "disasm",
	Alias: "d",
	Short: "Disassemble dex files into smali.",
	Flags: &DisasmFlags{},
	Args:  &DisasmArgs{},
	Run:   RunDisasm,
}

func init() {
	cmd.Register(&Disasm)
}

// RunDisasm writes one smali file per class of every input
func RunDisasm(r *cmd.Root, c *cmd.Sub) {
	args := c.Args.(*DisasmArgs)
	flags := c.Flags.(*DisasmFlags)
	sink := newSink(globals(r.Flags))

	opts, err := flags.options()
	if err != nil {
		log.WithError(err).Fatal("invalid options")
	}
	results, err := pipeline.RunBatch(context.Background(), args.Input, opts, sink)
	for _, res := range results {
		fmt.Printf("%s: %s classes written to %s", colorFile(res.Input), colorOK(res.Stats.Written), opts.OutputDir)
		if res.Stats.Failed > 0 {
			fmt.Printf(", %s failed", colorFail(res.Stats.Failed))
		}
		if res.Optimized && !res.Deodexed {
			fmt.Printf(" %s", colorWarn("(not deodexed)"))
		}
		fmt.Println()
	}
	summary(sink)
	if err != nil {
		log.WithError(err).Fatal("disassembly failed")
	}
}
