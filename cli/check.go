package cli

import (
	"context"
	"fmt"

	"github.com/DataDrake/cli-ng/v2/cmd"
	"github.com/apex/log"

	"github.com/vsoch/gobaksmali/pipeline"
)

// Args and flags for check
type CheckArgs struct {
	Input []string `desc:"One or more dex, odex, apk or jar files to check."`
}

// Check does everything disasm does except writing files
var Check = cmd.Sub{
	Name:  "check",
	Alias: "c",
	Short: "Decode every method without writing anything.",
	Flags: &DisasmFlags{},
	Args:  &CheckArgs{},
	Run:   RunCheck,
}

func init() {
	cmd.Register(&Check)
}

// RunCheck reports what disassembling the inputs would run into
func RunCheck(r *cmd.Root, c *cmd.Sub) {
	args := c.Args.(*CheckArgs)
	flags := c.Flags.(*DisasmFlags)
	sink := newSink(globals(r.Flags))

	opts, err := flags.options()
	if err != nil {
		log.WithError(err).Fatal("invalid options")
	}
	opts.DryRun = true
	opts.DumpFile = ""
	opts.OutputDexFile = ""

	results, err := pipeline.RunBatch(context.Background(), args.Input, opts, sink)
	for _, res := range results {
		st := res.Stats
		fmt.Printf("%s: %d classes, %d methods, %d instructions", colorFile(res.Input), st.Classes, st.Methods, st.Instructions)
		if st.Placeholders > 0 {
			fmt.Printf(", %s undecodable", colorWarn(st.Placeholders))
		}
		if st.Unresolved > 0 {
			fmt.Printf(", %s not deodexed", colorWarn(st.Unresolved))
		}
		fmt.Println()
	}
	summary(sink)
	if err != nil {
		log.WithError(err).Fatal("check failed")
	}
	if n := sink.Total(); n > 0 {
		log.Fatalf("check found %d problems", n)
	}
}
