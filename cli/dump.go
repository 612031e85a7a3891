package cli

import (
	"context"
	"os"

	"github.com/DataDrake/cli-ng/v2/cmd"
	"github.com/apex/log"

	"github.com/vsoch/gobaksmali/dump"
	"github.com/vsoch/gobaksmali/parsers/dex"
	"github.com/vsoch/gobaksmali/pipeline"
)

// Args and flags for dump
type DumpArgs struct {
	Input []string `desc:"A dex, apk or jar file to dump."`
}
type DumpFlags struct {
	Output       string `short:"o" long:"output" desc:"Write the dump to this file instead of stdout."`
	WriteDex     string `short:"W" long:"write-dex" desc:"Also write the dex image to this file."`
	Sort         bool   `short:"s" long:"sort" desc:"List classes sorted by name."`
	SkipChecksum bool   `short:"K" long:"skip-checksum" desc:"Do not verify the file checksum."`
	IgnoreErrors bool   `short:"I" long:"ignore-errors" desc:"Skip classes with bad references instead of failing."`
}

// Dump prints the structure of a dex file
var Dump = cmd.Sub{
	Name:  "dump",
	Alias: "du",
	Short: "Print the header, section map and classes of a dex file.",
	Flags: &DumpFlags{},
	Args:  &DumpArgs{},
	Run:   RunDump,
}

func init() {
	cmd.Register(&Dump)
}

// RunDump dumps the first input, to stdout unless --output is given
func RunDump(r *cmd.Root, c *cmd.Sub) {
	args := c.Args.(*DumpArgs)
	flags := c.Flags.(*DumpFlags)
	sink := newSink(globals(r.Flags))
	input := args.Input[0]

	if flags.Output != "" {
		opts := pipeline.Default()
		opts.SkipDisassembly = true
		opts.DumpFile = flags.Output
		opts.OutputDexFile = flags.WriteDex
		opts.Sort = flags.Sort
		opts.SkipChecksum = flags.SkipChecksum
		opts.IgnoreErrors = flags.IgnoreErrors
		if _, err := pipeline.Run(context.Background(), input, opts, sink); err != nil {
			log.WithError(err).Fatal("dump failed")
		}
		return
	}

	containers, err := dex.Open(input, dex.ReadOptions{SkipChecksum: flags.SkipChecksum, IgnoreErrors: flags.IgnoreErrors})
	if err != nil {
		log.WithError(err).Fatalf("cannot read %s", input)
	}
	for _, container := range containers {
		if err := dump.Write(os.Stdout, container, flags.Sort, sink); err != nil {
			log.WithError(err).Fatal("dump failed")
		}
		if flags.WriteDex != "" {
			if err := dump.WriteDex(flags.WriteDex, container, sink); err != nil {
				log.WithError(err).Fatal("cannot write the dex image")
			}
		}
	}
}
