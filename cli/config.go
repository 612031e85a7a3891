package cli

// This prints the options a run would use, after defaults and validation

import (
	"fmt"

	"github.com/DataDrake/cli-ng/v2/cmd"
	"github.com/apex/log"

	"github.com/vsoch/gobaksmali/pipeline"
)

type ConfigArgs struct{}
type ConfigFlags struct {
	JsonFile string `short:"f" long:"file" desc:"A JSON options file; without one the defaults are shown."`
	Compact  bool   `short:"c" long:"compact" desc:"Print the options on one line."`
}

var Config = cmd.Sub{
	Name:  "config",
	Alias: "cfg",
	Short: "Show the effective options of a JSON options file.",
	Flags: &ConfigFlags{},
	Args:  &ConfigArgs{},
	Run:   RunConfig,
}

func init() {
	cmd.Register(&Config)
}

func RunConfig(r *cmd.Root, c *cmd.Sub) {
	flags := c.Flags.(*ConfigFlags)
	newSink(globals(r.Flags))

	opts := pipeline.Default()
	if flags.JsonFile != "" {
		loaded, err := pipeline.Load(flags.JsonFile)
		if err != nil {
			log.WithError(err).Fatal("cannot load options")
		}
		opts = loaded
	}
	opts, err := opts.Validate()
	if err != nil {
		log.WithError(err).Fatal("invalid options")
	}
	out, err := opts.ToJSON(!flags.Compact)
	if err != nil {
		log.WithError(err).Fatal("cannot serialize options")
	}
	fmt.Println(string(out))
}
