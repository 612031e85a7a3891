package main

import (
	"github.com/DataDrake/cli-ng/v2/cmd"

	"github.com/vsoch/gobaksmali/cli"
)

// Root is the main command, the subcommands register themselves in cli.
var Root = &cmd.Root{
	Name:  "gobaksmali",
	Short: "Disassemble Dalvik dex and odex files into smali",
	Flags: &cli.GlobalFlags{},
}

func main() {
	Root.Run()
}
