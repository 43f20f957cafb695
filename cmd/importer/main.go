package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&syncCmd{}, "")
	commander.Register(&deleteCategoriesCmd{}, "")
	commander.Register(&replayCmd{}, "")
	commander.Register(&migrateCmd{}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
