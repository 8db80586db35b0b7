package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

var (
	userID      = flag.String("user", os.Getenv("ASSISTANT_USER"), "user id to sign in as (or set ASSISTANT_USER env)")
	displayName = flag.String("name", "", "display name for the session")
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))

	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range commands {
		commander.Register(c, "ledger")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
