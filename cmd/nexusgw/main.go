package main

import (
	"os"

	"github.com/jgoldverg/nexusgw/cli"
)

func main() {
	rootCmd := cli.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
