package main

import (
	"os"

	_ "arc/cmd"
	"arc/cmd/root"
)

func main() {
	if err := root.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
