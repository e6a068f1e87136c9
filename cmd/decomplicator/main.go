package main

import (
	"os"

	"github.com/lucretia/decomplicator/cmd/decomplicator/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
