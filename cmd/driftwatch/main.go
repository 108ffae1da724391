package main

import (
	"os"

	"github.com/akontos/driftwatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
