package main

import (
	"os"

	"github.com/hollis/chassis/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
