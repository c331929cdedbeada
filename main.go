package main

import (
	"os"

	"github.com/ssrkit/ssrkit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
