package main

import (
	"os"

	"github.com/decibelcooper/cmsana/cmd/cmsana/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
