package main

import (
	"os"

	"github.com/MEKXH/orchestra/cmd/orchestra/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
