package main

import (
	"os"

	"github.com/foyerhq/foyer/internal/cmd"
)

func main() {
	// Cobra prints the error; commands log specifics themselves.
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
