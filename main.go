package main

import (
	"fmt"
	"os"

	"github.com/jacklau/ghstars/cmd"
	"github.com/jacklau/ghstars/internal/apperr"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(apperr.ExitCode(err))
	}
}
