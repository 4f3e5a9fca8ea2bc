package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/jacklau/ghstars/internal/config"
)

// version is stamped by release builds:
//
//	go build -ldflags="-X github.com/jacklau/ghstars/cmd.version=1.0.0"
//
// Binaries built with `go install ...@vX.Y.Z` leave it as "dev" and report the
// module version from their build info instead.
var version = "dev"

var readBuildInfo = debug.ReadBuildInfo

func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := readBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return version
	}
	return info.Main.Version
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gh-stars version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.AppName, resolveVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
