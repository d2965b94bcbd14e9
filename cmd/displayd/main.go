// Command displayd serves display nodes backed by a shared server cache.
package main

import "github.com/IvanBrykalov/rescache/internal/cli"

// Build-time variables (set via ldflags).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.Execute(cli.BuildInfo{Version: version, Commit: commit, BuildDate: buildDate})
}
