// Package cli provides the displayd command tree.
package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// BuildInfo is stamped into the binary via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// NewRootCmd builds the displayd command with all subcommands attached.
func NewRootCmd(info BuildInfo) *cobra.Command {
	root := &cobra.Command{
		Use:   "displayd",
		Short: "Display-driver server daemon",
		Long: `displayd runs display nodes that accept rendered images from
display drivers over TCP. Nodes bound to the same port share one server;
idle servers are kept in a bounded LRU cache and closed when evicted.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file (default: ./displayd.{toml,yaml,json})")

	root.AddCommand(newServeCmd(), newBenchCmd(), newVersionCmd(info))
	return root
}

func newVersionCmd(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout(), info)
		},
	}
}

func printVersion(w io.Writer, info BuildInfo) {
	fmt.Fprintf(w, "displayd %s\n", info.Version)
	fmt.Fprintf(w, "commit: %s\n", info.Commit)
	fmt.Fprintf(w, "built: %s\n", info.BuildDate)
	fmt.Fprintf(w, "go: %s\n", runtime.Version())
}

// Execute runs the command tree and exits non-zero on error.
func Execute(info BuildInfo) {
	if err := NewRootCmd(info).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
