package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	outputFormat string
	configPath   string
	workDir      string
	serverURL    string
	verbose      bool
	quiet        bool
)

// build metadata set by Execute
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// Execute runs the command line. A returned *ExitError carries the
// process exit code.
func Execute(ctx context.Context, version, commit, date string) error {
	buildVersion, buildCommit, buildDate = version, commit, date
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	var run runFlags

	rootCmd := &cobra.Command{
		Use:   "modrunner",
		Short: "Fetch, update and run a platform-specific Python module",
		Long: `modrunner keeps a compiled Python module up to date from a module server
and runs its entry point in the host interpreter.

The artifact is chosen for this host: a native extension (.so) on Linux and
other POSIX systems, precompiled bytecode (.pyc) on Windows. Missing Python
dependencies are installed with pip when the module fails to import.

Running modrunner without a subcommand is the same as 'modrunner run'.`,
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, run)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&workDir, "work-dir", "", "Directory holding the artifact (default: executable directory)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Module server base URL (overrides "+serverEnvName+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")
	run.register(rootCmd)

	// Add subcommands
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newEnvCmd())
	rootCmd.AddCommand(newDepsCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	// Register completion function for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})

	return rootCmd
}
