package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamancini/modrunner/internal/report"
	"github.com/adamancini/modrunner/internal/types"
)

// runFlags are shared by the root command and 'run'.
type runFlags struct {
	entryPoint string
	args       []string
	offline    bool
	noInstall  bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.entryPoint, "entry-point", "", "Function to call after loading (default from config: main)")
	cmd.Flags().StringArrayVar(&f.args, "arg", nil, "Argument passed to the entry point (repeatable)")
	cmd.Flags().BoolVar(&f.offline, "offline", false, "Use the local artifact without contacting the server")
	cmd.Flags().BoolVar(&f.noInstall, "no-install", false, "Do not install missing Python dependencies")
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Acquire the module and run its entry point",
		Long: `Run makes sure the newest artifact for this host is in the work directory,
loads it into the Python interpreter and calls its entry point.

Exit codes:
  0    success
  1    the artifact could not be obtained
  2    the module could not be loaded or its entry point failed
  130  interrupted
Any other non-zero integer returned by the entry point is passed through.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, flags)
		},
	}
	flags.register(cmd)

	return cmd
}

func runPipeline(cmd *cobra.Command, flags runFlags) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	if flags.entryPoint != "" {
		s.cfg.Module.EntryPoint = flags.entryPoint
	}
	if len(flags.args) > 0 {
		s.cfg.Module.Args = flags.args
	}
	if flags.offline {
		s.cfg.Update.AutoUpdate = false
	}
	if flags.noInstall {
		s.cfg.Update.AutoInstallDependencies = false
	}

	l, err := s.launcher(cmd)
	if err != nil {
		return err
	}

	if !quiet && !s.out.Structured() {
		fmt.Fprintln(cmd.ErrOrStderr(), report.Banner("modrunner", buildVersion))
		if verbose {
			fmt.Fprintln(cmd.ErrOrStderr(), l.Environment().String())
		}
	}

	sess := l.Run(cmd.Context())

	if s.out.Structured() {
		if err := s.out.Write(sess); err != nil {
			return err
		}
	}

	if sess.ExitCode != types.ExitOK {
		return &ExitError{Code: sess.ExitCode}
	}
	return nil
}
