package cmd

import (
	"github.com/spf13/cobra"
)

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the platform, interpreter and server settings",
		Long: `Env prints the environment report used to diagnose a missing artifact:
the detected architecture and interpreter, the expected artifact file name
and the server settings in effect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			l, err := s.launcher(cmd)
			if err != nil {
				return err
			}
			return s.out.Write(l.Environment())
		},
	}
}
