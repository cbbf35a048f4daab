package cmd

import (
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Ask the server whether a newer artifact exists",
		Args:  cobra.NoArgs,
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

			res, err := l.Check(cmd.Context())
			if err != nil {
				return exitFor(cmd, err)
			}
			return s.out.Write(res)
		},
	}
}
