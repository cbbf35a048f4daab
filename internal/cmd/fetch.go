package cmd

import (
	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download or update the artifact without running it",
		Long: `Fetch runs the acquisition step only: it downloads the artifact when it is
missing and replaces it when the server has a newer version, keeping a
backup until the new file is in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if offline {
				s.cfg.Update.AutoUpdate = false
			}

			l, err := s.launcher(cmd)
			if err != nil {
				return err
			}

			res, err := l.Fetch(cmd.Context())
			if err != nil {
				return exitFor(cmd, err)
			}
			return s.out.Write(res)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Only verify the local artifact")

	return cmd
}
