package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamancini/modrunner/internal/version"
)

// versionInfo is the output of 'modrunner version'.
type versionInfo struct {
	Version          string `json:"version" yaml:"version"`
	Commit           string `json:"commit" yaml:"commit"`
	Date             string `json:"date" yaml:"date"`
	GoVersion        string `json:"go_version" yaml:"go_version"`
	Platform         string `json:"platform" yaml:"platform"`
	ArtifactVersion  string `json:"artifact_version,omitempty" yaml:"artifact_version,omitempty"`
	LatestVersion    string `json:"latest_version,omitempty" yaml:"latest_version,omitempty"`
	UpdateAvailable  bool   `json:"update_available,omitempty" yaml:"update_available,omitempty"`
	CheckError       string `json:"check_error,omitempty" yaml:"check_error,omitempty"`
	checked          bool
}

func (v versionInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "modrunner version %s (commit %s, built %s, %s %s)", displayName(v.Version), v.Commit, v.Date, v.GoVersion, v.Platform)
	if v.ArtifactVersion != "" {
		fmt.Fprintf(&b, "\nartifact version %s", displayName(v.ArtifactVersion))
	}
	if !v.checked {
		return b.String()
	}
	switch {
	case v.CheckError != "":
		fmt.Fprintf(&b, "\nupdate check failed: %s", v.CheckError)
	case v.UpdateAvailable:
		fmt.Fprintf(&b, "\nartifact %s available, run 'modrunner fetch' to update", displayName(v.LatestVersion))
	default:
		b.WriteString("\nartifact is up to date")
	}
	return b.String()
}

// displayName renders semantic versions with a leading v and leaves
// other identifiers untouched.
func displayName(v string) string {
	if c := version.Canonical(v); c != "" {
		return c
	}
	return v
}

func newVersionCmd() *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information and check for artifact updates",
		Long: `Display the modrunner version and the installed artifact version.

Examples:
  modrunner version              # Show versions
  modrunner version --check      # Also ask the server for a newer artifact`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			info := versionInfo{
				Version:         buildVersion,
				Commit:          buildCommit,
				Date:            buildDate,
				GoVersion:       runtime.Version(),
				Platform:        runtime.GOOS + "/" + runtime.GOARCH,
				ArtifactVersion: version.NewStore(s.workDir, s.logger).CurrentVersion(),
			}

			if checkOnly {
				info.checked = true
				l, err := s.launcher(cmd)
				if err != nil {
					return err
				}
				res, err := l.Check(cmd.Context())
				if err != nil {
					info.CheckError = err.Error()
				} else {
					info.LatestVersion = res.LatestVersion
					info.UpdateAvailable = res.HasUpdate
				}
			}

			return s.out.Write(info)
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "Check the server for a newer artifact")

	return cmd
}
