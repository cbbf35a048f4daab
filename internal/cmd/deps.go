package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamancini/modrunner/internal/depfix"
	"github.com/adamancini/modrunner/internal/types"
)

// depStatus is one row of the deps report.
type depStatus struct {
	Module    string `json:"module" yaml:"module"`
	Package   string `json:"package,omitempty" yaml:"package,omitempty"`
	Installed bool   `json:"installed" yaml:"installed"`
	Stdlib    bool   `json:"stdlib,omitempty" yaml:"stdlib,omitempty"`
	Action    string `json:"action,omitempty" yaml:"action,omitempty"`
}

type depsReport []depStatus

func (r depsReport) String() string {
	var b strings.Builder
	for _, d := range r {
		mark := "✗"
		switch {
		case d.Stdlib:
			mark = "·"
		case d.Installed:
			mark = "✓"
		}
		line := fmt.Sprintf("%s %s", mark, d.Module)
		if d.Package != "" && d.Package != d.Module {
			line += " (" + d.Package + ")"
		}
		if d.Stdlib {
			line += " standard library"
		}
		if d.Action != "" {
			line += " " + d.Action
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func newDepsCmd() *cobra.Command {
	var install bool

	cmd := &cobra.Command{
		Use:   "deps [module...]",
		Short: "Check which Python modules are installed",
		Long: `Deps maps each module name to the package that provides it and reports
whether that package is installed for the configured interpreter. Without
arguments the common dependencies from the config are checked.

Examples:
  modrunner deps                      # Check common dependencies
  modrunner deps yaml cv2             # Check specific modules
  modrunner deps aiohttp_socks --install`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if install {
				s.cfg.Update.AutoInstallDependencies = true
			}

			l, err := s.launcher(cmd)
			if err != nil {
				return err
			}
			if _, err := l.Interpreter(); err != nil {
				return &ExitError{Code: types.ExitLoadFailed, Err: err}
			}

			modules := args
			if len(modules) == 0 {
				modules = s.cfg.Loader.CommonDependencies
			}

			res := l.Resolver()
			res.Snapshot(cmd.Context())

			var rows depsReport
			missing := 0
			for _, m := range modules {
				row := depStatus{Module: m}
				pkg, ok := res.MapToPackage(m)
				if !ok {
					row.Stdlib = true
					row.Installed = true
					rows = append(rows, row)
					continue
				}
				row.Package = pkg
				row.Installed = res.IsInstalled(pkg)
				if !row.Installed && install {
					if res.Install(cmd.Context(), pkg) {
						row.Installed = true
						row.Action = "installed"
					} else {
						row.Action = "install failed"
					}
				}
				if !row.Installed {
					missing++
					if row.Action == "" {
						row.Action = "suggestion: " + res.InstallHelp(m)
						if alts := depfix.Suggest(m); len(alts) > 0 {
							row.Action += " (or try " + strings.Join(alts, ", ") + ")"
						}
					}
				}
				rows = append(rows, row)
			}

			if err := s.out.Write(rows); err != nil {
				return err
			}
			if missing > 0 {
				if !install {
					s.out.Printf("%d package(s) missing, run 'modrunner deps --install' to install them\n", missing)
				}
				return &ExitError{Code: types.ExitNotFound}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&install, "install", false, "Install missing packages with pip")

	return cmd
}
