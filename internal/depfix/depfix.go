// Package depfix repairs missing runtime dependencies reported when an
// artifact is loaded: it maps the missing import onto a package name,
// checks the installed inventory and installs with pip.
package depfix

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adamancini/modrunner/internal/proc"
)

// DefaultInstallTimeout bounds a single package install.
const DefaultInstallTimeout = 300 * time.Second

var missingModulePattern = regexp.MustCompile(`No module named ['"]([^'"]+)['"]`)

// ExtractMissingModule returns the top-level module named in a
// "No module named '...'" message.
func ExtractMissingModule(text string) (string, bool) {
	m := missingModulePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	module, _, _ := strings.Cut(m[1], ".")
	if module == "" {
		return "", false
	}
	return module, true
}

// Options configures a Resolver.
type Options struct {
	Interpreter    string
	InstallTimeout time.Duration
	// AutoInstall disables installs when false; repairs then only report.
	AutoInstall bool
	Mapper      Mapper
}

// Resolver maps missing modules to packages and installs them.
type Resolver struct {
	opts      Options
	runner    proc.Runner
	installed *InstalledSet
	logger    *zap.Logger
}

// New creates a resolver with an empty inventory. Call Snapshot to load
// the installed packages.
func New(opts Options, runner proc.Runner, logger *zap.Logger) *Resolver {
	if opts.InstallTimeout <= 0 {
		opts.InstallTimeout = DefaultInstallTimeout
	}
	if opts.Mapper == nil {
		opts.Mapper = DefaultChain()
	}
	if runner == nil {
		runner = &proc.DefaultRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		opts:      opts,
		runner:    runner,
		installed: NewInstalledSet(),
		logger:    logger,
	}
}

// WithInstalled replaces the inventory.
func (r *Resolver) WithInstalled(set *InstalledSet) *Resolver {
	r.installed = set
	return r
}

// Snapshot loads the installed packages. A failure leaves the inventory
// empty and is logged; every package then looks missing.
func (r *Resolver) Snapshot(ctx context.Context) {
	set, err := Snapshot(ctx, r.runner, r.opts.Interpreter)
	if err != nil {
		r.logger.Warn("unable to read installed packages", zap.Error(err))
	}
	r.installed = set
	r.logger.Debug("installed packages", zap.Int("count", set.Len()))
}

// MapToPackage returns the package that provides module. ok is false when
// there is nothing to install.
func (r *Resolver) MapToPackage(module string) (string, bool) {
	pkg, decided := r.opts.Mapper.Map(module)
	if !decided || pkg == "" {
		return "", false
	}
	return pkg, true
}

// IsInstalled reports whether pkg is in the inventory.
func (r *Resolver) IsInstalled(pkg string) bool {
	return r.installed.Has(pkg)
}

// Install runs pip for pkg. On success the package joins the inventory.
func (r *Resolver) Install(ctx context.Context, pkg string) bool {
	if !r.opts.AutoInstall {
		r.logger.Warn("automatic dependency installation is disabled", zap.String("package", pkg))
		return false
	}

	r.logger.Info("installing dependency: " + pkg)

	ctx, cancel := context.WithTimeout(ctx, r.opts.InstallTimeout)
	defer cancel()

	start := time.Now()
	out, err := r.runner.Run(ctx, proc.Command{
		Name: r.opts.Interpreter,
		Args: []string{"-m", "pip", "install", pkg, "--upgrade", "-q"},
	})
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.logger.Error(fmt.Sprintf("%s install timed out (>%s)", pkg, r.opts.InstallTimeout))
			return false
		}
		r.logger.Error(pkg+" install failed", zap.Int("exit_code", proc.ExitCode(err)))
		for _, line := range proc.LastLines(out, 2) {
			r.logger.Error("└─ " + line)
		}
		return false
	}

	r.logger.Info(fmt.Sprintf("%s (%.1fs)", pkg, elapsed.Seconds()))
	r.installed.Add(strings.ReplaceAll(pkg, "-", "_"))
	return true
}

// AutoRepair handles a load failure message: extract the missing module,
// map it to a package and install it unless already present. Returns true
// when the dependency is believed to be available.
func (r *Resolver) AutoRepair(ctx context.Context, text string) bool {
	module, ok := ExtractMissingModule(text)
	if !ok {
		return false
	}

	pkg, ok := r.MapToPackage(module)
	if !ok {
		r.logger.Debug("missing module ships with the interpreter", zap.String("module", module))
		return false
	}

	if r.IsInstalled(pkg) {
		r.logger.Debug("dependency already installed", zap.String("module", module), zap.String("package", pkg))
		return true
	}

	r.logger.Info("missing dependency: " + module)
	return r.Install(ctx, pkg)
}

// EnsureCommon installs any of pkgs that are missing. Returns false if
// any install failed.
func (r *Resolver) EnsureCommon(ctx context.Context, pkgs []string) bool {
	var missing []string
	for _, p := range pkgs {
		if !r.IsInstalled(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return true
	}

	r.logger.Info("checking dependencies...")
	ok := true
	for _, p := range missing {
		if !r.Install(ctx, p) {
			ok = false
		}
	}
	return ok
}

// InstallHelp returns manual installation guidance for module.
func (r *Resolver) InstallHelp(module string) string {
	if pkg, ok := r.MapToPackage(module); ok {
		return fmt.Sprintf("install the dependency manually: %s -m pip install %s", r.opts.Interpreter, pkg)
	}
	return fmt.Sprintf("check that module '%s' is correct, or install its dependencies manually", module)
}

// Suggest returns alternative packages worth trying for module.
func Suggest(module string) []string {
	lower := strings.ToLower(module)
	switch {
	case strings.Contains(lower, "socks"), strings.Contains(lower, "proxy"):
		return []string{"aiohttp-socks", "requests[socks]", "pysocks"}
	case strings.Contains(lower, "http"):
		return []string{"aiohttp", "requests", "httpx"}
	}
	return nil
}
