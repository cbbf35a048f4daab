package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adamancini/modrunner/internal/config"
	"github.com/adamancini/modrunner/internal/launcher"
	applog "github.com/adamancini/modrunner/internal/log"
	"github.com/adamancini/modrunner/internal/output"
	"github.com/adamancini/modrunner/internal/types"
)

const serverEnvName = config.ServerURLEnv

// session bundles what every command needs after flag parsing.
type session struct {
	cfg        *config.Config
	configFile string
	workDir    string
	logger     *zap.Logger
	out        *output.Writer
	close      func()
}

// loadConfig applies defaults < file < environment < flags.
func loadConfig() (*config.Config, string, []string, error) {
	path, err := config.FindConfig(configPath)
	if err != nil {
		return nil, "", nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, nil, err
	}

	cfg.ApplyEnv()
	if serverURL != "" {
		cfg.Server.BaseURL = serverURL
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}

	warnings, err := config.Validate(cfg)
	if err != nil {
		return nil, path, warnings, err
	}
	return cfg, path, warnings, nil
}

// consoleLevel resolves the console log level from flags and config.
func consoleLevel(cfg *config.Config) string {
	switch {
	case quiet:
		return "error"
	case verbose:
		return "debug"
	default:
		return cfg.Log.Level
	}
}

func setup(cmd *cobra.Command) (*session, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}

	cfg, path, warnings, err := loadConfig()
	if err != nil {
		return nil, err
	}

	dir, err := cfg.ResolveWorkDir()
	if err != nil {
		return nil, err
	}

	logFile := cfg.Log.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(dir, logFile)
	}
	logger, closeLog, err := applog.New(applog.Options{
		Level:   consoleLevel(cfg),
		File:    logFile,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	if path != "" {
		logger.Debug("using config file " + path)
	}
	for _, w := range warnings {
		logger.Warn(w)
	}

	return &session{
		cfg:        cfg,
		configFile: path,
		workDir:    dir,
		logger:     logger,
		out:        output.NewWriter(cmd.OutOrStdout(), format),
		close:      closeLog,
	}, nil
}

func (s *session) launcher(cmd *cobra.Command) (*launcher.Launcher, error) {
	return launcher.New(cmd.Context(), launcher.Options{
		Config:   s.cfg,
		WorkDir:  s.workDir,
		Stdout:   cmd.OutOrStdout(),
		Stderr:   cmd.ErrOrStderr(),
		Logger:   s.logger,
		Progress: !quiet && !s.out.Structured(),
	})
}

// exitFor maps a failed acquisition to its exit code.
func exitFor(cmd *cobra.Command, err error) *ExitError {
	if cmd.Context().Err() != nil {
		return &ExitError{Code: types.ExitInterrupted, Err: fmt.Errorf("interrupted: %w", err)}
	}
	return &ExitError{Code: types.ExitNotFound, Err: err}
}
