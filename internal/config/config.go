// Package config handles modrunner configuration parsing and location resolution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ServerURLEnv selects an alternate module server.
const ServerURLEnv = "MODRUNNER_SERVER_URL"

// ConfigEnv points at an explicit configuration file.
const ConfigEnv = "MODRUNNER_CONFIG"

// Defaults for the module server and transfer policy.
const (
	DefaultBaseURL             = "http://127.0.0.1:2424"
	DefaultDownloadEndpoint    = "/api/system/download.php"
	DefaultCheckUpdateEndpoint = "/api/system/check_update.php"
	DefaultTimeout             = 30
	DefaultRetryTimes          = 3
	DefaultRetryDelay          = 2
	DefaultChunkSize           = 8192
	DefaultBaseName            = "Kuaishou"
	DefaultEntryPoint          = "main"
	DefaultMaxDependencyRetry  = 3
	DefaultInstallTimeout      = 300
)

// ServerConfig describes the module server and download policy.
type ServerConfig struct {
	BaseURL             string `yaml:"base_url" toml:"base_url" json:"base_url"`
	DownloadEndpoint    string `yaml:"download_endpoint" toml:"download_endpoint" json:"download_endpoint"`
	CheckUpdateEndpoint string `yaml:"check_update_endpoint" toml:"check_update_endpoint" json:"check_update_endpoint"`
	Timeout             int    `yaml:"timeout" toml:"timeout" json:"timeout"`             // Seconds per request
	RetryTimes          int    `yaml:"retry_times" toml:"retry_times" json:"retry_times"` // Download attempts
	RetryDelay          int    `yaml:"retry_delay" toml:"retry_delay" json:"retry_delay"` // Seconds between attempts
	ChunkSize           int    `yaml:"chunk_size" toml:"chunk_size" json:"chunk_size"`    // Bytes per read
}

// TimeoutDuration returns the request timeout.
func (s ServerConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// RetryDelayDuration returns the pause between download attempts.
func (s ServerConfig) RetryDelayDuration() time.Duration {
	return time.Duration(s.RetryDelay) * time.Second
}

// UpdateConfig controls the acquisition policy.
type UpdateConfig struct {
	AutoUpdate               bool `yaml:"auto_update" toml:"auto_update" json:"auto_update"`
	BackupOldFiles           bool `yaml:"backup_old_files" toml:"backup_old_files" json:"backup_old_files"`
	// When false the previous artifact stays as <file>.backup until the
	// next update replaces it.
	DeleteBackupAfterSuccess bool `yaml:"delete_backup_after_success" toml:"delete_backup_after_success" json:"delete_backup_after_success"`
	AutoInstallDependencies  bool `yaml:"auto_install_dependencies" toml:"auto_install_dependencies" json:"auto_install_dependencies"`
}

// ModuleConfig names the artifact and the entry point invoked after load.
type ModuleConfig struct {
	BaseName     string   `yaml:"base_name" toml:"base_name" json:"base_name"`
	Candidates   []string `yaml:"candidates,omitempty" toml:"candidates,omitempty" json:"candidates,omitempty"` // Alternative module names
	EntryPoint   string   `yaml:"entry_point" toml:"entry_point" json:"entry_point"`
	Args         []string `yaml:"args,omitempty" toml:"args,omitempty" json:"args,omitempty"`
	ArtifactKind string   `yaml:"artifact_kind,omitempty" toml:"artifact_kind,omitempty" json:"artifact_kind,omitempty"` // Override: native or bytecode
}

// LoaderConfig controls the host interpreter and dependency repair.
type LoaderConfig struct {
	Interpreter          string   `yaml:"interpreter" toml:"interpreter" json:"interpreter"`
	InterpreterTag       string   `yaml:"interpreter_tag,omitempty" toml:"interpreter_tag,omitempty" json:"interpreter_tag,omitempty"` // Skips probing when set
	MaxDependencyRetries int      `yaml:"max_dependency_retries" toml:"max_dependency_retries" json:"max_dependency_retries"`
	InstallTimeout       int      `yaml:"install_timeout" toml:"install_timeout" json:"install_timeout"` // Seconds per install
	CommonDependencies   []string `yaml:"common_dependencies" toml:"common_dependencies" json:"common_dependencies"`
	CheckLinkage         bool     `yaml:"check_linkage" toml:"check_linkage" json:"check_linkage"`
}

// InstallTimeoutDuration returns the package install timeout.
func (l LoaderConfig) InstallTimeoutDuration() time.Duration {
	return time.Duration(l.InstallTimeout) * time.Second
}

// LogConfig controls logging sinks.
type LogConfig struct {
	Level string `yaml:"level" toml:"level" json:"level"`
	File  string `yaml:"file,omitempty" toml:"file,omitempty" json:"file,omitempty"`
}

// Config is the complete modrunner configuration.
type Config struct {
	WorkDir string       `yaml:"work_dir,omitempty" toml:"work_dir,omitempty" json:"work_dir,omitempty"`
	Server  ServerConfig `yaml:"server" toml:"server" json:"server"`
	Update  UpdateConfig `yaml:"update" toml:"update" json:"update"`
	Module  ModuleConfig `yaml:"module" toml:"module" json:"module"`
	Loader  LoaderConfig `yaml:"loader" toml:"loader" json:"loader"`
	Log     LogConfig    `yaml:"log" toml:"log" json:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:             DefaultBaseURL,
			DownloadEndpoint:    DefaultDownloadEndpoint,
			CheckUpdateEndpoint: DefaultCheckUpdateEndpoint,
			Timeout:             DefaultTimeout,
			RetryTimes:          DefaultRetryTimes,
			RetryDelay:          DefaultRetryDelay,
			ChunkSize:           DefaultChunkSize,
		},
		Update: UpdateConfig{
			AutoUpdate:               true,
			BackupOldFiles:           true,
			DeleteBackupAfterSuccess: true,
			AutoInstallDependencies:  true,
		},
		Module: ModuleConfig{
			BaseName:   DefaultBaseName,
			EntryPoint: DefaultEntryPoint,
		},
		Loader: LoaderConfig{
			Interpreter:          defaultInterpreter(),
			MaxDependencyRetries: DefaultMaxDependencyRetry,
			InstallTimeout:       DefaultInstallTimeout,
			CommonDependencies:   []string{"requests", "aiohttp", "aiohttp-socks"},
			CheckLinkage:         true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultInterpreter() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// ResolveWorkDir returns the directory holding the artifact and version
// record: the configured work_dir, else the executable's directory.
func (c *Config) ResolveWorkDir() (string, error) {
	if c.WorkDir != "" {
		return filepath.Abs(c.WorkDir)
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}

	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path: %w", err)
	}

	return filepath.Dir(exe), nil
}

// ApplyEnv applies environment overrides. Returns true if the server URL
// was overridden.
func (c *Config) ApplyEnv() bool {
	if url := os.Getenv(ServerURLEnv); url != "" {
		c.Server.BaseURL = url
		return true
	}
	return false
}

// FindConfig searches for a configuration file in the standard locations.
// Returns "" without error when no file exists; configuration is optional.
func FindConfig(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("specified config not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Check MODRUNNER_CONFIG environment variable
	if envPath := os.Getenv(ConfigEnv); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	for _, dir := range searchDirs() {
		for _, name := range fileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", nil
}

// fileNames are the accepted configuration file names.
var fileNames = []string{
	"modrunner.yaml",
	"modrunner.yml",
	"modrunner.toml",
	"modrunner.json",
	".modrunner.yaml",
	".modrunner.yml",
	".modrunner.toml",
	".modrunner.json",
}

// searchDirs returns directories in order of precedence.
func searchDirs() []string {
	var dirs []string

	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return dirs
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	dirs = append(dirs, filepath.Join(xdgConfig, "modrunner"))
	dirs = append(dirs, home)

	return dirs
}

// Load reads and parses a configuration file on top of the defaults.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	format := detectFormat(path, content)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unable to detect file format for %s", path)
	}

	if err := parse(content, format, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
