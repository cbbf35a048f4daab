// Package report renders the start-up banner and the environment report
// printed when an artifact cannot be found.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// Environment is everything needed to tell why an artifact was not
// available for this host.
type Environment struct {
	OS                 string `json:"os" yaml:"os"`
	GOOS               string `json:"goos" yaml:"goos"`
	Arch               string `json:"arch" yaml:"arch"`
	InterpreterTag     string `json:"interpreter_tag" yaml:"interpreter_tag"`
	InterpreterVersion string `json:"interpreter_version,omitempty" yaml:"interpreter_version,omitempty"`
	InterpreterPath    string `json:"interpreter_path,omitempty" yaml:"interpreter_path,omitempty"`
	Platform           string `json:"platform,omitempty" yaml:"platform,omitempty"`
	WorkDir            string `json:"work_dir" yaml:"work_dir"`
	ArtifactKind       string `json:"artifact_kind" yaml:"artifact_kind"`
	FileType           string `json:"file_type" yaml:"file_type"`
	ExpectedFile       string `json:"expected_file" yaml:"expected_file"`
	InstalledVersion   string `json:"installed_version,omitempty" yaml:"installed_version,omitempty"`
	ServerURL          string `json:"server_url" yaml:"server_url"`
	Timeout            int    `json:"timeout" yaml:"timeout"`
	RetryTimes         int    `json:"retry_times" yaml:"retry_times"`
	ChunkSize          int    `json:"chunk_size" yaml:"chunk_size"`
	KnownArch          bool   `json:"known_arch" yaml:"known_arch"`
}

// Field is a labelled value in a section.
type Field struct {
	Key   string
	Value string
}

// Section renders a titled, boxed list of fields.
func Section(title string, fields []Field) string {
	width := 0
	for _, f := range fields {
		width = max(width, lipgloss.Width(f.Key))
	}

	rows := make([]string, 0, len(fields)+1)
	rows = append(rows, titleStyle.Render(title))
	for _, f := range fields {
		value := f.Value
		if value == "" {
			value = "-"
		}
		rows = append(rows, keyStyle.Width(width+2).Render(f.Key)+value)
	}

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// Fields returns the report rows.
func (e Environment) Fields() []Field {
	interpreter := e.InterpreterVersion
	if e.InterpreterPath != "" {
		interpreter = strings.TrimSpace(interpreter + " (" + e.InterpreterPath + ")")
	}
	arch := e.Arch
	if !e.KnownArch {
		arch += " (no published builds)"
	}
	return []Field{
		{"OS", fmt.Sprintf("%s (%s)", e.OS, e.GOOS)},
		{"Architecture", arch},
		{"Interpreter tag", e.InterpreterTag},
		{"Interpreter", interpreter},
		{"Platform", e.Platform},
		{"Work dir", e.WorkDir},
		{"File type", e.FileType},
		{"Expected file", e.ExpectedFile},
		{"Installed version", e.InstalledVersion},
		{"Server", e.ServerURL},
		{"Timeout", fmt.Sprintf("%ds", e.Timeout)},
		{"Retries", fmt.Sprintf("%d", e.RetryTimes)},
		{"Chunk size", fmt.Sprintf("%d bytes", e.ChunkSize)},
	}
}

// String renders the environment report.
func (e Environment) String() string {
	return Section("Environment", e.Fields())
}

// Banner renders the start-up banner.
func Banner(name, version string) string {
	return boxStyle.Render(titleStyle.Render(name) + " " + keyStyle.Render(version) + "\n" +
		"module acquisition and loading engine")
}

// NotFoundHints renders the likely causes of a missing artifact.
func NotFoundHints() string {
	hints := []string{
		"the server has no build for this version",
		"this architecture or interpreter version is not supported",
		"the server is misconfigured or unreachable",
	}
	var b strings.Builder
	b.WriteString(warnStyle.Render("possible causes:"))
	for i, h := range hints {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, h)
	}
	return b.String()
}
