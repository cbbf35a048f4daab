// Package transport talks to the module server: version checks, download
// link requests and the artifact download itself.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/adamancini/modrunner/internal/platform"
	"github.com/adamancini/modrunner/internal/version"
)

// UserAgent is sent with every request.
const UserAgent = "modrunner/2.0"

var (
	// ErrNotFound is returned when the server answers 404.
	ErrNotFound = errors.New("resource not found on server")
	// ErrChecksum is returned when a download does not match Content-MD5.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrNoDownloadURL is returned when the server omits download_url.
	ErrNoDownloadURL = errors.New("server did not provide a download link")
)

// APIError is a well-formed response with success=false.
type APIError struct {
	Message string
	Code    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
	}
	return "server error: " + e.Message
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// Unwrap maps 404 onto ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Options configures a Client.
type Options struct {
	BaseURL             string
	DownloadEndpoint    string
	CheckUpdateEndpoint string
	Timeout             time.Duration
	RetryTimes          int
	RetryDelay          time.Duration
	ChunkSize           int
	// InterpreterVersion is the full interpreter version string reported
	// in client_info.
	InterpreterVersion string
}

// UpdateInfo is the server's answer to a version check.
type UpdateInfo struct {
	HasUpdate     bool   `json:"has_update" yaml:"has_update"`
	LatestVersion string `json:"latest_version,omitempty" yaml:"latest_version,omitempty"`
	Description   string `json:"update_description,omitempty" yaml:"update_description,omitempty"`
}

// DownloadLink is the server's answer to a download request.
type DownloadLink struct {
	URL     string       `json:"download_url"`
	Version version.Info `json:"version_info"`
}

// Client is the module server client.
type Client struct {
	opts       Options
	http       *http.Client
	logger     *zap.Logger
	progress   ProgressFunc
	onNotFound func()
}

// New creates a client. Zero-valued options fall back to sane defaults.
func New(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryTimes <= 0 {
		opts.RetryTimes = 3
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 8192
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
}

// WithProgress sets the download progress callback.
func (c *Client) WithProgress(fn ProgressFunc) *Client {
	c.progress = fn
	return c
}

// WithNotFoundHook sets a function called whenever the server answers 404,
// typically to print the environment report.
func (c *Client) WithNotFoundHook(fn func()) *Client {
	c.onNotFound = fn
	return c
}

// requestBody is the common request payload.
type requestBody struct {
	BaseName       string      `json:"base_name"`
	PythonVersion  string      `json:"python_version"`
	Architecture   string      `json:"architecture"`
	CurrentVersion *string     `json:"current_version,omitempty"`
	Platform       string      `json:"platform"`
	OSType         string      `json:"os_type"`
	FileType       string      `json:"file_type"`
	ClientInfo     *clientInfo `json:"client_info,omitempty"`
}

type clientInfo struct {
	PythonVersion string `json:"python_version"`
	Platform      string `json:"platform"`
	Architecture  string `json:"architecture"`
	OSType        string `json:"os_type"`
	FileExtension string `json:"file_extension"`
}

func newRequestBody(baseName string, key platform.Key) requestBody {
	return requestBody{
		BaseName:      baseName,
		PythonVersion: key.InterpreterTag,
		Architecture:  key.Arch,
		Platform:      key.Description(),
		OSType:        key.OSType(),
		FileType:      key.FileType(),
	}
}

// CheckUpdate asks the server whether a newer artifact exists. It is not
// retried; callers treat any error as "no information available".
func (c *Client) CheckUpdate(ctx context.Context, baseName string, key platform.Key, current string) (*UpdateInfo, error) {
	body := newRequestBody(baseName, key)
	if current != "" {
		body.CurrentVersion = &current
	}

	data, err := c.post(ctx, c.opts.CheckUpdateEndpoint, body)
	if err != nil {
		return nil, fmt.Errorf("version check failed: %w", err)
	}

	var raw struct {
		HasUpdate     *bool           `json:"has_update"`
		LatestVersion json.RawMessage `json:"latest_version"`
		Description   string          `json:"update_description"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode version check: %w", err)
	}

	info := &UpdateInfo{
		LatestVersion: rawString(raw.LatestVersion),
		Description:   raw.Description,
	}
	switch {
	case raw.HasUpdate != nil:
		info.HasUpdate = *raw.HasUpdate
	case info.LatestVersion != "":
		info.HasUpdate = version.IsNewer(info.LatestVersion, current)
	}

	c.logger.Debug("version check complete",
		zap.Bool("has_update", info.HasUpdate),
		zap.String("latest", info.LatestVersion),
		zap.String("current", current))

	return info, nil
}

// RequestDownloadLink asks the server for the artifact download URL.
func (c *Client) RequestDownloadLink(ctx context.Context, baseName string, key platform.Key) (*DownloadLink, error) {
	body := newRequestBody(baseName, key)
	body.ClientInfo = &clientInfo{
		PythonVersion: c.opts.InterpreterVersion,
		Platform:      key.Description(),
		Architecture:  key.Arch,
		OSType:        key.OSType(),
		FileExtension: key.Extension(),
	}

	data, err := c.post(ctx, c.opts.DownloadEndpoint, body)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}

	var link DownloadLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("failed to decode download response: %w", err)
	}
	if link.URL == "" {
		return nil, ErrNoDownloadURL
	}
	// relative links point at the module server
	resolved, err := resolveURL(c.opts.BaseURL, link.URL)
	if err != nil {
		return nil, err
	}
	link.URL = resolved

	return &link, nil
}

// envelope is the unified response format. Responses without "success"
// use the legacy format where the whole body is the data.
type envelope struct {
	Success   *bool           `json:"success"`
	Message   string          `json:"message"`
	ErrorCode json.RawMessage `json:"error_code"`
	Data      json.RawMessage `json:"data"`
}

// post sends a JSON body and returns the unwrapped data payload.
func (c *Client) post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	target, err := resolveURL(c.opts.BaseURL, endpoint)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, URL: target}
		if resp.StatusCode == http.StatusNotFound {
			c.notFound()
		}
		return nil, statusErr
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return unwrapEnvelope(content, c.logger)
}

func unwrapEnvelope(content []byte, logger *zap.Logger) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if env.Success == nil {
		logger.Debug("legacy response format")
		return content, nil
	}

	if !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &APIError{Message: msg, Code: rawString(env.ErrorCode)}
	}

	logger.Debug("server response ok", zap.String("message", env.Message))
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return json.RawMessage("{}"), nil
	}
	return env.Data, nil
}

func (c *Client) notFound() {
	c.logger.Error("server returned 404: the requested artifact was not found")
	c.logger.Error("possible causes: no build for this version, unsupported architecture or interpreter, server misconfiguration")
	if c.onNotFound != nil {
		c.onNotFound()
	}
}

// resolveURL joins an endpoint onto the base URL the way browsers resolve
// references: an absolute endpoint path replaces the base path.
func resolveURL(base, endpoint string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	e, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	return b.ResolveReference(e).String(), nil
}

// rawString renders a JSON scalar as a string; strings are unquoted and
// numbers keep their literal form.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
