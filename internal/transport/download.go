package transport

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/adamancini/modrunner/internal/backup"
)

// Download fetches rawURL into dest. The body is staged in dest+".tmp",
// synced, checked against Content-MD5 when the server sends one and then
// renamed into place. Failed attempts remove the staging file and are
// retried after a fixed delay. Returns the absolute path of dest.
func (c *Client) Download(ctx context.Context, rawURL, dest string) (string, error) {
	tmp := dest + backup.TempSuffix
	attempt := 0

	op := func() (string, error) {
		attempt++
		path, err := c.fetch(ctx, rawURL, dest, tmp, attempt)
		if err != nil {
			removeQuietly(tmp, c.logger)
			if ctx.Err() != nil {
				return "", backoff.Permanent(ctx.Err())
			}
			return "", err
		}
		return path, nil
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn("download attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.opts.RetryTimes),
			zap.Duration("delay", next),
			zap.Error(err))
	}

	path, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.RetryDelay)),
		backoff.WithMaxTries(uint(c.opts.RetryTimes)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		removeQuietly(tmp, c.logger)
		return "", fmt.Errorf("download failed after %d attempt(s): %w", attempt, err)
	}

	return path, nil
}

// fetch performs one download attempt.
func (c *Client) fetch(ctx context.Context, rawURL, dest, tmp string, attempt int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("invalid download URL: %w", err))
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}

	total := resp.ContentLength
	hash := md5.New()
	tracker := newProgressTracker(c.progress, attempt, total)

	written, err := copyChunked(io.MultiWriter(f, hash), resp.Body, c.opts.ChunkSize, tracker.add)
	if err != nil {
		f.Close()
		return "", fmt.Errorf("download interrupted after %d bytes: %w", written, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}

	if total > 0 && written != total {
		return "", fmt.Errorf("expected %d bytes, received %d: %w", total, written, io.ErrUnexpectedEOF)
	}

	if expected := resp.Header.Get("Content-MD5"); expected != "" {
		tracker.emit(PhaseVerifying)
		if !checksumMatches(expected, hash.Sum(nil)) {
			return "", fmt.Errorf("%w: expected %s, got %s", ErrChecksum, expected, hex.EncodeToString(hash.Sum(nil)))
		}
	}

	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}
	tracker.emit(PhaseComplete)

	abs, err := filepath.Abs(dest)
	if err != nil {
		return dest, nil
	}

	c.logger.Debug("download complete",
		zap.String("path", abs),
		zap.Int64("bytes", written),
		zap.Int("attempt", attempt))

	return abs, nil
}

// copyChunked copies src to dst in chunkSize reads, reporting each chunk.
func copyChunked(dst io.Writer, src io.Reader, chunkSize int, onChunk func(int)) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			onChunk(n)
		}
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// checksumMatches compares a Content-MD5 header against a digest.
// Both the RFC 1864 base64 form and a hex digest are accepted.
func checksumMatches(header string, sum []byte) bool {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, hex.EncodeToString(sum)) {
		return true
	}
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	return string(decoded) == string(sum)
}

func removeQuietly(path string, logger *zap.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove staging file", zap.String("path", path), zap.Error(err))
	}
}
