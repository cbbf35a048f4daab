package version

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileName is the record name used beside the executable.
const FileName = "version.json"

// Store reads and writes the single version record of an installation.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore creates a store backed by dir/version.json.
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   filepath.Join(dir, FileName),
		logger: logger,
	}
}

// Path returns the record location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted record. A missing or malformed file yields
// (nil, false); Load never fails loudly.
func (s *Store) Load() (*Info, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read version record", zap.String("path", s.path), zap.Error(err))
		}
		return nil, false
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		s.logger.Warn("ignoring malformed version record", zap.String("path", s.path), zap.Error(err))
		return nil, false
	}

	return &info, true
}

// CurrentVersion returns the persisted version identifier, or "".
func (s *Store) CurrentVersion() string {
	info, ok := s.Load()
	if !ok {
		return ""
	}
	return info.Version
}

// Save overwrites the record. The write goes through a sibling temp file so
// a crash never leaves a truncated record. Returns false on any failure.
func (s *Store) Save(info Info) bool {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		s.logger.Warn("failed to encode version record", zap.Error(err))
		return false
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		s.logger.Warn("failed to write version record", zap.String("path", tmp), zap.Error(err))
		return false
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		s.logger.Warn("failed to replace version record", zap.String("path", s.path), zap.Error(err))
		return false
	}

	return true
}
