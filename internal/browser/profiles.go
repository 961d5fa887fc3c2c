package browser

import (
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
)

// Profiles manages persistent browser profile directories, one per external
// service, so login sessions survive between runs.
type Profiles struct {
	baseDir string
	logger  arbor.ILogger
}

// NewProfiles creates a profile manager rooted at baseDir
func NewProfiles(baseDir string, logger arbor.ILogger) *Profiles {
	return &Profiles{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Path returns the profile directory for a service, creating it if needed
func (p *Profiles) Path(service string) (string, error) {
	path := filepath.Join(p.baseDir, service)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

// ClearCache deletes browser cache for a service while preserving
// cookies and local storage
func (p *Profiles) ClearCache(service string) bool {
	profile := filepath.Join(p.baseDir, service)
	cacheDirs := []string{
		filepath.Join(profile, "Default", "Cache"),
		filepath.Join(profile, "Default", "Code Cache"),
		filepath.Join(profile, "Default", "GPUCache"),
	}

	removed := false
	for _, dir := range cacheDirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			if err := os.RemoveAll(dir); err != nil {
				p.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to clear cache directory")
				continue
			}
			p.logger.Info().Str("dir", dir).Msg("Cleared browser cache")
			removed = true
		}
	}
	return removed
}

// ClearProfile deletes the entire profile for a service
func (p *Profiles) ClearProfile(service string) bool {
	path := filepath.Join(p.baseDir, service)
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return false
	}
	if err := os.RemoveAll(path); err != nil {
		p.logger.Warn().Err(err).Str("path", path).Msg("Failed to clear browser profile")
		return false
	}
	p.logger.Info().Str("path", path).Msg("Cleared browser profile")
	return true
}
