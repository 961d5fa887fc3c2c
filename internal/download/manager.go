// Package download organizes generated audio artifacts on disk. Each song
// gets a dated, slugified directory; files are written atomically (temp file
// then rename) so partial downloads never appear at the target path.
package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// MinAudioBytes is the smallest plausible audio file. Anything below this
// is an error page, not a song.
const MinAudioBytes = 10240

// sizeTolerance is the allowed deviation from an expected size
const sizeTolerance = 0.05

var audioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
	".flac": true,
	".m4a":  true,
}

// VerificationError reports a downloaded file that failed audio validation
// or size verification.
type VerificationError struct {
	Reason       string
	ActualSize   int64
	ExpectedSize int64
}

func (e *VerificationError) Error() string {
	return e.Reason
}

// ValidationResult describes one pass over a candidate audio file
type ValidationResult struct {
	Valid  bool
	Size   int64
	Format string
	Errors []string
}

// Manager resolves artifact paths and performs verified downloads
type Manager struct {
	baseDir string
	client  *http.Client
	logger  arbor.ILogger
}

// NewManager creates the base directory if needed
func NewManager(baseDir string, timeout time.Duration, logger arbor.ILogger) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Manager{
		baseDir: baseDir,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

var (
	nonSlugChars = regexp.MustCompile(`[^\w\s-]`)
	slugSpaces   = regexp.MustCompile(`[\s_]+`)
	slugHyphens  = regexp.MustCompile(`-+`)
	nonWordChars = regexp.MustCompile(`[^\w]`)
)

// Slugify converts a song title to a filesystem-safe slug.
// "Treasure on Second Street" becomes "treasure-on-second-street".
func Slugify(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = nonSlugChars.ReplaceAllString(text, "")
	text = slugSpaces.ReplaceAllString(text, "-")
	text = slugHyphens.ReplaceAllString(text, "-")
	text = strings.Trim(text, "-")
	if text == "" {
		return "untitled"
	}
	return text
}

// SongDir creates and returns the directory for one song's files, named
// <datePrefix>_<slug>. An empty datePrefix uses today's date.
func (m *Manager) SongDir(songTitle, datePrefix string) (string, error) {
	if datePrefix == "" {
		datePrefix = time.Now().Format("2006-01-02")
	}
	dir := filepath.Join(m.baseDir, fmt.Sprintf("%s_%s", datePrefix, Slugify(songTitle)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create song directory: %w", err)
	}
	return dir, nil
}

// FilePath returns the target path for a numbered song version, like
// <base>/2026-08-30_my-song/my-song_v1.mp3
func (m *Manager) FilePath(songTitle string, version int, extension, datePrefix string) (string, error) {
	dir, err := m.SongDir(songTitle, datePrefix)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("%s_v%d%s", Slugify(songTitle), version, extension)), nil
}

// TrackFilePath returns the target path for a named track type, like
// <base>/2026-08-30_my-song/my-song_instrumental.mp3
func (m *Manager) TrackFilePath(songTitle, trackType, extension, datePrefix string) (string, error) {
	dir, err := m.SongDir(songTitle, datePrefix)
	if err != nil {
		return "", err
	}
	safeType := nonWordChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(trackType)), "_")
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", Slugify(songTitle), safeType, extension)), nil
}

// ExistingFiles lists already-downloaded files for a song, sorted by name
func (m *Manager) ExistingFiles(songTitle, datePrefix string) ([]string, error) {
	dir, err := m.SongDir(songTitle, datePrefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// SaveFromURL downloads a song version directly from a URL, carrying the
// browser session's cookies, then validates the result. expectedSize of 0
// skips the size comparison.
func (m *Manager) SaveFromURL(ctx context.Context, rawURL, songTitle string, version int, cookies []*http.Cookie, expectedSize int64) (string, error) {
	target, err := m.FilePath(songTitle, version, extensionFromURL(rawURL), "")
	if err != nil {
		return "", err
	}
	return m.download(ctx, rawURL, target, cookies, expectedSize)
}

func (m *Manager) download(ctx context.Context, rawURL, target string, cookies []*http.Cookie, expectedSize int64) (string, error) {
	m.logger.Info().Str("url", truncateURL(rawURL)).Str("target", target).Msg("Downloading artifact")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid download url: %w", err)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download request returned status %d", resp.StatusCode)
	}

	size, err := writeAtomic(target, resp.Body)
	if err != nil {
		return "", err
	}
	m.logger.Info().Int64("bytes", size).Msg("Download complete")

	result := ValidateAudioFile(target)
	if !result.Valid {
		os.Remove(target)
		return "", &VerificationError{
			Reason:       fmt.Sprintf("invalid audio file: %s", strings.Join(result.Errors, "; ")),
			ActualSize:   result.Size,
			ExpectedSize: expectedSize,
		}
	}

	if expectedSize > 0 {
		diff := float64(size-expectedSize) / float64(expectedSize)
		if diff < 0 {
			diff = -diff
		}
		if diff > sizeTolerance {
			os.Remove(target)
			return "", &VerificationError{
				Reason:       fmt.Sprintf("file size mismatch: expected %d, got %d", expectedSize, size),
				ActualSize:   size,
				ExpectedSize: expectedSize,
			}
		}
	}

	return target, nil
}

// writeAtomic streams body to a temp file in the target's directory, then
// renames it into place
func writeAtomic(target string, body io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	size, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to write download: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to finalize download: %w", err)
	}
	return size, nil
}

// RemoteFileSize probes a URL's Content-Length via HEAD. Returns 0 when the
// server does not report a usable size.
func (m *Manager) RemoteFileSize(ctx context.Context, rawURL string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0
	}
	size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil || size < 0 {
		return 0
	}
	return size
}

// ValidateAudioFile checks size and magic bytes. A file under MinAudioBytes
// or starting with text/markup is an error response, not audio.
func ValidateAudioFile(filePath string) ValidationResult {
	result := ValidationResult{}

	info, err := os.Stat(filePath)
	if err != nil {
		result.Errors = append(result.Errors, "file does not exist")
		return result
	}
	result.Size = info.Size()

	if result.Size < MinAudioBytes {
		result.Errors = append(result.Errors, fmt.Sprintf("file too small (%d bytes, minimum %d)", result.Size, MinAudioBytes))
		return result
	}

	f, err := os.Open(filePath)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("cannot read file: %v", err))
		return result
	}
	defer f.Close()

	header := make([]byte, 4)
	n, err := io.ReadFull(f, header)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("file too short to identify (%d bytes header)", n))
		return result
	}

	switch {
	case header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		result.Valid = true
		result.Format = "mp3"
	case bytes.HasPrefix(header, []byte("ID3")):
		result.Valid = true
		result.Format = "mp3/id3"
	case bytes.Equal(header, []byte("RIFF")):
		result.Valid = true
		result.Format = "wav"
	case bytes.Equal(header, []byte("OggS")):
		result.Valid = true
		result.Format = "ogg"
	case bytes.Equal(header, []byte("fLaC")):
		result.Valid = true
		result.Format = "flac"
	case header[0] == '<' || header[0] == '{' || header[0] == '[':
		result.Errors = append(result.Errors, fmt.Sprintf("file appears to be text/markup, not audio (starts with %q)", header))
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("unrecognized audio header: %x", header))
	}
	return result
}

func extensionFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ".mp3"
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if !audioExtensions[ext] {
		return ".mp3"
	}
	return ext
}

func truncateURL(rawURL string) string {
	if len(rawURL) > 120 {
		return rawURL[:120] + "..."
	}
	return rawURL
}
