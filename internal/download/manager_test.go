package download

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), 30*time.Second, arbor.NewLogger())
	require.NoError(t, err)
	return m
}

// validMP3 is an ID3-tagged payload padded past the minimum size
func validMP3() []byte {
	payload := make([]byte, MinAudioBytes+512)
	copy(payload, "ID3")
	return payload
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Treasure on Second Street": "treasure-on-second-street",
		"  Hello,  World!  ":        "hello-world",
		"snake_case_title":          "snake-case-title",
		"---":                       "untitled",
		"":                          "untitled",
	}
	for input, want := range cases {
		assert.Equal(t, want, Slugify(input), "input %q", input)
	}
}

func TestFilePath_VersionedNaming(t *testing.T) {
	m := newTestManager(t)

	p, err := m.FilePath("My Song", 2, ".mp3", "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.baseDir, "2026-08-30_my-song", "my-song_v2.mp3"), p)
	assert.DirExists(t, filepath.Dir(p))
}

func TestTrackFilePath_SanitizesTrackType(t *testing.T) {
	m := newTestManager(t)

	p, err := m.TrackFilePath("My Song", "Full Song", ".wav", "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, "my-song_full_song.wav", filepath.Base(p))
}

func TestValidateAudioFile(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}

	t.Run("valid mp3", func(t *testing.T) {
		result := ValidateAudioFile(write("ok.mp3", validMP3()))
		assert.True(t, result.Valid)
		assert.Equal(t, "mp3/id3", result.Format)
	})

	t.Run("too small", func(t *testing.T) {
		result := ValidateAudioFile(write("tiny.mp3", []byte("ID3 but short")))
		assert.False(t, result.Valid)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "too small")
	})

	t.Run("html error page", func(t *testing.T) {
		page := append([]byte("<html>access denied</html>"), make([]byte, MinAudioBytes)...)
		result := ValidateAudioFile(write("page.mp3", page))
		assert.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "text/markup")
	})

	t.Run("missing file", func(t *testing.T) {
		result := ValidateAudioFile(filepath.Join(dir, "nope.mp3"))
		assert.False(t, result.Valid)
	})

	t.Run("wav header", func(t *testing.T) {
		wav := append([]byte("RIFF"), make([]byte, MinAudioBytes)...)
		result := ValidateAudioFile(write("ok.wav", wav))
		assert.True(t, result.Valid)
		assert.Equal(t, "wav", result.Format)
	})
}

func TestSaveFromURL(t *testing.T) {
	payload := validMP3()
	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
		w.Write(payload)
	}))
	defer server.Close()

	m := newTestManager(t)
	cookies := []*http.Cookie{{Name: "session", Value: "abc123"}}

	p, err := m.SaveFromURL(context.Background(), server.URL+"/tracks/song.mp3", "My Song", 1, cookies, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc123", gotCookie, "browser session cookies ride along")
	assert.True(t, strings.HasSuffix(p, "my-song_v1.mp3"))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, data))
}

func TestSaveFromURL_RejectsErrorPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(append([]byte("<html>expired link</html>"), make([]byte, MinAudioBytes)...))
	}))
	defer server.Close()

	m := newTestManager(t)
	p, err := m.SaveFromURL(context.Background(), server.URL+"/song.mp3", "My Song", 1, nil, 0)
	require.Error(t, err)

	var verr *VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Empty(t, p)

	// Failed download must not leave a file behind
	files, err := m.ExistingFiles("My Song", "")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSaveFromURL_SizeMismatch(t *testing.T) {
	payload := validMP3()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	m := newTestManager(t)
	_, err := m.SaveFromURL(context.Background(), server.URL+"/song.mp3", "My Song", 1, nil, int64(len(payload))*2)
	require.Error(t, err)

	var verr *VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, int64(len(payload)), verr.ActualSize)
}

func TestRemoteFileSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			http.Error(w, "HEAD only", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Length", "20480")
	}))
	defer server.Close()

	m := newTestManager(t)
	assert.Equal(t, int64(20480), m.RemoteFileSize(context.Background(), server.URL))
	assert.Equal(t, int64(0), m.RemoteFileSize(context.Background(), "http://127.0.0.1:port-invalid"))
}
