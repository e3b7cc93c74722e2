package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BadgerOps/mediagrab/internal/source"
)

type fakeProber struct {
	hasAudio bool
	err      error
	calls    int
}

func (p *fakeProber) HasAudio(ctx context.Context, path string) (bool, error) {
	p.calls++
	return p.hasAudio, p.err
}

func newTestDownloader(fs afero.Fs, prober Prober) *Downloader {
	d := NewDownloader(newTestClient(fs), fs, prober, Options{BaseDir: "downloads"}, discardLogger())
	d.now = func() time.Time { return time.UnixMilli(1700000000123) }
	d.token = func() string { return "abc123" }
	return d
}

func assetServer(t *testing.T, body []byte) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestNormalizeCategory(t *testing.T) {
	tests := map[string]string{
		"Anime":            "anime",
		"Video Games":      "video_games",
		"  Video \t Games": "video_games",
		"Sci-Fi & Fantasy": "scifi__fantasy",
		"Custom":           "custom",
		"ÄÖÜ":              "uncategorized",
		"":                 "uncategorized",
		"already_ok_9":     "already_ok_9",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeCategory(in), "NormalizeCategory(%q)", in)
	}
}

func TestDownloadWritesNamedFile(t *testing.T) {
	body := []byte("jpeg bytes")
	srv, _ := assetServer(t, body)
	fs := afero.NewMemMapFs()
	prober := &fakeProber{hasAudio: true}
	d := newTestDownloader(fs, prober)

	post := &source.Post{ID: "101", AssetURL: srv.URL + "/images/a.JPG", Source: "booru"}
	out, err := d.Download(context.Background(), post, "Video Games")
	require.NoError(t, err)
	require.True(t, out.Succeeded, out.Error)
	assert.True(t, out.Valid())

	want := filepath.Join("downloads", "video_games", "booru_101_1700000000123_abc123.jpg")
	assert.Equal(t, want, out.FilePath)
	assert.Equal(t, int64(len(body)), out.ByteSize)
	assert.Same(t, post, out.Post)

	data, err := afero.ReadFile(fs, want)
	require.NoError(t, err)
	assert.Equal(t, body, data)

	// Images are never probed.
	assert.Equal(t, 0, prober.calls)
	assert.Equal(t, AudioUnknown, out.Audio)
}

func TestFileNameShape(t *testing.T) {
	d := NewDownloader(newTestClient(afero.NewMemMapFs()), afero.NewMemMapFs(), nil, Options{}, discardLogger())
	name := d.fileName(&source.Post{ID: "a/b:c", AssetURL: "https://x.example.com/file", Source: "nekobot"})
	assert.Regexp(t, regexp.MustCompile(`^nekobot_a-b-c_\d{13}_[0-9a-f]{6}\.jpg$`), name)

	name = d.fileName(&source.Post{ID: "7", AssetURL: "https://x.example.com/v.webm"})
	assert.Regexp(t, regexp.MustCompile(`^media_7_\d{13}_[0-9a-f]{6}\.webm$`), name)
}

func TestDownloadSameCategoryTwice(t *testing.T) {
	srv, hits := assetServer(t, []byte("x"))
	fs := afero.NewMemMapFs()
	d := NewDownloader(newTestClient(fs), fs, nil, Options{BaseDir: "downloads"}, discardLogger())

	for i, id := range []string{"1", "2"} {
		out, err := d.Download(context.Background(), &source.Post{ID: id, AssetURL: srv.URL + "/a.png", Source: "booru"}, "Anime")
		require.NoError(t, err, "call %d", i)
		require.True(t, out.Succeeded, out.Error)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))

	files, err := afero.ReadDir(fs, filepath.Join("downloads", "anime"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestDownloadVideoRejectsImages(t *testing.T) {
	srv, hits := assetServer(t, []byte("x"))
	fs := afero.NewMemMapFs()
	d := newTestDownloader(fs, &fakeProber{})

	out, err := d.DownloadVideo(context.Background(), &source.Post{ID: "5", AssetURL: srv.URL + "/pic.jpg"}, "Video")
	require.NoError(t, err)
	assert.False(t, out.Succeeded)
	assert.True(t, out.Valid())
	assert.Contains(t, out.Error, ".jpg")
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))

	exists, _ := afero.DirExists(fs, filepath.Join("downloads", "video"))
	assert.False(t, exists)
}

func TestDownloadVideoProbesAudio(t *testing.T) {
	tests := []struct {
		name   string
		prober *fakeProber
		want   Audio
	}{
		{"has audio", &fakeProber{hasAudio: true}, AudioYes},
		{"silent", &fakeProber{hasAudio: false}, AudioNo},
		{"probe fails", &fakeProber{err: &ProbeError{Path: "x", Err: errors.New("exec: not found")}}, AudioUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := assetServer(t, make([]byte, 2048))
			d := newTestDownloader(afero.NewMemMapFs(), tt.prober)

			out, err := d.DownloadVideo(context.Background(), &source.Post{ID: "9", AssetURL: srv.URL + "/clip.mp4", Source: "booru"}, "Video")
			require.NoError(t, err)
			require.True(t, out.Succeeded, out.Error)
			assert.Equal(t, tt.want, out.Audio)
			assert.Equal(t, int64(2048), out.ByteSize)
			assert.Equal(t, 1, tt.prober.calls)
		})
	}
}

func TestDownloadFailedTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	d := newTestDownloader(fs, nil)
	out, err := d.Download(context.Background(), &source.Post{ID: "1", AssetURL: srv.URL + "/gone.png"}, "Anime")
	require.NoError(t, err)
	assert.False(t, out.Succeeded)
	assert.True(t, out.Valid())
	assert.Contains(t, out.Error, "404")

	files, err := afero.ReadDir(fs, filepath.Join("downloads", "anime"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDownloadCannotStart(t *testing.T) {
	d := newTestDownloader(afero.NewMemMapFs(), nil)

	_, err := d.Download(context.Background(), &source.Post{ID: "1", AssetURL: "ftp://x.example.com/a.png"}, "Anime")
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, "ftp://x.example.com/a.png", dlErr.URL)

	_, err = d.Download(context.Background(), nil, "Anime")
	require.ErrorAs(t, err, &dlErr)

	ro := newTestDownloader(afero.NewReadOnlyFs(afero.NewMemMapFs()), nil)
	_, err = ro.Download(context.Background(), &source.Post{ID: "1", AssetURL: "https://x.example.com/a.png"}, "Anime")
	require.ErrorAs(t, err, &dlErr)
}

func TestOutcomeValid(t *testing.T) {
	post := &source.Post{ID: "1"}
	assert.True(t, succeeded("a.jpg", 10, post, AudioUnknown).Valid())
	assert.True(t, failed("boom").Valid())
	assert.False(t, Outcome{}.Valid())
	assert.False(t, Outcome{Succeeded: true, FilePath: "a", Post: post, Error: "x"}.Valid())
	assert.False(t, Outcome{Error: "x", FilePath: "a"}.Valid())
}

func TestAudio(t *testing.T) {
	assert.Nil(t, AudioUnknown.Bool())
	require.NotNil(t, AudioYes.Bool())
	assert.True(t, *AudioYes.Bool())
	assert.False(t, *AudioNo.Bool())
	assert.Equal(t, "unknown", AudioUnknown.String())
}

func TestFFprobeMissingBinary(t *testing.T) {
	p := NewFFprobe("definitely-not-a-real-ffprobe-binary")
	_, err := p.HasAudio(context.Background(), filepath.Join(t.TempDir(), "x.mp4"))
	var probeErr *ProbeError
	require.ErrorAs(t, err, &probeErr)
}
