package booru

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/BadgerOps/mediagrab/internal/config"
	"github.com/BadgerOps/mediagrab/internal/source"
)

const samplePosts = `<?xml version="1.0" encoding="UTF-8"?>
<posts count="3" offset="0">
  <post id="101" file_url="https://img.example.com/images/1/a.jpg" width="800" height="600" tags="anime solo"/>
  <post id="102" file_url="https://img.example.com/images/1/b.mp4" width="1280" height="720" tags="anime video"/>
  <post id="103" file_url="https://img.example.com/images/1/c.webm" width="640" height="480" tags="anime video"/>
</posts>`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSource(baseURL string, mutate func(*config.BooruConfig)) *Source {
	cfg := config.DefaultConfig().Sources.Booru
	cfg.BaseURL = baseURL + "/index.php"
	cfg.AutocompleteURL = baseURL + "/autocomplete.php"
	cfg.UserID = "42"
	cfg.APIKey = "secret"
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, http.DefaultClient, nil, testLogger())
}

func TestParsePosts(t *testing.T) {
	posts, err := ParsePosts([]byte(samplePosts))
	if err != nil {
		t.Fatalf("ParsePosts() failed: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(posts))
	}
	p := posts[0]
	if p.ID != "101" || p.Width != 800 || p.Height != 600 || p.Source != Name {
		t.Errorf("unexpected first post: %+v", p)
	}
	if p.Tags != "anime solo" {
		t.Errorf("Tags = %q, want %q", p.Tags, "anime solo")
	}
}

func TestParsePostsSkipsIncompleteEntries(t *testing.T) {
	data := `<posts><post id="1"/><post file_url="https://x.example.com/a.jpg"/><post id="2" file_url="https://x.example.com/b.png"/></posts>`
	posts, err := ParsePosts([]byte(data))
	if err != nil {
		t.Fatalf("ParsePosts() failed: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "2" {
		t.Fatalf("expected only post 2, got %+v", posts)
	}
}

func TestParsePostsEmptyAndInvalid(t *testing.T) {
	posts, err := ParsePosts([]byte("  "))
	if err != nil || len(posts) != 0 {
		t.Fatalf("empty body: posts=%v err=%v", posts, err)
	}
	if _, err := ParsePosts([]byte("<posts><post")); err == nil {
		t.Fatal("expected error for truncated XML")
	}
}

func TestFindOneBuildsQuery(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, samplePosts)
	}))
	defer srv.Close()

	s := newTestSource(srv.URL, nil)
	post, err := s.FindOne(context.Background(), "anime solo")
	if err != nil {
		t.Fatalf("FindOne() failed: %v", err)
	}
	if post == nil {
		t.Fatal("expected a post")
	}
	switch post.ID {
	case "101", "102", "103":
	default:
		t.Errorf("unexpected post id %q", post.ID)
	}

	q := gotQuery.Load().(url.Values)
	checks := map[string]string{
		"page":    "dapi",
		"s":       "post",
		"q":       "index",
		"tags":    "anime solo",
		"limit":   "50",
		"user_id": "42",
		"api_key": "secret",
	}
	for k, want := range checks {
		if got := q[k]; len(got) != 1 || got[0] != want {
			t.Errorf("query %s = %v, want %q", k, got, want)
		}
	}
}

func TestFindOneVideoFiltersAndQualifies(t *testing.T) {
	var gotTags, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTags = r.URL.Query().Get("tags")
		gotLimit = r.URL.Query().Get("limit")
		io.WriteString(w, samplePosts)
	}))
	defer srv.Close()

	s := newTestSource(srv.URL, nil)
	for i := 0; i < 20; i++ {
		post, err := s.FindOneVideo(context.Background(), "anime")
		if err != nil {
			t.Fatalf("FindOneVideo() failed: %v", err)
		}
		if post == nil || post.ID == "101" {
			t.Fatalf("expected a video post, got %+v", post)
		}
	}
	if gotTags != "anime video animated" {
		t.Errorf("tags = %q, want %q", gotTags, "anime video animated")
	}
	if gotLimit != "30" {
		t.Errorf("limit = %q, want 30", gotLimit)
	}
}

func TestFindOneVideoNoVideos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<posts><post id="1" file_url="https://x.example.com/a.jpg"/></posts>`)
	}))
	defer srv.Close()

	post, err := newTestSource(srv.URL, nil).FindOneVideo(context.Background(), "anime")
	if err != nil {
		t.Fatalf("FindOneVideo() failed: %v", err)
	}
	if post != nil {
		t.Fatalf("expected nil post, got %+v", post)
	}
}

func TestFindOneNoMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<posts count="0" offset="0"></posts>`)
	}))
	defer srv.Close()

	post, err := newTestSource(srv.URL, nil).FindOne(context.Background(), "nothing_here")
	if err != nil {
		t.Fatalf("FindOne() failed: %v", err)
	}
	if post != nil {
		t.Fatalf("expected nil post, got %+v", post)
	}
}

func TestFindOneUpstreamErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"unparseable body", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "<posts><post id=")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestSource(srv.URL, nil).FindOne(context.Background(), "anime")
			var upErr *source.UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("expected UpstreamError, got %v", err)
			}
			if upErr.Source != Name {
				t.Errorf("Source = %q, want %q", upErr.Source, Name)
			}
		})
	}
}

func TestMissingCredentials(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		io.WriteString(w, samplePosts)
	}))
	defer srv.Close()

	s := newTestSource(srv.URL, func(c *config.BooruConfig) {
		c.UserID = ""
		c.APIKey = ""
	})
	_, err := s.FindOne(context.Background(), "anime")
	var cfgErr *source.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(cfgErr.Missing) != 2 {
		t.Errorf("Missing = %v, want user_id and api_key", cfgErr.Missing)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("expected no request, got %d", hits)
	}

	// Optional credentials: the request goes out without them.
	s = newTestSource(srv.URL, func(c *config.BooruConfig) {
		c.UserID = ""
		c.APIKey = ""
		c.RequireCredentials = false
	})
	if _, err := s.FindOne(context.Background(), "anime"); err != nil {
		t.Fatalf("FindOne() without required credentials failed: %v", err)
	}
}

func TestSuggestTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/autocomplete.php" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("q") != "ani" {
			t.Errorf("q = %q, want ani", r.URL.Query().Get("q"))
		}
		io.WriteString(w, `[{"label":"anime (1200)","value":"anime"},{"label":"animal_ears (300)","value":"animal_ears"}]`)
	}))
	defer srv.Close()

	got := newTestSource(srv.URL, nil).SuggestTags(context.Background(), "ani")
	if strings.Join(got, ",") != "anime,animal_ears" {
		t.Fatalf("SuggestTags() = %v", got)
	}
}

func TestSuggestTagsNeverFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer srv.Close()

	s := newTestSource(srv.URL, nil)
	if got := s.SuggestTags(context.Background(), "ani"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
	if got := s.SuggestTags(context.Background(), "   "); len(got) != 0 {
		t.Fatalf("expected empty slice for blank term, got %v", got)
	}

	srv.Close()
	if got := s.SuggestTags(context.Background(), "ani"); len(got) != 0 {
		t.Fatalf("expected empty slice for unreachable server, got %v", got)
	}
}
