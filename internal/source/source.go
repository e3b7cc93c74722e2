// Package source defines the content search contract shared by every upstream
// provider, plus the helpers providers use to normalize their results.
package source

import (
	"context"
	"math/rand/v2"
	"net/url"
	"path"
	"slices"
	"strings"
)

// MediaType is the kind of asset a batch asks for.
type MediaType string

const (
	Image MediaType = "image"
	Video MediaType = "video"
)

// ParseMediaType accepts "image"/"video" (and a couple of plurals).
func ParseMediaType(s string) (MediaType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image", "images", "img":
		return Image, true
	case "video", "videos":
		return Video, true
	}
	return "", false
}

// Post is a single content item returned by an upstream source.
// ID is unique per source only.
type Post struct {
	ID       string
	AssetURL string
	Width    int // 0 when the source does not report dimensions
	Height   int
	Tags     string
	Source   string
}

// Source is implemented by every upstream provider.
type Source interface {
	// Name returns the provider identifier (e.g. "booru", "nekobot").
	Name() string

	// FindOne returns one randomly chosen post matching tags, or nil when the
	// source has no match. Transport and parse failures are *UpstreamError;
	// missing required credentials are *ConfigurationError.
	FindOne(ctx context.Context, tags string) (*Post, error)

	// FindOneVideo is FindOne restricted to video containers.
	FindOneVideo(ctx context.Context, tags string) (*Post, error)

	// SuggestTags returns autocomplete candidates for term. It never fails;
	// any problem yields an empty slice.
	SuggestTags(ctx context.Context, term string) []string
}

// VideoExtensions are the container extensions treated as video.
var VideoExtensions = []string{".mp4", ".webm", ".mov", ".avi"}

// DefaultExtension is used when an asset URL carries no extension.
const DefaultExtension = ".jpg"

// Extension returns the lower-cased file extension of the URL path,
// or DefaultExtension when there is none.
func Extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || ext == "." {
		return DefaultExtension
	}
	return ext
}

// IsVideoExtension reports whether ext (with leading dot) is a video container.
func IsVideoExtension(ext string) bool {
	return slices.Contains(VideoExtensions, strings.ToLower(ext))
}

// IsVideoURL reports whether the URL path ends in a video container extension.
func IsVideoURL(rawURL string) bool {
	return IsVideoExtension(Extension(rawURL))
}

// FilterVideos returns the posts whose asset is a video container.
func FilterVideos(posts []Post) []Post {
	var out []Post
	for _, p := range posts {
		if IsVideoURL(p.AssetURL) {
			out = append(out, p)
		}
	}
	return out
}

// PickRandom returns a uniformly random element of posts, or nil if empty.
// Repeated calls with the same tags are meant to yield variety.
func PickRandom(posts []Post) *Post {
	if len(posts) == 0 {
		return nil
	}
	p := posts[rand.IntN(len(posts))]
	return &p
}
