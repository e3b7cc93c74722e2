// Package booru implements source.Source against a dapi-style booru API
// (page=dapi&s=post&q=index) that answers searches with XML post lists.
package booru

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/BadgerOps/mediagrab/internal/config"
	"github.com/BadgerOps/mediagrab/internal/safety"
	"github.com/BadgerOps/mediagrab/internal/source"
)

const (
	// Name is the registry name and filename prefix of this source.
	Name = "booru"

	maxSearchBytes       int64 = 8 * 1024 * 1024
	maxAutocompleteBytes int64 = 1024 * 1024

	videoQualifier = " video animated"
)

// Source queries a booru dapi endpoint.
type Source struct {
	cfg     config.BooruConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a booru source. limiter may be nil to disable throttling.
func New(cfg config.BooruConfig, client *http.Client, limiter *rate.Limiter, logger *slog.Logger) *Source {
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.VideoLimit <= 0 {
		cfg.VideoLimit = 30
	}
	return &Source{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		logger:  logger.With("source", Name),
	}
}

// Name returns "booru".
func (s *Source) Name() string {
	return Name
}

// FindOne searches for tags and returns a random post, or nil when nothing matches.
func (s *Source) FindOne(ctx context.Context, tags string) (*source.Post, error) {
	posts, err := s.search(ctx, strings.TrimSpace(tags), s.cfg.Limit)
	if err != nil {
		return nil, err
	}
	return source.PickRandom(posts), nil
}

// FindOneVideo appends the video qualifiers to tags and keeps only video containers.
func (s *Source) FindOneVideo(ctx context.Context, tags string) (*source.Post, error) {
	posts, err := s.search(ctx, strings.TrimSpace(tags)+videoQualifier, s.cfg.VideoLimit)
	if err != nil {
		return nil, err
	}
	return source.PickRandom(source.FilterVideos(posts)), nil
}

// SuggestTags queries the autocomplete endpoint. Failures yield an empty slice.
func (s *Source) SuggestTags(ctx context.Context, term string) []string {
	term = strings.TrimSpace(term)
	if term == "" || s.cfg.AutocompleteURL == "" {
		return []string{}
	}

	suggestions, err := s.autocomplete(ctx, term)
	if err != nil {
		s.logger.Debug("autocomplete failed", "term", term, "error", err)
		return []string{}
	}
	return suggestions
}

func (s *Source) checkCredentials() error {
	if !s.cfg.RequireCredentials {
		return nil
	}
	var missing []string
	if s.cfg.UserID == "" {
		missing = append(missing, "user_id")
	}
	if s.cfg.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if len(missing) > 0 {
		return &source.ConfigurationError{Source: Name, Missing: missing}
	}
	return nil
}

// searchURL builds the dapi query. Credentials are only sent when both are set.
func (s *Source) searchURL(tags string, limit int) (string, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	q := u.Query()
	q.Set("page", "dapi")
	q.Set("s", "post")
	q.Set("q", "index")
	q.Set("tags", tags)
	q.Set("limit", strconv.Itoa(limit))
	if s.cfg.UserID != "" && s.cfg.APIKey != "" {
		q.Set("user_id", s.cfg.UserID)
		q.Set("api_key", s.cfg.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Source) search(ctx context.Context, tags string, limit int) ([]source.Post, error) {
	if err := s.checkCredentials(); err != nil {
		return nil, err
	}

	target, err := s.searchURL(tags, limit)
	if err != nil {
		return nil, &source.UpstreamError{Source: Name, Op: "search", Err: err}
	}

	s.logger.Debug("searching", "tags", tags, "limit", limit)
	data, err := s.get(ctx, target, maxSearchBytes)
	if err != nil {
		return nil, &source.UpstreamError{Source: Name, Op: "search", Err: err}
	}

	posts, err := ParsePosts(data)
	if err != nil {
		return nil, &source.UpstreamError{Source: Name, Op: "search", Err: err}
	}
	s.logger.Debug("search returned", "tags", tags, "posts", len(posts))
	return posts, nil
}

type suggestion struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

func (s *Source) autocomplete(ctx context.Context, term string) ([]string, error) {
	u, err := url.Parse(s.cfg.AutocompleteURL)
	if err != nil {
		return nil, fmt.Errorf("parsing autocomplete URL: %w", err)
	}
	q := u.Query()
	q.Set("q", term)
	u.RawQuery = q.Encode()

	data, err := s.get(ctx, u.String(), maxAutocompleteBytes)
	if err != nil {
		return nil, err
	}

	var items []suggestion
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing autocomplete response: %w", err)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		v := item.Value
		if v == "" {
			v = item.Label
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Source) get(ctx context.Context, target string, limit int64) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := safety.ReadAllWithLimit(resp.Body, limit)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, fmt.Errorf("response exceeded %d bytes: %w", limit, err)
		}
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return data, nil
}
