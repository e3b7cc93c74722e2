// Package nekobot implements source.Source against the nekobot image API,
// which returns a single random image URL per request.
package nekobot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"mvdan.cc/xurls/v2"

	"github.com/BadgerOps/mediagrab/internal/config"
	"github.com/BadgerOps/mediagrab/internal/safety"
	"github.com/BadgerOps/mediagrab/internal/source"
)

// Name is the registry name and filename prefix of this source.
const Name = "nekobot"

const maxResponseBytes int64 = 64 * 1024

var strictURL = xurls.Strict()

// Source queries the nekobot image endpoint.
type Source struct {
	cfg     config.NekobotConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a nekobot source. limiter may be nil.
func New(cfg config.NekobotConfig, client *http.Client, limiter *rate.Limiter, logger *slog.Logger) *Source {
	return &Source{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		logger:  logger.With("source", Name),
	}
}

// Name returns "nekobot".
func (s *Source) Name() string {
	return Name
}

type imageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// FindOne requests one image for the first tag, which the API calls a type.
// The API always answers with a single random item, so there is nothing to pick.
func (s *Source) FindOne(ctx context.Context, tags string) (*source.Post, error) {
	imageType := firstTag(tags)
	if imageType == "" {
		return nil, nil
	}

	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return nil, &source.UpstreamError{Source: Name, Op: "search", Err: fmt.Errorf("parsing base URL: %w", err)}
	}
	q := u.Query()
	q.Set("type", imageType)
	u.RawQuery = q.Encode()

	s.logger.Debug("searching", "type", imageType)
	data, err := s.get(ctx, u.String())
	if err != nil {
		return nil, &source.UpstreamError{Source: Name, Op: "search", Err: err}
	}

	var body imageResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, &source.UpstreamError{Source: Name, Op: "search", Err: fmt.Errorf("parsing response: %w", err)}
	}
	if !body.Success {
		s.logger.Debug("no result", "type", imageType, "message", body.Message)
		return nil, nil
	}

	assetURL := strictURL.FindString(body.Message)
	if assetURL == "" {
		return nil, &source.UpstreamError{Source: Name, Op: "search", Err: fmt.Errorf("no URL in response message %q", body.Message)}
	}

	return &source.Post{
		ID:       postID(assetURL),
		AssetURL: assetURL,
		Tags:     imageType,
		Source:   Name,
	}, nil
}

// FindOneVideo is FindOne limited to video containers. The API does not take a
// video qualifier, so most calls come back empty.
func (s *Source) FindOneVideo(ctx context.Context, tags string) (*source.Post, error) {
	post, err := s.FindOne(ctx, tags)
	if err != nil || post == nil {
		return nil, err
	}
	if !source.IsVideoURL(post.AssetURL) {
		return nil, nil
	}
	return post, nil
}

// SuggestTags always returns an empty slice; the API has no suggestion endpoint.
func (s *Source) SuggestTags(context.Context, string) []string {
	return []string{}
}

func (s *Source) get(ctx context.Context, target string) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := safety.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, fmt.Errorf("response exceeded %d bytes: %w", maxResponseBytes, err)
		}
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return data, nil
}

func firstTag(tags string) string {
	fields := strings.Fields(tags)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// postID derives a stable id from the asset file name so repeated results for
// the same image dedupe within a batch. Falls back to a random id.
func postID(assetURL string) string {
	if u, err := url.Parse(assetURL); err == nil {
		base := path.Base(u.Path)
		id := strings.TrimSuffix(base, path.Ext(base))
		if id != "" && id != "." && id != "/" {
			return id
		}
	}
	return uuid.NewString()
}
