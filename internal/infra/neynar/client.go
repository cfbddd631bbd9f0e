// Package neynar adapts the Neynar Farcaster API to the feed.CastSource
// port, paging through a channel's cast history.
package neynar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common"
)

var _ feed.CastSource = (*Client)(nil)

const (
	// DefaultBaseURL is the production Neynar API endpoint.
	DefaultBaseURL = "https://api.neynar.com"

	feedPath = "/v2/farcaster/feed/channels"

	// maxPageLimit is the largest page size the feed endpoint accepts.
	maxPageLimit = 100
)

// Client is a wrapper around the Neynar feed API with rate limiting and
// tracing.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	rateLimiter *common.RateLimiter
	tracer      trace.Tracer
}

// NewClient creates a Neynar API client. An empty baseURL falls back to
// DefaultBaseURL. Non-positive rate settings fall back to a conservative
// 4 rps with burst 8, under the starter plan's published quota.
func NewClient(httpClient *http.Client, baseURL, apiKey string, rps float64, burst int, tracer trace.Tracer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if rps <= 0 {
		rps = 4
	}
	if burst <= 0 {
		burst = 8
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		apiKey:      apiKey,
		rateLimiter: common.NewRateLimiter(rps, burst),
		tracer:      tracer,
	}
}

// feedResponse represents the structure of Neynar's channel feed response.
type feedResponse struct {
	Casts []struct {
		Hash   string `json:"hash"`
		Author struct {
			FID      int64  `json:"fid"`
			Username string `json:"username"`
		} `json:"author"`
		Text       string    `json:"text"`
		Timestamp  time.Time `json:"timestamp"`
		ParentHash string    `json:"parent_hash"`
		Embeds     []struct {
			URL string `json:"url"`
		} `json:"embeds"`
	} `json:"casts"`
	Next struct {
		Cursor string `json:"cursor"`
	} `json:"next"`
}

// FetchPage retrieves one page of a channel's casts. An empty cursor starts
// from the newest cast; the returned cursor is empty once the feed is
// exhausted.
func (c *Client) FetchPage(ctx context.Context, channel, cursor string, limit int) (feed.CastPage, error) {
	ctx, span := c.tracer.Start(ctx, "neynar.fetch_page", trace.WithAttributes(
		attribute.String("channel", channel),
		attribute.Bool("has_cursor", cursor != ""),
		attribute.Int("limit", limit),
	))
	defer span.End()

	if limit <= 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return feed.CastPage{}, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	query := url.Values{}
	query.Set("channel_ids", channel)
	query.Set("with_recasts", "false")
	query.Set("limit", fmt.Sprintf("%d", limit))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+feedPath+"?"+query.Encode(), nil)
	if err != nil {
		span.RecordError(err)
		return feed.CastPage{}, fmt.Errorf("failed to create feed request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return feed.CastPage{}, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		span.RecordError(fmt.Errorf("non-200 response: %s", string(data)))
		return feed.CastPage{}, fmt.Errorf("non-200 response from Neynar feed API: %d %s", resp.StatusCode, string(data))
	}

	var result feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		span.RecordError(err)
		return feed.CastPage{}, fmt.Errorf("failed to decode feed response: %w", err)
	}

	page := feed.CastPage{NextCursor: result.Next.Cursor}
	seenAuthors := make(map[int64]struct{})
	for _, wire := range result.Casts {
		hash, err := feed.NewCastHash(wire.Hash)
		if err != nil {
			// Keep the raw hash; submission rejects it with a reason
			// instead of the page silently shrinking.
			hash = feed.CastHash(wire.Hash)
		}

		cast := feed.Cast{
			Hash:       hash,
			FID:        wire.Author.FID,
			Text:       wire.Text,
			ParentHash: feed.CastHash(wire.ParentHash),
			Timestamp:  wire.Timestamp,
		}
		for _, embed := range wire.Embeds {
			if embed.URL != "" {
				cast.Embeds = append(cast.Embeds, feed.Embed{URL: embed.URL})
			}
		}
		page.Casts = append(page.Casts, cast)

		if _, seen := seenAuthors[wire.Author.FID]; !seen {
			seenAuthors[wire.Author.FID] = struct{}{}
			page.Authors = append(page.Authors, feed.Author{FID: wire.Author.FID, Username: wire.Author.Username})
		}
	}

	span.SetAttributes(
		attribute.Int("cast_count", len(page.Casts)),
		attribute.Bool("has_next", page.NextCursor != ""),
	)
	return page, nil
}
