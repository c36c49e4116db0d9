// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

// Package youtube wraps the external search API behind the three
// operations discovery needs: keyword search pages, video detail batches
// and channel upload listings. Calls are paced by a client-side limiter
// and guarded by a circuit breaker; quota accounting stays with the
// caller.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"

	"github.com/tomtom215/custodia/internal/config"
	"github.com/tomtom215/custodia/internal/logging"
	"github.com/tomtom215/custodia/internal/metrics"
)

// PageSize is the maximum results per search page, fixed at the API cap.
const PageSize = 50

// detailsBatchSize is the id cap per videos.list call.
const detailsBatchSize = 50

// SearchRequest describes one search.list call.
type SearchRequest struct {
	Query string

	// Order is one of date, viewCount, rating, relevance. Empty means
	// relevance.
	Order string

	// PublishedAfter and PublishedBefore bound the upload window. Zero
	// values are omitted from the call.
	PublishedAfter  time.Time
	PublishedBefore time.Time

	PageToken string
}

// SearchItem is the normalized shape both search and channel-upload
// listings produce. Timestamps stay raw; metadata extraction owns the
// parse-with-fallback rules.
type SearchItem struct {
	VideoID      string
	Title        string
	Description  string
	ChannelID    string
	ChannelTitle string
	PublishedAt  string
	Thumbnails   Thumbnails
}

// SearchPage is one page of results.
type SearchPage struct {
	Items         []SearchItem
	NextPageToken string
	TotalResults  int64
}

// Details is the enrichment payload from videos.list.
type Details struct {
	VideoID      string
	Title        string
	Description  string
	Tags         []string
	ChannelID    string
	ChannelTitle string
	PublishedAt  string

	// Duration is the raw ISO 8601 value (PT#H#M#S).
	Duration string

	ViewCount    int64
	LikeCount    int64
	CommentCount int64

	Thumbnails Thumbnails
}

// Thumbnails carries the three preference levels; extraction picks
// high, then medium, then default.
type Thumbnails struct {
	DefaultURL string
	MediumURL  string
	HighURL    string
}

// Client is a paced, breaker-guarded search API client.
type Client struct {
	service *ytapi.Service
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[interface{}]
	region  string
}

// NewClient builds the API client from configuration. The key is
// mandatory; pacing defaults to one request per second when unset.
func NewClient(ctx context.Context, cfg config.YouTubeConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("youtube api key is required")
	}

	service, err := ytapi.NewService(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	const breakerName = "youtube-api"
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0) // 0 = closed

	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("search api circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &Client{
		service: service,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: breaker,
		region:  cfg.Region,
	}, nil
}

// SearchPage executes one search.list page. Use the returned
// NextPageToken for continuation; an empty token means the ordering is
// exhausted upstream.
func (c *Client) SearchPage(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	call := c.service.Search.List([]string{"id", "snippet"}).
		Context(ctx).
		Q(req.Query).
		Type("video").
		MaxResults(PageSize)

	if req.Order != "" {
		call = call.Order(req.Order)
	}
	if req.PageToken != "" {
		call = call.PageToken(req.PageToken)
	}
	if c.region != "" {
		call = call.RegionCode(c.region)
	}
	if !req.PublishedAfter.IsZero() {
		call = call.PublishedAfter(req.PublishedAfter.UTC().Format(time.RFC3339))
	}
	if !req.PublishedBefore.IsZero() {
		call = call.PublishedBefore(req.PublishedBefore.UTC().Format(time.RFC3339))
	}

	res, err := c.execute(ctx, "search.list", func() (interface{}, error) {
		return call.Do()
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", req.Query, err)
	}
	response := res.(*ytapi.SearchListResponse)

	page := &SearchPage{
		Items:         make([]SearchItem, 0, len(response.Items)),
		NextPageToken: response.NextPageToken,
	}
	if response.PageInfo != nil {
		page.TotalResults = response.PageInfo.TotalResults
	}
	for _, item := range response.Items {
		if item.Id == nil || item.Id.VideoId == "" {
			continue
		}
		page.Items = append(page.Items, searchItemFromResult(item))
	}
	return page, nil
}

// VideoDetails enriches up to any number of ids, batched at the API's
// 50-id cap. Ids the API no longer knows are absent from the result.
func (c *Client) VideoDetails(ctx context.Context, ids []string) ([]Details, error) {
	details := make([]Details, 0, len(ids))
	for _, batch := range chunkIDs(ids, detailsBatchSize) {
		call := c.service.Videos.List([]string{"snippet", "contentDetails", "statistics"}).
			Context(ctx).
			Id(batch...).
			MaxResults(int64(len(batch)))

		res, err := c.execute(ctx, "videos.list", func() (interface{}, error) {
			return call.Do()
		})
		if err != nil {
			return nil, fmt.Errorf("video details: %w", err)
		}
		response := res.(*ytapi.VideoListResponse)

		for _, item := range response.Items {
			details = append(details, detailsFromVideo(item))
		}
	}
	return details, nil
}

// ChannelUploads lists the newest uploads of a channel via its uploads
// playlist. Costs two quota units: channels.list plus playlistItems.list.
func (c *Client) ChannelUploads(ctx context.Context, channelID string, max int64) ([]SearchItem, error) {
	chCall := c.service.Channels.List([]string{"contentDetails"}).
		Context(ctx).
		Id(channelID)

	res, err := c.execute(ctx, "channels.list", func() (interface{}, error) {
		return chCall.Do()
	})
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", channelID, err)
	}
	chResponse := res.(*ytapi.ChannelListResponse)
	if len(chResponse.Items) == 0 {
		return nil, nil
	}
	cd := chResponse.Items[0].ContentDetails
	if cd == nil || cd.RelatedPlaylists == nil || cd.RelatedPlaylists.Uploads == "" {
		return nil, nil
	}

	if max <= 0 || max > PageSize {
		max = PageSize
	}
	plCall := c.service.PlaylistItems.List([]string{"snippet", "contentDetails"}).
		Context(ctx).
		PlaylistId(cd.RelatedPlaylists.Uploads).
		MaxResults(max)

	res, err = c.execute(ctx, "playlistItems.list", func() (interface{}, error) {
		return plCall.Do()
	})
	if err != nil {
		return nil, fmt.Errorf("channel %s uploads: %w", channelID, err)
	}
	plResponse := res.(*ytapi.PlaylistItemListResponse)

	items := make([]SearchItem, 0, len(plResponse.Items))
	for _, item := range plResponse.Items {
		normalized := searchItemFromPlaylist(item)
		if normalized.VideoID == "" {
			continue
		}
		items = append(items, normalized)
	}
	return items, nil
}

// execute paces, guards and instruments one outbound call.
func (c *Client) execute(ctx context.Context, method string, fn func() (interface{}, error)) (interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	res, err := c.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(c.breaker.Name(), "rejected").Inc()
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(c.breaker.Name(), "failure").Inc()
		}
		metrics.RecordYouTubeCall(method, string(Classify(err)), time.Since(start))
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(c.breaker.Name(), "success").Inc()
	metrics.RecordYouTubeCall(method, "success", time.Since(start))
	return res, nil
}

// breakerStateValue maps a breaker state onto the gauge scale
// (0 closed, 1 half-open, 2 open).
func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func searchItemFromResult(item *ytapi.SearchResult) SearchItem {
	out := SearchItem{VideoID: item.Id.VideoId}
	if item.Snippet == nil {
		return out
	}
	out.Title = item.Snippet.Title
	out.Description = item.Snippet.Description
	out.ChannelID = item.Snippet.ChannelId
	out.ChannelTitle = item.Snippet.ChannelTitle
	out.PublishedAt = item.Snippet.PublishedAt
	out.Thumbnails = thumbnailsFrom(item.Snippet.Thumbnails)
	return out
}

func searchItemFromPlaylist(item *ytapi.PlaylistItem) SearchItem {
	var out SearchItem
	if item.ContentDetails != nil {
		out.VideoID = item.ContentDetails.VideoId
	}
	if item.Snippet == nil {
		return out
	}
	if out.VideoID == "" && item.Snippet.ResourceId != nil {
		out.VideoID = item.Snippet.ResourceId.VideoId
	}
	out.Title = item.Snippet.Title
	out.Description = item.Snippet.Description
	out.ChannelID = item.Snippet.ChannelId
	out.ChannelTitle = item.Snippet.ChannelTitle
	out.PublishedAt = item.Snippet.PublishedAt
	out.Thumbnails = thumbnailsFrom(item.Snippet.Thumbnails)
	return out
}

func detailsFromVideo(item *ytapi.Video) Details {
	out := Details{VideoID: item.Id}
	if item.Snippet != nil {
		out.Title = item.Snippet.Title
		out.Description = item.Snippet.Description
		out.Tags = item.Snippet.Tags
		out.ChannelID = item.Snippet.ChannelId
		out.ChannelTitle = item.Snippet.ChannelTitle
		out.PublishedAt = item.Snippet.PublishedAt
		out.Thumbnails = thumbnailsFrom(item.Snippet.Thumbnails)
	}
	if item.ContentDetails != nil {
		out.Duration = item.ContentDetails.Duration
	}
	if item.Statistics != nil {
		out.ViewCount = int64(item.Statistics.ViewCount)
		out.LikeCount = int64(item.Statistics.LikeCount)
		out.CommentCount = int64(item.Statistics.CommentCount)
	}
	return out
}

func thumbnailsFrom(t *ytapi.ThumbnailDetails) Thumbnails {
	var out Thumbnails
	if t == nil {
		return out
	}
	if t.Default != nil {
		out.DefaultURL = t.Default.Url
	}
	if t.Medium != nil {
		out.MediumURL = t.Medium.Url
	}
	if t.High != nil {
		out.HighURL = t.High.Url
	}
	return out
}

// chunkIDs splits ids into batches of at most size, dropping empties.
func chunkIDs(ids []string, size int) [][]string {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return nil
	}

	batches := make([][]string, 0, (len(clean)+size-1)/size)
	for start := 0; start < len(clean); start += size {
		end := start + size
		if end > len(clean) {
			end = len(clean)
		}
		batches = append(batches, clean[start:end])
	}
	return batches
}
