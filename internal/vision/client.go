// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/custodia/internal/config"
	"github.com/tomtom215/custodia/internal/logging"
	"github.com/tomtom215/custodia/internal/metrics"
	"github.com/tomtom215/custodia/internal/models"
)

// defaultBaseURL is the public generateContent endpoint. Tests point
// BaseURL at a local server instead.
const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Attempt budgets per invocation. Transport retries cover rate limits and
// server errors; validation attempts cover responses that parse but fail
// the result schema. Both loops share the caller's deadline.
const (
	maxTransportRetries   = 5
	maxValidationAttempts = 5
	validationBackoff     = 2 * time.Second
)

// transportBackoff is the wait before rate-limited or server-error retry
// n, indexed n-1. Its length is the retry budget: one initial call plus
// five backed-off retries.
var transportBackoff = []time.Duration{
	1 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
	64 * time.Second,
}

// errEmptyResponse marks a 200 response that carried no candidate text.
// It retries on the validation budget like any other unusable response.
var errEmptyResponse = errors.New("model returned no candidate text")

// Analysis is one successful invocation: the validated result plus the
// token usage the backend metered, which prices the actual cost.
type Analysis struct {
	Result       *models.VisionResult
	InputTokens  int64
	OutputTokens int64

	// Attempts counts full request cycles, including validation retries.
	Attempts int
}

// Client invokes the vision model's generateContent endpoint. One call
// analyzes one video: the video URI and the multi-IP prompt go in a single
// content turn, the response comes back as schema-bound JSON.
type Client struct {
	apiKey          string
	model           string
	baseURL         string
	temperature     float64
	maxOutputTokens int

	httpClient *http.Client

	sleep func(ctx context.Context, d time.Duration) error // test seam
}

// NewClient builds a model client from configuration. The HTTP client
// carries no timeout of its own; every invocation runs under the
// dispatcher's per-call deadline.
func NewClient(cfg config.VisionConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:          cfg.APIKey,
		model:           strings.TrimPrefix(cfg.Model, "gemini:"),
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		httpClient:      &http.Client{},
		sleep:           sleepContext,
	}
}

// Request body for generateContent. Only the fields this pipeline uses are
// modeled; the endpoint tolerates absent optionals.
type generateRequest struct {
	Contents         []requestContent `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type requestContent struct {
	Parts []requestPart `json:"parts"`
}

type requestPart struct {
	Text          string         `json:"text,omitempty"`
	FileData      *fileData      `json:"fileData,omitempty"`
	VideoMetadata *videoMetadata `json:"videoMetadata,omitempty"`
}

type fileData struct {
	FileURI  string `json:"fileUri"`
	MimeType string `json:"mimeType"`
}

// videoMetadata controls sampling. Offsets are absolute positions from the
// start of the video as protobuf duration strings; FPS is the sample rate
// between them.
type videoMetadata struct {
	FPS         float64 `json:"fps,omitempty"`
	StartOffset string  `json:"startOffset,omitempty"`
	EndOffset   string  `json:"endOffset,omitempty"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates     []responseCandidate `json:"candidates"`
	UsageMetadata  *usageMetadata      `json:"usageMetadata"`
	PromptFeedback *promptFeedback     `json:"promptFeedback,omitempty"`
}

type responseCandidate struct {
	Content      responseContent `json:"content"`
	FinishReason string          `json:"finishReason"`
}

type responseContent struct {
	Parts []responsePart `json:"parts"`
}

type responsePart struct {
	Text string `json:"text,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int64 `json:"promptTokenCount"`
	CandidatesTokenCount int64 `json:"candidatesTokenCount"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Analyze runs one full analysis of a video: build the request from the
// scan configuration, invoke the model with transport retries, validate
// the response, and re-invoke on schema failures until a budget runs out.
// Deadline management is the caller's; every returned error carries a scan
// error kind via ErrorKindOf.
func (c *Client) Analyze(ctx context.Context, videoURL, prompt string, sc ScanConfig) (*Analysis, error) {
	body, err := json.Marshal(c.buildRequest(videoURL, prompt, sc))
	if err != nil {
		return nil, classified(models.ErrKindInternal, fmt.Errorf("marshal request: %w", err))
	}

	attempts := 0
	var lastErr error
	for validation := 1; validation <= maxValidationAttempts; validation++ {
		text, usage, calls, err := c.generate(ctx, body)
		attempts += calls
		if err != nil && ErrorKindOf(err) != models.ErrKindValidation {
			return nil, err
		}

		if err == nil {
			result, perr := ParseResult([]byte(text))
			if perr == nil {
				return &Analysis{
					Result:       result,
					InputTokens:  usage.PromptTokenCount,
					OutputTokens: usage.CandidatesTokenCount,
					Attempts:     attempts,
				}, nil
			}
			err = perr
		}

		lastErr = err
		metrics.RecordVisionRetry("validation")
		logging.Warn().
			Err(err).
			Int("attempt", validation).
			Str("model", c.model).
			Msg("vision response failed validation")

		if validation == maxValidationAttempts {
			break
		}
		if serr := c.sleep(ctx, validationBackoff); serr != nil {
			return nil, classified(models.ErrKindTimeout, serr)
		}
	}

	return nil, classified(models.ErrKindValidation,
		fmt.Errorf("response invalid after %d attempts: %w", maxValidationAttempts, lastErr))
}

// buildRequest assembles the single-turn request: the video reference with
// its sampling window, then the prompt. A whole-video scan (no trims) omits
// the offsets so an unknown duration cannot produce an empty window.
func (c *Client) buildRequest(videoURL, prompt string, sc ScanConfig) generateRequest {
	video := requestPart{
		FileData: &fileData{
			FileURI:  videoURL,
			MimeType: "video/mp4",
		},
		VideoMetadata: &videoMetadata{FPS: sc.FPS},
	}
	if sc.StartOffsetSeconds > 0 || sc.EndOffsetSeconds > 0 {
		video.VideoMetadata.StartOffset = offsetDuration(sc.StartOffsetSeconds)
		video.VideoMetadata.EndOffset = offsetDuration(sc.DurationSeconds - sc.EndOffsetSeconds)
	}

	return generateRequest{
		Contents: []requestContent{
			{Parts: []requestPart{video, {Text: prompt}}},
		},
		GenerationConfig: generationConfig{
			Temperature:      c.temperature,
			MaxOutputTokens:  c.maxOutputTokens,
			ResponseMimeType: "application/json",
		},
	}
}

// generate performs one logical model call with transport retries. It
// returns the candidate text, the usage metadata and the number of HTTP
// attempts made. Rate limits and server errors back off on the shared
// sequence; permission failures return immediately.
func (c *Client) generate(ctx context.Context, body []byte) (string, usageMetadata, int, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	var lastErr error
	for attempt := 1; attempt <= maxTransportRetries+1; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, transportBackoff[attempt-2]); err != nil {
				return "", usageMetadata{}, attempt - 1, classified(models.ErrKindTimeout, err)
			}
		}

		text, usage, err := c.doRequest(ctx, url, body)
		if err == nil {
			return text, usage, attempt, nil
		}

		var ve *Error
		if errors.As(err, &ve) && ve.Kind != models.ErrKindRateLimited {
			return "", usageMetadata{}, attempt, err
		}
		lastErr = err

		reason := "server_error"
		if errors.As(err, &ve) {
			reason = ve.Kind
		}
		metrics.RecordVisionRetry(reason)
		logging.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("model", c.model).
			Msg("vision call failed, retrying")
	}

	kind := models.ErrKindInternal
	var ve *Error
	if errors.As(lastErr, &ve) {
		kind = ve.Kind
	}
	return "", usageMetadata{}, maxTransportRetries + 1, classified(kind,
		fmt.Errorf("model unavailable after %d attempts: %w", maxTransportRetries+1, lastErr))
}

// doRequest executes one HTTP round trip and maps the status onto the
// retry policy: 429 retries as rate-limited, 5xx retries as transient,
// 401/403 is terminal permission denial, anything else terminal internal.
func (c *Client) doRequest(ctx context.Context, url string, body []byte) (string, usageMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", usageMetadata{}, classified(models.ErrKindInternal, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", usageMetadata{}, classified(models.ErrKindTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return "", usageMetadata{}, classified(models.ErrKindTimeout, err)
		}
		// Connection-level failure; retry like a server error.
		return "", usageMetadata{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", usageMetadata{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := apiErrorMessage(respBody)
		err := fmt.Errorf("api error (%d): %s", resp.StatusCode, msg)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return "", usageMetadata{}, classified(models.ErrKindRateLimited, err)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return "", usageMetadata{}, classified(models.ErrKindPermission, err)
		case resp.StatusCode >= 500:
			return "", usageMetadata{}, err
		default:
			return "", usageMetadata{}, classified(models.ErrKindInternal, err)
		}
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", usageMetadata{}, classified(models.ErrKindValidation, fmt.Errorf("parse response: %w", err))
	}

	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		// A blocked prompt will block again; retrying burns budget for nothing.
		return "", usageMetadata{}, classified(models.ErrKindPermission,
			fmt.Errorf("prompt blocked: %s", parsed.PromptFeedback.BlockReason))
	}

	var text strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return "", usageMetadata{}, classified(models.ErrKindValidation, errEmptyResponse)
	}

	var usage usageMetadata
	if parsed.UsageMetadata != nil {
		usage = *parsed.UsageMetadata
	}
	return text.String(), usage, nil
}

// apiErrorMessage extracts the structured error message, falling back to
// the raw body truncated to something loggable.
func apiErrorMessage(body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	const maxLen = 512
	if len(body) > maxLen {
		body = body[:maxLen]
	}
	return string(body)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
