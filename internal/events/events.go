// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package events

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/custodia/internal/models"
)

// SchemaVersion is the current event schema version.
// Increment this when making breaking changes to the pipeline envelopes.
const SchemaVersion = 1

// NATS subjects for the pipeline stream. All three are captured by the
// PIPELINE stream's "pipeline.>" subject filter.
const (
	SubjectVideoDiscovered = "pipeline.video.discovered"
	SubjectScanReady       = "pipeline.scan.ready"
	SubjectVisionFeedback  = "pipeline.vision.feedback"
)

// VideoMetadata is the snapshot of video state carried inside discovery
// and scan envelopes. It holds everything downstream consumers need so
// they can act without an extra store read on the hot path.
type VideoMetadata struct {
	VideoID         string              `json:"video_id"`
	URL             string              `json:"url"`
	Title           string              `json:"title"`
	DurationSeconds int                 `json:"duration_seconds"`
	ViewCount       int64               `json:"view_count"`
	ChannelID       string              `json:"channel_id"`
	ChannelTitle    string              `json:"channel_title,omitempty"`
	RiskScore       float64             `json:"risk_score"`
	RiskTier        models.PriorityTier `json:"risk_tier"`
	MatchedIPs      []string            `json:"matched_ips"`
	DiscoveredAt    time.Time           `json:"discovered_at"`
	ScanPriority    float64             `json:"scan_priority"`
}

// VideoDiscovered announces a newly persisted video to the risk engine.
// Emitted by the discovery scheduler after the video row is written.
type VideoDiscovered struct {
	// Schema version for forward/backward compatibility
	SchemaVersion int `json:"schema_version,omitempty"`

	EventID   string        `json:"event_id"`
	VideoID   string        `json:"video_id"`
	Priority  int           `json:"priority"`
	Metadata  VideoMetadata `json:"metadata"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewVideoDiscovered builds a discovery event from a persisted video.
func NewVideoDiscovered(v *models.Video) *VideoDiscovered {
	return &VideoDiscovered{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		VideoID:       v.ID,
		Priority:      int(math.Round(v.ScanPriority)),
		Metadata:      metadataFor(v),
		Timestamp:     time.Now().UTC(),
	}
}

// Validate checks required fields and returns an error if validation fails.
func (e *VideoDiscovered) Validate() *ValidationError {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if e.VideoID == "" {
		return &ValidationError{Field: "video_id", Message: "required"}
	}
	if e.Metadata.VideoID == "" {
		return &ValidationError{Field: "metadata.video_id", Message: "required"}
	}
	if e.Metadata.VideoID != e.VideoID {
		return &ValidationError{Field: "metadata.video_id", Message: "must match video_id"}
	}
	if e.Metadata.ChannelID == "" {
		return &ValidationError{Field: "metadata.channel_id", Message: "required"}
	}
	return nil
}

// Topic returns the NATS subject for this event.
func (e *VideoDiscovered) Topic() string {
	return SubjectVideoDiscovered
}

// ID returns the event id used as the Nats-Msg-Id deduplication key.
func (e *VideoDiscovered) ID() string {
	return e.EventID
}

// ScanReady carries the same envelope as VideoDiscovered on a different
// subject. Emitted by the risk engine once a video's scan priority clears
// the dispatch threshold; consumed by the vision dispatcher.
type ScanReady VideoDiscovered

// NewScanReady builds a scan-ready event from a scored video.
func NewScanReady(v *models.Video) *ScanReady {
	return (*ScanReady)(NewVideoDiscovered(v))
}

// Validate checks required fields and returns an error if validation fails.
func (e *ScanReady) Validate() *ValidationError {
	return (*VideoDiscovered)(e).Validate()
}

// Topic returns the NATS subject for this event.
func (e *ScanReady) Topic() string {
	return SubjectScanReady
}

// ID returns the event id used as the Nats-Msg-Id deduplication key.
func (e *ScanReady) ID() string {
	return e.EventID
}

// VisionFeedback reports a completed visual analysis back to the risk
// engine so channel aggregates and video risk can be rescored.
type VisionFeedback struct {
	// Schema version for forward/backward compatibility
	SchemaVersion int `json:"schema_version,omitempty"`

	EventID   string `json:"event_id"`
	VideoID   string `json:"video_id"`
	ChannelID string `json:"channel_id"`

	ContainsInfringement bool     `json:"contains_infringement"`
	ConfidenceScore      float64  `json:"confidence_score"`
	InfringementType     string   `json:"infringement_type,omitempty"`
	CharactersFound      []string `json:"characters_found,omitempty"`

	AnalysisCostEUR float64   `json:"analysis_cost_eur"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewVisionFeedback builds a feedback event for an analyzed video.
func NewVisionFeedback(videoID, channelID string) *VisionFeedback {
	return &VisionFeedback{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		VideoID:       videoID,
		ChannelID:     channelID,
		Timestamp:     time.Now().UTC(),
	}
}

// Validate checks required fields and returns an error if validation fails.
func (e *VisionFeedback) Validate() *ValidationError {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if e.VideoID == "" {
		return &ValidationError{Field: "video_id", Message: "required"}
	}
	if e.ChannelID == "" {
		return &ValidationError{Field: "channel_id", Message: "required"}
	}
	if e.ConfidenceScore < 0 || e.ConfidenceScore > 100 {
		return &ValidationError{Field: "confidence_score", Message: "must be between 0 and 100"}
	}
	if e.AnalyzedAt.IsZero() {
		return &ValidationError{Field: "analyzed_at", Message: "required"}
	}
	return nil
}

// Topic returns the NATS subject for this event.
func (e *VisionFeedback) Topic() string {
	return SubjectVisionFeedback
}

// ID returns the event id used as the Nats-Msg-Id deduplication key.
func (e *VisionFeedback) ID() string {
	return e.EventID
}

// Event is implemented by every pipeline message type.
type Event interface {
	// Topic returns the NATS subject the event publishes to.
	Topic() string
	// ID returns the unique event id, used for deduplication.
	ID() string
	// Validate reports the first invalid field, or nil.
	Validate() *ValidationError
}

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// EnsureSchemaVersion sets the schema version if not already set.
// Call this when processing events that may predate explicit versioning.
func (e *VideoDiscovered) EnsureSchemaVersion() {
	if e.SchemaVersion == 0 {
		e.SchemaVersion = SchemaVersion
	}
}

func metadataFor(v *models.Video) VideoMetadata {
	return VideoMetadata{
		VideoID:         v.ID,
		URL:             WatchURL(v.ID),
		Title:           v.Title,
		DurationSeconds: v.DurationSeconds,
		ViewCount:       v.ViewCount,
		ChannelID:       v.ChannelID,
		ChannelTitle:    v.ChannelTitle,
		RiskScore:       v.CurrentRisk,
		RiskTier:        v.PriorityTier,
		MatchedIPs:      v.MatchedIPs,
		DiscoveredAt:    v.DiscoveredAt,
		ScanPriority:    v.ScanPriority,
	}
}

// WatchURL returns the canonical public URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
