package types

import (
	"strings"
	"time"
)

// SourceKind identifies how a memory entered the system.
type SourceKind string

const (
	SourceText  SourceKind = "text"
	SourceAudio SourceKind = "audio"
)

// Defensive caps applied when records are normalized.
const (
	MaxTags         = 20
	MaxTopics       = 10
	MaxMetadataKeys = 50
	MaxMetadataKey  = 100
	MaxTagLength    = 50
	MaxTopicLength  = 100
)

// MemoryRecord is one persisted unit of experience.
type MemoryRecord struct {
	ID              string             `json:"id"`
	Text            string             `json:"text"`
	Emotion         string             `json:"emotion"`
	EmotionScores   map[string]float64 `json:"emotion_scores,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
	Topics          []string           `json:"topics,omitempty"`
	ImportanceScore float64            `json:"importance_score"`
	Embedding       []float32          `json:"embedding,omitempty"`
	SourceKind      SourceKind         `json:"source_kind"`
	DurationSeconds float64            `json:"duration_seconds,omitempty"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Normalize enforces the record invariants in place: importance and emotion
// scores clamped to [0,1], tags/topics deduplicated and capped, metadata
// size-bounded, UpdatedAt never before CreatedAt.
func (m *MemoryRecord) Normalize() {
	m.ImportanceScore = clamp01(m.ImportanceScore)
	for k, v := range m.EmotionScores {
		m.EmotionScores[k] = clamp01(v)
	}
	m.Tags = normalizeLabels(m.Tags, MaxTags, MaxTagLength)
	m.Topics = normalizeLabels(m.Topics, MaxTopics, MaxTopicLength)
	if m.SourceKind == "" {
		m.SourceKind = SourceText
	}
	if len(m.Metadata) > MaxMetadataKeys {
		trimmed := make(map[string]any, MaxMetadataKeys)
		for k, v := range m.Metadata {
			if len(k) > MaxMetadataKey {
				continue
			}
			trimmed[k] = v
			if len(trimmed) >= MaxMetadataKeys {
				break
			}
		}
		m.Metadata = trimmed
	}
	if m.UpdatedAt.Before(m.CreatedAt) {
		m.UpdatedAt = m.CreatedAt
	}
}

// HasTag reports whether the record carries tag, case-insensitively.
func (m *MemoryRecord) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MetadataFloat reads a numeric sidecar estimate from metadata, returning
// fallback when absent or not a number.
func (m *MemoryRecord) MetadataFloat(key string, fallback float64) float64 {
	if m.Metadata == nil {
		return fallback
	}
	switch v := m.Metadata[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return fallback
	}
}

func normalizeLabels(in []string, maxCount, maxLen int) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if len(s) > maxLen {
			s = s[:maxLen]
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if len(out) >= maxCount {
			break
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ImportanceLevel is the ordinal severity attached to insights.
type ImportanceLevel string

const (
	ImportanceLow      ImportanceLevel = "low"
	ImportanceMedium   ImportanceLevel = "medium"
	ImportanceHigh     ImportanceLevel = "high"
	ImportanceCritical ImportanceLevel = "critical"
)

// Weight returns the fixed ranking weight for the level.
func (l ImportanceLevel) Weight() float64 {
	switch l {
	case ImportanceCritical:
		return 1.0
	case ImportanceHigh:
		return 0.8
	case ImportanceMedium:
		return 0.6
	case ImportanceLow:
		return 0.4
	default:
		return 0.5
	}
}

// InsightKind classifies a derived observation.
type InsightKind string

const (
	InsightActivityPattern   InsightKind = "activity_pattern"
	InsightActivityTrend     InsightKind = "activity_trend"
	InsightEmotionPattern    InsightKind = "emotion_pattern"
	InsightEmotionTrend      InsightKind = "emotion_trend"
	InsightImportancePattern InsightKind = "importance_pattern"
	InsightImportanceTrend   InsightKind = "importance_trend"
	InsightTopicPattern      InsightKind = "topic_pattern"
	InsightTagPattern        InsightKind = "tag_pattern"
	InsightTemporalPattern   InsightKind = "temporal_pattern"
	InsightContentPattern    InsightKind = "content_pattern"
	InsightGapPattern        InsightKind = "gap_pattern"
)

// Insight is an ephemeral derived observation over a batch of records. The
// message is always reproducible from Data.
type Insight struct {
	Kind       InsightKind     `json:"kind"`
	Message    string          `json:"message"`
	Confidence float64         `json:"confidence"`
	Importance ImportanceLevel `json:"importance"`
	Data       map[string]any  `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NotificationPriority orders user-facing notifications.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// Rank maps the priority onto a comparable ordinal.
func (p NotificationPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// NotificationType categorizes what produced a notification.
type NotificationType string

const (
	NotifyInsight      NotificationType = "insight"
	NotifyPatternAlert NotificationType = "pattern_alert"
	NotifyGoalProgress NotificationType = "goal_progress"
	NotifyReminder     NotificationType = "reminder"
)

// Notification is derived from insights or pattern checks; it never mutates
// the records it references.
type Notification struct {
	ID            string               `json:"id"`
	Type          NotificationType     `json:"type"`
	Title         string               `json:"title"`
	Message       string               `json:"message"`
	Priority      NotificationPriority `json:"priority"`
	ScheduledTime time.Time            `json:"scheduled_time"`
	MemoryIDs     []string             `json:"memory_ids,omitempty"`
}

// EventType tags events broadcast by the ingestion pipeline.
type EventType string

const (
	EventNewMemory     EventType = "new_memory"
	EventTranscription EventType = "streaming_transcription"
)

// Event is what pipeline subscribers receive. NewMemory events carry the
// record ID and quick-turnaround analysis; transcription events carry the
// recognized text plus emotion and the originating fragment metadata.
type Event struct {
	Type         EventType      `json:"type"`
	MemoryID     string         `json:"memory_id,omitempty"`
	Text         string         `json:"text,omitempty"`
	Emotion      string         `json:"emotion,omitempty"`
	EmotionScore float64        `json:"emotion_score,omitempty"`
	Duration     float64        `json:"duration_seconds,omitempty"`
	Analysis     *QuickAnalysis `json:"analysis,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// QuickAnalysis is the cheap per-record enrichment attached to new_memory
// events, derived from sidecar estimates rather than model calls.
type QuickAnalysis struct {
	Patterns        []string `json:"patterns_detected,omitempty"`
	Anomalies       []string `json:"anomalies,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}
