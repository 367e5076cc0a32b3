package types

import (
	"fmt"
	"testing"
	"time"
)

func TestNormalizeClampsAndCaps(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var tags []string
	for i := 0; i < 25; i++ {
		tags = append(tags, fmt.Sprintf("tag-%d", i))
	}
	rec := MemoryRecord{
		ID:              "r1",
		Text:            "x",
		ImportanceScore: 1.7,
		EmotionScores:   map[string]float64{"joy": 1.4, "fear": -0.2},
		Tags:            append(tags, "TAG-0", " "),
		Topics:          []string{"Work", "work", "life"},
		CreatedAt:       created,
		UpdatedAt:       created.Add(-time.Hour),
	}
	rec.Normalize()

	if rec.ImportanceScore != 1.0 {
		t.Errorf("importance = %v, want clamped to 1", rec.ImportanceScore)
	}
	if rec.EmotionScores["joy"] != 1.0 || rec.EmotionScores["fear"] != 0 {
		t.Errorf("emotion scores = %v", rec.EmotionScores)
	}
	if len(rec.Tags) != MaxTags {
		t.Errorf("tags = %d, want capped at %d", len(rec.Tags), MaxTags)
	}
	if len(rec.Topics) != 2 || rec.Topics[0] != "work" {
		t.Errorf("topics = %v, want deduplicated lowercase", rec.Topics)
	}
	if rec.SourceKind != SourceText {
		t.Errorf("source kind = %q, want text default", rec.SourceKind)
	}
	if rec.UpdatedAt.Before(rec.CreatedAt) {
		t.Errorf("updated_at %v before created_at %v", rec.UpdatedAt, rec.CreatedAt)
	}
}

func TestHasTag(t *testing.T) {
	t.Parallel()

	rec := MemoryRecord{Tags: []string{"work", "meeting"}}
	if !rec.HasTag("Work") {
		t.Error("HasTag should be case-insensitive")
	}
	if rec.HasTag("travel") {
		t.Error("unexpected tag match")
	}
}

func TestMetadataFloat(t *testing.T) {
	t.Parallel()

	rec := MemoryRecord{Metadata: map[string]any{
		"stress_score": 0.7,
		"chunks":       3,
		"label":        "x",
	}}
	if got := rec.MetadataFloat("stress_score", 0.5); got != 0.7 {
		t.Errorf("stress = %v", got)
	}
	if got := rec.MetadataFloat("chunks", 0); got != 3 {
		t.Errorf("chunks = %v", got)
	}
	if got := rec.MetadataFloat("label", 0.5); got != 0.5 {
		t.Errorf("non-numeric should fall back, got %v", got)
	}
	empty := MemoryRecord{}
	if got := empty.MetadataFloat("anything", 0.5); got != 0.5 {
		t.Errorf("nil metadata should fall back, got %v", got)
	}
}

func TestImportanceWeight(t *testing.T) {
	t.Parallel()

	cases := map[ImportanceLevel]float64{
		ImportanceCritical: 1.0,
		ImportanceHigh:     0.8,
		ImportanceMedium:   0.6,
		ImportanceLow:      0.4,
		"unknown":          0.5,
	}
	for level, want := range cases {
		if got := level.Weight(); got != want {
			t.Errorf("%q weight = %v, want %v", level, got, want)
		}
	}
}

func TestPriorityRank(t *testing.T) {
	t.Parallel()

	if PriorityUrgent.Rank() <= PriorityHigh.Rank() {
		t.Error("urgent should outrank high")
	}
	if PriorityHigh.Rank() <= PriorityMedium.Rank() {
		t.Error("high should outrank medium")
	}
	if PriorityMedium.Rank() <= PriorityLow.Rank() {
		t.Error("medium should outrank low")
	}
}
