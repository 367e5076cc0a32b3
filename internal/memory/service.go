// Package memory implements the high-level memory service: creation with
// derived fields (emotion, tags, importance, topics, embedding), retrieval,
// search, similarity lookup and analytics on top of a storage backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/xiy/audiomem/internal/gateway"
	"github.com/xiy/audiomem/internal/store"
	"github.com/xiy/audiomem/pkg/types"
)

// Service coordinates the model gateway and the store. Model failures
// degrade gracefully: a record is always produced, with neutral emotion or
// a missing embedding when the corresponding backend is unavailable.
type Service struct {
	store  store.Store
	gw     *gateway.Gateway
	logger *log.Logger
	now    func() time.Time
}

func NewService(st store.Store, gw *gateway.Gateway, logger *log.Logger) *Service {
	return &Service{
		store:  st,
		gw:     gw,
		logger: logger,
		now:    time.Now,
	}
}

// CreateText analyzes raw text and stores it as a new memory record.
func (s *Service) CreateText(ctx context.Context, text string, metadata map[string]any) (types.MemoryRecord, error) {
	return s.create(ctx, text, metadata, types.SourceText, 0)
}

// CreateFromTranscription stores a transcribed audio segment, keeping the
// audio duration on the record.
func (s *Service) CreateFromTranscription(ctx context.Context, tr gateway.Transcription, metadata map[string]any) (types.MemoryRecord, error) {
	return s.create(ctx, tr.Text, metadata, types.SourceAudio, tr.DurationSeconds)
}

func (s *Service) create(ctx context.Context, text string, metadata map[string]any, kind types.SourceKind, duration float64) (types.MemoryRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.MemoryRecord{}, fmt.Errorf("memory text is empty")
	}

	now := s.now().UTC()
	rec := types.MemoryRecord{
		ID:              uuid.NewString(),
		Text:            text,
		SourceKind:      kind,
		DurationSeconds: duration,
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.derive(ctx, &rec)
	rec.Normalize()

	if err := s.store.Insert(ctx, rec); err != nil {
		return types.MemoryRecord{}, fmt.Errorf("store memory: %w", err)
	}
	s.logger.Debug("memory created", "id", rec.ID, "emotion", rec.Emotion, "importance", rec.ImportanceScore)
	return rec, nil
}

// derive fills in the analyzed fields from the gateway backends.
func (s *Service) derive(ctx context.Context, rec *types.MemoryRecord) {
	emotion := gateway.Emotion{Label: "neutral"}
	if got, err := s.gw.Classifier.Classify(ctx, rec.Text); err != nil {
		s.logger.Warn("emotion classification failed, using neutral", "err", err)
	} else {
		emotion = got
	}
	rec.Emotion = emotion.Label
	rec.EmotionScores = map[string]float64{emotion.Label: emotion.Confidence}

	rec.Tags = generateTags(rec.Text, emotion.Label, rec.CreatedAt)
	rec.ImportanceScore = calculateImportance(rec.Text, emotion.Confidence)

	topic, err := s.gw.Topics.ExtractTopic(ctx, rec.Text, nil)
	if err != nil || topic == "" {
		topic = "general"
	}
	rec.Topics = []string{topic}

	embedding, err := s.gw.Embedder.Embed(ctx, rec.Text)
	if err != nil {
		s.logger.Warn("embedding failed, record stored without vector", "err", err)
		return
	}
	rec.Embedding = embedding
}

// Update replaces the record text and recomputes every derived field.
// Creation time and source kind are preserved.
func (s *Service) Update(ctx context.Context, id, text string, metadata map[string]any) (types.MemoryRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.MemoryRecord{}, fmt.Errorf("memory text is empty")
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return types.MemoryRecord{}, fmt.Errorf("load memory %s: %w", id, err)
	}

	rec.Text = text
	if metadata != nil {
		rec.Metadata = metadata
	}
	rec.UpdatedAt = s.now().UTC()
	s.derive(ctx, &rec)
	rec.Normalize()

	if err := s.store.Update(ctx, rec); err != nil {
		return types.MemoryRecord{}, fmt.Errorf("update memory %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes a record in two steps: first the vector, then the row.
// A vector removal failure is logged and does not block the row delete.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteVector(ctx, id); err != nil {
		s.logger.Warn("vector removal failed, deleting row anyway", "id", id, "err", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (types.MemoryRecord, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]types.MemoryRecord, error) {
	return s.store.List(ctx, limit, offset)
}

func (s *Service) Search(ctx context.Context, f store.SearchFilter) ([]types.MemoryRecord, error) {
	return s.store.Search(ctx, f)
}

// FindSimilar embeds the query text and returns the closest stored records.
func (s *Service) FindSimilar(ctx context.Context, query string, limit int) ([]store.SimilarResult, error) {
	embedding, err := s.gw.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.FindSimilar(ctx, embedding, limit)
}

func (s *Service) Analytics(ctx context.Context) (store.Stats, error) {
	return s.store.Stats(ctx, s.now().UTC())
}

// EmotionTrend is a per-day count of one emotion label.
type EmotionTrend struct {
	Date    string
	Emotion string
	Count   int
}

// EmotionTrends groups recent records by calendar day and emotion.
func (s *Service) EmotionTrends(ctx context.Context, days int) ([]EmotionTrend, error) {
	if days <= 0 {
		days = 30
	}
	now := s.now().UTC()
	recs, err := s.store.Search(ctx, store.SearchFilter{
		From:  now.Add(-time.Duration(days) * 24 * time.Hour),
		Limit: 10000,
	})
	if err != nil {
		return nil, fmt.Errorf("load trend window: %w", err)
	}

	counts := map[string]map[string]int{}
	for _, rec := range recs {
		day := rec.CreatedAt.UTC().Format("2006-01-02")
		if counts[day] == nil {
			counts[day] = map[string]int{}
		}
		counts[day][rec.Emotion]++
	}

	var trends []EmotionTrend
	for day, emotions := range counts {
		for emotion, n := range emotions {
			trends = append(trends, EmotionTrend{Date: day, Emotion: emotion, Count: n})
		}
	}
	sort.Slice(trends, func(i, j int) bool {
		if trends[i].Date != trends[j].Date {
			return trends[i].Date < trends[j].Date
		}
		return trends[i].Emotion < trends[j].Emotion
	})
	return trends, nil
}

var tagKeywords = []struct {
	tag   string
	words []string
}{
	{"meeting", []string{"meeting", "discussion", "call"}},
	{"work", []string{"project", "work", "task"}},
	{"decision", []string{"decision", "choose", "decide"}},
}

func generateTags(text, emotion string, at time.Time) []string {
	tags := []string{emotion}
	lower := strings.ToLower(text)
	for _, group := range tagKeywords {
		for _, word := range group.words {
			if strings.Contains(lower, word) {
				tags = append(tags, group.tag)
				break
			}
		}
	}
	switch hour := at.Hour(); {
	case hour >= 9 && hour <= 12:
		tags = append(tags, "morning")
	case hour >= 13 && hour <= 17:
		tags = append(tags, "afternoon")
	case hour >= 18 && hour <= 21:
		tags = append(tags, "evening")
	}
	return tags
}

var importanceKeywords = []string{"important", "urgent", "deadline", "decision", "critical", "meeting"}

func calculateImportance(text string, emotionScore float64) float64 {
	importance := 0.5
	if len(text) > 100 {
		importance += 0.1
	}
	lower := strings.ToLower(text)
	for _, keyword := range importanceKeywords {
		if strings.Contains(lower, keyword) {
			importance += 0.1
			break
		}
	}
	importance += emotionScore * 0.2
	if importance > 1.0 {
		importance = 1.0
	}
	return importance
}
