package memory

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/audiomem/internal/gateway"
	"github.com/xiy/audiomem/internal/store"
	"github.com/xiy/audiomem/pkg/types"
)

type fakeClassifier struct {
	emotion gateway.Emotion
	err     error
}

func (f *fakeClassifier) Classify(context.Context, string) (gateway.Emotion, error) {
	return f.emotion, f.err
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, f.err }
func (f *fakeEmbedder) Dims() int                                        { return len(f.vec) }

type fakeTranscriber struct {
	result gateway.Transcription
	err    error
}

func (f *fakeTranscriber) Transcribe(context.Context, string) (gateway.Transcription, error) {
	return f.result, f.err
}

func newTestService(t *testing.T, gw *gateway.Gateway) (*Service, *store.SQLiteStore) {
	t.Helper()
	logger := log.New(io.Discard)
	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "mem.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if gw == nil {
		gw = defaultFakeGateway()
	}
	svc := NewService(st, gw, logger)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	return svc, st
}

func defaultFakeGateway() *gateway.Gateway {
	return &gateway.Gateway{
		Transcriber: &fakeTranscriber{},
		Classifier:  &fakeClassifier{emotion: gateway.Emotion{Label: "joy", Confidence: 0.9}},
		Embedder:    &fakeEmbedder{vec: []float32{0.1, 0.2}},
		Topics:      gateway.KeywordTopics{},
	}
}

func TestCreateTextDerivedFields(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil)

	rec, err := svc.CreateText(context.Background(), "Important meeting about the quarterly roadmap", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" {
		t.Error("record has no id")
	}
	if rec.Emotion != "joy" {
		t.Errorf("emotion = %q, want joy", rec.Emotion)
	}
	if !rec.HasTag("joy") || !rec.HasTag("meeting") || !rec.HasTag("morning") {
		t.Errorf("tags = %v, want joy, meeting and morning present", rec.Tags)
	}
	// 0.5 base + 0.1 keyword + 0.2*0.9 emotion.
	if rec.ImportanceScore < 0.77 || rec.ImportanceScore > 0.79 {
		t.Errorf("importance = %v, want 0.78", rec.ImportanceScore)
	}
	if len(rec.Embedding) != 2 {
		t.Errorf("embedding = %v", rec.Embedding)
	}
	if rec.SourceKind != types.SourceText {
		t.Errorf("source kind = %q", rec.SourceKind)
	}
}

func TestCreateTextRejectsEmpty(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil)

	if _, err := svc.CreateText(context.Background(), "   ", nil); err == nil {
		t.Fatal("expected error for blank text")
	}
}

func TestCreateDegradesOnModelFailures(t *testing.T) {
	t.Parallel()
	gw := defaultFakeGateway()
	gw.Classifier = &fakeClassifier{err: errors.New("classifier down")}
	gw.Embedder = &fakeEmbedder{err: errors.New("embedder down")}
	svc, _ := newTestService(t, gw)

	rec, err := svc.CreateText(context.Background(), "still worth keeping", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Emotion != "neutral" {
		t.Errorf("emotion = %q, want neutral fallback", rec.Emotion)
	}
	if len(rec.Embedding) != 0 {
		t.Errorf("embedding = %v, want none", rec.Embedding)
	}
}

func TestCreateFromTranscription(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil)

	tr := gateway.Transcription{Text: "voice note from the walk", DurationSeconds: 12.5}
	rec, err := svc.CreateFromTranscription(context.Background(), tr, map[string]any{"chunk": 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.SourceKind != types.SourceAudio {
		t.Errorf("source kind = %q, want audio", rec.SourceKind)
	}
	if rec.DurationSeconds != 12.5 {
		t.Errorf("duration = %v, want 12.5", rec.DurationSeconds)
	}
}

func TestUpdateRecomputesDerivedFields(t *testing.T) {
	t.Parallel()
	gw := defaultFakeGateway()
	svc, _ := newTestService(t, gw)
	ctx := context.Background()

	rec, err := svc.CreateText(ctx, "a quiet afternoon", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	gw.Classifier = &fakeClassifier{emotion: gateway.Emotion{Label: "anger", Confidence: 1.0}}
	updated, err := svc.Update(ctx, rec.ID, "urgent deadline slipped again", nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Emotion != "anger" {
		t.Errorf("emotion = %q, want anger", updated.Emotion)
	}
	// 0.5 base + 0.1 keyword + 0.2 emotion.
	if updated.ImportanceScore < 0.79 || updated.ImportanceScore > 0.81 {
		t.Errorf("importance = %v, want 0.8", updated.ImportanceScore)
	}
	if !updated.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", rec.CreatedAt, updated.CreatedAt)
	}
}

func TestDeleteRemovesRecordDespiteVectorFailure(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	rec, err := svc.CreateText(ctx, "ephemeral thought", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.Get(ctx, rec.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("get after delete err = %v, want sql.ErrNoRows", err)
	}
}

func TestFindSimilarEmbedsQuery(t *testing.T) {
	t.Parallel()
	gw := defaultFakeGateway()
	gw.Embedder = &fakeEmbedder{vec: []float32{1, 0}}
	svc, _ := newTestService(t, gw)
	ctx := context.Background()

	if _, err := svc.CreateText(ctx, "stand-up went well", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := svc.FindSimilar(ctx, "how did the stand-up go", 5)
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("results = %d, want 1", len(got))
	}
	if got[0].Similarity < 0.999 {
		t.Errorf("similarity = %v, want ~1 for identical vectors", got[0].Similarity)
	}
}

func TestEmotionTrends(t *testing.T) {
	t.Parallel()
	gw := defaultFakeGateway()
	svc, _ := newTestService(t, gw)
	ctx := context.Background()

	texts := []string{"one", "two", "three"}
	for i, text := range texts {
		if i == 2 {
			gw.Classifier = &fakeClassifier{emotion: gateway.Emotion{Label: "sadness", Confidence: 0.8}}
		}
		if _, err := svc.CreateText(ctx, text, nil); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	trends, err := svc.EmotionTrends(ctx, 7)
	if err != nil {
		t.Fatalf("trends: %v", err)
	}
	if len(trends) != 2 {
		t.Fatalf("trends = %v, want two rows for one day", trends)
	}
	if trends[0].Emotion != "joy" || trends[0].Count != 2 {
		t.Errorf("first = %+v, want joy x2", trends[0])
	}
	if trends[1].Emotion != "sadness" || trends[1].Count != 1 {
		t.Errorf("second = %+v, want sadness x1", trends[1])
	}
}

func TestCalculateImportance(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		text    string
		emotion float64
		want    float64
	}{
		{"base", "short note", 0, 0.5},
		{"keyword", "urgent thing", 0, 0.6},
		{"long", strings.Repeat("a", 120), 0, 0.6},
		{"capped", "critical deadline " + strings.Repeat("a", 120), 1.0, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := calculateImportance(tc.text, tc.emotion)
			if got < tc.want-0.001 || got > tc.want+0.001 {
				t.Errorf("calculateImportance(%q, %v) = %v, want %v", tc.text, tc.emotion, got, tc.want)
			}
		})
	}
}
