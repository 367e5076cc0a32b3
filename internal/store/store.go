package store

import (
	"context"
	"math"
	"time"

	"github.com/xiy/audiomem/pkg/types"
)

// SearchFilter narrows Search results. Zero values mean "no constraint".
type SearchFilter struct {
	Query         string
	Emotion       string
	Tags          []string
	From          time.Time
	To            time.Time
	MinImportance float64
	Limit         int
}

// SimilarResult is one vector-similarity hit.
type SimilarResult struct {
	Record     types.MemoryRecord
	Similarity float64
}

// Stats summarizes the store for analytics and the admin dashboard.
type Stats struct {
	Total               int64
	EmotionDistribution map[string]int64
	AverageImportance   float64
	RecentWeek          int64
}

// EventLog captures one pipeline event for observability.
type EventLog struct {
	ID        int64
	Type      string
	MemoryID  string
	Detail    string
	CreatedAt time.Time
}

// Store represents persistence operations used by the memory service.
type Store interface {
	Insert(ctx context.Context, rec types.MemoryRecord) error
	Get(ctx context.Context, id string) (types.MemoryRecord, error)
	Update(ctx context.Context, rec types.MemoryRecord) error
	Delete(ctx context.Context, id string) error
	DeleteVector(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]types.MemoryRecord, error)
	Search(ctx context.Context, f SearchFilter) ([]types.MemoryRecord, error)
	FindSimilar(ctx context.Context, embedding []float32, limit int) ([]SimilarResult, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
	InsertEventLog(ctx context.Context, ev EventLog) error
	RecentEventLogs(ctx context.Context, limit int) ([]EventLog, error)
	Close() error
}

// cosineSimilarity is used by stores that keep vectors inline with the row
// rather than in a dedicated vector index.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
