package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xiy/audiomem/pkg/types"
)

// PostgresStore is a Postgres-backed memory store using pgvector for
// similarity search.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *log.Logger
	dims   int
}

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    emotion TEXT NOT NULL DEFAULT 'neutral',
    emotion_scores JSONB NOT NULL DEFAULT '{}',
    tags JSONB NOT NULL DEFAULT '[]',
    topics JSONB NOT NULL DEFAULT '[]',
    importance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    embedding vector(%d),
    source_kind TEXT NOT NULL DEFAULT 'text',
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);

CREATE TABLE IF NOT EXISTS pipeline_events (
    id BIGSERIAL PRIMARY KEY,
    event_type TEXT NOT NULL,
    memory_id TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
`

// OpenPostgres connects to Postgres and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string, dims int, logger *log.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger, dims: dims}
	for _, stmt := range splitSQLStatements(fmt.Sprintf(pgSchema, dims)) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run schema stmt: %w", err)
		}
	}
	return s, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec types.MemoryRecord) error {
	scores, tags, topics, meta, err := marshalJSONColumns(rec)
	if err != nil {
		return err
	}

	const q = `INSERT INTO memories (
		id, text, emotion, emotion_scores, tags, topics, importance_score,
		embedding, source_kind, duration_seconds, metadata, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = s.pool.Exec(ctx, q,
		rec.ID, rec.Text, rec.Emotion, scores, tags, topics, rec.ImportanceScore,
		embeddingValue(rec.Embedding), string(rec.SourceKind), rec.DurationSeconds,
		meta, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (types.MemoryRecord, error) {
	row := s.pool.QueryRow(ctx, pgSelectColumns+` FROM memories WHERE id = $1`, id)
	rec, err := scanPgMemory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, sql.ErrNoRows
		}
		return rec, fmt.Errorf("get memory: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, rec types.MemoryRecord) error {
	scores, tags, topics, meta, err := marshalJSONColumns(rec)
	if err != nil {
		return err
	}

	const q = `UPDATE memories SET
		text = $1, emotion = $2, emotion_scores = $3, tags = $4, topics = $5,
		importance_score = $6, embedding = $7, metadata = $8, updated_at = $9
	WHERE id = $10`
	tag, err := s.pool.Exec(ctx, q,
		rec.Text, rec.Emotion, scores, tags, topics,
		rec.ImportanceScore, embeddingValue(rec.Embedding), meta, rec.UpdatedAt.UTC(),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteVector(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET embedding = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]types.MemoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		pgSelectColumns+` FROM memories ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return collectPgRecords(rows)
}

func (s *PostgresStore) Search(ctx context.Context, f SearchFilter) ([]types.MemoryRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	base := pgSelectColumns + ` FROM memories WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Query != "" {
		base += ` AND text ILIKE ` + arg("%"+f.Query+"%")
	}
	if f.Emotion != "" {
		base += ` AND emotion = ` + arg(f.Emotion)
	}
	if !f.From.IsZero() {
		base += ` AND created_at >= ` + arg(f.From.UTC())
	}
	if !f.To.IsZero() {
		base += ` AND created_at <= ` + arg(f.To.UTC())
	}
	if f.MinImportance > 0 {
		base += ` AND importance_score >= ` + arg(f.MinImportance)
	}
	if tags := normalizedTags(f.Tags); len(tags) > 0 {
		conds := make([]string, 0, len(tags))
		for _, t := range tags {
			single, err := json.Marshal([]string{t})
			if err != nil {
				return nil, fmt.Errorf("marshal tag filter: %w", err)
			}
			conds = append(conds, `tags @> `+arg(string(single))+`::jsonb`)
		}
		base += ` AND (` + strings.Join(conds, " OR ") + `)`
	}
	base += ` ORDER BY created_at DESC LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, base, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()
	return collectPgRecords(rows)
}

func (s *PostgresStore) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]SimilarResult, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(embedding)

	q := pgSelectColumns + `, 1 - (embedding <=> $1) AS similarity
FROM memories
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1
LIMIT $2`
	rows, err := s.pool.Query(ctx, q, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("find similar: %w", err)
	}
	defer rows.Close()

	var results []SimilarResult
	for rows.Next() {
		rec, sim, err := scanPgMemoryWithSimilarity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, SimilarResult{Record: rec, Similarity: sim})
	}
	return results, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	st := Stats{EmotionDistribution: map[string]int64{}}
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM memories`).Scan(&st.Total); err != nil {
		return st, fmt.Errorf("stats total: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT emotion, count(*) FROM memories GROUP BY emotion`)
	if err != nil {
		return st, fmt.Errorf("stats emotions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var emotion string
		var n int64
		if err := rows.Scan(&emotion, &n); err != nil {
			return st, err
		}
		st.EmotionDistribution[emotion] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	var avg *float64
	if err := s.pool.QueryRow(ctx, `SELECT avg(importance_score) FROM memories`).Scan(&avg); err != nil {
		return st, fmt.Errorf("stats avg importance: %w", err)
	}
	if avg != nil {
		st.AverageImportance = *avg
	}

	weekAgo := now.Add(-7 * 24 * time.Hour).UTC()
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM memories WHERE created_at >= $1`, weekAgo).Scan(&st.RecentWeek); err != nil {
		return st, fmt.Errorf("stats recent week: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) InsertEventLog(ctx context.Context, ev EventLog) error {
	ts := ev.CreatedAt.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO pipeline_events (
		event_type, memory_id, detail, created_at
	) VALUES ($1, $2, $3, $4)`,
		strings.TrimSpace(ev.Type), strings.TrimSpace(ev.MemoryID), strings.TrimSpace(ev.Detail), ts)
	if err != nil {
		return fmt.Errorf("insert pipeline event: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentEventLogs(ctx context.Context, limit int) ([]EventLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT id, event_type, memory_id, detail, created_at
FROM pipeline_events
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pipeline events: %w", err)
	}
	defer rows.Close()

	items := make([]EventLog, 0, limit)
	for rows.Next() {
		var row EventLog
		if err := rows.Scan(&row.ID, &row.Type, &row.MemoryID, &row.Detail, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgSelectColumns = `SELECT id, text, emotion, emotion_scores, tags, topics,
       importance_score, embedding, source_kind, duration_seconds,
       metadata, created_at, updated_at`

func marshalJSONColumns(rec types.MemoryRecord) (scores, tags, topics, meta []byte, err error) {
	es := rec.EmotionScores
	if es == nil {
		es = map[string]float64{}
	}
	if scores, err = json.Marshal(es); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal emotion scores: %w", err)
	}
	if tags, err = json.Marshal(orEmptySlice(rec.Tags)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal tags: %w", err)
	}
	if topics, err = json.Marshal(orEmptySlice(rec.Topics)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal topics: %w", err)
	}
	md := rec.Metadata
	if md == nil {
		md = map[string]any{}
	}
	if meta, err = json.Marshal(md); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return scores, tags, topics, meta, nil
}

func embeddingValue(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func normalizedTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func scanPgMemory(row pgx.Row) (types.MemoryRecord, error) {
	var (
		rec        types.MemoryRecord
		scores     []byte
		tags       []byte
		topics     []byte
		embedding  *pgvector.Vector
		sourceKind string
		meta       []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Text, &rec.Emotion, &scores, &tags, &topics,
		&rec.ImportanceScore, &embedding, &sourceKind, &rec.DurationSeconds,
		&meta, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}
	decodePgColumns(&rec, scores, tags, topics, embedding, sourceKind, meta)
	return rec, nil
}

func scanPgMemoryWithSimilarity(rows pgx.Rows) (types.MemoryRecord, float64, error) {
	var (
		rec        types.MemoryRecord
		scores     []byte
		tags       []byte
		topics     []byte
		embedding  *pgvector.Vector
		sourceKind string
		meta       []byte
		similarity float64
	)
	err := rows.Scan(
		&rec.ID, &rec.Text, &rec.Emotion, &scores, &tags, &topics,
		&rec.ImportanceScore, &embedding, &sourceKind, &rec.DurationSeconds,
		&meta, &rec.CreatedAt, &rec.UpdatedAt, &similarity,
	)
	if err != nil {
		return rec, 0, err
	}
	decodePgColumns(&rec, scores, tags, topics, embedding, sourceKind, meta)
	return rec, similarity, nil
}

func decodePgColumns(rec *types.MemoryRecord, scores, tags, topics []byte, embedding *pgvector.Vector, sourceKind string, meta []byte) {
	if err := json.Unmarshal(scores, &rec.EmotionScores); err != nil {
		rec.EmotionScores = map[string]float64{}
	}
	if err := json.Unmarshal(tags, &rec.Tags); err != nil {
		rec.Tags = nil
	}
	if err := json.Unmarshal(topics, &rec.Topics); err != nil {
		rec.Topics = nil
	}
	if embedding != nil {
		rec.Embedding = embedding.Slice()
	}
	if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
		rec.Metadata = map[string]any{}
	}
	rec.SourceKind = types.SourceKind(sourceKind)
}

func collectPgRecords(rows pgx.Rows) ([]types.MemoryRecord, error) {
	var items []types.MemoryRecord
	for rows.Next() {
		rec, err := scanPgMemory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}
