package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/xiy/audiomem/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is a SQLite-backed memory store. Embeddings are stored inline
// as JSON and similarity search scans them with cosine distance, which is
// adequate for a single-user corpus.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
}

// OpenSQLite opens and initializes the SQLite store.
func OpenSQLite(ctx context.Context, dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	for _, stmt := range splitSQLStatements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run schema stmt: %w", err)
		}
	}
	return nil
}

func splitSQLStatements(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p+";")
	}
	return out
}

func (s *SQLiteStore) Insert(ctx context.Context, rec types.MemoryRecord) error {
	cols, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	const q = `INSERT INTO memories (
		id, text, emotion, emotion_scores_json, tags_json, topics_json,
		importance_score, embedding_json, source_kind, duration_seconds,
		metadata_json, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		rec.ID, rec.Text, rec.Emotion, cols.emotionScores, cols.tags, cols.topics,
		rec.ImportanceScore, cols.embedding, string(rec.SourceKind), rec.DurationSeconds,
		cols.metadata, cols.createdAt, cols.updatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM memories WHERE id = ? LIMIT 1`, id)
	rec, err := scanMemoryRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("get memory: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, rec types.MemoryRecord) error {
	cols, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	const q = `UPDATE memories SET
		text = ?, emotion = ?, emotion_scores_json = ?, tags_json = ?, topics_json = ?,
		importance_score = ?, embedding_json = ?, metadata_json = ?, updated_at = ?
	WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q,
		rec.Text, rec.Emotion, cols.emotionScores, cols.tags, cols.topics,
		rec.ImportanceScore, cols.embedding, cols.metadata, cols.updatedAt,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteVector clears the stored embedding for id. The SQLite store keeps
// vectors inline, so the row delete already removes them; this exists so the
// service's two-step delete contract holds for every backend.
func (s *SQLiteStore) DeleteVector(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET embedding_json = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]types.MemoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM memories ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *SQLiteStore) Search(ctx context.Context, f SearchFilter) ([]types.MemoryRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	base := selectColumns + ` FROM memories WHERE 1=1`
	var args []any
	if f.Query != "" {
		base += ` AND text LIKE ?`
		args = append(args, "%"+f.Query+"%")
	}
	if f.Emotion != "" {
		base += ` AND emotion = ?`
		args = append(args, f.Emotion)
	}
	if !f.From.IsZero() {
		base += ` AND created_at >= ?`
		args = append(args, f.From.UTC().Format(time.RFC3339Nano))
	}
	if !f.To.IsZero() {
		base += ` AND created_at <= ?`
		args = append(args, f.To.UTC().Format(time.RFC3339Nano))
	}
	if f.MinImportance > 0 {
		base += ` AND importance_score >= ?`
		args = append(args, f.MinImportance)
	}
	base += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, base, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	recs, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}

	// Tag membership is matched against the decoded set, not the JSON text.
	if len(f.Tags) == 0 {
		return recs, nil
	}
	filtered := recs[:0]
	for _, rec := range recs {
		for _, tag := range f.Tags {
			if rec.HasTag(tag) {
				filtered = append(filtered, rec)
				break
			}
		}
	}
	return filtered, nil
}

func (s *SQLiteStore) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]SimilarResult, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` FROM memories WHERE embedding_json IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("find similar: %w", err)
	}
	defer rows.Close()

	var results []SimilarResult
	for rows.Next() {
		rec, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		if len(rec.Embedding) == 0 {
			continue
		}
		results = append(results, SimilarResult{
			Record:     rec,
			Similarity: cosineSimilarity(embedding, rec.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	st := Stats{EmotionDistribution: map[string]int64{}}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM memories`).Scan(&st.Total); err != nil {
		return st, fmt.Errorf("stats total: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT emotion, count(*) FROM memories GROUP BY emotion`)
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

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT avg(importance_score) FROM memories`).Scan(&avg); err != nil {
		return st, fmt.Errorf("stats avg importance: %w", err)
	}
	st.AverageImportance = avg.Float64

	weekAgo := now.Add(-7 * 24 * time.Hour).UTC().Format(time.RFC3339Nano)
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM memories WHERE created_at >= ?`, weekAgo).Scan(&st.RecentWeek); err != nil {
		return st, fmt.Errorf("stats recent week: %w", err)
	}
	return st, nil
}

// InsertEventLog stores one pipeline event for admin observability.
func (s *SQLiteStore) InsertEventLog(ctx context.Context, ev EventLog) error {
	ts := ev.CreatedAt.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO pipeline_events (
		event_type, memory_id, detail, created_at
	) VALUES (?, ?, ?, ?)`,
		strings.TrimSpace(ev.Type),
		strings.TrimSpace(ev.MemoryID),
		strings.TrimSpace(ev.Detail),
		ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert pipeline event: %w", err)
	}
	return nil
}

// RecentEventLogs returns most recent pipeline events in newest-first order.
func (s *SQLiteStore) RecentEventLogs(ctx context.Context, limit int) ([]EventLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, event_type, memory_id, detail, created_at
FROM pipeline_events
ORDER BY created_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pipeline events: %w", err)
	}
	defer rows.Close()

	items := make([]EventLog, 0, limit)
	for rows.Next() {
		var (
			row       EventLog
			createdAt string
		)
		if err := rows.Scan(&row.ID, &row.Type, &row.MemoryID, &row.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			row.CreatedAt = ts
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, text, emotion, emotion_scores_json, tags_json, topics_json,
       importance_score, embedding_json, source_kind, duration_seconds,
       metadata_json, created_at, updated_at`

type encodedColumns struct {
	emotionScores string
	tags          string
	topics        string
	embedding     sql.NullString
	metadata      string
	createdAt     string
	updatedAt     string
}

func encodeRecord(rec types.MemoryRecord) (encodedColumns, error) {
	var cols encodedColumns

	scores := rec.EmotionScores
	if scores == nil {
		scores = map[string]float64{}
	}
	b, err := json.Marshal(scores)
	if err != nil {
		return cols, fmt.Errorf("marshal emotion scores: %w", err)
	}
	cols.emotionScores = string(b)

	if b, err = json.Marshal(orEmptySlice(rec.Tags)); err != nil {
		return cols, fmt.Errorf("marshal tags: %w", err)
	}
	cols.tags = string(b)

	if b, err = json.Marshal(orEmptySlice(rec.Topics)); err != nil {
		return cols, fmt.Errorf("marshal topics: %w", err)
	}
	cols.topics = string(b)

	if len(rec.Embedding) > 0 {
		if b, err = json.Marshal(rec.Embedding); err != nil {
			return cols, fmt.Errorf("marshal embedding: %w", err)
		}
		cols.embedding = sql.NullString{String: string(b), Valid: true}
	}

	meta := rec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	if b, err = json.Marshal(meta); err != nil {
		return cols, fmt.Errorf("marshal metadata: %w", err)
	}
	cols.metadata = string(b)

	cols.createdAt = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	cols.updatedAt = rec.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return cols, nil
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemoryRow(sc scanner) (types.MemoryRecord, error) {
	var (
		rec                types.MemoryRecord
		emotionScores      string
		tags, topics       string
		embedding          sql.NullString
		sourceKind         string
		metadataJSON       string
		createdAt, updated string
	)
	err := sc.Scan(
		&rec.ID,
		&rec.Text,
		&rec.Emotion,
		&emotionScores,
		&tags,
		&topics,
		&rec.ImportanceScore,
		&embedding,
		&sourceKind,
		&rec.DurationSeconds,
		&metadataJSON,
		&createdAt,
		&updated,
	)
	if err != nil {
		return rec, err
	}

	if err := json.Unmarshal([]byte(emotionScores), &rec.EmotionScores); err != nil {
		rec.EmotionScores = map[string]float64{}
	}
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		rec.Tags = nil
	}
	if err := json.Unmarshal([]byte(topics), &rec.Topics); err != nil {
		rec.Topics = nil
	}
	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &rec.Embedding); err != nil {
			rec.Embedding = nil
		}
	}
	if err := json.Unmarshal([]byte(metadataJSON), &rec.Metadata); err != nil {
		rec.Metadata = map[string]any{}
	}
	rec.SourceKind = types.SourceKind(sourceKind)

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return rec, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = created
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		rec.UpdatedAt = ts
	} else {
		rec.UpdatedAt = created
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]types.MemoryRecord, error) {
	var items []types.MemoryRecord
	for rows.Next() {
		rec, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}
