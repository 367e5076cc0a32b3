package insight

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/xiy/audiomem/internal/config"
	"github.com/xiy/audiomem/pkg/types"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	e := NewEngine(config.Default().Insights)
	e.now = func() time.Time { return testNow }
	return e
}

func record(id, emotion string, importance float64, at time.Time) types.MemoryRecord {
	return types.MemoryRecord{
		ID:              id,
		Text:            "note " + id,
		Emotion:         emotion,
		ImportanceScore: importance,
		Topics:          []string{"general"},
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

func findKind(insights []types.Insight, kind types.InsightKind) []types.Insight {
	var out []types.Insight
	for _, in := range insights {
		if in.Kind == kind {
			out = append(out, in)
		}
	}
	return out
}

func TestDominantEmotionDataReproducesShare(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	var recs []types.MemoryRecord
	for i := 0; i < 5; i++ {
		emotion := "joy"
		if i == 4 {
			emotion = "sadness"
		}
		recs = append(recs, record(fmt.Sprintf("m%d", i), emotion, 0.6, testNow.Add(-time.Duration(i)*time.Hour)))
	}

	insights := e.Generate(recs)
	var dominant *types.Insight
	for _, in := range findKind(insights, types.InsightEmotionPattern) {
		if in.Data["emotion"] == "joy" {
			dominant = &in
			break
		}
	}
	if dominant == nil {
		t.Fatalf("no dominant-emotion insight in %+v", insights)
	}
	pct, ok := dominant.Data["percentage"].(float64)
	if !ok || math.Abs(pct-0.8) > 1e-9 {
		t.Errorf("percentage = %v, want exactly 0.8", dominant.Data["percentage"])
	}
	if dominant.Importance != types.ImportanceMedium {
		t.Errorf("importance = %q, want medium for joy", dominant.Importance)
	}
}

func TestEmotionShiftDetected(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	var recs []types.MemoryRecord
	old := testNow.Add(-9 * 24 * time.Hour)
	for i := 0; i < 6; i++ {
		recs = append(recs, record(fmt.Sprintf("old%d", i), "sadness", 0.6, old.Add(time.Duration(i)*time.Hour)))
	}
	for i := 0; i < 3; i++ {
		recs = append(recs, record(fmt.Sprintf("new%d", i), "joy", 0.6, testNow.Add(-time.Duration(i+1)*time.Hour)))
	}

	insights := e.Generate(recs)
	shifts := findKind(insights, types.InsightEmotionTrend)
	if len(shifts) != 1 {
		t.Fatalf("shift insights = %d, want 1", len(shifts))
	}
	if shifts[0].Data["recent_emotion"] != "joy" || shifts[0].Data["overall_emotion"] != "sadness" {
		t.Errorf("shift data = %v", shifts[0].Data)
	}
}

func TestHighActivityPattern(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	var recs []types.MemoryRecord
	day := testNow.Add(-24 * time.Hour)
	for i := 0; i < 12; i++ {
		recs = append(recs, record(fmt.Sprintf("m%d", i), "neutral", 0.6, day.Add(time.Duration(i)*time.Minute)))
	}

	insights := e.Generate(recs)
	activity := findKind(insights, types.InsightActivityPattern)
	if len(activity) != 1 {
		t.Fatalf("activity insights = %d, want 1", len(activity))
	}
	if avg := activity[0].Data["average_daily"].(float64); avg != 12 {
		t.Errorf("average_daily = %v, want 12", avg)
	}
}

func TestActivityTrendUpward(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	var recs []types.MemoryRecord
	perDay := []int{1, 3, 5, 7}
	for d, n := range perDay {
		day := testNow.Add(-time.Duration(len(perDay)-d) * 24 * time.Hour)
		for i := 0; i < n; i++ {
			recs = append(recs, record(fmt.Sprintf("d%dm%d", d, i), "neutral", 0.6, day.Add(time.Duration(i)*time.Minute)))
		}
	}

	insights := e.Generate(recs)
	trends := findKind(insights, types.InsightActivityTrend)
	if len(trends) != 1 {
		t.Fatalf("trend insights = %d, want 1", len(trends))
	}
	if slope := trends[0].Data["trend_slope"].(float64); slope <= 0.2 {
		t.Errorf("slope = %v, want > 0.2", slope)
	}
}

func TestImportanceDistribution(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	scores := []float64{0.9, 0.9, 0.3, 0.3, 0.3}
	var recs []types.MemoryRecord
	for i, s := range scores {
		recs = append(recs, record(fmt.Sprintf("m%d", i), "neutral", s, testNow.Add(-time.Duration(i)*time.Hour)))
	}

	insights := e.Generate(recs)
	patterns := findKind(insights, types.InsightImportancePattern)
	if len(patterns) != 1 {
		t.Fatalf("importance insights = %d, want 1 (high ratio only)", len(patterns))
	}
	if ratio := patterns[0].Data["high_importance_ratio"].(float64); math.Abs(ratio-0.4) > 1e-9 {
		t.Errorf("high ratio = %v, want 0.4", ratio)
	}
}

func TestGapDetectionReportsBoundingRecords(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	var recs []types.MemoryRecord
	start := testNow.Add(-30 * 24 * time.Hour)
	for i := 0; i < 10; i++ {
		recs = append(recs, record(fmt.Sprintf("m%d", i), "neutral", 0.6, start.Add(time.Duration(i)*time.Hour)))
	}
	recs = append(recs, record("after-gap", "neutral", 0.6, start.Add(9*time.Hour+100*time.Hour)))

	insights := e.Generate(recs)
	gaps := findKind(insights, types.InsightGapPattern)
	if len(gaps) != 1 {
		t.Fatalf("gap insights = %d, want 1", len(gaps))
	}
	if gaps[0].Data["before_id"] != "m9" || gaps[0].Data["after_id"] != "after-gap" {
		t.Errorf("gap bounds = %v", gaps[0].Data)
	}
	if hours := gaps[0].Data["gap_hours"].(float64); math.Abs(hours-100) > 1e-9 {
		t.Errorf("gap hours = %v, want 100", hours)
	}
}

func TestSmallBatchYieldsNothing(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	recs := []types.MemoryRecord{
		record("a", "joy", 0.9, testNow),
		record("b", "joy", 0.9, testNow),
	}
	if got := e.Generate(recs); len(got) != 0 {
		t.Errorf("insights = %v, want none below minimum sample size", got)
	}
}

func TestRankFiltersCapsAndOrders(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	var insights []types.Insight
	for i := 0; i < 7; i++ {
		insights = append(insights, types.Insight{
			Kind:       types.InsightEmotionPattern,
			Confidence: 0.9 - float64(i)*0.02,
			Importance: types.ImportanceLow,
		})
	}
	insights = append(insights,
		types.Insight{Kind: types.InsightGapPattern, Confidence: 0.8, Importance: types.ImportanceHigh},
		types.Insight{Kind: types.InsightContentPattern, Confidence: 0.5, Importance: types.ImportanceHigh},
	)

	ranked := e.Rank(insights)
	if got := len(findKind(ranked, types.InsightEmotionPattern)); got != 5 {
		t.Errorf("emotion insights kept = %d, want capped at 5", got)
	}
	if got := len(findKind(ranked, types.InsightContentPattern)); got != 0 {
		t.Error("below-cutoff insight survived ranking")
	}
	if ranked[0].Kind != types.InsightGapPattern {
		t.Errorf("top ranked = %q, want gap_pattern", ranked[0].Kind)
	}
}

func TestTrendSlope(t *testing.T) {
	t.Parallel()

	if got := trendSlope([]float64{1, 2, 3}); math.Abs(got-1) > 1e-9 {
		t.Errorf("slope = %v, want 1", got)
	}
	if got := trendSlope([]float64{3, 3, 3}); got != 0 {
		t.Errorf("flat slope = %v, want 0", got)
	}
	if got := trendSlope([]float64{5}); got != 0 {
		t.Errorf("single value slope = %v, want 0", got)
	}
}
