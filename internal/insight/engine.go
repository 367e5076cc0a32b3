// Package insight derives scored observations from batches of memory
// records: activity levels and trends, emotion dominance and shifts,
// importance distribution, topic and tag clusters, temporal peaks, content
// shape and capture gaps. Generators are pure over their input batch; every
// message is reproducible from the insight's Data.
package insight

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/xiy/audiomem/internal/config"
	"github.com/xiy/audiomem/pkg/types"
)

// Engine runs every generator over a batch and ranks the result.
type Engine struct {
	cfg config.InsightConfig
	now func() time.Time
}

func NewEngine(cfg config.InsightConfig) *Engine {
	return &Engine{cfg: cfg, now: time.Now}
}

// Generate produces the ranked insight list for one batch. Batches smaller
// than the minimum sample size yield nothing.
func (e *Engine) Generate(records []types.MemoryRecord) []types.Insight {
	if len(records) < e.cfg.MinSampleSize {
		return nil
	}

	var insights []types.Insight
	insights = append(insights, e.activityInsights(records)...)
	insights = append(insights, e.emotionInsights(records)...)
	insights = append(insights, e.importanceInsights(records)...)
	insights = append(insights, e.clusterInsights(records)...)
	insights = append(insights, e.temporalInsights(records)...)
	insights = append(insights, e.contentInsights(records)...)
	insights = append(insights, e.gapInsights(records)...)

	for i := range insights {
		insights[i].CreatedAt = e.now().UTC()
	}
	return e.Rank(insights)
}

func (e *Engine) activityInsights(records []types.MemoryRecord) []types.Insight {
	daily := map[string]int{}
	var days []string
	for _, rec := range records {
		day := rec.CreatedAt.UTC().Format("2006-01-02")
		if _, seen := daily[day]; !seen {
			days = append(days, day)
		}
		daily[day]++
	}
	if len(daily) == 0 {
		return nil
	}
	sort.Strings(days)

	total := 0
	for _, n := range daily {
		total += n
	}
	avg := float64(total) / float64(len(daily))

	var insights []types.Insight
	switch {
	case avg > e.cfg.HighActivityPerDay:
		insights = append(insights, types.Insight{
			Kind:       types.InsightActivityPattern,
			Message:    fmt.Sprintf("High memory activity detected: averaging %.1f memories per day", avg),
			Confidence: math.Min(0.9, avg/20),
			Importance: types.ImportanceMedium,
			Data:       map[string]any{"average_daily": avg, "threshold": e.cfg.HighActivityPerDay},
		})
	case avg < e.cfg.LowActivityPerDay:
		insights = append(insights, types.Insight{
			Kind:       types.InsightActivityPattern,
			Message:    fmt.Sprintf("Low memory activity: only %.1f memories per day on average", avg),
			Confidence: 0.8,
			Importance: types.ImportanceMedium,
			Data:       map[string]any{"average_daily": avg, "threshold": e.cfg.LowActivityPerDay},
		})
	}

	window := days
	if len(window) > e.cfg.TrendWindowDays {
		window = window[len(window)-e.cfg.TrendWindowDays:]
	}
	if len(window) >= 3 {
		counts := make([]float64, len(window))
		for i, day := range window {
			counts[i] = float64(daily[day])
		}
		slope := trendSlope(counts)
		if math.Abs(slope) > e.cfg.TrendSlopeThreshold {
			direction := "upward"
			if slope < 0 {
				direction = "downward"
			}
			insights = append(insights, types.Insight{
				Kind:       types.InsightActivityTrend,
				Message:    fmt.Sprintf("Memory creation is trending %s", direction),
				Confidence: math.Min(0.9, math.Abs(slope)*2),
				Importance: types.ImportanceMedium,
				Data:       map[string]any{"trend_slope": slope, "recent_days": len(window)},
			})
		}
	}
	return insights
}

func (e *Engine) emotionInsights(records []types.MemoryRecord) []types.Insight {
	counts := map[string]int{}
	recent := map[string]int{}
	cutoff := e.now().UTC().Add(-time.Duration(e.cfg.TrendWindowDays) * 24 * time.Hour)
	for _, rec := range records {
		emotion := rec.Emotion
		if emotion == "" {
			emotion = "neutral"
		}
		counts[emotion]++
		if !rec.CreatedAt.Before(cutoff) {
			recent[emotion]++
		}
	}

	dominant, dominantCount := topCount(counts)
	share := float64(dominantCount) / float64(len(records))

	var insights []types.Insight
	if share > e.cfg.DominantEmotionRatio {
		insights = append(insights, types.Insight{
			Kind:       types.InsightEmotionPattern,
			Message:    fmt.Sprintf("Dominant emotion pattern detected: %s (%.1f%% of memories)", dominant, share*100),
			Confidence: math.Min(0.9, share*1.5),
			Importance: emotionImportance(dominant),
			Data:       map[string]any{"emotion": dominant, "percentage": share},
		})
	}

	if len(recent) > 0 {
		recentDominant, _ := topCount(recent)
		if recentDominant != dominant {
			insights = append(insights, types.Insight{
				Kind:       types.InsightEmotionTrend,
				Message:    fmt.Sprintf("Recent emotional shift detected: trending toward %s", recentDominant),
				Confidence: e.cfg.EmotionShiftMinConf,
				Importance: types.ImportanceMedium,
				Data:       map[string]any{"recent_emotion": recentDominant, "overall_emotion": dominant},
			})
		}
	}

	diversity := float64(len(counts)) / float64(len(records))
	if diversity > 0.3 {
		insights = append(insights, types.Insight{
			Kind:       types.InsightEmotionPattern,
			Message:    fmt.Sprintf("High emotional diversity detected across %d different emotions", len(counts)),
			Confidence: math.Min(0.9, diversity*2),
			Importance: types.ImportanceLow,
			Data:       map[string]any{"diversity_score": diversity, "unique_emotions": len(counts)},
		})
	}
	return insights
}

func (e *Engine) importanceInsights(records []types.MemoryRecord) []types.Insight {
	scores := make([]float64, 0, len(records))
	for _, rec := range records {
		if rec.ImportanceScore >= 0 && rec.ImportanceScore <= 1 {
			scores = append(scores, rec.ImportanceScore)
		}
	}
	if len(scores) < e.cfg.MinSampleSize {
		return nil
	}

	high, low := 0, 0
	for _, s := range scores {
		if s >= e.cfg.HighImportance {
			high++
		}
		if s < e.cfg.MediumImportance {
			low++
		}
	}
	highRatio := float64(high) / float64(len(scores))
	lowRatio := float64(low) / float64(len(scores))

	var insights []types.Insight
	if highRatio > e.cfg.HighImportanceRatio {
		insights = append(insights, types.Insight{
			Kind:       types.InsightImportancePattern,
			Message:    fmt.Sprintf("High proportion of important memories: %.1f%% are highly important", highRatio*100),
			Confidence: math.Min(0.9, highRatio*2),
			Importance: types.ImportanceHigh,
			Data:       map[string]any{"high_importance_ratio": highRatio, "threshold": e.cfg.HighImportance},
		})
	}
	if lowRatio > e.cfg.LowImportanceRatio {
		insights = append(insights, types.Insight{
			Kind:       types.InsightImportancePattern,
			Message:    fmt.Sprintf("Many memories have low importance scores: %.1f%% below medium threshold", lowRatio*100),
			Confidence: 0.8,
			Importance: types.ImportanceMedium,
			Data:       map[string]any{"low_importance_ratio": lowRatio, "threshold": e.cfg.MediumImportance},
		})
	}

	if len(scores) >= e.cfg.TrendWindowDays {
		window := scores[len(scores)-e.cfg.TrendWindowDays:]
		slope := trendSlope(window)
		if math.Abs(slope) > 0.05 {
			direction := "increasing"
			if slope < 0 {
				direction = "decreasing"
			}
			insights = append(insights, types.Insight{
				Kind:       types.InsightImportanceTrend,
				Message:    fmt.Sprintf("Memory importance is %s over time", direction),
				Confidence: math.Min(0.9, math.Abs(slope)*10),
				Importance: types.ImportanceMedium,
				Data:       map[string]any{"trend_slope": slope, "direction": direction},
			})
		}
	}
	return insights
}

func (e *Engine) clusterInsights(records []types.MemoryRecord) []types.Insight {
	topicCounts := map[string]int{}
	tagCounts := map[string]int{}
	for _, rec := range records {
		for _, topic := range rec.Topics {
			topicCounts[topic]++
		}
		for _, tag := range rec.Tags {
			tagCounts[tag]++
		}
	}

	var insights []types.Insight
	if topTopic, count := topCount(topicCounts); count >= e.cfg.MinClusterSize {
		ratio := float64(count) / float64(len(records))
		if ratio > e.cfg.TopicShareRatio {
			insights = append(insights, types.Insight{
				Kind:       types.InsightTopicPattern,
				Message:    fmt.Sprintf("Strong focus on '%s' topic: %d memories (%.1f%%)", topTopic, count, ratio*100),
				Confidence: math.Min(0.9, ratio*3),
				Importance: types.ImportanceLow,
				Data:       map[string]any{"top_topic": topTopic, "count": count, "ratio": ratio},
			})
		}
	}
	if topTag, count := topCount(tagCounts); count > 0 {
		ratio := float64(count) / float64(len(records))
		if ratio > e.cfg.TagShareRatio {
			insights = append(insights, types.Insight{
				Kind:       types.InsightTagPattern,
				Message:    fmt.Sprintf("Frequently used tag: '%s' appears in %.1f%% of memories", topTag, ratio*100),
				Confidence: math.Min(0.9, ratio*2),
				Importance: types.ImportanceLow,
				Data:       map[string]any{"top_tag": topTag, "count": count, "ratio": ratio},
			})
		}
	}
	return insights
}

func (e *Engine) temporalInsights(records []types.MemoryRecord) []types.Insight {
	hourCounts := map[int]int{}
	dayCounts := map[string]int{}
	for _, rec := range records {
		at := rec.CreatedAt.UTC()
		hourCounts[at.Hour()]++
		dayCounts[at.Weekday().String()]++
	}

	var insights []types.Insight
	peakHour, hourCount := topIntCount(hourCounts)
	if float64(hourCount) > float64(len(records))*e.cfg.PeakHourRatio {
		insights = append(insights, types.Insight{
			Kind:       types.InsightTemporalPattern,
			Message:    fmt.Sprintf("Peak memory creation time: %02d:00 with %d memories", peakHour, hourCount),
			Confidence: 0.8,
			Importance: types.ImportanceLow,
			Data:       map[string]any{"peak_hour": peakHour, "count": hourCount},
		})
	}
	peakDay, dayCount := topCount(dayCounts)
	if float64(dayCount) > float64(len(records))*e.cfg.PeakWeekdayRatio {
		insights = append(insights, types.Insight{
			Kind:       types.InsightTemporalPattern,
			Message:    fmt.Sprintf("Most active day: %s with %d memories", peakDay, dayCount),
			Confidence: 0.8,
			Importance: types.ImportanceLow,
			Data:       map[string]any{"peak_day": peakDay, "count": dayCount},
		})
	}
	return insights
}

func (e *Engine) contentInsights(records []types.MemoryRecord) []types.Insight {
	lengths := make([]float64, 0, len(records))
	words := 0
	for _, rec := range records {
		lengths = append(lengths, float64(len(rec.Text)))
		words += wordCount(rec.Text)
	}
	if len(lengths) == 0 {
		return nil
	}
	avgLength := mean(lengths)
	avgWords := float64(words) / float64(len(lengths))

	var insights []types.Insight
	switch {
	case avgLength > 500:
		insights = append(insights, types.Insight{
			Kind:       types.InsightContentPattern,
			Message:    fmt.Sprintf("Detailed memory entries: average %.0f characters per memory", avgLength),
			Confidence: math.Min(0.9, avgLength/1000),
			Importance: types.ImportanceLow,
			Data:       map[string]any{"avg_length": avgLength, "avg_words": avgWords},
		})
	case avgLength < 50:
		insights = append(insights, types.Insight{
			Kind:       types.InsightContentPattern,
			Message:    fmt.Sprintf("Brief memory entries: average only %.0f characters", avgLength),
			Confidence: 0.8,
			Importance: types.ImportanceLow,
			Data:       map[string]any{"avg_length": avgLength, "avg_words": avgWords},
		})
	}

	if len(lengths) >= e.cfg.MinSampleSize && avgLength > 0 {
		variability := stddev(lengths) / avgLength
		if variability > 1.0 {
			insights = append(insights, types.Insight{
				Kind:       types.InsightContentPattern,
				Message:    "High variability in memory detail levels",
				Confidence: math.Min(0.9, variability/2),
				Importance: types.ImportanceLow,
				Data:       map[string]any{"variability": variability, "std_dev": stddev(lengths)},
			})
		}
	}
	return insights
}

// gapInsights flags unusually long silences between successive records:
// more than the configured number of standard deviations above the mean gap
// and at least the configured minimum, reporting the bounding records.
func (e *Engine) gapInsights(records []types.MemoryRecord) []types.Insight {
	if len(records) < 3 {
		return nil
	}
	sorted := append([]types.MemoryRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].CreatedAt.Sub(sorted[i-1].CreatedAt).Hours())
	}
	meanGap := mean(gaps)
	sd := stddev(gaps)
	minHours := e.cfg.GapMinimum().Hours()

	var insights []types.Insight
	for i, gap := range gaps {
		if gap > meanGap+e.cfg.GapStdDevFactor*sd && gap >= minHours {
			before, after := sorted[i], sorted[i+1]
			insights = append(insights, types.Insight{
				Kind:       types.InsightGapPattern,
				Message:    fmt.Sprintf("Unusual gap in memory capture: %.0f hours of silence", gap),
				Confidence: 0.8,
				Importance: types.ImportanceHigh,
				Data: map[string]any{
					"gap_hours":      gap,
					"mean_gap_hours": meanGap,
					"before_id":      before.ID,
					"after_id":       after.ID,
				},
			})
		}
	}
	return insights
}

func emotionImportance(emotion string) types.ImportanceLevel {
	switch emotion {
	case "joy", "surprise":
		return types.ImportanceMedium
	case "sadness", "anger", "fear":
		return types.ImportanceHigh
	default:
		return types.ImportanceLow
	}
}

// trendSlope fits a least-squares line over values indexed 0..n-1.
func trendSlope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func wordCount(text string) int {
	inWord := false
	n := 0
	for _, r := range text {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			inWord = false
		case !inWord:
			inWord = true
			n++
		}
	}
	return n
}

// topCount returns the key with the highest count, ties broken by key order
// so results are deterministic.
func topCount(counts map[string]int) (string, int) {
	best, bestCount := "", 0
	for k, n := range counts {
		if n > bestCount || (n == bestCount && k < best) {
			best, bestCount = k, n
		}
	}
	return best, bestCount
}

func topIntCount(counts map[int]int) (int, int) {
	best, bestCount := 0, 0
	for k, n := range counts {
		if n > bestCount || (n == bestCount && k < best) {
			best, bestCount = k, n
		}
	}
	return best, bestCount
}
