package insight

import (
	"sort"

	"github.com/xiy/audiomem/pkg/types"
)

// kindWeights is the explicit kind preference table used by the composite
// ranking score. Warnings about lost capture and importance outrank the
// descriptive pattern kinds.
var kindWeights = map[types.InsightKind]float64{
	types.InsightGapPattern:        1.0,
	types.InsightImportancePattern: 0.9,
	types.InsightEmotionTrend:      0.9,
	types.InsightActivityTrend:     0.8,
	types.InsightImportanceTrend:   0.8,
	types.InsightEmotionPattern:    0.7,
	types.InsightActivityPattern:   0.7,
	types.InsightTopicPattern:      0.7,
	types.InsightTagPattern:        0.7,
	types.InsightTemporalPattern:   0.7,
	types.InsightContentPattern:    0.7,
}

func kindWeight(kind types.InsightKind) float64 {
	if w, ok := kindWeights[kind]; ok {
		return w
	}
	return 0.5
}

// Score is the composite ranking value for one insight.
func Score(in types.Insight) float64 {
	return in.Importance.Weight() * kindWeight(in.Kind) * in.Confidence
}

// Rank filters out low-confidence insights, caps each kind and sorts the
// remainder by descending composite score.
func (e *Engine) Rank(insights []types.Insight) []types.Insight {
	byKind := map[types.InsightKind][]types.Insight{}
	for _, in := range insights {
		if in.Confidence < e.cfg.MinConfidence {
			continue
		}
		byKind[in.Kind] = append(byKind[in.Kind], in)
	}

	var kept []types.Insight
	for _, group := range byKind {
		sort.SliceStable(group, func(i, j int) bool { return group[i].Confidence > group[j].Confidence })
		if len(group) > e.cfg.MaxPerKind {
			group = group[:e.cfg.MaxPerKind]
		}
		kept = append(kept, group...)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		si, sj := Score(kept[i]), Score(kept[j])
		if si != sj {
			return si > sj
		}
		return kept[i].Kind < kept[j].Kind
	})
	return kept
}
