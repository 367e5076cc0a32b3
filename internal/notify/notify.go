// Package notify turns ranked insights and direct pattern checks into
// user-facing notifications, applying the user's type, priority, quota and
// quiet-hours policy.
package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xiy/audiomem/internal/config"
	"github.com/xiy/audiomem/pkg/types"
)

// Notifier is stateless apart from its policy and clock; Generate and
// Filter are pure over their inputs given a fixed now.
type Notifier struct {
	cfg config.NotifyConfig
	now func() time.Time
}

func New(cfg config.NotifyConfig) *Notifier {
	return &Notifier{cfg: cfg, now: time.Now}
}

// Generate builds the unfiltered notification list: high and critical
// insights, a stress-spike check over the last day's records, and a
// goal-progress check over the last week's.
func (n *Notifier) Generate(insights []types.Insight, recentDay, recentWeek []types.MemoryRecord) []types.Notification {
	var out []types.Notification
	for _, in := range insights {
		if in.Importance == types.ImportanceHigh || in.Importance == types.ImportanceCritical {
			out = append(out, n.fromInsight(in))
		}
	}
	if alert, ok := n.stressAlert(recentDay); ok {
		out = append(out, alert)
	}
	if progress, ok := n.goalProgress(recentWeek); ok {
		out = append(out, progress)
	}
	return n.Filter(out, n.now().Hour())
}

// fromInsight schedules the notification a few minutes out so it can be
// coalesced with others from the same generation run.
func (n *Notifier) fromInsight(in types.Insight) types.Notification {
	priority := types.PriorityHigh
	if in.Importance == types.ImportanceCritical {
		priority = types.PriorityUrgent
	}
	var ids []string
	for _, key := range []string{"before_id", "after_id"} {
		if id, ok := in.Data[key].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return types.Notification{
		ID:            uuid.NewString(),
		Type:          types.NotifyInsight,
		Title:         fmt.Sprintf("Insight: %s", in.Kind),
		Message:       in.Message,
		Priority:      priority,
		ScheduledTime: n.now().Add(5 * time.Minute),
		MemoryIDs:     ids,
	}
}

// stressAlert fires when the average stress estimate over the last day's
// records exceeds the threshold, referencing the most recent records.
func (n *Notifier) stressAlert(recs []types.MemoryRecord) (types.Notification, bool) {
	if len(recs) == 0 {
		return types.Notification{}, false
	}
	var sum float64
	for _, rec := range recs {
		sum += rec.MetadataFloat("stress_score", 0.5)
	}
	avg := sum / float64(len(recs))
	if avg <= n.cfg.HighStress {
		return types.Notification{}, false
	}

	ids := make([]string, 0, n.cfg.StressAlertIDs)
	start := len(recs) - n.cfg.StressAlertIDs
	if start < 0 {
		start = 0
	}
	for _, rec := range recs[start:] {
		ids = append(ids, rec.ID)
	}
	return types.Notification{
		ID:            uuid.NewString(),
		Type:          types.NotifyPatternAlert,
		Title:         "High Stress Day Detected",
		Message:       fmt.Sprintf("Your stress levels have been elevated today (avg: %.0f%%). Consider taking a break.", avg*100),
		Priority:      types.PriorityHigh,
		ScheduledTime: n.now(),
		MemoryIDs:     ids,
	}, true
}

// goalProgress fires on a week with enough records and a high average
// engagement, referencing the best moments.
func (n *Notifier) goalProgress(recs []types.MemoryRecord) (types.Notification, bool) {
	if len(recs) < n.cfg.GoalMinRecords {
		return types.Notification{}, false
	}
	var sum float64
	for _, rec := range recs {
		sum += rec.MetadataFloat("engagement_level", 0.5)
	}
	avg := sum / float64(len(recs))
	if avg <= 0.75 {
		return types.Notification{}, false
	}

	var ids []string
	for _, rec := range recs {
		if rec.MetadataFloat("engagement_level", 0) > n.cfg.HighEngagement {
			ids = append(ids, rec.ID)
		}
	}
	return types.Notification{
		ID:            uuid.NewString(),
		Type:          types.NotifyGoalProgress,
		Title:         "Great Engagement This Week",
		Message:       fmt.Sprintf("You've maintained %.0f%% average engagement. Keep it up!", avg*100),
		Priority:      types.PriorityMedium,
		ScheduledTime: n.now(),
		MemoryIDs:     ids,
	}, true
}

// Filter applies the user policy in order: enabled types, priority
// threshold, per-period cap, then quiet hours. During quiet hours only
// urgent notifications pass.
func (n *Notifier) Filter(notifications []types.Notification, hour int) []types.Notification {
	enabled := map[string]bool{}
	for _, t := range n.cfg.EnabledTypes {
		enabled[t] = true
	}
	threshold := types.NotificationPriority(n.cfg.PriorityThreshold).Rank()

	kept := make([]types.Notification, 0, len(notifications))
	for _, note := range notifications {
		if len(enabled) > 0 && !enabled[string(note.Type)] {
			continue
		}
		if note.Priority.Rank() < threshold {
			continue
		}
		kept = append(kept, note)
	}

	if len(kept) > n.cfg.MaxPerPeriod {
		kept = kept[:n.cfg.MaxPerPeriod]
	}

	if inQuietHours(hour, n.cfg.QuietStartHour, n.cfg.QuietEndHour) {
		urgent := kept[:0]
		for _, note := range kept {
			if note.Priority == types.PriorityUrgent {
				urgent = append(urgent, note)
			}
		}
		kept = urgent
	}
	return kept
}

// inQuietHours reports whether hour falls inside [start, end), handling
// windows that wrap past midnight.
func inQuietHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
