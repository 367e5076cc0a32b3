package notify

import (
	"fmt"
	"testing"
	"time"

	"github.com/xiy/audiomem/internal/config"
	"github.com/xiy/audiomem/pkg/types"
)

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestNotifier(cfg config.NotifyConfig) *Notifier {
	n := New(cfg)
	n.now = func() time.Time { return noon }
	return n
}

func defaultNotifier() *Notifier {
	return newTestNotifier(config.Default().Notify)
}

func stressRecord(id string, stress float64) types.MemoryRecord {
	return types.MemoryRecord{
		ID:       id,
		Text:     "x",
		Metadata: map[string]any{"stress_score": stress},
	}
}

func engagementRecord(id string, engagement float64) types.MemoryRecord {
	return types.MemoryRecord{
		ID:       id,
		Text:     "x",
		Metadata: map[string]any{"engagement_level": engagement},
	}
}

func TestQuietHoursWraparound(t *testing.T) {
	t.Parallel()

	// Quiet window [22, 7) crossing midnight.
	cases := []struct {
		hour int
		want bool
	}{
		{23, true},
		{2, true},
		{22, true},
		{7, false},
		{10, false},
		{21, false},
	}
	for _, tc := range cases {
		if got := inQuietHours(tc.hour, 22, 7); got != tc.want {
			t.Errorf("inQuietHours(%d, 22, 7) = %v, want %v", tc.hour, got, tc.want)
		}
	}

	// Non-wrapping window.
	if inQuietHours(5, 9, 17) {
		t.Error("hour 5 should be outside [9, 17)")
	}
	if !inQuietHours(9, 9, 17) {
		t.Error("hour 9 should be inside [9, 17)")
	}
}

func TestFilterQuietHoursOnlyUrgentPasses(t *testing.T) {
	t.Parallel()
	n := defaultNotifier()

	notes := []types.Notification{
		{Type: types.NotifyInsight, Priority: types.PriorityHigh},
		{Type: types.NotifyInsight, Priority: types.PriorityUrgent},
	}

	// High at 23:00 suppressed, urgent at 02:00 delivered.
	got := n.Filter(notes, 23)
	if len(got) != 1 || got[0].Priority != types.PriorityUrgent {
		t.Errorf("at hour 23 got %v, want only the urgent notification", got)
	}
	got = n.Filter(notes, 2)
	if len(got) != 1 || got[0].Priority != types.PriorityUrgent {
		t.Errorf("at hour 2 got %v, want only the urgent notification", got)
	}

	// High at 10:00 delivered.
	got = n.Filter(notes, 10)
	if len(got) != 2 {
		t.Errorf("at hour 10 got %d notifications, want 2", len(got))
	}
}

func TestFilterPriorityThresholdAndTypes(t *testing.T) {
	t.Parallel()
	cfg := config.Default().Notify
	cfg.EnabledTypes = []string{"insight"}
	cfg.PriorityThreshold = "high"
	n := newTestNotifier(cfg)

	notes := []types.Notification{
		{Type: types.NotifyInsight, Priority: types.PriorityHigh},
		{Type: types.NotifyInsight, Priority: types.PriorityMedium},
		{Type: types.NotifyGoalProgress, Priority: types.PriorityUrgent},
	}
	got := n.Filter(notes, 12)
	if len(got) != 1 || got[0].Type != types.NotifyInsight || got[0].Priority != types.PriorityHigh {
		t.Errorf("filtered = %v, want the single high insight", got)
	}
}

func TestFilterCapsPerPeriod(t *testing.T) {
	t.Parallel()
	cfg := config.Default().Notify
	cfg.MaxPerPeriod = 3
	n := newTestNotifier(cfg)

	var notes []types.Notification
	for i := 0; i < 6; i++ {
		notes = append(notes, types.Notification{Type: types.NotifyInsight, Priority: types.PriorityHigh})
	}
	if got := n.Filter(notes, 12); len(got) != 3 {
		t.Errorf("kept %d notifications, want capped at 3", len(got))
	}
}

func TestGenerateFromHighInsights(t *testing.T) {
	t.Parallel()
	n := defaultNotifier()

	insights := []types.Insight{
		{Kind: types.InsightGapPattern, Message: "long silence", Importance: types.ImportanceHigh,
			Data: map[string]any{"before_id": "a", "after_id": "b"}},
		{Kind: types.InsightContentPattern, Message: "brief entries", Importance: types.ImportanceLow},
	}

	got := n.Generate(insights, nil, nil)
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1 (low importance skipped)", len(got))
	}
	note := got[0]
	if note.Type != types.NotifyInsight || note.Priority != types.PriorityHigh {
		t.Errorf("note = %+v", note)
	}
	if note.Message != "long silence" {
		t.Errorf("message = %q", note.Message)
	}
	if len(note.MemoryIDs) != 2 || note.MemoryIDs[0] != "a" || note.MemoryIDs[1] != "b" {
		t.Errorf("memory ids = %v, want bounding records", note.MemoryIDs)
	}
	if want := noon.Add(5 * time.Minute); !note.ScheduledTime.Equal(want) {
		t.Errorf("scheduled = %v, want %v", note.ScheduledTime, want)
	}
}

func TestStressAlert(t *testing.T) {
	t.Parallel()
	n := defaultNotifier()

	var recs []types.MemoryRecord
	for i := 0; i < 8; i++ {
		recs = append(recs, stressRecord(fmt.Sprintf("m%d", i), 0.9))
	}

	got := n.Generate(nil, recs, nil)
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	note := got[0]
	if note.Type != types.NotifyPatternAlert || note.Priority != types.PriorityHigh {
		t.Errorf("note = %+v", note)
	}
	if len(note.MemoryIDs) != 5 || note.MemoryIDs[0] != "m3" {
		t.Errorf("memory ids = %v, want the 5 most recent", note.MemoryIDs)
	}

	// Calm day produces nothing.
	calm := []types.MemoryRecord{stressRecord("a", 0.2), stressRecord("b", 0.3)}
	if got := n.Generate(nil, calm, nil); len(got) != 0 {
		t.Errorf("calm day produced %v", got)
	}
}

func TestGoalProgress(t *testing.T) {
	t.Parallel()
	n := defaultNotifier()

	var recs []types.MemoryRecord
	for i := 0; i < 10; i++ {
		recs = append(recs, engagementRecord(fmt.Sprintf("m%d", i), 0.85))
	}

	got := n.Generate(nil, nil, recs)
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	note := got[0]
	if note.Type != types.NotifyGoalProgress || note.Priority != types.PriorityMedium {
		t.Errorf("note = %+v", note)
	}
	if len(note.MemoryIDs) != 10 {
		t.Errorf("memory ids = %d, want every record above the engagement bar", len(note.MemoryIDs))
	}

	// Too few records for the week: no claim about progress.
	if got := n.Generate(nil, nil, recs[:5]); len(got) != 0 {
		t.Errorf("short week produced %v", got)
	}
}
