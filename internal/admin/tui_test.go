package admin

import (
	"strings"
	"testing"
	"time"

	"github.com/xiy/audiomem/internal/store"
	"github.com/xiy/audiomem/pkg/types"
)

func TestFormatEmotionPane(t *testing.T) {
	t.Parallel()

	s := store.Stats{EmotionDistribution: map[string]int64{"joy": 6, "sadness": 2}}
	got := formatEmotionPane(s)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "joy") {
		t.Errorf("first line = %q, want joy first (highest count)", lines[0])
	}
	if !strings.Contains(lines[0], "6") || !strings.Contains(lines[1], "2") {
		t.Errorf("counts missing from %q", got)
	}

	if got := formatEmotionPane(store.Stats{}); got != "(no memories yet)" {
		t.Errorf("empty stats pane = %q", got)
	}
}

func TestFormatMemoriesPane(t *testing.T) {
	t.Parallel()

	rows := []types.MemoryRecord{
		{
			Text:       "a long walk and a short talk",
			Emotion:    "calm",
			SourceKind: types.SourceAudio,
			CreatedAt:  time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		},
	}
	got := formatMemoriesPane(rows)
	if !strings.Contains(got, "09:30:00") || !strings.Contains(got, " A ") || !strings.Contains(got, "calm") {
		t.Errorf("pane = %q", got)
	}
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	if got := truncateText("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncateText("a very long piece of text", 10); got != "a very ..." {
		t.Errorf("got %q", got)
	}
}
