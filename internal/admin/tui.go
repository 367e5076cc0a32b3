package admin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xiy/audiomem/internal/store"
	"github.com/xiy/audiomem/pkg/types"
)

type tickMsg time.Time
type dashboardMsg struct {
	stats    store.Stats
	events   []store.EventLog
	memories []types.MemoryRecord
	err      error
	duration time.Duration
}

type dashboardStore interface {
	Stats(ctx context.Context, now time.Time) (store.Stats, error)
	RecentEventLogs(ctx context.Context, limit int) ([]store.EventLog, error)
	List(ctx context.Context, limit, offset int) ([]types.MemoryRecord, error)
}

type model struct {
	ctx           context.Context
	st            dashboardStore
	stats         store.Stats
	events        []store.EventLog
	memories      []types.MemoryRecord
	lastErr       error
	lastTick      time.Time
	logLines      []string
	maxLogs       int
	eventsLimit   int
	memoriesLimit int
	width         int
	height        int
}

// Run starts a lightweight local admin dashboard.
func Run(ctx context.Context, st dashboardStore) error {
	m := model{
		ctx:           ctx,
		st:            st,
		maxLogs:       10,
		eventsLimit:   8,
		memoriesLimit: 8,
	}
	m = m.appendLog("admin UI started")
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchDashboardCmd(m.ctx, m.st, m.eventsLimit, m.memoriesLimit), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m = m.appendLog("received quit signal")
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.lastTick = time.Time(msg)
		return m, tea.Batch(fetchDashboardCmd(m.ctx, m.st, m.eventsLimit, m.memoriesLimit), tickCmd())
	case dashboardMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.events = msg.events
			m.memories = msg.memories
			m = m.appendLog(fmt.Sprintf(
				"refresh ok total=%d week=%d events=%d mem=%d (%s)",
				msg.stats.Total,
				msg.stats.RecentWeek,
				len(msg.events),
				len(msg.memories),
				formatDuration(msg.duration),
			))
		} else {
			m = m.appendLog(fmt.Sprintf("refresh error: %v", msg.err))
		}
	}
	return m, nil
}

func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render("audiomemd admin")
	meta := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("q to quit • refresh every 2s")

	logBody := "(no log events yet)"
	if len(m.logLines) > 0 {
		logBody = strings.Join(m.logLines, "\n")
	}

	paneWidth := 54
	if m.width > 0 {
		paneWidth = max(38, (m.width-3)/2)
	}
	paneHeight := 9
	if m.height > 0 {
		paneHeight = max(8, (m.height-8)/2)
	}

	topRow := joinColumns(
		renderPane("Stats", m.renderStats(), paneWidth, paneHeight),
		renderPane("Emotions", formatEmotionPane(m.stats), paneWidth, paneHeight),
	)
	bottomRow := joinColumns(
		renderPane("Pipeline Events", formatEventPane(m.events), paneWidth, paneHeight),
		renderPane("Recent Memories", formatMemoriesPane(m.memories), paneWidth, paneHeight),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		meta,
		"",
		topRow,
		bottomRow,
		renderPane("General Logs", logBody, paneWidth*2+1, 0),
	)
}

func (m model) renderStats() string {
	body := fmt.Sprintf(
		"Total memories:  %d\nAvg importance:  %.2f\nLast 7 days:     %d\nLast refresh:    %s",
		m.stats.Total,
		m.stats.AverageImportance,
		m.stats.RecentWeek,
		formatTime(m.lastTick),
	)
	if m.lastErr != nil {
		body += "\n\nLast error: " + truncateText(compactWhitespace(m.lastErr.Error()), 120)
	}
	return body
}

func fetchDashboardCmd(ctx context.Context, st dashboardStore, eventLimit, memLimit int) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		now := time.Now().UTC()
		s, err := st.Stats(ctx, now)
		if err != nil {
			return dashboardMsg{err: err, duration: time.Since(start)}
		}

		events, err := st.RecentEventLogs(ctx, eventLimit)
		if err != nil {
			return dashboardMsg{stats: s, err: err, duration: time.Since(start)}
		}

		memories, err := st.List(ctx, memLimit, 0)
		if err != nil {
			return dashboardMsg{stats: s, events: events, err: err, duration: time.Since(start)}
		}

		return dashboardMsg{
			stats:    s,
			events:   events,
			memories: memories,
			duration: time.Since(start),
		}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func (m model) appendLog(line string) model {
	if strings.TrimSpace(line) == "" {
		return m
	}
	entry := fmt.Sprintf("[%s] %s", time.Now().UTC().Format("15:04:05"), line)
	m.logLines = append(m.logLines, entry)
	if m.maxLogs <= 0 {
		m.maxLogs = 10
	}
	if len(m.logLines) > m.maxLogs {
		m.logLines = m.logLines[len(m.logLines)-m.maxLogs:]
	}
	return m
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(10 * time.Millisecond).String()
}

func renderPane(title, body string, width, height int) string {
	style := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
	if width > 0 {
		style = style.Width(width)
	}
	if height > 0 {
		style = style.Height(height)
	}
	return style.Render(title + "\n\n" + body)
}

func joinColumns(left, right string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

// formatEmotionPane renders the emotion distribution as proportional bars.
func formatEmotionPane(s store.Stats) string {
	if len(s.EmotionDistribution) == 0 {
		return "(no memories yet)"
	}
	type row struct {
		emotion string
		count   int64
	}
	rows := make([]row, 0, len(s.EmotionDistribution))
	var maxCount int64
	for emotion, count := range s.EmotionDistribution {
		rows = append(rows, row{emotion, count})
		if count > maxCount {
			maxCount = count
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].emotion < rows[j].emotion
	})

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		barLen := int(r.count * 24 / maxCount)
		if barLen < 1 {
			barLen = 1
		}
		lines = append(lines, fmt.Sprintf("%-10s %s %d",
			truncateText(r.emotion, 10), strings.Repeat("█", barLen), r.count))
	}
	return strings.Join(lines, "\n")
}

func formatEventPane(rows []store.EventLog) string {
	if len(rows) == 0 {
		return "(no pipeline events yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		line := fmt.Sprintf(
			"[%s] %-24s %s",
			formatClock(row.CreatedAt),
			truncateText(row.Type, 24),
			truncateText(row.MemoryID, 12),
		)
		if strings.TrimSpace(row.Detail) != "" {
			line += " " + truncateText(compactWhitespace(row.Detail), 32)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatMemoriesPane(rows []types.MemoryRecord) string {
	if len(rows) == 0 {
		return "(no memories yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		kind := "T"
		if row.SourceKind == types.SourceAudio {
			kind = "A"
		}
		text := truncateText(compactWhitespace(row.Text), 56)
		line := fmt.Sprintf(
			"[%s] %s %-8s :: %s",
			formatClock(row.CreatedAt),
			kind,
			truncateText(row.Emotion, 8),
			text,
		)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.UTC().Format("15:04:05")
}

func truncateText(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

func compactWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
