package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Watch runs a live dashboard over the audit log, polling
// /settle/recent and /settle/stats.
func Watch() error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := NewAPIClient(config.API.Endpoint, "")
	model := newWatchModel(client, config.API.Endpoint, config.Defaults.WatchInterval)

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}

type watchTickMsg time.Time

type watchDataMsg struct {
	stats *SettlementStats
	rows  []TransactionSummary
	err   error
}

// watchModel is the Bubble Tea model for the watch command
type watchModel struct {
	client   *APIClient
	endpoint string
	interval time.Duration

	table    table.Model
	stats    *SettlementStats
	pollErr  error
	lastPoll time.Time
	width    int
	height   int
}

func newWatchModel(client *APIClient, endpoint string, interval time.Duration) watchModel {
	columns := []table.Column{
		{Title: "AGE", Width: 6},
		{Title: "STATUS", Width: 8},
		{Title: "AMOUNT", Width: 14},
		{Title: "TOKEN", Width: 6},
		{Title: "NETWORK", Width: 13},
		{Title: "PROTOCOL", Width: 8},
		{Title: "DETAIL", Width: 30},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Bold(true).
		Foreground(lipgloss.Color("#00D4AA")).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#555555")).
		BorderBottom(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#004D40")).
		Bold(false)
	t.SetStyles(styles)

	return watchModel{
		client:   client,
		endpoint: endpoint,
		interval: interval,
		table:    t,
	}
}

// Init starts the first poll and the refresh ticker
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), watchTick(m.interval))
}

func watchTick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) poll() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		stats, err := client.SettlementStats()
		if err != nil {
			return watchDataMsg{err: err}
		}
		rows, err := client.RecentSettlements(DefaultRecentLimit)
		if err != nil {
			return watchDataMsg{err: err}
		}
		return watchDataMsg{stats: stats, rows: rows}
	}
}

// Update handles messages
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.poll()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(msg.Height-9, 4))

	case watchTickMsg:
		return m, tea.Batch(m.poll(), watchTick(m.interval))

	case watchDataMsg:
		m.lastPoll = time.Now()
		m.pollErr = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.table.SetRows(watchRows(msg.rows))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the dashboard
func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Tollgate Settlements"))
	b.WriteString("\n")
	b.WriteString(infoStyle.Render(m.endpoint))
	b.WriteString("\n\n")

	b.WriteString(m.statsLine())
	b.WriteString("\n\n")

	b.WriteString(m.table.View())
	b.WriteString("\n\n")

	if m.pollErr != nil {
		b.WriteString(errorStyle.Render("poll failed: " + m.pollErr.Error()))
		b.WriteString("\n")
	}

	footer := "q quit · r refresh"
	if !m.lastPoll.IsZero() {
		footer += " · updated " + m.lastPoll.Format("15:04:05")
	}
	b.WriteString(infoStyle.Render(footer))
	b.WriteString("\n")

	return b.String()
}

func (m watchModel) statsLine() string {
	if m.stats == nil {
		return infoStyle.Render("waiting for first poll…")
	}
	return fmt.Sprintf("total %s   success %s   failed %s   pending %s   fees %s",
		headerStyle.Render(fmt.Sprintf("%d", m.stats.TotalTransactions)),
		successStyle.Render(fmt.Sprintf("%d", m.stats.Succeeded)),
		errorStyle.Render(fmt.Sprintf("%d", m.stats.Failed)),
		warningStyle.Render(fmt.Sprintf("%d", m.stats.Pending)),
		headerStyle.Render(m.stats.FeesCollected))
}

// watchRows converts audit rows into table rows. Cells stay unstyled so
// the table's width math holds.
func watchRows(rows []TransactionSummary) []table.Row {
	out := make([]table.Row, 0, len(rows))
	for _, tx := range rows {
		out = append(out, table.Row{
			formatAge(tx.CreatedAt),
			tx.Status,
			tx.Amount,
			tx.Symbol,
			tx.Network,
			tx.Protocol,
			settlementDetail(tx),
		})
	}
	return out
}
