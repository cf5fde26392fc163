package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	maxBannerWidth = 60
	defaultRows    = 15
)

// Model is the bubbletea scan view: a progress bar plus open ports as
// they are reported.
type Model struct {
	Host     string
	PortSpec string

	bar      progress.Model
	results  []ResultMsg
	progress ProgressMsg

	height   int
	done     bool
	quitting bool
	err      error
}

// NewModel returns an empty view for a scan of portSpec on host.
func NewModel(host, portSpec string) Model {
	return Model{
		Host:     host,
		PortSpec: portSpec,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

// Init implements tea.Model. The scan drives the view through Send, so there
// is no startup command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update applies scanner messages and key presses. Progress never moves
// backwards and the program quits on DoneMsg or q.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height
		if w := msg.Width - 20; w > 10 {
			m.bar.Width = w
		}

	case ResultMsg:
		m.results = append(m.results, msg)
		sort.Slice(m.results, func(i, j int) bool { return m.results[i].Port < m.results[j].Port })

	case ProgressMsg:
		// Stale milestones can arrive after newer ones.
		if msg.Completed >= m.progress.Completed {
			m.progress = msg
		}

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

// Quitting reports whether the user aborted the view.
func (m Model) Quitting() bool { return m.quitting }

// Results returns the open ports seen so far in port order.
func (m Model) Results() []ResultMsg { return m.results }

// View renders the header, the progress bar and the most recent open ports
// that fit the terminal height.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(styleHeader.Render("pythonmap"))
	b.WriteString(styleDim.Render(fmt.Sprintf("  %s  ports %s", m.Host, m.PortSpec)))
	b.WriteString("\n\n")

	b.WriteString(m.bar.ViewAs(m.progress.Percent / 100))
	b.WriteString(styleDim.Render(fmt.Sprintf("  %d/%d", m.progress.Completed, m.progress.Total)))
	b.WriteString("\n\n")

	b.WriteString(styleAccent.Render(fmt.Sprintf("%d open", len(m.results))))
	b.WriteString("\n")

	rows := m.results
	limit := defaultRows
	if m.height > 10 {
		limit = m.height - 10
	}
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	for _, r := range rows {
		b.WriteString(styleOpen.Render(fmt.Sprintf("%6d", r.Port)))
		b.WriteString("  ")
		b.WriteString(styleService.Render(fmt.Sprintf("%-16s", r.Service)))
		if r.Response != "" {
			b.WriteString(" ")
			b.WriteString(styleBanTxt.Render(truncate(firstLine(r.Response), maxBannerWidth)))
		}
		b.WriteString("\n")
	}

	switch {
	case m.err != nil:
		b.WriteString("\n" + styleErr.Render("error: "+m.err.Error()) + "\n")
	case m.done:
		b.WriteString("\n" + styleDim.Render("scan complete") + "\n")
	default:
		b.WriteString("\n" + styleDim.Render("q to quit") + "\n")
	}
	return b.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimRight(line, "\r")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
