package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ratechat-backend/internal/models"
)

// Sender is the TUI-facing subset of Client.
type Sender interface {
	Send(ctx context.Context, threadID string, messages []models.IncomingMessage, fn func(Event) error) error
}

type streamItem struct {
	event Event
	done  bool
	err   error
}

type streamEventMsg struct {
	event Event
	next  <-chan streamItem
}

type streamDoneMsg struct{ err error }

// Model is the Bubble Tea model of the chat client.
type Model struct {
	client   Sender
	threadID string
	samples  []string

	ctx    context.Context
	cancel context.CancelFunc

	transcript Transcript
	input      textinput.Model
	viewport   viewport.Model
	spinner    spinner.Model

	sampleIdx int
	selected  int // position in transcript.WithCitations(), -1 for none
	status    string
	busy      bool
	ready     bool
}

// New creates a chat model. threadID may be empty to use the server default.
func New(client Sender, threadID string, samples []string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about utility rates..."
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		client:   client,
		threadID: threadID,
		samples:  samples,
		ctx:      ctx,
		cancel:   cancel,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		selected: -1,
		status:   "Tab: sample question  Enter: send  Up/Down: pick answer  Ctrl+O: sources",
	}
}

func (m Model) Init() tea.Cmd { return tea.Batch(textinput.Blink, m.spinner.Tick) }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := boxStyle.GetFrameSize()
		reserved := 1 + 1 + bh + 1 // header, status, input box with frame, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh(true)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.cancel()
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyTab:
			if len(m.samples) > 0 && !m.busy {
				m.input.SetValue(m.samples[m.sampleIdx])
				m.input.CursorEnd()
				m.sampleIdx = (m.sampleIdx + 1) % len(m.samples)
			}
			return m, nil
		case tea.KeyUp, tea.KeyDown:
			m.moveSelection(msg.Type == tea.KeyDown)
			m.refresh(false)
			return m, nil
		case tea.KeyCtrlO:
			if i, ok := m.selectedEntry(); ok {
				m.transcript.Entries[i].Expanded = !m.transcript.Entries[i].Expanded
				m.refresh(false)
			}
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case streamEventMsg:
		if msg.event.Type == "ai" && strings.TrimSpace(msg.event.Content) == "" && msg.event.Error == "" {
			m.status = "Searching utility rate data..."
		}
		if m.transcript.Apply(msg.event) {
			if cited := m.transcript.WithCitations(); len(cited) > 0 {
				m.selected = len(cited) - 1
			}
		}
		m.refresh(true)
		return m, waitFor(msg.next)

	case streamDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.status = "Ready."
		}
		m.refresh(true)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.busy {
			m.refresh(false)
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("Utility Rate Assistant")
	body := boxStyle.Render(m.viewport.View())
	input := boxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.input.Value())
	if q == "" || m.busy {
		return m, nil
	}
	messages := m.transcript.Messages(q)
	m.transcript.AddUser(q)
	m.input.Reset()
	m.busy = true
	m.status = "Assistant is typing..."
	m.refresh(true)
	return m, send(m.ctx, m.client, m.threadID, messages)
}

// send starts the request in the background; events arrive one Cmd at a time.
func send(ctx context.Context, client Sender, threadID string, messages []models.IncomingMessage) tea.Cmd {
	return func() tea.Msg {
		ch := make(chan streamItem, 16)
		go func() {
			defer close(ch)
			err := client.Send(ctx, threadID, messages, func(ev Event) error {
				select {
				case ch <- streamItem{event: ev}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			select {
			case ch <- streamItem{done: true, err: err}:
			case <-ctx.Done():
			}
		}()
		return waitFor(ch)()
	}
}

func waitFor(ch <-chan streamItem) tea.Cmd {
	return func() tea.Msg {
		item, ok := <-ch
		if !ok {
			return streamDoneMsg{}
		}
		if item.done {
			return streamDoneMsg{err: item.err}
		}
		return streamEventMsg{event: item.event, next: ch}
	}
}

func (m *Model) moveSelection(down bool) {
	cited := m.transcript.WithCitations()
	if len(cited) == 0 {
		m.selected = -1
		return
	}
	switch {
	case m.selected < 0:
		m.selected = len(cited) - 1
	case down:
		m.selected = (m.selected + 1) % len(cited)
	default:
		m.selected = (m.selected - 1 + len(cited)) % len(cited)
	}
}

func (m Model) selectedEntry() (int, bool) {
	cited := m.transcript.WithCitations()
	if m.selected < 0 || m.selected >= len(cited) {
		return 0, false
	}
	return cited[m.selected], true
}

func (m *Model) refresh(follow bool) {
	m.viewport.SetContent(m.renderTranscript())
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m Model) renderTranscript() string {
	if len(m.transcript.Entries) == 0 && !m.busy {
		return m.renderSamples()
	}
	width := max(10, m.viewport.Width-2)
	selected, hasSelection := m.selectedEntry()

	var b strings.Builder
	for i, e := range m.transcript.Entries {
		switch e.Role {
		case models.RoleUser:
			b.WriteString(userStyle.Render("You: "))
		case models.RoleAssistant:
			b.WriteString(assistantStyle.Render("Assistant: "))
		case models.RoleSystem, models.RoleTool:
			b.WriteString(errorStyle.Render("! "))
		}
		b.WriteString(lipgloss.NewStyle().Width(width).Render(e.Content))
		b.WriteString("\n")

		if len(e.Citations) > 0 {
			marker := "  "
			if hasSelection && selected == i {
				marker = selectedStyle.Render("> ")
			}
			b.WriteString(marker + dimStyle.Render(fmt.Sprintf("View Sources (%d)", len(e.Citations))) + "\n")
			if e.Expanded {
				b.WriteString(renderCitations(e.Citations, width))
			}
		}
		b.WriteString("\n")
	}
	if m.busy {
		b.WriteString(m.spinner.View() + " " + dimStyle.Render("Assistant is typing..."))
	}
	return b.String()
}

func (m Model) renderSamples() string {
	if len(m.samples) == 0 {
		return "Ask a question about U.S. utility rates."
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("Suggested Questions") + dimStyle.Render("  (Tab to use)") + "\n\n")
	for _, q := range m.samples {
		b.WriteString("  * " + q + "\n")
	}
	return b.String()
}

func renderCitations(citations []Citation, width int) string {
	var b strings.Builder
	for i, c := range citations {
		title := c.SourceID
		if title == "" {
			title = "source"
		}
		b.WriteString(fmt.Sprintf("    [%d] %s\n", i+1, title))
		b.WriteString(citationStyle.Width(max(10, width-6)).Render(snippet(c.Text, 240)) + "\n")
		if c.URI != "" {
			b.WriteString("      " + linkStyle.Render(c.URI) + "\n")
		}
	}
	return b.String()
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

var (
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	selectedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	citationStyle  = lipgloss.NewStyle().PaddingLeft(6).Foreground(lipgloss.Color("7"))
	linkStyle      = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("4"))
)
