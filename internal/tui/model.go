// Package tui is an interactive question/answer view over an indexed document.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docrag/internal/domain"
	"docrag/internal/textutil"
)

// Asker is the TUI-facing subset of the RAG service.
type Asker interface {
	Query(ctx context.Context, req domain.QueryRequest) (*domain.Answer, error)
}

// answerMsg carries the result of an asynchronous query back into Update.
type answerMsg struct {
	question string
	answer   *domain.Answer
	err      error
}

// Model is the Bubble Tea model for the question/answer view.
type Model struct {
	asker    Asker
	timeout  time.Duration
	input    textinput.Model
	viewport viewport.Model
	title    string
	summary  string
	status   string
	busy     bool
	ready    bool

	question string
	answer   *domain.Answer
	cursor   int
}

// New creates a model asking questions through asker. title and summary are
// shown above the answer pane; timeout bounds each question (0 means none).
func New(asker Asker, title, summary string, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "? "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		asker:    asker,
		timeout:  timeout,
		input:    ti,
		viewport: viewport.New(0, 0),
		title:    title,
		summary:  summary,
		status:   "Indexed. Ask away.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, resize and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ah := answerBoxStyle.GetFrameSize()
		_, qh := questionBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // title+summary, status, input box, spacer
		vh := msg.Height - reserved - ah
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.question = msg.question
		m.answer = msg.answer
		m.cursor = 0
		m.status = fmt.Sprintf("%d source(s) for %q", len(msg.answer.Sources), msg.question)
		m.viewport.SetContent(m.renderAnswer())
		m.viewport.GotoTop()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Thinking..."
			m.input.SetValue("")
			return m, m.ask(q)
		case "tab", "down":
			if m.sourceCount() > 0 {
				m.cursor = (m.cursor + 1) % m.sourceCount()
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "shift+tab", "up":
			if n := m.sourceCount(); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(question string) tea.Cmd {
	asker, timeout := m.asker, m.timeout
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		ans, err := asker.Query(ctx, domain.QueryRequest{Question: question})
		return answerMsg{question: question, answer: ans, err: err}
	}
}

func (m Model) sourceCount() int {
	if m.answer == nil {
		return 0
	}
	return len(m.answer.Sources)
}

// View renders the layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render(m.title)
	summary := mutedStyle.Render(m.summary)
	body := answerBoxStyle.Render(m.viewport.View())
	input := questionBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + summary + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) renderAnswer() string {
	if m.answer == nil {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(m.answer.Answer)
	if len(m.answer.Sources) == 0 {
		return b.String()
	}
	src := m.answer.Sources[m.cursor]
	fmt.Fprintf(&b, "\n\n%s\n", mutedStyle.Render(fmt.Sprintf(
		"Source %d/%d  page %d line %d  %d%%  score=%.3f",
		m.cursor+1, len(m.answer.Sources), src.Page, src.Line, src.Percentage, src.Score)))
	b.WriteString(highlightBestSentence(src.Text, m.question))
	for _, r := range src.Related {
		fmt.Fprintf(&b, "\n  %s %s", mutedStyle.Render(fmt.Sprintf("[Page %d, Line %d]", r.Page, r.Line)), r.Text)
	}
	return b.String()
}

var (
	titleStyle       = lipgloss.NewStyle().Bold(true)
	mutedStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	answerBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// highlightBestSentence emphasises the sentence of text sharing the most
// non-stopword tokens with question.
func highlightBestSentence(text, question string) string {
	sentences := textutil.Sentences(text)
	if len(sentences) == 0 {
		return text
	}
	want := make(map[string]struct{})
	for _, t := range textutil.Tokens(question) {
		want[t] = struct{}{}
	}
	if len(want) == 0 {
		return strings.Join(sentences, " ")
	}
	best, bestScore := 0, -1
	for i, s := range sentences {
		if score := overlap(want, s); score > bestScore {
			best, bestScore = i, score
		}
	}
	sentences[best] = highlightStyle.Render(sentences[best])
	return strings.Join(sentences, " ")
}

func overlap(want map[string]struct{}, sentence string) int {
	seen := make(map[string]struct{})
	score := 0
	for _, t := range textutil.Tokens(sentence) {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := want[t]; ok {
			score++
		}
	}
	return score
}
