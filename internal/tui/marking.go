// Package tui implements the interactive marking screen. The model walks
// the catalog, records decisions into the session state and hands control
// back to the CLI once the operator confirms a save.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"checkline/internal/catalog"
	"checkline/internal/domain"
	"checkline/internal/session"
)

type mode int

const (
	modeList mode = iota
	modeExplain
	modeNotes
	modeName
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// Model is the bubbletea model for a marking session.
type Model struct {
	Catalog *catalog.Catalog
	State   *session.MarkingState

	groups []catalog.SectionGroup
	order  []domain.Control

	cursor  int
	mode    mode
	input   textinput.Model
	errText string

	name      string
	submitted bool
	quit      bool
}

// NewModel builds the marking screen over a loaded catalog and session.
func NewModel(cat *catalog.Catalog, state *session.MarkingState) *Model {
	ti := textinput.New()
	ti.CharLimit = 200
	groups := cat.GroupBySection()
	// Navigation order must match the rendered grouping, otherwise the
	// cursor highlights one control while keys act on another.
	order := make([]domain.Control, 0, cat.Len())
	for _, g := range groups {
		order = append(order, g.Controls...)
	}
	return &Model{
		Catalog: cat,
		State:   state,
		groups:  groups,
		order:   order,
		input:   ti,
	}
}

// Result returns the configuration name and whether the operator confirmed
// a save. Valid after the program exits.
func (m *Model) Result() (name string, submitted bool) {
	return m.name, m.submitted
}

func (m *Model) Init() tea.Cmd { return nil }

func (m *Model) current() domain.Control {
	return m.order[m.cursor]
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch m.mode {
	case modeExplain, modeNotes, modeName:
		return m.updateInput(key)
	}
	return m.updateList(key)
}

func (m *Model) updateList(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.errText = ""
	switch key.String() {
	case "ctrl+c", "q":
		m.quit = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.order)-1 {
			m.cursor++
		}
	case "1", "p":
		m.State.SetStatus(m.current().ID, domain.StatusPass)
	case "2", "f":
		m.State.SetStatus(m.current().ID, domain.StatusFail)
	case "3", "s":
		m.State.SetStatus(m.current().ID, domain.StatusSkip)
	case "r":
		m.State.Reset(m.current().ID)
	case "R":
		m.State.ResetAll()
	case "e":
		m.mode = modeExplain
		m.input.Placeholder = "explanation"
		m.input.SetValue(m.State.Get(m.current().ID).Explanation)
		return m, m.input.Focus()
	case "n":
		m.mode = modeNotes
		m.input.Placeholder = "notes"
		m.input.SetValue(m.State.Get(m.current().ID).Notes)
		return m, m.input.Focus()
	case "enter", "ctrl+s":
		if !m.State.SaveEligible(m.Catalog) {
			m.errText = "mark at least one control before saving"
			return m, nil
		}
		m.mode = modeName
		m.input.Placeholder = "configuration name"
		m.input.SetValue(m.name)
		return m, m.input.Focus()
	}
	return m, nil
}

func (m *Model) updateInput(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "esc":
		m.mode = modeList
		m.input.Blur()
		return m, nil
	case "enter":
		value := strings.TrimSpace(m.input.Value())
		switch m.mode {
		case modeExplain:
			m.State.SetExplanation(m.current().ID, value)
		case modeNotes:
			m.State.SetNotes(m.current().ID, value)
		case modeName:
			if value == "" {
				m.errText = "configuration name is required"
				return m, nil
			}
			m.name = value
			m.submitted = true
			return m, tea.Quit
		}
		m.mode = modeList
		m.input.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(key)
	return m, cmd
}

func (m *Model) View() string {
	if m.quit || m.submitted {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Compliance marking"))
	b.WriteString("\n\n")

	idx := 0
	for _, group := range m.groups {
		b.WriteString(sectionStyle.Render(group.Name))
		b.WriteString("\n")
		for _, ctrl := range group.Controls {
			marking := m.State.Get(ctrl.ID)
			prefix := "  "
			line := fmt.Sprintf("%s %s  %s", statusGlyph(marking.Status), ctrl.ID, ctrl.Title)
			if idx == m.cursor {
				prefix = cursorStyle.Render("> ")
				if marking.Explanation != "" {
					line += hintStyle.Render("  [" + marking.Explanation + "]")
				}
			}
			b.WriteString(prefix + line + "\n")
			idx++
		}
		b.WriteString("\n")
	}

	marked := m.State.MarkedCount(m.Catalog)
	b.WriteString(fmt.Sprintf("%d/%d marked", marked, m.Catalog.Len()))
	if m.State.ReportReady(m.Catalog) {
		b.WriteString(passStyle.Render("  report ready"))
	}
	b.WriteString("\n")

	switch m.mode {
	case modeExplain, modeNotes, modeName:
		b.WriteString("\n" + m.input.View() + "\n")
		b.WriteString(hintStyle.Render("enter to confirm, esc to cancel"))
	default:
		b.WriteString(hintStyle.Render("1/p pass  2/f fail  3/s skip  e explain  n notes  r reset  R reset all  enter save  q quit"))
	}
	if m.errText != "" {
		b.WriteString("\n" + warnStyle.Render(m.errText))
	}
	return b.String()
}

func statusGlyph(s domain.MarkingStatus) string {
	switch s {
	case domain.StatusPass:
		return passStyle.Render("[pass]")
	case domain.StatusFail:
		return failStyle.Render("[fail]")
	case domain.StatusSkip:
		return skipStyle.Render("[skip]")
	}
	return "[    ]"
}
