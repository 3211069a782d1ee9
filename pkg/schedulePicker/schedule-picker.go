package schedulePicker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tmkoval/pillsync/internal/style"
	"github.com/tmkoval/pillsync/internal/util"
)

// SelectedScheduleMsg is emitted when the user confirms a schedule file.
type SelectedScheduleMsg struct {
	Path string
}

// --- Key Map ---
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Confirm key.Binding
	Refresh key.Binding
}

var DefaultKeyMap = KeyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "move up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "move down")),
	Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
}

type entry struct {
	name string
	size int64
}

// Model lists the schedule files (*.json, *.csv) of one directory and
// lets the user pick exactly one.
type Model struct {
	dir     string
	entries []entry
	cursor  int
	keys    KeyMap
	loadErr error
}

// InitialModel creates a picker rooted at dir.
func InitialModel(dir string) Model {
	m := Model{dir: dir, keys: DefaultKeyMap}
	m.reload()
	return m
}

// reload re-reads the directory. Unreadable directories leave the
// previous listing in place and surface the error in the view.
func (m *Model) reload() {
	items, err := os.ReadDir(m.dir)
	if err != nil {
		m.loadErr = fmt.Errorf("could not read directory: %w", err)
		return
	}
	m.loadErr = nil
	m.entries = m.entries[:0]
	for _, item := range items {
		if item.IsDir() || !isScheduleFile(item.Name()) {
			continue
		}
		info, err := item.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		m.entries = append(m.entries, entry{name: item.Name(), size: size})
	}
	sort.Slice(m.entries, func(i, j int) bool { return m.entries[i].name < m.entries[j].name })
	if m.cursor >= len(m.entries) {
		m.cursor = 0
	}
}

func isScheduleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".csv":
		return true
	}
	return false
}

// --- Bubble Tea Methods ---
func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(keyMsg, m.keys.Down):
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}

	case key.Matches(keyMsg, m.keys.Refresh):
		m.reload()

	case key.Matches(keyMsg, m.keys.Confirm):
		if len(m.entries) > 0 {
			path := filepath.Join(m.dir, m.entries[m.cursor].name)
			return m, func() tea.Msg {
				return SelectedScheduleMsg{Path: path}
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(style.TitleStyle.Render("Select a schedule") + "\n")
	s.WriteString(style.HelpStyle.Render(fmt.Sprintf("Browsing: %s", m.dir)) + "\n\n")

	if m.loadErr != nil {
		s.WriteString(style.ErrorStyle.Render(m.loadErr.Error()) + "\n")
		return s.String()
	}
	if len(m.entries) == 0 {
		s.WriteString("No schedule files (*.json, *.csv) found. Press r to refresh.\n")
		return s.String()
	}

	for i, e := range m.entries {
		cursor := "  "
		if i == m.cursor {
			cursor = style.HighlightFontStyle.Render("> ")
		}
		line := fmt.Sprintf("%s%s%s", cursor, util.PadRight(e.name, 40), util.FormatSize(e.size))
		s.WriteString(line + "\n")
	}

	s.WriteString("\n" + style.HelpStyle.Render("↑/↓ move · enter select · r refresh"))
	return s.String()
}
