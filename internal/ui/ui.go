package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tasklist/internal/config"
	"tasklist/internal/state"
	"tasklist/internal/todo"
)

// Controller is what the TUI needs from state.Controller.
type Controller interface {
	Dispatch(in state.Intent)
	Subscribe(fn func(state.ViewState)) func()
	CurrentState() state.ViewState
}

type mode int

const (
	modeList mode = iota
	modeAdd
	modeRename
)

type stateMsg state.ViewState

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	doneStyle   = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	activeTab   = lipgloss.NewStyle().Bold(true).Underline(true)
	inactiveTab = lipgloss.NewStyle().Faint(true)
)

type Model struct {
	ctrl       Controller
	cfg        config.Config
	view       state.ViewState
	cursor     int
	mode       mode
	input      textinput.Model
	spinner    spinner.Model
	status     string
	confirmDel bool
	pendingDel *todo.Item
	renameID   string
}

func New(ctrl Controller, cfg config.Config) Model {
	ti := textinput.New()
	ti.Placeholder = "Task title"
	ti.CharLimit = 256
	ti.Width = 40

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctrl:    ctrl,
		cfg:     cfg,
		view:    ctrl.CurrentState(),
		input:   ti,
		spinner: sp,
		mode:    modeList,
		status:  fmt.Sprintf("Press '%s' to add, space to toggle, '%s' to delete.", cfg.Keys.Add, cfg.Keys.Delete),
	}
}

// Run drives the TUI until the user quits. States published by ctrl are
// forwarded into the program as messages.
func Run(ctrl Controller, cfg config.Config) error {
	program := tea.NewProgram(New(ctrl, cfg))
	unsubscribe := ctrl.Subscribe(func(s state.ViewState) {
		program.Send(stateMsg(s))
	})
	defer unsubscribe()
	_, err := program.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.view = state.ViewState(msg)
		m.cursor = clampCursor(m.cursor, len(m.view.FilteredItems()))
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if m.confirmDel {
			return m.updateDeleteConfirm(msg.String())
		}
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - 10
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch m.mode {
	case modeAdd, modeRename:
		return m.updateInputMode(key, msg)
	}
	return m.updateListMode(key)
}

func (m Model) updateInputMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel, "esc":
		m = m.backToList()
		m.status = "Cancelled"
		return m, nil
	case m.cfg.Keys.Confirm, "enter":
		title := strings.TrimSpace(m.input.Value())
		if title == "" {
			m.status = "Title cannot be empty"
			return m, nil
		}
		if m.mode == modeAdd {
			m.ctrl.Dispatch(state.AddItem{Title: title})
			m.status = "Adding task"
		} else {
			m.ctrl.Dispatch(state.RenameItem{ID: m.renameID, Title: title})
			m.status = "Renaming task"
		}
		m = m.backToList()
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) backToList() Model {
	m.input.SetValue("")
	m.input.Blur()
	m.mode = modeList
	m.renameID = ""
	return m
}

func (m Model) updateListMode(key string) (tea.Model, tea.Cmd) {
	items := m.view.FilteredItems()
	switch key {
	case "ctrl+c", m.cfg.Keys.Quit:
		return m, tea.Quit
	case m.cfg.Keys.Down, "down":
		m.cursor = clampCursor(m.cursor+1, len(items))
	case m.cfg.Keys.Up, "up":
		m.cursor = clampCursor(m.cursor-1, len(items))
	case m.cfg.Keys.Add:
		m.mode = modeAdd
		m.status = "Add mode: type a title and press Enter"
		return m, m.input.Focus()
	case m.cfg.Keys.Toggle:
		if len(items) == 0 {
			return m, nil
		}
		m.ctrl.Dispatch(state.ToggleItem{ID: items[m.cursor].ID})
		m.status = "Toggled task"
	case m.cfg.Keys.Delete:
		if len(items) == 0 {
			return m, nil
		}
		t := items[m.cursor]
		m.confirmDel = true
		m.pendingDel = &t
		m.status = fmt.Sprintf("Delete \"%s\"? y/n", t.Title)
	case m.cfg.Keys.Rename:
		if len(items) == 0 {
			m.status = "No tasks to rename"
			return m, nil
		}
		t := items[m.cursor]
		m.mode = modeRename
		m.renameID = t.ID
		m.input.SetValue(t.Title)
		m.status = "Rename: edit the title and press Enter"
		return m, m.input.Focus()
	case m.cfg.Keys.Filter:
		next := m.view.Filter.Next()
		m.ctrl.Dispatch(state.SetFilter{Filter: next})
		m.cursor = 0
		m.status = "Showing " + next.String()
	case m.cfg.Keys.ClearError:
		m.ctrl.Dispatch(state.ClearError{})
	}
	return m, nil
}

func (m Model) updateDeleteConfirm(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "n", "N", "esc":
		m.status = "Delete cancelled"
	case "y", "Y":
		if m.pendingDel == nil {
			m.status = "Nothing to delete"
			break
		}
		m.ctrl.Dispatch(state.DeleteItem{ID: m.pendingDel.ID})
		m.status = "Deleted task"
	default:
		return m, nil
	}
	m.confirmDel = false
	m.pendingDel = nil
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Todo"))
	if m.view.Loading {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n")
	b.WriteString(renderTabs(m.view.Filter))
	b.WriteString("\n\n")

	items := m.view.FilteredItems()
	if len(items) == 0 {
		if len(m.view.Items) == 0 {
			b.WriteString(fmt.Sprintf("No tasks yet. Press '%s' to add one.", m.cfg.Keys.Add))
		} else {
			b.WriteString("Nothing matches this filter.")
		}
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderTaskList(items))
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%d active • %d completed", m.view.ActiveCount(), m.view.CompletedCount()))
	b.WriteString("\n")

	switch m.mode {
	case modeAdd:
		b.WriteString("Add Task: ")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	case modeRename:
		b.WriteString("Rename: ")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	if m.view.Error != "" {
		b.WriteString(errorStyle.Render(m.view.Error))
		b.WriteString(fmt.Sprintf(" (%s to dismiss)\n", m.cfg.Keys.ClearError))
	}
	b.WriteString("\n")
	b.WriteString(m.status)
	b.WriteString("\n")
	b.WriteString(renderHelp(m.cfg.Keys))

	return b.String()
}

func (m Model) renderTaskList(items []todo.Item) string {
	var b strings.Builder
	for i, t := range items {
		cursor := " "
		if m.cursor == i && m.mode == modeList {
			cursor = ">"
		}

		checkbox := "[ ]"
		title := t.Title
		if t.Completed {
			checkbox = "[x]"
			title = doneStyle.Render(title)
		}

		b.WriteString(fmt.Sprintf("%s %s %s\n", cursor, checkbox, title))
	}
	return b.String()
}

func renderTabs(active todo.Filter) string {
	tabs := make([]string, 0, 3)
	for _, f := range []todo.Filter{todo.FilterAll, todo.FilterActive, todo.FilterCompleted} {
		if f == active {
			tabs = append(tabs, activeTab.Render(f.String()))
		} else {
			tabs = append(tabs, inactiveTab.Render(f.String()))
		}
	}
	return strings.Join(tabs, "  ")
}

func renderHelp(k config.Keymap) string {
	return fmt.Sprintf("%s/%s move • %s add • %s toggle • %s delete • %s rename • %s filter • %s quit",
		k.Up, k.Down, k.Add, keyLabel(k.Toggle), k.Delete, k.Rename, k.Filter, k.Quit)
}

func keyLabel(k string) string {
	if k == " " {
		return "space"
	}
	return k
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}
