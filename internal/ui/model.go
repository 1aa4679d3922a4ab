package ui

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/five82/c8yview/internal/actions"
	"github.com/five82/c8yview/internal/editor"
	"github.com/five82/c8yview/internal/entity"
	"github.com/five82/c8yview/internal/pipeline"
	"github.com/five82/c8yview/internal/prefs"
)

// Screen is the active top-level screen.
type Screen int

const (
	ScreenTree Screen = iota
	ScreenLogs
)

const (
	defaultTick  = time.Second
	flashTimeout = 6 * time.Second
	logTailLines = 500
)

// Actions is what the UI needs from *actions.Router.
type Actions interface {
	Collections() []pipeline.Handle
	Dispatch(ctx context.Context, t actions.Trigger) actions.Outcome
	MirrorPath(label string) (string, error)
}

// Options configures the UI.
type Options struct {
	Context   context.Context
	Actions   Actions
	Opener    *editor.Opener // its Runner is replaced so the editor gets the terminal
	Log       *zap.Logger
	LogPath   string
	Tick      time.Duration
	Prefs     prefs.Prefs
	PrefsPath string
}

// Model is the root application state for Bubble Tea.
type Model struct {
	ctx       context.Context
	actions   Actions
	log       *zap.Logger
	prefs     prefs.Prefs
	prefsPath string
	tick      time.Duration

	theme  Theme
	keys   keyMap
	screen Screen
	width  int
	height int
	ready  bool

	collections []pipeline.Handle
	changes     []<-chan struct{}
	views       []pipeline.View
	selected    []int
	active      int

	detail     viewport.Model
	showRecord bool

	logPath   string
	logView   viewport.Model
	logLines  []string
	logErr    error
	logFollow bool

	showHelp bool

	flash    string
	flashErr bool
	flashAt  time.Time
	now      time.Time
}

// New creates the model and subscribes to every collection's change signal.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	p := opts.Prefs
	if p.Theme == "" {
		p = prefs.Defaults()
	}

	m := Model{
		ctx:        ctx,
		actions:    opts.Actions,
		log:        log,
		prefs:      p,
		prefsPath:  opts.PrefsPath,
		tick:       tick,
		theme:      GetTheme(p.Theme),
		keys:       DefaultKeyMap(),
		showRecord: p.ShowRecord,
		logPath:    opts.LogPath,
		logFollow:  true,
		now:        time.Now(),
	}
	if opts.Actions != nil {
		m.collections = opts.Actions.Collections()
	}
	m.changes = make([]<-chan struct{}, len(m.collections))
	m.views = make([]pipeline.View, len(m.collections))
	m.selected = make([]int, len(m.collections))
	for i, h := range m.collections {
		m.changes[i] = h.Watch(ctx)
		m.views[i] = h.View()
		if h.Name() == p.Collection {
			m.active = i
		}
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(m.tick)}
	for i, ch := range m.changes {
		cmds = append(cmds, waitForChange(ch, i))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true
		m.updateDetail()
		m.updateLogView()
		return m, nil

	case changedMsg:
		if msg.index < 0 || msg.index >= len(m.collections) {
			return m, nil
		}
		m.views[msg.index] = m.collections[msg.index].View()
		m.clampSelection(msg.index)
		if msg.index == m.active {
			m.updateDetail()
		}
		return m, waitForChange(m.changes[msg.index], msg.index)

	case tickMsg:
		m.now = time.Time(msg)
		for i, h := range m.collections {
			m.views[i] = h.View()
			m.clampSelection(i)
		}
		if m.flash != "" && m.now.Sub(m.flashAt) > flashTimeout {
			m.flash = ""
		}
		cmds := []tea.Cmd{tickCmd(m.tick)}
		if m.screen == ScreenLogs && m.logFollow {
			cmds = append(cmds, readLogsCmd(m.logPath))
		}
		return m, tea.Batch(cmds...)

	case outcomeMsg:
		if msg.Err != nil {
			m.setFlash(msg.Err.Error(), true)
		} else if msg.Message != "" {
			m.setFlash(msg.Message, false)
		}
		return m, nil

	case logLinesMsg:
		m.logLines = msg.lines
		m.logErr = msg.err
		m.updateLogView()
		return m, nil

	case execMsg:
		done := msg.done
		return m, tea.ExecProcess(msg.cmd, func(err error) tea.Msg {
			done <- err
			return editorDoneMsg{err: err}
		})

	case editorDoneMsg:
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderMain()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.savePrefs()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.prefs.Theme = m.theme.Name
		m.savePrefs()
		m.updateDetail()
		m.updateLogView()
		return m, nil

	case key.Matches(msg, m.keys.Logs):
		if m.screen == ScreenLogs {
			m.screen = ScreenTree
			return m, nil
		}
		m.screen = ScreenLogs
		return m, readLogsCmd(m.logPath)

	case key.Matches(msg, m.keys.Escape):
		m.screen = ScreenTree
		return m, nil
	}

	if m.screen == ScreenLogs {
		return m.handleLogsKey(msg)
	}
	return m.handleTreeKey(msg)
}

func (m Model) handleTreeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if len(m.collections) == 0 {
		return m, nil
	}
	h := m.collections[m.active]
	count := len(m.views[m.active].Nodes)

	switch {
	case key.Matches(msg, m.keys.NextTab):
		m.active = (m.active + 1) % len(m.collections)
		m.prefs.Collection = m.collections[m.active].Name()
		m.updateDetail()
	case key.Matches(msg, m.keys.PrevTab):
		m.active = (m.active - 1 + len(m.collections)) % len(m.collections)
		m.prefs.Collection = m.collections[m.active].Name()
		m.updateDetail()

	case key.Matches(msg, m.keys.Down):
		if m.selected[m.active] < count-1 {
			m.selected[m.active]++
			m.updateDetail()
		}
	case key.Matches(msg, m.keys.Up):
		if m.selected[m.active] > 0 {
			m.selected[m.active]--
			m.updateDetail()
		}
	case key.Matches(msg, m.keys.Top):
		m.selected[m.active] = 0
		m.updateDetail()
	case key.Matches(msg, m.keys.Bottom):
		if count > 0 {
			m.selected[m.active] = count - 1
			m.updateDetail()
		}
	case key.Matches(msg, m.keys.HalfPageDown):
		m.detail.HalfPageDown()
	case key.Matches(msg, m.keys.HalfPageUp):
		m.detail.HalfPageUp()

	case key.Matches(msg, m.keys.ToggleRecord):
		m.showRecord = !m.showRecord
		m.prefs.ShowRecord = m.showRecord
		m.savePrefs()
		m.updateDetail()

	case key.Matches(msg, m.keys.Refresh):
		m.setFlash("refreshing "+h.Title()+"…", false)
		return m, m.dispatch(actions.Trigger{Name: actions.TriggerRefresh, Collection: h.Name()})
	case key.Matches(msg, m.keys.RefreshAll):
		m.setFlash("refreshing all collections…", false)
		return m, m.dispatch(actions.Trigger{Name: actions.TriggerRefresh})
	case key.Matches(msg, m.keys.Toggle):
		return m, m.dispatch(actions.Trigger{Name: actions.TriggerToggleEnabled, Collection: h.Name()})
	case key.Matches(msg, m.keys.CheckConnection):
		m.setFlash("checking connection…", false)
		return m, m.dispatch(actions.Trigger{Name: actions.TriggerCheckConnection, Collection: h.Name()})

	case key.Matches(msg, m.keys.Open):
		node := m.selectedNode()
		if node == nil {
			return m, nil
		}
		return m, m.dispatch(actions.Trigger{Name: actions.TriggerOpenEntity, Collection: h.Name(), Arg: node.Key()})

	case key.Matches(msg, m.keys.Upload):
		node := m.selectedNode()
		if node == nil || h.Kind() != entity.KindApplication {
			m.setFlash("select an EPL app to upload", true)
			return m, nil
		}
		path, err := m.actions.MirrorPath(node.Label())
		if err != nil {
			m.setFlash(err.Error(), true)
			return m, nil
		}
		m.setFlash("uploading "+node.Label()+"…", false)
		return m, m.dispatch(actions.Trigger{Name: actions.TriggerUploadEntity, Arg: path})
	}
	return m, nil
}

func (m Model) handleLogsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ToggleFollow):
		m.logFollow = !m.logFollow
		if m.logFollow {
			m.logView.GotoBottom()
			return m, readLogsCmd(m.logPath)
		}
	case key.Matches(msg, m.keys.Down):
		m.logFollow = false
		m.logView.ScrollDown(1)
	case key.Matches(msg, m.keys.Up):
		m.logFollow = false
		m.logView.ScrollUp(1)
	case key.Matches(msg, m.keys.HalfPageDown):
		m.logFollow = false
		m.logView.HalfPageDown()
	case key.Matches(msg, m.keys.HalfPageUp):
		m.logFollow = false
		m.logView.HalfPageUp()
	case key.Matches(msg, m.keys.Top):
		m.logFollow = false
		m.logView.GotoTop()
	case key.Matches(msg, m.keys.Bottom):
		m.logView.GotoBottom()
	}
	return m, nil
}

func (m *Model) setFlash(text string, isErr bool) {
	m.flash = text
	m.flashErr = isErr
	m.flashAt = m.now
}

func (m *Model) clampSelection(i int) {
	n := len(m.views[i].Nodes)
	if m.selected[i] >= n {
		m.selected[i] = n - 1
	}
	if m.selected[i] < 0 {
		m.selected[i] = 0
	}
}

func (m Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	if err := prefs.Save(m.prefsPath, m.prefs); err != nil {
		m.log.Warn("save prefs failed", zap.Error(err))
	}
}

// Messages

type tickMsg time.Time

type changedMsg struct{ index int }

type outcomeMsg actions.Outcome

type logLinesMsg struct {
	lines []string
	err   error
}

type execMsg struct {
	cmd  *exec.Cmd
	done chan<- error
}

type editorDoneMsg struct{ err error }

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForChange blocks on one collection's change channel. A closed channel
// ends the subscription.
func waitForChange(ch <-chan struct{}, index int) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{index: index}
	}
}

func (m Model) dispatch(t actions.Trigger) tea.Cmd {
	ctx, a := m.ctx, m.actions
	return func() tea.Msg {
		return outcomeMsg(a.Dispatch(ctx, t))
	}
}

// execRunner hands editor commands to the program so the terminal is released
// while the editor runs.
func execRunner(p *tea.Program) editor.Runner {
	return func(cmd *exec.Cmd) error {
		done := make(chan error, 1)
		p.Send(execMsg{cmd: cmd, done: done})
		return <-done
	}
}

// Run starts the Bubble Tea program and blocks until it exits.
func Run(opts Options) error {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	m := New(opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if opts.Opener != nil {
		opts.Opener.Run = execRunner(p)
	}
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
