// Package ui is the terminal front end. It renders the navigation state and
// turns key presses into calls on the app; network calls run as commands and
// every frame re-reads the app's snapshots.
package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pedichat-go/internal/app"
	"github.com/pedichat-go/internal/handlers"
	"github.com/pedichat-go/internal/i18n"
	"github.com/pedichat-go/internal/models"
	"github.com/pedichat-go/internal/navigation"
	"github.com/pedichat-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

const (
	headerHeight = 2
	footerHeight = 5
	sidebarWidth = 30
	// sidebarTop is the first screen row holding a session
	sidebarTop = headerHeight + 2
)

// Settings tabs
const (
	tabAppearance = iota
	tabEmail
	tabPassword
	tabCount
)

var themeChoices = []models.DarkModePreference{
	models.DarkModeSystem,
	models.DarkModeLight,
	models.DarkModeDark,
}

// startedMsg is sent once the app restored any stored session
type startedMsg struct{ err error }

// authDoneMsg carries the result of a login or registration
type authDoneMsg struct{ err error }

// resultMsg carries the outcome of a command or a settings action
type resultMsg struct{ result handlers.Result }

// form is an ordered group of inputs with one focused
type form struct {
	inputs []textinput.Model
	focus  int
}

func newForm(placeholders []string, secret []bool) form {
	f := form{inputs: make([]textinput.Model, len(placeholders))}
	for i, p := range placeholders {
		ti := textinput.New()
		ti.Placeholder = p
		ti.CharLimit = 256
		ti.Width = 32
		if secret[i] {
			ti.EchoMode = textinput.EchoPassword
			ti.EchoCharacter = '•'
		}
		f.inputs[i] = ti
	}
	return f
}

func (f *form) setFocus(i int) tea.Cmd {
	if len(f.inputs) == 0 {
		return nil
	}
	f.focus = (i + len(f.inputs)) % len(f.inputs)
	for j := range f.inputs {
		f.inputs[j].Blur()
	}
	return f.inputs[f.focus].Focus()
}

func (f *form) next() tea.Cmd { return f.setFocus(f.focus + 1) }

func (f *form) prev() tea.Cmd { return f.setFocus(f.focus - 1) }

func (f *form) last() bool { return f.focus == len(f.inputs)-1 }

func (f *form) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f *form) value(i int) string { return f.inputs[i].Value() }

func (f *form) reset() {
	for i := range f.inputs {
		f.inputs[i].Reset()
		f.inputs[i].Blur()
	}
	f.focus = 0
}

// renderCache keeps rendered assistant messages and the viewport signature.
// It is shared by every copy of the model.
type renderCache struct {
	messages  map[string]string
	signature string
}

// Model is the root bubbletea model
type Model struct {
	app      *app.App
	commands *handlers.CommandHandler
	renderer *markdown.Renderer
	logger   *logrus.Logger
	ctx      context.Context
	cache    *renderCache

	styles   Styles
	dark     bool
	lang     string
	width    int
	height   int
	lastView navigation.View
	started  bool

	login     form
	register  form
	input     textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	authBusy  bool
	notice    handlers.Result
	sidebar   bool
	cursor    int
	langIndex int

	settingsTab int
	themeIndex  int
	email       textinput.Model
	passwords   form
}

// New creates the root model
func New(ctx context.Context, a *app.App, commands *handlers.CommandHandler) Model {
	dark := a.Theme.Dark()

	input := textinput.New()
	input.CharLimit = a.Config().Chat.MaxMessageLength
	input.Prompt = "› "

	email := textinput.New()
	email.CharLimit = 256
	email.Width = 40

	s := spinner.New()
	s.Spinner = spinner.Dot

	m := Model{
		app:      a,
		commands: commands,
		renderer: markdown.NewRenderer(a.Config().UI.WrapWidth, dark),
		logger:   a.Logger(),
		ctx:      ctx,
		cache:    &renderCache{messages: make(map[string]string)},
		styles:   NewStyles(dark),
		dark:     dark,
		lang:     a.LanguageCode(),
		lastView: navigation.Landing,
		login:    newForm([]string{"", ""}, []bool{false, true}),
		register: newForm([]string{"", "", "", ""}, []bool{false, false, true, true}),
		input:    input,
		viewport: viewport.New(80, 20),
		spinner:  s,
		email:    email,
		passwords: newForm(
			[]string{"", "", ""},
			[]bool{true, true, true},
		),
	}
	m.localize()
	return m
}

// Init starts the app and the spinner
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textinput.Blink,
		func() tea.Msg {
			return startedMsg{err: m.app.Start(m.ctx)}
		},
	)
}

// run executes fn off the UI goroutine and delivers its result
func (m Model) run(fn func(ctx context.Context) handlers.Result) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return resultMsg{result: fn(ctx)}
	}
}

// runInput hands a line of chat input to the command handler
func (m Model) runInput(input string) tea.Cmd {
	return m.run(func(ctx context.Context) handlers.Result {
		return m.commands.Handle(ctx, input)
	})
}

// runCommand runs a slash command built from format and args
func (m Model) runCommand(format string, args ...interface{}) tea.Cmd {
	return m.runInput(fmt.Sprintf(format, args...))
}

// localize refreshes placeholders after a language change
func (m *Model) localize() {
	t := m.app.T
	m.login.inputs[0].Placeholder = t(i18n.MsgEmail, nil)
	m.login.inputs[1].Placeholder = t(i18n.MsgPassword, nil)
	m.register.inputs[0].Placeholder = t(i18n.MsgFullName, nil)
	m.register.inputs[1].Placeholder = t(i18n.MsgEmail, nil)
	m.register.inputs[2].Placeholder = t(i18n.MsgPassword, nil)
	m.register.inputs[3].Placeholder = t(i18n.MsgConfirmPassword, nil)
	m.input.Placeholder = t(i18n.MsgTypeMessage, nil)
	m.email.Placeholder = t(i18n.MsgEmail, nil)
	m.passwords.inputs[0].Placeholder = t(i18n.MsgPassword, nil)
	m.passwords.inputs[1].Placeholder = t(i18n.MsgPassword, nil)
	m.passwords.inputs[2].Placeholder = t(i18n.MsgConfirmPassword, nil)
}
