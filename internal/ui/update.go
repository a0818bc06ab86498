package ui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pedichat-go/internal/handlers"
	"github.com/pedichat-go/internal/i18n"
	"github.com/pedichat-go/internal/navigation"
	"github.com/pedichat-go/internal/session"
)

// menuHeight is the rendered height of the session context menu
const menuHeight = 3

// Update handles every message and then re-syncs with the app state
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m, cmd = m.handleKey(msg)
		cmds = append(cmds, cmd)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m, cmd = m.handleMouse(msg)
		cmds = append(cmds, cmd)

	case startedMsg:
		m.started = true
		if msg.err != nil {
			m.logger.WithError(msg.err).Error("Failed to start")
			m.notice = handlers.Result{Notice: m.app.T(i18n.MsgErrorOccurred, nil), Error: true}
		}

	case authDoneMsg:
		m.authBusy = false
		if msg.err == nil {
			m.login.reset()
			m.register.reset()
		}

	case resultMsg:
		m.notice = msg.result

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	cmds = append(cmds, m.sync())
	return m, tea.Batch(cmds...)
}

// sync reconciles the model with state changed by commands, the
// unauthorized handler or the ambient watcher
func (m *Model) sync() tea.Cmd {
	var cmd tea.Cmd

	view := m.app.Nav.View()
	if view != m.lastView {
		cmd = m.enterView(view)
		m.lastView = view
	}

	if dark := m.app.Theme.Dark(); dark != m.dark {
		m.dark = dark
		m.styles = NewStyles(dark)
		m.renderer.SetDark(dark)
		m.invalidate()
	}

	if lang := m.app.LanguageCode(); lang != m.lang {
		m.lang = lang
		m.localize()
		m.invalidate()
	}

	if n := len(m.app.Chat.Sessions()); m.cursor >= n {
		m.cursor = 0
		if n > 0 {
			m.cursor = n - 1
		}
	}

	if view == navigation.Authenticated && m.height > 0 {
		height := m.height - headerHeight - lipgloss.Height(m.footer())
		if height < 3 {
			height = 3
		}
		if height != m.viewport.Height {
			m.viewport.Height = height
			m.cache.signature = ""
		}
		m.refreshViewport()
	}
	return cmd
}

func (m *Model) enterView(view navigation.View) tea.Cmd {
	m.notice = handlers.Result{}
	m.authBusy = false

	switch view {
	case navigation.Landing:
		m.login.reset()
		m.register.reset()
		m.passwords.reset()
		m.input.Reset()
		m.email.Reset()
		m.sidebar = false
		m.cursor = 0
		m.invalidate()
	case navigation.LoginForm:
		return m.login.setFocus(0)
	case navigation.RegisterForm:
		return m.register.setFocus(0)
	case navigation.Authenticated:
		m.sidebar = false
		return m.input.Focus()
	}
	return nil
}

func (m *Model) resize() {
	chatWidth := m.width - sidebarWidth - 2
	if chatWidth < 20 {
		chatWidth = 20
	}
	m.viewport.Width = chatWidth
	m.input.Width = chatWidth - 6
	m.renderer.SetWidth(chatWidth - 4)
	m.invalidate()
}

func (m *Model) invalidate() {
	m.cache.messages = make(map[string]string)
	m.cache.signature = ""
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	state := m.app.Nav.State()

	switch {
	case state.LanguageSelector:
		return m.keyLanguage(msg, state.LanguageForced)
	case state.Settings:
		return m.keySettings(msg)
	case state.ContextMenu != nil:
		return m.keyContextMenu(msg, *state.ContextMenu)
	}

	switch state.View {
	case navigation.Landing:
		return m.keyLanding(msg)
	case navigation.LoginForm:
		return m.keyLogin(msg)
	case navigation.RegisterForm:
		return m.keyRegister(msg)
	default:
		return m.keyChat(msg)
	}
}

func (m Model) keyLanding(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "l", "enter":
		_ = m.app.Nav.ShowLogin()
	case "r":
		_ = m.app.Nav.ShowRegister()
	case "g", "ctrl+g":
		m.openLanguages()
	case "q", "esc":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) keyLogin(msg tea.KeyMsg) (Model, tea.Cmd) {
	if m.authBusy {
		return m, nil
	}
	switch msg.String() {
	case "tab", "down":
		return m, m.login.next()
	case "shift+tab", "up":
		return m, m.login.prev()
	case "ctrl+r":
		m.app.ClearFormErrors()
		_ = m.app.Nav.SwitchForm()
		return m, nil
	case "ctrl+g":
		m.openLanguages()
		return m, nil
	case "enter":
		if !m.login.last() {
			return m, m.login.next()
		}
		m.authBusy = true
		a, ctx := m.app, m.ctx
		email, password := strings.TrimSpace(m.login.value(0)), m.login.value(1)
		return m, func() tea.Msg {
			return authDoneMsg{err: a.Login(ctx, email, password)}
		}
	}
	return m, m.login.update(msg)
}

func (m Model) keyRegister(msg tea.KeyMsg) (Model, tea.Cmd) {
	if m.authBusy {
		return m, nil
	}
	switch msg.String() {
	case "tab", "down":
		return m, m.register.next()
	case "shift+tab", "up":
		return m, m.register.prev()
	case "ctrl+r":
		m.app.ClearFormErrors()
		_ = m.app.Nav.SwitchForm()
		return m, nil
	case "ctrl+g":
		m.openLanguages()
		return m, nil
	case "enter":
		if !m.register.last() {
			return m, m.register.next()
		}
		m.authBusy = true
		a, ctx := m.app, m.ctx
		name := strings.TrimSpace(m.register.value(0))
		email := strings.TrimSpace(m.register.value(1))
		password, confirm := m.register.value(2), m.register.value(3)
		return m, func() tea.Msg {
			return authDoneMsg{err: a.Register(ctx, email, password, confirm, name)}
		}
	}
	return m, m.register.update(msg)
}

func (m Model) keyChat(msg tea.KeyMsg) (Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "esc":
		m.app.Nav.Escape()
		m.notice = handlers.Result{}
		return m, nil
	case "tab":
		m.sidebar = !m.sidebar
		if m.sidebar {
			m.input.Blur()
			return m, nil
		}
		return m, m.input.Focus()
	case "ctrl+n":
		return m, m.runCommand("/new")
	case "ctrl+s":
		m.openSettings()
		return m, nil
	case "ctrl+g":
		m.openLanguages()
		return m, nil
	case "ctrl+t":
		return m, m.runCommand("/theme")
	case "ctrl+p":
		m.app.Pipeline.ToggleForm()
		return m, nil
	case "pgup", "pgdown":
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if m.sidebar {
		return m.keySidebar(msg)
	}

	if msg.Type == tea.KeyEnter {
		text := m.input.Value()
		composer := m.app.Pipeline.Composer()
		if composer.FormVisible && !handlers.IsCommand(text) {
			m.input.Reset()
			return m, m.runInput("/rx " + text)
		}
		if strings.TrimSpace(text) == "" && composer.Image == nil {
			return m, nil
		}
		m.input.Reset()
		m.notice = handlers.Result{}
		return m, m.runInput(text)
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) keySidebar(msg tea.KeyMsg) (Model, tea.Cmd) {
	sessions := m.app.Chat.Sessions()
	valid := m.cursor >= 0 && m.cursor < len(sessions)

	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(sessions)-1 {
			m.cursor++
		}
	case "enter":
		if valid {
			return m, m.runCommand("/open %d", sessions[m.cursor].ID)
		}
	case "d", "delete", "m":
		if valid {
			m.openMenu(m.cursor, sessions[m.cursor].ID)
		}
	case "n":
		return m, m.runCommand("/new")
	}
	return m, nil
}

func (m Model) keyContextMenu(msg tea.KeyMsg, menu navigation.ContextMenu) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "d", "y":
		return m, m.runCommand("/delete %d", menu.SessionID)
	case "esc", "q", "n":
		m.app.Nav.Escape()
	}
	return m, nil
}

func (m Model) keyLanguage(msg tea.KeyMsg, forced bool) (Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.langIndex > 0 {
			m.langIndex--
		}
	case "down", "j":
		if m.langIndex < len(i18n.Languages)-1 {
			m.langIndex++
		}
	case "enter":
		return m, m.runCommand("/lang %s", i18n.Languages[m.langIndex].Code)
	case "esc":
		if !forced {
			m.app.Nav.CloseLanguageSelector()
		}
	}
	return m, nil
}

func (m Model) keySettings(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.app.Nav.CloseSettings()
		m.notice = handlers.Result{}
		return m, nil
	case "tab":
		return m, m.selectTab((m.settingsTab + 1) % tabCount)
	case "shift+tab":
		return m, m.selectTab((m.settingsTab + tabCount - 1) % tabCount)
	}

	switch m.settingsTab {
	case tabAppearance:
		return m.keyAppearance(msg)
	case tabEmail:
		return m.keyEmail(msg)
	default:
		return m.keyPassword(msg)
	}
}

func (m Model) keyAppearance(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.themeIndex > 0 {
			m.themeIndex--
		}
	case "down", "j":
		if m.themeIndex < len(themeChoices)-1 {
			m.themeIndex++
		}
	case "enter":
		a, pref := m.app, themeChoices[m.themeIndex]
		return m, m.run(func(ctx context.Context) handlers.Result {
			a.SetDarkMode(ctx, pref)
			return handlers.Result{Notice: a.T(i18n.MsgSettingsSaved, nil)}
		})
	}
	return m, nil
}

func (m Model) keyEmail(msg tea.KeyMsg) (Model, tea.Cmd) {
	if msg.Type != tea.KeyEnter {
		var cmd tea.Cmd
		m.email, cmd = m.email.Update(msg)
		return m, cmd
	}

	a, email := m.app, m.email.Value()
	return m, m.run(func(ctx context.Context) handlers.Result {
		change, err := a.ChangeEmail(ctx, email)
		if err != nil {
			return handlers.Result{Notice: err.Error(), Error: true}
		}
		notice := a.T(i18n.MsgSettingsSaved, nil)
		if !change.Persisted {
			notice = a.T(i18n.MsgEmailLocalOnly, nil)
		}
		return handlers.Result{Notice: notice}
	})
}

func (m Model) keyPassword(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "down":
		return m, m.passwords.next()
	case "up":
		return m, m.passwords.prev()
	case "enter":
		if !m.passwords.last() {
			return m, m.passwords.next()
		}
		a := m.app
		current, next, confirm := m.passwords.value(0), m.passwords.value(1), m.passwords.value(2)
		m.passwords.reset()
		return m, tea.Batch(m.passwords.setFocus(0), m.run(func(ctx context.Context) handlers.Result {
			err := a.ChangePassword(current, next, confirm)
			switch {
			case err == nil:
				return handlers.Result{Notice: a.T(i18n.MsgSettingsSaved, nil)}
			case errors.Is(err, session.ErrPasswordMismatch):
				return handlers.Result{Notice: a.T(i18n.MsgPasswordsMismatch, nil), Error: true}
			case errors.Is(err, session.ErrPasswordChangeUnavailable):
				return handlers.Result{Notice: a.T(i18n.MsgPasswordUnavailable, nil), Error: true}
			default:
				return handlers.Result{Notice: a.T(i18n.MsgErrorOccurred, nil), Error: true}
			}
		}))
	}
	return m, m.passwords.update(msg)
}

func (m *Model) selectTab(tab int) tea.Cmd {
	m.settingsTab = tab
	m.notice = handlers.Result{}
	m.email.Blur()
	for i := range m.passwords.inputs {
		m.passwords.inputs[i].Blur()
	}
	switch tab {
	case tabEmail:
		return m.email.Focus()
	case tabPassword:
		return m.passwords.setFocus(0)
	}
	return nil
}

func (m *Model) openSettings() {
	if err := m.app.Nav.OpenSettings(); err != nil {
		return
	}
	m.input.Blur()
	m.notice = handlers.Result{}
	m.settingsTab = tabAppearance
	current := m.app.Theme.Preference()
	for i, pref := range themeChoices {
		if pref == current {
			m.themeIndex = i
		}
	}
	m.email.Reset()
	if user := m.app.Session.User(); user != nil {
		m.email.SetValue(user.Email)
	}
	m.passwords.reset()
}

func (m *Model) openLanguages() {
	m.app.Nav.OpenLanguageSelector(false)
	current := m.app.LanguageCode()
	for i, lang := range i18n.Languages {
		if lang.Code == current {
			m.langIndex = i
		}
	}
}

func (m *Model) openMenu(index int, sessionID int64) {
	at := navigation.Point{X: 0, Y: sidebarTop + index + 1}
	if err := m.app.Nav.OpenContextMenu(at, sessionID); err != nil {
		m.logger.WithError(err).Debug("Context menu unavailable")
	}
}

func (m Model) handleMouse(msg tea.MouseMsg) (Model, tea.Cmd) {
	if msg.Action != tea.MouseActionPress {
		return m, nil
	}
	state := m.app.Nav.State()
	if state.View != navigation.Authenticated {
		return m, nil
	}

	if msg.Button == tea.MouseButtonWheelUp || msg.Button == tea.MouseButtonWheelDown {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if menu := state.ContextMenu; menu != nil {
		if msg.X < sidebarWidth && msg.Y >= menu.At.Y && msg.Y < menu.At.Y+menuHeight {
			return m, m.runCommand("/delete %d", menu.SessionID)
		}
		m.app.Nav.ClickOutside()
		return m, nil
	}
	if state.LanguageSelector || state.Settings {
		return m, nil
	}

	sessions := m.app.Chat.Sessions()
	index := msg.Y - sidebarTop
	if msg.X >= sidebarWidth || index < 0 || index >= len(sessions) {
		return m, nil
	}
	m.cursor = index

	switch msg.Button {
	case tea.MouseButtonRight:
		m.openMenu(index, sessions[index].ID)
	case tea.MouseButtonLeft:
		return m, m.runCommand("/open %d", sessions[index].ID)
	}
	return m, nil
}
