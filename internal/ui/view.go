package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pedichat-go/internal/handlers"
	"github.com/pedichat-go/internal/i18n"
	"github.com/pedichat-go/internal/models"
	"github.com/pedichat-go/internal/navigation"
)

const chatHelp = "enter send · tab sessions · ctrl+n new · ctrl+p prescription · ctrl+s settings · ctrl+g language · ctrl+t theme · /help"

// View renders the current navigation state
func (m Model) View() string {
	if m.width == 0 {
		return ""
	}

	state := m.app.Nav.State()
	if state.LanguageSelector && state.View != navigation.Authenticated {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.languageOverlay(false))
	}
	switch state.View {
	case navigation.Landing:
		return m.viewLanding()
	case navigation.LoginForm:
		return m.viewLogin()
	case navigation.RegisterForm:
		return m.viewRegister()
	default:
		return m.viewChat(state)
	}
}

func (m Model) t(id string) string {
	return m.app.T(id, nil)
}

func (m Model) viewLanding() string {
	s := m.styles
	lines := []string{
		s.Title.Render(m.t(i18n.MsgAppTitle)),
		s.Subtitle.Render(m.t(i18n.MsgAppSubtitle)),
		"",
		m.t(i18n.MsgLandingTagline),
		"",
	}
	if m.started {
		lines = append(lines, s.Muted.Render(m.t(i18n.MsgLandingHint)))
	} else {
		lines = append(lines, s.Spinner.Render(m.spinner.View()))
	}
	if m.notice.Notice != "" {
		lines = append(lines, "", m.renderNotice(m.notice))
	}
	content := lipgloss.JoinVertical(lipgloss.Center, lines...)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

func (m Model) viewLogin() string {
	s := m.styles
	loginErr, _ := m.app.FormErrors()

	button := m.t(i18n.MsgSignIn)
	if m.authBusy {
		button = m.spinner.View() + " " + m.t(i18n.MsgSigningIn)
	}

	lines := []string{
		s.Title.Render(m.t(i18n.MsgLoginTitle)),
		s.Subtitle.Render(m.t(i18n.MsgLoginSubtitle)),
		"",
		m.field(i18n.MsgEmail, m.login.inputs[0].View()),
		m.field(i18n.MsgPassword, m.login.inputs[1].View()),
		"",
		s.Button.Render(button),
	}
	if loginErr != "" {
		lines = append(lines, "", s.Error.Render(loginErr))
	}
	lines = append(lines, "", s.Muted.Render(m.t(i18n.MsgNoAccount)), s.Muted.Render("Ctrl+G · "+m.app.Language().NativeName))

	box := s.Box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m Model) viewRegister() string {
	s := m.styles
	_, registerErr := m.app.FormErrors()

	button := m.t(i18n.MsgCreateAccount)
	if m.authBusy {
		button = m.spinner.View() + " " + m.t(i18n.MsgCreatingAccount)
	}

	lines := []string{
		s.Title.Render(m.t(i18n.MsgCreateAccount)),
		s.Subtitle.Render(m.t(i18n.MsgRegisterSubtitle)),
		"",
		m.field(i18n.MsgFullName, m.register.inputs[0].View()),
		m.field(i18n.MsgEmail, m.register.inputs[1].View()),
		m.field(i18n.MsgPassword, m.register.inputs[2].View()),
		m.field(i18n.MsgConfirmPassword, m.register.inputs[3].View()),
		"",
		s.Button.Render(button),
	}
	if registerErr != "" {
		lines = append(lines, "", s.Error.Render(registerErr))
	}
	lines = append(lines, "", s.Muted.Render(m.t(i18n.MsgHaveAccount)), s.Muted.Render("Ctrl+G · "+m.app.Language().NativeName))

	box := s.Box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m Model) field(labelID, input string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, m.styles.Label.Render(m.t(labelID)), input)
}

func (m Model) viewChat(state navigation.State) string {
	header := m.header()
	footer := m.footer()
	bodyHeight := m.height - lipgloss.Height(header) - lipgloss.Height(footer)
	if bodyHeight < 1 {
		bodyHeight = 1
	}

	var body string
	switch {
	case state.LanguageSelector:
		body = lipgloss.Place(m.width, bodyHeight, lipgloss.Center, lipgloss.Center, m.languageOverlay(state.LanguageForced))
	case state.Settings:
		body = lipgloss.Place(m.width, bodyHeight, lipgloss.Center, lipgloss.Center, m.settingsOverlay())
	default:
		sidebar := m.styles.Sidebar.Width(sidebarWidth - 2).Height(bodyHeight).Render(m.sidebarView(state, bodyHeight))
		body = lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", m.viewport.View())
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m Model) header() string {
	title := m.t(i18n.MsgAppTitle)
	user := m.t(i18n.MsgUserFallback)
	if u := m.app.Session.User(); u != nil && u.FullName != "" {
		user = u.FullName
	}
	info := m.styles.Muted.Render(fmt.Sprintf("%s · %s", user, m.app.Language().NativeName))

	gap := m.width - lipgloss.Width(title) - lipgloss.Width(info) - 1
	if gap < 1 {
		gap = 1
	}
	return m.styles.Header.Width(m.width).Render(title + strings.Repeat(" ", gap) + info)
}

func (m Model) sidebarView(state navigation.State, height int) string {
	s := m.styles
	width := sidebarWidth - 3

	lines := []string{s.Muted.Render("+ " + m.t(i18n.MsgNewChat) + " (ctrl+n)"), ""}

	sessions := m.app.Chat.Sessions()
	if len(sessions) == 0 {
		lines = append(lines, s.Muted.Render(m.t(i18n.MsgNoSessions)))
	}

	active := m.app.Chat.Active()
	for i, session := range sessions {
		if len(lines) >= height {
			break
		}
		marker := "  "
		if active.Is(session.ID) {
			marker = s.SidebarActive.Render("● ")
		}
		name := session.SessionName
		if name == "" {
			name = m.t(i18n.MsgNewChat)
		}
		count := m.app.Plural(i18n.MsgMessageCount, session.MessageCount)
		name = truncate(name, width-lipgloss.Width(count)-3)

		row := marker + name + " " + s.Muted.Render(count)
		if m.sidebar && i == m.cursor {
			row = s.SidebarSelected.Render(row)
		} else {
			row = s.SidebarItem.Render(row)
		}
		lines = append(lines, row)

		if menu := state.ContextMenu; menu != nil && menu.SessionID == session.ID {
			lines = append(lines, s.Menu.Render("✕ "+m.t(i18n.MsgDeleteSession)))
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) footer() string {
	s := m.styles

	var status []string
	sending, analyzing := m.app.Pipeline.Loading()
	if sending {
		status = append(status, m.spinner.View()+" "+m.t(i18n.MsgTyping))
	}
	if analyzing {
		status = append(status, m.spinner.View()+" "+m.t(i18n.MsgAnalyzing))
	}

	composer := m.app.Pipeline.Composer()
	if composer.Image != nil {
		status = append(status, s.Muted.Render(m.app.T(i18n.MsgImageAttached, map[string]interface{}{
			"Name": composer.Image.Filename,
		})))
	}
	if composer.FormVisible {
		status = append(status, s.Badge.Render(m.t(i18n.MsgPrescription))+" "+
			s.Muted.Render(m.t(i18n.MsgPatientAge)+" | "+m.t(i18n.MsgPatientConditions)))
	}

	lines := []string{strings.Join(status, "  ")}
	if m.notice.Notice != "" {
		lines = append(lines, m.renderNotice(m.notice))
	}
	lines = append(lines,
		s.Input.Width(m.viewport.Width).Render(m.input.View()),
		s.Muted.Render(truncate(chatHelp, m.width)),
	)
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderNotice(r handlers.Result) string {
	if r.Error {
		return m.styles.Error.Render(r.Notice)
	}
	return m.styles.Success.Render(r.Notice)
}

func (m Model) languageOverlay(forced bool) string {
	s := m.styles
	current := m.app.LanguageCode()

	lines := []string{s.OverlayTitle.Render(m.t(i18n.MsgSelectLanguage))}
	for i, lang := range i18n.Languages {
		label := lang.NativeName
		if lang.Name != lang.NativeName {
			label += " (" + lang.Name + ")"
		}
		if lang.Code == current {
			label += " ●"
		}
		if i == m.langIndex {
			lines = append(lines, s.ItemSelected.Render("› "+label))
		} else {
			lines = append(lines, s.Item.Render(label))
		}
	}
	if !forced {
		lines = append(lines, "", s.Muted.Render("enter · esc"))
	}
	return s.Overlay.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) settingsOverlay() string {
	s := m.styles

	tabs := []string{i18n.MsgAppearance, i18n.MsgEmail, i18n.MsgPassword}
	rendered := make([]string, len(tabs))
	for i, id := range tabs {
		if i == m.settingsTab {
			rendered[i] = s.TabActive.Render(m.t(id))
		} else {
			rendered[i] = s.Tab.Render(m.t(id))
		}
	}

	lines := []string{
		s.OverlayTitle.Render(m.t(i18n.MsgSettings)),
		lipgloss.JoinHorizontal(lipgloss.Top, rendered...),
		"",
	}

	switch m.settingsTab {
	case tabAppearance:
		lines = append(lines, m.appearanceTab()...)
	case tabEmail:
		lines = append(lines, m.email.View())
	case tabPassword:
		lines = append(lines,
			m.field(i18n.MsgPassword, m.passwords.inputs[0].View()),
			m.field(i18n.MsgPassword, m.passwords.inputs[1].View()),
			m.field(i18n.MsgConfirmPassword, m.passwords.inputs[2].View()),
		)
	}

	if m.notice.Notice != "" {
		lines = append(lines, "", m.renderNotice(m.notice))
	}
	lines = append(lines, "", s.Muted.Render("tab · enter · esc"))
	return s.Overlay.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) appearanceTab() []string {
	s := m.styles
	current := m.app.Theme.Preference()
	descriptions := map[models.DarkModePreference]string{
		models.DarkModeSystem: i18n.MsgThemeSystemDesc,
		models.DarkModeLight:  i18n.MsgThemeLightDesc,
		models.DarkModeDark:   i18n.MsgThemeDarkDesc,
	}

	var lines []string
	for i, pref := range themeChoices {
		label := m.t(handlers.ThemeMessageID(pref))
		if pref == current {
			label += " ●"
		}
		desc := s.Muted.Render("  " + m.t(descriptions[pref]))
		if i == m.themeIndex {
			lines = append(lines, s.ItemSelected.Render("› "+label)+desc)
		} else {
			lines = append(lines, s.Item.Render(label)+desc)
		}
	}
	return lines
}

// renderMessages lays out the conversation for the viewport
func (m Model) renderMessages(messages []models.Message) string {
	s := m.styles
	if len(messages) == 0 {
		return lipgloss.Place(m.viewport.Width, m.viewport.Height, lipgloss.Center, lipgloss.Center,
			s.Muted.Render(m.t(i18n.MsgAppSubtitle)))
	}

	userName := m.t(i18n.MsgUserFallback)
	if u := m.app.Session.User(); u != nil && u.FullName != "" {
		userName = u.FullName
	}

	blocks := make([]string, 0, len(messages))
	for _, msg := range messages {
		var label string
		if msg.IsUser {
			label = s.UserLabel.Render(userName)
		} else {
			label = s.AssistantLabel.Render(m.t(i18n.MsgAppTitle))
		}
		if msg.IsPrescription {
			label += " " + s.Badge.Render("Rx")
		}
		if !msg.Timestamp.IsZero() {
			label += " " + s.Timestamp.Render(msg.Timestamp.Format("15:04"))
		}

		var body string
		if msg.IsUser {
			body = s.UserText.Width(m.viewport.Width - 2).Render(msg.Text)
			if msg.Image != "" {
				body += "\n" + s.Muted.Render("  ⎘ "+msg.Image)
			}
		} else {
			body = m.renderAssistant(msg)
		}
		blocks = append(blocks, label+"\n"+body)
	}
	return strings.Join(blocks, "\n\n")
}

func (m Model) renderAssistant(msg models.Message) string {
	if out, ok := m.cache.messages[msg.ID]; ok {
		return out
	}
	out := m.renderer.Render(msg.Text)
	m.cache.messages[msg.ID] = out
	return out
}

func (m *Model) refreshViewport() {
	messages := m.app.Chat.Messages()
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].ID
	}
	signature := fmt.Sprintf("%d|%s|%d|%d", len(messages), last, m.viewport.Width, m.viewport.Height)
	if signature == m.cache.signature {
		return
	}
	m.cache.signature = signature
	m.viewport.SetContent(m.renderMessages(messages))
	m.viewport.GotoBottom()
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
