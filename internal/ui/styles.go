package ui

import "github.com/charmbracelet/lipgloss"

// palette holds the colors for one appearance
type palette struct {
	text      lipgloss.Color
	muted     lipgloss.Color
	accent    lipgloss.Color
	accentAlt lipgloss.Color
	surface   lipgloss.Color
	border    lipgloss.Color
	errorFg   lipgloss.Color
	successFg lipgloss.Color
}

var (
	darkPalette = palette{
		text:      lipgloss.Color("252"),
		muted:     lipgloss.Color("244"),
		accent:    lipgloss.Color("39"),
		accentAlt: lipgloss.Color("213"),
		surface:   lipgloss.Color("236"),
		border:    lipgloss.Color("240"),
		errorFg:   lipgloss.Color("203"),
		successFg: lipgloss.Color("78"),
	}
	lightPalette = palette{
		text:      lipgloss.Color("235"),
		muted:     lipgloss.Color("245"),
		accent:    lipgloss.Color("26"),
		accentAlt: lipgloss.Color("127"),
		surface:   lipgloss.Color("254"),
		border:    lipgloss.Color("250"),
		errorFg:   lipgloss.Color("160"),
		successFg: lipgloss.Color("28"),
	}
)

// Styles holds every style the views use
type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Muted    lipgloss.Style
	Error    lipgloss.Style
	Success  lipgloss.Style
	Label    lipgloss.Style
	Button   lipgloss.Style
	Box      lipgloss.Style

	Header lipgloss.Style

	Sidebar         lipgloss.Style
	SidebarItem     lipgloss.Style
	SidebarSelected lipgloss.Style
	SidebarActive   lipgloss.Style

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	UserText       lipgloss.Style
	Badge          lipgloss.Style
	Timestamp      lipgloss.Style

	Input   lipgloss.Style
	Spinner lipgloss.Style

	Overlay      lipgloss.Style
	OverlayTitle lipgloss.Style
	Item         lipgloss.Style
	ItemSelected lipgloss.Style
	Tab          lipgloss.Style
	TabActive    lipgloss.Style
	Menu         lipgloss.Style
}

// NewStyles builds the styles for the dark or light appearance
func NewStyles(dark bool) Styles {
	p := lightPalette
	if dark {
		p = darkPalette
	}

	base := lipgloss.NewStyle().Foreground(p.text)

	return Styles{
		Title:    base.Bold(true).Foreground(p.accent),
		Subtitle: base.Italic(true),
		Muted:    lipgloss.NewStyle().Foreground(p.muted),
		Error:    lipgloss.NewStyle().Foreground(p.errorFg),
		Success:  lipgloss.NewStyle().Foreground(p.successFg),
		Label:    lipgloss.NewStyle().Foreground(p.muted).Width(18),
		Button: lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(p.accent).
			Padding(0, 2),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.border).
			Padding(1, 3),

		Header: base.Bold(true).
			Foreground(p.accent).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(p.border),

		Sidebar: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderForeground(p.border).
			PaddingRight(1),
		SidebarItem:     base,
		SidebarSelected: base.Bold(true).Background(p.surface),
		SidebarActive:   lipgloss.NewStyle().Foreground(p.accent),

		UserLabel:      lipgloss.NewStyle().Bold(true).Foreground(p.accentAlt),
		AssistantLabel: lipgloss.NewStyle().Bold(true).Foreground(p.accent),
		UserText:       base.PaddingLeft(2),
		Badge: lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(p.accentAlt).
			Padding(0, 1),
		Timestamp: lipgloss.NewStyle().Foreground(p.muted),

		Input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.border).
			Padding(0, 1),
		Spinner: lipgloss.NewStyle().Foreground(p.accent),

		Overlay: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(p.accent).
			Padding(1, 2),
		OverlayTitle: base.Bold(true).MarginBottom(1),
		Item:         base.PaddingLeft(2),
		ItemSelected: base.Bold(true).Foreground(p.accent),
		Tab:          lipgloss.NewStyle().Foreground(p.muted).Padding(0, 1),
		TabActive: lipgloss.NewStyle().
			Bold(true).
			Foreground(p.accent).
			Underline(true).
			Padding(0, 1),
		Menu: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(p.errorFg).
			Foreground(p.errorFg).
			Padding(0, 1),
	}
}
