package markdown

import (
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/russross/blackfriday/v2"
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// Renderer turns assistant answers into styled terminal output. It keeps one
// glamour renderer per (theme, width) and rebuilds it when either changes.
type Renderer struct {
	mu       sync.Mutex
	dark     bool
	width    int
	renderer *glamour.TermRenderer
}

// NewRenderer creates a renderer wrapping at width
func NewRenderer(width int, dark bool) *Renderer {
	if width <= 0 {
		width = 80
	}
	return &Renderer{width: width, dark: dark}
}

// SetDark switches between the dark and light styles
func (r *Renderer) SetDark(dark bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dark != dark {
		r.dark = dark
		r.renderer = nil
	}
}

// SetWidth changes the word wrap width
func (r *Renderer) SetWidth(width int) {
	if width <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.width != width {
		r.width = width
		r.renderer = nil
	}
}

// Render renders markdown for the terminal, falling back to plain text when
// glamour cannot handle the input
func (r *Renderer) Render(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.renderer == nil {
		style := "light"
		if r.dark {
			style = "dark"
		}
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStylePath(style),
			glamour.WithWordWrap(r.width),
		)
		if err != nil {
			return PlainText(markdown)
		}
		r.renderer = renderer
	}

	out, err := r.renderer.Render(markdown)
	if err != nil {
		return PlainText(markdown)
	}
	return strings.Trim(out, "\n")
}

// PlainText strips markdown syntax and keeps the readable text
func PlainText(markdown string) string {
	if markdown == "" {
		return ""
	}

	md := blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions))
	root := md.Parse([]byte(markdown))

	var b strings.Builder
	root.Walk(func(node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		switch node.Type {
		case blackfriday.Text, blackfriday.Code:
			if entering {
				b.Write(node.Literal)
			}
		case blackfriday.CodeBlock:
			b.Write(node.Literal)
			b.WriteString("\n")
		case blackfriday.Softbreak, blackfriday.Hardbreak:
			b.WriteString("\n")
		case blackfriday.Item:
			if entering {
				b.WriteString("• ")
			}
		case blackfriday.Paragraph, blackfriday.Heading:
			if !entering {
				b.WriteString("\n")
			}
		case blackfriday.List, blackfriday.BlockQuote, blackfriday.Table:
			if !entering {
				b.WriteString("\n")
			}
		case blackfriday.TableCell:
			if !entering {
				b.WriteString("\t")
			}
		case blackfriday.TableRow:
			if !entering {
				b.WriteString("\n")
			}
		}
		return blackfriday.GoToNext
	})

	text := blankLines.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(text)
}

// Preview returns the first line of the plain text, cut to max runes
func Preview(markdown string, max int) string {
	text := PlainText(markdown)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	runes := []rune(strings.TrimSpace(text))
	if max > 0 && len(runes) > max {
		if max <= 1 {
			return string(runes[:max])
		}
		return string(runes[:max-1]) + "…"
	}
	return string(runes)
}
