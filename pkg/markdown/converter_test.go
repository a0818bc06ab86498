package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "Keep your child hydrated.", "Keep your child hydrated."},
		{"emphasis", "Give **plenty** of _fluids_ and `rest`.", "Give plenty of fluids and rest."},
		{"heading", "# Fever\n\nCheck the temperature.", "Fever\nCheck the temperature."},
		{"list", "- water\n- rest", "• water\n• rest"},
		{"link", "See [the guide](https://example.org).", "See the guide."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlainText(tt.in))
		})
	}
}

func TestPlainTextCollapsesBlankLines(t *testing.T) {
	out := PlainText("One\n\n\n\n\nTwo\n\n\n\nThree")
	assert.NotContains(t, out, "\n\n\n")
	assert.True(t, strings.HasPrefix(out, "One"))
	assert.True(t, strings.HasSuffix(out, "Three"))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "Fever", Preview("# Fever\n\nDetails follow.", 20))
	assert.Equal(t, "Paracet…", Preview("Paracetamol dosing", 8))
	assert.Equal(t, "P", Preview("Paracetamol", 1))
	assert.Equal(t, "Paracetamol", Preview("Paracetamol", 0))
	assert.Equal(t, "中文测…", Preview("中文测试文本", 4))
}

func TestRender(t *testing.T) {
	r := NewRenderer(40, true)

	assert.Equal(t, "", r.Render("  \n"))

	out := r.Render("**Rest** and fluids")
	assert.Contains(t, out, "Rest")
	assert.Contains(t, out, "fluids")
	assert.False(t, strings.HasPrefix(out, "\n"))

	r.SetDark(false)
	r.SetWidth(60)
	r.SetWidth(0)
	assert.Contains(t, r.Render("# Title"), "Title")
}

func TestNewRendererDefaultsWidth(t *testing.T) {
	r := NewRenderer(0, false)
	assert.Equal(t, 80, r.width)
}
