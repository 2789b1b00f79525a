package report

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/bamsammich/vigil/internal/config"
)

// Catppuccin Mocha palette, mutable so config can override.
var (
	ColorHeading = lipgloss.Color("#cba6f7")
	ColorAdded   = lipgloss.Color("#a6e3a1")
	ColorRemoved = lipgloss.Color("#f38ba8")
	ColorChanged = lipgloss.Color("#f9e2af")
	ColorMuted   = lipgloss.Color("#5a6278")
)

var (
	styleHeading lipgloss.Style
	styleAdded   lipgloss.Style
	styleRemoved lipgloss.Style
	styleChanged lipgloss.Style
	styleMuted   lipgloss.Style
)

func init() {
	rebuildStyles()
}

func rebuildStyles() {
	styleHeading = lipgloss.NewStyle().Bold(true).Foreground(ColorHeading)
	styleAdded = lipgloss.NewStyle().Foreground(ColorAdded)
	styleRemoved = lipgloss.NewStyle().Foreground(ColorRemoved)
	styleChanged = lipgloss.NewStyle().Foreground(ColorChanged)
	styleMuted = lipgloss.NewStyle().Foreground(ColorMuted)
}

// ApplyTheme overrides colors from a config ThemeConfig and rebuilds all styles.
func ApplyTheme(tc config.ThemeConfig) {
	if tc.Heading != nil {
		ColorHeading = lipgloss.Color(*tc.Heading)
	}
	if tc.Added != nil {
		ColorAdded = lipgloss.Color(*tc.Added)
	}
	if tc.Removed != nil {
		ColorRemoved = lipgloss.Color(*tc.Removed)
	}
	if tc.Changed != nil {
		ColorChanged = lipgloss.Color(*tc.Changed)
	}
	rebuildStyles()
}
