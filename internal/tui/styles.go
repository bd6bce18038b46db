package tui

import "github.com/charmbracelet/lipgloss"

// Color palette. Adaptive colors keep the dashboard readable on both light
// and dark terminals.
var (
	// ColorPrimary is the brand/accent color used for the title bar.
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7B78FF"}

	// ColorSuccess represents completed stories and steps (green).
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#16A34A", Dark: "#4ADE80"}

	// ColorWarning represents blocked stories and timeouts (amber).
	ColorWarning = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

	// ColorError represents failures (red).
	ColorError = lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#F87171"}

	// ColorMuted is a subdued foreground for secondary text.
	ColorMuted = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}

	// ColorBorder is the standard panel border color.
	ColorBorder = lipgloss.AdaptiveColor{Light: "#E5E7EB", Dark: "#374151"}
)

// Theme holds the pre-built lipgloss styles for the dashboard. Width and
// height are applied dynamically at render time, never baked into styles.
type Theme struct {
	TitleBar     lipgloss.Style
	TitleVersion lipgloss.Style

	Panel       lipgloss.Style
	PanelHeader lipgloss.Style

	EventTimestamp lipgloss.Style
	EventInfo      lipgloss.Style
	EventSuccess   lipgloss.Style
	EventWarning   lipgloss.Style
	EventError     lipgloss.Style

	StatusBar lipgloss.Style
	HelpKey   lipgloss.Style
	HelpText  lipgloss.Style

	StoryCompleted lipgloss.Style
	StoryFailed    lipgloss.Style
	StoryBlocked   lipgloss.Style
	StoryActive    lipgloss.Style
	StoryWaiting   lipgloss.Style
}

// DefaultTheme builds the standard dashboard theme.
func DefaultTheme() Theme {
	return Theme{
		TitleBar: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(ColorPrimary).
			Padding(0, 1),
		TitleVersion: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D1D5DB")).
			Background(ColorPrimary).
			Padding(0, 1),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1),
		PanelHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary),

		EventTimestamp: lipgloss.NewStyle().Foreground(ColorMuted),
		EventInfo:      lipgloss.NewStyle(),
		EventSuccess:   lipgloss.NewStyle().Foreground(ColorSuccess),
		EventWarning:   lipgloss.NewStyle().Foreground(ColorWarning),
		EventError:     lipgloss.NewStyle().Foreground(ColorError),

		StatusBar: lipgloss.NewStyle().Foreground(ColorMuted),
		HelpKey:   lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary),
		HelpText:  lipgloss.NewStyle().Foreground(ColorMuted),

		StoryCompleted: lipgloss.NewStyle().Foreground(ColorSuccess),
		StoryFailed:    lipgloss.NewStyle().Foreground(ColorError),
		StoryBlocked:   lipgloss.NewStyle().Foreground(ColorWarning),
		StoryActive:    lipgloss.NewStyle().Foreground(ColorPrimary),
		StoryWaiting:   lipgloss.NewStyle().Foreground(ColorMuted),
	}
}
