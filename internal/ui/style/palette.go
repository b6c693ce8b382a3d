package style

import "github.com/charmbracelet/lipgloss"

// Цветовая палитра
var (
	Cyan    = lipgloss.Color("#00E5FF") // Primary highlight
	Magenta = lipgloss.Color("#FF1B6B") // Headers
	Yellow  = lipgloss.Color("#FFB500") // Warnings
	Green   = lipgloss.Color("#2AFFAA") // Success
	Red     = lipgloss.Color("#FF5555") // Errors
	Blue    = lipgloss.Color("#3B82F6") // Info

	Base01 = lipgloss.Color("#6C7280") // Приглушенный текст
	Base2  = lipgloss.Color("#ECEFF4") // Основной текст
)

// Palette обеспечивает централизованное управление цветами
type Palette struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Info      lipgloss.Color
	Text      lipgloss.Color
	TextMuted lipgloss.Color
}

// DefaultPalette возвращает палитру по умолчанию
func DefaultPalette() Palette {
	return Palette{
		Primary:   Cyan,
		Secondary: Magenta,
		Success:   Green,
		Error:     Red,
		Warning:   Yellow,
		Info:      Blue,
		Text:      Base2,
		TextMuted: Base01,
	}
}

// Styles are the lipgloss styles shared by every report.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	Good   lipgloss.Style
	Bad    lipgloss.Style
	Warn   lipgloss.Style
	Muted  lipgloss.Style
	Header lipgloss.Style
	Cell   lipgloss.Style
	Border lipgloss.Style
	Box    lipgloss.Style
}

// NewStyles builds the styles from p.
func NewStyles(p Palette) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Foreground(p.Primary).Bold(true),
		Label:  lipgloss.NewStyle().Foreground(p.TextMuted).Width(16),
		Value:  lipgloss.NewStyle().Foreground(p.Text),
		Good:   lipgloss.NewStyle().Foreground(p.Success).Bold(true),
		Bad:    lipgloss.NewStyle().Foreground(p.Error).Bold(true),
		Warn:   lipgloss.NewStyle().Foreground(p.Warning),
		Muted:  lipgloss.NewStyle().Foreground(p.TextMuted),
		Header: lipgloss.NewStyle().Foreground(p.Secondary).Bold(true).Padding(0, 1),
		Cell:   lipgloss.NewStyle().Foreground(p.Text).Padding(0, 1),
		Border: lipgloss.NewStyle().Foreground(p.TextMuted),
		Box:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(p.TextMuted).Padding(0, 1),
	}
}
