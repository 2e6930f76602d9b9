package output

import "github.com/charmbracelet/lipgloss"

// Styles holds the text-mode styles.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	// NodeID highlights manifest node ids and registry keys.
	NodeID lipgloss.Style
	Added  lipgloss.Style
	Remove lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) *Styles {
	return &Styles{
		Header1: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Header2: r.NewStyle().Bold(true),
		Bold:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		Success: r.NewStyle().Foreground(lipgloss.Color("10")),
		Warning: r.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   r.NewStyle().Foreground(lipgloss.Color("9")),
		NodeID:  r.NewStyle().Foreground(lipgloss.Color("14")),
		Added:   r.NewStyle().Foreground(lipgloss.Color("10")),
		Remove:  r.NewStyle().Foreground(lipgloss.Color("9")),
	}
}
