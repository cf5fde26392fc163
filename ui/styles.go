package ui

import "github.com/charmbracelet/lipgloss"

var (
	styleHeader  = lipgloss.NewStyle().Bold(true)
	styleDim     = lipgloss.NewStyle().Faint(true)
	styleAccent  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true) // blue
	styleOpen    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))            // green
	styleService = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))            // magenta
	styleBanTxt  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))           // light gray
	styleErr     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)  // red
)
