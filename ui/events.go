package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// ResultMsg reports one open port.
type ResultMsg struct {
	Port     int
	Service  string
	Response string
}

// ProgressMsg reports a completion milestone.
type ProgressMsg struct {
	Completed int
	Total     int
	Percent   float64
}

// DoneMsg ends the program once the scan has returned.
type DoneMsg struct {
	Err error
}

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Observer forwards coordinator callbacks into a running program.
type Observer struct {
	Program Sender
}

func (o Observer) OnResult(port int, service, response string) {
	o.Program.Send(ResultMsg{Port: port, Service: service, Response: response})
}

func (o Observer) OnProgress(completed, total int, percent float64) {
	o.Program.Send(ProgressMsg{Completed: completed, Total: total, Percent: percent})
}
