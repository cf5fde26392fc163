package ui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestModelUpdate_ResultsSortedByPort(t *testing.T) {
	m := NewModel("127.0.0.1", "20-100")

	newModel, _ := m.Update(ResultMsg{Port: 80, Service: "http"})
	newModel, _ = newModel.Update(ResultMsg{Port: 22, Service: "ssh", Response: "SSH-2.0-OpenSSH\r\nextra"})
	model := newModel.(Model)

	results := model.Results()
	if len(results) != 2 || results[0].Port != 22 || results[1].Port != 80 {
		t.Fatalf("unexpected results %+v", results)
	}

	view := model.View()
	if !strings.Contains(view, "2 open") {
		t.Fatalf("expected open count in view:\n%s", view)
	}
	if !strings.Contains(view, "SSH-2.0-OpenSSH") || strings.Contains(view, "extra") {
		t.Fatalf("expected first banner line only:\n%s", view)
	}
}

func TestModelUpdate_ProgressNeverGoesBack(t *testing.T) {
	m := NewModel("h", "1-4")

	newModel, _ := m.Update(ProgressMsg{Completed: 3, Total: 4, Percent: 75})
	newModel, _ = newModel.Update(ProgressMsg{Completed: 2, Total: 4, Percent: 50})
	model := newModel.(Model)

	if model.progress.Completed != 3 {
		t.Fatalf("expected completed=3, got %d", model.progress.Completed)
	}
	if !strings.Contains(model.View(), "3/4") {
		t.Fatalf("expected 3/4 in view:\n%s", model.View())
	}
}

func TestModelUpdate_DoneQuits(t *testing.T) {
	m := NewModel("h", "1-4")

	newModel, cmd := m.Update(DoneMsg{Err: errors.New("boom")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	if !strings.Contains(newModel.View(), "error: boom") {
		t.Fatalf("expected error in view:\n%s", newModel.View())
	}
}

func TestModelUpdate_QuitKey(t *testing.T) {
	m := NewModel("h", "1-4")
	newModel, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil || !newModel.(Model).Quitting() {
		t.Fatal("expected q to quit")
	}
}

type recordingSender struct {
	msgs []tea.Msg
}

func (s *recordingSender) Send(msg tea.Msg) { s.msgs = append(s.msgs, msg) }

func TestObserverForwardsMessages(t *testing.T) {
	s := &recordingSender{}
	obs := Observer{Program: s}
	obs.OnResult(7000, "unknown", "ECHO-OK")
	obs.OnProgress(4, 4, 100)

	if len(s.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(s.msgs))
	}
	if r, ok := s.msgs[0].(ResultMsg); !ok || r.Port != 7000 || r.Response != "ECHO-OK" {
		t.Fatalf("unexpected result message %#v", s.msgs[0])
	}
	if p, ok := s.msgs[1].(ProgressMsg); !ok || p.Percent != 100 {
		t.Fatalf("unexpected progress message %#v", s.msgs[1])
	}
}
