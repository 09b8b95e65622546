// Package tui implements the interactive task board.
package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/server"
)

// programRef is a shared reference to the tea.Program for goroutine sends.
// It's set after tea.NewProgram but before p.Run().
type programRef struct {
	mu sync.Mutex
	p  *tea.Program
}

func (r *programRef) Set(p *tea.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p = p
}

func (r *programRef) Send(msg tea.Msg) {
	r.mu.Lock()
	p := r.p
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Clear nils out the program reference, preventing post-exit sends.
func (r *programRef) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p = nil
}

// Run shows the board until the user quits.
func Run(client *server.Client) error {
	ref := &programRef{}
	model := NewModel(client, ref)

	p := tea.NewProgram(model, tea.WithAltScreen())

	// Store program reference for goroutine sends
	ref.Set(p)
	defer ref.Clear()

	final, err := p.Run()
	if m, ok := final.(Model); ok {
		m.streamCancel()
	}
	return err
}
