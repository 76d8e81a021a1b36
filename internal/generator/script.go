package generator

import (
	"context"
	"strings"
	"sync"

	"github.com/farid/autostrike/internal/models"
)

// Script is a deterministic generator that proposes a fixed command list in
// order and signals done when the list is exhausted. It backs offline runs
// and the reachability check, and keeps tests independent of a live model.
type Script struct {
	mu       sync.Mutex
	commands []string
	next     int
}

// NewScript builds a scripted generator. The {{target}} placeholder in a
// command is replaced with the session's target at proposal time.
func NewScript(commands []string) *Script {
	return &Script{commands: commands}
}

// Propose returns the next scripted command, or Done when none remain.
func (s *Script) Propose(_ context.Context, sess *models.ScanSession, onToken func(token string)) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.commands) {
		if onToken != nil {
			onToken(doneMarker)
		}
		return &Proposal{Reasoning: doneMarker, Done: true}, nil
	}

	cmd := strings.ReplaceAll(s.commands[s.next], "{{target}}", sess.Target)
	s.next++

	if onToken != nil {
		onToken("COMMAND: " + cmd)
	}
	return &Proposal{Command: cmd, Reasoning: "scripted command"}, nil
}
