// Package generator produces the next command for a scan session. The
// orchestrator treats it as an opaque collaborator: given the target and the
// prior transcript it proposes one command per round, or signals that it
// judges the assessment complete.
package generator

import (
	"strings"
)

// Proposal is the generator's answer for one round.
type Proposal struct {
	// Command is the exact string to execute. Empty when Done is set.
	Command string
	// Reasoning is the generator's free-text explanation, when provided.
	Reasoning string
	// Done signals that the generator considers the assessment finished
	// and no further rounds should run.
	Done bool
}

// doneMarker is the literal a model reply uses to terminate a session.
const doneMarker = "ASSESSMENT_COMPLETE"

// ParseReply extracts a Proposal from a model's full reply text.
//
// Two shapes are accepted:
//   - a line of the form "COMMAND: <cmd>";
//   - a fenced code block whose first non-empty line is the command.
//
// A reply containing ASSESSMENT_COMPLETE terminates the session regardless
// of any command also present. Everything outside the command itself is
// kept as Reasoning.
func ParseReply(text string) *Proposal {
	p := &Proposal{Reasoning: strings.TrimSpace(text)}

	if strings.Contains(text, doneMarker) {
		p.Done = true
		return p
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if cmd, ok := strings.CutPrefix(trimmed, "COMMAND:"); ok {
			p.Command = strings.TrimSpace(cmd)
			return p
		}
	}

	if cmd := firstFencedLine(text); cmd != "" {
		p.Command = cmd
	}
	return p
}

// firstFencedLine returns the first non-empty line inside the first fenced
// code block, or "" when the text has no complete fence.
func firstFencedLine(text string) string {
	open := strings.Index(text, "```")
	if open < 0 {
		return ""
	}
	rest := text[open+3:]
	closeIdx := strings.Index(rest, "```")
	if closeIdx < 0 {
		return ""
	}
	block := rest[:closeIdx]

	lines := strings.Split(block, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		// The opening fence's language tag shares the first line.
		if i == 0 && !strings.ContainsAny(trimmed, " \t") && len(lines) > 1 {
			continue
		}
		return trimmed
	}
	return ""
}
