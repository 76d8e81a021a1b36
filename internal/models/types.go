package models

// SessionStatus represents the lifecycle state of a scan session
type SessionStatus string

const (
	StatusPending  SessionStatus = "pending"
	StatusRunning  SessionStatus = "running"
	StatusComplete SessionStatus = "complete"
	StatusFailed   SessionStatus = "failed"
)

// Terminal reports whether the status is one the session never leaves.
func (s SessionStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// SessionMode governs whether each proposed command requires human approval
type SessionMode string

const (
	// ModeUnattended executes every proposed command without asking anyone.
	ModeUnattended SessionMode = "unattended"
	// ModeAttended pauses before each command until an operator approves
	// it or supplies an override.
	ModeAttended SessionMode = "attended"
	// ModeReasoning behaves like unattended but asks the generator for a
	// verbose explanation alongside each command, streamed to the client.
	ModeReasoning SessionMode = "reasoning"
)

// RequiresApproval reports whether commands in this mode pause for an operator.
func (m SessionMode) RequiresApproval() bool {
	return m == ModeAttended
}

// Valid reports whether m is one of the known modes.
func (m SessionMode) Valid() bool {
	switch m {
	case ModeUnattended, ModeAttended, ModeReasoning:
		return true
	}
	return false
}

// RoundPhase is the sub-state within a running session's current round
type RoundPhase string

const (
	PhaseIdle             RoundPhase = "idle"
	PhaseProposing        RoundPhase = "proposing"
	PhaseAwaitingApproval RoundPhase = "awaiting_approval"
	PhaseExecuting        RoundPhase = "executing"
)

// CommandSource identifies who put a command into the transcript
type CommandSource string

const (
	// SourceGenerator marks commands proposed by the command generator.
	SourceGenerator CommandSource = "generator"
	// SourceOperator marks override commands typed by a human approver.
	SourceOperator CommandSource = "operator"
	// SourceExternal marks commands executed outside this process and
	// bridged in via the add-command endpoint.
	SourceExternal CommandSource = "external"
)
