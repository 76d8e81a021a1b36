package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome captures what happened when a command was executed.
// It stays nil on a CommandRecord until execution completes.
type Outcome struct {
	Output      string    `json:"output"`
	ExitCode    int       `json:"exit_code"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// CommandRecord is one entry in a session's append-only transcript.
//
// A normal round produces exactly one record. An override round produces
// two: the generator's proposal marked Superseded, then the operator's
// command that actually ran. Only non-superseded, non-external records
// count toward the session's iteration limit.
type CommandRecord struct {
	Command    string        `json:"command"`
	ProposedBy CommandSource `json:"proposed_by"`
	Reasoning  string        `json:"reasoning,omitempty"`
	Superseded bool          `json:"superseded,omitempty"`
	Outcome    *Outcome      `json:"outcome,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ScanSession is the persisted state of one end-to-end scan run.
// Once Status reaches a terminal value the record is immutable; it is
// retained for history listing and report retrieval.
type ScanSession struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	ProjectID      string          `json:"project_id"`
	LaunchedBy     string          `json:"launched_by"`
	Target         string          `json:"target"`
	Mode           SessionMode     `json:"mode"`
	Status         SessionStatus   `json:"status"`
	IterationLimit int             `json:"iteration_limit"`
	// SystemPrompt steers the generator for this session when non-empty,
	// typically supplied by a preset. Empty falls back to the generator's
	// configured default.
	SystemPrompt string `json:"system_prompt,omitempty"`
	Transcript     []CommandRecord `json:"transcript"`
	Failure        string          `json:"failure,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	ReportRef      string          `json:"report_ref,omitempty"`
}

// DefaultIterationLimit bounds command rounds when the caller does not
// specify a limit.
const DefaultIterationLimit = 3

// NewSession creates a session in the pending state. Target stays empty
// until the start request supplies and validates it.
func NewSession(name, projectID, launchedBy string, mode SessionMode, iterations int) *ScanSession {
	if iterations <= 0 {
		iterations = DefaultIterationLimit
	}
	return &ScanSession{
		ID:             uuid.New().String(),
		Name:           name,
		ProjectID:      projectID,
		LaunchedBy:     launchedBy,
		Mode:           mode,
		Status:         StatusPending,
		IterationLimit: iterations,
		Transcript:     []CommandRecord{},
		CreatedAt:      time.Now(),
	}
}

// ExecutedRounds counts transcript entries that consumed an iteration:
// commands the orchestrator itself ran, excluding superseded proposals
// and externally-bridged audit entries.
func (s *ScanSession) ExecutedRounds() int {
	n := 0
	for _, rec := range s.Transcript {
		if rec.Superseded || rec.ProposedBy == SourceExternal {
			continue
		}
		n++
	}
	return n
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (s *ScanSession) Clone() *ScanSession {
	cp := *s
	cp.Transcript = make([]CommandRecord, len(s.Transcript))
	for i, rec := range s.Transcript {
		cp.Transcript[i] = rec
		if rec.Outcome != nil {
			o := *rec.Outcome
			cp.Transcript[i].Outcome = &o
		}
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
