package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/farid/autostrike/internal/executor"
	"github.com/farid/autostrike/internal/generator"
	"github.com/farid/autostrike/internal/models"
)

// Generator is the minimal contract the state machine needs from a command
// proposer. Using an interface keeps the package testable without a live
// model endpoint.
type Generator interface {
	Propose(ctx context.Context, sess *models.ScanSession, onToken func(token string)) (*generator.Proposal, error)
}

// Executor runs an approved command against the target and captures output.
type Executor interface {
	Execute(ctx context.Context, command, target string) (*executor.Outcome, error)
}

// Store is the persistence contract required by the state machine.
type Store interface {
	SaveSession(sess *models.ScanSession) error
}

// ReportAssembler consumes a finished transcript and produces a persisted
// artifact reference. Opaque to the state machine.
type ReportAssembler interface {
	Assemble(sess *models.ScanSession) (string, error)
}

// Config tunes per-session policy knobs.
type Config struct {
	// ApprovalTimeout bounds how long an attended session waits for an
	// operator decision. Zero means wait forever: a session stuck in
	// awaiting_approval is a valid pending state and never auto-expires
	// unless this policy says otherwise.
	ApprovalTimeout time.Duration

	// Notify receives a completion webhook call on terminal status.
	// Nil or an empty webhook URL disables notifications.
	Notify *Notifier
}

// decision is one operator reply to a paused proposal.
type decision struct {
	approve  bool
	override string
}

// Machine owns the state of one scan session and mediates between the
// command generator, the executor, and the human approver.
//
// All mutation of session state goes through the single mutex; the two long
// waits (operator decision, command execution) happen off the lock so one
// session's pause never stalls another session or the event fan-out.
type Machine struct {
	mu    sync.Mutex
	model *models.ScanSession
	phase models.RoundPhase

	// Current-round scratch state, reset each proposal.
	roundText  strings.Builder
	pendingCmd string
	decisionCh chan decision

	cancel context.CancelFunc
	done   chan struct{}

	store   Store
	gen     Generator
	exec    Executor
	reports ReportAssembler
	events  *EventLog
	cfg     Config
	log     *logrus.Entry
}

// NewMachine wraps a pending session model in a state machine. reports may
// be nil, in which case no artifact is produced on completion.
func NewMachine(model *models.ScanSession, store Store, gen Generator, exec Executor, reports ReportAssembler, cfg Config) *Machine {
	return &Machine{
		model:   model,
		phase:   models.PhaseIdle,
		done:    make(chan struct{}),
		store:   store,
		gen:     gen,
		exec:    exec,
		reports: reports,
		events:  NewEventLog(),
		cfg:     cfg,
		log:     logrus.WithField("session_id", model.ID),
	}
}

// Events exposes the session's event log for the read adapters.
func (m *Machine) Events() *EventLog { return m.events }

// Done is closed once the session reaches a terminal status.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Start validates the target, transitions the session from pending to
// running, and schedules the first proposal round. The round loop runs on
// its own goroutine; Start returns as soon as the session is running.
func (m *Machine) Start(ctx context.Context, target string, scope *Scope) error {
	if scope == nil {
		scope = &Scope{}
	}
	if err := scope.ValidateTarget(target); err != nil {
		return err
	}

	m.mu.Lock()
	if m.model.Status != models.StatusPending {
		defer m.mu.Unlock()
		return &InvalidStateError{Op: "start", Status: m.model.Status, Phase: m.phase}
	}
	now := time.Now()
	m.model.Target = strings.TrimSpace(target)
	m.model.Status = models.StatusRunning
	m.model.StartedAt = &now
	m.persistLocked()
	m.mu.Unlock()

	m.events.Append(EventStatus, map[string]any{"status": models.StatusRunning})
	m.log.WithFields(logrus.Fields{"target": target, "mode": m.model.Mode}).Info("session started")

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(runCtx)
	return nil
}

// run drives the proposal → approval → execution loop until the iteration
// limit is reached, the generator signals it is done, or a fatal error ends
// the session.
func (m *Machine) run(ctx context.Context) {
	defer close(m.done)

	for {
		if ctx.Err() != nil {
			m.fail("session cancelled: " + ctx.Err().Error())
			return
		}

		prop, err := m.propose(ctx)
		if err != nil {
			m.fail("generator failed: " + err.Error())
			return
		}
		if prop.Done {
			m.complete()
			return
		}

		cmd, source, err := m.resolveApproval(ctx, prop)
		if err != nil {
			m.fail(err.Error())
			return
		}

		idx := m.appendRecord(cmd, source, prop.Reasoning)
		outcome, execErr := m.execute(ctx, cmd)
		m.fillOutcome(idx, outcome, execErr)
		if execErr != nil {
			// Fatal-on-first-failure; any retry policy already ran
			// inside the executor.
			m.fail("execution failed: " + execErr.Error())
			return
		}

		if m.limitReached() {
			m.complete()
			return
		}
	}
}

// propose asks the generator for the next command, streaming incremental
// output into the event log as it arrives.
func (m *Machine) propose(ctx context.Context) (*generator.Proposal, error) {
	m.mu.Lock()
	m.phase = models.PhaseProposing
	m.roundText.Reset()
	snapshot := m.model.Clone()
	m.mu.Unlock()

	onToken := func(token string) {
		m.mu.Lock()
		m.roundText.WriteString(token)
		m.mu.Unlock()
		m.events.Append(EventToken, map[string]any{"token": token})
	}

	prop, err := m.gen.Propose(ctx, snapshot, onToken)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	text := m.roundText.String()
	m.mu.Unlock()
	m.events.Append(EventEnd, map[string]any{"text": text})
	return prop, nil
}

// resolveApproval returns the command to execute for this round. Unattended
// and reasoning sessions proceed immediately; attended sessions pause until
// an operator approves the proposal or overrides it.
func (m *Machine) resolveApproval(ctx context.Context, prop *generator.Proposal) (string, models.CommandSource, error) {
	if !m.model.Mode.RequiresApproval() {
		return prop.Command, models.SourceGenerator, nil
	}

	m.mu.Lock()
	m.phase = models.PhaseAwaitingApproval
	m.pendingCmd = prop.Command
	ch := make(chan decision, 1)
	m.decisionCh = ch
	m.mu.Unlock()

	m.events.Append(EventAwaitingApproval, map[string]any{"command": prop.Command})
	m.log.WithField("command", prop.Command).Info("awaiting operator approval")

	var timeout <-chan time.Time
	if m.cfg.ApprovalTimeout > 0 {
		t := time.NewTimer(m.cfg.ApprovalTimeout)
		defer t.Stop()
		timeout = t.C
	}

	var dec decision
	select {
	case dec = <-ch:
	case <-timeout:
		// The operator may have replied in the instant the timer fired;
		// a committed decision always wins over the timeout. SubmitApproval
		// takes the channel and sends under the lock, so a nil decisionCh
		// here guarantees the decision is already in the buffer.
		m.mu.Lock()
		committed := m.decisionCh == nil
		m.decisionCh = nil
		m.pendingCmd = ""
		m.mu.Unlock()
		if !committed {
			return "", "", fmt.Errorf("approval timed out after %s", m.cfg.ApprovalTimeout)
		}
		dec = <-ch
	case <-ctx.Done():
		m.clearPending()
		return "", "", fmt.Errorf("session cancelled while awaiting approval: %w", ctx.Err())
	}

	if dec.approve {
		return prop.Command, models.SourceGenerator, nil
	}

	// Override: keep the generator's proposal in the transcript tagged as
	// superseded so the audit log shows what was suggested versus what ran.
	m.mu.Lock()
	m.model.Transcript = append(m.model.Transcript, models.CommandRecord{
		Command:    prop.Command,
		ProposedBy: models.SourceGenerator,
		Reasoning:  prop.Reasoning,
		Superseded: true,
		CreatedAt:  time.Now(),
	})
	m.persistLocked()
	m.mu.Unlock()
	m.events.Append(EventRecord, map[string]any{"command": prop.Command, "superseded": true})

	return dec.override, models.SourceOperator, nil
}

// SubmitApproval resolves a pending proposal. decision "o" approves the
// proposed command unchanged; "n" rejects it and executes override instead.
// Valid only while the session is awaiting approval; a second concurrent
// call observes InvalidStateError, so no round can execute twice.
func (m *Machine) SubmitApproval(approve bool, override string) error {
	m.mu.Lock()
	if m.model.Status != models.StatusRunning || m.phase != models.PhaseAwaitingApproval || m.decisionCh == nil {
		defer m.mu.Unlock()
		return &InvalidStateError{Op: "submit_approval", Status: m.model.Status, Phase: m.phase}
	}
	if !approve && strings.TrimSpace(override) == "" {
		m.mu.Unlock()
		return ErrOverrideRequired
	}

	ch := m.decisionCh
	m.decisionCh = nil
	m.pendingCmd = ""
	// Send before releasing the lock. The channel is buffered, so this
	// never blocks, and the timeout branch can treat a nil decisionCh as
	// proof that the decision is already committed.
	ch <- decision{approve: approve, override: strings.TrimSpace(override)}
	m.mu.Unlock()
	return nil
}

// RecordExternalCommand appends a transcript entry for a command executed
// outside this process, with a nil outcome to be filled by a later update.
// It never overwrites prior entries. Returns the record's transcript index.
func (m *Machine) RecordExternalCommand(command string) (int, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return 0, fmt.Errorf("external command must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.model.Status != models.StatusRunning {
		return 0, &InvalidStateError{Op: "record_external_command", Status: m.model.Status, Phase: m.phase}
	}
	if m.model.Mode.RequiresApproval() {
		return 0, &InvalidStateError{Op: "record_external_command", Status: m.model.Status, Phase: m.phase}
	}

	m.model.Transcript = append(m.model.Transcript, models.CommandRecord{
		Command:    command,
		ProposedBy: models.SourceExternal,
		CreatedAt:  time.Now(),
	})
	idx := len(m.model.Transcript) - 1
	m.persistLocked()

	m.events.Append(EventRecord, map[string]any{"command": command, "index": idx, "external": true})
	return idx, nil
}

// CompleteExternalCommand fills the outcome of a previously recorded
// external command. Filling is write-once: an entry whose outcome is
// already set is never overwritten, and a session that has reached a
// terminal status is immutable outright.
func (m *Machine) CompleteExternalCommand(index int, output string, exitCode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.model.Status.Terminal() {
		return &InvalidStateError{Op: "complete_external_command", Status: m.model.Status, Phase: m.phase}
	}
	if index < 0 || index >= len(m.model.Transcript) {
		return fmt.Errorf("no transcript entry at index %d", index)
	}
	rec := &m.model.Transcript[index]
	if rec.ProposedBy != models.SourceExternal || rec.Outcome != nil {
		return &InvalidStateError{Op: "complete_external_command", Status: m.model.Status, Phase: m.phase}
	}

	rec.Outcome = &models.Outcome{
		Output:      output,
		ExitCode:    exitCode,
		CompletedAt: time.Now(),
	}
	m.persistLocked()

	m.events.Append(EventRecord, map[string]any{"command": rec.Command, "index": index, "filled": true})
	return nil
}

// Cancel aborts a running session. The round loop notices on its next
// suspension point and resolves the session as failed.
func (m *Machine) Cancel() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Snapshot returns a deep copy of the session model.
func (m *Machine) Snapshot() *models.ScanSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model.Clone()
}

// PollState is the level-triggered answer to a status poll: it always
// reflects the latest pending or terminal state, however many intermediate
// transitions the client missed.
type PollState struct {
	Status      models.SessionStatus `json:"status"`
	Phase       models.RoundPhase    `json:"phase"`
	Command     string               `json:"command,omitempty"`
	LLMResponse string               `json:"llm_response,omitempty"`
	Failure     string               `json:"failure,omitempty"`
}

// Poll reports the current round's state for the pull-style status query.
func (m *Machine) Poll() PollState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := PollState{
		Status:      m.model.Status,
		Phase:       m.phase,
		Command:     m.pendingCmd,
		LLMResponse: m.roundText.String(),
		Failure:     m.model.Failure,
	}
	if st.Command == "" && m.phase == models.PhaseExecuting && len(m.model.Transcript) > 0 {
		st.Command = m.model.Transcript[len(m.model.Transcript)-1].Command
	}
	return st
}

// ── Round-loop internals ──────────────────────────────────────────────────────

// appendRecord adds the record for the command about to execute and flips
// the phase to executing.
func (m *Machine) appendRecord(cmd string, source models.CommandSource, reasoning string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.phase = models.PhaseExecuting
	m.pendingCmd = ""
	m.model.Transcript = append(m.model.Transcript, models.CommandRecord{
		Command:    cmd,
		ProposedBy: source,
		Reasoning:  reasoning,
		CreatedAt:  time.Now(),
	})
	idx := len(m.model.Transcript) - 1
	m.persistLocked()

	m.events.Append(EventRecord, map[string]any{"command": cmd, "index": idx})
	return idx
}

// execute runs the command off the lock; transcript ordering follows
// completion time because fillOutcome is the only writer for this entry.
func (m *Machine) execute(ctx context.Context, cmd string) (*executor.Outcome, error) {
	m.log.WithField("command", cmd).Info("executing command")
	return m.exec.Execute(ctx, cmd, m.model.Target)
}

// fillOutcome records the execution result on the transcript entry at idx.
// Failed executions are recorded too; the transcript is the audit log.
func (m *Machine) fillOutcome(idx int, outcome *executor.Outcome, execErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &m.model.Transcript[idx]
	o := &models.Outcome{CompletedAt: time.Now()}
	if outcome != nil {
		o.Output = outcome.Output
		o.ExitCode = outcome.ExitCode
	}
	if execErr != nil {
		o.Error = execErr.Error()
	}
	rec.Outcome = o
	m.persistLocked()

	m.events.Append(EventRecord, map[string]any{"command": rec.Command, "index": idx, "filled": true})
}

// limitReached reports whether the session has used up its command rounds.
func (m *Machine) limitReached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model.ExecutedRounds() >= m.model.IterationLimit
}

// clearPending drops approval scratch state after a timeout or cancel.
func (m *Machine) clearPending() {
	m.mu.Lock()
	m.decisionCh = nil
	m.pendingCmd = ""
	m.mu.Unlock()
}

// complete resolves the session as successful and invokes the report
// assembler on the finished transcript.
func (m *Machine) complete() {
	m.mu.Lock()
	m.phase = models.PhaseIdle
	m.model.Status = models.StatusComplete
	now := time.Now()
	m.model.FinishedAt = &now
	snapshot := m.model.Clone()
	m.mu.Unlock()

	// Assemble the artifact before the terminal persist; stored terminal
	// records are immutable.
	if m.reports != nil {
		ref, err := m.reports.Assemble(snapshot)
		if err != nil {
			// Non-fatal: the session itself completed.
			m.log.WithError(err).Warn("report assembly failed")
		} else {
			m.mu.Lock()
			m.model.ReportRef = ref
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	m.persistLocked()
	snapshot = m.model.Clone()
	m.mu.Unlock()

	m.events.Append(EventStatus, map[string]any{"status": models.StatusComplete})
	m.log.WithField("rounds", snapshot.ExecutedRounds()).Info("session complete")
	m.notifyCompletion(snapshot)
}

// fail resolves the session as failed with the given reason.
func (m *Machine) fail(reason string) {
	m.mu.Lock()
	m.phase = models.PhaseIdle
	m.model.Status = models.StatusFailed
	m.model.Failure = reason
	now := time.Now()
	m.model.FinishedAt = &now
	m.persistLocked()
	snapshot := m.model.Clone()
	m.mu.Unlock()

	m.events.Append(EventStatus, map[string]any{"status": models.StatusFailed, "failure": reason})
	m.log.WithField("reason", reason).Warn("session failed")
	m.notifyCompletion(snapshot)
}

// notifyCompletion fires the completion webhook; failures are warnings.
func (m *Machine) notifyCompletion(snapshot *models.ScanSession) {
	if err := m.cfg.Notify.SendCompletion(snapshot); err != nil {
		m.log.WithError(err).Warn("completion notification failed")
	}
}

// persistLocked saves the session snapshot. Persistence errors are warnings:
// the in-memory machine remains authoritative and a later save retries the
// full snapshot.
func (m *Machine) persistLocked() {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSession(m.model.Clone()); err != nil {
		m.log.WithError(err).Warn("could not persist session state")
	}
}
