package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farid/autostrike/internal/executor"
	"github.com/farid/autostrike/internal/generator"
	"github.com/farid/autostrike/internal/models"
)

// memStore keeps session snapshots in memory.
type memStore struct {
	mu    sync.Mutex
	saved map[string]*models.ScanSession
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]*models.ScanSession)}
}

func (s *memStore) SaveSession(sess *models.ScanSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[sess.ID] = sess
	return nil
}

// stubExec returns canned outcomes, optionally blocking until released.
type stubExec struct {
	mu      sync.Mutex
	failOn  string
	block   chan struct{}
	calls   []string
	elapsed time.Duration
}

func (e *stubExec) Execute(ctx context.Context, command, target string) (*executor.Outcome, error) {
	e.mu.Lock()
	e.calls = append(e.calls, command)
	block := e.block
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &executor.ExecutionError{Command: command, Err: ctx.Err()}
		}
	}
	if e.failOn != "" && command == e.failOn {
		return &executor.Outcome{Stderr: "boom", ExitCode: 1},
			&executor.ExecutionError{Command: command, ExitCode: 1, Stderr: "boom"}
	}
	return &executor.Outcome{Output: "ok: " + command, Elapsed: e.elapsed}, nil
}

func (e *stubExec) commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func newMachine(t *testing.T, mode models.SessionMode, iterations int, gen Generator, exec Executor, cfg Config) *Machine {
	t.Helper()
	model := models.NewSession("test", "proj", "tester", mode, iterations)
	return NewMachine(model, newMemStore(), gen, exec, nil, cfg)
}

func waitDone(t *testing.T, m *Machine) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not reach a terminal status")
	}
}

func waitPhase(t *testing.T, m *Machine, phase models.RoundPhase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Poll().Phase == phase
	}, 5*time.Second, 5*time.Millisecond, "session never reached phase %s", phase)
}

func TestStartRejectsEmptyTarget(t *testing.T) {
	m := newMachine(t, models.ModeUnattended, 3, generator.NewScript(nil), &stubExec{}, Config{})

	err := m.Start(context.Background(), "", nil)

	var ite *InvalidTargetError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, models.StatusPending, m.Snapshot().Status)
	assert.Nil(t, m.Snapshot().StartedAt)
}

func TestStartRejectsMalformedTarget(t *testing.T) {
	m := newMachine(t, models.ModeUnattended, 3, generator.NewScript(nil), &stubExec{}, Config{})

	err := m.Start(context.Background(), "not a target!", nil)

	var ite *InvalidTargetError
	require.ErrorAs(t, err, &ite)
}

func TestStartTransitionsToRunning(t *testing.T) {
	gen := generator.NewScript([]string{"nmap -sV {{target}}"})
	m := newMachine(t, models.ModeUnattended, 3, gen, &stubExec{}, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitDone(t, m)

	snap := m.Snapshot()
	assert.Equal(t, "10.0.0.5", snap.Target)
	assert.NotNil(t, snap.StartedAt)
}

func TestStartTwiceFails(t *testing.T) {
	exec := &stubExec{block: make(chan struct{})}
	gen := generator.NewScript([]string{"cmd-1", "cmd-2"})
	m := newMachine(t, models.ModeUnattended, 2, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))

	err := m.Start(context.Background(), "10.0.0.5", nil)
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)

	close(exec.block)
	waitDone(t, m)
}

func TestUnattendedRunsExactlyIterationLimitRounds(t *testing.T) {
	// Five scripted commands but a limit of three: the session must stop
	// after exactly three rounds, never four.
	gen := generator.NewScript([]string{"c1", "c2", "c3", "c4", "c5"})
	exec := &stubExec{}
	m := newMachine(t, models.ModeUnattended, 3, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitDone(t, m)

	snap := m.Snapshot()
	assert.Equal(t, models.StatusComplete, snap.Status)
	assert.Equal(t, 3, snap.ExecutedRounds())
	assert.Equal(t, []string{"c1", "c2", "c3"}, exec.commands())
}

func TestGeneratorDoneEndsSessionEarly(t *testing.T) {
	gen := generator.NewScript([]string{"c1"}) // done after one command
	exec := &stubExec{}
	m := newMachine(t, models.ModeUnattended, 10, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitDone(t, m)

	snap := m.Snapshot()
	assert.Equal(t, models.StatusComplete, snap.Status)
	assert.Equal(t, 1, snap.ExecutedRounds())
}

func TestExecutionFailureIsFatalAndRecorded(t *testing.T) {
	gen := generator.NewScript([]string{"good", "bad", "never"})
	exec := &stubExec{failOn: "bad"}
	m := newMachine(t, models.ModeUnattended, 5, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitDone(t, m)

	snap := m.Snapshot()
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.NotEmpty(t, snap.Failure)

	// The failed command stays in the transcript with its outcome filled.
	require.Len(t, snap.Transcript, 2)
	last := snap.Transcript[1]
	assert.Equal(t, "bad", last.Command)
	require.NotNil(t, last.Outcome)
	assert.NotEmpty(t, last.Outcome.Error)

	assert.Equal(t, []string{"good", "bad"}, exec.commands())
}

func TestFinishedAtSetExactlyOnTerminal(t *testing.T) {
	exec := &stubExec{block: make(chan struct{})}
	gen := generator.NewScript([]string{"c1"})
	m := newMachine(t, models.ModeUnattended, 1, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitPhase(t, m, models.PhaseExecuting)
	assert.Nil(t, m.Snapshot().FinishedAt, "finished_at must be nil while running")

	close(exec.block)
	waitDone(t, m)

	snap := m.Snapshot()
	assert.True(t, snap.Status.Terminal())
	assert.NotNil(t, snap.FinishedAt)
}

func TestTranscriptBoundedWhileRunning(t *testing.T) {
	exec := &stubExec{}
	gen := generator.NewScript([]string{"c1", "c2", "c3", "c4"})
	m := newMachine(t, models.ModeUnattended, 2, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))

	for m.Poll().Status == models.StatusRunning {
		snap := m.Snapshot()
		assert.LessOrEqual(t, snap.ExecutedRounds(), snap.IterationLimit)
		time.Sleep(time.Millisecond)
	}
	waitDone(t, m)
}

func TestAttendedApproveRunsProposedCommand(t *testing.T) {
	gen := generator.NewScript([]string{"proposed-cmd"})
	exec := &stubExec{}
	m := newMachine(t, models.ModeAttended, 1, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitPhase(t, m, models.PhaseAwaitingApproval)

	poll := m.Poll()
	assert.Equal(t, "proposed-cmd", poll.Command)

	require.NoError(t, m.SubmitApproval(true, ""))
	waitDone(t, m)

	snap := m.Snapshot()
	assert.Equal(t, models.StatusComplete, snap.Status)
	require.Len(t, snap.Transcript, 1)
	assert.Equal(t, "proposed-cmd", snap.Transcript[0].Command)
	assert.Equal(t, models.SourceGenerator, snap.Transcript[0].ProposedBy)
	assert.False(t, snap.Transcript[0].Superseded)
}

func TestAttendedOverrideKeepsSupersededProposal(t *testing.T) {
	gen := generator.NewScript([]string{"proposed-cmd"})
	exec := &stubExec{}
	m := newMachine(t, models.ModeAttended, 1, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitPhase(t, m, models.PhaseAwaitingApproval)

	require.NoError(t, m.SubmitApproval(false, "operator-cmd"))
	waitDone(t, m)

	snap := m.Snapshot()
	assert.Equal(t, models.StatusComplete, snap.Status)

	// Override grows the transcript by two for the round: the superseded
	// proposal and the command that actually ran.
	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, "proposed-cmd", snap.Transcript[0].Command)
	assert.True(t, snap.Transcript[0].Superseded)
	assert.Nil(t, snap.Transcript[0].Outcome, "a superseded proposal never executes")

	assert.Equal(t, "operator-cmd", snap.Transcript[1].Command)
	assert.Equal(t, models.SourceOperator, snap.Transcript[1].ProposedBy)
	require.NotNil(t, snap.Transcript[1].Outcome)

	assert.Equal(t, []string{"operator-cmd"}, exec.commands())
	assert.Equal(t, 1, snap.ExecutedRounds())
}

func TestOverrideRequiresCommand(t *testing.T) {
	gen := generator.NewScript([]string{"proposed-cmd"})
	m := newMachine(t, models.ModeAttended, 1, gen, &stubExec{}, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitPhase(t, m, models.PhaseAwaitingApproval)

	err := m.SubmitApproval(false, "  ")
	require.ErrorIs(t, err, ErrOverrideRequired)

	// The proposal is still pending; a proper approval works.
	require.NoError(t, m.SubmitApproval(true, ""))
	waitDone(t, m)
}

func TestSubmitApprovalOutsidePauseFails(t *testing.T) {
	gen := generator.NewScript([]string{"c1"})
	m := newMachine(t, models.ModeUnattended, 1, gen, &stubExec{}, Config{})

	before := len(m.Snapshot().Transcript)
	err := m.SubmitApproval(true, "")
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Len(t, m.Snapshot().Transcript, before, "failed approval must not touch the transcript")

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitDone(t, m)

	err = m.SubmitApproval(true, "")
	require.ErrorAs(t, err, &ise)
}

func TestConcurrentApprovalsOnlyOneWins(t *testing.T) {
	gen := generator.NewScript([]string{"proposed-cmd"})
	exec := &stubExec{}
	m := newMachine(t, models.ModeAttended, 1, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitPhase(t, m, models.PhaseAwaitingApproval)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.SubmitApproval(true, "")
		}(i)
	}
	wg.Wait()
	waitDone(t, m)

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var ise *InvalidStateError
		assert.ErrorAs(t, err, &ise)
	}
	assert.Equal(t, 1, succeeded, "exactly one approval may resolve the round")
	assert.Equal(t, []string{"proposed-cmd"}, exec.commands(), "the round must not execute twice")
}

func TestApprovalTimeoutFailsSession(t *testing.T) {
	gen := generator.NewScript([]string{"proposed-cmd"})
	m := newMachine(t, models.ModeAttended, 1, gen, &stubExec{}, Config{ApprovalTimeout: 30 * time.Millisecond})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitDone(t, m)

	snap := m.Snapshot()
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.Contains(t, snap.Failure, "approval timed out")
}

func TestApprovalAcceptedNearTimeoutWins(t *testing.T) {
	// An approval SubmitApproval accepted must resolve the round even when
	// the approval timer fires at the same instant. Repeat with a timeout
	// short enough that the two race.
	for i := 0; i < 20; i++ {
		gen := generator.NewScript([]string{"proposed-cmd"})
		exec := &stubExec{}
		m := newMachine(t, models.ModeAttended, 1, gen, exec, Config{ApprovalTimeout: 2 * time.Millisecond})

		require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))

		approved := false
		for {
			if err := m.SubmitApproval(true, ""); err == nil {
				approved = true
				break
			}
			if m.Poll().Status != models.StatusRunning {
				break
			}
		}
		waitDone(t, m)

		snap := m.Snapshot()
		if approved {
			assert.Equal(t, models.StatusComplete, snap.Status,
				"accepted approval lost to the timeout: %q", snap.Failure)
			assert.Equal(t, []string{"proposed-cmd"}, exec.commands())
		} else {
			assert.Equal(t, models.StatusFailed, snap.Status)
		}
	}
}

func TestPollIsStableDuringLongExecution(t *testing.T) {
	exec := &stubExec{block: make(chan struct{})}
	gen := generator.NewScript([]string{"slow-cmd"})
	m := newMachine(t, models.ModeUnattended, 1, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitPhase(t, m, models.PhaseExecuting)

	// Repeated polls during a long round keep answering the same pending
	// state; no spurious transitions.
	for i := 0; i < 20; i++ {
		poll := m.Poll()
		assert.Equal(t, models.StatusRunning, poll.Status)
		assert.Equal(t, models.PhaseExecuting, poll.Phase)
		assert.Equal(t, "slow-cmd", poll.Command)
	}

	close(exec.block)
	waitDone(t, m)
	assert.Equal(t, models.StatusComplete, m.Poll().Status)
}

func TestRecordExternalCommand(t *testing.T) {
	exec := &stubExec{block: make(chan struct{})}
	gen := generator.NewScript([]string{"internal-cmd"})
	m := newMachine(t, models.ModeUnattended, 1, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitPhase(t, m, models.PhaseExecuting)

	idx, err := m.RecordExternalCommand("external-cmd")
	require.NoError(t, err)

	rec := m.Snapshot().Transcript[idx]
	assert.Equal(t, "external-cmd", rec.Command)
	assert.Equal(t, models.SourceExternal, rec.ProposedBy)
	assert.Nil(t, rec.Outcome)

	// A later update fills the outcome exactly once.
	require.NoError(t, m.CompleteExternalCommand(idx, "some output", 0))
	err = m.CompleteExternalCommand(idx, "other output", 1)
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)

	rec = m.Snapshot().Transcript[idx]
	require.NotNil(t, rec.Outcome)
	assert.Equal(t, "some output", rec.Outcome.Output)

	// External entries never consume iteration rounds.
	assert.Equal(t, 0, m.Snapshot().ExecutedRounds()-countInternal(m))

	close(exec.block)
	waitDone(t, m)
}

// countInternal counts executed rounds excluding external bridging,
// mirroring ExecutedRounds; the helper keeps the assertion above readable.
func countInternal(m *Machine) int {
	n := 0
	for _, rec := range m.Snapshot().Transcript {
		if rec.Superseded || rec.ProposedBy == models.SourceExternal {
			continue
		}
		n++
	}
	return n
}

func TestCompleteExternalCommandRejectedAfterTerminal(t *testing.T) {
	exec := &stubExec{block: make(chan struct{})}
	gen := generator.NewScript([]string{"internal-cmd"})
	m := newMachine(t, models.ModeUnattended, 1, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitPhase(t, m, models.PhaseExecuting)

	idx, err := m.RecordExternalCommand("external-cmd")
	require.NoError(t, err)

	close(exec.block)
	waitDone(t, m)
	require.True(t, m.Snapshot().Status.Terminal())

	// A finished session's transcript is settled; late results are refused.
	err = m.CompleteExternalCommand(idx, "late output", 0)
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Nil(t, m.Snapshot().Transcript[idx].Outcome)
}

func TestRecordExternalCommandRejectedWhenNotRunning(t *testing.T) {
	gen := generator.NewScript(nil)
	m := newMachine(t, models.ModeUnattended, 1, gen, &stubExec{}, Config{})

	_, err := m.RecordExternalCommand("cmd")
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
}

func TestRecordExternalCommandRejectedInAttendedMode(t *testing.T) {
	gen := generator.NewScript([]string{"c1"})
	m := newMachine(t, models.ModeAttended, 1, gen, &stubExec{}, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitPhase(t, m, models.PhaseAwaitingApproval)

	_, err := m.RecordExternalCommand("cmd")
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)

	require.NoError(t, m.SubmitApproval(true, ""))
	waitDone(t, m)
}

func TestCancelResolvesSessionAsFailed(t *testing.T) {
	exec := &stubExec{block: make(chan struct{})}
	gen := generator.NewScript([]string{"slow"})
	m := newMachine(t, models.ModeUnattended, 1, gen, exec, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitPhase(t, m, models.PhaseExecuting)

	m.Cancel()
	waitDone(t, m)

	assert.Equal(t, models.StatusFailed, m.Snapshot().Status)
}

// errGen always fails; the session must resolve as failed, not hang.
type errGen struct{}

func (errGen) Propose(context.Context, *models.ScanSession, func(string)) (*generator.Proposal, error) {
	return nil, errors.New("model unreachable")
}

func TestGeneratorErrorFailsSession(t *testing.T) {
	m := newMachine(t, models.ModeUnattended, 3, errGen{}, &stubExec{}, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitDone(t, m)

	snap := m.Snapshot()
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.Contains(t, snap.Failure, "generator failed")
	assert.Empty(t, snap.Transcript)
}

func TestReportAssembledOnCompletion(t *testing.T) {
	gen := generator.NewScript([]string{"c1"})
	model := models.NewSession("test", "proj", "tester", models.ModeUnattended, 1)
	m := NewMachine(model, newMemStore(), gen, &stubExec{}, stubReports{}, Config{})

	require.NoError(t, m.Start(context.Background(), "10.0.0.5", nil))
	waitDone(t, m)

	snap := m.Snapshot()
	assert.Equal(t, models.StatusComplete, snap.Status)
	assert.Equal(t, fmt.Sprintf("reports/%s.md", snap.ID), snap.ReportRef)
}

type stubReports struct{}

func (stubReports) Assemble(sess *models.ScanSession) (string, error) {
	return fmt.Sprintf("reports/%s.md", sess.ID), nil
}
