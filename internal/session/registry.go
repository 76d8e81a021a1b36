package session

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/farid/autostrike/internal/models"
)

// Registry is the process-wide map from session id to its state machine.
// It is the only shared mutable structure between sessions; each machine
// serializes its own state independently, so sessions never contend beyond
// the map lookups here.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*Machine

	baseCtx context.Context
	store   Store
	gen     Generator
	exec    Executor
	reports ReportAssembler
	scope   *Scope
	cfg     Config
}

// NewRegistry builds a registry whose sessions run under baseCtx; cancelling
// it (or calling Drain) stops every running session.
func NewRegistry(baseCtx context.Context, store Store, gen Generator, exec Executor, reports ReportAssembler, scope *Scope, cfg Config) *Registry {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Registry{
		machines: make(map[string]*Machine),
		baseCtx:  baseCtx,
		store:    store,
		gen:      gen,
		exec:     exec,
		reports:  reports,
		scope:    scope,
		cfg:      cfg,
	}
}

// Create registers a new pending session and returns its snapshot. A
// non-empty prompt overrides the generator's default instruction for this
// session only.
func (r *Registry) Create(name, projectID, launchedBy string, mode models.SessionMode, iterations int, prompt string) (*models.ScanSession, error) {
	model := models.NewSession(name, projectID, launchedBy, mode, iterations)
	model.SystemPrompt = prompt
	if r.store != nil {
		if err := r.store.SaveSession(model.Clone()); err != nil {
			return nil, err
		}
	}

	m := NewMachine(model, r.store, r.gen, r.exec, r.reports, r.cfg)

	r.mu.Lock()
	r.machines[model.ID] = m
	r.mu.Unlock()

	return model.Clone(), nil
}

// Get returns the live machine for id, or ErrSessionNotFound.
func (r *Registry) Get(id string) (*Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.machines[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return m, nil
}

// Start validates the target and begins the session's round loop.
func (r *Registry) Start(id, target string) error {
	m, err := r.Get(id)
	if err != nil {
		return err
	}
	return m.Start(r.baseCtx, target, r.scope)
}

// Active returns snapshots of every registered session, newest first.
func (r *Registry) Active() []*models.ScanSession {
	r.mu.RLock()
	machines := make([]*Machine, 0, len(r.machines))
	for _, m := range r.machines {
		machines = append(machines, m)
	}
	r.mu.RUnlock()

	out := make([]*models.ScanSession, 0, len(machines))
	for _, m := range machines {
		out = append(out, m.Snapshot())
	}
	sortSessionsNewestFirst(out)
	return out
}

// Drain cancels every running session and waits (bounded by ctx) for their
// round loops to resolve a terminal status.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.RLock()
	machines := make([]*Machine, 0, len(r.machines))
	for _, m := range r.machines {
		machines = append(machines, m)
	}
	r.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, m := range machines {
		m := m
		// Only running sessions have a round loop to wait on; pending ones
		// never opened their Done channel and terminal ones already closed it.
		if m.Snapshot().Status != models.StatusRunning {
			continue
		}
		m.Cancel()
		g.Go(func() error {
			select {
			case <-m.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}

// sortSessionsNewestFirst orders by CreatedAt descending.
func sortSessionsNewestFirst(sessions []*models.ScanSession) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}
