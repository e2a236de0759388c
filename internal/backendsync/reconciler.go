// Package backendsync keeps local chat sessions and remote agents in step.
//
// Each local session maps to at most one remote agent. New local sessions
// are pushed as agents (forward sync) and, once per sign-in, agents that
// have no local session yet are materialized locally (backfill). The agent
// id is also stored in the session metadata, so the map can be rebuilt
// from the local sessions after a restart or a sign-out.
package backendsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/chatbridge/internal/domain"
)

const placeholderPrefix = "temp_"

// createTimeout bounds a shared remote create. The create outlives the
// caller that started it because other callers may be waiting on it.
const createTimeout = 30 * time.Second

var (
	// ErrMissingSessionID is returned when a session without an id is synced.
	ErrMissingSessionID = errors.New("session has no id")

	// ErrAgentMapped is returned when an agent already belongs to another session.
	ErrAgentMapped = errors.New("agent already mapped to another session")
)

// AgentAPI is the remote agent resource.
type AgentAPI interface {
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	CreateAgent(ctx context.Context, in domain.AgentCreate) (*domain.Agent, error)
}

// LocalSessions is the local session registry.
type LocalSessions interface {
	// CreateBackground creates a session without moving the UI focus to it
	// and returns its id.
	CreateBackground(ctx context.Context, draft domain.SessionDraft) (string, error)
	List() []domain.Session
	// SetBackendAgentID records the agent in the session metadata.
	SetBackendAgentID(ctx context.Context, sessionID string, agentID int64) error
}

type entryState int

const (
	stateReserved entryState = iota
	stateCommitted
)

type entry struct {
	agentID int64
	state   entryState
}

// Result is the outcome of a forward sync.
type Result struct {
	AgentID int64
	Err     error
	// Skipped is set when no remote call was made: the mapping already
	// existed, the call was re-entrant, or the external backend is off.
	Skipped bool
}

// OK reports whether the session has a remote agent.
func (r Result) OK() bool {
	return r.Err == nil && r.AgentID != 0
}

// BackfillReport summarizes one backfill run.
type BackfillReport struct {
	Listed  int `json:"listed"`
	Adopted int `json:"adopted"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Reconciler owns the session to agent map.
type Reconciler struct {
	agents   AgentAPI
	sessions LocalSessions
	external bool
	logger   *slog.Logger

	inflight   singleflight.Group
	backfillMu sync.Mutex

	mu      sync.Mutex
	entries map[string]entry
	synced  bool
}

// New creates a reconciler. When external is false every operation is a
// no-op and backfill only marks the state as synced.
func New(agents AgentAPI, sessions LocalSessions, external bool, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		agents:   agents,
		sessions: sessions,
		external: external,
		logger:   logger,
		entries:  make(map[string]entry),
	}
}

type reservationKey struct{}

// withReservation marks ctx as belonging to the creation of the local
// session reserved under key.
func withReservation(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, reservationKey{}, key)
}

func reservationFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(reservationKey{}).(string)
	return key, ok
}

// SyncLocalToRemote creates a remote agent for session unless one is
// already mapped. Concurrent calls for the same session share one remote
// create. Errors are returned in the Result, never panicked or dropped.
func (r *Reconciler) SyncLocalToRemote(ctx context.Context, session *domain.Session) Result {
	if !r.external {
		return Result{Skipped: true}
	}
	if session == nil || session.ID == "" {
		return Result{Err: ErrMissingSessionID}
	}

	// A session created by backfill already has its agent.
	if key, ok := reservationFrom(ctx); ok {
		if e, found := r.lookup(key); found {
			r.logger.Debug("Skipping forward sync during backfill", "session_id", session.ID, "agent_id", e.agentID)
			return Result{AgentID: e.agentID, Skipped: true}
		}
	}

	if e, ok := r.lookup(session.ID); ok {
		return Result{AgentID: e.agentID, Skipped: true}
	}

	if agentID := session.Meta.BackendAgentID; agentID != 0 {
		if err := r.Register(session.ID, agentID); err != nil {
			return Result{Err: err}
		}
		return Result{AgentID: agentID, Skipped: true}
	}

	v, err, _ := r.inflight.Do(session.ID, func() (any, error) {
		if e, ok := r.lookup(session.ID); ok {
			return e.agentID, nil
		}

		createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), createTimeout)
		defer cancel()

		agent, err := r.agents.CreateAgent(createCtx, domain.MapSessionToAgent(session))
		if err != nil {
			return int64(0), err
		}

		r.mu.Lock()
		r.entries[session.ID] = entry{agentID: agent.ID, state: stateCommitted}
		r.mu.Unlock()

		if err := r.sessions.SetBackendAgentID(createCtx, session.ID, agent.ID); err != nil {
			r.logger.Warn("Failed to store agent id on session", "session_id", session.ID, "agent_id", agent.ID, "error", err)
		}

		r.logger.Info("Session synced to backend agent", "session_id", session.ID, "agent_id", agent.ID)
		return agent.ID, nil
	})
	if err != nil {
		r.logger.Warn("Failed to sync session to backend", "session_id", session.ID, "error", err)
		return Result{Err: fmt.Errorf("create agent for session %s: %w", session.ID, err)}
	}
	return Result{AgentID: v.(int64)}
}

// SyncLocalToRemoteBestEffort runs a forward sync and only logs the
// outcome. It is meant for session-created hooks.
func (r *Reconciler) SyncLocalToRemoteBestEffort(ctx context.Context, session *domain.Session) {
	res := r.SyncLocalToRemote(ctx, session)
	if res.Err != nil {
		r.logger.Debug("Best-effort sync left session without agent", "error", res.Err)
	}
}

// BackfillFromRemote creates a local session for every remote agent that
// has none. Local sessions that already carry an agent id are adopted into
// the map first. It runs once until Reset; later calls return an empty
// report. A listing failure is returned, per-agent failures are counted
// and logged.
func (r *Reconciler) BackfillFromRemote(ctx context.Context) (BackfillReport, error) {
	r.backfillMu.Lock()
	defer r.backfillMu.Unlock()

	var report BackfillReport
	if r.IsSynced() {
		return report, nil
	}
	defer r.markSynced()

	if !r.external {
		r.logger.Debug("External backend disabled, skipping backfill")
		return report, nil
	}

	report.Adopted = r.adopt()

	agents, err := r.agents.ListAgents(ctx)
	if err != nil {
		r.logger.Error("Failed to list backend agents", "error", err)
		return report, fmt.Errorf("list agents: %w", err)
	}
	report.Listed = len(agents)

	for i := range agents {
		agent := &agents[i]

		placeholder, ok := r.reserve(agent.ID)
		if !ok {
			report.Skipped++
			continue
		}

		sessionID, err := r.sessions.CreateBackground(withReservation(ctx, placeholder), domain.MapAgentToSession(agent))
		if err != nil {
			r.rollback(placeholder)
			report.Failed++
			r.logger.Warn("Failed to create local session for agent", "agent_id", agent.ID, "error", err)
			continue
		}

		r.commit(placeholder, sessionID, agent.ID)
		report.Created++
		r.logger.Info("Backfilled agent as local session", "agent_id", agent.ID, "session_id", sessionID)
	}

	r.logger.Info("Backfill finished",
		"listed", report.Listed,
		"adopted", report.Adopted,
		"created", report.Created,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report, nil
}

// GetBackendAgentID returns the committed agent for a session.
func (r *Reconciler) GetBackendAgentID(sessionID string) (int64, bool) {
	e, ok := r.lookup(sessionID)
	if !ok || e.state != stateCommitted {
		return 0, false
	}
	return e.agentID, true
}

// Register records an existing mapping, e.g. from session metadata.
func (r *Reconciler) Register(sessionID string, agentID int64) error {
	if sessionID == "" {
		return ErrMissingSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.entries {
		if e.agentID == agentID && key != sessionID {
			return fmt.Errorf("%w: agent %d belongs to %s", ErrAgentMapped, agentID, key)
		}
	}
	r.entries[sessionID] = entry{agentID: agentID, state: stateCommitted}
	return nil
}

// Snapshot returns a copy of the committed mappings.
func (r *Reconciler) Snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int64, len(r.entries))
	for key, e := range r.entries {
		if e.state == stateCommitted {
			out[key] = e.agentID
		}
	}
	return out
}

// Forget drops the mapping of a removed session.
func (r *Reconciler) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sessionID]; ok {
		delete(r.entries, sessionID)
		r.logger.Debug("Dropped agent mapping", "session_id", sessionID)
	}
}

// ForgetBestEffort is Forget in the shape of a session-removed hook.
func (r *Reconciler) ForgetBestEffort(_ context.Context, sessionID string) {
	r.Forget(sessionID)
}

// IsSynced reports whether a backfill was attempted.
func (r *Reconciler) IsSynced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.synced
}

// Reset re-arms backfill. Committed mappings are kept: the local sessions
// they point to still exist.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if e.state != stateCommitted {
			delete(r.entries, key)
		}
	}
	r.synced = false
}

// adopt registers every local session whose metadata names an agent.
func (r *Reconciler) adopt() int {
	adopted := 0
	for _, session := range r.sessions.List() {
		agentID := session.Meta.BackendAgentID
		if agentID == 0 {
			continue
		}
		if e, ok := r.lookup(session.ID); ok && e.agentID == agentID {
			continue
		}
		if err := r.Register(session.ID, agentID); err != nil {
			r.logger.Warn("Failed to adopt session mapping", "session_id", session.ID, "agent_id", agentID, "error", err)
			continue
		}
		adopted++
	}
	return adopted
}

func (r *Reconciler) lookup(key string) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e, ok
}

func (r *Reconciler) markSynced() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced = true
}

// reserve writes a placeholder entry for agentID. It fails when the agent
// is already mapped, reserved or committed.
func (r *Reconciler) reserve(agentID int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.agentID == agentID {
			return "", false
		}
	}
	key := placeholderPrefix + strconv.FormatInt(agentID, 10)
	r.entries[key] = entry{agentID: agentID, state: stateReserved}
	return key, true
}

func (r *Reconciler) commit(placeholder, sessionID string, agentID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, placeholder)
	r.entries[sessionID] = entry{agentID: agentID, state: stateCommitted}
}

func (r *Reconciler) rollback(placeholder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, placeholder)
}
