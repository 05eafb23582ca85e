// Package syncgroup coordinates simultaneous acquisition across several
// instruments. A group holds a roster of equipment ids, waits for each
// of them to get an attached session, starts them together and reports
// member timestamps relative to the shared group start instant.
package syncgroup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pv/labacq-go/internal/acquisition"
	"github.com/pv/labacq-go/internal/logger"
)

type GroupState string

const (
	StateIdle      GroupState = "idle"
	StatePreparing GroupState = "preparing"
	StateRunning   GroupState = "running"
	StatePaused    GroupState = "paused"
	StateStopped   GroupState = "stopped"
	StateError     GroupState = "error"
)

func (s GroupState) terminal() bool {
	return s == StateStopped || s == StateError
}

var (
	ErrGroupConfigInvalid = errors.New("group config invalid")
	ErrGroupTransition    = errors.New("invalid group transition")
	ErrBarrierTimeout     = errors.New("barrier timeout: not all members became ready")
	ErrGroupNotFound      = errors.New("group not found")
	ErrMemberUnknown      = errors.New("equipment not in group roster")
	ErrMemberAttached     = errors.New("member already has a session")
	ErrMemberNotReady     = errors.New("member session must be freshly created")
)

// barrierPollInterval bounds how quickly the wait_for_all barrier
// notices a late-attaching member.
const barrierPollInterval = 5 * time.Millisecond

// GroupConfig declares the roster and the coordination policy.
//
// WaitForAll makes Start block until every roster id has an attached,
// startable session; otherwise members are started as they are
// available. AllOrNothing extends member failures to the whole group:
// a failed member start stops the siblings too.
type GroupConfig struct {
	ID             string        `json:"id"`
	MemberIDs      []string      `json:"member_ids"`
	MasterID       string        `json:"master_id,omitempty"`
	WaitForAll     bool          `json:"wait_for_all"`
	AllOrNothing   bool          `json:"all_or_nothing"`
	SyncTolerance  time.Duration `json:"sync_tolerance"`
	BarrierTimeout time.Duration `json:"barrier_timeout"`
}

func (c *GroupConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrGroupConfigInvalid)
	}
	if len(c.MemberIDs) == 0 {
		return fmt.Errorf("%w: roster is empty", ErrGroupConfigInvalid)
	}
	seen := make(map[string]bool, len(c.MemberIDs))
	for _, id := range c.MemberIDs {
		if id == "" {
			return fmt.Errorf("%w: empty equipment id in roster", ErrGroupConfigInvalid)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate equipment id %q", ErrGroupConfigInvalid, id)
		}
		seen[id] = true
	}
	if c.MasterID != "" && !seen[c.MasterID] {
		return fmt.Errorf("%w: master %q is not in the roster", ErrGroupConfigInvalid, c.MasterID)
	}
	if c.SyncTolerance < 0 {
		return fmt.Errorf("%w: sync tolerance must not be negative", ErrGroupConfigInvalid)
	}
	if c.WaitForAll && c.BarrierTimeout <= 0 {
		return fmt.Errorf("%w: wait_for_all requires a barrier timeout", ErrGroupConfigInvalid)
	}
	return nil
}

// GroupStatus is the externally visible group state
type GroupStatus struct {
	ID              string                        `json:"id"`
	State           GroupState                    `json:"state"`
	GroupStartTime  float64                       `json:"group_start_time,omitempty"`
	StartSkew       float64                       `json:"start_skew_seconds"`
	WithinTolerance bool                          `json:"within_tolerance"`
	Members         map[string]acquisition.Status `json:"members"`
	Missing         []string                      `json:"missing,omitempty"`
	LastError       string                        `json:"last_error,omitempty"`
}

// Group coordinates the sessions of its roster. It references member
// sessions but never owns their buffers; every member stays operable
// on its own.
type Group struct {
	cfg GroupConfig
	now func() float64

	mu         sync.Mutex
	state      GroupState
	members    map[string]*acquisition.Session
	groupStart float64
	startSkew  float64
	lastErr    error
}

func NewGroup(cfg GroupConfig) (*Group, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Group{
		cfg:     cfg,
		now:     acquisition.MonoNow,
		state:   StateIdle,
		members: make(map[string]*acquisition.Session, len(cfg.MemberIDs)),
	}, nil
}

func (g *Group) ID() string         { return g.cfg.ID }
func (g *Group) Config() GroupConfig { return g.cfg }

// State returns the current group state
func (g *Group) State() GroupState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// AddMember attaches a freshly created session to a roster slot. The
// first attachment moves the group from IDLE to PREPARING. Attachment
// is only possible before Start: once the group is released the roster
// membership is fixed, with or without wait_for_all.
func (g *Group) AddMember(equipmentID string, s *acquisition.Session) error {
	if !g.inRoster(equipmentID) {
		return fmt.Errorf("%w: %s", ErrMemberUnknown, equipmentID)
	}
	if s.State() != acquisition.StateCreated {
		return fmt.Errorf("%w: %s is %s", ErrMemberNotReady, equipmentID, s.State())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateIdle && g.state != StatePreparing {
		return fmt.Errorf("%w: add member while %s", ErrGroupTransition, g.state)
	}
	if _, ok := g.members[equipmentID]; ok {
		return fmt.Errorf("%w: %s", ErrMemberAttached, equipmentID)
	}

	g.members[equipmentID] = s
	if g.state == StateIdle {
		g.state = StatePreparing
	}
	return nil
}

func (g *Group) inRoster(equipmentID string) bool {
	for _, id := range g.cfg.MemberIDs {
		if id == equipmentID {
			return true
		}
	}
	return false
}

// missingLocked returns roster ids with no startable session attached
func (g *Group) missingLocked() []string {
	var missing []string
	for _, id := range g.cfg.MemberIDs {
		s, ok := g.members[id]
		if !ok || s.State() != acquisition.StateCreated {
			missing = append(missing, id)
		}
	}
	return missing
}

// Start launches the roster. Under wait_for_all it blocks, bounded by
// the barrier timeout, until every roster id has an attached session in
// CREATED state; on timeout no member is started and the group goes to
// ERROR. Without wait_for_all, whichever members are attached at this
// point are started immediately; members cannot join a running group.
//
// group_start_time is the barrier release instant under wait_for_all,
// and the earliest member start time otherwise.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StatePreparing {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrGroupTransition, state)
	}
	g.mu.Unlock()

	if g.cfg.WaitForAll {
		if err := g.awaitBarrier(ctx); err != nil {
			g.mu.Lock()
			g.lastErr = err
			g.state = StateError
			g.mu.Unlock()
			logger.Error("Group barrier failed", "group", g.cfg.ID, "error", err)
			return err
		}
		return g.release(g.now())
	}
	return g.release(0)
}

// awaitBarrier polls membership until the roster is complete. The wait
// is bounded: a stuck member must never deadlock the caller.
func (g *Group) awaitBarrier(ctx context.Context) error {
	deadline := time.Now().Add(g.cfg.BarrierTimeout)
	ticker := time.NewTicker(barrierPollInterval)
	defer ticker.Stop()

	for {
		g.mu.Lock()
		missing := g.missingLocked()
		g.mu.Unlock()
		if len(missing) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: waiting for %v", ErrBarrierTimeout, missing)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// release starts the attached members back to back and records the
// group reference instant and the achieved start skew. A non-zero
// barrierRelease becomes group_start_time; zero means no barrier ran
// and the earliest member start is used instead.
func (g *Group) release(barrierRelease float64) error {
	g.mu.Lock()
	started := make([]*acquisition.Session, 0, len(g.cfg.MemberIDs))
	var startErr error
	for _, id := range g.cfg.MemberIDs {
		s, ok := g.members[id]
		if !ok {
			continue
		}
		if err := s.Start(); err != nil {
			startErr = fmt.Errorf("member %s: %w", id, err)
			logger.Error("Group member failed to start", "group", g.cfg.ID, "equipment", id, "error", err)
			if g.cfg.AllOrNothing {
				break
			}
			continue
		}
		started = append(started, s)
	}

	if startErr != nil && (g.cfg.AllOrNothing || len(started) == 0) {
		g.lastErr = startErr
		g.state = StateError
		g.mu.Unlock()
		for _, s := range started {
			s.Stop()
		}
		return startErr
	}

	minStart, maxStart := startWindow(started)
	g.groupStart = minStart
	if barrierRelease > 0 {
		g.groupStart = barrierRelease
	}
	g.startSkew = maxStart - minStart
	g.lastErr = startErr
	g.state = StateRunning
	skew := g.startSkew
	g.mu.Unlock()

	if g.cfg.SyncTolerance > 0 && skew > g.cfg.SyncTolerance.Seconds() {
		logger.Warn("Group start skew exceeds tolerance",
			"group", g.cfg.ID, "skew", skew, "tolerance", g.cfg.SyncTolerance.Seconds())
	}
	logger.Info("Group started", "group", g.cfg.ID, "members", len(started), "skew", skew)
	return nil
}

func startWindow(started []*acquisition.Session) (min, max float64) {
	for i, s := range started {
		t := s.Status().StartTime
		if i == 0 || t < min {
			min = t
		}
		if t > max {
			max = t
		}
	}
	return min, max
}

// Pause broadcasts pause to every acquiring member
func (g *Group) Pause() error {
	g.mu.Lock()
	if g.state != StateRunning {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrGroupTransition, state)
	}
	members := g.membersLocked()
	g.state = StatePaused
	g.mu.Unlock()

	for _, s := range members {
		if err := s.Pause(); err != nil && !errors.Is(err, acquisition.ErrInvalidTransition) {
			logger.Warn("Group member pause failed", "group", g.cfg.ID, "session", s.ID(), "error", err)
		}
	}
	return nil
}

// Resume broadcasts resume to every paused member
func (g *Group) Resume() error {
	g.mu.Lock()
	if g.state != StatePaused {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", ErrGroupTransition, state)
	}
	members := g.membersLocked()
	g.state = StateRunning
	g.mu.Unlock()

	for _, s := range members {
		if err := s.Resume(); err != nil && !errors.Is(err, acquisition.ErrInvalidTransition) {
			logger.Warn("Group member resume failed", "group", g.cfg.ID, "session", s.ID(), "error", err)
		}
	}
	return nil
}

// Stop broadcasts stop to every member. Idempotent like session stop.
func (g *Group) Stop() GroupStatus {
	g.mu.Lock()
	if g.state.terminal() {
		st := g.statusLocked()
		g.mu.Unlock()
		return st
	}
	members := g.membersLocked()
	g.state = StateStopped
	g.mu.Unlock()

	for _, s := range members {
		s.Stop()
	}
	logger.Info("Group stopped", "group", g.cfg.ID)
	return g.Status()
}

func (g *Group) membersLocked() []*acquisition.Session {
	out := make([]*acquisition.Session, 0, len(g.members))
	for _, id := range g.cfg.MemberIDs {
		if s, ok := g.members[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Status reports the group and every member
func (g *Group) Status() GroupStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusLocked()
}

func (g *Group) statusLocked() GroupStatus {
	st := GroupStatus{
		ID:              g.cfg.ID,
		State:           g.state,
		GroupStartTime:  g.groupStart,
		StartSkew:       g.startSkew,
		WithinTolerance: g.cfg.SyncTolerance <= 0 || g.startSkew <= g.cfg.SyncTolerance.Seconds(),
		Members:         make(map[string]acquisition.Status, len(g.members)),
		Missing:         g.missingLocked(),
	}
	for id, s := range g.members {
		st.Members[id] = s.Status()
	}
	if g.lastErr != nil {
		st.LastError = g.lastErr.Error()
	}
	return st
}

// AlignedData returns up to n recent samples per member channel with
// timestamps shifted to the group clock: aligned_t = t - group_start.
// Cross-instrument correlation only makes sense on this shared axis.
func (g *Group) AlignedData(n int) map[string]map[string][]acquisition.Sample {
	g.mu.Lock()
	groupStart := g.groupStart
	members := make(map[string]*acquisition.Session, len(g.members))
	for id, s := range g.members {
		members[id] = s
	}
	g.mu.Unlock()

	out := make(map[string]map[string][]acquisition.Sample, len(members))
	for id, s := range members {
		channels := make(map[string][]acquisition.Sample)
		for _, ch := range s.Channels() {
			samples, err := s.Data(ch, n)
			if err != nil {
				continue
			}
			aligned := make([]acquisition.Sample, len(samples))
			for i, smp := range samples {
				aligned[i] = acquisition.Sample{Timestamp: smp.Timestamp - groupStart, Value: smp.Value}
			}
			channels[ch] = aligned
		}
		out[id] = channels
	}
	return out
}
