package acquisition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pv/labacq-go/internal/instrument"
	"github.com/pv/labacq-go/internal/logger"
)

type State string

const (
	StateCreated   State = "created"
	StateArmed     State = "armed"
	StateAcquiring State = "acquiring"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

// terminal reports whether no further capture can happen in this state
func (s State) terminal() bool {
	return s == StateStopped || s == StateError
}

var processStart = time.Now()

// MonoNow returns monotonic seconds since process start. All sample
// timestamps share this clock so cross-session and cross-group
// alignment is meaningful.
func MonoNow() float64 {
	return time.Since(processStart).Seconds()
}

// SampleCallback is invoked for every sample written to a main buffer,
// outside the session lock. Used to feed streaming and archiving.
type SampleCallback func(equipmentID, channel string, s Sample)

// StateCallback is invoked on every state transition, outside the lock
type StateCallback func(sessionID string, from, to State)

// Status is the externally visible session state
type Status struct {
	ID           string            `json:"id"`
	EquipmentID  string            `json:"equipment_id"`
	State        State             `json:"state"`
	TotalSamples uint64            `json:"total_samples"`
	Overruns     map[string]uint64 `json:"overruns"`
	StartTime    float64           `json:"start_time,omitempty"`
	StopTime     float64           `json:"stop_time,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
}

// Session owns one circular buffer per channel and runs one polling
// goroutine against an instrument driver. The polling loop is the sole
// writer to the buffers; control methods only flip state and manage the
// loop's lifetime.
type Session struct {
	id     string
	cfg    AcquisitionConfig
	reader instrument.Reader
	now    func() float64

	mu           sync.Mutex
	state        State
	buffers      map[string]*CircularBuffer
	pretrig      map[string]*CircularBuffer
	trigger      *Trigger
	prevTrig     Sample
	havePrev     bool
	totalSamples uint64
	startTime    float64
	acquireStart float64
	armedAt      float64
	stopTime     float64
	lastErr      error
	loopCancel   context.CancelFunc
	wg           sync.WaitGroup

	onSample SampleCallback
	onState  StateCallback
}

// NewSession validates cfg and creates a session in CREATED state
func NewSession(id string, cfg AcquisitionConfig, reader instrument.Reader) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reader == nil {
		return nil, fmt.Errorf("%w: instrument reader is required", ErrConfigInvalid)
	}

	s := &Session{
		id:      id,
		cfg:     cfg,
		reader:  reader,
		now:     MonoNow,
		state:   StateCreated,
		buffers: make(map[string]*CircularBuffer, len(cfg.Channels)),
	}
	for _, ch := range cfg.Channels {
		s.buffers[ch] = NewCircularBuffer(cfg.BufferCapacity)
	}

	if cfg.Mode == ModeTriggered {
		s.trigger = NewTrigger(*cfg.Trigger)
		if cfg.Trigger.PreTriggerSamples > 0 {
			s.pretrig = make(map[string]*CircularBuffer, len(cfg.Channels))
			for _, ch := range cfg.Channels {
				s.pretrig[ch] = NewCircularBuffer(cfg.Trigger.PreTriggerSamples)
			}
		}
	}

	return s, nil
}

func (s *Session) ID() string                { return s.id }
func (s *Session) EquipmentID() string       { return s.cfg.EquipmentID }
func (s *Session) Config() AcquisitionConfig { return s.cfg }

// SetSampleCallback installs the per-sample hook. Must be called before Start.
func (s *Session) SetSampleCallback(cb SampleCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSample = cb
}

// SetStateCallback installs the transition hook. Must be called before Start.
func (s *Session) SetStateCallback(cb StateCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = cb
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start moves CREATED to ARMED (triggered mode) or ACQUIRING and launches
// the polling loop.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateCreated {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, state)
	}

	now := s.now()
	s.startTime = now

	var to State
	if s.cfg.Mode == ModeTriggered {
		to = StateArmed
		s.armedAt = now
	} else {
		to = StateAcquiring
		s.acquireStart = now
	}
	s.setStateLocked(to)
	s.startLoopLocked()
	s.mu.Unlock()

	logger.Info("Session started", "session", s.id, "equipment", s.cfg.EquipmentID, "mode", s.cfg.Mode, "state", to)
	return nil
}

// Pause suspends polling without touching buffers or counters.
// Only valid from ACQUIRING.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StateAcquiring {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, state)
	}
	s.setStateLocked(StatePaused)
	cancel := s.loopCancel
	s.loopCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	logger.Info("Session paused", "session", s.id)
	return nil
}

// Resume restarts polling from the same buffers
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, state)
	}
	s.setStateLocked(StateAcquiring)
	s.startLoopLocked()
	s.mu.Unlock()

	logger.Info("Session resumed", "session", s.id)
	return nil
}

// Stop ends the session from any state. Idempotent: stopping a session
// that is already STOPPED (or in ERROR) is a no-op returning the final
// status. Captured data is kept.
func (s *Session) Stop() Status {
	s.mu.Lock()
	if s.state.terminal() {
		st := s.statusLocked()
		s.mu.Unlock()
		return st
	}

	if s.startTime > 0 {
		s.stopTime = s.now()
	}
	s.setStateLocked(StateStopped)
	cancel := s.loopCancel
	s.loopCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	logger.Info("Session stopped", "session", s.id)
	return s.Status()
}

// SignalExternal fires an external trigger while the session is ARMED
func (s *Session) SignalExternal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trigger == nil || s.cfg.Trigger.Type != TriggerExternal {
		return fmt.Errorf("%w: session has no external trigger", ErrInvalidTransition)
	}
	if s.state != StateArmed {
		return fmt.Errorf("%w: external signal while %s", ErrInvalidTransition, s.state)
	}
	s.trigger.SignalExternal()
	return nil
}

// Status returns a snapshot of the session's externally visible state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	st := Status{
		ID:           s.id,
		EquipmentID:  s.cfg.EquipmentID,
		State:        s.state,
		TotalSamples: s.totalSamples,
		Overruns:     make(map[string]uint64, len(s.buffers)),
		StartTime:    s.startTime,
		StopTime:     s.stopTime,
	}
	for ch, buf := range s.buffers {
		st.Overruns[ch] = buf.Overruns()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Data returns up to n most recent samples for a channel
func (s *Session) Data(channel string, n int) ([]Sample, error) {
	s.mu.Lock()
	buf, ok := s.buffers[channel]
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return buf.ReadLast(n), nil
}

// Channels returns the configured channel order
func (s *Session) Channels() []string {
	out := make([]string, len(s.cfg.Channels))
	copy(out, s.cfg.Channels)
	return out
}

// setStateLocked transitions state and schedules the callback.
// Caller holds s.mu.
func (s *Session) setStateLocked(to State) {
	from := s.state
	s.state = to
	if s.onState != nil && from != to {
		cb := s.onState
		go cb(s.id, from, to)
	}
}

func (s *Session) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	s.wg.Add(1)
	go s.pollLoop(ctx)
}

// pollLoop reads one value per channel every tick. It is the sole
// writer to the session's buffers.
func (s *Session) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := s.tick(ctx); done {
				return
			}
		}
	}
}

// tick performs one poll cycle. Returns true when the loop must exit.
func (s *Session) tick(ctx context.Context) bool {
	values, err := s.reader.ReadChannels(ctx, s.cfg.Channels)
	if err != nil {
		if ctx.Err() != nil {
			// cancelled mid-read; the control path already settled state
			return true
		}
		s.fail(err)
		return true
	}

	ts := s.now()

	s.mu.Lock()
	var written []writtenSample
	var done bool

	switch s.state {
	case StateArmed:
		written, done = s.armedTickLocked(ts, values)
	case StateAcquiring:
		written = s.captureTickLocked(ts, values)
		done = s.autoStopLocked(ts)
	default:
		// state changed under us (pause/stop); drop the tick
	}
	cb := s.onSample
	s.mu.Unlock()

	if cb != nil {
		for _, w := range written {
			cb(s.cfg.EquipmentID, w.channel, w.sample)
		}
	}
	return done
}

type writtenSample struct {
	channel string
	sample  Sample
}

// armedTickLocked feeds the trigger and the pre-trigger rings. On fire
// it splices pre-trigger data into the main buffers oldest-first, ahead
// of the triggering sample, and transitions to ACQUIRING.
func (s *Session) armedTickLocked(ts float64, values map[string]float64) ([]writtenSample, bool) {
	cur := Sample{Timestamp: ts, Value: values[s.cfg.Trigger.Channel]}
	prev := cur
	if s.havePrev {
		prev = s.prevTrig
	}

	fired := s.trigger.Evaluate(prev, cur)
	s.prevTrig = cur
	s.havePrev = true

	if !fired {
		for _, ch := range s.cfg.Channels {
			if ring, ok := s.pretrig[ch]; ok {
				ring.Write(Sample{Timestamp: ts, Value: values[ch]})
			}
		}

		if s.cfg.Trigger.Timeout > 0 && ts-s.armedAt >= s.cfg.Trigger.Timeout.Seconds() {
			if s.cfg.Trigger.StayArmed {
				return nil, false
			}
			s.lastErr = ErrTriggerTimeout
			s.stopTime = ts
			s.setStateLocked(StateStopped)
			s.cancelLoopLocked()
			logger.Warn("Trigger timeout", "session", s.id, "armed_for", ts-s.armedAt)
			return nil, true
		}
		return nil, false
	}

	var written []writtenSample
	spliced := 0
	for _, ch := range s.cfg.Channels {
		ring, ok := s.pretrig[ch]
		if !ok {
			continue
		}
		pre := ring.ReadAll()
		for _, ps := range pre {
			s.buffers[ch].Write(ps)
			written = append(written, writtenSample{channel: ch, sample: ps})
		}
		// rings fill in lockstep, so every channel spliced the same count
		spliced = len(pre)
		ring.Clear()
	}
	s.totalSamples += uint64(spliced)

	s.setStateLocked(StateAcquiring)
	s.acquireStart = ts
	written = append(written, s.captureTickLocked(ts, values)...)

	logger.Info("Trigger fired", "session", s.id, "type", s.cfg.Trigger.Type, "pre_trigger", spliced)
	return written, s.autoStopLocked(ts)
}

// captureTickLocked writes one sample per channel and counts the tick
func (s *Session) captureTickLocked(ts float64, values map[string]float64) []writtenSample {
	written := make([]writtenSample, 0, len(s.cfg.Channels))
	for _, ch := range s.cfg.Channels {
		sample := Sample{Timestamp: ts, Value: values[ch]}
		s.buffers[ch].Write(sample)
		written = append(written, writtenSample{channel: ch, sample: sample})
	}
	s.totalSamples++
	return written
}

// autoStopLocked applies the single-shot and duration caps
func (s *Session) autoStopLocked(ts float64) bool {
	limitHit := false
	if s.cfg.Mode == ModeSingleShot && s.cfg.MaxSamples > 0 && s.totalSamples >= s.cfg.MaxSamples {
		limitHit = true
	}
	if s.cfg.Duration > 0 && s.acquireStart > 0 && ts-s.acquireStart >= s.cfg.Duration.Seconds() {
		limitHit = true
	}
	if !limitHit {
		return false
	}

	s.stopTime = ts
	s.setStateLocked(StateStopped)
	s.cancelLoopLocked()
	logger.Info("Session auto-stopped", "session", s.id, "total_samples", s.totalSamples)
	return true
}

// fail transitions to ERROR, preserving all buffers
func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.terminal() {
		return
	}
	s.lastErr = err
	s.stopTime = s.now()
	s.setStateLocked(StateError)
	s.cancelLoopLocked()
	logger.Error("Session failed", "session", s.id, "error", err)
}

// cancelLoopLocked releases the loop context from within the loop itself
func (s *Session) cancelLoopLocked() {
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
}
