package acquisition

import (
	"fmt"
	"sync"

	"github.com/pv/labacq-go/internal/instrument"
)

// Manager is the explicit session registry. Collaborators address
// sessions by id through it; there is no package-global state.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	nextSeq  uint64

	onSample SampleCallback
	onState  StateCallback
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// SetSampleCallback installs a hook applied to every session created
// afterwards. Used by the server to wire streaming, archiving and metrics.
func (m *Manager) SetSampleCallback(cb SampleCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSample = cb
}

// SetStateCallback installs a transition hook applied to every session
// created afterwards.
func (m *Manager) SetStateCallback(cb StateCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = cb
}

// Create validates the config and registers a new session
func (m *Manager) Create(cfg AcquisitionConfig, reader instrument.Reader) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSeq++
	id := fmt.Sprintf("%s-%d", cfg.EquipmentID, m.nextSeq)

	s, err := NewSession(id, cfg, reader)
	if err != nil {
		m.nextSeq--
		return nil, err
	}

	if m.onSample != nil {
		s.SetSampleCallback(m.onSample)
	}
	if m.onState != nil {
		s.SetStateCallback(m.onState)
	}

	m.sessions[id] = s
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns the status of every registered session
func (m *Manager) List() []Status {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	statuses := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		statuses = append(statuses, s.Status())
	}
	return statuses
}

// Remove stops a session and drops it from the registry
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Stop()
	return nil
}

func (m *Manager) Start(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Start()
}

func (m *Manager) Stop(id string) (Status, error) {
	s, err := m.Get(id)
	if err != nil {
		return Status{}, err
	}
	return s.Stop(), nil
}

func (m *Manager) Pause(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Pause()
}

func (m *Manager) Resume(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Resume()
}

func (m *Manager) Status(id string) (Status, error) {
	s, err := m.Get(id)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

func (m *Manager) Data(id, channel string, n int) ([]Sample, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Data(channel, n)
}

// SignalExternal forwards an external trigger signal to a session
func (m *Manager) SignalExternal(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.SignalExternal()
}

// StopAll stops every registered session; used at shutdown
func (m *Manager) StopAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Stop()
	}
}
