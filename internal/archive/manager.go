package archive

import (
	"fmt"
	"sync"
	"time"
)

// cleanupInterval spaces out the record-count trimming
const cleanupInterval = time.Minute

// Manager gates archiving through a backend. When disabled, Save is a
// cheap no-op so hot sample paths can call it unconditionally.
type Manager struct {
	mu          sync.RWMutex
	enabled     bool
	backendOpen bool
	backend     Backend
	maxRecords  int64
	lastCleanup time.Time
}

func NewManager(backend Backend, maxRecords int64) *Manager {
	return &Manager{
		backend:    backend,
		maxRecords: maxRecords,
	}
}

// Start begins archiving
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enabled {
		return nil
	}
	if err := m.backend.Open(); err != nil {
		return fmt.Errorf("open backend: %w", err)
	}

	m.enabled = true
	m.backendOpen = true
	return nil
}

// Stop stops archiving
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return nil
	}
	m.enabled = false
	m.backendOpen = false

	if err := m.backend.Close(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	return nil
}

// IsRecording reports whether archiving is active
func (m *Manager) IsRecording() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Save archives one record if archiving is enabled
func (m *Manager) Save(record Record) error {
	m.mu.RLock()
	enabled := m.enabled
	m.mu.RUnlock()

	if !enabled {
		return nil
	}
	if record.Recorded.IsZero() {
		record.Recorded = time.Now().UTC()
	}
	if err := m.backend.Save(record); err != nil {
		return fmt.Errorf("save record: %w", err)
	}

	m.mu.Lock()
	if time.Since(m.lastCleanup) > cleanupInterval {
		m.lastCleanup = time.Now()
		m.mu.Unlock()

		if err := m.backend.Cleanup(m.maxRecords); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
	} else {
		m.mu.Unlock()
	}
	return nil
}

// SaveBatch archives multiple records if archiving is enabled
func (m *Manager) SaveBatch(records []Record) error {
	m.mu.RLock()
	enabled := m.enabled
	m.mu.RUnlock()

	if !enabled {
		return nil
	}
	now := time.Now().UTC()
	for i := range records {
		if records[i].Recorded.IsZero() {
			records[i].Recorded = now
		}
	}
	if err := m.backend.SaveBatch(records); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	return nil
}

// GetStats returns archive statistics, opening the backend temporarily
// when archiving is off.
func (m *Manager) GetStats() (Stats, error) {
	m.mu.RLock()
	enabled := m.enabled
	backendOpen := m.backendOpen
	m.mu.RUnlock()

	if backendOpen {
		stats, err := m.backend.GetStats()
		if err != nil {
			return stats, fmt.Errorf("get stats: %w", err)
		}
		stats.IsRecording = enabled
		return stats, nil
	}

	if err := m.backend.Open(); err != nil {
		return Stats{IsRecording: false}, nil
	}
	defer m.backend.Close()

	stats, err := m.backend.GetStats()
	if err != nil {
		return stats, fmt.Errorf("get stats: %w", err)
	}
	stats.IsRecording = enabled
	return stats, nil
}

// GetHistory retrieves archived records matching the filter
func (m *Manager) GetHistory(filter Filter) ([]Record, error) {
	m.mu.RLock()
	backendOpen := m.backendOpen
	m.mu.RUnlock()

	if !backendOpen {
		if err := m.backend.Open(); err != nil {
			return nil, fmt.Errorf("open backend: %w", err)
		}
		defer m.backend.Close()
	}
	return m.backend.GetHistory(filter)
}

// Clear removes all archived records
func (m *Manager) Clear() error {
	m.mu.RLock()
	backendOpen := m.backendOpen
	m.mu.RUnlock()

	if !backendOpen {
		if err := m.backend.Open(); err != nil {
			return fmt.Errorf("open backend: %w", err)
		}
		defer m.backend.Close()
	}
	return m.backend.Clear()
}

// Backend returns the underlying backend
func (m *Manager) Backend() Backend {
	return m.backend
}
