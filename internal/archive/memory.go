package archive

import (
	"sync"
)

// MemoryBackend keeps records in process memory. Useful for tests and
// for deployments that only need the live buffers.
type MemoryBackend struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Open() error  { return nil }
func (m *MemoryBackend) Close() error { return nil }

func (m *MemoryBackend) Save(record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *MemoryBackend) SaveBatch(records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *MemoryBackend) GetHistory(filter Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, r := range m.records {
		if !matches(r, filter) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(r Record, f Filter) bool {
	if f.EquipmentID != "" && r.EquipmentID != f.EquipmentID {
		return false
	}
	if f.Channel != "" && r.Channel != f.Channel {
		return false
	}
	if f.From != nil && r.Recorded.Before(*f.From) {
		return false
	}
	if f.To != nil && r.Recorded.After(*f.To) {
		return false
	}
	return true
}

func (m *MemoryBackend) GetStats() (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{RecordCount: int64(len(m.records))}
	for i, r := range m.records {
		if i == 0 || r.Recorded.Before(st.OldestRecord) {
			st.OldestRecord = r.Recorded
		}
		if r.Recorded.After(st.NewestRecord) {
			st.NewestRecord = r.Recorded
		}
	}
	return st, nil
}

func (m *MemoryBackend) Cleanup(maxRecords int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxRecords <= 0 || int64(len(m.records)) <= maxRecords {
		return nil
	}
	excess := int64(len(m.records)) - maxRecords
	m.records = append([]Record(nil), m.records[excess:]...)
	return nil
}

func (m *MemoryBackend) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	return nil
}
