package archive

import (
	"testing"
	"time"
)

func record(equipment, channel string, value float64) Record {
	return Record{
		EquipmentID: equipment,
		Channel:     channel,
		Value:       value,
		Timestamp:   value,
		Recorded:    time.Now().UTC(),
	}
}

func TestManagerGatesSaves(t *testing.T) {
	backend := NewMemoryBackend()
	m := NewManager(backend, 1000)

	// disabled: save is a silent no-op
	if err := m.Save(record("psu-1", "voltage", 1)); err != nil {
		t.Fatalf("Save while disabled failed: %v", err)
	}
	records, err := m.GetHistory(Filter{})
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("disabled manager stored %d records", len(records))
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !m.IsRecording() {
		t.Error("expected IsRecording after Start")
	}

	if err := m.Save(record("psu-1", "voltage", 2)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	records, _ = m.GetHistory(Filter{})
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if m.IsRecording() {
		t.Error("expected not recording after Stop")
	}
}

func TestManagerStartStopIdempotent(t *testing.T) {
	m := NewManager(NewMemoryBackend(), 0)

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestManagerFillsRecordedTime(t *testing.T) {
	backend := NewMemoryBackend()
	m := NewManager(backend, 0)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	r := record("psu-1", "voltage", 1)
	r.Recorded = time.Time{}
	if err := m.Save(r); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	records, _ := m.GetHistory(Filter{})
	if len(records) != 1 || records[0].Recorded.IsZero() {
		t.Errorf("recorded time not filled: %+v", records)
	}
}

func TestMemoryBackendFilter(t *testing.T) {
	backend := NewMemoryBackend()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		backend.Save(Record{
			EquipmentID: "psu-1",
			Channel:     "voltage",
			Value:       float64(i),
			Recorded:    base.Add(time.Duration(i) * time.Minute),
		})
	}
	backend.Save(Record{EquipmentID: "scope-1", Channel: "ch1", Value: 9, Recorded: base})

	records, err := backend.GetHistory(Filter{EquipmentID: "psu-1"})
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("equipment filter: expected 5, got %d", len(records))
	}

	from := base.Add(2 * time.Minute)
	to := base.Add(3 * time.Minute)
	records, _ = backend.GetHistory(Filter{EquipmentID: "psu-1", From: &from, To: &to})
	if len(records) != 2 {
		t.Errorf("time window: expected 2, got %d", len(records))
	}

	records, _ = backend.GetHistory(Filter{Limit: 3})
	if len(records) != 3 {
		t.Errorf("limit: expected 3, got %d", len(records))
	}
}

func TestMemoryBackendCleanup(t *testing.T) {
	backend := NewMemoryBackend()
	for i := 0; i < 10; i++ {
		backend.Save(record("psu-1", "voltage", float64(i)))
	}

	if err := backend.Cleanup(4); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	records, _ := backend.GetHistory(Filter{})
	if len(records) != 4 {
		t.Fatalf("expected 4 records after cleanup, got %d", len(records))
	}
	// oldest records trimmed first
	if records[0].Value != 6 {
		t.Errorf("expected oldest surviving value 6, got %v", records[0].Value)
	}

	st, err := backend.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if st.RecordCount != 4 {
		t.Errorf("stats count: expected 4, got %d", st.RecordCount)
	}
}
