// Package archive persists acquired samples through pluggable backends
package archive

import (
	"errors"
	"time"
)

// Backend is the storage interface behind the archive manager. The
// memory, SQLite and PostgreSQL implementations are interchangeable.
type Backend interface {
	// Open initializes the backend connection
	Open() error

	// Close closes the backend connection
	Close() error

	// Save stores a single sample record
	Save(record Record) error

	// SaveBatch stores multiple records in a single transaction
	SaveBatch(records []Record) error

	// GetHistory retrieves records matching the filter
	GetHistory(filter Filter) ([]Record, error)

	// GetStats returns storage statistics
	GetStats() (Stats, error)

	// Cleanup removes oldest records to maintain the maxRecords limit
	Cleanup(maxRecords int64) error

	// Clear removes all records
	Clear() error
}

// Record is one archived sample. Timestamp is the engine's monotonic
// sample clock; Recorded is the wall-clock instant of archiving and is
// what history queries filter on.
type Record struct {
	EquipmentID string    `json:"equipmentId"`
	Channel     string    `json:"channel"`
	Value       float64   `json:"value"`
	Timestamp   float64   `json:"timestamp"`
	Recorded    time.Time `json:"recorded"`
}

// Filter defines criteria for selecting records
type Filter struct {
	From        *time.Time // nil = no lower bound
	To          *time.Time // nil = no upper bound
	EquipmentID string     // empty = all equipment
	Channel     string     // empty = all channels
	Limit       int        // 0 = no limit
}

// Stats contains storage statistics
type Stats struct {
	RecordCount  int64     `json:"recordCount"`
	SizeBytes    int64     `json:"sizeBytes"`
	OldestRecord time.Time `json:"oldestRecord,omitempty"`
	NewestRecord time.Time `json:"newestRecord,omitempty"`
	IsRecording  bool      `json:"isRecording"`
}

var ErrArchiveDisabled = errors.New("archiving is disabled")
