package archive

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresBackend archives samples into a PostgreSQL database, for
// deployments where several engines share one archive.
type PostgresBackend struct {
	connInfo string
	db       *sql.DB
}

func NewPostgresBackend(connInfo string) *PostgresBackend {
	return &PostgresBackend{connInfo: connInfo}
}

// NewPostgresBackendFromDB wraps an existing connection. The backend
// does not close a connection it did not open.
func NewPostgresBackendFromDB(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (p *PostgresBackend) Open() error {
	if p.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", p.connInfo)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS samples (
			id BIGSERIAL PRIMARY KEY,
			equipment_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			mono DOUBLE PRECISION NOT NULL,
			recorded TIMESTAMPTZ NOT NULL
		)`); err != nil {
		db.Close()
		return fmt.Errorf("create tables: %w", err)
	}
	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_samples_lookup
			ON samples(equipment_id, channel, recorded)`); err != nil {
		db.Close()
		return fmt.Errorf("create index: %w", err)
	}

	p.db = db
	return nil
}

func (p *PostgresBackend) Close() error {
	if p.db == nil || p.connInfo == "" {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func (p *PostgresBackend) Save(record Record) error {
	_, err := p.db.Exec(
		`INSERT INTO samples (equipment_id, channel, value, mono, recorded) VALUES ($1, $2, $3, $4, $5)`,
		record.EquipmentID, record.Channel, record.Value, record.Timestamp, record.Recorded,
	)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (p *PostgresBackend) SaveBatch(records []Record) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO samples (equipment_id, channel, value, mono, recorded) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.EquipmentID, r.Channel, r.Value, r.Timestamp, r.Recorded); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert: %w", err)
		}
	}
	return tx.Commit()
}

func (p *PostgresBackend) GetHistory(filter Filter) ([]Record, error) {
	query, args := buildHistoryQuery(filter, "$")

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (p *PostgresBackend) GetStats() (Stats, error) {
	var st Stats
	var oldest, newest sql.NullTime

	err := p.db.QueryRow(
		`SELECT COUNT(*), MIN(recorded), MAX(recorded) FROM samples`,
	).Scan(&st.RecordCount, &oldest, &newest)
	if err != nil {
		return st, fmt.Errorf("stats query: %w", err)
	}
	if oldest.Valid {
		st.OldestRecord = oldest.Time
	}
	if newest.Valid {
		st.NewestRecord = newest.Time
	}
	return st, nil
}

func (p *PostgresBackend) Cleanup(maxRecords int64) error {
	if maxRecords <= 0 {
		return nil
	}
	_, err := p.db.Exec(`
		DELETE FROM samples WHERE id NOT IN (
			SELECT id FROM samples ORDER BY id DESC LIMIT $1
		)`, maxRecords)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Clear() error {
	if _, err := p.db.Exec(`DELETE FROM samples`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

var _ Backend = (*PostgresBackend)(nil)
