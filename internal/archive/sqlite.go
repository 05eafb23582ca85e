package archive

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend archives samples into a local SQLite file
type SQLiteBackend struct {
	path string
	db   *sql.DB
}

func NewSQLiteBackend(path string) *SQLiteBackend {
	return &SQLiteBackend{path: path}
}

func (s *SQLiteBackend) Open() error {
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			equipment_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			value REAL NOT NULL,
			mono REAL NOT NULL,
			recorded DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_samples_lookup
			ON samples(equipment_id, channel, recorded);
	`); err != nil {
		db.Close()
		return fmt.Errorf("create tables: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLiteBackend) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteBackend) Save(record Record) error {
	_, err := s.db.Exec(
		`INSERT INTO samples (equipment_id, channel, value, mono, recorded) VALUES (?, ?, ?, ?, ?)`,
		record.EquipmentID, record.Channel, record.Value, record.Timestamp, record.Recorded,
	)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) SaveBatch(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO samples (equipment_id, channel, value, mono, recorded) VALUES (?, ?, ?, ?, ?)`)
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

func (s *SQLiteBackend) GetHistory(filter Filter) ([]Record, error) {
	query, args := buildHistoryQuery(filter, "?")

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// buildHistoryQuery assembles the filtered select. placeholder is "?"
// for SQLite; PostgreSQL rewrites to $n positions.
func buildHistoryQuery(filter Filter, placeholder string) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`SELECT equipment_id, channel, value, mono, recorded FROM samples`)

	var conds []string
	var args []interface{}
	next := func() string {
		if placeholder == "?" {
			return "?"
		}
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.EquipmentID != "" {
		args = append(args, filter.EquipmentID)
		conds = append(conds, "equipment_id = "+next())
	}
	if filter.Channel != "" {
		args = append(args, filter.Channel)
		conds = append(conds, "channel = "+next())
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, "recorded >= "+next())
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, "recorded <= "+next())
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY recorded ASC, id ASC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sb.WriteString(" LIMIT " + next())
	}
	return sb.String(), args
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.EquipmentID, &r.Channel, &r.Value, &r.Timestamp, &r.Recorded); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteBackend) GetStats() (Stats, error) {
	var st Stats
	var oldest, newest sql.NullTime

	err := s.db.QueryRow(
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

	if info, err := os.Stat(s.path); err == nil {
		st.SizeBytes = info.Size()
	}
	return st, nil
}

func (s *SQLiteBackend) Cleanup(maxRecords int64) error {
	if maxRecords <= 0 {
		return nil
	}
	_, err := s.db.Exec(`
		DELETE FROM samples WHERE id NOT IN (
			SELECT id FROM samples ORDER BY id DESC LIMIT ?
		)`, maxRecords)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM samples`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

var _ Backend = (*SQLiteBackend)(nil)
