package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/logx"
)

// Date and time layouts used at the store boundary
const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// MaintenanceRecord is a single equipment-failure log entry. Records are
// immutable once inserted; normalization fields are filled at import time.
type MaintenanceRecord struct {
	ID                  int64  `json:"id"`
	Machine             string `json:"machine"`
	MachineSide         string `json:"machine_side,omitempty"`
	Symptom             string `json:"symptom"`
	SymptomNormalized   string `json:"symptom_normalized,omitempty"`
	DateFailure         string `json:"date_failure"`
	TimeFailure         string `json:"time_failure"`
	Repairer            string `json:"repairer"`
	HowToFix            string `json:"how_to_fix,omitempty"`
	FixMethodNormalized string `json:"fix_method_normalized,omitempty"`
}

// FailureTime parses the record's failure date and time into a timestamp
func (r *MaintenanceRecord) FailureTime() (time.Time, error) {
	return time.Parse(DateTimeLayout, r.DateFailure+" "+r.TimeFailure)
}

// FailureDate parses only the calendar date of the failure
func (r *MaintenanceRecord) FailureDate() (time.Time, error) {
	return time.Parse(DateLayout, r.DateFailure)
}

// FrequencyRow is one machine/side group from the failure-frequency query
type FrequencyRow struct {
	Machine      string
	MachineSide  string
	FailureCount int
	Symptoms     []string
}

// LifespanRow is one part replacement with the gap to the previous
// replacement of the same part. DaysBetween is nil for the first
// replacement of a part.
type LifespanRow struct {
	PartCode        string
	NamePart        string
	ReplacementDate string
	DaysBetween     *float64
}

// UsageRow is a part-usage event joined with its owning record
type UsageRow struct {
	PartCode    string
	NamePart    string
	Quantity    int
	DateFailure string
	MachineSide string
}

// HistoryRow is a part-usage event joined with repair context, used for
// per-part usage history across all machines
type HistoryRow struct {
	ReplacementDate string
	Machine         string
	MachineSide     string
	Quantity        int
	Symptom         string
	HowToFix        string
}

// Store persists maintenance records, parts and part-usage events in SQLite
type Store struct {
	db     *sql.DB
	path   string
	logger *logx.Logger
}

// Open opens (creating if necessary) the maintenance database at path.
// Pass ":memory:" for an isolated in-memory store.
func Open(path string, logger *logx.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: stores coherent and serializes
	// the ingestion write path
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("maintenance database opened", "path", path)
	return s, nil
}

func (s *Store) initialize() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS maintenance_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		machine TEXT NOT NULL,
		machine_side TEXT,
		symptom TEXT NOT NULL,
		symptom_normalized TEXT,
		date_failure DATE NOT NULL,
		time_failure TIME NOT NULL,
		repairer TEXT NOT NULL,
		how_to_fix TEXT,
		fix_method_normalized TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS parts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		part_code TEXT UNIQUE,
		name_part TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS part_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		maintenance_id INTEGER NOT NULL,
		part_code TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		replacement_date DATE NOT NULL,
		FOREIGN KEY (maintenance_id) REFERENCES maintenance_records(id),
		FOREIGN KEY (part_code) REFERENCES parts(part_code)
	);

	CREATE INDEX IF NOT EXISTS idx_machine ON maintenance_records(machine);
	CREATE INDEX IF NOT EXISTS idx_machine_side ON maintenance_records(machine_side);
	CREATE INDEX IF NOT EXISTS idx_date_failure ON maintenance_records(date_failure);
	CREATE INDEX IF NOT EXISTS idx_symptom_normalized ON maintenance_records(symptom_normalized);
	CREATE INDEX IF NOT EXISTS idx_part_code ON part_usage(part_code);
	CREATE INDEX IF NOT EXISTS idx_replacement_date ON part_usage(replacement_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// InsertRecord inserts a maintenance record and returns its generated id
func (s *Store) InsertRecord(rec *MaintenanceRecord) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO maintenance_records
		(machine, machine_side, symptom, symptom_normalized, date_failure, time_failure, repairer, how_to_fix, fix_method_normalized)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Machine, nullable(rec.MachineSide), rec.Symptom, nullable(rec.SymptomNormalized),
		rec.DateFailure, rec.TimeFailure, rec.Repairer,
		nullable(rec.HowToFix), nullable(rec.FixMethodNormalized),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert maintenance record: %w", err)
	}
	return res.LastInsertId()
}

// InsertPart inserts a part by code. Re-insertion of an existing code is a
// no-op and never overwrites the stored name.
func (s *Store) InsertPart(partCode, namePart string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO parts (part_code, name_part) VALUES (?, ?)`,
		partCode, namePart)
	if err != nil {
		return fmt.Errorf("failed to insert part %s: %w", partCode, err)
	}
	return nil
}

// InsertPartUsage appends a part-usage event owned by a maintenance record
func (s *Store) InsertPartUsage(maintenanceID int64, partCode string, quantity int, replacementDate string) error {
	_, err := s.db.Exec(`
		INSERT INTO part_usage (maintenance_id, part_code, quantity, replacement_date)
		VALUES (?, ?, ?, ?)`,
		maintenanceID, partCode, quantity, replacementDate)
	if err != nil {
		return fmt.Errorf("failed to insert part usage for record %d: %w", maintenanceID, err)
	}
	return nil
}

const recordColumns = `id, machine, COALESCE(machine_side,''), symptom, COALESCE(symptom_normalized,''),
	date_failure, time_failure, repairer, COALESCE(how_to_fix,''), COALESCE(fix_method_normalized,'')`

// AllRecords returns every stored record ordered by failure date then time
func (s *Store) AllRecords() ([]*MaintenanceRecord, error) {
	return s.queryRecords(`
		SELECT `+recordColumns+`
		FROM maintenance_records
		ORDER BY date_failure ASC, time_failure ASC, id ASC`)
}

// RecordsByMachine returns all records for a machine ordered by failure
// date then time
func (s *Store) RecordsByMachine(machine string) ([]*MaintenanceRecord, error) {
	return s.queryRecords(`
		SELECT `+recordColumns+`
		FROM maintenance_records
		WHERE machine = ?
		ORDER BY date_failure ASC, time_failure ASC, id ASC`, machine)
}

// RecordsByMachineAndSide returns records for a single machine side
func (s *Store) RecordsByMachineAndSide(machine, side string) ([]*MaintenanceRecord, error) {
	return s.queryRecords(`
		SELECT `+recordColumns+`
		FROM maintenance_records
		WHERE machine = ? AND machine_side = ?
		ORDER BY date_failure ASC, time_failure ASC, id ASC`, machine, side)
}

func (s *Store) queryRecords(query string, args ...interface{}) ([]*MaintenanceRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("record query failed: %w", err)
	}
	defer rows.Close()

	var records []*MaintenanceRecord
	for rows.Next() {
		rec := &MaintenanceRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.Machine, &rec.MachineSide, &rec.Symptom, &rec.SymptomNormalized,
			&rec.DateFailure, &rec.TimeFailure, &rec.Repairer, &rec.HowToFix, &rec.FixMethodNormalized,
		); err != nil {
			return nil, fmt.Errorf("record scan failed: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Machines returns the distinct machine names with stored records
func (s *Store) Machines() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT machine FROM maintenance_records ORDER BY machine`)
	if err != nil {
		return nil, fmt.Errorf("machine query failed: %w", err)
	}
	defer rows.Close()

	var machines []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

// FailureFrequency groups failures for a machine within [start, end]
// (inclusive) by machine side, with the distinct normalized symptoms seen
func (s *Store) FailureFrequency(machine, startDate, endDate string) ([]*FrequencyRow, error) {
	rows, err := s.db.Query(`
		SELECT machine, COALESCE(machine_side,''), COUNT(*) AS failure_count,
		       COALESCE(GROUP_CONCAT(DISTINCT symptom_normalized), '')
		FROM maintenance_records
		WHERE machine = ? AND date_failure BETWEEN ? AND ?
		GROUP BY machine, machine_side
		ORDER BY failure_count DESC`,
		machine, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failure frequency query failed: %w", err)
	}
	defer rows.Close()

	var result []*FrequencyRow
	for rows.Next() {
		row := &FrequencyRow{}
		var symptoms string
		if err := rows.Scan(&row.Machine, &row.MachineSide, &row.FailureCount, &symptoms); err != nil {
			return nil, err
		}
		if symptoms != "" {
			row.Symptoms = strings.Split(symptoms, ",")
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// PartLifespanStats returns each part replacement on a machine with the gap
// in days since the previous replacement of the same part. Side and part
// filters are optional.
func (s *Store) PartLifespanStats(machine string, side, partCode *string) ([]*LifespanRow, error) {
	rows, err := s.db.Query(`
		SELECT pu.part_code, p.name_part, pu.replacement_date,
		       julianday(pu.replacement_date) - julianday(
		           LAG(pu.replacement_date) OVER (PARTITION BY pu.part_code ORDER BY pu.replacement_date)
		       ) AS days_between
		FROM part_usage pu
		JOIN maintenance_records mr ON pu.maintenance_id = mr.id
		JOIN parts p ON pu.part_code = p.part_code
		WHERE mr.machine = ?
		  AND (? IS NULL OR mr.machine_side = ?)
		  AND (? IS NULL OR pu.part_code = ?)
		ORDER BY pu.part_code, pu.replacement_date`,
		machine, side, side, partCode, partCode)
	if err != nil {
		return nil, fmt.Errorf("part lifespan query failed: %w", err)
	}
	defer rows.Close()

	var result []*LifespanRow
	for rows.Next() {
		row := &LifespanRow{}
		var gap sql.NullFloat64
		if err := rows.Scan(&row.PartCode, &row.NamePart, &row.ReplacementDate, &gap); err != nil {
			return nil, err
		}
		if gap.Valid {
			v := gap.Float64
			row.DaysBetween = &v
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// PartUsageForMachine returns part-usage events joined with their owning
// record for a machine, optionally filtered to one side
func (s *Store) PartUsageForMachine(machine string, side *string) ([]*UsageRow, error) {
	rows, err := s.db.Query(`
		SELECT pu.part_code, p.name_part, pu.quantity, mr.date_failure, COALESCE(mr.machine_side,'')
		FROM part_usage pu
		JOIN maintenance_records mr ON pu.maintenance_id = mr.id
		JOIN parts p ON pu.part_code = p.part_code
		WHERE mr.machine = ?
		  AND (? IS NULL OR mr.machine_side = ?)
		ORDER BY mr.date_failure ASC, pu.id ASC`,
		machine, side, side)
	if err != nil {
		return nil, fmt.Errorf("part usage query failed: %w", err)
	}
	defer rows.Close()

	var result []*UsageRow
	for rows.Next() {
		row := &UsageRow{}
		if err := rows.Scan(&row.PartCode, &row.NamePart, &row.Quantity, &row.DateFailure, &row.MachineSide); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// PartUsageHistory returns the replacement history of one part across all
// machines, newest first
func (s *Store) PartUsageHistory(partCode string) ([]*HistoryRow, error) {
	rows, err := s.db.Query(`
		SELECT pu.replacement_date, mr.machine, COALESCE(mr.machine_side,''),
		       pu.quantity, mr.symptom, COALESCE(mr.how_to_fix,'')
		FROM part_usage pu
		JOIN maintenance_records mr ON pu.maintenance_id = mr.id
		WHERE pu.part_code = ?
		ORDER BY pu.replacement_date DESC`,
		partCode)
	if err != nil {
		return nil, fmt.Errorf("part history query failed: %w", err)
	}
	defer rows.Close()

	var result []*HistoryRow
	for rows.Next() {
		row := &HistoryRow{}
		if err := rows.Scan(&row.ReplacementDate, &row.Machine, &row.MachineSide,
			&row.Quantity, &row.Symptom, &row.HowToFix); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Reset deletes all stored data. Used by tests and operator-driven resets.
func (s *Store) Reset() error {
	_, err := s.db.Exec(`
		DELETE FROM part_usage;
		DELETE FROM maintenance_records;
		DELETE FROM parts;
	`)
	if err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
