package store

import (
	"testing"

	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", logx.NewLogger("error", "test"))
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestRecord(t *testing.T, s *Store, machine, side, symptom, date, tm string) int64 {
	t.Helper()
	id, err := s.InsertRecord(&MaintenanceRecord{
		Machine:           machine,
		MachineSide:       side,
		Symptom:           symptom,
		SymptomNormalized: symptom,
		DateFailure:       date,
		TimeFailure:       tm,
		Repairer:          "somchai",
	})
	if err != nil {
		t.Fatalf("failed to insert record: %v", err)
	}
	return id
}

func TestInsertAndQueryRecords(t *testing.T) {
	s := newTestStore(t)

	insertTestRecord(t, s, "EX-01", "A", "motor burned", "2024-03-02", "08:30:00")
	insertTestRecord(t, s, "EX-01", "B", "belt snapped", "2024-03-01", "14:00:00")
	insertTestRecord(t, s, "EX-02", "", "oil leak", "2024-03-05", "22:10:00")

	records, err := s.RecordsByMachine("EX-01")
	if err != nil {
		t.Fatalf("RecordsByMachine failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Ordered by date then time ascending
	if records[0].Symptom != "belt snapped" {
		t.Errorf("records not ordered by failure date: first is %q", records[0].Symptom)
	}

	sideRecords, err := s.RecordsByMachineAndSide("EX-01", "A")
	if err != nil {
		t.Fatalf("RecordsByMachineAndSide failed: %v", err)
	}
	if len(sideRecords) != 1 || sideRecords[0].MachineSide != "A" {
		t.Errorf("side filter returned wrong rows: %+v", sideRecords)
	}

	all, err := s.AllRecords()
	if err != nil {
		t.Fatalf("AllRecords failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 records total, got %d", len(all))
	}

	machines, err := s.Machines()
	if err != nil {
		t.Fatalf("Machines failed: %v", err)
	}
	if len(machines) != 2 {
		t.Errorf("expected 2 machines, got %v", machines)
	}
}

func TestRecordsByMachineEmpty(t *testing.T) {
	s := newTestStore(t)

	records, err := s.RecordsByMachine("nope")
	if err != nil {
		t.Fatalf("RecordsByMachine failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestInsertPartIdempotent(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertPart("BRG-6204", "bearing 6204"); err != nil {
		t.Fatalf("InsertPart failed: %v", err)
	}
	// Re-insertion must neither duplicate nor overwrite
	if err := s.InsertPart("BRG-6204", "different name"); err != nil {
		t.Fatalf("re-InsertPart failed: %v", err)
	}

	id := insertTestRecord(t, s, "EX-01", "A", "noise", "2024-01-10", "09:00:00")
	if err := s.InsertPartUsage(id, "BRG-6204", 1, "2024-01-10"); err != nil {
		t.Fatalf("InsertPartUsage failed: %v", err)
	}

	usage, err := s.PartUsageForMachine("EX-01", nil)
	if err != nil {
		t.Fatalf("PartUsageForMachine failed: %v", err)
	}
	if len(usage) != 1 {
		t.Fatalf("expected 1 usage row, got %d", len(usage))
	}
	if usage[0].NamePart != "bearing 6204" {
		t.Errorf("part name overwritten: %q", usage[0].NamePart)
	}
}

func TestPartUsageConstraints(t *testing.T) {
	s := newTestStore(t)

	id := insertTestRecord(t, s, "EX-01", "A", "noise", "2024-01-10", "09:00:00")

	// part_code must reference an existing part
	if err := s.InsertPartUsage(id, "GHOST", 1, "2024-01-10"); err == nil {
		t.Errorf("expected foreign key error for unknown part")
	}

	if err := s.InsertPart("BRG-6204", "bearing"); err != nil {
		t.Fatalf("InsertPart failed: %v", err)
	}

	// maintenance_id must reference an existing record
	if err := s.InsertPartUsage(99999, "BRG-6204", 1, "2024-01-10"); err == nil {
		t.Errorf("expected foreign key error for unknown record")
	}

	// quantity >= 1 enforced at the schema
	if err := s.InsertPartUsage(id, "BRG-6204", 0, "2024-01-10"); err == nil {
		t.Errorf("expected check constraint error for zero quantity")
	}
}

func TestFailureFrequency(t *testing.T) {
	s := newTestStore(t)

	insertTestRecord(t, s, "EX-01", "A", "motor burned", "2024-03-01", "08:00:00")
	insertTestRecord(t, s, "EX-01", "A", "motor burned", "2024-03-10", "09:00:00")
	insertTestRecord(t, s, "EX-01", "B", "belt snapped", "2024-03-05", "10:00:00")
	insertTestRecord(t, s, "EX-01", "A", "late failure", "2024-05-01", "10:00:00") // outside window

	rows, err := s.FailureFrequency("EX-01", "2024-03-01", "2024-03-31")
	if err != nil {
		t.Fatalf("FailureFrequency failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 side groups, got %d", len(rows))
	}
	// Sorted by failure count descending
	if rows[0].MachineSide != "A" || rows[0].FailureCount != 2 {
		t.Errorf("unexpected top group: %+v", rows[0])
	}
	if len(rows[0].Symptoms) != 1 || rows[0].Symptoms[0] != "motor burned" {
		t.Errorf("distinct symptoms wrong: %v", rows[0].Symptoms)
	}
}

func TestPartLifespanStats(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertPart("BRG", "bearing"); err != nil {
		t.Fatalf("InsertPart failed: %v", err)
	}
	if err := s.InsertPart("BLT", "belt"); err != nil {
		t.Fatalf("InsertPart failed: %v", err)
	}

	dates := []string{"2024-01-01", "2024-01-11", "2024-01-31"}
	for _, d := range dates {
		id := insertTestRecord(t, s, "EX-01", "A", "worn", d, "08:00:00")
		if err := s.InsertPartUsage(id, "BRG", 1, d); err != nil {
			t.Fatalf("InsertPartUsage failed: %v", err)
		}
	}
	// A belt replacement between bearing replacements must not pollute
	// the bearing gap sequence
	id := insertTestRecord(t, s, "EX-01", "A", "belt worn", "2024-01-20", "08:00:00")
	if err := s.InsertPartUsage(id, "BLT", 1, "2024-01-20"); err != nil {
		t.Fatalf("InsertPartUsage failed: %v", err)
	}

	rows, err := s.PartLifespanStats("EX-01", nil, nil)
	if err != nil {
		t.Fatalf("PartLifespanStats failed: %v", err)
	}

	var brgGaps []float64
	for _, row := range rows {
		if row.PartCode == "BRG" && row.DaysBetween != nil {
			brgGaps = append(brgGaps, *row.DaysBetween)
		}
	}
	if len(brgGaps) != 2 {
		t.Fatalf("expected 2 bearing gaps, got %d", len(brgGaps))
	}
	if brgGaps[0] != 10 || brgGaps[1] != 20 {
		t.Errorf("bearing gaps = %v, want [10 20]", brgGaps)
	}
}

func TestPartUsageHistory(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertPart("BRG", "bearing"); err != nil {
		t.Fatalf("InsertPart failed: %v", err)
	}
	for _, d := range []string{"2024-01-01", "2024-02-01"} {
		id := insertTestRecord(t, s, "EX-01", "A", "worn", d, "08:00:00")
		if err := s.InsertPartUsage(id, "BRG", 2, d); err != nil {
			t.Fatalf("InsertPartUsage failed: %v", err)
		}
	}

	history, err := s.PartUsageHistory("BRG")
	if err != nil {
		t.Fatalf("PartUsageHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[0].ReplacementDate != "2024-02-01" {
		t.Errorf("history not newest first: %+v", history[0])
	}
}

func TestReset(t *testing.T) {
	s := newTestStore(t)

	insertTestRecord(t, s, "EX-01", "A", "noise", "2024-01-10", "09:00:00")
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	records, err := s.AllRecords()
	if err != nil {
		t.Fatalf("AllRecords failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty store after reset, got %d records", len(records))
	}
}
