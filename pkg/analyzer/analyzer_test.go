package analyzer

import (
	"testing"
	"time"

	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/logx"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/store"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *store.Store) {
	t.Helper()
	logger := logx.NewLogger("error", "analyzer-test")
	s, err := store.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewAnalyzer(s, logger), s
}

func insertRecord(t *testing.T, s *store.Store, machine, side, symptom, date string) int64 {
	t.Helper()
	id, err := s.InsertRecord(&store.MaintenanceRecord{
		Machine:           machine,
		MachineSide:       side,
		Symptom:           symptom,
		SymptomNormalized: symptom,
		DateFailure:       date,
		TimeFailure:       "08:00:00",
		Repairer:          "somchai",
	})
	if err != nil {
		t.Fatalf("failed to insert record: %v", err)
	}
	return id
}

func insertUsage(t *testing.T, s *store.Store, recordID int64, partCode, name string, qty int, date string) {
	t.Helper()
	if err := s.InsertPart(partCode, name); err != nil {
		t.Fatalf("failed to insert part: %v", err)
	}
	if err := s.InsertPartUsage(recordID, partCode, qty, date); err != nil {
		t.Fatalf("failed to insert usage: %v", err)
	}
}

func TestAnalyzeFailureFrequency(t *testing.T) {
	a, s := newTestAnalyzer(t)

	insertRecord(t, s, "M1", "left", "belt torn", "2024-01-05")
	insertRecord(t, s, "M1", "left", "belt torn", "2024-01-20")
	insertRecord(t, s, "M1", "left", "overheating", "2024-02-10")
	insertRecord(t, s, "M1", "right", "overheating", "2024-02-15")
	insertRecord(t, s, "M2", "left", "belt torn", "2024-01-10")

	stats, err := a.AnalyzeFailureFrequency("M1", "2024-01-01", "2024-03-01")
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 side groups, got %d", len(stats))
	}

	// Groups come back ordered by failure count
	left := stats[0]
	if left.MachineSide != "left" || left.FailureCount != 3 {
		t.Fatalf("unexpected first group: %+v", left)
	}
	// 3 failures over ceil(60 days) = 2 months
	if left.FailuresPerMonth != "1.50" {
		t.Errorf("expected failures_per_month 1.50, got %s", left.FailuresPerMonth)
	}
	if len(left.CommonSymptoms) != 2 {
		t.Errorf("expected 2 distinct symptoms, got %v", left.CommonSymptoms)
	}
}

func TestAnalyzeFailureFrequencyNoMatches(t *testing.T) {
	a, s := newTestAnalyzer(t)
	insertRecord(t, s, "M1", "left", "belt torn", "2024-06-01")

	stats, err := a.AnalyzeFailureFrequency("M1", "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("expected no error for empty period, got %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("expected empty result, got %d groups", len(stats))
	}
}

func TestAnalyzeFailureFrequencyBadDate(t *testing.T) {
	a, _ := newTestAnalyzer(t)
	if _, err := a.AnalyzeFailureFrequency("M1", "01/02/2024", "2024-03-01"); err == nil {
		t.Fatal("expected error for malformed start date")
	}
}

func TestAnalyzePartUsage(t *testing.T) {
	a, s := newTestAnalyzer(t)
	a.now = func() time.Time { return time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC) }

	dates := []string{"2024-01-01", "2024-01-11", "2024-01-31"}
	for _, d := range dates {
		id := insertRecord(t, s, "M1", "left", "bearing noise", d)
		insertUsage(t, s, id, "BRG-01", "bearing 6204", 1, d)
	}
	id := insertRecord(t, s, "M1", "left", "belt torn", "2024-01-15")
	insertUsage(t, s, id, "BLT-01", "v-belt a42", 1, "2024-01-15")

	stats, err := a.AnalyzePartUsage("M1", nil)
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(stats))
	}

	var bearing *PartStat
	for _, st := range stats {
		if st.PartCode == "BRG-01" {
			bearing = st
		}
	}
	if bearing == nil {
		t.Fatal("bearing stats missing")
	}
	if bearing.ReplacementCount != 3 {
		t.Errorf("expected 3 replacements, got %d", bearing.ReplacementCount)
	}
	// Gaps are 10 and 20 days
	if bearing.AvgLifespanDays != 15 || bearing.MinLifespanDays != 10 || bearing.MaxLifespanDays != 20 {
		t.Errorf("unexpected lifespan stats: avg=%d min=%d max=%d",
			bearing.AvgLifespanDays, bearing.MinLifespanDays, bearing.MaxLifespanDays)
	}
	if bearing.LastReplacement != "2024-01-31" {
		t.Errorf("expected last replacement 2024-01-31, got %s", bearing.LastReplacement)
	}
	if bearing.DaysSinceLastReplacement != 8 {
		t.Errorf("expected 8 days since last replacement, got %d", bearing.DaysSinceLastReplacement)
	}
	// 2024-01-31 + floor(15) days
	if bearing.NextReplacementEstimate != "2024-02-15" {
		t.Errorf("unexpected next replacement estimate: %s", bearing.NextReplacementEstimate)
	}
	// 8/15 of the average lifespan has elapsed, below the 0.8 knee and
	// below the minimum observed lifespan
	want := 8.0 / 15.0 * 50
	if diff := bearing.ReplacementUrgency - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected urgency %.4f, got %.4f", want, bearing.ReplacementUrgency)
	}
}

func TestAnalyzePartUsageSortedByUrgency(t *testing.T) {
	a, s := newTestAnalyzer(t)
	a.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	// Overdue part: average lifespan 5 days, last replaced Jan 11
	for _, d := range []string{"2024-01-01", "2024-01-06", "2024-01-11"} {
		id := insertRecord(t, s, "M1", "", "seal leak", d)
		insertUsage(t, s, id, "SEAL-01", "oil seal", 1, d)
	}
	// Fresh part: average lifespan 50 days, last replaced Feb 25
	for _, d := range []string{"2024-01-06", "2024-02-25"} {
		id := insertRecord(t, s, "M1", "", "filter clogged", d)
		insertUsage(t, s, id, "FLT-01", "air filter", 1, d)
	}

	stats, err := a.AnalyzePartUsage("M1", nil)
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(stats))
	}
	if stats[0].PartCode != "SEAL-01" {
		t.Errorf("expected overdue part first, got %s", stats[0].PartCode)
	}
	if stats[0].ReplacementUrgency != 100 {
		t.Errorf("expected urgency 100 for overdue part, got %.2f", stats[0].ReplacementUrgency)
	}
}

func TestReplacementUrgency(t *testing.T) {
	tests := []struct {
		name      string
		daysSince float64
		avg       float64
		min       float64
		want      float64
	}{
		{"past average lifespan", 30, 20, 10, 100},
		{"at average lifespan", 20, 20, 10, 100},
		{"approaching average", 18, 20, 10, 50 + 0.1*250},
		{"past minimum only", 15, 30, 10, 75},
		{"well within lifespan", 5, 30, 20, 5.0 / 30.0 * 50},
		{"no history", 10, 0, 0, 0},
		{"never replaced", 0, 20, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := replacementUrgency(tt.daysSince, tt.avg, tt.min)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("urgency(%v, %v, %v) = %v, want %v", tt.daysSince, tt.avg, tt.min, got, tt.want)
			}
		})
	}
}

func TestRecommendedPartInventory(t *testing.T) {
	a, s := newTestAnalyzer(t)

	// 12 bearings consumed over a 60-day history
	id1 := insertRecord(t, s, "M1", "left", "bearing noise", "2024-01-01")
	insertUsage(t, s, id1, "BRG-01", "bearing 6204", 5, "2024-01-01")
	id2 := insertRecord(t, s, "M1", "left", "bearing noise", "2024-02-01")
	insertUsage(t, s, id2, "BRG-01", "bearing 6204", 7, "2024-02-01")
	id3 := insertRecord(t, s, "M1", "right", "belt torn", "2024-03-01")
	insertUsage(t, s, id3, "BLT-01", "v-belt a42", 1, "2024-03-01")

	items, err := a.RecommendedPartInventory("M1", 3)
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(items))
	}

	// Bearings have the higher monthly usage, so they sort first
	bearing := items[0]
	if bearing.PartCode != "BRG-01" {
		t.Fatalf("expected BRG-01 first, got %s", bearing.PartCode)
	}
	if bearing.HistoricalUsage != 12 {
		t.Errorf("expected historical usage 12, got %d", bearing.HistoricalUsage)
	}
	if bearing.UsagePerMonth != "6.00" {
		t.Errorf("expected usage_per_month 6.00, got %s", bearing.UsagePerMonth)
	}
	if bearing.RecommendedQuantity != 18 {
		t.Errorf("expected recommended quantity 18, got %d", bearing.RecommendedQuantity)
	}
}

func TestRecommendedPartInventoryEmpty(t *testing.T) {
	a, _ := newTestAnalyzer(t)
	items, err := a.RecommendedPartInventory("ghost", 3)
	if err != nil {
		t.Fatalf("expected no error for unknown machine, got %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty recommendation, got %d items", len(items))
	}
}

func TestMachineSummary(t *testing.T) {
	a, s := newTestAnalyzer(t)

	insertRecord(t, s, "M1", "left", "belt torn", "2024-01-01")
	insertRecord(t, s, "M1", "left", "belt torn", "2024-01-10")
	insertRecord(t, s, "M1", "", "overheating", "2024-01-31")

	summary, err := a.MachineSummary("M1")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary == nil {
		t.Fatal("expected summary, got nil")
	}
	if summary.TotalFailures != 3 {
		t.Errorf("expected 3 failures, got %d", summary.TotalFailures)
	}
	if summary.PeriodDays != 30 {
		t.Errorf("expected 30-day period, got %d", summary.PeriodDays)
	}
	if summary.FirstRecord != "2024-01-01" || summary.LastRecord != "2024-01-31" {
		t.Errorf("unexpected record span: %s .. %s", summary.FirstRecord, summary.LastRecord)
	}
	if summary.FailuresPerMonth != "3.00" {
		t.Errorf("expected failures_per_month 3.00, got %s", summary.FailuresPerMonth)
	}
	if summary.SideBreakdown["left"] != 2 || summary.SideBreakdown["N/A"] != 1 {
		t.Errorf("unexpected side breakdown: %v", summary.SideBreakdown)
	}
	if len(summary.TopSymptoms) != 2 || summary.TopSymptoms[0].Symptom != "belt torn" {
		t.Errorf("unexpected top symptoms: %v", summary.TopSymptoms)
	}
}

func TestFindSimilarCases(t *testing.T) {
	a, s := newTestAnalyzer(t)

	insertRecord(t, s, "M1", "left", "มอเตอร์ไหม้", "2024-01-01")
	insertRecord(t, s, "M2", "right", "มอเตอร์ ไหม้", "2024-01-05")
	insertRecord(t, s, "M1", "left", "สายพานขาด", "2024-01-10")

	cases, err := a.FindSimilarCases("มอเตอร์ไหม้", 0.75)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("expected 2 similar cases, got %d", len(cases))
	}
	// Exact normalized match ranks first
	if cases[0].Similarity != 1.0 {
		t.Errorf("expected exact match first, got similarity %.2f", cases[0].Similarity)
	}
	for _, c := range cases {
		if c.Record.Symptom == "สายพานขาด" {
			t.Error("dissimilar symptom must not match")
		}
	}
}

func TestMachineSummaryUnknownMachine(t *testing.T) {
	a, _ := newTestAnalyzer(t)
	summary, err := a.MachineSummary("ghost")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if summary != nil {
		t.Fatalf("expected nil summary, got %+v", summary)
	}
}
