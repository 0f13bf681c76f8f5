package analyzer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/logx"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/metrics"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/store"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/textsim"
)

// FrequencyStat is the failure frequency of one machine side over a period
type FrequencyStat struct {
	Machine          string   `json:"machine"`
	MachineSide      string   `json:"machine_side,omitempty"`
	FailureCount     int      `json:"failure_count"`
	FailuresPerMonth string   `json:"failures_per_month"`
	CommonSymptoms   []string `json:"common_symptoms"`
}

// PartStat is the lifespan and urgency profile of one part on a machine
type PartStat struct {
	PartCode                 string  `json:"part_code"`
	NamePart                 string  `json:"name_part"`
	ReplacementCount         int     `json:"replacement_count"`
	AvgLifespanDays          int     `json:"avg_lifespan_days"`
	MinLifespanDays          int     `json:"min_lifespan_days"`
	MaxLifespanDays          int     `json:"max_lifespan_days"`
	LastReplacement          string  `json:"last_replacement,omitempty"`
	DaysSinceLastReplacement int     `json:"days_since_last_replacement"`
	NextReplacementEstimate  string  `json:"next_replacement_estimate,omitempty"`
	ReplacementUrgency       float64 `json:"replacement_urgency"`
}

// InventoryItem is a stocking recommendation for one part
type InventoryItem struct {
	PartCode            string `json:"part_code"`
	NamePart            string `json:"name_part"`
	HistoricalUsage     int    `json:"historical_usage"`
	UsagePerMonth       string `json:"usage_per_month"`
	RecommendedQuantity int    `json:"recommended_quantity"`
	ForecastMonths      int    `json:"forecast_months"`
}

// SymptomCount pairs a normalized symptom with its occurrence count
type SymptomCount struct {
	Symptom string `json:"symptom"`
	Count   int    `json:"count"`
}

// MachineSummary is the overall failure profile of one machine
type MachineSummary struct {
	Machine          string         `json:"machine"`
	TotalFailures    int            `json:"total_failures"`
	PeriodDays       int            `json:"period_days"`
	FirstRecord      string         `json:"first_record"`
	LastRecord       string         `json:"last_record"`
	FailuresPerMonth string         `json:"failures_per_month"`
	SideBreakdown    map[string]int `json:"side_breakdown"`
	TopSymptoms      []SymptomCount `json:"top_symptoms"`
}

// Analyzer derives frequency, part-wear and inventory statistics from the
// stored maintenance history. Every operation reads a fresh snapshot from
// the store and keeps no state between calls.
type Analyzer struct {
	store  *store.Store
	text   *textsim.Engine
	logger *logx.Logger
	now    func() time.Time
}

// NewAnalyzer creates a failure analyzer backed by the given store
func NewAnalyzer(s *store.Store, logger *logx.Logger) *Analyzer {
	return &Analyzer{
		store:  s,
		text:   textsim.NewEngine(),
		logger: logger,
		now:    time.Now,
	}
}

// AnalyzeFailureFrequency groups failures for a machine within
// [startDate, endDate] (inclusive) by machine side. A period with no
// matching records yields an empty result, not an error.
func (a *Analyzer) AnalyzeFailureFrequency(machine, startDate, endDate string) ([]*FrequencyStat, error) {
	metrics.AnalysesRun.WithLabelValues("failure_frequency").Inc()

	start, err := time.Parse(store.DateLayout, startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	end, err := time.Parse(store.DateLayout, endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}

	daysInPeriod := daysBetween(start, end)
	if daysInPeriod < 1 {
		daysInPeriod = 1
	}
	monthsInPeriod := float64(daysInPeriod) / 30.0

	rows, err := a.store.FailureFrequency(machine, startDate, endDate)
	if err != nil {
		return nil, err
	}

	stats := make([]*FrequencyStat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, &FrequencyStat{
			Machine:          row.Machine,
			MachineSide:      row.MachineSide,
			FailureCount:     row.FailureCount,
			FailuresPerMonth: fmt.Sprintf("%.2f", float64(row.FailureCount)/monthsInPeriod),
			CommonSymptoms:   row.Symptoms,
		})
	}

	a.logger.Debug("failure frequency analyzed",
		"machine", machine, "groups", len(stats), "period_days", daysInPeriod)
	return stats, nil
}

// AnalyzePartUsage computes replacement statistics and an urgency score for
// every part replaced on a machine (optionally one side), sorted by
// descending urgency
func (a *Analyzer) AnalyzePartUsage(machine string, machineSide *string) ([]*PartStat, error) {
	metrics.AnalysesRun.WithLabelValues("part_usage").Inc()

	rows, err := a.store.PartLifespanStats(machine, machineSide, nil)
	if err != nil {
		return nil, err
	}

	type group struct {
		stat      *PartStat
		lifespans []float64
	}
	groups := make(map[string]*group)
	var order []string

	for _, row := range rows {
		g, ok := groups[row.PartCode]
		if !ok {
			g = &group{stat: &PartStat{PartCode: row.PartCode, NamePart: row.NamePart}}
			groups[row.PartCode] = g
			order = append(order, row.PartCode)
		}
		g.stat.ReplacementCount++
		if row.DaysBetween != nil && *row.DaysBetween > 0 {
			g.lifespans = append(g.lifespans, *row.DaysBetween)
		}
		if row.ReplacementDate > g.stat.LastReplacement {
			g.stat.LastReplacement = row.ReplacementDate
		}
	}

	today := a.now()
	stats := make([]*PartStat, 0, len(groups))
	for _, code := range order {
		g := groups[code]
		stat := g.stat

		var avg, min, max float64
		if len(g.lifespans) > 0 {
			sum := 0.0
			min = g.lifespans[0]
			max = g.lifespans[0]
			for _, v := range g.lifespans {
				sum += v
				if v < min {
					min = v
				}
				if v > max {
					max = v
				}
			}
			avg = sum / float64(len(g.lifespans))

			if last, err := time.Parse(store.DateLayout, stat.LastReplacement); err == nil {
				next := last.AddDate(0, 0, int(math.Floor(avg)))
				stat.NextReplacementEstimate = next.Format(store.DateLayout)
			}
		}

		stat.AvgLifespanDays = int(math.Round(avg))
		stat.MinLifespanDays = int(math.Round(min))
		stat.MaxLifespanDays = int(math.Round(max))

		if last, err := time.Parse(store.DateLayout, stat.LastReplacement); err == nil {
			stat.DaysSinceLastReplacement = daysBetween(last, today)
		}
		stat.ReplacementUrgency = replacementUrgency(float64(stat.DaysSinceLastReplacement), avg, min)

		stats = append(stats, stat)
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].ReplacementUrgency > stats[j].ReplacementUrgency
	})

	a.logger.Debug("part usage analyzed", "machine", machine, "parts", len(stats))
	return stats, nil
}

// replacementUrgency scores how overdue a replacement is in [0,100].
// Branch order matters: the minimum-lifespan branch is only reachable when
// the average-ratio branches above it did not fire.
func replacementUrgency(daysSince, avgLifespan, minLifespan float64) float64 {
	if daysSince <= 0 || avgLifespan <= 0 {
		return 0
	}

	avgRatio := daysSince / avgLifespan
	minRatio := 0.0
	if minLifespan > 0 {
		minRatio = daysSince / minLifespan
	}

	var urgency float64
	switch {
	case avgRatio >= 1:
		urgency = 100
	case avgRatio >= 0.8:
		urgency = 50 + (avgRatio-0.8)*250
	case minRatio >= 1:
		urgency = 75
	default:
		urgency = avgRatio * 50
	}

	return math.Min(100, math.Max(0, urgency))
}

// RecommendedPartInventory projects part demand over forecastMonths from
// historical usage rates, sorted by descending monthly usage
func (a *Analyzer) RecommendedPartInventory(machine string, forecastMonths int) ([]*InventoryItem, error) {
	metrics.AnalysesRun.WithLabelValues("part_inventory").Inc()

	records, err := a.store.RecordsByMachine(machine)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []*InventoryItem{}, nil
	}

	oldest, newest, err := dateSpan(records)
	if err != nil {
		return nil, err
	}
	totalDays := daysBetween(oldest, newest)
	if totalDays < 1 {
		totalDays = 1
	}
	totalMonths := float64(totalDays) / 30.0

	usage, err := a.store.PartUsageForMachine(machine, nil)
	if err != nil {
		return nil, err
	}

	type tally struct {
		name  string
		total int
	}
	totals := make(map[string]*tally)
	var order []string
	for _, row := range usage {
		t, ok := totals[row.PartCode]
		if !ok {
			t = &tally{name: row.NamePart}
			totals[row.PartCode] = t
			order = append(order, row.PartCode)
		}
		t.total += row.Quantity
	}

	items := make([]*InventoryItem, 0, len(totals))
	perMonth := make(map[string]float64, len(totals))
	for _, code := range order {
		t := totals[code]
		upm := float64(t.total) / totalMonths
		perMonth[code] = upm
		items = append(items, &InventoryItem{
			PartCode:            code,
			NamePart:            t.name,
			HistoricalUsage:     t.total,
			UsagePerMonth:       fmt.Sprintf("%.2f", upm),
			RecommendedQuantity: int(math.Ceil(upm * float64(forecastMonths))),
			ForecastMonths:      forecastMonths,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return perMonth[items[i].PartCode] > perMonth[items[j].PartCode]
	})

	a.logger.Debug("inventory recommended",
		"machine", machine, "parts", len(items), "forecast_months", forecastMonths)
	return items, nil
}

// MachineSummary summarizes the stored history of one machine, or returns
// nil when no records exist
func (a *Analyzer) MachineSummary(machine string) (*MachineSummary, error) {
	metrics.AnalysesRun.WithLabelValues("machine_summary").Inc()

	records, err := a.store.RecordsByMachine(machine)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	oldest, newest, err := dateSpan(records)
	if err != nil {
		return nil, err
	}
	periodDays := daysBetween(oldest, newest)
	if periodDays < 1 {
		periodDays = 1
	}

	sides := make(map[string]int)
	symptomCounts := make(map[string]int)
	var symptomOrder []string
	for _, rec := range records {
		side := rec.MachineSide
		if side == "" {
			side = "N/A"
		}
		sides[side]++

		symptom := rec.SymptomNormalized
		if symptom == "" {
			symptom = rec.Symptom
		}
		if _, seen := symptomCounts[symptom]; !seen {
			symptomOrder = append(symptomOrder, symptom)
		}
		symptomCounts[symptom]++
	}

	top := make([]SymptomCount, 0, len(symptomOrder))
	for _, symptom := range symptomOrder {
		top = append(top, SymptomCount{Symptom: symptom, Count: symptomCounts[symptom]})
	}
	// Ties keep first-encounter order
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > 5 {
		top = top[:5]
	}

	return &MachineSummary{
		Machine:          machine,
		TotalFailures:    len(records),
		PeriodDays:       periodDays,
		FirstRecord:      oldest.Format(store.DateLayout),
		LastRecord:       newest.Format(store.DateLayout),
		FailuresPerMonth: fmt.Sprintf("%.2f", float64(len(records))/float64(periodDays)*30),
		SideBreakdown:    sides,
		TopSymptoms:      top,
	}, nil
}

// SimilarCase is a past repair whose symptom resembles a queried description
type SimilarCase struct {
	Record     *store.MaintenanceRecord `json:"record"`
	Similarity float64                  `json:"similarity"`
}

// FindSimilarCases ranks past records whose symptom matches the query at or
// above the threshold, most similar first. Useful for looking up how a
// symptom was fixed before.
func (a *Analyzer) FindSimilarCases(symptom string, threshold float64) ([]*SimilarCase, error) {
	metrics.AnalysesRun.WithLabelValues("similar_cases").Inc()

	records, err := a.store.AllRecords()
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(records))
	for i, rec := range records {
		if rec.SymptomNormalized != "" {
			texts[i] = rec.SymptomNormalized
		} else {
			texts[i] = rec.Symptom
		}
	}

	matches := a.text.FindSimilar(symptom, texts, threshold)
	cases := make([]*SimilarCase, 0, len(matches))
	for _, m := range matches {
		cases = append(cases, &SimilarCase{Record: records[m.Index], Similarity: m.Similarity})
	}

	a.logger.Debug("similar cases searched", "query", symptom, "matches", len(cases))
	return cases, nil
}

// daysBetween returns the ceiling of the absolute day difference between
// two timestamps
func daysBetween(a, b time.Time) int {
	diff := b.Sub(a)
	if diff < 0 {
		diff = -diff
	}
	return int(math.Ceil(diff.Hours() / 24))
}

// dateSpan returns the oldest and newest failure dates in a record set
func dateSpan(records []*store.MaintenanceRecord) (time.Time, time.Time, error) {
	var oldest, newest time.Time
	for i, rec := range records {
		d, err := rec.FailureDate()
		if err != nil {
			return oldest, newest, fmt.Errorf("record %d has invalid failure date: %w", rec.ID, err)
		}
		if i == 0 || d.Before(oldest) {
			oldest = d
		}
		if i == 0 || d.After(newest) {
			newest = d
		}
	}
	return oldest, newest, nil
}
