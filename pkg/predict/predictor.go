package predict

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sajari/regression"

	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/logx"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/metrics"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/store"
)

const (
	// MinRecordsForPrediction is the smallest history that yields a
	// next-failure estimate
	MinRecordsForPrediction = 2
	// MinRecordsForPatterns is the smallest history that yields a
	// pattern analysis
	MinRecordsForPatterns = 5
)

// ConfidenceInterval bounds a predicted date at 95% confidence
type ConfidenceInterval struct {
	Earliest string `json:"earliest"`
	Latest   string `json:"latest"`
}

// PredictionStatistics carries the interval statistics behind a prediction
type PredictionStatistics struct {
	TotalFailures          int    `json:"total_failures"`
	AvgIntervalDays        int    `json:"avg_interval_days"`
	WeightedAvgDays        int    `json:"weighted_avg_days"`
	StdDeviation           int    `json:"std_deviation"`
	CoefficientOfVariation string `json:"coefficient_of_variation"`
	IntervalTrendSlope     string `json:"interval_trend_slope,omitempty"`
}

// NextFailurePrediction is the result of a next-failure estimate. When the
// history is too short, PredictedDate is empty, Confidence is zero and
// Message explains why.
type NextFailurePrediction struct {
	Machine            string                `json:"machine"`
	MachineSide        string                `json:"machine_side,omitempty"`
	LastFailure        string                `json:"last_failure,omitempty"`
	PredictedDate      string                `json:"predicted_date,omitempty"`
	Confidence         int                   `json:"confidence"`
	ConfidenceInterval *ConfidenceInterval   `json:"confidence_interval,omitempty"`
	Statistics         *PredictionStatistics `json:"statistics,omitempty"`
	Message            string                `json:"message,omitempty"`
}

// PartRequirement is a forecast of one part's demand over a horizon
type PartRequirement struct {
	PartCode         string `json:"part_code"`
	NamePart         string `json:"name_part"`
	HistoricalUsage  int    `json:"historical_usage"`
	UsageRatePerDay  string `json:"usage_rate_per_day"`
	PredictedUsage   int    `json:"predicted_usage"`
	LastUsed         string `json:"last_used"`
	DaysSinceLastUse int    `json:"days_since_last_use"`
	PredictedNextUse string `json:"predicted_next_use"`
	RecommendedStock int    `json:"recommended_stock"`
}

// PatternGroup is one bucketed distribution and its dominant bucket
type PatternGroup struct {
	Data       map[string]int `json:"data"`
	MostCommon string         `json:"most_common"`
}

// SymptomPattern is one symptom's share of a machine's failures
type SymptomPattern struct {
	Symptom    string `json:"symptom"`
	Count      int    `json:"count"`
	Percentage string `json:"percentage"`
}

// PatternAnalysis groups a machine's failures by time of day, weekday and
// symptom. With fewer than MinRecordsForPatterns records only Message is set.
type PatternAnalysis struct {
	Machine      string           `json:"machine"`
	TotalRecords int              `json:"total_records"`
	TimePatterns *PatternGroup    `json:"time_patterns,omitempty"`
	DayPatterns  *PatternGroup    `json:"day_patterns,omitempty"`
	TopSymptoms  []SymptomPattern `json:"top_symptoms,omitempty"`
	Message      string           `json:"message,omitempty"`
}

// RiskFactors breaks a risk score into its inputs
type RiskFactors struct {
	RecentFailures30d    int    `json:"recent_failures_30d"`
	DaysSinceLastFailure int    `json:"days_since_last_failure"`
	Trend                string `json:"trend"`
}

// RiskScore is a 0-100 composite estimate of near-term failure likelihood
type RiskScore struct {
	Machine        string       `json:"machine"`
	MachineSide    string       `json:"machine_side,omitempty"`
	Score          int          `json:"risk_score"`
	Level          string       `json:"risk_level"`
	Factors        *RiskFactors `json:"factors,omitempty"`
	Recommendation string       `json:"recommendation,omitempty"`
	Message        string       `json:"message,omitempty"`
}

// Predictor estimates future failures and part demand from the stored
// maintenance history
type Predictor struct {
	store  *store.Store
	logger *logx.Logger
	now    func() time.Time
}

// NewPredictor creates a predictor backed by the given store
func NewPredictor(s *store.Store, logger *logx.Logger) *Predictor {
	return &Predictor{
		store:  s,
		logger: logger,
		now:    time.Now,
	}
}

func (p *Predictor) recordsFor(machine string, side *string) ([]*store.MaintenanceRecord, error) {
	if side != nil {
		return p.store.RecordsByMachineAndSide(machine, *side)
	}
	return p.store.RecordsByMachine(machine)
}

// PredictNextFailure estimates the next failure date of a machine (or one
// side) from a weighted moving average of past failure intervals. Recent
// intervals weigh more than old ones.
func (p *Predictor) PredictNextFailure(machine string, side *string) (*NextFailurePrediction, error) {
	metrics.AnalysesRun.WithLabelValues("next_failure").Inc()

	records, err := p.recordsFor(machine, side)
	if err != nil {
		return nil, err
	}

	result := &NextFailurePrediction{Machine: machine}
	if side != nil {
		result.MachineSide = *side
	}

	if len(records) < MinRecordsForPrediction {
		result.Message = fmt.Sprintf("insufficient history for prediction (need at least %d records, have %d)",
			MinRecordsForPrediction, len(records))
		return result, nil
	}

	// Records arrive ordered by failure date and time
	intervals := make([]float64, 0, len(records)-1)
	prev, err := records[0].FailureTime()
	if err != nil {
		return nil, err
	}
	for _, rec := range records[1:] {
		curr, err := rec.FailureTime()
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, curr.Sub(prev).Hours()/24)
		prev = curr
	}

	avg := mean(intervals)
	stdDev := math.Sqrt(populationVariance(intervals, avg))
	weighted := weightedAverage(intervals)

	lastFailure := prev
	predicted := lastFailure.AddDate(0, 0, int(math.Round(weighted)))

	cov := stdDev / avg
	confidence := 30
	switch {
	case cov < 0.2:
		confidence = 90
	case cov < 0.4:
		confidence = 70
	case cov < 0.6:
		confidence = 50
	}

	ciDays := int(math.Round(stdDev * 1.96))
	result.LastFailure = lastFailure.Format(store.DateLayout)
	result.PredictedDate = predicted.Format(store.DateLayout)
	result.Confidence = confidence
	result.ConfidenceInterval = &ConfidenceInterval{
		Earliest: predicted.AddDate(0, 0, -ciDays).Format(store.DateLayout),
		Latest:   predicted.AddDate(0, 0, ciDays).Format(store.DateLayout),
	}
	result.Statistics = &PredictionStatistics{
		TotalFailures:          len(records),
		AvgIntervalDays:        int(math.Round(avg)),
		WeightedAvgDays:        int(math.Round(weighted)),
		StdDeviation:           int(math.Round(stdDev)),
		CoefficientOfVariation: fmt.Sprintf("%.2f", cov),
		IntervalTrendSlope:     intervalTrendSlope(intervals),
	}

	p.logger.Debug("next failure predicted",
		"machine", machine, "predicted_date", result.PredictedDate, "confidence", confidence)
	return result, nil
}

// intervalTrendSlope fits interval length against failure index and returns
// the slope per failure, or "" when the fit is not possible. A positive
// slope means the machine is degrading more slowly over time.
func intervalTrendSlope(intervals []float64) string {
	if len(intervals) < 2 {
		return ""
	}
	r := new(regression.Regression)
	r.SetObserved("interval days")
	r.SetVar(0, "failure index")
	for i, v := range intervals {
		r.Train(regression.DataPoint(v, []float64{float64(i)}))
	}
	if err := r.Run(); err != nil {
		return ""
	}
	return fmt.Sprintf("%.4f", r.Coeff(1))
}

// PredictPartRequirement forecasts part demand for a machine over
// forecastDays from historical daily usage rates, sorted by descending
// predicted usage
func (p *Predictor) PredictPartRequirement(machine string, side *string, forecastDays int) ([]*PartRequirement, error) {
	metrics.AnalysesRun.WithLabelValues("part_requirement").Inc()

	records, err := p.recordsFor(machine, side)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []*PartRequirement{}, nil
	}

	oldest, newest, err := dateSpan(records)
	if err != nil {
		return nil, err
	}
	totalDays := math.Ceil(newest.Sub(oldest).Hours() / 24)
	if totalDays < 1 {
		totalDays = 1
	}

	usage, err := p.store.PartUsageForMachine(machine, side)
	if err != nil {
		return nil, err
	}

	type partHistory struct {
		name  string
		total int
		dates []time.Time
	}
	parts := make(map[string]*partHistory)
	var order []string
	for _, row := range usage {
		h, ok := parts[row.PartCode]
		if !ok {
			h = &partHistory{name: row.NamePart}
			parts[row.PartCode] = h
			order = append(order, row.PartCode)
		}
		h.total += row.Quantity
		d, err := time.Parse(store.DateLayout, row.DateFailure)
		if err != nil {
			return nil, fmt.Errorf("part usage for %s has invalid date %q: %w", row.PartCode, row.DateFailure, err)
		}
		h.dates = append(h.dates, d)
	}

	today := p.now()
	result := make([]*PartRequirement, 0, len(parts))
	for _, code := range order {
		h := parts[code]
		rate := float64(h.total) / totalDays
		predicted := int(math.Ceil(rate * float64(forecastDays)))

		lastUsed := h.dates[0]
		for _, d := range h.dates[1:] {
			if d.After(lastUsed) {
				lastUsed = d
			}
		}
		daysSince := today.Sub(lastUsed).Hours() / 24

		avgBetween := 0.0
		if len(h.dates) > 1 {
			sorted := make([]time.Time, len(h.dates))
			copy(sorted, h.dates)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
			sum := 0.0
			for i := 1; i < len(sorted); i++ {
				sum += sorted[i].Sub(sorted[i-1]).Hours() / 24
			}
			avgBetween = sum / float64(len(sorted)-1)
		}

		nextUse := "N/A"
		if avgBetween > 0 {
			nextUse = today.AddDate(0, 0, int(math.Round(avgBetween-daysSince))).Format(store.DateLayout)
		}

		stock := predicted
		if stock < 1 {
			stock = 1
		}
		result = append(result, &PartRequirement{
			PartCode:         code,
			NamePart:         h.name,
			HistoricalUsage:  h.total,
			UsageRatePerDay:  fmt.Sprintf("%.4f", rate),
			PredictedUsage:   predicted,
			LastUsed:         lastUsed.Format(store.DateLayout),
			DaysSinceLastUse: int(math.Round(daysSince)),
			PredictedNextUse: nextUse,
			RecommendedStock: stock,
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].PredictedUsage > result[j].PredictedUsage
	})
	return result, nil
}

var (
	timeBuckets  = []string{"morning", "afternoon", "evening", "night"}
	weekdayOrder = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
)

// AnalyzeFailurePatterns buckets a machine's failures by time of day,
// weekday and normalized symptom
func (p *Predictor) AnalyzeFailurePatterns(machine string) (*PatternAnalysis, error) {
	metrics.AnalysesRun.WithLabelValues("failure_patterns").Inc()

	records, err := p.store.RecordsByMachine(machine)
	if err != nil {
		return nil, err
	}

	result := &PatternAnalysis{Machine: machine, TotalRecords: len(records)}
	if len(records) < MinRecordsForPatterns {
		result.Message = fmt.Sprintf("insufficient history for pattern analysis (need at least %d records, have %d)",
			MinRecordsForPatterns, len(records))
		return result, nil
	}

	timeData := map[string]int{"morning": 0, "afternoon": 0, "evening": 0, "night": 0}
	dayData := map[string]int{"Mon": 0, "Tue": 0, "Wed": 0, "Thu": 0, "Fri": 0, "Sat": 0, "Sun": 0}
	symptomCounts := make(map[string]int)
	var symptomOrder []string

	for _, rec := range records {
		timeData[timeBucket(rec.TimeFailure)]++

		if d, err := rec.FailureDate(); err == nil {
			dayData[d.Weekday().String()[:3]]++
		}

		symptom := rec.SymptomNormalized
		if symptom == "" {
			symptom = rec.Symptom
		}
		if _, seen := symptomCounts[symptom]; !seen {
			symptomOrder = append(symptomOrder, symptom)
		}
		symptomCounts[symptom]++
	}

	top := make([]SymptomPattern, 0, len(symptomOrder))
	for _, symptom := range symptomOrder {
		top = append(top, SymptomPattern{
			Symptom:    symptom,
			Count:      symptomCounts[symptom],
			Percentage: fmt.Sprintf("%.1f", float64(symptomCounts[symptom])/float64(len(records))*100),
		})
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > 5 {
		top = top[:5]
	}

	result.TimePatterns = &PatternGroup{Data: timeData, MostCommon: mostCommon(timeData, timeBuckets)}
	result.DayPatterns = &PatternGroup{Data: dayData, MostCommon: mostCommon(dayData, weekdayOrder)}
	result.TopSymptoms = top
	return result, nil
}

// timeBucket maps a HH:MM:SS time to its shift bucket; the night bucket
// wraps from 22:00 through 05:59
func timeBucket(timeOfDay string) string {
	hour, err := strconv.Atoi(strings.SplitN(timeOfDay, ":", 2)[0])
	if err != nil {
		return "night"
	}
	switch {
	case hour >= 6 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 18:
		return "afternoon"
	case hour >= 18 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}

// mostCommon returns the highest-count key, breaking ties by bucket order
func mostCommon(data map[string]int, order []string) string {
	best := order[0]
	for _, key := range order[1:] {
		if data[key] > data[best] {
			best = key
		}
	}
	return best
}

// CalculateRiskScore combines recent failure frequency, trend and recency
// into a 0-100 score. A machine with no history scores 0 with level UNKNOWN.
func (p *Predictor) CalculateRiskScore(machine string, side *string) (*RiskScore, error) {
	metrics.AnalysesRun.WithLabelValues("risk_score").Inc()

	records, err := p.recordsFor(machine, side)
	if err != nil {
		return nil, err
	}

	result := &RiskScore{Machine: machine}
	if side != nil {
		result.MachineSide = *side
	}

	if len(records) == 0 {
		result.Level = "UNKNOWN"
		result.Message = "no maintenance history for this machine"
		return result, nil
	}

	today := p.now()
	lastFailure, err := records[len(records)-1].FailureDate()
	if err != nil {
		return nil, err
	}
	daysSince := today.Sub(lastFailure).Hours() / 24

	thirtyDaysAgo := today.AddDate(0, 0, -30)
	recent := 0
	for _, rec := range records {
		d, err := rec.FailureDate()
		if err != nil {
			return nil, err
		}
		if !d.Before(thirtyDaysAgo) {
			recent++
		}
	}

	// Half comparison only kicks in at 6 records; below that the trend
	// stays neutral
	trend := 0
	if len(records) >= 6 {
		mid := len(records) / 2
		trend = (len(records) - mid) - mid
	}

	score := 0
	if f := recent * 10; f < 40 {
		score += f
	} else {
		score += 40
	}
	if trend > 0 {
		if f := trend * 10; f < 30 {
			score += f
		} else {
			score += 30
		}
	}
	switch {
	case daysSince <= 7:
		score += 30
	case daysSince <= 14:
		score += 20
	case daysSince <= 30:
		score += 10
	}

	level := "LOW"
	switch {
	case score >= 70:
		level = "HIGH"
	case score >= 40:
		level = "MEDIUM"
	}

	trendLabel := "STABLE"
	if trend > 0 {
		trendLabel = "INCREASING"
	} else if trend < 0 {
		trendLabel = "DECREASING"
	}

	result.Score = score
	result.Level = level
	result.Factors = &RiskFactors{
		RecentFailures30d:    recent,
		DaysSinceLastFailure: int(math.Round(daysSince)),
		Trend:                trendLabel,
	}
	result.Recommendation = recommendation(score, daysSince)

	p.logger.Debug("risk scored", "machine", machine, "score", score, "level", level)
	return result, nil
}

func recommendation(score int, daysSinceLastFailure float64) string {
	switch {
	case score >= 70:
		return "inspect and service immediately - high failure risk"
	case score >= 40:
		return "schedule inspection and maintenance within 7-14 days"
	case daysSinceLastFailure > 90:
		return "perform routine preventive inspection"
	default:
		return "normal - continue monitoring"
	}
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationVariance(values []float64, mean float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += (v - mean) * (v - mean)
	}
	return sum / float64(len(values))
}

// weightedAverage weights each interval by its position so later intervals
// dominate
func weightedAverage(values []float64) float64 {
	weightedSum := 0.0
	totalWeight := 0.0
	for i, v := range values {
		w := float64(i + 1)
		weightedSum += v * w
		totalWeight += w
	}
	return weightedSum / totalWeight
}

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
