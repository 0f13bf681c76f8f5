package ingest

import (
	"fmt"
	"time"

	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/logx"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/metrics"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/store"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/textsim"
)

// Record is one formatted maintenance row handed to the ingestor by an
// upstream producer (spreadsheet import, API). Fields mirror the store
// schema; part fields are optional and only persisted when both code and
// name are present.
type Record struct {
	Machine     string `json:"machine"`
	MachineSide string `json:"machine_side,omitempty"`
	Symptom     string `json:"symptom"`
	DateFailure string `json:"date_failure"`
	TimeFailure string `json:"time_failure"`
	Repairer    string `json:"repairer"`
	HowToFix    string `json:"how_to_fix,omitempty"`
	PartCode    string `json:"part_code,omitempty"`
	NamePart    string `json:"name_part,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
}

// Validate checks required fields and date/time formats. Quantity zero is
// treated as the default of one replacement.
func (r *Record) Validate() error {
	if r.Machine == "" {
		return fmt.Errorf("machine is required")
	}
	if r.Symptom == "" {
		return fmt.Errorf("symptom is required")
	}
	if r.Repairer == "" {
		return fmt.Errorf("repairer is required")
	}
	if _, err := time.Parse(store.DateLayout, r.DateFailure); err != nil {
		return fmt.Errorf("invalid date_failure %q: %w", r.DateFailure, err)
	}
	if _, err := time.Parse(store.TimeLayout, r.TimeFailure); err != nil {
		return fmt.Errorf("invalid time_failure %q: %w", r.TimeFailure, err)
	}
	if r.Quantity < 0 {
		return fmt.Errorf("quantity must be at least 1, got %d", r.Quantity)
	}
	return nil
}

// RecordError ties a failed row to its original data
type RecordError struct {
	Record Record `json:"record"`
	Error  string `json:"error"`
}

// Result summarizes a batch import
type Result struct {
	Success int           `json:"success"`
	Failed  int           `json:"failed"`
	Errors  []RecordError `json:"errors"`
}

// Ingestor normalizes and persists batches of maintenance records
type Ingestor struct {
	store     *store.Store
	engine    *textsim.Engine
	logger    *logx.Logger
	threshold float64
}

// NewIngestor creates a record ingestor clustering free text at the given
// similarity threshold
func NewIngestor(s *store.Store, engine *textsim.Engine, logger *logx.Logger, threshold float64) *Ingestor {
	if threshold <= 0 || threshold > 1 {
		threshold = textsim.DefaultClusterThreshold
	}
	return &Ingestor{
		store:     s,
		engine:    engine,
		logger:    logger,
		threshold: threshold,
	}
}

// ImportRecords normalizes symptom and fix text across the whole batch,
// then persists each record. A failing record is counted and reported with
// its original data without aborting the rest of the batch.
func (in *Ingestor) ImportRecords(records []Record) *Result {
	started := time.Now()
	result := &Result{Errors: []RecordError{}}

	symptomMap := in.buildNormalizationMap(records, func(r Record) string { return r.Symptom })
	fixMap := in.buildNormalizationMap(records, func(r Record) string { return r.HowToFix })
	in.logger.LogDebugVerbose("normalization maps built", map[string]interface{}{
		"records":          len(records),
		"symptom_variants": len(symptomMap),
		"fix_variants":     len(fixMap),
		"threshold":        in.threshold,
	})

	for _, rec := range records {
		if err := in.importOne(rec, symptomMap, fixMap); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RecordError{Record: rec, Error: err.Error()})
			metrics.RecordsImported.WithLabelValues("failed").Inc()
			in.logger.Warn("record import failed",
				"machine", rec.Machine,
				"date_failure", rec.DateFailure,
				"error", err)
			continue
		}
		result.Success++
		metrics.RecordsImported.WithLabelValues("success").Inc()
	}

	metrics.ImportBatchDuration.Observe(time.Since(started).Seconds())
	in.logger.Info("record batch imported",
		"total", len(records),
		"success", result.Success,
		"failed", result.Failed,
		"threshold", in.threshold)

	return result
}

// buildNormalizationMap clusters the non-empty values of one text field and
// maps every variant to its cluster representative. Symptom and fix
// vocabularies are clustered independently and never cross-matched.
func (in *Ingestor) buildNormalizationMap(records []Record, field func(Record) string) map[string]string {
	var texts []string
	for _, rec := range records {
		if v := field(rec); v != "" {
			texts = append(texts, v)
		}
	}

	lookup := make(map[string]string, len(texts))
	for _, cluster := range in.engine.ClusterSimilarTexts(texts, in.threshold) {
		for _, variant := range cluster.Variants {
			lookup[variant] = cluster.Representative
		}
	}
	return lookup
}

func (in *Ingestor) importOne(rec Record, symptomMap, fixMap map[string]string) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	id, err := in.store.InsertRecord(&store.MaintenanceRecord{
		Machine:             rec.Machine,
		MachineSide:         rec.MachineSide,
		Symptom:             rec.Symptom,
		SymptomNormalized:   normalized(symptomMap, rec.Symptom),
		DateFailure:         rec.DateFailure,
		TimeFailure:         rec.TimeFailure,
		Repairer:            rec.Repairer,
		HowToFix:            rec.HowToFix,
		FixMethodNormalized: normalized(fixMap, rec.HowToFix),
	})
	if err != nil {
		return err
	}

	if rec.PartCode != "" && rec.NamePart != "" {
		quantity := rec.Quantity
		if quantity < 1 {
			quantity = 1
		}
		if err := in.store.InsertPart(rec.PartCode, rec.NamePart); err != nil {
			return err
		}
		if err := in.store.InsertPartUsage(id, rec.PartCode, quantity, rec.DateFailure); err != nil {
			return err
		}
	}

	return nil
}

// normalized resolves a text to its cluster representative, falling back to
// the text itself when it was excluded from clustering (empty or
// whitespace-only input)
func normalized(lookup map[string]string, text string) string {
	if rep, ok := lookup[text]; ok {
		return rep
	}
	return text
}
