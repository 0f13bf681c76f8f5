package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/analyzer"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/config"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/ingest"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/logx"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/metrics"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/predict"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/store"
	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/textsim"
)

// Command line flags
var (
	// Data Commands
	importFile  = flag.String("import", "", "Import maintenance records from a JSON file")
	listMachine = flag.Bool("machines", false, "List all machines with recorded failures")
	partHistory = flag.String("part-history", "", "Show replacement history for a part code")
	resetData   = flag.Bool("reset", false, "Delete all stored records, parts and usage events")

	// Analysis Commands
	showSummary   = flag.Bool("summary", false, "Show failure summary for a machine")
	showFrequency = flag.Bool("frequency", false, "Show failure frequency by machine side")
	showParts     = flag.Bool("parts", false, "Show part lifespan and replacement urgency")
	showInventory = flag.Bool("inventory", false, "Show recommended part inventory")
	searchSymptom = flag.String("search", "", "Find past repairs with a similar symptom")

	// Prediction Commands
	predictFailure = flag.Bool("predict", false, "Predict the next failure date")
	forecastParts  = flag.Bool("forecast-parts", false, "Forecast part requirements")
	showPatterns   = flag.Bool("patterns", false, "Analyze failure patterns")
	showRisk       = flag.Bool("risk", false, "Compute the machine risk score")

	// Selection Options
	machine     = flag.String("machine", "", "Machine identifier")
	machineSide = flag.String("side", "", "Machine side (optional)")
	startDate   = flag.String("start", "", "Period start date YYYY-MM-DD (default 90 days ago)")
	endDate     = flag.String("end", "", "Period end date YYYY-MM-DD (default today)")

	// Forecast Options
	forecastDays   = flag.Int("forecast-days", 0, "Forecast horizon in days (default from config)")
	forecastMonths = flag.Int("forecast-months", 0, "Inventory forecast horizon in months (default from config)")

	// Output Format Options
	outputFormat = flag.String("format", "json", "Output format: json, compact")

	// Configuration Options
	configPath   = flag.String("config", "", "Path to YAML configuration file")
	dbPath       = flag.String("db-path", "", "SQLite database path (overrides config)")
	logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	serveMetrics = flag.Bool("metrics", false, "Expose Prometheus metrics while the command runs")

	version = flag.Bool("version", false, "Show version information")
)

const (
	AppName    = "pmsysctl"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *forecastDays == 0 {
		*forecastDays = cfg.ForecastDays
	}
	if *forecastMonths == 0 {
		*forecastMonths = cfg.ForecastMonths
	}

	logger := logx.NewLogger(cfg.LogLevel, "pmsysctl")
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	if *serveMetrics || cfg.MetricsListener {
		srv := metrics.NewServer(cfg.MetricsPort, logger)
		go srv.Start()
		defer srv.Close()
	}

	s, err := store.Open(cfg.DatabasePath, logger.WithComponent("store"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	if err := dispatch(cfg, s, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(cfg *config.Config, s *store.Store, logger *logx.Logger) error {
	switch {
	case *importFile != "":
		return handleImport(cfg, s, logger)
	case *listMachine:
		return handleMachines(s)
	case *partHistory != "":
		return handlePartHistory(s)
	case *resetData:
		return s.Reset()
	case *showSummary:
		return handleSummary(s, logger)
	case *showFrequency:
		return handleFrequency(s, logger)
	case *showParts:
		return handleParts(s, logger)
	case *showInventory:
		return handleInventory(s, logger)
	case *searchSymptom != "":
		return handleSearch(cfg, s, logger)
	case *predictFailure:
		return handlePredict(s, logger)
	case *forecastParts:
		return handleForecastParts(s, logger)
	case *showPatterns:
		return handlePatterns(s, logger)
	case *showRisk:
		return handleRisk(s, logger)
	}

	showUsage()
	return nil
}

func requireMachine() (string, error) {
	if *machine == "" {
		return "", fmt.Errorf("this command requires -machine")
	}
	return *machine, nil
}

func sideArg() *string {
	if *machineSide == "" {
		return nil
	}
	return machineSide
}

// handleImport loads a JSON array of records and imports it as one batch
func handleImport(cfg *config.Config, s *store.Store, logger *logx.Logger) error {
	data, err := os.ReadFile(*importFile)
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}

	var records []ingest.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse import file: %w", err)
	}

	ing := ingest.NewIngestor(s, textsim.NewEngine(), logger.WithComponent("ingest"), cfg.ClusterThreshold)
	return output(ing.ImportRecords(records))
}

func handleMachines(s *store.Store) error {
	machines, err := s.Machines()
	if err != nil {
		return err
	}
	return output(machines)
}

func handlePartHistory(s *store.Store) error {
	history, err := s.PartUsageHistory(*partHistory)
	if err != nil {
		return err
	}
	return output(history)
}

func handleSummary(s *store.Store, logger *logx.Logger) error {
	m, err := requireMachine()
	if err != nil {
		return err
	}

	summary, err := analyzer.NewAnalyzer(s, logger.WithComponent("analyzer")).MachineSummary(m)
	if err != nil {
		return err
	}
	if summary == nil {
		return fmt.Errorf("no records for machine %q", m)
	}
	return output(summary)
}

func handleFrequency(s *store.Store, logger *logx.Logger) error {
	m, err := requireMachine()
	if err != nil {
		return err
	}

	start, end := periodOrDefault()
	stats, err := analyzer.NewAnalyzer(s, logger.WithComponent("analyzer")).AnalyzeFailureFrequency(m, start, end)
	if err != nil {
		return err
	}
	return output(stats)
}

func handleParts(s *store.Store, logger *logx.Logger) error {
	m, err := requireMachine()
	if err != nil {
		return err
	}

	stats, err := analyzer.NewAnalyzer(s, logger.WithComponent("analyzer")).AnalyzePartUsage(m, sideArg())
	if err != nil {
		return err
	}
	return output(stats)
}

func handleInventory(s *store.Store, logger *logx.Logger) error {
	m, err := requireMachine()
	if err != nil {
		return err
	}

	items, err := analyzer.NewAnalyzer(s, logger.WithComponent("analyzer")).RecommendedPartInventory(m, *forecastMonths)
	if err != nil {
		return err
	}
	return output(items)
}

func handleSearch(cfg *config.Config, s *store.Store, logger *logx.Logger) error {
	cases, err := analyzer.NewAnalyzer(s, logger.WithComponent("analyzer")).FindSimilarCases(*searchSymptom, cfg.ClusterThreshold)
	if err != nil {
		return err
	}
	return output(cases)
}

func handlePredict(s *store.Store, logger *logx.Logger) error {
	m, err := requireMachine()
	if err != nil {
		return err
	}

	result, err := predict.NewPredictor(s, logger.WithComponent("predict")).PredictNextFailure(m, sideArg())
	if err != nil {
		return err
	}
	return output(result)
}

func handleForecastParts(s *store.Store, logger *logx.Logger) error {
	m, err := requireMachine()
	if err != nil {
		return err
	}

	result, err := predict.NewPredictor(s, logger.WithComponent("predict")).PredictPartRequirement(m, sideArg(), *forecastDays)
	if err != nil {
		return err
	}
	return output(result)
}

func handlePatterns(s *store.Store, logger *logx.Logger) error {
	m, err := requireMachine()
	if err != nil {
		return err
	}

	result, err := predict.NewPredictor(s, logger.WithComponent("predict")).AnalyzeFailurePatterns(m)
	if err != nil {
		return err
	}
	return output(result)
}

func handleRisk(s *store.Store, logger *logx.Logger) error {
	m, err := requireMachine()
	if err != nil {
		return err
	}

	result, err := predict.NewPredictor(s, logger.WithComponent("predict")).CalculateRiskScore(m, sideArg())
	if err != nil {
		return err
	}
	return output(result)
}

// periodOrDefault returns the requested analysis period, defaulting to the
// last 90 days
func periodOrDefault() (string, string) {
	start := *startDate
	end := *endDate
	if end == "" {
		end = time.Now().Format(store.DateLayout)
	}
	if start == "" {
		start = time.Now().AddDate(0, 0, -90).Format(store.DateLayout)
	}
	return start, end
}

func output(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	if !strings.EqualFold(*outputFormat, "compact") {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

// showUsage displays usage information
func showUsage() {
	fmt.Printf("%s - Maintenance Analytics Control Tool\n", AppName)
	fmt.Printf("Version: %s\n\n", AppVersion)

	fmt.Println("Data Commands:")
	fmt.Println("  -import file       Import maintenance records from a JSON file")
	fmt.Println("  -machines          List all machines with recorded failures")
	fmt.Println("  -part-history code Show replacement history for a part code")
	fmt.Println("  -reset             Delete all stored records, parts and usage events")
	fmt.Println()

	fmt.Println("Analysis Commands:")
	fmt.Println("  -summary           Show failure summary for a machine")
	fmt.Println("  -frequency         Show failure frequency by machine side")
	fmt.Println("  -parts             Show part lifespan and replacement urgency")
	fmt.Println("  -inventory         Show recommended part inventory")
	fmt.Println("  -search text       Find past repairs with a similar symptom")
	fmt.Println()

	fmt.Println("Prediction Commands:")
	fmt.Println("  -predict           Predict the next failure date")
	fmt.Println("  -forecast-parts    Forecast part requirements")
	fmt.Println("  -patterns          Analyze failure patterns")
	fmt.Println("  -risk              Compute the machine risk score")
	fmt.Println()

	fmt.Println("Selection Options:")
	fmt.Println("  -machine string    Machine identifier (required for analysis and prediction)")
	fmt.Println("  -side string       Machine side (optional)")
	fmt.Println("  -start date        Period start date YYYY-MM-DD (default 90 days ago)")
	fmt.Println("  -end date          Period end date YYYY-MM-DD (default today)")
	fmt.Println()

	fmt.Println("Forecast Options:")
	fmt.Println("  -forecast-days int    Forecast horizon in days (default from config)")
	fmt.Println("  -forecast-months int  Inventory forecast horizon in months (default from config)")
	fmt.Println()

	fmt.Println("Configuration Options:")
	fmt.Println("  -config string     Path to YAML configuration file")
	fmt.Println("  -db-path string    SQLite database path (overrides config)")
	fmt.Println("  -log-level string  Log level: debug, info, warn, error (overrides config)")
	fmt.Println("  -format string     Output format: json, compact (default \"json\")")
	fmt.Println("  -metrics           Expose Prometheus metrics while the command runs")
	fmt.Println("  -version           Show version information")
	fmt.Println()

	fmt.Println("Examples:")
	fmt.Println("  pmsysctl -import records.json")
	fmt.Println("  pmsysctl -summary -machine M1")
	fmt.Println("  pmsysctl -predict -machine M1 -side left")
	fmt.Println("  pmsysctl -risk -machine M1 -format compact")
	fmt.Println("  pmsysctl -inventory -machine M1 -forecast-months 6")
	fmt.Println("  pmsysctl -frequency -machine M1 -start 2024-01-01 -end 2024-06-30")
}
