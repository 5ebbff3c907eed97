package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/config"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/correlate"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/logger"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/metrics"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/output/reportcsv"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/output/reportjson"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/rules"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		if _, err := os.Stat(configArg); err == nil {
			return configArg
		}
		log.Printf("Warning: config file not found at %s, trying default locations", configArg)
	}

	if _, err := os.Stat("correlator.yml"); err == nil {
		return "correlator.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), "correlator.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "correlator.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.Correlator.Output.Dir == "" {
		cfg.Correlator.Output.Dir = "output"
	}
	if cfg.Correlator.Output.Format == "" {
		cfg.Correlator.Output.Format = "both"
	}
	if cfg.Correlator.Logging.Level == "" {
		cfg.Correlator.Logging.Level = "info"
	}
}

// detectionConfig merges file overrides over the built-in thresholds.
func detectionConfig(cfg *config.Config) correlate.DetectionConfig {
	det := correlate.DefaultDetectionConfig()
	o := cfg.Correlator.Detection

	if len(o.CloudStorageDomains) > 0 {
		det.CloudStorageDomains = o.CloudStorageDomains
	}
	if o.ExfilPort > 0 {
		det.ExfilPort = o.ExfilPort
	}
	if o.ExfilByteThreshold > 0 {
		det.ExfilByteThreshold = o.ExfilByteThreshold
	}
	if o.WatchedPort > 0 {
		det.WatchedPort = o.WatchedPort
	}
	if len(o.AllowedDomains) > 0 {
		det.AllowedDomains = o.AllowedDomains
	}
	if len(o.SuspiciousLiterals) > 0 {
		det.SuspiciousLiterals = o.SuspiciousLiterals
	}
	if o.BeaconInterval > 0 {
		det.BeaconInterval = o.BeaconInterval.Std()
	}
	if o.BeaconStdDev > 0 {
		det.BeaconStdDev = o.BeaconStdDev.Std()
	}
	if o.MinOccurrences > 0 {
		det.MinOccurrences = o.MinOccurrences
	}
	if o.WorkspaceSessionLen > 0 {
		det.WorkspaceSessionLength = o.WorkspaceSessionLen.Std()
	}
	if o.SigninSessionTail > 0 {
		det.SigninSessionTail = o.SigninSessionTail.Std()
	}
	if o.SwitchWindow > 0 {
		det.SwitchWindow = o.SwitchWindow.Std()
	}
	if o.SpreadThreshold > 0 {
		det.SpreadThreshold = o.SpreadThreshold
	}
	if o.MaxListed > 0 {
		det.MaxListed = o.MaxListed
	}
	return det
}

func setup(configArg string) *config.Config {
	cfg, err := config.LoadConfig(findConfigFile(configArg))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	lg := cfg.Correlator.Logging
	if err := logger.Init(lg.Enabled, lg.Level, lg.File, lg.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return cfg
}

func ruleEngine(cfg *config.Config) rules.Engine {
	if !cfg.Correlator.Rules.Enabled || cfg.Correlator.Rules.Path == "" {
		return nil
	}
	engine, stats, err := rules.NewSigmaEngine(cfg.Correlator.Rules.Path)
	if err != nil {
		log.Fatalf("Failed to load sigma rules: %v", err)
	}
	logger.Infof("Loaded %d sigma rules (%d complex skipped, %d invalid) from %d files",
		stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid, stats.TotalFiles)
	return engine
}

func runAWS(args []string) {
	fs := flag.NewFlagSet("aws", flag.ExitOnError)
	configArg := fs.String("config", "", "Path to YAML config file")
	fs.Parse(args)

	cfg := setup(*configArg)
	aws := cfg.Correlator.AWS

	c := correlate.NewAWSCorrelator(detectionConfig(cfg))
	m := metrics.New()
	c.SetMetrics(m)
	if engine := ruleEngine(cfg); engine != nil {
		c.SetRuleEngine(engine)
	}

	start := time.Now()
	c.LoadWorkspaceUserMapping(aws.WorkspaceMapFile)

	if _, err := c.LoadLoginEvents(aws.LoginEventFiles); err != nil {
		log.Fatalf("Failed to load login events: %v", err)
	}
	if len(aws.QueryLogFiles) > 0 {
		if _, err := c.LoadQueryLogs(aws.QueryLogFiles, aws.UserLabels); err != nil {
			log.Fatalf("Failed to load query logs: %v", err)
		}
	}
	if len(aws.FlowLogFiles) > 0 {
		if _, err := c.LoadNetworkFlows(aws.FlowLogFiles, aws.UserLabels); err != nil {
			log.Fatalf("Failed to load network flows: %v", err)
		}
	}

	sessions, err := c.BuildSessionMapping()
	if err != nil {
		log.Fatalf("Failed to build session mapping: %v", err)
	}
	activities := c.DetectAll()
	timeline, err := c.BuildTimeline()
	if err != nil {
		log.Fatalf("Failed to build timeline: %v", err)
	}
	summary := c.Summary()

	exportReports(cfg, "aws", sessions, activities, timeline, summary, nil)
	logMetrics(m)
	logger.Infof("AWS correlation finished in %s: %d sessions, %d activities", time.Since(start).Round(time.Millisecond), len(sessions), len(activities))
}

func runAzure(args []string) {
	fs := flag.NewFlagSet("azure", flag.ExitOnError)
	configArg := fs.String("config", "", "Path to YAML config file")
	fs.Parse(args)

	cfg := setup(*configArg)
	az := cfg.Correlator.Azure

	c := correlate.NewAzureCorrelator(detectionConfig(cfg))
	m := metrics.New()
	c.SetMetrics(m)
	if engine := ruleEngine(cfg); engine != nil {
		c.SetRuleEngine(engine)
	}

	start := time.Now()
	if az.InteractiveSigninFile != "" {
		if _, err := c.LoadInteractiveSignins(az.InteractiveSigninFile); err != nil {
			log.Fatalf("Failed to load interactive sign-ins: %v", err)
		}
	}
	if _, err := c.LoadNonInteractiveSignins(az.NonInteractiveSigninFile); err != nil {
		log.Fatalf("Failed to load non-interactive sign-ins: %v", err)
	}

	sessions, err := c.BuildSessionMapping()
	if err != nil {
		log.Fatalf("Failed to build session mapping: %v", err)
	}
	activities, err := c.DetectAll()
	if err != nil {
		log.Fatalf("Failed to run detectors: %v", err)
	}

	allocation, err := c.AnalyzeAllocationPattern()
	if err != nil {
		log.Fatalf("Failed to analyze allocation pattern: %v", err)
	}
	logger.Infof("Allocation strategy: %s (%d concurrent cross-user pairs)", allocation.Strategy, len(allocation.ConcurrentPairs))

	fragmentation, err := c.DetectEvidenceFragmentation()
	if err != nil {
		log.Fatalf("Failed to build fragmentation reports: %v", err)
	}
	timeline, err := c.BuildTimeline()
	if err != nil {
		log.Fatalf("Failed to build timeline: %v", err)
	}
	summary := c.Summary()

	exportReports(cfg, "azure", sessions, activities, timeline, summary, fragmentation)
	if err := reportjson.WriteTable(filepath.Join(cfg.Correlator.Output.Dir, "azure_allocation.jsonl"), []*models.AllocationReport{allocation}); err != nil {
		log.Fatalf("Failed to write allocation report: %v", err)
	}
	logMetrics(m)
	logger.Infof("Azure correlation finished in %s: %d sessions, %d activities", time.Since(start).Round(time.Millisecond), len(sessions), len(activities))
}

func exportReports(cfg *config.Config, prefix string, sessions []models.Session, activities []models.Activity, timeline []models.TimelineEntry, summary models.Summary, fragmentation []models.FragmentationReport) {
	dir := cfg.Correlator.Output.Dir
	format := cfg.Correlator.Output.Format

	fail := func(what string, err error) {
		if err != nil {
			log.Fatalf("Failed to write %s: %v", what, err)
		}
	}

	if format == "csv" || format == "both" {
		fail("session csv", reportcsv.WriteSessions(filepath.Join(dir, prefix+"_sessions.csv"), sessions))
		fail("activity csv", reportcsv.WriteActivities(filepath.Join(dir, prefix+"_activities.csv"), activities))
		fail("timeline csv", reportcsv.WriteTimeline(filepath.Join(dir, prefix+"_timeline.csv"), timeline))
		fail("summary csv", reportcsv.WriteSummary(filepath.Join(dir, prefix+"_summary.csv"), summary))
		if fragmentation != nil {
			fail("fragmentation csv", reportcsv.WriteFragmentation(filepath.Join(dir, prefix+"_fragmentation.csv"), fragmentation))
		}
	}
	if format == "jsonl" || format == "both" {
		fail("session jsonl", reportjson.WriteTable(filepath.Join(dir, prefix+"_sessions.jsonl"), sessions))
		fail("activity jsonl", reportjson.WriteTable(filepath.Join(dir, prefix+"_activities.jsonl"), activities))
		fail("timeline jsonl", reportjson.WriteTable(filepath.Join(dir, prefix+"_timeline.jsonl"), timeline))
		if fragmentation != nil {
			fail("fragmentation jsonl", reportjson.WriteTable(filepath.Join(dir, prefix+"_fragmentation.jsonl"), fragmentation))
		}
		w, err := reportjson.NewWriter(filepath.Join(dir, prefix+"_summary.jsonl"))
		fail("summary jsonl", err)
		fail("summary jsonl", w.WriteValue(summary))
		fail("summary jsonl", w.Close())
	}
}

func logMetrics(m *metrics.Metrics) {
	snap := m.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logger.Infof("metric %s = %.0f", name, snap[name])
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <aws|azure> [-config path]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "aws":
		runAWS(os.Args[2:])
	case "azure":
		runAzure(os.Args[2:])
	default:
		usage()
	}
}
