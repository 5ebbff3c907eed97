package correlate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/dedup"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/ingest"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/logger"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/metrics"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/rules"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/timestamp"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"
)

const (
	sourceInteractiveSignins    = "interactive sign-ins"
	sourceNonInteractiveSignins = "non-interactive sign-ins"
)

const requestIDColumn = "Request ID"

// AzureCorrelator correlates interactive and non-interactive Entra sign-in
// exports into per-user VM session history and behavioral flags. One
// instance owns its tables for the duration of one run and is not safe for
// concurrent use.
type AzureCorrelator struct {
	cfg        DetectionConfig
	metrics    *metrics.Metrics
	ruleEngine rules.Engine

	interactive    []*models.Record
	noninteractive []*models.Record
	vmNames        map[string]string

	sessions   []models.Session
	activities []models.Activity
	detected   bool
}

// NewAzureCorrelator creates a correlator with the given detection settings.
func NewAzureCorrelator(cfg DetectionConfig) *AzureCorrelator {
	return &AzureCorrelator{
		cfg:     cfg,
		vmNames: make(map[string]string),
	}
}

// SetMetrics attaches a per-run counter set.
func (c *AzureCorrelator) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// SetRuleEngine attaches an optional Sigma rule engine.
func (c *AzureCorrelator) SetRuleEngine(e rules.Engine) { c.ruleEngine = e }

// LoadInteractiveSignins ingests an interactive sign-in export.
func (c *AzureCorrelator) LoadInteractiveSignins(path string) ([]*models.Record, error) {
	records, err := c.loadSignins(path, sourceInteractiveSignins)
	if err != nil {
		return nil, err
	}
	c.interactive = records
	return records, nil
}

// LoadNonInteractiveSignins ingests a non-interactive sign-in export. This
// is the table session mapping is built from.
func (c *AzureCorrelator) LoadNonInteractiveSignins(path string) ([]*models.Record, error) {
	records, err := c.loadSignins(path, sourceNonInteractiveSignins)
	if err != nil {
		return nil, err
	}
	c.noninteractive = records
	return records, nil
}

// loadSignins reads one sign-in export (CSV by default, JSON by extension),
// resolves the divergent timestamp and user column names to the canonical
// ones, drops request-level duplicates and sorts by time.
func (c *AzureCorrelator) loadSignins(path, source string) ([]*models.Record, error) {
	var records []*models.Record
	var err error
	if isJSONFile(path) {
		records, err = ingest.ReadJSON(path)
	} else {
		records, err = ingest.ReadCSV(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	if len(records) == 0 {
		return nil, &DataError{Source: source, Msg: fmt.Sprintf("no sign-in data found in %s", path)}
	}

	tsCol, ok := resolveColumn(records, signinTimestampAliases)
	if !ok {
		return nil, &SchemaError{Source: source, Canonical: colDate, Aliases: signinTimestampAliases}
	}
	if err := timestamp.Normalize(records, tsCol, ""); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	renameColumn(records, tsCol, colDate)

	if userCol, ok := resolveColumn(records, signinUserAliases); ok {
		records = dedup.NormalizeIdentity(records, userCol)
		renameColumn(records, userCol, colUser)
	} else {
		logger.Warnf("No user column found in %s (%s); sessions cannot be attributed", source, path)
	}

	removed := 0
	if _, ok := resolveColumn(records, []string{requestIDColumn}); ok {
		records, removed = dedup.Dedupe(records, []string{requestIDColumn}, dedup.KeepFirst)
		if removed > 0 {
			logger.Infof("Removed %d duplicate %s by request id", removed, source)
		}
	}
	sortByTimeField(records, colDate)

	c.metrics.Loaded(source, len(records))
	c.metrics.Deduped(removed)
	return records, nil
}

// VMName derives a short stable display name from a device identifier and
// caches it for the run. The name is a display convenience only, never a
// join key.
func (c *AzureCorrelator) VMName(deviceID string) string {
	if deviceID == "" || deviceID == "Unknown" {
		return "Unknown"
	}
	if name, ok := c.vmNames[deviceID]; ok {
		return name
	}

	var short string
	if idx := strings.LastIndex(deviceID, "-"); idx >= 0 {
		short = deviceID[idx+1:]
	} else if len(deviceID) > 12 {
		short = deviceID[:12]
	} else {
		short = deviceID
	}
	name := "VM-" + short
	c.vmNames[deviceID] = name
	return name
}

// BuildSessionMapping groups non-interactive sign-ins per (user, device)
// and spans each group from its first event to its last plus a fixed tail,
// the estimate for the missing session-end signal. Without a device or IP
// column every event becomes its own fixed-width session.
func (c *AzureCorrelator) BuildSessionMapping() ([]models.Session, error) {
	if c.noninteractive == nil {
		return nil, &StateError{Stage: "BuildSessionMapping", Requires: "loaded non-interactive sign-ins"}
	}
	if _, ok := resolveColumn(c.noninteractive, []string{colUser}); !ok {
		return nil, &SchemaError{Source: sourceNonInteractiveSignins, Canonical: colUser, Aliases: signinUserAliases}
	}

	users := make([]string, 0, 8)
	seenUsers := make(map[string]struct{})
	for _, rec := range c.noninteractive {
		u := rec.Field(colUser)
		if u == "" {
			continue
		}
		if _, ok := seenUsers[u]; !ok {
			seenUsers[u] = struct{}{}
			users = append(users, u)
		}
	}

	deviceCol, hasDevice := resolveColumn(c.noninteractive, signinDeviceAliases)

	sessions := make([]models.Session, 0, len(users))
	for _, user := range users {
		events := make([]*models.Record, 0, 16)
		for _, rec := range c.noninteractive {
			if rec.Field(colUser) == user {
				events = append(events, rec)
			}
		}

		if !hasDevice {
			for _, event := range events {
				start := timeOrZero(event, colDate)
				sessions = append(sessions, models.Session{
					User:        user,
					VMID:        "Unknown",
					VMName:      "Unknown",
					Start:       start,
					End:         start.Add(c.cfg.SigninSessionTail),
					IPAddress:   firstField(event, signinIPAliases...),
					Application: fieldOr(event, "Application", "N/A"),
					EventCount:  1,
				})
			}
			continue
		}

		groups := make(map[string][]*models.Record)
		for _, event := range events {
			groups[event.Field(deviceCol)] = append(groups[event.Field(deviceCol)], event)
		}
		devices := make([]string, 0, len(groups))
		for dev := range groups {
			devices = append(devices, dev)
		}
		sort.Strings(devices)

		for _, dev := range devices {
			group := groups[dev]
			sortByTimeField(group, colDate)

			first := group[0]
			start := timeOrZero(first, colDate)
			end := timeOrZero(group[len(group)-1], colDate).Add(c.cfg.SigninSessionTail)

			requestIDs := make([]string, 0, 3)
			for _, event := range group {
				if len(requestIDs) == 3 {
					break
				}
				if id := event.Field(requestIDColumn); id != "" {
					requestIDs = append(requestIDs, id)
				}
			}

			sessions = append(sessions, models.Session{
				User:        user,
				VMID:        fieldOrLiteral(dev, "Unknown"),
				VMName:      c.VMName(dev),
				Start:       start,
				End:         end,
				IPAddress:   firstField(first, signinIPAliases...),
				Application: fieldOr(first, "Application", "N/A"),
				EventCount:  len(group),
				RequestIDs:  strings.Join(requestIDs, ", "),
			})
		}
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Start.Before(sessions[j].Start)
	})

	c.metrics.Sessions(len(sessions))
	c.sessions = sessions
	return sessions, nil
}

// AnalyzeAllocationPattern computes per-user and per-VM session spread,
// classifies the allocation strategy and lists every concurrent cross-user
// occupancy of one VM. Each qualifying pair appears exactly once.
func (c *AzureCorrelator) AnalyzeAllocationPattern() (*models.AllocationReport, error) {
	if c.sessions == nil {
		return nil, &StateError{Stage: "AnalyzeAllocationPattern", Requires: "BuildSessionMapping"}
	}

	userVMs := make(map[string]map[string]struct{})
	vmUsers := make(map[string]map[string]struct{})
	for _, s := range c.sessions {
		if userVMs[s.User] == nil {
			userVMs[s.User] = make(map[string]struct{})
		}
		userVMs[s.User][s.VMID] = struct{}{}
		if vmUsers[s.VMID] == nil {
			vmUsers[s.VMID] = make(map[string]struct{})
		}
		vmUsers[s.VMID][s.User] = struct{}{}
	}

	report := &models.AllocationReport{
		VMsPerUser:      make(map[string]int, len(userVMs)),
		UsersPerVM:      make(map[string]int, len(vmUsers)),
		ConcurrentPairs: make([]models.ConcurrentPair, 0),
	}
	total := 0
	for user, vms := range userVMs {
		report.VMsPerUser[user] = len(vms)
		total += len(vms)
	}
	for vm, us := range vmUsers {
		report.UsersPerVM[vm] = len(us)
	}

	report.Strategy = "concentrated"
	if len(userVMs) > 0 && float64(total)/float64(len(userVMs)) > c.cfg.SpreadThreshold {
		report.Strategy = "spread"
	}

	byVM := make(map[string][]models.Session)
	for _, s := range c.sessions {
		byVM[s.VMID] = append(byVM[s.VMID], s)
	}
	vmIDs := make([]string, 0, len(byVM))
	for vm := range byVM {
		vmIDs = append(vmIDs, vm)
	}
	sort.Strings(vmIDs)

	for _, vm := range vmIDs {
		group := byVM[vm]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.User == b.User || !a.Overlaps(b) {
					continue
				}
				start := a.Start
				if b.Start.After(start) {
					start = b.Start
				}
				end := a.End
				if b.End.Before(end) {
					end = b.End
				}
				report.ConcurrentPairs = append(report.ConcurrentPairs, models.ConcurrentPair{
					VMID:         vm,
					User1:        a.User,
					User2:        b.User,
					OverlapStart: start,
					OverlapEnd:   end,
				})
			}
		}
	}
	return report, nil
}

// DetectEvidenceFragmentation reports, per user, how sessions scatter over
// VMs and time. Descriptive output, not a detector.
func (c *AzureCorrelator) DetectEvidenceFragmentation() ([]models.FragmentationReport, error) {
	if c.sessions == nil {
		return nil, &StateError{Stage: "DetectEvidenceFragmentation", Requires: "BuildSessionMapping"}
	}

	byUser := make(map[string][]models.Session)
	for _, s := range c.sessions {
		byUser[s.User] = append(byUser[s.User], s)
	}
	users := make([]string, 0, len(byUser))
	for user := range byUser {
		users = append(users, user)
	}
	sort.Strings(users)

	reports := make([]models.FragmentationReport, 0, len(users))
	for _, user := range users {
		group := byUser[user]

		vms := make([]string, 0, 4)
		seen := make(map[string]struct{})
		for _, s := range group {
			if _, ok := seen[s.VMID]; !ok {
				seen[s.VMID] = struct{}{}
				vms = append(vms, s.VMID)
			}
		}

		first, last := group[0].Start, group[0].End
		for _, s := range group[1:] {
			if s.Start.Before(first) {
				first = s.Start
			}
			if s.End.After(last) {
				last = s.End
			}
		}

		reports = append(reports, models.FragmentationReport{
			User:          user,
			TotalSessions: len(group),
			UniqueVMs:     len(vms),
			VMList:        vms,
			FirstSession:  first,
			LastSession:   last,
			TotalDuration: last.Sub(first),
		})
	}
	return reports, nil
}

// BuildTimeline emits the non-interactive sign-in stream in ascending time
// order. Detected activities stay in their own table; the sign-in timeline
// carries sign-in events only.
func (c *AzureCorrelator) BuildTimeline() ([]models.TimelineEntry, error) {
	if c.noninteractive == nil {
		return nil, &StateError{Stage: "BuildTimeline", Requires: "loaded non-interactive sign-ins"}
	}
	if !c.detected {
		return nil, &StateError{Stage: "BuildTimeline", Requires: "DetectAll"}
	}

	entries := make([]models.TimelineEntry, 0, len(c.noninteractive))
	for _, event := range c.noninteractive {
		device := firstField(event, signinDeviceAliases...)
		entries = append(entries, models.TimelineEntry{
			Timestamp: timeOrZero(event, colDate),
			User:      fieldOr(event, colUser, "Unknown"),
			EventType: "Sign-in",
			EventName: "Non-Interactive Sign-in",
			Details:   fmt.Sprintf("Application: %s, Device: %s, IP: %s", fieldOr(event, "Application", "N/A"), fieldOrLiteral(device, "N/A"), fieldOrLiteral(firstField(event, signinIPAliases...), "N/A")),
			Source:    "Azure Sign-in Logs",
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Summary counts the loaded tables and derived rows. A counter appears only
// when its source table was loaded.
func (c *AzureCorrelator) Summary() models.Summary {
	stats := make(models.Summary)

	if c.interactive != nil {
		stats["total_interactive_signins"] = len(c.interactive)
	}
	if c.noninteractive != nil {
		stats["total_noninteractive_signins"] = len(c.noninteractive)
		stats["unique_users"] = len(sortedDistinctField(c.noninteractive, colUser))
	}
	if c.sessions != nil {
		stats["total_sessions"] = len(c.sessions)
		vms := make(map[string]struct{})
		for _, s := range c.sessions {
			vms[s.VMID] = struct{}{}
		}
		stats["unique_vms"] = len(vms)
	}

	stats["activities_detected"] = len(c.activities)
	stats["activity_types"] = distinctKinds(c.activities)
	return stats
}

func isJSONFile(path string) bool {
	lower := strings.TrimSuffix(strings.ToLower(path), ".gz")
	return strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".jsonl")
}

func fieldOrLiteral(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
