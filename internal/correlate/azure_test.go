package correlate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"
)

func signinRec(user, device, ip string, ts time.Time) *models.Record {
	return &models.Record{Fields: map[string]interface{}{
		colDate:      ts,
		colUser:      user,
		"Device ID":  device,
		"IP address": ip,
	}}
}

func TestAzureSessionMapping(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.noninteractive = []*models.Record{
		signinRec("alice", "dev-1", "1.2.3.4", base),
		signinRec("alice", "dev-1", "1.2.3.4", base.Add(10*time.Minute)),
		signinRec("alice", "dev-1", "1.2.3.4", base.Add(20*time.Minute)),
	}

	sessions, err := c.BuildSessionMapping()
	if err != nil {
		t.Fatalf("build session mapping: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if s.User != "alice" || s.EventCount != 3 {
		t.Fatalf("wrong session: %+v", s)
	}
	if !s.Start.Equal(base) || !s.End.Equal(base.Add(50*time.Minute)) {
		t.Fatalf("wrong window: [%v, %v]", s.Start, s.End)
	}
	if s.IPAddress != "1.2.3.4" {
		t.Fatalf("wrong ip: %q", s.IPAddress)
	}
}

func TestAzureSessionMappingNoDeviceColumn(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.noninteractive = []*models.Record{
		{Fields: map[string]interface{}{colDate: base, colUser: "alice"}},
		{Fields: map[string]interface{}{colDate: base.Add(time.Hour), colUser: "alice"}},
	}

	sessions, err := c.BuildSessionMapping()
	if err != nil {
		t.Fatalf("build session mapping: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("fallback should make one session per event, got %d", len(sessions))
	}
	for _, s := range sessions {
		if !s.End.Equal(s.Start.Add(30 * time.Minute)) {
			t.Fatalf("fallback window wrong: [%v, %v]", s.Start, s.End)
		}
	}
}

func TestAzureSessionMappingSchemaError(t *testing.T) {
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.noninteractive = []*models.Record{
		{Fields: map[string]interface{}{colDate: time.Now().UTC()}},
	}

	var serr *SchemaError
	if _, err := c.BuildSessionMapping(); !errors.As(err, &serr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestVMName(t *testing.T) {
	c := NewAzureCorrelator(DefaultDetectionConfig())

	if got := c.VMName("12345678-aaaa-bbbb-cccc-1234567890ab"); got != "VM-1234567890ab" {
		t.Fatalf("uuid name = %q", got)
	}
	if got := c.VMName("abcdefghijklmnop"); got != "VM-abcdefghijkl" {
		t.Fatalf("unstructured name = %q", got)
	}
	if got := c.VMName("short"); got != "VM-short" {
		t.Fatalf("short name = %q", got)
	}
	if got := c.VMName(""); got != "Unknown" {
		t.Fatalf("empty device = %q", got)
	}
	if got := c.VMName("Unknown"); got != "Unknown" {
		t.Fatalf("unknown device = %q", got)
	}
	// Cached value stays stable.
	if got := c.VMName("12345678-aaaa-bbbb-cccc-1234567890ab"); got != "VM-1234567890ab" {
		t.Fatalf("cache miss: %q", got)
	}
}

func TestAllocationPattern(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.sessions = []models.Session{
		{User: "alice", VMID: "vm-1", Start: base, End: base.Add(time.Hour)},
		{User: "bob", VMID: "vm-1", Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)},
		{User: "alice", VMID: "vm-2", Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)},
	}

	report, err := c.AnalyzeAllocationPattern()
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if report.VMsPerUser["alice"] != 2 || report.VMsPerUser["bob"] != 1 {
		t.Fatalf("wrong vms per user: %v", report.VMsPerUser)
	}
	if report.UsersPerVM["vm-1"] != 2 {
		t.Fatalf("wrong users per vm: %v", report.UsersPerVM)
	}
	// Mean VMs per user is 1.5, not above the threshold.
	if report.Strategy != "concentrated" {
		t.Fatalf("strategy = %q", report.Strategy)
	}
	if len(report.ConcurrentPairs) != 1 {
		t.Fatalf("got %d concurrent pairs, want exactly 1", len(report.ConcurrentPairs))
	}
	pair := report.ConcurrentPairs[0]
	if pair.VMID != "vm-1" || pair.User1 == pair.User2 {
		t.Fatalf("wrong pair: %+v", pair)
	}
	if !pair.OverlapStart.Equal(base.Add(30*time.Minute)) || !pair.OverlapEnd.Equal(base.Add(time.Hour)) {
		t.Fatalf("wrong overlap window: %+v", pair)
	}
}

func TestAllocationPatternSameUserNeverPairs(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.sessions = []models.Session{
		{User: "alice", VMID: "vm-1", Start: base, End: base.Add(time.Hour)},
		{User: "alice", VMID: "vm-1", Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)},
	}

	report, err := c.AnalyzeAllocationPattern()
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if len(report.ConcurrentPairs) != 0 {
		t.Fatalf("same-user overlap flagged: %+v", report.ConcurrentPairs)
	}
}

func TestDetectFailedLogins(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.interactive = []*models.Record{
		{Fields: map[string]interface{}{colDate: base, colUser: "alice", "Status": "Failure", "IP address": "9.9.9.9"}},
		{Fields: map[string]interface{}{colDate: base.Add(time.Minute), colUser: "alice", "Status": "Failed", "IP address": "8.8.8.8"}},
		{Fields: map[string]interface{}{colDate: base, colUser: "bob", "Status": "Success", "IP address": "7.7.7.7"}},
	}

	activities := c.DetectFailedLogins()
	if len(activities) != 1 {
		t.Fatalf("got %d activities, want 1", len(activities))
	}
	act := activities[0]
	if act.User != "alice" || act.Attempts != 2 {
		t.Fatalf("wrong activity: %+v", act)
	}
	if len(act.SourceIPs) != 2 {
		t.Fatalf("wrong ips: %v", act.SourceIPs)
	}
}

func TestDetectFailedLoginsWithoutStatusColumn(t *testing.T) {
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.interactive = []*models.Record{
		{Fields: map[string]interface{}{colDate: time.Now().UTC(), colUser: "alice"}},
	}
	if got := c.DetectFailedLogins(); got != nil {
		t.Fatalf("missing status column should yield nil, got %+v", got)
	}
}

func TestDetectRapidVMSwitching(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.sessions = []models.Session{
		{User: "alice", VMID: "vm-1", Start: base, End: base.Add(30 * time.Minute)},
		{User: "alice", VMID: "vm-2", Start: base.Add(45 * time.Minute), End: base.Add(75 * time.Minute)},
	}

	activities, err := c.DetectRapidVMSwitching()
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(activities) != 1 {
		t.Fatalf("got %d activities, want 1", len(activities))
	}
	act := activities[0]
	if act.Kind != models.KindRapidSwitch || act.VMCount != 2 || act.SwitchCount != 1 {
		t.Fatalf("wrong activity: %+v", act)
	}
}

func TestDetectRapidVMSwitchingSlowIsQuiet(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.sessions = []models.Session{
		{User: "alice", VMID: "vm-1", Start: base, End: base.Add(30 * time.Minute)},
		{User: "alice", VMID: "vm-2", Start: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour)},
	}

	activities, err := c.DetectRapidVMSwitching()
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(activities) != 0 {
		t.Fatalf("slow switch flagged: %+v", activities)
	}
}

func TestDetectMultipleIPAccess(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.sessions = []models.Session{
		{User: "alice", VMID: "vm-1", IPAddress: "1.1.1.1", Start: base, End: base.Add(time.Hour)},
		{User: "alice", VMID: "vm-2", IPAddress: "2.2.2.2", Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)},
		{User: "bob", VMID: "vm-3", IPAddress: "3.3.3.3", Start: base, End: base.Add(time.Hour)},
	}

	activities, err := c.DetectMultipleIPAccess()
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(activities) != 1 {
		t.Fatalf("got %d activities, want 1", len(activities))
	}
	if activities[0].User != "alice" || activities[0].IPCount != 2 {
		t.Fatalf("wrong activity: %+v", activities[0])
	}
}

func TestDetectMultipleIPAccessCountsMissingIP(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.sessions = []models.Session{
		{User: "alice", VMID: "vm-1", IPAddress: "1.1.1.1", Start: base, End: base.Add(time.Hour)},
		{User: "alice", VMID: "vm-2", IPAddress: "", Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)},
	}

	activities, err := c.DetectMultipleIPAccess()
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(activities) != 1 {
		t.Fatalf("ip-less session should count as a distinct origin, got %d activities", len(activities))
	}
	act := activities[0]
	if act.IPCount != 2 {
		t.Fatalf("wrong ip count: %d", act.IPCount)
	}
	found := false
	for _, ip := range act.SourceIPs {
		if ip == "N/A" {
			found = true
		}
	}
	if !found {
		t.Fatalf("placeholder missing from ip list: %v", act.SourceIPs)
	}
}

func TestAzureDetectAllRequiresMapping(t *testing.T) {
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.interactive = []*models.Record{
		{Fields: map[string]interface{}{colDate: time.Now().UTC(), colUser: "alice", "Status": "Failure"}},
	}

	var serr *StateError
	if _, err := c.DetectAll(); !errors.As(err, &serr) {
		t.Fatalf("expected StateError without session mapping, got %v", err)
	}
}

func TestEvidenceFragmentation(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.sessions = []models.Session{
		{User: "alice", VMID: "vm-1", Start: base, End: base.Add(time.Hour)},
		{User: "alice", VMID: "vm-2", Start: base.Add(4 * time.Hour), End: base.Add(5 * time.Hour)},
	}

	reports, err := c.DetectEvidenceFragmentation()
	if err != nil {
		t.Fatalf("fragmentation failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	r := reports[0]
	if r.TotalSessions != 2 || r.UniqueVMs != 2 {
		t.Fatalf("wrong report: %+v", r)
	}
	// Span runs from the earliest start to the latest end.
	if !r.FirstSession.Equal(base) || !r.LastSession.Equal(base.Add(5*time.Hour)) {
		t.Fatalf("wrong span: [%v, %v]", r.FirstSession, r.LastSession)
	}
	if r.TotalDuration != 5*time.Hour {
		t.Fatalf("wrong duration: %v", r.TotalDuration)
	}
}

func TestAzureLoadSigninsResolvesAliases(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "signins.csv", [][]string{
		{"Date (UTC)", "Username", "Request ID", "IP address"},
		{"2024-03-15 09:00:00", "Alice@Example.COM ", "r-1", "1.2.3.4"},
		{"2024-03-15 09:05:00", "alice@example.com", "r-1", "1.2.3.4"},
		{"2024-03-15 09:10:00", "alice@example.com", "r-2", "1.2.3.4"},
	})

	c := NewAzureCorrelator(DefaultDetectionConfig())
	records, err := c.LoadNonInteractiveSignins(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("request-id dedupe kept %d rows, want 2", len(records))
	}
	for _, rec := range records {
		if !rec.Has(colDate) || !rec.Has(colUser) {
			t.Fatalf("aliases not renamed: %v", rec.Fields)
		}
		if rec.Field(colUser) != "alice@example.com" {
			t.Fatalf("identity not folded: %q", rec.Field(colUser))
		}
		if _, ok := rec.Time(colDate); !ok {
			t.Fatalf("timestamp not normalized: %v", rec.Fields[colDate])
		}
	}
}

func TestAzureLoadSigninsJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signins.json")
	content := `[{"createdDateTime":"2024-03-15T09:00:00Z","userPrincipalName":"alice@example.com"}]`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c := NewAzureCorrelator(DefaultDetectionConfig())
	records, err := c.LoadInteractiveSignins(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 1 || records[0].Field(colUser) != "alice@example.com" {
		t.Fatalf("json load wrong: %v", records)
	}
}

func TestAzureLoadSigninsNoTimestampColumn(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "bad.csv", [][]string{
		{"Username"},
		{"alice"},
	})

	c := NewAzureCorrelator(DefaultDetectionConfig())
	var serr *SchemaError
	if _, err := c.LoadNonInteractiveSignins(path); !errors.As(err, &serr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestAzureTimeline(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := NewAzureCorrelator(DefaultDetectionConfig())
	c.noninteractive = []*models.Record{
		signinRec("alice", "dev-1", "1.2.3.4", base.Add(time.Minute)),
		signinRec("alice", "dev-1", "1.2.3.4", base),
	}
	c.sessions = []models.Session{}
	c.activities = []models.Activity{
		{Kind: models.KindFailedLogin, User: "alice", Start: base.Add(30 * time.Second)},
	}
	c.detected = true

	timeline, err := c.BuildTimeline()
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	// Sign-in events only; detected activities stay out of this stream.
	if len(timeline) != 2 {
		t.Fatalf("got %d entries, want 2", len(timeline))
	}
	if timeline[0].Timestamp.After(timeline[1].Timestamp) {
		t.Fatal("timeline not ascending")
	}
	for _, entry := range timeline {
		if entry.EventType != "Sign-in" {
			t.Fatalf("non-sign-in entry leaked into the timeline: %+v", entry)
		}
		if entry.EventName != "Non-Interactive Sign-in" {
			t.Fatalf("wrong event name: %q", entry.EventName)
		}
		if entry.Source != "Azure Sign-in Logs" {
			t.Fatalf("wrong source: %q", entry.Source)
		}
	}
	if !strings.Contains(timeline[0].Details, "Application:") {
		t.Fatalf("application missing from details: %q", timeline[0].Details)
	}
}
