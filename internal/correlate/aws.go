// Package correlate builds the cross-layer view of which user used which
// virtual desktop, when, and from where, out of closed batches of exported
// identity, DNS, flow and sign-in logs.
package correlate

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/dedup"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/ingest"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/logger"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/metrics"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/rules"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/timestamp"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"
)

// Source table names used in errors and metrics.
const (
	sourceLoginEvents  = "login events"
	sourceQueryLogs    = "query logs"
	sourceNetworkFlows = "network flows"
)

// Canonical flow-log schema; export column names on the left.
var flowColumnRenames = map[string]string{
	"Source IP":        "srcaddr",
	"Destination IP":   "dstaddr",
	"Source Port":      "srcport",
	"Destination Port": "dstport",
	"Protocol":         "protocol",
	"Bytes":            "bytes",
	"Action":           "action",
}

// AWSCorrelator correlates WorkSpaces session-broker events with DNS query
// logs and network-flow logs for a small set of labeled users. One instance
// owns its tables for the duration of one analysis run and is not safe for
// concurrent use.
type AWSCorrelator struct {
	cfg        DetectionConfig
	metrics    *metrics.Metrics
	ruleEngine rules.Engine

	loginEvents         []*models.Record
	queryLogs           []*models.Record
	netFlows            []*models.Record
	workspaceIdentities map[string]models.WorkspaceIdentity

	sessions   []models.Session
	activities []models.Activity
	detected   bool
}

// NewAWSCorrelator creates a correlator with the given detection settings.
func NewAWSCorrelator(cfg DetectionConfig) *AWSCorrelator {
	return &AWSCorrelator{
		cfg:                 cfg,
		workspaceIdentities: make(map[string]models.WorkspaceIdentity),
	}
}

// SetMetrics attaches a per-run counter set.
func (c *AWSCorrelator) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// SetRuleEngine attaches an optional Sigma rule engine; matches surface as
// "Rule Match" activities from DetectAll.
func (c *AWSCorrelator) SetRuleEngine(e rules.Engine) { c.ruleEngine = e }

// LoadWorkspaceUserMapping reads the optional static workspace-to-user JSON
// file. Any read or parse failure degrades to an empty mapping with a
// warning; this is the only load that never aborts.
func (c *AWSCorrelator) LoadWorkspaceUserMapping(path string) map[string]models.WorkspaceIdentity {
	mapping := make(map[string]models.WorkspaceIdentity)
	if path == "" {
		c.workspaceIdentities = mapping
		return mapping
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warnf("Could not load workspace mapping file %s: %v", path, err)
		c.workspaceIdentities = mapping
		return mapping
	}

	var doc struct {
		WorkspaceMappings []models.WorkspaceIdentity `json:"workspace_mappings"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warnf("Could not parse workspace mapping file %s: %v", path, err)
		c.workspaceIdentities = mapping
		return mapping
	}

	for _, entry := range doc.WorkspaceMappings {
		if entry.WorkspaceID != "" {
			mapping[entry.WorkspaceID] = entry
		}
	}
	c.workspaceIdentities = mapping
	return mapping
}

// LoadLoginEvents ingests session-broker exports: CSV rows carrying a
// JSON-encoded event payload in `message` plus an epoch-millisecond
// `timestamp`. Payloads that fail to parse are dropped row by row; the call
// fails only when no usable row remains across all inputs.
func (c *AWSCorrelator) LoadLoginEvents(paths []string) ([]*models.Record, error) {
	combined := make([]*models.Record, 0, 1024)
	dropped := 0

	for _, path := range paths {
		rows, err := ingest.ReadCSV(path)
		if err != nil {
			logger.Warnf("Skipping unreadable login event file %s: %v", path, err)
			continue
		}
		for _, row := range rows {
			payload, err := ingest.ParsePayload(row.Field("message"))
			if err != nil {
				dropped++
				continue
			}
			rec := &models.Record{Fields: payload}
			if ts, ok := row.Fields["timestamp"]; ok {
				rec.Set("timestamp_ms", ts)
			}
			flattenDetail(rec)
			combined = append(combined, rec)
		}
	}

	if len(combined) == 0 {
		return nil, &DataError{Source: sourceLoginEvents, Msg: fmt.Sprintf("no valid login event data found in %d file(s)", len(paths))}
	}

	if err := timestamp.Normalize(combined, "time", ""); err != nil {
		return nil, fmt.Errorf("%s: %w", sourceLoginEvents, err)
	}

	deduped, removed := dedup.Dedupe(combined, []string{"time", "workspaceId"}, dedup.KeepFirst)
	if removed > 0 {
		logger.Infof("Removed %d duplicate login events", removed)
	}
	sortByTimeField(deduped, "time")

	c.metrics.Loaded(sourceLoginEvents, len(deduped))
	c.metrics.Dropped(sourceLoginEvents, dropped)
	c.metrics.Deduped(removed)

	c.loginEvents = deduped
	return deduped, nil
}

// flattenDetail promotes the nested "detail" payload object to top-level
// fields. Existing top-level fields win on collision.
func flattenDetail(rec *models.Record) {
	detail, ok := rec.Fields["detail"].(map[string]interface{})
	if !ok {
		return
	}
	for k, v := range detail {
		if !rec.Has(k) {
			rec.Set(k, v)
		}
	}
}

// LoadQueryLogs ingests DNS query-log exports, one file per user. Each
// row's embedded payload is tagged with the matching user label, or a
// synthetic USER_{i+1} when no label is supplied.
func (c *AWSCorrelator) LoadQueryLogs(paths []string, userLabels []string) ([]*models.Record, error) {
	combined := make([]*models.Record, 0, 1024)
	dropped := 0

	for i, path := range paths {
		label := fmt.Sprintf("USER_%d", i+1)
		if i < len(userLabels) && userLabels[i] != "" {
			label = userLabels[i]
		}

		rows, err := ingest.ReadCSV(path)
		if err != nil {
			logger.Warnf("Skipping unreadable query log file %s: %v", path, err)
			continue
		}
		for _, row := range rows {
			payload, err := ingest.ParsePayload(row.Field("message"))
			if err != nil {
				dropped++
				continue
			}
			rec := &models.Record{Fields: payload}
			if ts, ok := row.Fields["timestamp"]; ok {
				rec.Set("timestamp_ms", ts)
			}
			rec.Set(models.FieldUserLabel, label)
			if srcids, ok := payload["srcids"].(map[string]interface{}); ok {
				if inst, ok := srcids["instance"].(string); ok && inst != "" {
					rec.Set("instance_id", inst)
				}
			}
			combined = append(combined, rec)
		}
	}

	if len(combined) == 0 {
		return nil, &DataError{Source: sourceQueryLogs, Msg: fmt.Sprintf("no valid query log data found in %d file(s)", len(paths))}
	}

	if err := timestamp.Normalize(combined, "query_timestamp", ""); err != nil {
		return nil, fmt.Errorf("%s: %w", sourceQueryLogs, err)
	}
	for _, rec := range combined {
		if raw, ok := rec.Fields["timestamp_ms"]; ok {
			if t, err := timestamp.Parse(raw, timestamp.HintUnixMilli); err == nil {
				rec.Set("timestamp", t)
			}
		}
	}
	sortByTimeField(combined, "query_timestamp")

	c.metrics.Loaded(sourceQueryLogs, len(combined))
	c.metrics.Dropped(sourceQueryLogs, dropped)

	c.queryLogs = combined
	return combined, nil
}

// LoadNetworkFlows ingests flow-log exports, renaming columns to the
// canonical flow schema. The timestamp column may carry epoch seconds or
// milliseconds; magnitude decides.
func (c *AWSCorrelator) LoadNetworkFlows(paths []string, userLabels []string) ([]*models.Record, error) {
	combined := make([]*models.Record, 0, 1024)

	for i, path := range paths {
		label := fmt.Sprintf("USER_%d", i+1)
		if i < len(userLabels) && userLabels[i] != "" {
			label = userLabels[i]
		}

		rows, err := ingest.ReadCSV(path)
		if err != nil {
			logger.Warnf("Skipping unreadable flow log file %s: %v", path, err)
			continue
		}
		for _, row := range rows {
			for from, to := range flowColumnRenames {
				if v, ok := row.Fields[from]; ok {
					row.Set(to, v)
					delete(row.Fields, from)
				}
			}
			row.Set(models.FieldUserLabel, label)

			raw, ok := row.Fields["timestamp"]
			if !ok {
				raw, ok = row.Fields["Start Time"]
			}
			if ok {
				t, err := timestamp.Parse(raw, "")
				if err != nil {
					return nil, fmt.Errorf("%s: file %s: %w", sourceNetworkFlows, path, err)
				}
				row.Set("timestamp", t)
			}
			combined = append(combined, row)
		}
	}

	if len(combined) == 0 {
		return nil, &DataError{Source: sourceNetworkFlows, Msg: fmt.Sprintf("no valid network flow data found in %d file(s)", len(paths))}
	}
	sortByTimeField(combined, "timestamp")

	c.metrics.Loaded(sourceNetworkFlows, len(combined))

	c.netFlows = combined
	return combined, nil
}

// linkWorkspaces resolves each workspace identifier to a user label.
// Identifier linkage first: a query-log instance id that contains, or is
// contained in, the workspace id links the two (substring containment in
// both directions is unverified source behavior, kept as observed). When no
// linkage at all is found, the i-th sorted label pairs with the i-th sorted
// workspace id.
func (c *AWSCorrelator) linkWorkspaces() map[string]string {
	linkage := make(map[string]string)
	if c.queryLogs == nil || c.loginEvents == nil {
		return linkage
	}

	userLabels := sortedDistinctField(c.queryLogs, models.FieldUserLabel)
	workspaceIDs := sortedDistinctField(c.loginEvents, "workspaceId")

	for _, label := range userLabels {
		instanceIDs := make([]string, 0, 4)
		seen := make(map[string]struct{})
		for _, rec := range c.queryLogs {
			if rec.Field(models.FieldUserLabel) != label {
				continue
			}
			inst := rec.Field("instance_id")
			if inst == "" {
				continue
			}
			if _, ok := seen[inst]; ok {
				continue
			}
			seen[inst] = struct{}{}
			instanceIDs = append(instanceIDs, inst)
		}
		for _, inst := range instanceIDs {
			for _, wsID := range workspaceIDs {
				if containsEither(inst, wsID) {
					linkage[wsID] = label
					break
				}
			}
		}
	}

	if len(linkage) == 0 {
		for i, wsID := range workspaceIDs {
			if i < len(userLabels) {
				linkage[wsID] = userLabels[i]
			}
		}
	}
	return linkage
}

// BuildSessionMapping turns every login event into one session. The broker
// emits no logout signal, so the end instant is a fixed estimate past the
// start.
func (c *AWSCorrelator) BuildSessionMapping() ([]models.Session, error) {
	if c.loginEvents == nil {
		return nil, &StateError{Stage: "BuildSessionMapping", Requires: "loaded login events"}
	}

	linkage := c.linkWorkspaces()

	groups := make(map[string][]*models.Record)
	for _, rec := range c.loginEvents {
		wsID := rec.Field("workspaceId")
		groups[wsID] = append(groups[wsID], rec)
	}
	wsIDs := make([]string, 0, len(groups))
	for wsID := range groups {
		wsIDs = append(wsIDs, wsID)
	}
	sort.Strings(wsIDs)

	sessions := make([]models.Session, 0, len(c.loginEvents))
	for _, wsID := range wsIDs {
		group := groups[wsID]
		sortByTimeField(group, "time")

		user := linkage[wsID]
		if user == "" {
			user = "Unknown"
		}
		username, displayName := user, user
		if info, ok := c.workspaceIdentities[wsID]; ok {
			if info.Username != "" {
				username = info.Username
			}
			if info.DisplayName != "" {
				displayName = info.DisplayName
			}
		}

		for _, event := range group {
			start, _ := event.Time("time")
			loginTime := event.Field("loginTime")
			if loginTime == "" {
				loginTime = event.Field("time")
			}
			sessions = append(sessions, models.Session{
				User:        user,
				Username:    username,
				DisplayName: displayName,
				VMID:        wsID,
				IPAddress:   fieldOr(event, "clientIpAddress", "N/A"),
				Action:      fieldOr(event, "actionType", "N/A"),
				LoginTime:   loginTime,
				Platform:    fieldOr(event, "clientPlatform", "N/A"),
				Product:     fieldOr(event, "workspacesClientProductName", "N/A"),
				Start:       start,
				End:         start.Add(c.cfg.WorkspaceSessionLength),
			})
		}
	}

	c.metrics.Sessions(len(sessions))
	c.sessions = sessions
	return sessions, nil
}

// BuildTimeline merges login events and detected activities into one
// ascending stream. Repeated runs over identical inputs produce identical
// ordering; ties keep input order.
func (c *AWSCorrelator) BuildTimeline() ([]models.TimelineEntry, error) {
	if c.loginEvents == nil {
		return nil, &StateError{Stage: "BuildTimeline", Requires: "loaded login events"}
	}
	if !c.detected {
		return nil, &StateError{Stage: "BuildTimeline", Requires: "DetectAll"}
	}

	linkage := c.linkWorkspaces()
	entries := make([]models.TimelineEntry, 0, len(c.loginEvents)+len(c.activities))

	for _, event := range c.loginEvents {
		ts, _ := event.Time("time")
		wsID := fieldOr(event, "workspaceId", "N/A")
		user := linkage[wsID]
		if user == "" {
			user = "Unknown"
		}
		entries = append(entries, models.TimelineEntry{
			Timestamp: ts,
			User:      user,
			EventType: "Login",
			EventName: fieldOr(event, "actionType", "N/A"),
			Details:   fmt.Sprintf("Workspace: %s, IP: %s", wsID, fieldOr(event, "clientIpAddress", "N/A")),
			Source:    "Session Broker",
		})
	}

	for _, act := range c.activities {
		entries = append(entries, models.TimelineEntry{
			Timestamp: act.Start,
			User:      act.User,
			EventType: "Threat Detected",
			EventName: string(act.Kind),
			Details:   act.Details,
			Source:    "Threat Detection",
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Summary counts the loaded tables and derived rows. A counter appears only
// when its source table was loaded.
func (c *AWSCorrelator) Summary() models.Summary {
	stats := make(models.Summary)

	if c.loginEvents != nil {
		stats["total_login_events"] = len(c.loginEvents)
		stats["unique_workspaces"] = len(sortedDistinctField(c.loginEvents, "workspaceId"))
	}
	if c.queryLogs != nil {
		stats["total_dns_queries"] = len(c.queryLogs)
		stats["unique_domains"] = len(sortedDistinctField(c.queryLogs, "query_name"))
		stats["unique_users"] = len(sortedDistinctField(c.queryLogs, models.FieldUserLabel))
	}
	if c.netFlows != nil {
		stats["total_network_flows"] = len(c.netFlows)
	}

	stats["activities_detected"] = len(c.activities)
	stats["activity_types"] = distinctKinds(c.activities)

	if c.sessions != nil {
		stats["total_sessions"] = len(c.sessions)
	}
	return stats
}

func fieldOr(rec *models.Record, name, fallback string) string {
	if v := rec.Field(name); v != "" {
		return v
	}
	return fallback
}

func containsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// sortByTimeField sorts records ascending by a normalized time field,
// keeping input order for ties and records without the field.
func sortByTimeField(records []*models.Record, field string) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, iok := records[i].Time(field)
		tj, jok := records[j].Time(field)
		if !iok || !jok {
			return false
		}
		return ti.Before(tj)
	})
}

// sortedDistinctField returns the sorted set of non-empty values of a field.
func sortedDistinctField(records []*models.Record, field string) []string {
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0, 16)
	for _, rec := range records {
		v := rec.Field(field)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// distinctKinds returns activity kinds in first-occurrence order.
func distinctKinds(activities []models.Activity) []string {
	seen := make(map[models.ActivityKind]struct{}, 8)
	out := make([]string, 0, 8)
	for _, act := range activities {
		if _, ok := seen[act.Kind]; ok {
			continue
		}
		seen[act.Kind] = struct{}{}
		out = append(out, string(act.Kind))
	}
	return out
}

// timeOrZero is a convenience for records whose field may be missing.
func timeOrZero(rec *models.Record, field string) time.Time {
	t, _ := rec.Time(field)
	return t
}
