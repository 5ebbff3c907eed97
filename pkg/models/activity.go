package models

import "time"

// ActivityKind enumerates the detection rules that can flag an activity.
type ActivityKind string

const (
	KindDomainAccess  ActivityKind = "Domain Access Timeline"
	KindPortAccess    ActivityKind = "Port Access Pattern"
	KindPeriodicQuery ActivityKind = "Periodic Domain Query"
	KindFailedLogin   ActivityKind = "Failed Login Attempt"
	KindRapidSwitch   ActivityKind = "Rapid VM Switching"
	KindMultipleIP    ActivityKind = "Multiple IP Access"
	KindRuleMatch     ActivityKind = "Rule Match"
)

// Activity is one detected behavioral pattern. Only detector functions
// create activities; they are read-only afterwards.
type Activity struct {
	Kind        ActivityKind `json:"activity_type"`
	User        string       `json:"user"`
	Start       time.Time    `json:"start_time"`
	End         time.Time    `json:"end_time"`
	Domain      string       `json:"domain,omitempty"`
	QueryCount  int          `json:"query_count,omitempty"`
	TotalBytes  int64        `json:"total_bytes,omitempty"`
	Port        int          `json:"port,omitempty"`
	Attempts    int          `json:"attempts,omitempty"`
	SourceIPs   []string     `json:"source_ips,omitempty"`
	IPCount     int          `json:"ip_count,omitempty"`
	VMCount     int          `json:"vm_count,omitempty"`
	SwitchCount int          `json:"switch_count,omitempty"`
	VMList      []string     `json:"vm_list,omitempty"`
	AvgInterval float64      `json:"avg_interval_s,omitempty"`
	StdInterval float64      `json:"std_interval_s,omitempty"`
	HasInterval bool         `json:"-"`
	RuleID      string       `json:"rule_id,omitempty"`
	Severity    string       `json:"severity,omitempty"`
	Details     string       `json:"details,omitempty"`
}

// TimelineEntry is a chronological projection of login/sign-in events and
// detected activities. Entirely derived; it has no independent lifecycle.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	EventType string    `json:"event_type"`
	EventName string    `json:"event_name"`
	Details   string    `json:"details"`
	Source    string    `json:"source"`
}

// Summary holds named counters for one analysis run. A key is present only
// when its source table was loaded.
type Summary map[string]interface{}
