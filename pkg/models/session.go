package models

import "time"

// Session is one continuous inferred occupancy window of a user on a VM or
// workspace. Sessions are built once by a correlator's session mapping pass
// and never mutated afterwards.
type Session struct {
	User        string    `json:"user"`
	Username    string    `json:"username,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	VMID        string    `json:"vm_id"`
	VMName      string    `json:"vm_name,omitempty"`
	Start       time.Time `json:"session_start"`
	End         time.Time `json:"session_end"`
	IPAddress   string    `json:"ip_address,omitempty"`
	Action      string    `json:"action,omitempty"`
	LoginTime   string    `json:"login_time,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	Product     string    `json:"product,omitempty"`
	Application string    `json:"application,omitempty"`
	EventCount  int       `json:"event_count,omitempty"`
	RequestIDs  string    `json:"request_ids,omitempty"`
}

// Overlaps reports whether two session windows intersect (inclusive bounds).
func (s Session) Overlaps(other Session) bool {
	return !s.Start.After(other.End) && !s.End.Before(other.Start)
}

// WorkspaceIdentity is one entry of the optional static workspace-to-user
// mapping file.
type WorkspaceIdentity struct {
	WorkspaceID string `json:"workspace_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	UserLabel   string `json:"user_label"`
}

// ConcurrentPair records two distinct users occupying the same VM at
// overlapping times.
type ConcurrentPair struct {
	VMID         string    `json:"vm_id"`
	User1        string    `json:"user1"`
	User2        string    `json:"user2"`
	OverlapStart time.Time `json:"overlap_start"`
	OverlapEnd   time.Time `json:"overlap_end"`
}

// AllocationReport describes how sessions distribute across users and VMs,
// including any concurrent cross-user occupancy of a single VM.
type AllocationReport struct {
	VMsPerUser      map[string]int   `json:"vms_per_user"`
	UsersPerVM      map[string]int   `json:"users_per_vm"`
	Strategy        string           `json:"strategy"`
	ConcurrentPairs []ConcurrentPair `json:"concurrent_pairs"`
}

// FragmentationReport summarizes how one user's sessions scatter across VMs.
type FragmentationReport struct {
	User          string        `json:"user"`
	TotalSessions int           `json:"total_sessions"`
	UniqueVMs     int           `json:"unique_vms"`
	VMList        []string      `json:"vm_list"`
	FirstSession  time.Time     `json:"first_session"`
	LastSession   time.Time     `json:"last_session"`
	TotalDuration time.Duration `json:"total_duration"`
}
