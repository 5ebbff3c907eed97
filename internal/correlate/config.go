package correlate

import "time"

// DetectionConfig names every heuristic threshold the detectors use. The
// zero value is not usable; start from DefaultDetectionConfig and override
// per run.
type DetectionConfig struct {
	// Exfiltration: DNS queries to these domains combined with HTTPS flow
	// volume above the byte threshold flag a domain-access activity.
	CloudStorageDomains []string
	ExfilPort           int
	ExfilByteThreshold  int64

	// Port access: any flow to this destination port is flagged.
	WatchedPort int

	// Beaconing: domains on the allow list are never flagged; names
	// containing a suspicious literal are flagged immediately; others need
	// MinOccurrences queries with mean interval <= BeaconInterval and
	// sample standard deviation < BeaconStdDev.
	AllowedDomains     []string
	SuspiciousLiterals []string
	BeaconInterval     time.Duration
	BeaconStdDev       time.Duration
	MinOccurrences     int

	// Session window estimates for sources without logout signals.
	WorkspaceSessionLength time.Duration
	SigninSessionTail      time.Duration

	// Rapid VM switching: minimum gap under this flags the user.
	SwitchWindow time.Duration

	// Allocation classification: mean VMs-per-user above this is "spread".
	SpreadThreshold float64

	// Cap on IPs/VMs listed in one activity's payload.
	MaxListed int
}

// DefaultDetectionConfig returns the documented defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		CloudStorageDomains: []string{
			"drive.google.com", "dropbox.com", "onedrive.live.com",
			"box.com", "drive.com",
		},
		ExfilPort:          443,
		ExfilByteThreshold: 100000,

		WatchedPort: 3389,

		AllowedDomains:     []string{"microsoft.com", "windows.com", "amazon.com", "amazonaws.com"},
		SuspiciousLiterals: []string{"c2-server", "c2server"},
		BeaconInterval:     100 * time.Second,
		BeaconStdDev:       10 * time.Second,
		MinOccurrences:     1,

		WorkspaceSessionLength: time.Hour,
		SigninSessionTail:      30 * time.Minute,

		SwitchWindow: time.Hour,

		SpreadThreshold: 1.5,

		MaxListed: 5,
	}
}
