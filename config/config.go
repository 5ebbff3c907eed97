package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes either a duration string ("100s", "1h30m") or an
// integer nanosecond count.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		*d = Duration(time.Duration(v))
	case float64:
		*d = Duration(time.Duration(v))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration.
type Config struct {
	Correlator CorrelatorConfig `yaml:"correlator"`
}

// CorrelatorConfig is the project configuration.
type CorrelatorConfig struct {
	AWS       AWSInputConfig   `yaml:"aws"`
	Azure     AzureInputConfig `yaml:"azure"`
	Detection DetectionConfig  `yaml:"detection"`
	Rules     RulesConfig      `yaml:"rules"`
	Output    OutputConfig     `yaml:"output"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// AWSInputConfig names the WorkSpaces export files for one run.
type AWSInputConfig struct {
	LoginEventFiles  []string `yaml:"login_event_files"`
	QueryLogFiles    []string `yaml:"query_log_files"`
	FlowLogFiles     []string `yaml:"flow_log_files"`
	UserLabels       []string `yaml:"user_labels"`
	WorkspaceMapFile string   `yaml:"workspace_map_file"`
}

// AzureInputConfig names the Entra sign-in export files for one run.
type AzureInputConfig struct {
	InteractiveSigninFile    string `yaml:"interactive_signin_file"`
	NonInteractiveSigninFile string `yaml:"noninteractive_signin_file"`
}

// DetectionConfig overrides the detector thresholds. Zero values fall back
// to the built-in defaults.
type DetectionConfig struct {
	CloudStorageDomains []string `yaml:"cloud_storage_domains"`
	ExfilPort           int      `yaml:"exfil_port"`
	ExfilByteThreshold  int64    `yaml:"exfil_byte_threshold"`
	WatchedPort         int      `yaml:"watched_port"`
	AllowedDomains      []string `yaml:"allowed_domains"`
	SuspiciousLiterals  []string `yaml:"suspicious_literals"`
	BeaconInterval      Duration `yaml:"beacon_interval"`
	BeaconStdDev        Duration `yaml:"beacon_std_dev"`
	MinOccurrences      int      `yaml:"min_occurrences"`
	WorkspaceSessionLen Duration `yaml:"workspace_session_length"`
	SigninSessionTail   Duration `yaml:"signin_session_tail"`
	SwitchWindow        Duration `yaml:"switch_window"`
	SpreadThreshold     float64  `yaml:"spread_threshold"`
	MaxListed           int      `yaml:"max_listed"`
}

// RulesConfig controls the optional Sigma rule layer.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// OutputConfig controls report emission.
type OutputConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"` // csv|jsonl|both
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
