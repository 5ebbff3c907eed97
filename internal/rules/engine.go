// Package rules evaluates optional Sigma rules against normalized log
// records, layering analyst-supplied detections on top of the built-in
// heuristics.
package rules

import "github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"

// Tag labels one rule match.
type Tag struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Severity  string `json:"severity"`
	Tactic    string `json:"tactic,omitempty"`
	Technique string `json:"technique,omitempty"`
}

// Engine applies detection rules to records.
type Engine interface {
	Apply(rec *models.Record) []Tag
}

// NoopEngine returns no tags.
type NoopEngine struct{}

// Apply returns an empty tag list.
func (n *NoopEngine) Apply(rec *models.Record) []Tag {
	return nil
}
