package correlate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"
)

// DetectFailedLogins flags users with at least one interactive sign-in
// whose status carries a failure token.
func (c *AzureCorrelator) DetectFailedLogins() []models.Activity {
	if c.interactive == nil {
		return nil
	}
	if _, ok := resolveColumn(c.interactive, []string{"Status"}); !ok {
		return nil
	}

	failures := make([]*models.Record, 0)
	for _, rec := range c.interactive {
		status := strings.ToLower(rec.Field("Status"))
		if strings.Contains(status, "fail") {
			failures = append(failures, rec)
		}
	}

	activities := make([]models.Activity, 0)
	for _, user := range sortedDistinctField(failures, colUser) {
		attempts := 0
		var start, end time.Time
		ips := make([]string, 0, c.cfg.MaxListed)
		seenIPs := make(map[string]struct{})

		for _, rec := range failures {
			if rec.Field(colUser) != user {
				continue
			}
			attempts++
			if ts, ok := rec.Time(colDate); ok {
				if start.IsZero() || ts.Before(start) {
					start = ts
				}
				if end.IsZero() || ts.After(end) {
					end = ts
				}
			}
			ip := firstField(rec, signinIPAliases...)
			if _, ok := seenIPs[ip]; !ok && ip != "" {
				seenIPs[ip] = struct{}{}
				if len(ips) < c.cfg.MaxListed {
					ips = append(ips, ip)
				}
			}
		}

		activities = append(activities, models.Activity{
			Kind:      models.KindFailedLogin,
			User:      user,
			Attempts:  attempts,
			Start:     start,
			End:       end,
			SourceIPs: ips,
			Details:   fmt.Sprintf("%d failed sign-in attempts", attempts),
		})
	}
	return activities
}

// DetectRapidVMSwitching flags users whose adjacent sessions on different
// VMs follow each other inside the switch window.
func (c *AzureCorrelator) DetectRapidVMSwitching() ([]models.Activity, error) {
	if c.sessions == nil {
		return nil, &StateError{Stage: "DetectRapidVMSwitching", Requires: "BuildSessionMapping"}
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

	activities := make([]models.Activity, 0)
	for _, user := range users {
		group := byUser[user]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Start.Before(group[j].Start)
		})

		switches := 0
		var minGap time.Duration
		vms := make([]string, 0, c.cfg.MaxListed)
		seenVMs := make(map[string]struct{})
		allVMs := make(map[string]struct{})

		for _, s := range group {
			allVMs[s.VMID] = struct{}{}
			if _, ok := seenVMs[s.VMID]; !ok {
				seenVMs[s.VMID] = struct{}{}
				if len(vms) < c.cfg.MaxListed {
					vms = append(vms, s.VMID)
				}
			}
		}

		for i := 1; i < len(group); i++ {
			prev, next := group[i-1], group[i]
			if prev.VMID == next.VMID {
				continue
			}
			gap := next.Start.Sub(prev.End)
			if switches == 0 || gap < minGap {
				minGap = gap
			}
			switches++
		}

		if switches > 0 && minGap < c.cfg.SwitchWindow {
			activities = append(activities, models.Activity{
				Kind:        models.KindRapidSwitch,
				User:        user,
				VMCount:     len(allVMs),
				SwitchCount: switches,
				VMList:      vms,
				Start:       group[0].Start,
				End:         group[len(group)-1].End,
				Details:     fmt.Sprintf("Switched VMs %d times, minimum gap %.0fs", switches, minGap.Seconds()),
			})
		}
	}
	return activities, nil
}

// DetectMultipleIPAccess flags users whose sessions originate from more
// than one distinct IP address.
func (c *AzureCorrelator) DetectMultipleIPAccess() ([]models.Activity, error) {
	if c.sessions == nil {
		return nil, &StateError{Stage: "DetectMultipleIPAccess", Requires: "BuildSessionMapping"}
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

	activities := make([]models.Activity, 0)
	for _, user := range users {
		group := byUser[user]

		ips := make([]string, 0, c.cfg.MaxListed)
		seen := make(map[string]struct{})
		count := 0
		var start, end time.Time
		for _, s := range group {
			if start.IsZero() || s.Start.Before(start) {
				start = s.Start
			}
			if end.IsZero() || s.End.After(end) {
				end = s.End
			}
			// A session without a recorded IP still counts as one distinct
			// origin under the placeholder.
			ip := fieldOrLiteral(s.IPAddress, "N/A")
			if _, ok := seen[ip]; ok {
				continue
			}
			seen[ip] = struct{}{}
			count++
			if len(ips) < c.cfg.MaxListed {
				ips = append(ips, ip)
			}
		}

		if count > 1 {
			activities = append(activities, models.Activity{
				Kind:      models.KindMultipleIP,
				User:      user,
				IPCount:   count,
				SourceIPs: ips,
				Start:     start,
				End:       end,
				Details:   fmt.Sprintf("Signed in from %d distinct IP addresses", count),
			})
		}
	}
	return activities, nil
}

// DetectRuleMatches evaluates the attached Sigma engine over both sign-in
// tables.
func (c *AzureCorrelator) DetectRuleMatches() []models.Activity {
	if c.ruleEngine == nil {
		return nil
	}

	activities := make([]models.Activity, 0)
	emit := func(rec *models.Record) {
		ts := timeOrZero(rec, colDate)
		user := fieldOr(rec, colUser, "Unknown")
		for _, tag := range c.ruleEngine.Apply(rec) {
			activities = append(activities, models.Activity{
				Kind:     models.KindRuleMatch,
				User:     user,
				Start:    ts,
				End:      ts,
				RuleID:   tag.ID,
				Severity: tag.Severity,
				Details:  tag.Name,
			})
		}
	}

	for _, rec := range c.interactive {
		emit(rec)
	}
	for _, rec := range c.noninteractive {
		emit(rec)
	}
	return activities
}

// DetectAll runs every detector and concatenates the results. The
// session-dependent detectors require the mapping to be built first.
func (c *AzureCorrelator) DetectAll() ([]models.Activity, error) {
	all := make([]models.Activity, 0)
	all = append(all, c.DetectFailedLogins()...)

	switching, err := c.DetectRapidVMSwitching()
	if err != nil {
		return nil, err
	}
	all = append(all, switching...)

	multiIP, err := c.DetectMultipleIPAccess()
	if err != nil {
		return nil, err
	}
	all = append(all, multiIP...)

	all = append(all, c.DetectRuleMatches()...)

	for _, act := range all {
		c.metrics.Detected(string(act.Kind), 1)
	}
	c.activities = all
	c.detected = true
	return all, nil
}
