package correlate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"
)

// DetectDataExfiltration flags cloud-storage domain queries backed by HTTPS
// flow volume above the configured byte threshold. One activity per
// matching query row.
func (c *AWSCorrelator) DetectDataExfiltration() []models.Activity {
	if c.queryLogs == nil {
		return nil
	}

	activities := make([]models.Activity, 0)
	for _, user := range sortedDistinctField(c.queryLogs, models.FieldUserLabel) {
		for _, domain := range c.cfg.CloudStorageDomains {
			for _, query := range c.queryLogs {
				if query.Field(models.FieldUserLabel) != user {
					continue
				}
				name := query.Field("query_name")
				if !strings.Contains(strings.ToLower(name), strings.ToLower(domain)) {
					continue
				}
				if c.netFlows == nil {
					continue
				}

				var totalBytes int64
				httpsFlows := 0
				for _, flow := range c.netFlows {
					if flow.Field(models.FieldUserLabel) != user {
						continue
					}
					if port, ok := flow.Int64("dstport"); !ok || int(port) != c.cfg.ExfilPort {
						continue
					}
					httpsFlows++
					if b, ok := flow.Int64("bytes"); ok {
						totalBytes += b
					}
				}

				if httpsFlows > 0 && totalBytes > c.cfg.ExfilByteThreshold {
					ts := timeOrZero(query, "query_timestamp")
					activities = append(activities, models.Activity{
						Kind:       models.KindDomainAccess,
						User:       user,
						Domain:     name,
						QueryCount: 1,
						Start:      ts,
						End:        ts,
						TotalBytes: totalBytes,
						Port:       c.cfg.ExfilPort,
						Details:    fmt.Sprintf("%.2f MB transferred to %s", float64(totalBytes)/1024/1024, name),
					})
				}
			}
		}
	}
	return activities
}

// DetectPortAccess flags any flow to the watched destination port (RDP by
// default); a single occurrence per user is enough.
func (c *AWSCorrelator) DetectPortAccess() []models.Activity {
	if c.netFlows == nil {
		return nil
	}

	matched := make([]*models.Record, 0)
	for _, flow := range c.netFlows {
		if port, ok := flow.Int64("dstport"); ok && int(port) == c.cfg.WatchedPort {
			matched = append(matched, flow)
		}
	}

	activities := make([]models.Activity, 0)
	for _, user := range sortedDistinctField(matched, models.FieldUserLabel) {
		attempts := 0
		var start, end time.Time
		ips := make([]string, 0, c.cfg.MaxListed)
		seenIPs := make(map[string]struct{})

		for _, flow := range matched {
			if flow.Field(models.FieldUserLabel) != user {
				continue
			}
			attempts++
			if ts, ok := flow.Time("timestamp"); ok {
				if start.IsZero() || ts.Before(start) {
					start = ts
				}
				if end.IsZero() || ts.After(end) {
					end = ts
				}
			}
			src := flow.Field("srcaddr")
			if _, ok := seenIPs[src]; !ok && src != "" {
				seenIPs[src] = struct{}{}
				if len(ips) < c.cfg.MaxListed {
					ips = append(ips, src)
				}
			}
		}

		if attempts >= 1 {
			activities = append(activities, models.Activity{
				Kind:      models.KindPortAccess,
				User:      user,
				Attempts:  attempts,
				Start:     start,
				End:       end,
				Port:      c.cfg.WatchedPort,
				SourceIPs: ips,
				Details:   fmt.Sprintf("%d RDP port (%d) connection attempts", attempts, c.cfg.WatchedPort),
			})
		}
	}
	return activities
}

// DetectBeaconing flags periodic queries per (user, domain). Domains on the
// allow list are skipped; names containing a suspicious literal are flagged
// regardless of cadence; everything else needs the configured minimum
// occurrences, a mean inter-query interval at or below the threshold and a
// sample standard deviation strictly below the jitter bound.
func (c *AWSCorrelator) DetectBeaconing() []models.Activity {
	if c.queryLogs == nil {
		return nil
	}

	activities := make([]models.Activity, 0)
	for _, user := range sortedDistinctField(c.queryLogs, models.FieldUserLabel) {
		userQueries := make([]*models.Record, 0)
		for _, rec := range c.queryLogs {
			if rec.Field(models.FieldUserLabel) == user {
				userQueries = append(userQueries, rec)
			}
		}

		for _, domain := range sortedDistinctField(userQueries, "query_name") {
			if allowedDomain(domain, c.cfg.AllowedDomains) {
				continue
			}

			times := make([]time.Time, 0, 8)
			for _, rec := range userQueries {
				if rec.Field("query_name") == domain {
					if ts, ok := rec.Time("query_timestamp"); ok {
						times = append(times, ts)
					}
				}
			}
			if len(times) == 0 {
				continue
			}
			sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

			if suspiciousName(domain, c.cfg.SuspiciousLiterals) {
				activities = append(activities, models.Activity{
					Kind:       models.KindPeriodicQuery,
					User:       user,
					Domain:     domain,
					QueryCount: len(times),
					Start:      times[0],
					End:        times[len(times)-1],
					Details:    fmt.Sprintf("Suspicious domain name queried %d times", len(times)),
				})
				continue
			}

			if len(times) < c.cfg.MinOccurrences {
				continue
			}

			intervals := make([]float64, 0, len(times)-1)
			for i := 1; i < len(times); i++ {
				intervals = append(intervals, times[i].Sub(times[i-1]).Seconds())
			}
			// A sample deviation needs at least two intervals.
			if len(intervals) < 2 {
				continue
			}

			avg := mean(intervals)
			std := sampleStdDev(intervals, avg)
			if avg <= c.cfg.BeaconInterval.Seconds() && std < c.cfg.BeaconStdDev.Seconds() {
				activities = append(activities, models.Activity{
					Kind:        models.KindPeriodicQuery,
					User:        user,
					Domain:      domain,
					QueryCount:  len(times),
					Start:       times[0],
					End:         times[len(times)-1],
					AvgInterval: round2(avg),
					StdInterval: round2(std),
					HasInterval: true,
					Details:     fmt.Sprintf("Queried every %.2fs on average (std %.2fs)", avg, std),
				})
			}
		}
	}
	return activities
}

// DetectRuleMatches evaluates the attached Sigma engine over every loaded
// table and returns one activity per matched rule per record.
func (c *AWSCorrelator) DetectRuleMatches() []models.Activity {
	if c.ruleEngine == nil {
		return nil
	}

	linkage := c.linkWorkspaces()
	activities := make([]models.Activity, 0)

	emit := func(rec *models.Record, user, timeField string) {
		ts := timeOrZero(rec, timeField)
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

	for _, rec := range c.loginEvents {
		user := linkage[rec.Field("workspaceId")]
		if user == "" {
			user = "Unknown"
		}
		emit(rec, user, "time")
	}
	for _, rec := range c.queryLogs {
		emit(rec, rec.Field(models.FieldUserLabel), "query_timestamp")
	}
	for _, rec := range c.netFlows {
		emit(rec, rec.Field(models.FieldUserLabel), "timestamp")
	}
	return activities
}

// DetectAll runs every detector and concatenates the results without
// further de-duplication; one record may legitimately surface under several
// rules.
func (c *AWSCorrelator) DetectAll() []models.Activity {
	all := make([]models.Activity, 0)
	all = append(all, c.DetectBeaconing()...)
	all = append(all, c.DetectDataExfiltration()...)
	all = append(all, c.DetectPortAccess()...)
	all = append(all, c.DetectRuleMatches()...)

	for _, act := range all {
		c.metrics.Detected(string(act.Kind), 1)
	}
	c.activities = all
	c.detected = true
	return all
}

func allowedDomain(domain string, allowed []string) bool {
	for _, a := range allowed {
		if strings.Contains(domain, a) {
			return true
		}
	}
	return false
}

func suspiciousName(domain string, literals []string) bool {
	lower := strings.ToLower(domain)
	for _, lit := range literals {
		if strings.Contains(lower, lit) {
			return true
		}
	}
	return false
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev uses the n-1 divisor.
func sampleStdDev(values []float64, avg float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - avg
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
