// Package reportcsv writes correlation outputs as CSV files matching the
// analyst-facing export layout.
package reportcsv

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/logger"
	"github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

func create(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	logger.Infof("Report CSV writer initialized: %s", path)
	return f, nil
}

func writeAll(path string, header []string, rows [][]string) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// WriteSessions exports the session mapping table.
func WriteSessions(path string, sessions []models.Session) error {
	header := []string{
		"User", "Username", "Display Name", "VM ID", "VM Name",
		"Session Start", "Session End", "IP Address", "Application",
		"Event Count", "Request IDs",
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.User, s.Username, s.DisplayName, s.VMID, s.VMName,
			formatTime(s.Start), formatTime(s.End), s.IPAddress, s.Application,
			strconv.Itoa(s.EventCount), s.RequestIDs,
		})
	}
	return writeAll(path, header, rows)
}

// WriteActivities exports the detected activity table.
func WriteActivities(path string, activities []models.Activity) error {
	header := []string{
		"Activity Type", "User", "Start", "End", "Domain", "Port",
		"Count", "Source IPs", "VM List", "Severity", "Details",
	}
	rows := make([][]string, 0, len(activities))
	for _, a := range activities {
		count := a.QueryCount
		if count == 0 {
			count = a.Attempts
		}
		rows = append(rows, []string{
			string(a.Kind), a.User, formatTime(a.Start), formatTime(a.End),
			a.Domain, formatPort(a.Port), strconv.Itoa(count),
			strings.Join(a.SourceIPs, "; "), strings.Join(a.VMList, "; "),
			a.Severity, a.Details,
		})
	}
	return writeAll(path, header, rows)
}

func formatPort(port int) string {
	if port == 0 {
		return ""
	}
	return strconv.Itoa(port)
}

// WriteTimeline exports the merged event timeline.
func WriteTimeline(path string, entries []models.TimelineEntry) error {
	header := []string{"Timestamp", "User", "Event Type", "Event Name", "Details", "Source"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			formatTime(e.Timestamp), e.User, e.EventType, e.EventName, e.Details, e.Source,
		})
	}
	return writeAll(path, header, rows)
}

// WriteFragmentation exports the per-user fragmentation reports.
func WriteFragmentation(path string, reports []models.FragmentationReport) error {
	header := []string{
		"User", "Total Sessions", "Unique VMs", "VM List",
		"First Session", "Last Session", "Total Duration",
	}
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		rows = append(rows, []string{
			r.User, strconv.Itoa(r.TotalSessions), strconv.Itoa(r.UniqueVMs),
			strings.Join(r.VMList, "; "), formatTime(r.FirstSession),
			formatTime(r.LastSession), r.TotalDuration.String(),
		})
	}
	return writeAll(path, header, rows)
}

// WriteSummary exports the run summary as key/value rows in sorted key
// order so repeated runs diff cleanly.
func WriteSummary(path string, summary models.Summary) error {
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprintf("%v", summary[k])})
	}
	return writeAll(path, []string{"Statistic", "Value"}, rows)
}
