package reportcsv

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestWriteSessions(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "nested", "sessions.csv")

	sessions := []models.Session{
		{User: "alice", VMID: "vm-1", Start: base, End: base.Add(time.Hour), EventCount: 3},
	}
	if err := WriteSessions(path, sessions); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	rows := readRows(t, path)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header plus 1", len(rows))
	}
	if rows[1][0] != "alice" || rows[1][5] != "2024-03-15 09:00:00" {
		t.Fatalf("wrong row: %v", rows[1])
	}
}

func TestWriteActivities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activities.csv")
	activities := []models.Activity{
		{Kind: models.KindPortAccess, User: "USER_A", Port: 3389, Attempts: 4, SourceIPs: []string{"1.1.1.1", "2.2.2.2"}},
	}
	if err := WriteActivities(path, activities); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	rows := readRows(t, path)
	if rows[1][0] != string(models.KindPortAccess) || rows[1][6] != "4" {
		t.Fatalf("wrong row: %v", rows[1])
	}
	if rows[1][7] != "1.1.1.1; 2.2.2.2" {
		t.Fatalf("wrong ip join: %q", rows[1][7])
	}
}

func TestWriteSummarySortedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.csv")
	summary := models.Summary{"zeta": 1, "alpha": 2}
	if err := WriteSummary(path, summary); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	rows := readRows(t, path)
	if rows[1][0] != "alpha" || rows[2][0] != "zeta" {
		t.Fatalf("keys not sorted: %v", rows)
	}
}
