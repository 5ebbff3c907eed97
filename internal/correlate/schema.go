package correlate

import "github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"

// Known column aliases per canonical field, in lookup priority order. The
// sign-in export tools disagree on naming; resolution is explicit here
// rather than probed ad hoc at each access site.
var (
	signinTimestampAliases = []string{"Date (UTC)", "Date", "createdDateTime"}
	signinUserAliases      = []string{"Username", "User", "userPrincipalName"}
	signinDeviceAliases    = []string{"Device ID", "deviceId", "IP address", "ipAddress"}
	signinIPAliases        = []string{"IP address", "ipAddress"}
)

// Canonical column names after sign-in schema resolution.
const (
	colDate = "Date"
	colUser = "User"
)

// resolveColumn returns the first alias present in any record of the table.
func resolveColumn(records []*models.Record, aliases []string) (string, bool) {
	for _, alias := range aliases {
		for _, rec := range records {
			if rec.Has(alias) {
				return alias, true
			}
		}
	}
	return "", false
}

// renameColumn moves values from one column name to another across the
// table, dropping any pre-existing target values to avoid collisions.
func renameColumn(records []*models.Record, from, to string) {
	if from == to {
		return
	}
	for _, rec := range records {
		if v, ok := rec.Fields[from]; ok {
			delete(rec.Fields, to)
			rec.Set(to, v)
			delete(rec.Fields, from)
		}
	}
}

// firstField returns the first present alias value on a record.
func firstField(rec *models.Record, aliases ...string) string {
	for _, alias := range aliases {
		if rec.Has(alias) {
			return rec.Field(alias)
		}
	}
	return ""
}
