package stores

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/oarkflow/date"
	"github.com/oarkflow/rolepolicy"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

// scanTime accepts whatever the driver hands back for a timestamp column.
func scanTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(tsLayout, v); err == nil {
			return t
		}
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func jsonString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	out := make([]string, 0)
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func cloneAudit(rec *rolepolicy.AuditRecord) *rolepolicy.AuditRecord {
	if rec == nil {
		return nil
	}
	dup := *rec
	dup.Details = make(map[string]any, len(rec.Details))
	for k, v := range rec.Details {
		dup.Details[k] = v
	}
	return &dup
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
