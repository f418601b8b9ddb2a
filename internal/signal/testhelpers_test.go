package signal

import (
	"testing"
	"time"
)

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("tzdata unavailable for %s: %v", name, err)
	}
	return loc
}

func nowForTest() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}
