package db

import (
	"testing"
	"time"
)

func TestNullableTimeZeroBecomesNull(t *testing.T) {
	if got := nullableTime(time.Time{}); got != nil {
		t.Fatalf("zero time must encode as NULL, got %v", got)
	}
}

func TestNullableTimePassesRealValues(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	got, ok := nullableTime(now).(time.Time)
	if !ok || !got.Equal(now) {
		t.Fatalf("want=%v got=%v", now, got)
	}
}
