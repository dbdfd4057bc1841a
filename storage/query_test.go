package storage

import (
	"testing"
	"time"

	"journal-api/domain"
)

func TestDayFilter(t *testing.T) {
	rng := domain.RangeForDay(time.Date(2024, 6, 20, 13, 0, 0, 0, time.UTC), time.UTC)
	got := DayFilter("user-1", rng)
	want := "PartitionKey eq 'user-1' and CreatedAt ge datetime'2024-06-20T00:00:00.0000000Z' and CreatedAt lt datetime'2024-06-21T00:00:00.0000000Z'"
	if got != want {
		t.Fatalf("unexpected filter:\n got %s\nwant %s", got, want)
	}
}

func TestDayFilterUsesUTCBoundaries(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	rng := domain.RangeForDay(time.Date(2024, 6, 20, 13, 0, 0, 0, loc), loc)
	got := DayFilter("u", rng)
	want := "PartitionKey eq 'u' and CreatedAt ge datetime'2024-06-19T15:00:00.0000000Z' and CreatedAt lt datetime'2024-06-20T15:00:00.0000000Z'"
	if got != want {
		t.Fatalf("unexpected filter:\n got %s\nwant %s", got, want)
	}
}

func TestQueryEscapesStrings(t *testing.T) {
	got := NewQuery().Eq("PartitionKey", "o'brien").String()
	if got != "PartitionKey eq 'o''brien'" {
		t.Fatalf("unexpected filter %s", got)
	}
}

func TestQueryLiterals(t *testing.T) {
	got := NewQuery().
		Eq("Resolved", true).
		Ne("Count", 3).
		Gt("Big", int64(7)).
		Le("Title", "z").
		String()
	want := "Resolved eq true and Count ne 3 and Big gt 7L and Title le 'z'"
	if got != want {
		t.Fatalf("unexpected filter:\n got %s\nwant %s", got, want)
	}
}

func TestQueryUnsupportedLiteralPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewQuery().Eq("x", 1.5)
}
