package lookup

import (
	"testing"

	"veledger/internal/domain"
)

func TestEpochAtOrdinal(t *testing.T) {
	points := []domain.Point{
		{Ordinal: 0},
		{Ordinal: 3},
		{Ordinal: 7},
		{Ordinal: 7},
		{Ordinal: 12},
	}

	cases := []struct {
		name   string
		target uint64
		want   int
	}{
		{"before first", 0, 0},
		{"between points", 5, 1},
		{"exact hit resolves to latest", 7, 3},
		{"past the end", 100, 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EpochAtOrdinal(points, tc.target); got != tc.want {
				t.Errorf("EpochAtOrdinal(%d) = %d, want %d", tc.target, got, tc.want)
			}
		})
	}

	if got := EpochAtOrdinal(nil, 5); got != -1 {
		t.Errorf("empty slice: got %d, want -1", got)
	}
	if got := EpochAtOrdinal(points[1:], 2); got != -1 {
		t.Errorf("target before first point: got %d, want -1", got)
	}
}

func TestEpochAtTime(t *testing.T) {
	points := []domain.Point{
		{Ts: 100},
		{Ts: 200},
		{Ts: 200},
		{Ts: 300},
	}

	cases := []struct {
		name   string
		target int64
		want   int
	}{
		{"exact first", 100, 0},
		{"between", 150, 0},
		{"tie resolves to latest", 200, 2},
		{"just before a point", 299, 2},
		{"past the end", 1000, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EpochAtTime(points, tc.target); got != tc.want {
				t.Errorf("EpochAtTime(%d) = %d, want %d", tc.target, got, tc.want)
			}
		})
	}

	if got := EpochAtTime(points, 99); got != -1 {
		t.Errorf("target before first point: got %d, want -1", got)
	}
}

func TestEpochAtTime_LargeHistory(t *testing.T) {
	// A long history still resolves within the iteration cap.
	points := make([]domain.Point, 10_000)
	for i := range points {
		points[i] = domain.Point{Ts: int64(i) * domain.WeekSeconds, Ordinal: uint64(i)}
	}

	for _, target := range []int64{0, domain.WeekSeconds * 4999, domain.WeekSeconds*5000 - 1, domain.WeekSeconds * 9999} {
		want := int(target / domain.WeekSeconds)
		if got := EpochAtTime(points, target); got != want {
			t.Errorf("EpochAtTime(%d) = %d, want %d", target, got, want)
		}
	}
}
