package eviction_test

import (
	"errors"
	"testing"

	"github.com/lucasew/dumpkeeper/internal/eviction"
)

func TestSelectOldest(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  string
	}{
		{
			name: "six dated entries",
			names: []string{
				"2024-01-01_a.zip", "2024-01-02_b.zip", "2024-01-03_c.zip",
				"2024-01-04_d.zip", "2024-01-05_e.zip", "2024-01-06_f.zip",
			},
			want: "2024-01-01_a.zip",
		},
		{
			name: "unordered input",
			names: []string{
				"2024-03-05_x.tar.gz", "2023-12-31_y.tar.gz", "2024-01-02_z.tar.gz",
				"2024-02-01_w.tar.gz", "2024-01-15_v.tar.gz", "2024-01-01_u.tar.gz",
			},
			want: "2023-12-31_y.tar.gz",
		},
		{
			name: "tie keeps first in input order",
			names: []string{
				"2024-05-01_b.zip", "2024-04-01_late.zip", "2024-04-01_early.zip",
				"2024-05-02_c.zip", "2024-05-03_d.zip", "2024-05-04_e.zip",
			},
			want: "2024-04-01_late.zip",
		},
		{
			name:  "below floor",
			names: []string{"2024-01-01_a", "2024-01-02_b", "2024-01-03_c", "2024-01-04_d"},
			want:  "",
		},
		{
			name:  "five entries is still below floor",
			names: []string{"2024-01-01_a", "2024-01-02_b", "2024-01-03_c", "2024-01-04_d", "2024-01-05_e"},
			want:  "",
		},
		{
			name:  "below floor ignores malformed names",
			names: []string{"garbage", "also garbage"},
			want:  "",
		},
		{
			name: "empty names do not count",
			names: []string{
				"2024-01-01_a", "", "2024-01-02_b", "", "2024-01-03_c", "2024-01-04_d", "2024-01-05_e",
			},
			want: "",
		},
		{
			name:  "empty listing",
			names: nil,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eviction.SelectOldest(tt.names)
			if err != nil {
				t.Fatalf("SelectOldest() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SelectOldest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelectOldest_Malformed(t *testing.T) {
	base := []string{"2024-01-01_a", "2024-01-02_b", "2024-01-03_c", "2024-01-04_d", "2024-01-05_e"}

	tests := []struct {
		name    string
		bad     string
		wantErr error
	}{
		{"no separator", "2024-01-06.zip", eviction.ErrNoSeparator},
		{"wrong separator", "2024/01/06_f.zip", eviction.ErrInvalidDate},
		{"short month", "2024-1-06_f.zip", eviction.ErrInvalidDate},
		{"month out of range", "2024-13-01_f.zip", eviction.ErrInvalidDate},
		{"day out of range", "2023-02-29_f.zip", eviction.ErrInvalidDate},
		{"not a date", "latest_f.zip", eviction.ErrInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names := append(append([]string{}, base...), tt.bad)
			got, err := eviction.SelectOldest(names)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SelectOldest() error = %v, want %v", err, tt.wantErr)
			}
			if got != "" {
				t.Errorf("SelectOldest() returned %q alongside an error", got)
			}
		})
	}
}

func TestSelector_CustomFloor(t *testing.T) {
	s := eviction.NewSelector(2)
	got, err := s.SelectOldest([]string{"2024-02-01_b", "2024-01-01_a"})
	if err != nil {
		t.Fatalf("SelectOldest() error = %v", err)
	}
	if got != "2024-01-01_a" {
		t.Errorf("SelectOldest() = %q, want 2024-01-01_a", got)
	}

	if d := eviction.NewSelector(0); d.MinEntries != eviction.DefaultMinEntries {
		t.Errorf("NewSelector(0).MinEntries = %d, want %d", d.MinEntries, eviction.DefaultMinEntries)
	}
}

func TestParseListing(t *testing.T) {
	raw := "2024-01-01_a.zip\n\n2024-01-02_b.zip\r\n   \n2024-01-03_c.zip\n"
	got := eviction.ParseListing(raw)
	want := []string{"2024-01-01_a.zip", "2024-01-02_b.zip", "2024-01-03_c.zip"}
	if len(got) != len(want) {
		t.Fatalf("ParseListing() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ParseListing()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := eviction.ParseListing(""); len(got) != 0 {
		t.Errorf("ParseListing(\"\") = %v, want empty", got)
	}
}

func TestParseDatePrefix(t *testing.T) {
	date, err := eviction.ParseDatePrefix("2024-02-29_03-04-05_PM.tar.gz")
	if err != nil {
		t.Fatalf("ParseDatePrefix() error = %v", err)
	}
	if date.Year() != 2024 || date.Month() != 2 || date.Day() != 29 {
		t.Errorf("ParseDatePrefix() = %v, want 2024-02-29", date)
	}
	if date.Hour() != 0 || date.Minute() != 0 || date.Second() != 0 {
		t.Errorf("ParseDatePrefix() carries a time of day: %v", date)
	}

	if _, err := eviction.ParseDatePrefix("2024-02-29"); !errors.Is(err, eviction.ErrNoSeparator) {
		t.Errorf("ParseDatePrefix() without separator error = %v", err)
	}
	if _, err := eviction.ParseDatePrefix("24-02-29_x"); !errors.Is(err, eviction.ErrInvalidDate) {
		t.Errorf("ParseDatePrefix() with two-digit year error = %v", err)
	}
}
