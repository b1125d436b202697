package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got, ok := ParseTime(strconv.FormatInt(ts.Unix(), 10))
	if !ok || got.Unix() != ts.Unix() {
		t.Fatalf("unexpected unix %v", got)
	}
	got, ok = ParseTime(strconv.FormatInt(ts.UnixMilli(), 10))
	if !ok || !got.Equal(ts) {
		t.Fatalf("unexpected unix millis %v", got)
	}
}

func TestParseTimeDate(t *testing.T) {
	got, ok := ParseTime("2025-01-31")
	if !ok || !got.Equal(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", got)
	}
}

func TestParseHorizon(t *testing.T) {
	cases := map[string]time.Duration{
		"24h":  24 * time.Hour,
		"90m":  90 * time.Minute,
		"1d":   24 * time.Hour,
		"2w":   14 * 24 * time.Hour,
		"0.5d": 12 * time.Hour,
		" 4H ": 4 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseHorizon(in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}

	for _, bad := range []string{"", "soon", "-1h", "0d", "xd"} {
		if _, err := ParseHorizon(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestFormatHorizon(t *testing.T) {
	cases := map[time.Duration]string{
		24 * time.Hour:          "24h",
		48 * time.Hour:          "48h",
		90 * time.Minute:        "90m",
		1500 * time.Millisecond: "1.5s",
	}
	for in, want := range cases {
		if got := FormatHorizon(in); got != want {
			t.Fatalf("%v: got %q want %q", in, got, want)
		}
		back, err := ParseHorizon(want)
		if err != nil || back != in {
			t.Fatalf("%q: round trip gave %v, %v", want, back, err)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" BTC, ,ETH,")
	if len(got) != 2 || got[0] != "BTC" || got[1] != "ETH" {
		t.Fatalf("unexpected %v", got)
	}
}
