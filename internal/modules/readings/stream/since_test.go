package stream

import (
	"testing"
	"time"
)

func TestParseSince(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr string
	}{
		{name: "absent", raw: "", want: 0},
		{name: "zero", raw: "0", want: 0},
		{name: "past", raw: "1699999999000", want: 1699999999000},
		{name: "exactly now", raw: "1700000000000", want: 1700000000000},
		{name: "negative", raw: "-1", wantErr: "'since' must be >= 0"},
		{name: "future", raw: "1700000000001", wantErr: "'since' must not be in the future"},
		{name: "not a number", raw: "abc", wantErr: "invalid 'since' (expected integer milliseconds)"},
		{name: "fractional", raw: "1.5", wantErr: "invalid 'since' (expected integer milliseconds)"},
		{name: "overflow", raw: "99999999999999999999", wantErr: "invalid 'since' (expected integer milliseconds)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSince(tt.raw, now)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("ParseSince(%q) error = %v; want %q", tt.raw, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSince(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseSince(%q) = %d; want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSourceCursor(t *testing.T) {
	tests := []struct {
		ms   int64
		want int64
	}{
		{0, 0},
		{999, 0},
		{1000, 1},
		{1700000000500, 1700000000},
		{-1, -1},
		{-1000, -1},
		{-1001, -2},
	}
	for _, tt := range tests {
		if got := SourceCursor(tt.ms); got != tt.want {
			t.Errorf("SourceCursor(%d) = %d; want %d", tt.ms, got, tt.want)
		}
	}
}
