package main

import (
	"testing"
	"time"
)

func TestParseWindow(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		start     string
		end       string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{
			name:      "defaults to last 30 days",
			wantStart: now.Add(-30 * 24 * time.Hour),
			wantEnd:   now,
		},
		{
			name:      "explicit window",
			start:     "2024-01-01T00:00:00",
			end:       "2024-02-01T08:30:00",
			wantStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 2, 1, 8, 30, 0, 0, time.UTC),
		},
		{
			name:      "end only",
			end:       "2024-03-31T00:00:00",
			wantStart: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "bad start",
			start:   "2024-01-01",
			wantErr: true,
		},
		{
			name:    "bad end",
			end:     "yesterday",
			wantErr: true,
		},
		{
			name:    "start after end",
			start:   "2024-02-01T00:00:00",
			end:     "2024-01-01T00:00:00",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := parseWindow(tt.start, tt.end, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got window %v - %v", start, end)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
				t.Errorf("window = %v - %v, want %v - %v", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}
