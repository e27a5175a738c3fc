package dates

import (
	"testing"
	"time"
)

func TestParseDay(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        time.Time
		shouldError bool
	}{
		{
			name:  "ISO date",
			input: "2026-02-14",
			want:  time.Date(2026, time.February, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "date with time",
			input: "2026-02-14 16:00",
			want:  time.Date(2026, time.February, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "date with UTC suffix",
			input: "2026-02-14 16:00:30 UTC",
			want:  time.Date(2026, time.February, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "RFC3339",
			input: "2026-02-14T23:59:00Z",
			want:  time.Date(2026, time.February, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "whitespace trimmed",
			input: "  2026-03-01  ",
			want:  time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:        "day first",
			input:       "14/02/2026",
			shouldError: true,
		},
		{
			name:        "invalid day",
			input:       "2026-02-30",
			shouldError: true,
		},
		{
			name:        "empty",
			input:       "",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDay(tt.input)
			if tt.shouldError {
				if err == nil {
					t.Errorf("ParseDay(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDay(%q) unexpected error: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseDay(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNights(t *testing.T) {
	in := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		out  time.Time
		want int
	}{
		{"three nights", in.AddDate(0, 0, 3), 3},
		{"same day counts as one", in, 1},
		{"reversed counts as one", in.AddDate(0, 0, -2), 1},
		{"across month end", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Nights(in, tt.out); got != tt.want {
				t.Errorf("Nights() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseDeadline(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   time.Time
		wantOK bool
	}{
		{
			name:   "fees from date with time",
			text:   "Cancellation cost: from January 2, 2026 1:53 AM: € 43.20",
			want:   time.Date(2026, time.January, 2, 1, 53, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "free cancellation until",
			text:   "Free cancellation until March 10, 2026",
			want:   time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "cancel for free before, 24h clock",
			text:   "You can cancel for free before February 1 2026 18:00.",
			want:   time.Date(2026, time.February, 1, 18, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "numeric day first when unambiguous",
			text:   "Free cancellation before 25/12/2026",
			want:   time.Date(2026, time.December, 25, 0, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "numeric month first",
			text:   "from 03/04/26 12:00 $ 80",
			want:   time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "no deadline",
			text:   "Non-refundable. Pay now.",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, ok := ParseDeadline(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ParseDeadline() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("ParseDeadline() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLabelForms(t *testing.T) {
	forms := LabelForms(time.Date(2026, time.February, 14, 0, 0, 0, 0, time.UTC))
	if forms[0] != "Saturday, February 14, 2026" {
		t.Errorf("first form = %q", forms[0])
	}
	if forms[3] != "14 February 2026" {
		t.Errorf("day-first form = %q", forms[3])
	}
}
