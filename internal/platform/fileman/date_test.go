package fileman

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeDate_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		date Date
		mode Mode
		want string
	}{
		{"modern 2024", Date{2024, 1, 15}, PointerClean, "3240115"},
		{"modern 1980", Date{1980, 5, 15}, PointerClean, "2800515"},
		{"modern epoch", Date{1700, 1, 1}, PointerClean, "101"},
		{"modern 2400", Date{2400, 12, 31}, PointerClean, "7001231"},
		{"legacy epoch", Date{1841, 1, 1}, Legacy, "1"},
		{"legacy unix epoch", Date{1970, 1, 1}, Legacy, "47117"},
		{"legacy 2024", Date{2024, 1, 15}, Legacy, "66854"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeDate(tt.date, tt.mode)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("EncodeDate(%s, %s) = %q, want %q", tt.date, tt.mode, got, tt.want)
			}
		})
	}
}

func TestEncodeDateTime_ZeroPadded(t *testing.T) {
	dt := DateTime{Date: Date{2024, 1, 15}, Hour: 9, Minute: 5, Second: 7}
	got, err := EncodeDateTime(dt, PointerClean)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "3240115.090507" {
		t.Errorf("got %q, want 3240115.090507", got)
	}
	got, err = EncodeDateTime(DateTime{Date: Date{2024, 1, 15}}, Legacy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "66854.000000" {
		t.Errorf("got %q, want 66854.000000", got)
	}
}

func TestEncodeDate_Errors(t *testing.T) {
	tests := []struct {
		name string
		date Date
		mode Mode
		want error
	}{
		{"month 13", Date{2024, 13, 1}, PointerClean, ErrInvalidCalendarDate},
		{"month 0", Date{2024, 0, 1}, Legacy, ErrInvalidCalendarDate},
		{"feb 30", Date{2024, 2, 30}, PointerClean, ErrInvalidCalendarDate},
		{"feb 29 non-leap", Date{2023, 2, 29}, PointerClean, ErrInvalidCalendarDate},
		{"before modern epoch", Date{1699, 12, 31}, PointerClean, ErrDateOutOfRange},
		{"before legacy epoch", Date{1840, 12, 31}, Legacy, ErrDateOutOfRange},
		{"legacy 1700", Date{1700, 1, 1}, Legacy, ErrDateOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeDate(tt.date, tt.mode)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	_, err := EncodeDateTime(DateTime{Date: Date{2024, 1, 1}, Hour: 24}, PointerClean)
	if !errors.Is(err, ErrInvalidCalendarDate) {
		t.Errorf("expected ErrInvalidCalendarDate for hour 24, got %v", err)
	}
}

// Every calendar day in [1700-01-01, 2400-12-31] round-trips in pointer-clean
// mode; legacy mode round-trips every day from its epoch onward and rejects
// the days before it.
func TestDateRoundTrip(t *testing.T) {
	start := time.Date(1700, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2400, 12, 31, 0, 0, 0, 0, time.UTC)
	legacyEpoch := time.Date(1841, 1, 1, 0, 0, 0, 0, time.UTC)

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		d := DateOf(day)
		for _, mode := range []Mode{PointerClean, Legacy} {
			enc, err := EncodeDate(d, mode)
			if mode == Legacy && day.Before(legacyEpoch) {
				if !errors.Is(err, ErrDateOutOfRange) {
					t.Fatalf("%s %s: expected ErrDateOutOfRange, got %v", mode, d, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("%s %s: encode: %v", mode, d, err)
			}
			got, err := DecodeDate(enc, mode)
			if err != nil {
				t.Fatalf("%s %s: decode %q: %v", mode, d, enc, err)
			}
			if got != d {
				t.Fatalf("%s: round trip %s -> %q -> %s", mode, d, enc, got)
			}
		}
	}
}

func TestDateTimeRoundTrip(t *testing.T) {
	cases := []DateTime{
		{Date: Date{2024, 1, 15}, Hour: 10, Minute: 30},
		{Date: Date{1999, 12, 31}, Hour: 23, Minute: 59, Second: 59},
		{Date: Date{1900, 2, 28}},
	}
	for _, dt := range cases {
		for _, mode := range []Mode{PointerClean, Legacy} {
			enc, err := EncodeDateTime(dt, mode)
			if err != nil {
				t.Fatalf("encode %s: %v", dt, err)
			}
			got, err := DecodeDateTime(enc, mode)
			if err != nil {
				t.Fatalf("decode %q: %v", enc, err)
			}
			if got != dt {
				t.Errorf("%s: round trip %s -> %q -> %s", mode, dt, enc, got)
			}
		}
	}
}

func TestDecodeDateTime_CanonicalForm(t *testing.T) {
	got, err := DecodeDateTime("3240115.103", PointerClean)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := DateTime{Date: Date{2024, 1, 15}, Hour: 10, Minute: 30}
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	for _, bad := range []string{"3241315", "3240115.1234567", "3240115.12a", "abc", "0", "3240115.25"} {
		if _, err := DecodeDateTime(bad, PointerClean); err == nil {
			t.Errorf("DecodeDateTime(%q): expected error", bad)
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"pointer-clean": PointerClean, "LEGACY": Legacy, " legacy ": Legacy} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("hl7"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
