// Package fileman holds the codecs and schema machinery for writing
// FileMan-style records: the date/time codec, the field codec, per-file
// static layouts with their cross-reference indexes, the IEN allocator and
// the per-dictionary pointer registry.
package fileman

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Mode selects the run-wide encoding. It never varies within a run.
type Mode int

const (
	// PointerClean renders cross-file references as IENs and dates as
	// FileMan internal dates.
	PointerClean Mode = iota
	// Legacy renders cross-file references as literal text and dates as
	// $HOROLOG day counts.
	Legacy
)

func (m Mode) String() string {
	switch m {
	case PointerClean:
		return "pointer-clean"
	case Legacy:
		return "legacy"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts "pointer-clean" or "legacy".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pointer-clean", "pointerclean", "modern":
		return PointerClean, nil
	case "legacy":
		return Legacy, nil
	}
	return 0, fmt.Errorf("fileman: unknown mode %q (want pointer-clean or legacy)", s)
}

// Date is a calendar date. It is deliberately not a time.Time so that an
// out-of-range month or day reaches the codec instead of being normalized.
type Date struct {
	Year  int
	Month int
	Day   int
}

// DateTime is a calendar date with a time of day to the second.
type DateTime struct {
	Date
	Hour   int
	Minute int
	Second int
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// DateTimeOf returns the calendar date and time of t in t's location.
func DateTimeOf(t time.Time) DateTime {
	return DateTime{Date: DateOf(t), Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (dt DateTime) String() string {
	return fmt.Sprintf("%sT%02d:%02d:%02d", dt.Date, dt.Hour, dt.Minute, dt.Second)
}

func (d Date) validate() error {
	if d.Year < 1 || d.Year > 9999 {
		return newError(ErrInvalidCalendarDate, "", "year %d out of range", d.Year)
	}
	if d.Month < 1 || d.Month > 12 {
		return newError(ErrInvalidCalendarDate, "", "month %d out of range in %s", d.Month, d)
	}
	if d.Day < 1 || d.Day > daysIn(d.Year, d.Month) {
		return newError(ErrInvalidCalendarDate, "", "day %d out of range in %s", d.Day, d)
	}
	return nil
}

func (dt DateTime) validate() error {
	if err := dt.Date.validate(); err != nil {
		return err
	}
	if dt.Hour < 0 || dt.Hour > 23 || dt.Minute < 0 || dt.Minute > 59 || dt.Second < 0 || dt.Second > 59 {
		return newError(ErrInvalidCalendarDate, "", "time %02d:%02d:%02d out of range", dt.Hour, dt.Minute, dt.Second)
	}
	return nil
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// horologBase is day 0 of the legacy count, so 1841-01-01 is day 1.
var horologBase = unixDay(Date{Year: 1840, Month: 12, Day: 31})

func unixDay(d Date) int64 {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// EncodeDate renders d in the given mode.
//
//	PointerClean: (year-1700)*10000 + month*100 + day, e.g. 2024-01-15 -> 3240115
//	Legacy:       days since 1840-12-31,              e.g. 2024-01-15 -> 66854
func EncodeDate(d Date, mode Mode) (string, error) {
	if err := d.validate(); err != nil {
		return "", err
	}
	var v int64
	switch mode {
	case PointerClean:
		v = int64(d.Year-1700)*10000 + int64(d.Month)*100 + int64(d.Day)
	case Legacy:
		v = unixDay(d) - horologBase
	default:
		return "", fmt.Errorf("fileman: unknown mode %v", mode)
	}
	if v <= 0 {
		return "", newError(ErrDateOutOfRange, "", "%s precedes the %s epoch", d, mode)
	}
	return strconv.FormatInt(v, 10), nil
}

// EncodeDateTime renders dt as the encoded date followed by "." and a
// zero-padded HHMMSS.
func EncodeDateTime(dt DateTime, mode Mode) (string, error) {
	if err := dt.validate(); err != nil {
		return "", err
	}
	date, err := EncodeDate(dt.Date, mode)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%02d%02d%02d", date, dt.Hour, dt.Minute, dt.Second), nil
}

// DecodeDate is the inverse of EncodeDate.
func DecodeDate(text string, mode Mode) (Date, error) {
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Date{}, newError(ErrInvalidCalendarDate, "", "malformed date %q", text)
	}
	if v <= 0 {
		return Date{}, newError(ErrDateOutOfRange, "", "non-positive date %q", text)
	}
	var d Date
	switch mode {
	case PointerClean:
		d = Date{Year: int(v/10000) + 1700, Month: int(v / 100 % 100), Day: int(v % 100)}
	case Legacy:
		t := time.Unix((horologBase+v)*86400, 0).UTC()
		d = DateOf(t)
	default:
		return Date{}, fmt.Errorf("fileman: unknown mode %v", mode)
	}
	if err := d.validate(); err != nil {
		return Date{}, err
	}
	return d, nil
}

// DecodeDateTime is the inverse of EncodeDateTime. A time part shorter than
// six digits is right-padded, which accepts canonical numeric forms such as
// 3240115.103 (10:30:00).
func DecodeDateTime(text string, mode Mode) (DateTime, error) {
	datePart, timePart, _ := strings.Cut(text, ".")
	d, err := DecodeDate(datePart, mode)
	if err != nil {
		return DateTime{}, err
	}
	if len(timePart) > 6 {
		return DateTime{}, newError(ErrInvalidCalendarDate, "", "malformed time in %q", text)
	}
	for i := 0; i < len(timePart); i++ {
		if timePart[i] < '0' || timePart[i] > '9' {
			return DateTime{}, newError(ErrInvalidCalendarDate, "", "malformed time in %q", text)
		}
	}
	hms := timePart + strings.Repeat("0", 6-len(timePart))
	h, _ := strconv.Atoi(hms[0:2])
	m, _ := strconv.Atoi(hms[2:4])
	s, _ := strconv.Atoi(hms[4:6])
	dt := DateTime{Date: d, Hour: h, Minute: m, Second: s}
	if err := dt.validate(); err != nil {
		return DateTime{}, err
	}
	return dt, nil
}
