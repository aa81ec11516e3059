package ics

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sosodev/duration"
)

const (
	// jCal date-time text form; a trailing Z marks UTC, otherwise the value
	// is floating and read in the local zone.
	jcalDateTime = "2006-01-02T15:04:05"
	jcalDate     = "2006-01-02"
)

// FormatDateTime renders t in jCal form. UTC times keep their Z suffix,
// anything else is written as floating local time.
func FormatDateTime(t time.Time) string {
	if t.Location() == time.UTC {
		return t.Format(jcalDateTime) + "Z"
	}
	return t.Local().Format(jcalDateTime)
}

// ParseDateTime reads a jCal date-time or date value.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date-time")
	}
	if strings.HasSuffix(s, "Z") {
		return time.Parse(jcalDateTime+"Z", s)
	}
	if len(s) == len(jcalDate) {
		return time.ParseInLocation(jcalDate, s, time.Local)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(jcalDateTime, s, time.Local)
}

// maxDurationSeconds is the longest span a time.Duration holds.
const maxDurationSeconds = float64(math.MaxInt64 / int64(time.Second))

// ParseDuration reads an RFC 5545 duration such as "PT1H30M" or "-P2D".
// Years, months and fractions are not part of that grammar and are
// rejected, as is a T without a time component.
func ParseDuration(s string) (time.Duration, error) {
	v := strings.TrimPrefix(strings.TrimSpace(strings.ToUpper(s)), "+")
	if v == "" || strings.ContainsRune(v, '.') || !strings.ContainsAny(v[len(v)-1:], "WDHMS") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	d, err := duration.Parse(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d.Years != 0 || d.Months != 0 {
		return 0, fmt.Errorf("invalid duration %q: years and months are not allowed", s)
	}
	secs := d.Weeks*7*86400 + d.Days*86400 + d.Hours*3600 + d.Minutes*60 + d.Seconds
	if secs > maxDurationSeconds {
		return 0, fmt.Errorf("invalid duration %q: out of range", s)
	}
	return d.ToTimeDuration(), nil
}

// FormatDuration renders d as an RFC 5545 duration, e.g. "PT1H30M". Days
// are the largest unit and sub-second remainders are dropped.
func FormatDuration(d time.Duration) string {
	out := &duration.Duration{Negative: d < 0}
	if d < 0 {
		d = -d
	}
	out.Days = float64(d / (24 * time.Hour))
	d %= 24 * time.Hour
	out.Hours = float64(d / time.Hour)
	d %= time.Hour
	out.Minutes = float64(d / time.Minute)
	d %= time.Minute
	out.Seconds = float64(d / time.Second)
	if *out == (duration.Duration{Negative: true}) {
		out.Negative = false
	}
	return out.String()
}
