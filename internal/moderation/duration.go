package moderation

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrBadDuration = errors.New("invalid mute duration")

var dhms = regexp.MustCompile(`^(?:(\d+)D)?(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseMuteDuration accepts "1D5H30M10S" style lengths (any subset, case
// insensitive), bare minutes ("120", "1.5") or a Go duration ("1h30m").
func ParseMuteDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrBadDuration
	}
	var d time.Duration
	if mins, err := strconv.ParseFloat(s, 64); err == nil {
		ns := mins * float64(time.Minute)
		if math.IsNaN(ns) || ns >= math.MaxInt64 || ns <= math.MinInt64 {
			return 0, fmt.Errorf("%w: %q is out of range", ErrBadDuration, s)
		}
		d = time.Duration(ns)
	} else if m := dhms.FindStringSubmatch(strings.ToUpper(s)); m != nil {
		units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
		for i, u := range units {
			if m[i+1] == "" {
				continue
			}
			n, err := strconv.ParseInt(m[i+1], 10, 64)
			if err != nil || n > int64(math.MaxInt64/u) {
				return 0, fmt.Errorf("%w: %q is out of range", ErrBadDuration, s)
			}
			part := time.Duration(n) * u
			if d > math.MaxInt64-part {
				return 0, fmt.Errorf("%w: %q is out of range", ErrBadDuration, s)
			}
			d += part
		}
	} else if gd, err := time.ParseDuration(s); err == nil {
		d = gd
	} else {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrBadDuration, s)
	}
	return d, nil
}

// FormatDuration renders d as "1 Day, 5 Hours, 30 Minutes, 10 Seconds",
// omitting zero parts.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0 Seconds"
	}
	d = d.Round(time.Second)
	parts := []struct {
		n    int64
		unit string
	}{
		{int64(d / (24 * time.Hour)), "Day"},
		{int64(d % (24 * time.Hour) / time.Hour), "Hour"},
		{int64(d % time.Hour / time.Minute), "Minute"},
		{int64(d % time.Minute / time.Second), "Second"},
	}
	var out []string
	for _, p := range parts {
		if p.n == 0 {
			continue
		}
		u := p.unit
		if p.n != 1 {
			u += "s"
		}
		out = append(out, fmt.Sprintf("%d %s", p.n, u))
	}
	return strings.Join(out, ", ")
}
