package proactive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField is one parsed field of a 5-field cron expression: a predicate
// over the field's integer value.
type cronField struct {
	match func(v int) bool
}

func (f cronField) Matches(v int) bool { return f.match(v) }

// cronSchedule is a parsed 5-field cron expression (minute hour dom month
// dow), each field supporting `*`, ranges (`a-b`), comma lists, and
// `/step`.
type cronSchedule struct {
	minute, hour, dom, month, dow cronField
}

func parseCronExpression(expr string) (*cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("proactive: cron expression %q must have 5 fields", expr)
	}
	ranges := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	parsed := make([]cronField, 5)
	for i, f := range fields {
		cf, err := parseCronField(f, ranges[i][0], ranges[i][1])
		if err != nil {
			return nil, fmt.Errorf("proactive: cron field %d (%q): %w", i, f, err)
		}
		parsed[i] = cf
	}
	return &cronSchedule{minute: parsed[0], hour: parsed[1], dom: parsed[2], month: parsed[3], dow: parsed[4]}, nil
}

func parseCronField(field string, lo, hi int) (cronField, error) {
	var matchers []func(int) bool
	for _, part := range strings.Split(field, ",") {
		m, err := parseCronPart(part, lo, hi)
		if err != nil {
			return cronField{}, err
		}
		matchers = append(matchers, m)
	}
	return cronField{match: func(v int) bool {
		for _, m := range matchers {
			if m(v) {
				return true
			}
		}
		return false
	}}, nil
}

func parseCronPart(part string, lo, hi int) (func(int) bool, error) {
	step := 1
	base := part
	if i := strings.IndexByte(part, '/'); i >= 0 {
		base = part[:i]
		n, err := strconv.Atoi(part[i+1:])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid step in %q", part)
		}
		step = n
	}

	var rangeLo, rangeHi int
	switch {
	case base == "*":
		rangeLo, rangeHi = lo, hi
	case strings.Contains(base, "-"):
		bounds := strings.SplitN(base, "-", 2)
		a, err1 := strconv.Atoi(bounds[0])
		b, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil || a > b {
			return nil, fmt.Errorf("invalid range %q", base)
		}
		rangeLo, rangeHi = a, b
	default:
		n, err := strconv.Atoi(base)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", base)
		}
		rangeLo, rangeHi = n, n
	}
	if rangeLo < lo || rangeHi > hi {
		return nil, fmt.Errorf("value out of range [%d,%d]: %q", lo, hi, base)
	}

	return func(v int) bool {
		if v < rangeLo || v > rangeHi {
			return false
		}
		return (v-rangeLo)%step == 0
	}, nil
}

// Matches reports whether t (already converted to the rule's timezone)
// satisfies the schedule. dow uses Go's time.Weekday numbering (0=Sunday),
// matching standard cron.
func (s *cronSchedule) Matches(t time.Time) bool {
	return s.minute.Matches(t.Minute()) &&
		s.hour.Matches(t.Hour()) &&
		s.dom.Matches(t.Day()) &&
		s.month.Matches(int(t.Month())) &&
		s.dow.Matches(int(t.Weekday()))
}

// resolveLocation loads the IANA timezone name, defaulting to local time
// when tz is empty.
func resolveLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("proactive: invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// minuteKey is the UTC-minute dedupe key used so a cron rule fires at most
// once per matching minute.
func minuteKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04")
}
