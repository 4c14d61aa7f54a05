package scraper

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	timeOnlyRe = regexp.MustCompile(`^(\d{2}:\d{2})(\*)?`)
	closureRe  = regexp.MustCompile(`([A-Z][a-z]{2}|[A-Z]{3}) (\d{1,2}), (\d{4}) - ([A-Z][a-z]{2}|[A-Z]{3}) (\d{1,2}), (\d{4}), (\d{2}:\d{2}) - (\d{2}:\d{2})`)
)

// parseDate handles the upstream's assorted timestamp formats. longer is set
// for the "HH:MM*" form, where the asterisk marks a longer-than-normal
// closure. Returns ok=false for blanks and the upstream's null placeholders
// ("----", year-one dates).
func parseDate(raw string, now time.Time, loc *time.Location) (t time.Time, longer, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "----" || strings.Contains(s, "0001-01-01") {
		return time.Time{}, false, false
	}

	if strings.Contains(s, "T") {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			return parsed.In(loc), false, true
		}
		if parsed, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
			return parsed, false, true
		}
	}

	if m := timeOnlyRe.FindStringSubmatch(s); m != nil {
		parsed, err := time.Parse("15:04", m[1])
		if err == nil {
			t := time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc)
			return t, m[2] == "*", true
		}
	}

	if parsed, err := time.ParseInLocation("2006-01-02 15:04:05", s, loc); err == nil {
		return parsed, false, true
	}
	return time.Time{}, false, false
}

// closureWindow is one expanded construction window from the planned-closure
// field.
type closureWindow struct {
	start time.Time
	end   time.Time
}

var monthsByAbbr = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// parseClosurePeriod parses the "MMM d, yyyy - MMM d, yyyy, HH:MM - HH:MM"
// planned-closure string. A continuous closure is one window spanning the
// whole period; a non-continuous one repeats the time-of-day window on each
// day. Windows already fully in the past are dropped.
func parseClosurePeriod(period string, continuous bool, now time.Time, loc *time.Location) []closureWindow {
	m := closureRe.FindStringSubmatch(period)
	if m == nil {
		return nil
	}

	startMonth, ok1 := monthsByAbbr[strings.ToUpper(m[1])]
	endMonth, ok2 := monthsByAbbr[strings.ToUpper(m[4])]
	if !ok1 || !ok2 {
		return nil
	}
	startDay, _ := strconv.Atoi(m[2])
	startYear, _ := strconv.Atoi(m[3])
	endDay, _ := strconv.Atoi(m[5])
	endYear, _ := strconv.Atoi(m[6])
	startHour, startMin := splitClock(m[7])
	endHour, endMin := splitClock(m[8])

	if continuous {
		start := time.Date(startYear, startMonth, startDay, startHour, startMin, 0, 0, loc)
		end := time.Date(endYear, endMonth, endDay, endHour, endMin, 0, 0, loc)
		if !end.After(now) {
			return nil
		}
		return []closureWindow{{start: start, end: end}}
	}

	var out []closureWindow
	day := time.Date(startYear, startMonth, startDay, 0, 0, 0, 0, loc)
	last := time.Date(endYear, endMonth, endDay, 0, 0, 0, 0, loc)
	for i := 0; !day.After(last); i++ {
		if i > 365 {
			break // cap runaway ranges from bad upstream data
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), startHour, startMin, 0, 0, loc)
		end := time.Date(day.Year(), day.Month(), day.Day(), endHour, endMin, 0, 0, loc)
		if end.After(now) {
			out = append(out, closureWindow{start: start, end: end})
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func splitClock(s string) (hour, minute int) {
	h, m, _ := strings.Cut(s, ":")
	hour, _ = strconv.Atoi(h)
	minute, _ = strconv.Atoi(m)
	return hour, minute
}
