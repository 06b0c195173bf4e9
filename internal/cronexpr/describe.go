package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// wellKnown maps exact expressions to display phrases. Checked before
// the generic generator so the common cases read naturally.
var wellKnown = map[string]string{
	"* * * * *":    "Every minute",
	"*/5 * * * *":  "Every 5 minutes",
	"*/10 * * * *": "Every 10 minutes",
	"*/15 * * * *": "Every 15 minutes",
	"*/30 * * * *": "Every 30 minutes",
	"0 * * * *":    "Every hour",
	"0 */2 * * *":  "Every 2 hours",
	"0 */6 * * *":  "Every 6 hours",
	"0 */12 * * *": "Every 12 hours",
	"0 0 * * *":    "Daily at midnight",
	"0 9 * * *":    "Daily at 9:00 AM",
	"0 12 * * *":   "Daily at noon",
	"0 9 * * 1-5":  "Weekdays at 9:00 AM",
	"0 0 * * 0":    "Sundays at midnight",
	"0 0 * * 1":    "Mondays at midnight",
	"0 0 1 * *":    "Monthly on the 1st at midnight",
	"0 0 1 1 *":    "Yearly on January 1st at midnight",
}

var monthNames = [13]string{"", "January", "February", "March", "April",
	"May", "June", "July", "August", "September", "October", "November",
	"December"}

var dayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday",
	"Thursday", "Friday", "Saturday"}

// Describe renders a short English phrase for a cron expression. The
// output is informational only and never feeds back into scheduling.
// Invalid expressions are returned unchanged.
func Describe(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return expr
	}
	normalized := strings.Join(fields, " ")
	if phrase, ok := wellKnown[normalized]; ok {
		return phrase
	}
	if _, err := Parse(normalized); err != nil {
		return expr
	}

	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	var b strings.Builder

	// Minute/hour clause.
	switch {
	case minute == "*" && hour == "*":
		b.WriteString("Every minute")
	case strings.HasPrefix(minute, "*/") && hour == "*":
		b.WriteString("Every " + minute[2:] + " minutes")
	case hour == "*":
		b.WriteString("At minute " + minute + " of every hour")
	case strings.HasPrefix(hour, "*/"):
		b.WriteString("At minute " + minute + " of every " + hour[2:] + " hours")
	default:
		b.WriteString("At " + clockPhrase(hour, minute))
	}

	if dom != "*" {
		b.WriteString(" on day " + dom)
	}
	if month != "*" {
		b.WriteString(" in " + numberedList(month, func(n int) string {
			if n >= 1 && n <= 12 {
				return monthNames[n]
			}
			return strconv.Itoa(n)
		}))
	}
	if dow != "*" {
		b.WriteString(" on " + numberedList(dow, func(n int) string {
			if n >= 0 && n <= 6 {
				return dayNames[n]
			}
			return strconv.Itoa(n)
		}))
	}
	return b.String()
}

// clockPhrase renders an hour/minute pair as "9:05 AM" when both are
// plain integers, falling back to raw field text otherwise.
func clockPhrase(hour, minute string) string {
	h, errH := strconv.Atoi(hour)
	m, errM := strconv.Atoi(minute)
	if errH != nil || errM != nil {
		return "minute " + minute + " of hour " + hour
	}
	suffix := "AM"
	display := h
	switch {
	case h == 0:
		display = 12
	case h == 12:
		suffix = "PM"
	case h > 12:
		display = h - 12
		suffix = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", display, m, suffix)
}

// numberedList renders "1,3-5" style field text using name for plain
// integers and keeping ranges/steps as-is with named endpoints.
func numberedList(field string, name func(int) string) string {
	parts := strings.Split(field, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, name(n))
			continue
		}
		if a, b, ok := strings.Cut(p, "-"); ok && !strings.Contains(p, "/") {
			na, errA := strconv.Atoi(a)
			nb, errB := strconv.Atoi(b)
			if errA == nil && errB == nil {
				out = append(out, name(na)+" through "+name(nb))
				continue
			}
		}
		out = append(out, p)
	}
	switch len(out) {
	case 1:
		return out[0]
	case 2:
		return out[0] + " and " + out[1]
	default:
		return strings.Join(out[:len(out)-1], ", ") + " and " + out[len(out)-1]
	}
}
