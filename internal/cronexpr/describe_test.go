package cronexpr

import "testing"

func TestDescribeWellKnown(t *testing.T) {
	cases := map[string]string{
		"* * * * *":   "Every minute",
		"*/5 * * * *": "Every 5 minutes",
		"0 * * * *":   "Every hour",
		"0 0 * * *":   "Daily at midnight",
		"0 9 * * 1-5": "Weekdays at 9:00 AM",
		"0 0 1 * *":   "Monthly on the 1st at midnight",
	}
	for expr, want := range cases {
		if got := Describe(expr); got != want {
			t.Errorf("Describe(%q) = %q, want %q", expr, got, want)
		}
	}
}

func TestDescribeGenerated(t *testing.T) {
	cases := map[string]string{
		"15 14 * * *":    "At 2:15 PM",
		"30 */4 * * *":   "At minute 30 of every 4 hours",
		"5 * * * *":      "At minute 5 of every hour",
		"0 8 1 * *":      "At 8:00 AM on day 1",
		"0 0 * 1 *":      "At 12:00 AM in January",
		"0 18 * * 1,3,5": "At 6:00 PM on Monday, Wednesday and Friday",
		"0 7 * 6-8 0":    "At 7:00 AM in June through August on Sunday",
	}
	for expr, want := range cases {
		if got := Describe(expr); got != want {
			t.Errorf("Describe(%q) = %q, want %q", expr, got, want)
		}
	}
}

func TestDescribeInvalidPassthrough(t *testing.T) {
	for _, expr := range []string{"not a cron", "61 * * * *", "@daily"} {
		if got := Describe(expr); got != expr {
			t.Errorf("Describe(%q) = %q, want passthrough", expr, got)
		}
	}
}

func TestDescribeWhitespaceTolerant(t *testing.T) {
	if got := Describe("0   0  *  *  *"); got != "Daily at midnight" {
		t.Errorf("Describe with extra spaces = %q", got)
	}
}
