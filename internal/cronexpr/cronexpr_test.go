package cronexpr

import (
	"testing"
	"time"
)

func TestParseAccepts(t *testing.T) {
	valid := []string{
		"* * * * *",
		"0 0 * * *",
		"*/5 * * * *",
		"0-30/5 9-17 * * 1-5",
		"0,15,30,45 * * * *",
		"30 2 1,15 1-6 *",
		"0 9 * * 0",
		"59 23 31 12 6",
	}
	for _, expr := range valid {
		if _, err := Parse(expr); err != nil {
			t.Errorf("Parse(%q) rejected valid expression: %v", expr, err)
		}
	}
}

func TestParseRejects(t *testing.T) {
	invalid := []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * 32 * *",
		"* * * 13 *",
		"* * * * 7",
		"* * * * SUN",
		"@daily",
		"5-3 * * * *",
		"5-5 * * * *",
		"*/0 * * * *",
		"5/2 * * * *",
		"*/99 * * * *",
		"1,,2 * * * *",
		"1- * * * *",
	}
	for _, expr := range invalid {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q) accepted invalid expression", expr)
		}
	}
}

func TestNextEveryMinute(t *testing.T) {
	e := mustParse(t, "* * * * *")
	at := time.Date(2025, 6, 1, 10, 30, 25, 0, time.UTC)
	next := e.Next(at, time.UTC)
	want := time.Date(2025, 6, 1, 10, 31, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextStrictlyAfter(t *testing.T) {
	e := mustParse(t, "30 10 * * *")
	at := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	next := e.Next(at, time.UTC)
	want := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next from exact match = %v, want next day %v", next, want)
	}
}

func TestNextWeekdayMornings(t *testing.T) {
	e := mustParse(t, "0 9 * * 1-5")
	// Friday afternoon rolls to Monday morning.
	at := time.Date(2025, 6, 6, 15, 0, 0, 0, time.UTC) // Friday
	next := e.Next(at, time.UTC)
	want := time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC) // Monday
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextDayOfMonthDayOfWeekUnion(t *testing.T) {
	// Both restricted: fires on the 15th OR on Sundays.
	e := mustParse(t, "0 0 15 * 0")
	at := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) // Monday June 2
	next := e.Next(at, time.UTC)
	want := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC) // Sunday before the 15th
	if !next.Equal(want) {
		t.Fatalf("union next = %v, want %v", next, want)
	}
	next = e.Next(next, time.UTC)
	want = time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("union second next = %v, want %v", next, want)
	}
}

func TestNextOnlyDayOfWeekRestricted(t *testing.T) {
	// dom "*" is unrestricted, so dow alone governs.
	e := mustParse(t, "0 0 * * 0")
	at := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	next := e.Next(at, time.UTC)
	want := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextMonthRollover(t *testing.T) {
	e := mustParse(t, "0 0 1 * *")
	at := time.Date(2025, 1, 31, 23, 59, 0, 0, time.UTC)
	next := e.Next(at, time.UTC)
	want := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextImpossibleExpression(t *testing.T) {
	e := mustParse(t, "0 0 30 2 *")
	next := e.Next(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	if !next.IsZero() {
		t.Fatalf("expected zero time for Feb 30, got %v", next)
	}
}

func TestNextSpringForwardGap(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2:30 AM does not exist on 2025-03-09 in New York; the fire is
	// pushed to the end of the gap (3:00 AM EDT).
	e := mustParse(t, "30 2 * * *")
	at := time.Date(2025, 3, 9, 0, 0, 0, 0, loc)
	next := e.Next(at, loc)
	want := time.Date(2025, 3, 9, 3, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("spring-forward next = %v, want %v", next, want)
	}
	// The following day is back to the plain wall clock.
	next = e.Next(next, loc)
	want = time.Date(2025, 3, 10, 2, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("post-gap next = %v, want %v", next, want)
	}
}

func TestNextFallBackFirstOccurrence(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 1:30 AM happens twice on 2025-11-02; the job fires once, at the
	// first (EDT) occurrence.
	e := mustParse(t, "30 1 * * *")
	at := time.Date(2025, 11, 2, 0, 0, 0, 0, loc)
	first := e.Next(at, loc)
	if got := first.UTC().Hour(); got != 5 { // 1:30 EDT == 5:30 UTC
		t.Fatalf("fall-back fire at %v (UTC hour %d), want first occurrence 5:30 UTC", first, got)
	}
	// The next fire is the next day, not the repeated hour.
	second := e.Next(first, loc)
	if second.Sub(first) < 23*time.Hour {
		t.Fatalf("second fire %v only %v after first %v; repeated hour fired twice", second, second.Sub(first), first)
	}
}

func TestNextTimezoneWallClock(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	e := mustParse(t, "0 9 * * *")
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) // 09:00 JST already past
	next := e.Next(at, loc)
	want := time.Date(2025, 6, 2, 9, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

// TestNextNoEarlierMatch samples expressions and verifies that no minute
// strictly between t and Next(t) also satisfies the expression.
func TestNextNoEarlierMatch(t *testing.T) {
	exprs := []string{
		"*/7 * * * *",
		"15 */3 * * *",
		"0 6 * * 2,4",
		"30 12 10-20 * *",
	}
	start := time.Date(2025, 5, 15, 11, 7, 0, 0, time.UTC)
	for _, raw := range exprs {
		e := mustParse(t, raw)
		next := e.Next(start, time.UTC)
		if next.IsZero() {
			t.Fatalf("%q: no next fire", raw)
		}
		if !matchesAt(e, next) {
			t.Fatalf("%q: next %v does not satisfy expression", raw, next)
		}
		for cur := start.Truncate(time.Minute).Add(time.Minute); cur.Before(next); cur = cur.Add(time.Minute) {
			if matchesAt(e, cur) {
				t.Fatalf("%q: %v matches before reported next %v", raw, cur, next)
			}
		}
	}
}

func matchesAt(e *Expr, t time.Time) bool {
	if !bitSet(e.minute, t.Minute()) || !bitSet(e.hour, t.Hour()) || !bitSet(e.month, int(t.Month())) {
		return false
	}
	return e.dayMatches(t.Year(), t.Month(), t.Day())
}

func mustParse(t *testing.T, expr string) *Expr {
	t.Helper()
	e, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	return e
}
