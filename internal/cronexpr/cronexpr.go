// Package cronexpr parses 5-field cron expressions and computes firing
// instants in an IANA timezone.
//
// The accepted grammar is deliberately strict: minute hour day-of-month
// month day-of-week, where each field is "*", an integer, a range "a-b",
// a step "*/n" or "a-b/n", or a comma list of those. No name aliases
// (Sunday is 0, never "SUN"), no "@" macros, no second or year fields.
package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldDef describes one of the five cron fields.
type fieldDef struct {
	name string
	min  int
	max  int
}

var fieldDefs = [5]fieldDef{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Expr is a parsed cron expression. Fields are bitsets indexed by value.
type Expr struct {
	text string

	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64

	// Restricted flags drive the standard day-of-month/day-of-week union
	// rule: when both are restricted the fire condition is their OR.
	domRestricted bool
	dowRestricted bool
}

// String returns the original expression text.
func (e *Expr) String() string { return e.text }

// Parse validates a cron expression against the strict 5-field grammar.
func Parse(expr string) (*Expr, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	e := &Expr{text: expr}
	dst := [5]*uint64{&e.minute, &e.hour, &e.dom, &e.month, &e.dow}
	for i, raw := range fields {
		bits, restricted, err := parseField(raw, fieldDefs[i])
		if err != nil {
			return nil, fmt.Errorf("%s field %q: %w", fieldDefs[i].name, raw, err)
		}
		*dst[i] = bits
		switch i {
		case 2:
			e.domRestricted = restricted
		case 4:
			e.dowRestricted = restricted
		}
	}
	return e, nil
}

// parseField parses one comma-separated field into a bitset.
// restricted is false only when the field is a plain "*".
func parseField(raw string, def fieldDef) (bits uint64, restricted bool, err error) {
	if raw == "*" {
		return allBits(def), false, nil
	}
	for _, part := range strings.Split(raw, ",") {
		if part == "" {
			return 0, false, fmt.Errorf("empty list element")
		}
		b, err := parsePart(part, def)
		if err != nil {
			return 0, false, err
		}
		bits |= b
	}
	return bits, true, nil
}

// parsePart parses a single "*", "n", "a-b", "*/n" or "a-b/n" element.
func parsePart(part string, def fieldDef) (uint64, error) {
	step := 1
	if base, stepStr, ok := strings.Cut(part, "/"); ok {
		n, err := strconv.Atoi(stepStr)
		if err != nil {
			return 0, fmt.Errorf("invalid step %q", stepStr)
		}
		if n < 1 || n > def.max {
			return 0, fmt.Errorf("step %d out of range 1-%d", n, def.max)
		}
		step = n
		part = base
		// A step requires a "*" or range base; a bare integer base
		// ("5/2") is not part of the grammar.
		if part != "*" && !strings.Contains(part, "-") {
			return 0, fmt.Errorf("step requires \"*\" or range base")
		}
	}

	lo, hi := def.min, def.max
	switch {
	case part == "*":
		// full range
	case strings.Contains(part, "-"):
		a, b, _ := strings.Cut(part, "-")
		var err error
		if lo, err = parseValue(a, def); err != nil {
			return 0, err
		}
		if hi, err = parseValue(b, def); err != nil {
			return 0, err
		}
		if lo >= hi {
			return 0, fmt.Errorf("range %d-%d is not ascending", lo, hi)
		}
	default:
		v, err := parseValue(part, def)
		if err != nil {
			return 0, err
		}
		lo, hi = v, v
	}

	var bits uint64
	for v := lo; v <= hi; v += step {
		bits |= 1 << uint(v)
	}
	return bits, nil
}

func parseValue(s string, def fieldDef) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < def.min || v > def.max {
		return 0, fmt.Errorf("value %d out of range %d-%d", v, def.min, def.max)
	}
	return v, nil
}

func allBits(def fieldDef) uint64 {
	var bits uint64
	for v := def.min; v <= def.max; v++ {
		bits |= 1 << uint(v)
	}
	return bits
}

func bitSet(bits uint64, v int) bool {
	return bits&(1<<uint(v)) != 0
}
