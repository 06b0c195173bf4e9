package db

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/nextlevelbuilder/cronmaster/internal/cronexpr"
	"github.com/nextlevelbuilder/cronmaster/internal/store"
)

const (
	maxNameLen = 100
	maxDescLen = 500
	maxBodyLen = 10000
)

// normalizeSpec trims and defaults a job spec in place before
// validation.
func normalizeSpec(spec *store.JobSpec) {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Method = strings.ToUpper(strings.TrimSpace(spec.Method))
	spec.CronExpr = strings.TrimSpace(spec.CronExpr)
	if spec.Timezone == "" {
		spec.Timezone = "UTC"
	}
}

// validateSpec rejects a job spec with a field-level ValidationError.
// The cron expression must pass the live parser; nothing schedules an
// unparsed expression.
func validateSpec(spec *store.JobSpec) error {
	if spec.Name == "" || len(spec.Name) > maxNameLen {
		return store.Invalid("name", "must be 1-%d characters", maxNameLen)
	}
	if spec.Description != nil && len(*spec.Description) > maxDescLen {
		return store.Invalid("description", "must be at most %d characters", maxDescLen)
	}
	if err := validateURL(spec.URL); err != nil {
		return err
	}
	if !slices.Contains(store.AllowedMethods, spec.Method) {
		return store.Invalid("method", "must be one of %s", strings.Join(store.AllowedMethods, ", "))
	}
	if spec.Body != nil && len(*spec.Body) > maxBodyLen {
		return store.Invalid("body", "must be at most %d characters", maxBodyLen)
	}
	if _, err := cronexpr.Parse(spec.CronExpr); err != nil {
		return store.Invalid("cron_expression", "%v", err)
	}
	if _, err := time.LoadLocation(spec.Timezone); err != nil {
		return store.Invalid("timezone", "unknown IANA timezone %q", spec.Timezone)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return store.Invalid("url", "%v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return store.Invalid("url", "scheme must be http or https")
	}
	if u.Host == "" {
		return store.Invalid("url", "missing host")
	}
	return nil
}

// nextFire computes the next firing instant for a stored (already
// validated) cron expression and timezone. A zero Time means the
// expression can never fire again within the search window.
func nextFire(expr, tz string, after time.Time) time.Time {
	e, err := cronexpr.Parse(expr)
	if err != nil {
		return time.Time{}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	next := e.Next(after, loc)
	if next.IsZero() {
		return next
	}
	return next.UTC()
}
