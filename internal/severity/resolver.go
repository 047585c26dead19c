// Package severity resolves the flags on a record to one effective severity.
//
// Priority order is critical=0, major=1, minor=2 (lower value = higher
// severity); the effective severity of a record is the minimum priority value
// among its flags. Per-rule defaults can be remapped at runtime; a remap
// takes effect on the next evaluation pass, never retroactively on flags
// already produced.
package severity

import (
	"fmt"
	"sync"

	"github.com/johnayoung/go-futures-quality/internal/models"
)

// Resolver maps rule names to severities and resolves multi-flag records.
type Resolver struct {
	mu        sync.RWMutex
	defaults  map[string]models.Severity
	overrides map[string]models.Severity
}

// NewResolver creates a resolver seeded with per-rule default severities.
func NewResolver(defaults map[string]models.Severity) *Resolver {
	copied := make(map[string]models.Severity, len(defaults))
	for name, sev := range defaults {
		copied[name] = sev
	}
	return &Resolver{
		defaults:  copied,
		overrides: make(map[string]models.Severity),
	}
}

// Override replaces a rule's severity for subsequent evaluation passes.
func (r *Resolver) Override(rule string, sev models.Severity) error {
	if !sev.Valid() {
		return fmt.Errorf("invalid severity %q for rule %q", sev, rule)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.defaults[rule]; !ok {
		return fmt.Errorf("unknown rule %q", rule)
	}
	r.overrides[rule] = sev
	return nil
}

// ClearOverrides restores all rules to their default severities.
func (r *Resolver) ClearOverrides() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = make(map[string]models.Severity)
}

// SeverityFor returns the current severity for a rule, honoring overrides.
func (r *Resolver) SeverityFor(rule string) (models.Severity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sev, ok := r.overrides[rule]; ok {
		return sev, true
	}
	sev, ok := r.defaults[rule]
	return sev, ok
}

// Mapping returns a frozen rule-to-severity map for one evaluation pass, so
// every flag produced in the pass uses a consistent view even if overrides
// change concurrently.
func (r *Resolver) Mapping() map[string]models.Severity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mapping := make(map[string]models.Severity, len(r.defaults))
	for rule, sev := range r.defaults {
		mapping[rule] = sev
	}
	for rule, sev := range r.overrides {
		mapping[rule] = sev
	}
	return mapping
}

// Resolve returns the effective severity for one record's flags: the highest
// severity (minimum priority value) present. The second return is false when
// the record carries no flags.
func Resolve(flags []models.Flag) (models.Severity, bool) {
	ok := false
	var effective models.Severity
	for _, flag := range flags {
		if !ok || flag.Severity.Priority() < effective.Priority() {
			effective = flag.Severity
			ok = true
		}
	}
	return effective, ok
}
