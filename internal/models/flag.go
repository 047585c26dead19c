package models

import (
	"fmt"
	"sort"
)

// Severity classifies how serious a rule violation is.
// critical > major > minor; lower priority number means higher severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// severityPriority maps each severity to its priority rank.
var severityPriority = map[Severity]int{
	SeverityCritical: 0,
	SeverityMajor:    1,
	SeverityMinor:    2,
}

// Priority returns the severity's priority rank (critical=0, major=1,
// minor=2). Unknown severities rank below minor.
func (s Severity) Priority() int {
	if p, ok := severityPriority[s]; ok {
		return p
	}
	return len(severityPriority)
}

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	_, ok := severityPriority[s]
	return ok
}

// Flag asserts that one record violates one named rule.
// Flags are derived during evaluation and are never written back onto the
// record itself.
type Flag struct {
	Key      Key      `json:"key"`
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
}

// String implements fmt.Stringer.
func (f Flag) String() string {
	return fmt.Sprintf("%s: %s (%s)", f.Key, f.Rule, f.Severity)
}

// FlagSet collects the flags produced by one evaluation pass, keyed by record.
type FlagSet struct {
	byKey map[Key][]Flag
}

// NewFlagSet creates an empty flag collection.
func NewFlagSet() *FlagSet {
	return &FlagSet{byKey: make(map[Key][]Flag)}
}

// Add records a flag. Duplicate (key, rule) pairs are collapsed so running a
// rule twice cannot double-count.
func (fs *FlagSet) Add(flag Flag) {
	for _, existing := range fs.byKey[flag.Key] {
		if existing.Rule == flag.Rule {
			return
		}
	}
	fs.byKey[flag.Key] = append(fs.byKey[flag.Key], flag)
}

// ForKey returns the flags recorded for a record key, sorted by rule name.
func (fs *FlagSet) ForKey(key Key) []Flag {
	flags := make([]Flag, len(fs.byKey[key]))
	copy(flags, fs.byKey[key])
	sort.Slice(flags, func(i, j int) bool { return flags[i].Rule < flags[j].Rule })
	return flags
}

// Keys returns every flagged record key in deterministic (Symbol, Date) order.
func (fs *FlagSet) Keys() []Key {
	keys := make([]Key, 0, len(fs.byKey))
	for key := range fs.byKey {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// All returns every flag sorted by (key, rule) for deterministic output.
func (fs *FlagSet) All() []Flag {
	var flags []Flag
	for _, key := range fs.Keys() {
		flags = append(flags, fs.ForKey(key)...)
	}
	return flags
}

// Len returns the total number of flags.
func (fs *FlagSet) Len() int {
	n := 0
	for _, flags := range fs.byKey {
		n += len(flags)
	}
	return n
}

// CountBySeverity returns the number of flags per severity for one record.
func (fs *FlagSet) CountBySeverity(key Key) map[Severity]int {
	counts := make(map[Severity]int, len(severityPriority))
	for _, flag := range fs.byKey[key] {
		counts[flag.Severity]++
	}
	return counts
}
