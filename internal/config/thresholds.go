// Package config provides configuration for the quality engine: the mutable
// threshold store consumed by rules and the application configuration loaded
// from file and environment.
package config

import (
	"sync"

	"github.com/johnayoung/go-futures-quality/internal/models"
)

// Threshold parameter names. Every tunable a rule reads is registered here;
// access to any other name is a ConfigKeyError.
const (
	KeyVolumeFactor        = "volume_factor"
	KeyPctChangeThreshold  = "pct_change_threshold"
	KeyIQRMultiplier       = "iqr_multiplier"
	KeyFlatPriceMinVolume  = "flat_price_min_volume"
	KeySpikeFactor         = "spike_factor"
	KeyDiscontinuedGapDays = "discontinued_gap_days"
	KeyMaxFfillGapDays     = "max_ffill_gap_days"
)

// defaultThresholds holds the documented defaults for every parameter.
func defaultThresholds() map[string]float64 {
	return map[string]float64{
		KeyVolumeFactor:        10.0,
		KeyPctChangeThreshold:  0.5,
		KeyIQRMultiplier:       3.0,
		KeyFlatPriceMinVolume:  1.0,
		KeySpikeFactor:         10.0,
		KeyDiscontinuedGapDays: 20,
		KeyMaxFfillGapDays:     3,
	}
}

// Thresholds is the process-wide store of named numeric rule parameters.
// It is mutable between evaluation passes; rules consume only the immutable
// Snapshot taken at the start of a pass, so every rule in one pass sees
// identical configuration even under concurrent updates.
type Thresholds struct {
	mu     sync.RWMutex
	values map[string]float64
}

// NewThresholds creates a threshold store populated with the defaults.
func NewThresholds() *Thresholds {
	return &Thresholds{values: defaultThresholds()}
}

// Get returns the value for a registered parameter.
func (t *Thresholds) Get(name string) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	value, ok := t.values[name]
	if !ok {
		return 0, &models.ConfigKeyError{Key: name}
	}
	return value, nil
}

// Set updates a registered parameter. Setting an unregistered name is a
// caller bug and fails with ConfigKeyError rather than silently growing the
// parameter space.
func (t *Thresholds) Set(name string, value float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.values[name]; !ok {
		return &models.ConfigKeyError{Key: name}
	}
	t.values[name] = value
	return nil
}

// Snapshot returns an immutable copy of the current parameter mapping.
func (t *Thresholds) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	values := make(map[string]float64, len(t.values))
	for name, value := range t.values {
		values[name] = value
	}
	return Snapshot{values: values}
}

// Snapshot is a frozen view of the threshold parameters. Snapshots are
// immutable once taken, so rule evaluation needs no locking.
type Snapshot struct {
	values map[string]float64
}

// Get returns the value for a registered parameter.
func (s Snapshot) Get(name string) (float64, error) {
	value, ok := s.values[name]
	if !ok {
		return 0, &models.ConfigKeyError{Key: name}
	}
	return value, nil
}

// MustGet returns the value for a parameter that is guaranteed registered.
// It panics on unknown names; rule descriptors declare their required keys so
// the registry validates them before evaluation ever runs.
func (s Snapshot) MustGet(name string) float64 {
	value, err := s.Get(name)
	if err != nil {
		panic(err)
	}
	return value
}

// Names returns the registered parameter names.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	return names
}
