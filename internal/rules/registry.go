// Package rules provides the data-quality rule catalogue and registry.
//
// Each rule is a pure, stateless predicate over an immutable dataset and a
// frozen configuration snapshot, producing the set of offending record keys.
// Rules are independent and order-insensitive: running any subset in any
// order yields the same per-rule offending sets.
package rules

import (
	"fmt"
	"sort"

	"github.com/johnayoung/go-futures-quality/internal/config"
	"github.com/johnayoung/go-futures-quality/internal/models"
)

// Rule names. Calendar-derived flags (missing_date, discontinued_series) are
// produced by the gap analyzer, not this registry, but share the severity
// namespace.
const (
	RuleDuplicateKey    = "duplicate_key"
	RuleOHLCRange       = "ohlc_range"
	RuleStagnantPrice   = "stagnant_price"
	RuleFlatPriceVolume = "flat_price_volume"
	RuleZeroVolumeMove  = "zero_volume_move"
	RuleExtremeVolume   = "extreme_volume"
	RulePriceJump       = "price_jump"
	RuleIQROutlier      = "iqr_outlier"
	RuleNegativeValue   = "negative_value"
	RuleOpenInterest    = "open_interest"
	RuleSchema          = "schema"

	RuleMissingDate        = "missing_date"
	RuleDiscontinuedSeries = "discontinued_series"
)

// Predicate evaluates one rule against a dataset. It must not mutate the
// dataset and must not retain the snapshot beyond the call.
type Predicate func(ds *models.Dataset, cfg config.Snapshot) ([]models.Key, error)

// Definition describes one registered rule: its predicate, default severity,
// human description, and the threshold keys it reads.
type Definition struct {
	Name            string
	Description     string
	DefaultSeverity models.Severity
	RequiredKeys    []string
	Predicate       Predicate
}

// Registry holds the rule catalogue. It is constructed once at startup from a
// fixed list of descriptors; registration is explicit, never via package
// globals.
type Registry struct {
	byName map[string]Definition
}

// NewRegistry builds a registry containing the full rule catalogue.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Definition)}

	catalogue := []Definition{
		{
			Name:            RuleSchema,
			Description:     "required columns present with expected numeric types",
			DefaultSeverity: models.SeverityCritical,
			Predicate:       checkSchema,
		},
		{
			Name:            RuleDuplicateKey,
			Description:     "(Date, Symbol) key appears more than once",
			DefaultSeverity: models.SeverityCritical,
			Predicate:       checkDuplicateKeys,
		},
		{
			Name:            RuleOHLCRange,
			Description:     "High < Low, or Open/Close outside [Low, High]",
			DefaultSeverity: models.SeverityCritical,
			Predicate:       checkOHLCRange,
		},
		{
			Name:            RuleNegativeValue,
			Description:     "negative numeric field",
			DefaultSeverity: models.SeverityCritical,
			Predicate:       checkNegativeValues,
		},
		{
			Name:            RuleStagnantPrice,
			Description:     "flat OHLC with zero volume",
			DefaultSeverity: models.SeverityMinor,
			Predicate:       checkStagnantPrice,
		},
		{
			Name:            RuleFlatPriceVolume,
			Description:     "flat OHLC with traded volume",
			DefaultSeverity: models.SeverityMajor,
			RequiredKeys:    []string{config.KeyFlatPriceMinVolume},
			Predicate:       checkFlatPriceVolume,
		},
		{
			Name:            RuleZeroVolumeMove,
			Description:     "close moved on zero volume",
			DefaultSeverity: models.SeverityMajor,
			Predicate:       checkZeroVolumeMove,
		},
		{
			Name:            RuleExtremeVolume,
			Description:     "volume above factor times symbol median",
			DefaultSeverity: models.SeverityMajor,
			RequiredKeys:    []string{config.KeyVolumeFactor},
			Predicate:       checkExtremeVolume,
		},
		{
			Name:            RulePriceJump,
			Description:     "day-over-day close change above threshold",
			DefaultSeverity: models.SeverityMajor,
			RequiredKeys:    []string{config.KeyPctChangeThreshold},
			Predicate:       checkPriceJump,
		},
		{
			Name:            RuleIQROutlier,
			Description:     "close outside IQR bounds for the symbol",
			DefaultSeverity: models.SeverityMinor,
			RequiredKeys:    []string{config.KeyIQRMultiplier},
			Predicate:       checkIQROutlier,
		},
		{
			Name:            RuleOpenInterest,
			Description:     "negative or spiking open interest",
			DefaultSeverity: models.SeverityMajor,
			RequiredKeys:    []string{config.KeySpikeFactor},
			Predicate:       checkOpenInterest,
		},
	}

	for _, def := range catalogue {
		// The catalogue is fixed; a duplicate name here is a programming error.
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a rule definition. Rule names must be unique.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if def.Predicate == nil {
		return fmt.Errorf("rule %q has no predicate", def.Name)
	}
	if !def.DefaultSeverity.Valid() {
		return fmt.Errorf("rule %q has invalid default severity %q", def.Name, def.DefaultSeverity)
	}
	if _, exists := r.byName[def.Name]; exists {
		return fmt.Errorf("rule %q is already registered", def.Name)
	}
	r.byName[def.Name] = def
	return nil
}

// Get returns a rule definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// Definitions returns all registered rules sorted by name.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.byName))
	for _, def := range r.byName {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns all registered rule names sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateSnapshot checks that every threshold key required by a registered
// rule exists in the snapshot, so missing configuration fails the pass before
// any rule runs.
func (r *Registry) ValidateSnapshot(cfg config.Snapshot) error {
	for _, def := range r.Definitions() {
		for _, key := range def.RequiredKeys {
			if _, err := cfg.Get(key); err != nil {
				return fmt.Errorf("rule %q: %w", def.Name, err)
			}
		}
	}
	return nil
}

// DefaultSeverities returns the per-rule default severity map, including the
// calendar-derived rules, for seeding the severity resolver.
func (r *Registry) DefaultSeverities() map[string]models.Severity {
	severities := make(map[string]models.Severity, len(r.byName)+2)
	for name, def := range r.byName {
		severities[name] = def.DefaultSeverity
	}
	severities[RuleMissingDate] = models.SeverityMinor
	severities[RuleDiscontinuedSeries] = models.SeverityMinor
	return severities
}
