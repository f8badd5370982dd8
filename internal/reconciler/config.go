package reconciler

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/subsetsum"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

// PoolPolicy decides which candidates make it into a bounded search pool
type PoolPolicy string

const (
	// PoolByMagnitude keeps the largest values
	PoolByMagnitude PoolPolicy = "magnitude"
	// PoolByRecurrence keeps the rubrics returned most often in earlier
	// periods, then the largest values
	PoolByRecurrence PoolPolicy = "recurrence"
)

// ParsePoolPolicy accepts "magnitude" or "recurrence"
func ParsePoolPolicy(s string) (PoolPolicy, error) {
	switch PoolPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PoolByMagnitude:
		return PoolByMagnitude, nil
	case PoolByRecurrence:
		return PoolByRecurrence, nil
	}
	return "", fmt.Errorf("unknown pool policy %q", s)
}

// Config holds configuration for the reconciliation service
type Config struct {
	PoolLimit  int        `json:"pool_limit" mapstructure:"pool-limit"`
	PoolPolicy PoolPolicy `json:"pool_policy" mapstructure:"pool-policy"`

	// EligibleOrigins lists the buckets whose items may be returned into
	// the base; empty means every bucket
	EligibleOrigins []models.Origin `json:"eligible_origins" mapstructure:"eligible-origins"`

	// ExcludedOrigins are subtracted from the known total to get the current base
	ExcludedOrigins []models.Origin `json:"excluded_origins" mapstructure:"excluded-origins"`

	Bands Bands `json:"bands"`

	ExplainMaxItems  int             `json:"explain_max_items" mapstructure:"explain-max-items"`
	ExplainTolerance decimal.Decimal `json:"explain_tolerance" mapstructure:"explain-tolerance"`

	// InconsistencyTolerance is how far the earnings items may drift from
	// the stated earnings total before the extraction is flagged
	InconsistencyTolerance decimal.Decimal `json:"inconsistency_tolerance" mapstructure:"inconsistency-tolerance"`

	Workers int `json:"workers" mapstructure:"workers"`
}

// DefaultConfig returns the settings used by the original audit spreadsheets
func DefaultConfig() *Config {
	return &Config{
		PoolLimit:              subsetsum.DefaultPoolLimit,
		PoolPolicy:             PoolByMagnitude,
		EligibleOrigins:        []models.Origin{models.OriginExcluded, models.OriginAmbiguous},
		ExcludedOrigins:        []models.Origin{models.OriginExcluded, models.OriginAmbiguous},
		Bands:                  DefaultBands(),
		ExplainMaxItems:        subsetsum.DefaultExplainItems,
		ExplainTolerance:       decimal.RequireFromString("10.00"),
		InconsistencyTolerance: decimal.RequireFromString("1.00"),
		Workers:                runtime.NumCPU(),
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := subsetsum.ValidatePoolLimit(c.PoolLimit); err != nil {
		return err
	}
	if _, err := ParsePoolPolicy(string(c.PoolPolicy)); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "pool_policy", c.PoolPolicy, err).
			WithSuggestion("use 'magnitude' or 'recurrence'")
	}
	for _, o := range append(append([]models.Origin{}, c.EligibleOrigins...), c.ExcludedOrigins...) {
		if !o.IsValid() {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "origins", o, nil).
				WithSuggestion("origins must be ENTRA, NEUTRA or FORA")
		}
	}
	if err := c.Bands.Validate(); err != nil {
		return err
	}
	if c.ExplainMaxItems < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "explain_max_items", c.ExplainMaxItems, nil)
	}
	if c.ExplainTolerance.IsNegative() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "explain_tolerance", c.ExplainTolerance, nil)
	}
	if c.InconsistencyTolerance.IsNegative() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "inconsistency_tolerance", c.InconsistencyTolerance, nil)
	}
	if c.Workers < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "workers", c.Workers, nil).
			WithSuggestion("use at least one worker")
	}
	return nil
}

// EffectivePoolLimit resolves the 0 default
func (c *Config) EffectivePoolLimit() int {
	if c.PoolLimit == 0 {
		return subsetsum.DefaultPoolLimit
	}
	return c.PoolLimit
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	clone.EligibleOrigins = append([]models.Origin(nil), c.EligibleOrigins...)
	clone.ExcludedOrigins = append([]models.Origin(nil), c.ExcludedOrigins...)
	return &clone
}

func (c *Config) String() string {
	return fmt.Sprintf("pool=%d policy=%s eligible=%v bands=%s workers=%d",
		c.PoolLimit, c.PoolPolicy, c.EligibleOrigins, c.Bands, c.Workers)
}

func containsOrigin(set []models.Origin, o models.Origin) bool {
	for _, s := range set {
		if s == o {
			return true
		}
	}
	return false
}
