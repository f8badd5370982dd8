package reconciler

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

// Bands are the residual thresholds used to grade a reconciliation
type Bands struct {
	OK         decimal.Decimal `json:"ok" mapstructure:"band-ok"`
	Acceptable decimal.Decimal `json:"acceptable" mapstructure:"band-acceptable"`
}

// DefaultBands grade residuals up to 10,00 as OK and up to 10.000,00 as acceptable
func DefaultBands() Bands {
	return Bands{
		OK:         decimal.NewFromInt(10),
		Acceptable: decimal.NewFromInt(10000),
	}
}

// Validate requires 0 <= OK <= Acceptable
func (b Bands) Validate() error {
	if b.OK.IsNegative() || b.Acceptable.IsNegative() || b.OK.GreaterThan(b.Acceptable) {
		return errors.ConfigurationError(errors.CodeInvalidBands, "bands", b.String(), nil)
	}
	return nil
}

func (b Bands) String() string {
	return fmt.Sprintf("ok<=%s acceptable<=%s", b.OK.StringFixed(2), b.Acceptable.StringFixed(2))
}

// Classify grades an absolute residual. A nil residual is NO_RESIDUAL.
func (b Bands) Classify(residual *decimal.Decimal) models.QualityStatus {
	if residual == nil {
		return models.StatusNoResidual
	}
	abs := residual.Abs()
	switch {
	case abs.LessThanOrEqual(b.OK):
		return models.StatusOK
	case abs.LessThanOrEqual(b.Acceptable):
		return models.StatusAcceptable
	default:
		return models.StatusPoor
	}
}

// Grade sets Status and Signal on a result
func (b Bands) Grade(r *models.ReconciliationResult) {
	switch {
	case r.State == models.StateNoTarget:
		r.Status = models.StatusNoTarget
	case r.TotalsMismatch != nil:
		r.Status = models.StatusExtractionMismatch
	default:
		r.Status = b.Classify(r.ResidualError)
	}
	r.Signal = r.Status.Signal()
}
