package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reconciler"
)

// Run is one persisted batch
type Run struct {
	ID         string        `json:"id"`
	CreatedAt  time.Time     `json:"created_at"`
	Source     string        `json:"source"`
	PoolLimit  int           `json:"pool_limit"`
	PoolPolicy string        `json:"pool_policy"`
	Groups     int           `json:"groups"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
	// Results is only loaded by GetRun
	Results []*models.ReconciliationResult `json:"results,omitempty"`
}

// NewRun prepares a batch for SaveRun with a fresh id
func NewRun(source string, cfg *reconciler.Config, batch *reconciler.BatchResult) *Run {
	run := &Run{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Source:    source,
	}
	if cfg != nil {
		run.PoolLimit = cfg.PoolLimit
		run.PoolPolicy = string(cfg.PoolPolicy)
	}
	if batch != nil {
		run.Results = batch.Results
		run.Groups = len(batch.Results)
		run.Failed = len(batch.Errors)
		run.Duration = batch.Duration
	}
	return run
}

// ReturnedItem is one candidate returned into the base in a stored run
type ReturnedItem struct {
	RunID     string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Source    string          `json:"source"`
	Period    string          `json:"period"`
	Segment   models.Segment  `json:"segment"`
	Label     string          `json:"label"`
	Value     decimal.Decimal `json:"value"`
	Origin    models.Origin   `json:"origin"`
}
