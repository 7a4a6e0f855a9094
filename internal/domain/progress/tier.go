package progress

import (
	"fmt"

	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
)

// Threshold is one entry of a tier or streak table.
type Threshold struct {
	Minimum    int64  `yaml:"minimum" json:"minimum"`
	Identifier string `yaml:"identifier" json:"identifier"`
}

// ThresholdTable is ordered by strictly increasing Minimum.
type ThresholdTable []Threshold

// Validate checks the table is usable by the classifiers.
func (t ThresholdTable) Validate() error {
	if len(t) == 0 {
		return shared.NewDomainError("progress", "Validate", shared.ErrEmptyThresholdTable,
			"threshold table is empty")
	}
	seen := make(map[string]struct{}, len(t))
	for i, th := range t {
		if th.Identifier == "" {
			return shared.NewDomainError("progress", "Validate", shared.ErrInvalidThresholdTable,
				fmt.Sprintf("entry %d has no identifier", i))
		}
		if th.Minimum < 0 {
			return shared.NewDomainError("progress", "Validate", shared.ErrInvalidThresholdTable,
				fmt.Sprintf("entry %q has negative minimum", th.Identifier))
		}
		if _, dup := seen[th.Identifier]; dup {
			return shared.NewDomainError("progress", "Validate", shared.ErrInvalidThresholdTable,
				fmt.Sprintf("identifier %q is used twice", th.Identifier))
		}
		seen[th.Identifier] = struct{}{}
		if i > 0 && th.Minimum <= t[i-1].Minimum {
			return shared.NewDomainError("progress", "Validate", shared.ErrInvalidThresholdTable,
				fmt.Sprintf("minimum of %q must be greater than %d", th.Identifier, t[i-1].Minimum))
		}
	}
	return nil
}

// classify returns the highest threshold whose minimum does not exceed value.
func (t ThresholdTable) classify(op string, value int64) (Level, error) {
	if len(t) == 0 {
		return Untiered, shared.NewDomainError("progress", op, shared.ErrEmptyThresholdTable,
			"threshold table is empty")
	}
	level := Untiered
	for _, th := range t {
		if th.Minimum > value {
			break
		}
		level = Level{Identifier: th.Identifier, Minimum: th.Minimum}
	}
	return level, nil
}

// ClassifyTier selects the tier for a lifetime total of practice minutes.
func ClassifyTier(lifetimeMinutes int64, table ThresholdTable) (Level, error) {
	return table.classify("ClassifyTier", lifetimeMinutes)
}
