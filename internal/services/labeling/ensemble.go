package labeling

import (
	"fmt"

	"FinSignal/internal/domain/models"
)

// Ensemble combines strategy outputs by majority vote. Ties go to the direction
// encountered first in outputs order.
func Ensemble(outputs []models.StrategyOutput) (*models.EnsembleLabel, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("ensemble of zero strategies: %w", models.ErrInvalidConfiguration)
	}

	votes := make(map[models.LabelDirection]int, 3)
	order := make([]models.LabelDirection, 0, 3)
	for _, o := range outputs {
		if _, seen := votes[o.Direction]; !seen {
			order = append(order, o.Direction)
		}
		votes[o.Direction]++
	}

	winner := order[0]
	for _, d := range order[1:] {
		if votes[d] > votes[winner] {
			winner = d
		}
	}

	var sum float64
	for _, o := range outputs {
		if o.Direction == winner {
			sum += o.Magnitude
		}
	}

	copied := make([]models.StrategyOutput, len(outputs))
	copy(copied, outputs)

	return &models.EnsembleLabel{
		Direction:  winner,
		Magnitude:  sum / float64(votes[winner]),
		Confidence: float64(votes[winner]) / float64(len(outputs)),
		Votes:      votes,
		Outputs:    copied,
	}, nil
}

// Label runs the strategies and ensembles them in one step.
func Label(list []models.LabelStrategy, in Input, th Thresholds) (*models.EnsembleLabel, error) {
	outputs, err := ApplyAll(list, in, th)
	if err != nil {
		return nil, err
	}
	return Ensemble(outputs)
}
