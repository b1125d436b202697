package labeling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
)

func snap(rule models.Action, score float64) *models.SignalSnapshot {
	return &models.SignalSnapshot{Symbol: "BTC", Interval: "1h", SignalRule: rule, SignalScore: score}
}

func TestApply_Strategies(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name     string
		strategy models.LabelStrategy
		current  float64
		future   float64
		snap     *models.SignalSnapshot
		want     models.LabelDirection
	}{
		{"basic up", models.StrategyBasic, 100, 101, nil, models.DirectionUp},
		{"basic down", models.StrategyBasic, 100, 99, nil, models.DirectionDown},
		{"basic sideways inside band", models.StrategyBasic, 100, 100.4, nil, models.DirectionSideways},
		{"breakout ignores small move", models.StrategyBreakout, 100, 101.5, nil, models.DirectionSideways},
		{"breakout up", models.StrategyBreakout, 100, 103, nil, models.DirectionUp},
		{"breakout down", models.StrategyBreakout, 100, 97, nil, models.DirectionDown},
		{"mean reversion after failed buy", models.StrategyMeanReversion, 100, 98, snap(models.ActionBuy, 1.2), models.DirectionUp},
		{"mean reversion after failed sell", models.StrategyMeanReversion, 100, 102, snap(models.ActionSell, -1.2), models.DirectionDown},
		{"mean reversion falls back on hold", models.StrategyMeanReversion, 100, 98, snap(models.ActionHold, 0), models.DirectionDown},
		{"mean reversion falls back on winning buy", models.StrategyMeanReversion, 100, 102, snap(models.ActionBuy, 1.2), models.DirectionUp},
		{"momentum trusts strong buy", models.StrategyMomentum, 100, 97, snap(models.ActionBuy, 2.0), models.DirectionUp},
		{"momentum strong hold is sideways", models.StrategyMomentum, 100, 97, snap(models.ActionHold, 2.0), models.DirectionSideways},
		{"momentum weak falls back", models.StrategyMomentum, 100, 97, snap(models.ActionBuy, 1.5), models.DirectionDown},
		{"momentum trusts strong sell", models.StrategyMomentum, 100, 103, snap(models.ActionSell, -2.25), models.DirectionDown},
		{"momentum weak sell falls back", models.StrategyMomentum, 100, 103, snap(models.ActionSell, -1.5), models.DirectionUp},
		{"momentum without snapshot", models.StrategyMomentum, 100, 103, nil, models.DirectionUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Apply(tt.strategy, NewInput(tt.current, tt.future, tt.snap), th)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Direction)
			assert.Equal(t, tt.strategy, out.Strategy)
			assert.InDelta(t, models.ReturnPct(tt.current, tt.future), out.Magnitude, 1e-9)
		})
	}
}

func TestApply_UnknownStrategy(t *testing.T) {
	_, err := Apply("ouija", NewInput(100, 110, nil), DefaultThresholds())
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

func TestApply_ConfigurableBasicThreshold(t *testing.T) {
	th := DefaultThresholds()
	th.Basic = 1.0

	out, err := Apply(models.StrategyBasic, NewInput(100, 100.8, nil), th)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionSideways, out.Direction)
}

func TestEnsemble_SingleBasic(t *testing.T) {
	label, err := Label([]models.LabelStrategy{models.StrategyBasic}, NewInput(100, 110, snap(models.ActionBuy, 1)), DefaultThresholds())
	require.NoError(t, err)

	assert.Equal(t, models.DirectionUp, label.Direction)
	assert.InDelta(t, 10.0, label.Magnitude, 1e-9)
	assert.Equal(t, 1.0, label.Confidence)
	assert.Equal(t, map[models.LabelDirection]int{models.DirectionUp: 1}, label.Votes)
}

func TestEnsemble_MajorityAndMagnitude(t *testing.T) {
	outputs := []models.StrategyOutput{
		{Strategy: models.StrategyBasic, Direction: models.DirectionUp, Magnitude: 1.0},
		{Strategy: models.StrategyBreakout, Direction: models.DirectionSideways, Magnitude: 1.0},
		{Strategy: models.StrategyMeanReversion, Direction: models.DirectionUp, Magnitude: 3.0},
	}

	label, err := Ensemble(outputs)
	require.NoError(t, err)

	assert.Equal(t, models.DirectionUp, label.Direction)
	assert.InDelta(t, 2.0, label.Magnitude, 1e-9)
	assert.InDelta(t, 2.0/3.0, label.Confidence, 1e-9)
	assert.Equal(t, 2, label.Votes[models.DirectionUp])
	assert.Equal(t, 1, label.Votes[models.DirectionSideways])
}

func TestEnsemble_TieGoesToFirstEncountered(t *testing.T) {
	outputs := []models.StrategyOutput{
		{Strategy: models.StrategyBasic, Direction: models.DirectionSideways, Magnitude: 0.3},
		{Strategy: models.StrategyBreakout, Direction: models.DirectionSideways, Magnitude: 0.3},
		{Strategy: models.StrategyMeanReversion, Direction: models.DirectionDown, Magnitude: 0.3},
		{Strategy: models.StrategyMomentum, Direction: models.DirectionDown, Magnitude: 0.3},
	}

	label, err := Ensemble(outputs)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionSideways, label.Direction)
	assert.Equal(t, 0.5, label.Confidence)

	reversed := []models.StrategyOutput{outputs[2], outputs[3], outputs[0], outputs[1]}
	label, err = Ensemble(reversed)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionDown, label.Direction)
}

func TestEnsemble_Deterministic(t *testing.T) {
	in := NewInput(100, 99.2, snap(models.ActionBuy, 1.7))
	list := models.AllStrategies

	first, err := Label(list, in, DefaultThresholds())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Label(list, in, DefaultThresholds())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEnsemble_Empty(t *testing.T) {
	_, err := Ensemble(nil)
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

func TestThresholdsValidate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())
	assert.ErrorIs(t, Thresholds{Basic: 0, Breakout: 2, MomentumScore: 1.5}.Validate(), models.ErrInvalidConfiguration)
}
