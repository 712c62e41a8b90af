package papertrade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func breakevenConfig() ExitConfig {
	return ExitConfig{
		Kind:                ExitBreakeven,
		TakeProfitPct:       10,
		StopLossPct:         5,
		BreakevenTriggerPct: 5,
		EpsilonPct:          epsilon(0.01),
	}
}

func epsilon(v float64) *float64 { return &v }

func TestFixedPolicy(t *testing.T) {
	p, err := NewExitPolicy(ExitConfig{Kind: ExitFixed, TakeProfitPct: 5, StopLossPct: 10})
	require.NoError(t, err)

	tests := []struct {
		pnl    float64
		reason string
	}{
		{0, ""},
		{4.99, ""},
		{5, ReasonTakeProfit},
		{5.2, ReasonTakeProfit},
		{-9.99, ""},
		{-10, ReasonStopLoss},
		{-25, ReasonStopLoss},
	}
	for _, tt := range tests {
		d := p.Evaluate(tt.pnl, tt.pnl)
		assert.Equal(t, tt.reason != "", d.ShouldExit, "pnl %v", tt.pnl)
		assert.Equal(t, tt.reason, d.Reason, "pnl %v", tt.pnl)
	}
	assert.Equal(t, -10.0, p.State().StopLevel)
}

func TestBreakevenPolicy_ArmsThenExitsAtBreakeven(t *testing.T) {
	p, err := NewExitPolicy(breakevenConfig())
	require.NoError(t, err)

	assert.False(t, p.Evaluate(2, 2).ShouldExit)
	assert.False(t, p.State().Armed)
	assert.Equal(t, -5.0, p.State().StopLevel)

	assert.False(t, p.Evaluate(5.5, 5.5).ShouldExit)
	assert.True(t, p.State().Armed)
	assert.Equal(t, 0.0, p.State().StopLevel)

	assert.False(t, p.Evaluate(3.9, 5.5).ShouldExit)

	d := p.Evaluate(-0.2, 5.5)
	require.True(t, d.ShouldExit)
	assert.Equal(t, ReasonBreakevenExit, d.Reason)
}

func TestBreakevenPolicy_EpsilonBand(t *testing.T) {
	p, err := NewExitPolicy(breakevenConfig())
	require.NoError(t, err)
	p.Evaluate(6, 6)

	assert.False(t, p.Evaluate(0, 6).ShouldExit, "exactly at the stop")
	assert.False(t, p.Evaluate(-0.005, 6).ShouldExit, "inside epsilon")
	assert.True(t, p.Evaluate(-0.02, 6).ShouldExit)
}

func TestBreakevenPolicy_ZeroEpsilon(t *testing.T) {
	cfg := breakevenConfig()
	cfg.EpsilonPct = epsilon(0)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.0, cfg.Epsilon())

	p, err := NewExitPolicy(cfg)
	require.NoError(t, err)
	p.Evaluate(6, 6)

	assert.False(t, p.Evaluate(0, 6).ShouldExit, "exactly at the stop")
	d := p.Evaluate(-0.005, 6)
	require.True(t, d.ShouldExit)
	assert.Equal(t, ReasonBreakevenExit, d.Reason)
}

func TestExitConfig_EpsilonDefault(t *testing.T) {
	assert.Equal(t, DefaultEpsilonPct, DefaultExitConfig().Epsilon())
	assert.Equal(t, DefaultEpsilonPct, ExitConfig{Kind: ExitFixed}.Epsilon())
}

func TestBreakevenPolicy_StopLossBeforeArming(t *testing.T) {
	p, err := NewExitPolicy(breakevenConfig())
	require.NoError(t, err)

	assert.False(t, p.Evaluate(-5.005, 0).ShouldExit)
	d := p.Evaluate(-5.02, 0)
	require.True(t, d.ShouldExit)
	assert.Equal(t, ReasonStopLoss, d.Reason)
}

func TestBreakevenPolicy_TakeProfit(t *testing.T) {
	p, err := NewExitPolicy(breakevenConfig())
	require.NoError(t, err)

	d := p.Evaluate(10, 10)
	require.True(t, d.ShouldExit)
	assert.Equal(t, ReasonTakeProfit, d.Reason)
}

func TestTrailingPolicy(t *testing.T) {
	p, err := NewExitPolicy(ExitConfig{
		Kind:                ExitTrailing,
		TakeProfitPct:       50,
		StopLossPct:         10,
		BreakevenTriggerPct: 5,
		TrailingPct:         3,
	})
	require.NoError(t, err)

	assert.False(t, p.Evaluate(4, 4).ShouldExit)
	assert.Equal(t, -10.0, p.State().StopLevel)

	assert.False(t, p.Evaluate(6, 6).ShouldExit)
	assert.Equal(t, 3.0, p.State().StopLevel)

	assert.False(t, p.Evaluate(10, 10).ShouldExit)
	assert.Equal(t, 7.0, p.State().StopLevel)

	assert.False(t, p.Evaluate(8, 10).ShouldExit)
	d := p.Evaluate(6.5, 10)
	require.True(t, d.ShouldExit)
	assert.Equal(t, ReasonTrailingStop, d.Reason)
}

func TestPolicies_StopOnlyTightens(t *testing.T) {
	pnls := []float64{1, 3, 6, 2, 9, 4, 12, 7, 8, 15, 5, 1}
	for _, cfg := range []ExitConfig{
		breakevenConfig(),
		{Kind: ExitTrailing, TakeProfitPct: 100, StopLossPct: 10, BreakevenTriggerPct: 5, TrailingPct: 4},
	} {
		cfg.TakeProfitPct = 100
		cfg.StopLossPct = 50
		p, err := NewExitPolicy(cfg)
		require.NoError(t, err)

		prev := p.State().StopLevel
		maxPnL := 0.0
		for _, pnl := range pnls {
			if pnl > maxPnL {
				maxPnL = pnl
			}
			p.Evaluate(pnl, maxPnL)
			cur := p.State().StopLevel
			assert.GreaterOrEqual(t, cur, prev, "%s stop loosened at pnl %v", cfg.Kind, pnl)
			prev = cur
		}
		assert.True(t, p.State().Armed, cfg.Kind)
	}
}

func TestExitConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultExitConfig().Validate())

	bad := []ExitConfig{
		{Kind: ExitFixed, TakeProfitPct: 0, StopLossPct: 5},
		{Kind: ExitFixed, TakeProfitPct: 5, StopLossPct: 0},
		{Kind: ExitBreakeven, TakeProfitPct: 5, StopLossPct: 5},
		{Kind: ExitTrailing, TakeProfitPct: 5, StopLossPct: 5, BreakevenTriggerPct: 2},
		{Kind: "martingale", TakeProfitPct: 5, StopLossPct: 5},
		{Kind: ExitFixed, TakeProfitPct: 5, StopLossPct: 5, EpsilonPct: epsilon(-1)},
	}
	for _, cfg := range bad {
		assert.Error(t, cfg.Validate(), "%+v", cfg)
		_, err := NewExitPolicy(cfg)
		assert.Error(t, err)
	}
}
