package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/guyghost/quantbt/internal/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskRulesPositionSize(t *testing.T) {
	risk := RiskRules{MaxPositionPercent: decimal.NewFromInt(10)}
	assert.True(t, risk.PositionSize(decimal.NewFromInt(10000)).Equal(decimal.NewFromInt(1000)))

	risk.MaxPositionPercent = decimal.Zero
	assert.True(t, risk.PositionSize(decimal.NewFromInt(10000)).IsZero())
}

func TestRiskRulesLevels(t *testing.T) {
	risk := RiskRules{
		StopLossPercent:   decimal.NewFromInt(2),
		TakeProfitPercent: decimal.NewFromInt(5),
	}
	entry := decimal.NewFromInt(100)

	long := risk.Levels(market.SideLong, entry)
	assert.True(t, long.StopLoss.Equal(decimal.NewFromInt(98)), "long stop %s", long.StopLoss)
	assert.True(t, long.TakeProfit.Equal(decimal.NewFromInt(105)), "long take %s", long.TakeProfit)

	short := risk.Levels(market.SideShort, entry)
	assert.True(t, short.StopLoss.Equal(decimal.NewFromInt(102)), "short stop %s", short.StopLoss)
	assert.True(t, short.TakeProfit.Equal(decimal.NewFromInt(95)), "short take %s", short.TakeProfit)
}

func TestStrategyValidate(t *testing.T) {
	valid := func() *Strategy {
		return &Strategy{
			ID:         "s1",
			Timeframe:  market.Timeframe1d,
			EntryRules: []Rule{NewPriceAboveMA(0)},
			Risk:       DefaultRiskRules(),
		}
	}

	require.NoError(t, valid().Validate())

	var nilStrategy *Strategy
	assert.ErrorIs(t, nilStrategy.Validate(), ErrInvalidStrategy)

	s := valid()
	s.EntryRules = append(s.EntryRules, nil)
	assert.ErrorIs(t, s.Validate(), ErrInvalidStrategy)

	s = valid()
	s.ExitRules = []Rule{PriceAboveMA{Period: -1}}
	assert.ErrorIs(t, s.Validate(), ErrInvalidStrategy)

	s = valid()
	s.Risk.MaxPositionPercent = decimal.NewFromInt(150)
	assert.ErrorIs(t, s.Validate(), ErrInvalidStrategy)

	s = valid()
	s.Timeframe = "fortnight"
	assert.ErrorIs(t, s.Validate(), ErrInvalidStrategy)
}

func TestStrategyMaxLookback(t *testing.T) {
	s := &Strategy{
		EntryRules: []Rule{NewPriceAboveMA(5), NewRSIOversold(14, decimal.Zero)},
		ExitRules:  []Rule{NewVolumeSurge(decimal.Zero)},
	}
	assert.Equal(t, 20, s.MaxLookback())
}

const sampleYAML = `
id: ma-rsi
name: MA and RSI
symbol: AAPL
timeframe: 1d
entry_rules:
  - type: price_above_ma
    period: 10
  - type: rsi_oversold
    threshold: 25
exit_rules:
  - type: volume_surge
    multiplier: 2
risk_rules:
  stop_loss_percent: 3
  max_position_percent: 20
`

func TestParseYAML(t *testing.T) {
	s, err := ParseYAML([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "ma-rsi", s.ID)
	assert.Equal(t, "AAPL", s.Symbol)
	assert.Equal(t, market.Timeframe1d, s.Timeframe)
	require.Len(t, s.EntryRules, 2)
	require.Len(t, s.ExitRules, 1)

	assert.Equal(t, PriceAboveMA{Period: 10}, s.EntryRules[0])

	rsi, ok := s.EntryRules[1].(RSIOversold)
	require.True(t, ok)
	assert.Equal(t, DefaultRSIPeriod, rsi.Period)
	assert.True(t, rsi.Threshold.Equal(decimal.NewFromInt(25)))

	surge, ok := s.ExitRules[0].(VolumeSurge)
	require.True(t, ok)
	assert.True(t, surge.Multiplier.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, DefaultVolumeLookback, surge.Lookback)

	assert.True(t, s.Risk.StopLossPercent.Equal(decimal.NewFromInt(3)))
	assert.True(t, s.Risk.TakeProfitPercent.Equal(decimal.NewFromInt(5)), "omitted take profit uses default")
	assert.True(t, s.Risk.MaxPositionPercent.Equal(decimal.NewFromInt(20)))
}

func TestParseErrors(t *testing.T) {
	_, err := ParseYAML([]byte("entry_rules:\n  - type: moon_phase\n"))
	assert.ErrorIs(t, err, ErrInvalidStrategy)

	_, err = ParseJSON([]byte(`{"entry_rules": [{"type": "price_above_ma", "period": -3}]}`))
	assert.ErrorIs(t, err, ErrInvalidStrategy)

	_, err = ParseJSON([]byte(`{not json`))
	assert.Error(t, err)
}

func TestParseYAMLKeepsExplicitZero(t *testing.T) {
	s, err := ParseYAML([]byte(`
id: zeros
entry_rules:
  - type: rsi_oversold
    threshold: 0
  - type: volume_surge
    multiplier: 0
exit_rules:
  - type: rsi_overbought
`))
	require.NoError(t, err)

	rsi, ok := s.EntryRules[0].(RSIOversold)
	require.True(t, ok)
	assert.True(t, rsi.Threshold.IsZero(), "threshold %s", rsi.Threshold)

	surge, ok := s.EntryRules[1].(VolumeSurge)
	require.True(t, ok)
	assert.True(t, surge.Multiplier.IsZero(), "multiplier %s", surge.Multiplier)

	overbought, ok := s.ExitRules[0].(RSIOverbought)
	require.True(t, ok)
	assert.True(t, overbought.Threshold.Equal(DefaultOverbought), "omitted threshold uses default")

	again, err := s.Definition().Build()
	require.NoError(t, err)
	assert.True(t, again.EntryRules[0].(RSIOversold).Threshold.IsZero())
	assert.True(t, again.EntryRules[1].(VolumeSurge).Multiplier.IsZero())
}

func TestParseRejectsRSIThresholdOutOfRange(t *testing.T) {
	for _, threshold := range []string{"-1", "101"} {
		_, err := ParseYAML([]byte("entry_rules:\n  - type: rsi_overbought\n    threshold: " + threshold + "\n"))
		assert.ErrorIs(t, err, ErrInvalidStrategy, "threshold %s", threshold)
	}
}

func TestDefinitionRoundTrip(t *testing.T) {
	s, err := ParseYAML([]byte(sampleYAML))
	require.NoError(t, err)

	again, err := s.Definition().Build()
	require.NoError(t, err)
	assert.Equal(t, s.EntryRules[0], again.EntryRules[0])
	assert.Equal(t, s.Definition(), again.Definition())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "trend.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entry_rules:\n  - type: price_above_ma\n"), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "trend", s.ID)
	assert.Equal(t, market.Timeframe1d, s.Timeframe)
	assert.Equal(t, DefaultRiskRules(), s.Risk)

	jsonPath := filepath.Join(dir, "short.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"id":"x","entry_rules":[{"type":"rsi_overbought"}]}`), 0o644))
	s, err = LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "x", s.ID)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
