package trailing

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailbot/internal/domain"
)

func fptr(v float64) *float64 { return &v }

// longInput is the baseline profitable long trade used across tests:
// entry 100, initial stop 98 (risk 2), price 103 => R = 1.5.
func longInput() Input {
	return Input{
		Side:         domain.Long,
		EntryPrice:   100,
		CurrentPrice: 103,
		CurrentSL:    fptr(98),
		InitialStop:  98,
		ADX:          fptr(30),
		ATR:          1.0,
		SwingLow:     fptr(101),
		BarsElapsed:  3,
		TickSize:     0.1,
		TakerFeeRate: 0.0007,
	}
}

func TestEvaluateLongBreakEvenAndTrail(t *testing.T) {
	cfg := DefaultConfig()
	dec := Evaluate(cfg, longInput())

	require.NotNil(t, dec.BEStop)
	assert.InDelta(t, 100.1, *dec.BEStop, 1e-9, "BE stop should be entry plus 0.10%%")

	// Candidate: max(swing 101, 103-2.0*1.0=101) = 101, minus buffer
	// 0.30*1.0 = 100.7, rounded down to the 0.1 tick.
	require.NotNil(t, dec.NewTrailingSL)
	assert.InDelta(t, 100.7, *dec.NewTrailingSL, 1e-9)
	assert.True(t, dec.ActivateTrailing)
	assert.Equal(t, "trail-update", dec.Reason)
}

func TestEvaluateNoTrailBarGuard(t *testing.T) {
	cfg := DefaultConfig()
	in := longInput()
	in.BarsElapsed = 1

	dec := Evaluate(cfg, in)

	require.NotNil(t, dec.BEStop, "BE proposal must survive the bar guard")
	assert.InDelta(t, 100.1, *dec.BEStop, 1e-9)
	assert.Nil(t, dec.NewTrailingSL)
	assert.Nil(t, dec.PartialClosePct)
	assert.True(t, dec.ActivateTrailing)
}

func TestBreakEvenStopAlignsToTick(t *testing.T) {
	cfg := DefaultConfig()

	in := longInput()
	in.EntryPrice = 103.37
	in.InitialStop = 101
	in.CurrentPrice = 107

	dec := Evaluate(cfg, in)
	require.NotNil(t, dec.BEStop)
	// 103.37 * 1.001 = 103.47337, floored onto the 0.1 grid.
	assert.InDelta(t, 103.4, *dec.BEStop, 1e-9)

	short := longInput()
	short.Side = domain.Short
	short.EntryPrice = 103.37
	short.InitialStop = 105.5
	short.CurrentPrice = 100
	short.CurrentSL = nil
	short.SwingLow = nil
	short.SwingHigh = fptr(104)

	dec = Evaluate(cfg, short)
	require.NotNil(t, dec.BEStop)
	// 103.37 * 0.999 = 103.26663, ceiled onto the 0.1 grid.
	assert.InDelta(t, 103.3, *dec.BEStop, 1e-9)
}

func TestEvaluateGateHardness(t *testing.T) {
	cfg := DefaultConfig()
	in := longInput()
	in.CurrentPrice = 101.5 // R = 0.75 < 1.0

	// Strong trend, plenty of volatility, tight swing: none of it matters
	// below the gate.
	in.ADX = fptr(60)
	in.ATR = 0.2
	in.SwingLow = fptr(101.2)
	in.IsStacked = true

	dec := Evaluate(cfg, in)

	assert.Nil(t, dec.BEStop)
	assert.Nil(t, dec.NewTrailingSL)
	assert.Nil(t, dec.PartialClosePct)
	assert.False(t, dec.ActivateTrailing)
}

func TestEvaluateBreakEvenIsOneShot(t *testing.T) {
	cfg := DefaultConfig()
	in := longInput()

	first := Evaluate(cfg, in)
	require.NotNil(t, first.BEStop)

	in.BEApplied = true
	second := Evaluate(cfg, in)
	assert.Nil(t, second.BEStop, "BE must not be re-proposed once applied")
	assert.NotNil(t, second.NewTrailingSL, "trailing is unaffected by the BE flag")
}

func TestEvaluateMinMoveSuppression(t *testing.T) {
	cfg := DefaultConfig()
	in := longInput()
	in.BEApplied = true
	// min move = max(tick, max(tick/price, 2*fee)*price) = 0.0014*103 ≈ 0.1442.
	in.CurrentSL = fptr(100.65) // candidate 100.7, delta 0.05

	dec := Evaluate(cfg, in)

	assert.Nil(t, dec.NewTrailingSL)
	assert.True(t, dec.ActivateTrailing)
	assert.Contains(t, dec.Reason, "min-move guard")
}

func TestEvaluateTickAlignment(t *testing.T) {
	cfg := DefaultConfig()
	for _, tick := range []float64{0.1, 0.05, 0.001, 0.5} {
		in := longInput()
		in.TickSize = tick
		in.CurrentSL = fptr(95) // far away so no guard interferes
		dec := Evaluate(cfg, in)
		require.NotNil(t, dec.NewTrailingSL, "tick=%v", tick)

		sl := *dec.NewTrailingSL
		rem := sl - math.Round(sl/tick)*tick
		assert.InDelta(t, 0, rem, 1e-9, "stop %v not aligned to tick %v", sl, tick)
	}
}

func TestEvaluateLongMonotonicity(t *testing.T) {
	cfg := DefaultConfig()
	in := longInput()
	in.BEApplied = true

	prevSL := *in.CurrentSL
	for _, price := range []float64{103, 103.8, 104.5, 104.2, 106, 105.1, 108} {
		in.CurrentPrice = price
		in.SwingLow = fptr(price - 2.0)
		dec := Evaluate(cfg, in)
		if dec.NewTrailingSL != nil {
			assert.GreaterOrEqual(t, *dec.NewTrailingSL, prevSL,
				"stop moved against the position at price %v", price)
			prevSL = *dec.NewTrailingSL
			in.CurrentSL = dec.NewTrailingSL
		}
	}
}

func TestEvaluateShortMonotonicity(t *testing.T) {
	cfg := DefaultConfig()
	in := Input{
		Side:         domain.Short,
		EntryPrice:   100,
		CurrentPrice: 97,
		CurrentSL:    fptr(102),
		InitialStop:  102,
		ADX:          fptr(30),
		ATR:          1.0,
		SwingHigh:    fptr(99),
		BarsElapsed:  3,
		BEApplied:    true,
		TickSize:     0.1,
		TakerFeeRate: 0.0007,
	}

	prevSL := *in.CurrentSL
	for _, price := range []float64{97, 96.2, 95.5, 95.9, 94, 94.6, 92} {
		in.CurrentPrice = price
		in.SwingHigh = fptr(price + 2.0)
		dec := Evaluate(cfg, in)
		if dec.NewTrailingSL != nil {
			assert.LessOrEqual(t, *dec.NewTrailingSL, prevSL,
				"stop moved against the short at price %v", price)
			prevSL = *dec.NewTrailingSL
			in.CurrentSL = dec.NewTrailingSL
		}
	}
}

func TestEvaluateShortStackedPartialClose(t *testing.T) {
	cfg := DefaultConfig()
	in := Input{
		Side:         domain.Short,
		EntryPrice:   100,
		CurrentPrice: 97.6, // R = 1.2
		CurrentSL:    fptr(102),
		InitialStop:  102,
		ADX:          fptr(20), // below trend threshold
		ATR:          0.5,
		SwingHigh:    fptr(98.8),
		BarsElapsed:  4,
		IsStacked:    true,
		TickSize:     0.1,
		TakerFeeRate: 0.0007,
	}

	dec := Evaluate(cfg, in)

	require.NotNil(t, dec.PartialClosePct)
	assert.InDelta(t, 0.25, *dec.PartialClosePct, 1e-9)
	require.NotNil(t, dec.NewTrailingSL)
	assert.Less(t, *dec.NewTrailingSL, 102.0)
	assert.Greater(t, *dec.NewTrailingSL, in.CurrentPrice)
}

func TestEvaluateStackedWidensMultiplierUntilADXConfirms(t *testing.T) {
	cfg := DefaultConfig()
	base := longInput()
	base.BEApplied = true
	base.SwingLow = nil // force the ATR candidate to be binding
	base.CurrentSL = fptr(95)
	base.ADX = nil

	plain := Evaluate(cfg, base)
	require.NotNil(t, plain.NewTrailingSL)

	stacked := base
	stacked.IsStacked = true
	wide := Evaluate(cfg, stacked)
	require.NotNil(t, wide.NewTrailingSL)

	assert.Less(t, *wide.NewTrailingSL, *plain.NewTrailingSL,
		"stacked trade should trail wider while ADX is unconfirmed")
}

func TestEvaluateZeroRiskSaturates(t *testing.T) {
	cfg := DefaultConfig()
	in := longInput()
	in.InitialStop = in.EntryPrice // degenerate: zero risk distance

	assert.NotPanics(t, func() {
		dec := Evaluate(cfg, in)
		// R-multiple saturates, so the gate passes and BE is proposed.
		assert.NotNil(t, dec.BEStop)
		assert.True(t, dec.ActivateTrailing)
	})
}

func TestEvaluatePercentageGateMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BETriggerPct = fptr(0.02) // 2% from entry

	in := longInput()
	in.CurrentPrice = 101.5 // +1.5%: would pass the R gate (0.75R fails), pct gate fails too
	dec := Evaluate(cfg, in)
	assert.Nil(t, dec.NewTrailingSL)
	assert.False(t, dec.ActivateTrailing)

	in.CurrentPrice = 102.5 // +2.5% passes
	dec = Evaluate(cfg, in)
	assert.NotNil(t, dec.BEStop)
	assert.True(t, dec.ActivateTrailing)
}

func TestEvaluateKillSwitch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Disabled = true

	dec := Evaluate(cfg, longInput())

	assert.NotNil(t, dec.BEStop, "kill-switch still allows the BE move")
	assert.Nil(t, dec.NewTrailingSL)
	assert.Nil(t, dec.PartialClosePct)
	assert.Equal(t, "trailing disabled", dec.Reason)
}

func TestEvaluateMissingSwingFallsBackToATR(t *testing.T) {
	cfg := DefaultConfig()
	in := longInput()
	in.SwingLow = nil
	in.CurrentSL = fptr(95)

	dec := Evaluate(cfg, in)

	require.NotNil(t, dec.NewTrailingSL)
	// Fallback pivot is price-4*ATR=99; ATR candidate 103-2*1=101 wins,
	// minus buffer 0.3 => 100.7.
	assert.InDelta(t, 100.7, *dec.NewTrailingSL, 1e-9)
}

func TestEvaluateMissingADXUsesWeakMultiplier(t *testing.T) {
	cfg := DefaultConfig()
	in := longInput()
	in.ADX = nil
	in.SwingLow = nil
	in.CurrentSL = fptr(95)

	dec := Evaluate(cfg, in)

	require.NotNil(t, dec.NewTrailingSL)
	// Weak multiplier 2.8: candidate 103-2.8=100.2, minus buffer => 99.9.
	assert.InDelta(t, 99.9, *dec.NewTrailingSL, 1e-9)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"pct gate valid", func(c *Config) { c.BETriggerPct = fptr(0.01) }, false},
		{"zero R trigger", func(c *Config) { c.BETriggerR = 0 }, true},
		{"negative pct trigger", func(c *Config) { c.BETriggerPct = fptr(-0.01) }, true},
		{"strong wider than weak", func(c *Config) { c.ATRMultStrong = 3.5 }, true},
		{"partial close above one", func(c *Config) { c.StackedPartialClosePct = 1.5 }, true},
		{"zero pivot lookback", func(c *Config) { c.PivotLookback = 0 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// The engine must re-propose the partial close while the condition holds;
// one-shot suppression belongs to the caller.
func TestEvaluatePartialCloseReproposedStatelessly(t *testing.T) {
	cfg := DefaultConfig()
	in := longInput()
	in.IsStacked = true

	for i := 0; i < 3; i++ {
		dec := Evaluate(cfg, in)
		require.NotNil(t, dec.PartialClosePct, "call %d", i)
	}
}

func ExampleEvaluate() {
	cfg := DefaultConfig()
	dec := Evaluate(cfg, Input{
		Side:         domain.Long,
		EntryPrice:   100,
		CurrentPrice: 103,
		CurrentSL:    fptr(98),
		InitialStop:  98,
		ADX:          fptr(30),
		ATR:          1.0,
		SwingLow:     fptr(101),
		BarsElapsed:  3,
		TickSize:     0.1,
		TakerFeeRate: 0.0007,
	})
	fmt.Printf("be=%.1f trail=%.1f reason=%s\n", *dec.BEStop, *dec.NewTrailingSL, dec.Reason)
	// Output: be=100.1 trail=100.7 reason=trail-update
}
