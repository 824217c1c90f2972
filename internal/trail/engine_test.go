package trail

import (
	"testing"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func longMNQ() domain.Position {
	return domain.Position{
		Ticker:         "MNQU2025",
		Side:           domain.SideLong,
		EntryPrice:     d("20000"),
		Quantity:       d("1"),
		PointValue:     d("2"),
		ArmAfterProfit: d("100"),
		TrailStep:      d("50"),
		HardStop:       d("19900"),
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{in: "", want: PolicyWholeStep},
		{in: "whole_step", want: PolicyWholeStep},
		{in: " Step_Behind ", want: PolicyStepBehind},
		{in: "trailing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_LongScenario(t *testing.T) {
	e := NewEngine(PolicyWholeStep)
	pos := longMNQ()

	dec := e.Evaluate(pos, d("20050"))
	require.True(t, dec.Act)
	assert.True(t, dec.Profit.Equal(d("100")))
	assert.True(t, dec.LockedProfit.Equal(d("100")), "locked %s", dec.LockedProfit)
	assert.True(t, dec.StopPrice.Equal(d("20050")), "stop %s", dec.StopPrice)
	assert.Equal(t, domain.OrderSideSell, dec.Adjustment.Side)
	assert.Equal(t, "MNQU2025", dec.Adjustment.Ticker)
	assert.True(t, dec.Adjustment.Quantity.Equal(d("1")))

	Apply(&pos, dec, time.Now())
	require.NoError(t, pos.Validate())

	again := e.Evaluate(pos, d("20060"))
	assert.False(t, again.Act)
	assert.Equal(t, ReasonNoImprovement, again.Reason)

	next := e.Evaluate(pos, d("20075"))
	require.True(t, next.Act)
	assert.True(t, next.LockedProfit.Equal(d("150")))
	assert.True(t, next.StopPrice.Equal(d("20075")))
}

func TestEvaluate_StepBehind(t *testing.T) {
	e := NewEngine(PolicyStepBehind)
	pos := longMNQ()

	dec := e.Evaluate(pos, d("20050"))
	require.True(t, dec.Act)
	assert.True(t, dec.LockedProfit.Equal(d("50")))
	assert.True(t, dec.StopPrice.Equal(d("20025")))

	pos.ArmAfterProfit = d("50")
	pos.TrailStep = d("60")
	low := e.Evaluate(pos, d("20030"))
	assert.False(t, low.Act)
	assert.Equal(t, ReasonNonPositive, low.Reason)
}

func TestEvaluate_ShortNotArmed(t *testing.T) {
	e := NewEngine(PolicyWholeStep)
	pos := domain.Position{
		Ticker:         "CLX2025",
		Side:           domain.SideShort,
		EntryPrice:     d("50"),
		Quantity:       d("10"),
		PointValue:     d("1"),
		ArmAfterProfit: d("20"),
		TrailStep:      d("10"),
	}

	dec := e.Evaluate(pos, d("52"))
	assert.False(t, dec.Act)
	assert.Equal(t, ReasonBelowArm, dec.Reason)
	assert.True(t, dec.Profit.Equal(d("-20")))

	Apply(&pos, dec, time.Now())
	assert.False(t, pos.CurrentStop.Valid)
}

func TestEvaluate_ShortArms(t *testing.T) {
	e := NewEngine(PolicyWholeStep)
	pos := domain.Position{
		Ticker:         "CLX2025",
		Side:           domain.SideShort,
		EntryPrice:     d("50"),
		Quantity:       d("10"),
		PointValue:     d("1"),
		ArmAfterProfit: d("20"),
		TrailStep:      d("10"),
	}

	dec := e.Evaluate(pos, d("47.5"))
	require.True(t, dec.Act)
	assert.True(t, dec.LockedProfit.Equal(d("20")))
	assert.True(t, dec.StopPrice.Equal(d("48")))
	assert.Equal(t, domain.OrderSideBuy, dec.Adjustment.Side)
}

func TestEvaluate_BelowArmNeverActs(t *testing.T) {
	e := NewEngine(PolicyWholeStep)
	pos := longMNQ()
	for _, p := range []string{"19000", "20000", "20010", "20049.99"} {
		dec := e.Evaluate(pos, d(p))
		assert.False(t, dec.Act, "price %s", p)
	}
	assert.False(t, e.Evaluate(pos, d("0")).Act)
}

func TestEvaluate_LockedProfitMonotonic(t *testing.T) {
	for _, policy := range []Policy{PolicyWholeStep, PolicyStepBehind} {
		t.Run(string(policy), func(t *testing.T) {
			e := NewEngine(policy)
			pos := longMNQ()
			prev := decimal.Zero
			fired := 0

			for price := d("20000"); price.LessThanOrEqual(d("20500")); price = price.Add(d("7.25")) {
				dec := e.Evaluate(pos, price)
				if dec.Act {
					fired++
					assert.True(t, dec.LockedProfit.GreaterThan(prev))
					assert.True(t, dec.LockedProfit.LessThanOrEqual(dec.Profit))
				}
				Apply(&pos, dec, time.Now())
				assert.True(t, pos.LockedProfit.GreaterThanOrEqual(prev))
				prev = pos.LockedProfit
			}
			assert.Greater(t, fired, 1)
		})
	}
}

func TestEvaluate_Pullback(t *testing.T) {
	e := NewEngine(PolicyWholeStep)
	pos := longMNQ()

	Apply(&pos, e.Evaluate(pos, d("20100")), time.Now())
	require.True(t, pos.LockedProfit.Equal(d("200")))

	dec := e.Evaluate(pos, d("20040"))
	assert.False(t, dec.Act)
	assert.True(t, pos.LockedProfit.Equal(d("200")))
}

func TestEvaluate_NonPositiveSizing(t *testing.T) {
	e := NewEngine(PolicyWholeStep)
	for _, mutate := range []func(*domain.Position){
		func(p *domain.Position) { p.TrailStep = decimal.Zero },
		func(p *domain.Position) { p.PointValue = decimal.Zero },
		func(p *domain.Position) { p.Quantity = d("-1") },
	} {
		pos := longMNQ()
		mutate(&pos)
		var dec Decision
		require.NotPanics(t, func() { dec = e.Evaluate(pos, d("20500")) })
		assert.False(t, dec.Act)
		assert.Equal(t, ReasonBadRecord, dec.Reason)
	}
}
