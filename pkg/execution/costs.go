package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// CostModel computes exchange fees and taxes with exact decimal
// arithmetic. Taiwan stocks pay the brokerage fee on both sides and the
// securities transaction tax on sells only.
type CostModel struct {
	feeRate     decimal.Decimal
	sellTaxRate decimal.Decimal
}

// NewCostModel parses the configured rates. Typical values are
// "0.001425" (0.1425% fee) and "0.003" (0.3% sell tax).
func NewCostModel(feeRate, sellTaxRate string) (*CostModel, error) {
	fee, err := decimal.NewFromString(feeRate)
	if err != nil {
		return nil, fmt.Errorf("cost model: invalid fee rate %q: %w", feeRate, err)
	}
	tax, err := decimal.NewFromString(sellTaxRate)
	if err != nil {
		return nil, fmt.Errorf("cost model: invalid sell tax rate %q: %w", sellTaxRate, err)
	}
	return &CostModel{feeRate: fee, sellTaxRate: tax}, nil
}

// Costs is the breakdown for one (hypothetical or real) execution.
type Costs struct {
	Notional decimal.Decimal
	Fee      decimal.Decimal
	Tax      decimal.Decimal
	Slippage decimal.Decimal
	Total    decimal.Decimal
}

// Estimate computes the expected cost of trading qty at price with the
// given slippage rate.
func (m *CostModel) Estimate(side market.Side, qty int64, price float64, slippageBps float64) Costs {
	notional := decimal.NewFromInt(qty).Mul(decimal.NewFromFloat(price))

	fee := notional.Mul(m.feeRate)
	tax := decimal.Zero
	if side == market.SideSell {
		tax = notional.Mul(m.sellTaxRate)
	}
	slip := notional.Mul(decimal.NewFromFloat(slippageBps)).Div(decimal.NewFromInt(10000))

	return Costs{
		Notional: notional,
		Fee:      fee,
		Tax:      tax,
		Slippage: slip,
		Total:    fee.Add(tax).Add(slip),
	}
}

// FeeRate returns the configured brokerage fee rate.
func (m *CostModel) FeeRate() decimal.Decimal { return m.feeRate }

// SellTaxRate returns the configured sell-side tax rate.
func (m *CostModel) SellTaxRate() decimal.Decimal { return m.sellTaxRate }
