package lots

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
)

// SummaryOptions carries the externally supplied inputs for a summary.
// MarketPrice comes from the valuation collaborator; TotalHoldingQuantity is
// the holding's true current quantity, used for the coverage ratio.
type SummaryOptions struct {
	MarketPrice          *decimal.Decimal
	TotalHoldingQuantity *decimal.Decimal
}

// Summary is the aggregated gain/loss projection for one security in one
// account. Pointer fields are nil when the input needed to compute them was
// not available - nil means "no data", which is distinct from zero.
type Summary struct {
	AccountID  string `json:"account_id"`
	SecurityID string `json:"security_id"`

	// LottedQuantity is the sum of current quantities over open lots.
	LottedQuantity decimal.Decimal `json:"lotted_quantity"`

	// TotalCostBasis is the cost of the open lots; nil when there are no
	// open lots.
	TotalCostBasis *decimal.Decimal `json:"total_cost_basis,omitempty"`

	// UnrealizedGainLoss is computed only when a market price was supplied
	// and there is lotted quantity to value.
	UnrealizedGainLoss *decimal.Decimal `json:"unrealized_gain_loss,omitempty"`

	// RealizedGainLoss covers every disposal ever recorded for the security.
	// It is a historical fact, so it is always concrete (zero by default).
	RealizedGainLoss decimal.Decimal `json:"realized_gain_loss"`

	// LotCoverage is the fraction of the actual holding that has lot data;
	// nil when the holding's total quantity was not supplied or not positive.
	LotCoverage *decimal.Decimal `json:"lot_coverage,omitempty"`
}

// Summarize computes the gain/loss summary from already-loaded entities.
// lots must include closed lots: realized gain needs the cost basis of every
// owning lot, including ones that are fully consumed. Disposals are
// cascade-deleted with their lot, so every disposal's owning lot is present.
func Summarize(accountID, securityID string, lots []domain.Lot, disposals []domain.Disposal, opts SummaryOptions) Summary {
	summary := Summary{
		AccountID:        accountID,
		SecurityID:       securityID,
		LottedQuantity:   decimal.Zero,
		RealizedGainLoss: decimal.Zero,
	}

	costBasisByLot := make(map[string]decimal.Decimal, len(lots))
	openLots := 0
	totalCostBasis := decimal.Zero

	for _, lot := range lots {
		costBasisByLot[lot.ID] = lot.CostBasisPerUnit
		if lot.IsClosed {
			continue
		}
		openLots++
		summary.LottedQuantity = summary.LottedQuantity.Add(lot.CurrentQuantity)
		totalCostBasis = totalCostBasis.Add(lot.CostBasisPerUnit.Mul(lot.CurrentQuantity))
	}

	if openLots > 0 {
		summary.TotalCostBasis = &totalCostBasis
	}

	for _, d := range disposals {
		basis, ok := costBasisByLot[d.LotID]
		if !ok {
			continue
		}
		gain := d.ProceedsPerUnit.Sub(basis).Mul(d.Quantity)
		summary.RealizedGainLoss = summary.RealizedGainLoss.Add(gain)
	}

	if opts.MarketPrice != nil && summary.LottedQuantity.IsPositive() && summary.TotalCostBasis != nil {
		unrealized := opts.MarketPrice.Mul(summary.LottedQuantity).Sub(*summary.TotalCostBasis)
		summary.UnrealizedGainLoss = &unrealized
	}

	if opts.TotalHoldingQuantity != nil && opts.TotalHoldingQuantity.IsPositive() {
		coverage := summary.LottedQuantity.Div(*opts.TotalHoldingQuantity)
		summary.LotCoverage = &coverage
	}

	return summary
}
