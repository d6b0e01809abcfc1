package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/curadesk/curadesk/app/models"
)

// ProrationPreview is a locally computed estimate of the charge or credit a
// plan change would produce. The provider's own proration engine is
// authoritative for the actual amount; this preview is documented as an
// estimate and never persisted.
type ProrationPreview struct {
	CurrentPlanID    uint            `json:"current_plan_id"`
	NewPlanID        uint            `json:"new_plan_id"`
	PercentRemaining decimal.Decimal `json:"percent_remaining"`
	ProrationAmount  decimal.Decimal `json:"proration_amount"`
	Currency         string          `json:"currency"`
	IsUpgrade        bool            `json:"is_upgrade"`
	IsDowngrade      bool            `json:"is_downgrade"`
	Estimate         bool            `json:"estimate"`
}

// PreviewPlanChange computes the linear time-proration estimate for switching
// sub from currentPlan to newPlan at now. Pure function: no state is read or
// written beyond its arguments, so the same clock reading always yields the
// same amounts.
func PreviewPlanChange(sub *models.Subscription, currentPlan, newPlan *models.Plan, now time.Time) (*ProrationPreview, error) {
	if sub.CurrentPeriodStart == nil || sub.CurrentPeriodEnd == nil {
		return nil, NewIntegration(nil, "subscription %d has no period boundaries", sub.ID)
	}
	start := *sub.CurrentPeriodStart
	end := *sub.CurrentPeriodEnd
	// percentRemaining divides by the period length in whole seconds, so
	// anything shorter than a second is as unusable as an inverted period.
	if end.Sub(start) < time.Second {
		return nil, NewIntegration(nil, "subscription %d has an empty billing period", sub.ID)
	}

	pct := percentRemaining(start, end, now)
	// prorationAmount = newPrice*pct - currentPrice*pct, rounded to the cent
	amount := newPlan.Price.Sub(currentPlan.Price).Mul(pct).Round(2)

	return &ProrationPreview{
		CurrentPlanID:    currentPlan.ID,
		NewPlanID:        newPlan.ID,
		PercentRemaining: pct,
		ProrationAmount:  amount,
		Currency:         currentPlan.Currency,
		IsUpgrade:        amount.IsPositive(),
		IsDowngrade:      amount.IsNegative(),
		Estimate:         true,
	}, nil
}

// percentRemaining is (end - now) / (end - start), clamped to [0, 1].
func percentRemaining(start, end, now time.Time) decimal.Decimal {
	total := decimal.NewFromInt(int64(end.Sub(start) / time.Second))
	left := decimal.NewFromInt(int64(end.Sub(now) / time.Second))
	if left.IsNegative() {
		return decimal.Zero
	}
	if left.GreaterThan(total) {
		left = total
	}
	// 8 digits keeps the per-cent rounding stable across period lengths
	return left.DivRound(total, 8)
}
