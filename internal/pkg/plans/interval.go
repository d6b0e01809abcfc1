package plans

import (
	"github.com/curadesk/curadesk/app/models"
	"github.com/curadesk/curadesk/internal/pkg/billing"
)

// DeriveInterval maps a plan duration in days onto a provider billing
// interval. The mapping must stay exact and stable: proration math downstream
// depends on the interval a plan was published with.
//
//	365 -> year x1, 30 -> month x1, 7 -> week x1, anything else -> day xN
func DeriveInterval(durationDays int) (string, int, error) {
	if durationDays < 1 {
		return "", 0, billing.NewValidation(billing.CodeInvalidInput, "plan duration must be at least one day, got %d", durationDays)
	}
	switch durationDays {
	case 365:
		return models.PlanIntervalYear, 1, nil
	case 30:
		return models.PlanIntervalMonth, 1, nil
	case 7:
		return models.PlanIntervalWeek, 1, nil
	default:
		return models.PlanIntervalDay, durationDays, nil
	}
}
