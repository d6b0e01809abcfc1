package billing

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/curadesk/curadesk/app/models"
	"github.com/curadesk/curadesk/internal/pkg/accountctx"
)

// CardSummary is the masked instrument snapshot stored on a ledger row.
type CardSummary struct {
	Brand string
	Last4 string
}

// RecordPayment is the single write path into the payment ledger, shared by
// the synchronous purchase/upgrade flow and the webhook reconciler. The
// provider payment-intent reference is the idempotency key: when a row for it
// already exists the stored row is returned unchanged and nothing is written.
func (s *Service) RecordPayment(ctx context.Context, sub *models.Subscription, payment ProviderPayment, card CardSummary) (*models.Payment, bool, error) {
	_ = ctx
	if payment.IntentRef == "" {
		return nil, false, NewValidation(CodeInvalidInput, "payment intent reference is required")
	}

	row := &models.Payment{
		UUID:                    uuid.NewString(),
		SubscriptionID:          sub.ID,
		AccountType:             sub.AccountType,
		AccountID:               sub.AccountID,
		ProviderPaymentIntentID: payment.IntentRef,
		ProviderChargeID:        payment.ChargeRef,
		Amount:                  payment.Amount,
		Currency:                normalizeCurrency(payment.Currency),
		Status:                  payment.Status,
		Description:             payment.Description,
		CardBrand:               card.Brand,
		CardLast4:               card.Last4,
		PaidAt:                  payment.PaidAt,
	}

	created, stored, err := s.repo.CreatePaymentIfAbsent(row)
	if err != nil {
		return nil, false, NewIntegration(err, "payment ledger write failed")
	}
	if !created {
		log.Printf("billing: duplicate payment intent %s, keeping existing ledger row %d", payment.IntentRef, stored.ID)
	}
	return stored, created, nil
}

// ListPayments returns one page of the account's ledger, newest first.
func (s *Service) ListPayments(ctx context.Context, ref accountctx.Ref, page, limit int) ([]models.Payment, int64, error) {
	_ = ctx
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	payments, total, err := s.repo.ListPaymentsByAccount(string(ref.Kind), ref.ID, (page-1)*limit, limit)
	if err != nil {
		return nil, 0, NewIntegration(err, "payment ledger read failed")
	}
	return payments, total, nil
}
