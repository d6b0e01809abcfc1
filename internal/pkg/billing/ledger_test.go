package billing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curadesk/curadesk/app/models"
	"github.com/curadesk/curadesk/internal/pkg/billing"
)

func ledgerFixture() (*fakeRepo, *billing.Service, *models.Subscription) {
	repo := newFakeRepo()
	repo.addPlan(clinicPlan(1, "49.00"))
	sub := repo.addSubscription(models.Subscription{
		AccountType:            models.AccountTypeClinic,
		AccountID:              clinicRef.ID,
		ProviderSubscriptionID: "sub_1",
		PlanID:                 1,
		Status:                 models.SubscriptionStatusActive,
	})
	svc := billing.NewService(repo, &fakeGateway{}, clinicDirectory(clinicRef.ID, "cus_test"))
	return repo, svc, sub
}

func TestRecordPayment(t *testing.T) {
	card := billing.CardSummary{Brand: "visa", Last4: "4242"}

	t.Run("writes one ledger row per intent ref", func(t *testing.T) {
		repo, svc, sub := ledgerFixture()
		paidAt := time.Now()
		payment := billing.ProviderPayment{
			IntentRef: "pi_1",
			ChargeRef: "ch_1",
			Amount:    decimal.RequireFromString("49.00"),
			Currency:  "USD",
			Status:    models.PaymentStatusSucceeded,
			PaidAt:    &paidAt,
		}

		stored, created, err := svc.RecordPayment(context.Background(), sub, payment, card)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, stored.UUID)
		assert.Equal(t, "usd", stored.Currency)
		assert.Equal(t, "visa", stored.CardBrand)
		assert.Equal(t, "4242", stored.CardLast4)
		assert.Equal(t, sub.ID, stored.SubscriptionID)
		assert.Len(t, repo.payments, 1)
	})

	t.Run("replay returns the existing row unchanged", func(t *testing.T) {
		repo, svc, sub := ledgerFixture()
		payment := billing.ProviderPayment{
			IntentRef: "pi_1",
			Amount:    decimal.RequireFromString("49.00"),
			Status:    models.PaymentStatusSucceeded,
		}

		first, created, err := svc.RecordPayment(context.Background(), sub, payment, card)
		require.NoError(t, err)
		assert.True(t, created)

		payment.Amount = decimal.RequireFromString("99.00")
		second, created, err := svc.RecordPayment(context.Background(), sub, payment, card)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.Amount.Equal(decimal.RequireFromString("49.00")))
		assert.Len(t, repo.payments, 1)
	})

	t.Run("rejects an empty intent ref", func(t *testing.T) {
		_, svc, sub := ledgerFixture()
		_, _, err := svc.RecordPayment(context.Background(), sub, billing.ProviderPayment{}, card)
		require.Error(t, err)
		assert.True(t, billing.IsValidation(err))
		assert.Equal(t, billing.CodeInvalidInput, billing.CodeOf(err))
	})
}

func TestListPayments(t *testing.T) {
	seedPayments := func(repo *fakeRepo, svc *billing.Service, sub *models.Subscription, n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			payment := billing.ProviderPayment{
				IntentRef: fmt.Sprintf("pi_%03d", i),
				Amount:    decimal.RequireFromString("49.00"),
				Status:    models.PaymentStatusSucceeded,
			}
			_, _, err := svc.RecordPayment(context.Background(), sub, payment, billing.CardSummary{})
			require.NoError(t, err)
		}
	}

	t.Run("pages through the account ledger", func(t *testing.T) {
		repo, svc, sub := ledgerFixture()
		seedPayments(repo, svc, sub, 25)

		page1, total, err := svc.ListPayments(context.Background(), clinicRef, 1, 10)
		require.NoError(t, err)
		assert.EqualValues(t, 25, total)
		assert.Len(t, page1, 10)

		page3, total, err := svc.ListPayments(context.Background(), clinicRef, 3, 10)
		require.NoError(t, err)
		assert.EqualValues(t, 25, total)
		assert.Len(t, page3, 5)
	})

	t.Run("normalizes page and limit", func(t *testing.T) {
		repo, svc, sub := ledgerFixture()
		seedPayments(repo, svc, sub, 3)

		payments, total, err := svc.ListPayments(context.Background(), clinicRef, 0, -5)
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		assert.Len(t, payments, 3)
	})

	t.Run("other accounts see nothing", func(t *testing.T) {
		repo, svc, sub := ledgerFixture()
		seedPayments(repo, svc, sub, 2)

		other := clinicRef
		other.ID = 99
		payments, total, err := svc.ListPayments(context.Background(), other, 1, 10)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, payments)
	})
}
