package billing

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/curadesk/curadesk/app/models"
	"github.com/curadesk/curadesk/internal/pkg/accountctx"
	"github.com/curadesk/curadesk/internal/pkg/accounts"
)

// Service owns the authoritative local subscription record per account and
// executes the lifecycle transitions: purchase, plan change, cancel,
// reactivate. It shares its repository with the webhook reconciler so both
// writers go through the same guarded update path.
type Service struct {
	repo      Repository
	gateway   Gateway
	directory accounts.Directory
	now       func() time.Time
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, gateway Gateway, directory accounts.Directory) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		directory: directory,
		now:       time.Now,
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle and a
// gateway instance.
func NewServiceFromDB(db *gorm.DB, gateway Gateway) *Service {
	return NewService(NewRepository(db), gateway, accounts.NewDirectory(db))
}

// Purchase creates a new subscription for the account on the given plan.
// Precondition: no live subscription and a resolvable payment method
// (explicit or the account default).
func (s *Service) Purchase(ctx context.Context, ref accountctx.Ref, planID uint, paymentMethodID *uint) (*models.Subscription, error) {
	account, err := s.resolveBillableAccount(ref)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetLiveSubscription(string(ref.Kind), ref.ID); err == nil {
		return nil, NewConflict(CodeAlreadySubscribed, "account %s already has a live subscription", ref)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewIntegration(err, "subscription lookup failed")
	}

	plan, err := s.purchasablePlan(planID, ref.Kind)
	if err != nil {
		return nil, err
	}

	paymentMethod, err := s.resolvePaymentMethod(ref, paymentMethodID)
	if err != nil {
		return nil, err
	}

	provSub, err := s.gateway.CreateSubscription(ctx, account.CustomerRef, plan.ProviderPriceID, paymentMethod.ProviderPaymentMethodID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub := &models.Subscription{
		AccountType:            string(ref.Kind),
		AccountID:              ref.ID,
		ProviderSubscriptionID: provSub.Ref,
		PlanID:                 plan.ID,
		Status:                 provSub.Status,
		CurrentPeriodStart:     &provSub.CurrentPeriodStart,
		CurrentPeriodEnd:       &provSub.CurrentPeriodEnd,
		CancelAtPeriodEnd:      provSub.CancelAtPeriodEnd,
		CanceledAt:             provSub.CanceledAt,
		ProviderSyncedAt:       &now,
	}
	if err := s.repo.CreateSubscription(sub); err != nil {
		if errors.Is(err, ErrLiveSubscriptionExists) {
			// A concurrent purchase won the insert race. Undo the provider
			// subscription we just opened so the account is not double-billed.
			if _, cancelErr := s.gateway.CancelSubscription(ctx, provSub.Ref, false); cancelErr != nil {
				log.Printf("billing: canceling orphaned provider subscription %s failed: %v", provSub.Ref, cancelErr)
			}
			return nil, NewConflict(CodeAlreadySubscribed, "account %s already has a live subscription", ref)
		}
		return nil, NewIntegration(err, "subscription persistence failed")
	}

	if provSub.LatestPayment != nil {
		card := CardSummary{Brand: paymentMethod.CardBrand, Last4: paymentMethod.CardLast4}
		if _, _, err := s.RecordPayment(ctx, sub, *provSub.LatestPayment, card); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// PreviewPlanChange computes the local proration estimate for moving the
// account's live subscription to newPlanID. Read-only: nothing is mutated
// locally or at the provider.
func (s *Service) PreviewPlanChange(ctx context.Context, ref accountctx.Ref, newPlanID uint) (*ProrationPreview, error) {
	_ = ctx
	sub, err := s.requireLiveSubscription(ref)
	if err != nil {
		return nil, err
	}
	if sub.PlanID == newPlanID {
		return nil, NewValidation(CodeSamePlan, "subscription is already on plan %d", newPlanID)
	}

	currentPlan, err := s.repo.GetPlan(sub.PlanID)
	if err != nil {
		return nil, NewIntegration(err, "current plan lookup failed")
	}
	newPlan, err := s.purchasablePlan(newPlanID, ref.Kind)
	if err != nil {
		return nil, err
	}
	return PreviewPlanChange(sub, currentPlan, newPlan, s.now())
}

// ChangePlan performs the actual upgrade or downgrade. The provider computes
// the real proration; its returned status and period boundaries are
// authoritative and overwrite whatever the preview assumed.
func (s *Service) ChangePlan(ctx context.Context, ref accountctx.Ref, newPlanID uint) (*models.Subscription, error) {
	sub, err := s.requireLiveSubscription(ref)
	if err != nil {
		return nil, err
	}
	if sub.PlanID == newPlanID {
		return nil, NewValidation(CodeSamePlan, "subscription is already on plan %d", newPlanID)
	}

	newPlan, err := s.purchasablePlan(newPlanID, ref.Kind)
	if err != nil {
		return nil, err
	}

	provSub, err := s.gateway.ChangeSubscriptionPrice(ctx, sub.ProviderSubscriptionID, newPlan.ProviderPriceID)
	if err != nil {
		return nil, err
	}

	updates := providerStateUpdates(provSub)
	updates["plan_id"] = newPlan.ID
	if err := s.applySyncUpdate(sub, updates); err != nil {
		return nil, err
	}

	if provSub.LatestPayment != nil {
		card := s.cardSummaryForAccount(ref)
		if _, _, err := s.RecordPayment(ctx, sub, *provSub.LatestPayment, card); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// Cancel ends the subscription either immediately or at the period boundary.
// The deferred variant only flags cancelAtPeriodEnd; the webhook reconciler
// transitions the row to canceled when the provider closes the period.
func (s *Service) Cancel(ctx context.Context, ref accountctx.Ref, immediate bool) (*models.Subscription, error) {
	sub, err := s.requireLiveSubscription(ref)
	if err != nil {
		return nil, err
	}

	provSub, err := s.gateway.CancelSubscription(ctx, sub.ProviderSubscriptionID, !immediate)
	if err != nil {
		return nil, err
	}

	updates := providerStateUpdates(provSub)
	if immediate {
		updates["status"] = models.SubscriptionStatusCanceled
		if provSub.CanceledAt == nil {
			now := s.now()
			updates["canceled_at"] = &now
		}
	}
	if err := s.applySyncUpdate(sub, updates); err != nil {
		return nil, err
	}
	return sub, nil
}

// Reactivate clears a pending cancel-at-period-end. Only valid while the
// subscription is still live; canceled is terminal.
func (s *Service) Reactivate(ctx context.Context, ref accountctx.Ref) (*models.Subscription, error) {
	sub, err := s.requireLiveSubscription(ref)
	if err != nil {
		return nil, err
	}
	if !sub.CancelAtPeriodEnd {
		return nil, NewValidation(CodeNotCancelScheduled, "subscription %d is not scheduled for cancellation", sub.ID)
	}

	provSub, err := s.gateway.ReactivateSubscription(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}

	if err := s.applySyncUpdate(sub, providerStateUpdates(provSub)); err != nil {
		return nil, err
	}
	return sub, nil
}

// Capabilities summarizes what a subscription currently entitles the account
// to; consumed read-only by the other practice-management services.
type Capabilities struct {
	HasActiveSubscription bool   `json:"has_active_subscription"`
	PlanID                uint   `json:"plan_id,omitempty"`
	PlanName              string `json:"plan_name,omitempty"`
	Features              string `json:"features,omitempty"`
	CancelScheduled       bool   `json:"cancel_scheduled"`
}

// AccountStatus is the getStatus payload.
type AccountStatus struct {
	Subscription *models.Subscription `json:"subscription"`
	Capabilities Capabilities         `json:"capabilities"`
	Warnings     []string             `json:"warnings"`
}

// Status reports the account's current subscription, derived capabilities and
// user-facing warnings. Accounts with no subscription history get an empty
// status, not an error.
func (s *Service) Status(ctx context.Context, ref accountctx.Ref) (*AccountStatus, error) {
	_ = ctx
	out := &AccountStatus{Warnings: []string{}}

	sub, err := s.repo.GetLatestSubscription(string(ref.Kind), ref.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return out, nil
		}
		return nil, NewIntegration(err, "subscription lookup failed")
	}
	out.Subscription = sub

	if sub.IsLive() {
		out.Capabilities.HasActiveSubscription = true
		out.Capabilities.CancelScheduled = sub.CancelAtPeriodEnd
		if plan, err := s.repo.GetPlan(sub.PlanID); err == nil {
			out.Capabilities.PlanID = plan.ID
			out.Capabilities.PlanName = plan.Name
			out.Capabilities.Features = plan.FeaturesJSON
		}
		if sub.CancelAtPeriodEnd && sub.CurrentPeriodEnd != nil {
			out.Warnings = append(out.Warnings, "subscription is scheduled to cancel at the end of the current period")
		}
	}

	switch sub.Status {
	case models.SubscriptionStatusPastDue:
		out.Warnings = append(out.Warnings, "last payment failed; please update your payment method")
	case models.SubscriptionStatusUnpaid:
		out.Warnings = append(out.Warnings, "subscription is unpaid; access is suspended until payment succeeds")
	case models.SubscriptionStatusIncomplete:
		out.Warnings = append(out.Warnings, "initial payment has not completed yet")
	}
	return out, nil
}

func (s *Service) resolveBillableAccount(ref accountctx.Ref) (*accounts.Account, error) {
	if !ref.Valid() {
		return nil, NewValidation(CodeInvalidInput, "invalid account reference")
	}
	account, err := s.directory.Resolve(ref)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFound(CodeAccountNotFound, "account %s not found", ref)
		}
		return nil, NewIntegration(err, "account lookup failed")
	}
	if account.CustomerRef == "" {
		return nil, NewValidation(CodeNoProviderCustomer, "account %s has no billing customer reference", ref)
	}
	return account, nil
}

func (s *Service) purchasablePlan(planID uint, kind accountctx.Kind) (*models.Plan, error) {
	plan, err := s.repo.GetPlan(planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFound(CodePlanNotFound, "plan %d not found", planID)
		}
		return nil, NewIntegration(err, "plan lookup failed")
	}
	if plan.IsRetired() {
		return nil, NewValidation(CodePlanRetired, "plan %q is retired", plan.Name)
	}
	if plan.Audience != string(kind) {
		return nil, NewValidation(CodePlanAudienceMismatch, "plan %q is not offered to %s accounts", plan.Name, kind)
	}
	return plan, nil
}

func (s *Service) resolvePaymentMethod(ref accountctx.Ref, paymentMethodID *uint) (*models.PaymentMethod, error) {
	if paymentMethodID != nil {
		pm, err := s.repo.GetPaymentMethod(string(ref.Kind), ref.ID, *paymentMethodID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, NewNotFound(CodePaymentMethodMissing, "payment method %d not found", *paymentMethodID)
			}
			return nil, NewIntegration(err, "payment method lookup failed")
		}
		return pm, nil
	}

	pm, err := s.repo.GetDefaultPaymentMethod(string(ref.Kind), ref.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewValidation(CodeNeedsPaymentMethod, "account %s has no payment method on file", ref)
		}
		return nil, NewIntegration(err, "payment method lookup failed")
	}
	return pm, nil
}

func (s *Service) requireLiveSubscription(ref accountctx.Ref) (*models.Subscription, error) {
	sub, err := s.repo.GetLiveSubscription(string(ref.Kind), ref.ID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewIntegration(err, "subscription lookup failed")
	}

	// Distinguish "never subscribed" from "terminal canceled state".
	latest, latestErr := s.repo.GetLatestSubscription(string(ref.Kind), ref.ID)
	if latestErr == nil && latest.Status == models.SubscriptionStatusCanceled {
		return nil, NewValidation(CodeSubscriptionCanceled, "subscription %d is canceled; purchase a new one", latest.ID)
	}
	return nil, NewNotFound(CodeNoLiveSubscription, "account %s has no live subscription", ref)
}

// applySyncUpdate writes provider state from a synchronous API response and
// refreshes the in-memory row to match.
func (s *Service) applySyncUpdate(sub *models.Subscription, updates map[string]interface{}) error {
	now := s.now()
	applied, err := s.repo.ApplySubscriptionUpdate(sub.ID, updates, now)
	if err != nil {
		return NewIntegration(err, "subscription update failed")
	}
	if !applied {
		// A newer webhook already wrote this row; re-read instead of clobbering.
		fresh, err := s.repo.GetSubscriptionByProviderRef(sub.ProviderSubscriptionID)
		if err != nil {
			return NewIntegration(err, "subscription re-read failed")
		}
		*sub = *fresh
		return nil
	}

	applyUpdatesInMemory(sub, updates)
	sub.ProviderSyncedAt = &now
	return nil
}

func (s *Service) cardSummaryForAccount(ref accountctx.Ref) CardSummary {
	pm, err := s.repo.GetDefaultPaymentMethod(string(ref.Kind), ref.ID)
	if err != nil {
		return CardSummary{}
	}
	return CardSummary{Brand: pm.CardBrand, Last4: pm.CardLast4}
}

// providerStateUpdates maps a provider subscription response onto column
// updates for the guarded write path.
func providerStateUpdates(provSub *ProviderSubscription) map[string]interface{} {
	start := provSub.CurrentPeriodStart
	end := provSub.CurrentPeriodEnd
	return map[string]interface{}{
		"status":               provSub.Status,
		"current_period_start": &start,
		"current_period_end":   &end,
		"cancel_at_period_end": provSub.CancelAtPeriodEnd,
		"canceled_at":          provSub.CanceledAt,
	}
}

func applyUpdatesInMemory(sub *models.Subscription, updates map[string]interface{}) {
	if v, ok := updates["status"].(string); ok {
		sub.Status = v
	}
	if v, ok := updates["current_period_start"].(*time.Time); ok {
		sub.CurrentPeriodStart = v
	}
	if v, ok := updates["current_period_end"].(*time.Time); ok {
		sub.CurrentPeriodEnd = v
	}
	if v, ok := updates["cancel_at_period_end"].(bool); ok {
		sub.CancelAtPeriodEnd = v
	}
	if v, ok := updates["canceled_at"].(*time.Time); ok {
		sub.CanceledAt = v
	}
	if v, ok := updates["plan_id"].(uint); ok {
		sub.PlanID = v
	}
}

func normalizeCurrency(currency string) string {
	c := strings.ToLower(strings.TrimSpace(currency))
	if c == "" {
		return "usd"
	}
	return c
}
