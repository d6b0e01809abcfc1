package billing

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/curadesk/curadesk/app/models"
	"github.com/curadesk/curadesk/internal/pkg/accountctx"
)

// Reconciler consumes asynchronous provider events and re-derives local
// subscription and ledger state. Webhook delivery is at-least-once and may
// race the synchronous flows, so every transition here is idempotent and
// every row write goes through the guarded update path.
type Reconciler struct {
	svc *Service
}

// NewReconciler creates a reconciler sharing the billing service's
// repository and gateway.
func NewReconciler(svc *Service) *Reconciler {
	return &Reconciler{svc: svc}
}

// WebhookResult describes what processing did, for response shaping and
// counters at the HTTP boundary.
type WebhookResult struct {
	EventID   uint   `json:"event_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate"`
	Ignored   bool   `json:"ignored"`

	// Account owning the touched subscription, zero-valued when the event
	// was ignored. Lets the HTTP layer drop cached status.
	Account accountctx.Ref `json:"-"`

	// PaymentRecorded is set when the event appended a new ledger row.
	PaymentRecorded bool `json:"-"`
}

// HandleEvent verifies, deduplicates and applies one provider event.
// Signature failures reject before anything is persisted. Unknown event kinds
// and events for unknown subscriptions are accepted and ignored.
func (r *Reconciler) HandleEvent(ctx context.Context, signatureHeader string, rawBody []byte) (*WebhookResult, error) {
	ev, err := r.svc.gateway.VerifyAndParseEvent(rawBody, signatureHeader)
	if err != nil {
		return nil, err
	}

	created, stored, err := r.svc.repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, NewIntegration(err, "webhook event persistence failed")
	}

	result := &WebhookResult{EventID: stored.ID, EventType: ev.Type}
	if !created {
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			// Redelivery of an event that already processed cleanly: safe no-op.
			result.Duplicate = true
			return result, nil
		}
		// The previous delivery failed mid-dispatch or never finished; the
		// provider is retrying because we answered with an error, so replay.
		log.Printf("billing webhook: replaying event %s after failed delivery", ev.ID)
	}

	procErr := r.dispatch(ctx, ev, result)

	procMsg := ""
	if procErr != nil {
		procMsg = procErr.Error()
	}
	if markErr := r.svc.repo.MarkWebhookProcessed(stored.ID, procMsg); markErr != nil {
		log.Printf("billing webhook: marking event %d processed failed: %v", stored.ID, markErr)
	}
	if procErr != nil {
		return result, procErr
	}
	return result, nil
}

func (r *Reconciler) dispatch(ctx context.Context, ev *ProviderEvent, result *WebhookResult) error {
	switch ev.Kind {
	case EventPaymentSucceeded, EventPaymentFailed:
		return r.applyInvoiceEvent(ctx, ev, result)
	case EventSubscriptionUpdated:
		return r.applySubscriptionUpdated(ev, result)
	case EventSubscriptionDeleted:
		return r.applySubscriptionDeleted(ev, result)
	default:
		// Forward-compatible: unrecognized kinds are accepted and ignored.
		log.Printf("billing webhook: ignoring event type %q", ev.Type)
		result.Ignored = true
		return nil
	}
}

func (r *Reconciler) applyInvoiceEvent(ctx context.Context, ev *ProviderEvent, result *WebhookResult) error {
	inv, err := r.svc.gateway.ParseInvoiceEvent(ev)
	if err != nil {
		return err
	}
	if inv.SubscriptionRef == "" {
		// One-off invoice not tied to a subscription.
		result.Ignored = true
		return nil
	}

	sub, found, err := r.resolveSubscription(inv.SubscriptionRef, ev.Type)
	if err != nil || !found {
		result.Ignored = !found
		return err
	}
	ref := accountctx.Ref{Kind: accountctx.Kind(sub.AccountType), ID: sub.AccountID}
	result.Account = ref

	if ev.Kind == EventPaymentFailed {
		updates := map[string]interface{}{"status": models.SubscriptionStatusPastDue}
		if _, err := r.svc.repo.ApplySubscriptionUpdate(sub.ID, updates, ev.CreatedAt); err != nil {
			return NewIntegration(err, "past_due transition failed")
		}
	}

	if inv.Payment.IntentRef == "" {
		return nil
	}
	card := r.svc.cardSummaryForAccount(ref)
	_, created, err := r.svc.RecordPayment(ctx, sub, inv.Payment, card)
	result.PaymentRecorded = created
	return err
}

func (r *Reconciler) applySubscriptionUpdated(ev *ProviderEvent, result *WebhookResult) error {
	provSub, err := r.svc.gateway.ParseSubscriptionEvent(ev)
	if err != nil {
		return err
	}

	sub, found, err := r.resolveSubscription(provSub.Ref, ev.Type)
	if err != nil || !found {
		result.Ignored = !found
		return err
	}
	result.Account = accountctx.Ref{Kind: accountctx.Kind(sub.AccountType), ID: sub.AccountID}

	// The provider is authoritative on this event: overwrite status, period
	// boundaries and cancellation flags, unless a newer write already landed.
	updates := providerStateUpdates(provSub)
	if provSub.PriceRef != "" {
		if plan, err := r.svc.repo.GetPlanByProviderPriceID(provSub.PriceRef); err == nil {
			updates["plan_id"] = plan.ID
		}
	}
	applied, err := r.svc.repo.ApplySubscriptionUpdate(sub.ID, updates, ev.CreatedAt)
	if err != nil {
		return NewIntegration(err, "subscription overwrite failed")
	}
	if !applied {
		log.Printf("billing webhook: event %s older than stored state for subscription %d, skipped", ev.ID, sub.ID)
	}
	return nil
}

func (r *Reconciler) applySubscriptionDeleted(ev *ProviderEvent, result *WebhookResult) error {
	provSub, err := r.svc.gateway.ParseSubscriptionEvent(ev)
	if err != nil {
		return err
	}

	sub, found, err := r.resolveSubscription(provSub.Ref, ev.Type)
	if err != nil || !found {
		result.Ignored = !found
		return err
	}
	result.Account = accountctx.Ref{Kind: accountctx.Kind(sub.AccountType), ID: sub.AccountID}
	if sub.Status == models.SubscriptionStatusCanceled {
		// Redelivered deletion for an already-terminal row.
		return nil
	}

	canceledAt := provSub.CanceledAt
	if canceledAt == nil {
		now := time.Now()
		canceledAt = &now
	}
	updates := map[string]interface{}{
		"status":               models.SubscriptionStatusCanceled,
		"cancel_at_period_end": false,
		"canceled_at":          canceledAt,
	}
	if _, err := r.svc.repo.ApplySubscriptionUpdate(sub.ID, updates, ev.CreatedAt); err != nil {
		return NewIntegration(err, "cancellation transition failed")
	}
	return nil
}

// resolveSubscription maps a provider subscription ref to the local row.
// Unknown refs are logged and ignored: the event may predate local record
// creation or belong to a different environment.
func (r *Reconciler) resolveSubscription(providerRef, eventType string) (*models.Subscription, bool, error) {
	sub, err := r.svc.repo.GetSubscriptionByProviderRef(providerRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("billing webhook: no local subscription for provider ref %s (event %s), ignoring", providerRef, eventType)
			return nil, false, nil
		}
		return nil, false, NewIntegration(err, "subscription lookup failed")
	}
	return sub, true, nil
}
