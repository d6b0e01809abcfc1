package billing_test

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/curadesk/curadesk/app/models"
	"github.com/curadesk/curadesk/internal/pkg/accountctx"
	"github.com/curadesk/curadesk/internal/pkg/accounts"
	"github.com/curadesk/curadesk/internal/pkg/billing"
)

// fakeRepo is an in-memory billing.Repository. Write guards mirror the SQL
// semantics of the real implementation closely enough for lifecycle tests.
type fakeRepo struct {
	plans         map[uint]*models.Plan
	subscriptions map[uint]*models.Subscription
	payments      map[string]*models.Payment
	methods       map[uint]*models.PaymentMethod
	events        map[string]*models.BillingWebhookEvent

	nextSubID     uint
	nextPayID     uint
	nextEventID   uint
	processedMsgs map[uint]string

	// failSubUpdate makes the next ApplySubscriptionUpdate call return it.
	failSubUpdate error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		plans:         map[uint]*models.Plan{},
		subscriptions: map[uint]*models.Subscription{},
		payments:      map[string]*models.Payment{},
		methods:       map[uint]*models.PaymentMethod{},
		events:        map[string]*models.BillingWebhookEvent{},
		nextSubID:     1,
		nextPayID:     1,
		nextEventID:   1,
		processedMsgs: map[uint]string{},
	}
}

func (r *fakeRepo) addPlan(p models.Plan) *models.Plan {
	cp := p
	r.plans[cp.ID] = &cp
	return &cp
}

func (r *fakeRepo) addMethod(pm models.PaymentMethod) *models.PaymentMethod {
	cp := pm
	r.methods[cp.ID] = &cp
	return &cp
}

func (r *fakeRepo) addSubscription(sub models.Subscription) *models.Subscription {
	cp := sub
	if cp.ID == 0 {
		cp.ID = r.nextSubID
	}
	if cp.ID >= r.nextSubID {
		r.nextSubID = cp.ID + 1
	}
	r.subscriptions[cp.ID] = &cp
	return &cp
}

func (r *fakeRepo) GetPlan(id uint) (*models.Plan, error) {
	if p, ok := r.plans[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetPlanByProviderPriceID(priceRef string) (*models.Plan, error) {
	for _, p := range r.plans {
		if p.ProviderPriceID == priceRef {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) CreateSubscription(sub *models.Subscription) error {
	for _, existing := range r.subscriptions {
		if existing.AccountType == sub.AccountType && existing.AccountID == sub.AccountID && existing.IsLive() {
			return billing.ErrLiveSubscriptionExists
		}
	}
	sub.ID = r.nextSubID
	r.nextSubID++
	cp := *sub
	r.subscriptions[cp.ID] = &cp
	return nil
}

func (r *fakeRepo) GetLiveSubscription(accountType string, accountID uint) (*models.Subscription, error) {
	var best *models.Subscription
	for _, s := range r.subscriptions {
		if s.AccountType != accountType || s.AccountID != accountID || !s.IsLive() {
			continue
		}
		if best == nil || s.ID > best.ID {
			best = s
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *fakeRepo) GetLatestSubscription(accountType string, accountID uint) (*models.Subscription, error) {
	var best *models.Subscription
	for _, s := range r.subscriptions {
		if s.AccountType != accountType || s.AccountID != accountID {
			continue
		}
		if best == nil || s.ID > best.ID {
			best = s
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *fakeRepo) GetSubscriptionByProviderRef(providerSubscriptionID string) (*models.Subscription, error) {
	for _, s := range r.subscriptions {
		if s.ProviderSubscriptionID == providerSubscriptionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) CountLiveSubscriptionsOnPlan(planID uint) (int64, error) {
	var n int64
	for _, s := range r.subscriptions {
		if s.PlanID == planID && s.IsLive() {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) ApplySubscriptionUpdate(id uint, updates map[string]interface{}, syncedAt time.Time) (bool, error) {
	if err := r.failSubUpdate; err != nil {
		r.failSubUpdate = nil
		return false, err
	}
	sub, ok := r.subscriptions[id]
	if !ok {
		return false, nil
	}
	if sub.ProviderSyncedAt != nil && sub.ProviderSyncedAt.After(syncedAt) {
		return false, nil
	}
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
	ts := syncedAt
	sub.ProviderSyncedAt = &ts
	return true, nil
}

func (r *fakeRepo) GetPaymentMethod(accountType string, accountID, id uint) (*models.PaymentMethod, error) {
	pm, ok := r.methods[id]
	if !ok || pm.AccountType != accountType || pm.AccountID != accountID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *pm
	return &cp, nil
}

func (r *fakeRepo) GetDefaultPaymentMethod(accountType string, accountID uint) (*models.PaymentMethod, error) {
	for _, pm := range r.methods {
		if pm.AccountType == accountType && pm.AccountID == accountID && pm.IsDefault {
			cp := *pm
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) CreatePaymentIfAbsent(payment *models.Payment) (bool, *models.Payment, error) {
	if existing, ok := r.payments[payment.ProviderPaymentIntentID]; ok {
		cp := *existing
		return false, &cp, nil
	}
	payment.ID = r.nextPayID
	r.nextPayID++
	cp := *payment
	r.payments[cp.ProviderPaymentIntentID] = &cp
	out := cp
	return true, &out, nil
}

func (r *fakeRepo) ListPaymentsByAccount(accountType string, accountID uint, offset, limit int) ([]models.Payment, int64, error) {
	var all []models.Payment
	for _, p := range r.payments {
		if p.AccountType == accountType && p.AccountID == accountID {
			all = append(all, *p)
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	key := event.Provider + "|" + event.ProviderEventID
	if existing, ok := r.events[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	event.ID = r.nextEventID
	r.nextEventID++
	cp := *event
	r.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.processedMsgs[id] = processingError
	for _, ev := range r.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
		}
	}
	return nil
}

// fakeGateway is a billing.Gateway with overridable behavior per call.
type fakeGateway struct {
	createSubscription      func(customerRef, priceRef, paymentMethodRef string) (*billing.ProviderSubscription, error)
	changeSubscriptionPrice func(subscriptionRef, newPriceRef string) (*billing.ProviderSubscription, error)
	cancelSubscription      func(subscriptionRef string, atPeriodEnd bool) (*billing.ProviderSubscription, error)
	reactivateSubscription  func(subscriptionRef string) (*billing.ProviderSubscription, error)
	verifyAndParseEvent     func(payload []byte, signatureHeader string) (*billing.ProviderEvent, error)
	parseSubscriptionEvent  func(ev *billing.ProviderEvent) (*billing.ProviderSubscription, error)
	parseInvoiceEvent       func(ev *billing.ProviderEvent) (*billing.ProviderInvoice, error)
}

func (g *fakeGateway) CreateSubscription(_ context.Context, customerRef, priceRef, paymentMethodRef string) (*billing.ProviderSubscription, error) {
	return g.createSubscription(customerRef, priceRef, paymentMethodRef)
}

func (g *fakeGateway) ChangeSubscriptionPrice(_ context.Context, subscriptionRef, newPriceRef string) (*billing.ProviderSubscription, error) {
	return g.changeSubscriptionPrice(subscriptionRef, newPriceRef)
}

func (g *fakeGateway) CancelSubscription(_ context.Context, subscriptionRef string, atPeriodEnd bool) (*billing.ProviderSubscription, error) {
	return g.cancelSubscription(subscriptionRef, atPeriodEnd)
}

func (g *fakeGateway) ReactivateSubscription(_ context.Context, subscriptionRef string) (*billing.ProviderSubscription, error) {
	return g.reactivateSubscription(subscriptionRef)
}

func (g *fakeGateway) AttachPaymentMethod(_ context.Context, _, paymentMethodRef string) (*billing.ProviderPaymentMethod, error) {
	return &billing.ProviderPaymentMethod{Ref: paymentMethodRef}, nil
}

func (g *fakeGateway) DetachPaymentMethod(_ context.Context, _ string) error { return nil }

func (g *fakeGateway) SetDefaultPaymentMethod(_ context.Context, _, _ string) error { return nil }

func (g *fakeGateway) CreateProduct(_ context.Context, _, _ string) (string, error) {
	return "prod_fake", nil
}

func (g *fakeGateway) UpdateProduct(_ context.Context, _, _, _ string) error { return nil }

func (g *fakeGateway) CreatePrice(_ context.Context, _ string, _ decimal.Decimal, _, _ string, _ int) (string, error) {
	return "price_fake", nil
}

func (g *fakeGateway) DeactivatePrice(_ context.Context, _ string) error { return nil }

func (g *fakeGateway) VerifyAndParseEvent(payload []byte, signatureHeader string) (*billing.ProviderEvent, error) {
	return g.verifyAndParseEvent(payload, signatureHeader)
}

func (g *fakeGateway) ParseSubscriptionEvent(ev *billing.ProviderEvent) (*billing.ProviderSubscription, error) {
	return g.parseSubscriptionEvent(ev)
}

func (g *fakeGateway) ParseInvoiceEvent(ev *billing.ProviderEvent) (*billing.ProviderInvoice, error) {
	return g.parseInvoiceEvent(ev)
}

// fakeDirectory resolves accounts from a static map.
type fakeDirectory struct {
	accounts map[accountctx.Ref]*accounts.Account
}

func (d *fakeDirectory) Resolve(ref accountctx.Ref) (*accounts.Account, error) {
	if a, ok := d.accounts[ref]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (d *fakeDirectory) FindByAPIKeyHash(string) (*accounts.Account, error) {
	return nil, gorm.ErrRecordNotFound
}

func clinicDirectory(id uint, customerRef string) *fakeDirectory {
	ref := accountctx.Ref{Kind: accountctx.KindClinic, ID: id}
	return &fakeDirectory{accounts: map[accountctx.Ref]*accounts.Account{
		ref: {Ref: ref, Name: "Test Clinic", Email: "clinic@example.com", Status: models.STATUS_ACTIVE, CustomerRef: customerRef},
	}}
}
