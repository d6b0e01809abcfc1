package billing

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/curadesk/curadesk/app/models"
)

// StripeGateway implements Gateway against the Stripe API. Construct exactly
// one per process via NewStripeGateway and inject it everywhere.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway builds the gateway with its own API client instance; no
// global stripe.Key is set.
func NewStripeGateway(apiKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, customerRef, priceRef, paymentMethodRef string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerRef),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceRef)},
		},
		DefaultPaymentMethod: stripe.String(paymentMethodRef),
		PaymentBehavior:      stripe.String("allow_incomplete"),
		Expand:               []*string{stripe.String("latest_invoice.payment_intent")},
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(uuid.NewString())

	sub, err := g.api.Subscriptions.New(params)
	if err != nil {
		return nil, NewIntegration(err, "provider subscription creation failed")
	}
	return normalizeSubscription(sub)
}

func (g *StripeGateway) ChangeSubscriptionPrice(ctx context.Context, subscriptionRef, newPriceRef string) (*ProviderSubscription, error) {
	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	current, err := g.api.Subscriptions.Get(subscriptionRef, getParams)
	if err != nil {
		return nil, NewIntegration(err, "provider subscription lookup failed")
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, NewIntegration(nil, "provider subscription %s has no items", subscriptionRef)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(newPriceRef),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
		Expand:            []*string{stripe.String("latest_invoice.payment_intent")},
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(uuid.NewString())

	updated, err := g.api.Subscriptions.Update(subscriptionRef, params)
	if err != nil {
		return nil, NewIntegration(err, "provider subscription update failed")
	}
	return normalizeSubscription(updated)
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) (*ProviderSubscription, error) {
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		params.Context = ctx
		updated, err := g.api.Subscriptions.Update(subscriptionRef, params)
		if err != nil {
			return nil, NewIntegration(err, "provider deferred cancel failed")
		}
		return normalizeSubscription(updated)
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	canceled, err := g.api.Subscriptions.Cancel(subscriptionRef, params)
	if err != nil {
		return nil, NewIntegration(err, "provider immediate cancel failed")
	}
	return normalizeSubscription(canceled)
}

func (g *StripeGateway) ReactivateSubscription(ctx context.Context, subscriptionRef string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	params.Context = ctx
	updated, err := g.api.Subscriptions.Update(subscriptionRef, params)
	if err != nil {
		return nil, NewIntegration(err, "provider reactivate failed")
	}
	return normalizeSubscription(updated)
}

func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, customerRef, paymentMethodRef string) (*ProviderPaymentMethod, error) {
	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerRef),
	}
	params.Context = ctx
	pm, err := g.api.PaymentMethods.Attach(paymentMethodRef, params)
	if err != nil {
		return nil, NewIntegration(err, "provider payment method attach failed")
	}

	out := &ProviderPaymentMethod{Ref: pm.ID}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = int(pm.Card.ExpMonth)
		out.ExpYear = int(pm.Card.ExpYear)
	}
	if pm.BillingDetails != nil {
		out.BillingName = pm.BillingDetails.Name
		out.BillingEmail = pm.BillingDetails.Email
	}
	return out, nil
}

func (g *StripeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodRef string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	if _, err := g.api.PaymentMethods.Detach(paymentMethodRef, params); err != nil {
		return NewIntegration(err, "provider payment method detach failed")
	}
	return nil
}

func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerRef, paymentMethodRef string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodRef),
		},
	}
	params.Context = ctx
	if _, err := g.api.Customers.Update(customerRef, params); err != nil {
		return NewIntegration(err, "provider default payment method update failed")
	}
	return nil
}

func (g *StripeGateway) CreateProduct(ctx context.Context, name, description string) (string, error) {
	params := &stripe.ProductParams{
		Name: stripe.String(name),
	}
	if description != "" {
		params.Description = stripe.String(description)
	}
	params.Context = ctx
	product, err := g.api.Products.New(params)
	if err != nil {
		return "", NewIntegration(err, "provider product creation failed")
	}
	return product.ID, nil
}

func (g *StripeGateway) UpdateProduct(ctx context.Context, productRef, name, description string) error {
	params := &stripe.ProductParams{}
	if name != "" {
		params.Name = stripe.String(name)
	}
	if description != "" {
		params.Description = stripe.String(description)
	}
	params.Context = ctx
	if _, err := g.api.Products.Update(productRef, params); err != nil {
		return NewIntegration(err, "provider product update failed")
	}
	return nil
}

func (g *StripeGateway) CreatePrice(ctx context.Context, productRef string, amount decimal.Decimal, currency, interval string, intervalCount int) (string, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(productRef),
		UnitAmount: stripe.Int64(amount.Shift(2).IntPart()),
		Currency:   stripe.String(strings.ToLower(currency)),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(interval),
			IntervalCount: stripe.Int64(int64(intervalCount)),
		},
	}
	params.Context = ctx
	price, err := g.api.Prices.New(params)
	if err != nil {
		return "", NewIntegration(err, "provider price creation failed")
	}
	return price.ID, nil
}

func (g *StripeGateway) DeactivatePrice(ctx context.Context, priceRef string) error {
	params := &stripe.PriceParams{
		Active: stripe.Bool(false),
	}
	params.Context = ctx
	if _, err := g.api.Prices.Update(priceRef, params); err != nil {
		return NewIntegration(err, "provider price deactivation failed")
	}
	return nil
}

func (g *StripeGateway) VerifyAndParseEvent(payload []byte, signatureHeader string) (*ProviderEvent, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, g.webhookSecret)
	if err != nil {
		return nil, NewSignature("webhook signature verification failed")
	}
	return &ProviderEvent{
		ID:        event.ID,
		Type:      string(event.Type),
		Kind:      eventKindFromType(string(event.Type)),
		CreatedAt: time.Unix(event.Created, 0),
		Payload:   event.Data.Raw,
	}, nil
}

func (g *StripeGateway) ParseSubscriptionEvent(ev *ProviderEvent) (*ProviderSubscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(ev.Payload, &sub); err != nil {
		return nil, NewIntegration(err, "malformed subscription event payload")
	}
	return normalizeSubscription(&sub)
}

func (g *StripeGateway) ParseInvoiceEvent(ev *ProviderEvent) (*ProviderInvoice, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(ev.Payload, &inv); err != nil {
		return nil, NewIntegration(err, "malformed invoice event payload")
	}
	out := &ProviderInvoice{}
	if inv.Subscription != nil {
		out.SubscriptionRef = inv.Subscription.ID
	}
	out.Payment = ProviderPayment{
		Amount:      decimal.New(inv.AmountPaid, -2),
		Currency:    string(inv.Currency),
		Status:      models.PaymentStatusSucceeded,
		Description: inv.Description,
	}
	if ev.Kind == EventPaymentFailed {
		out.Payment.Amount = decimal.New(inv.AmountDue, -2)
		out.Payment.Status = models.PaymentStatusFailed
	}
	if inv.PaymentIntent != nil {
		out.Payment.IntentRef = inv.PaymentIntent.ID
		if inv.PaymentIntent.LatestCharge != nil {
			out.Payment.ChargeRef = inv.PaymentIntent.LatestCharge.ID
		}
	}
	if inv.Charge != nil && out.Payment.ChargeRef == "" {
		out.Payment.ChargeRef = inv.Charge.ID
	}
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		paidAt := time.Unix(inv.StatusTransitions.PaidAt, 0)
		out.Payment.PaidAt = &paidAt
	}
	return out, nil
}

// normalizeSubscription converts a Stripe subscription into the provider
// neutral shape. Missing period boundaries are a fatal integration error:
// proration cannot be computed without them.
func normalizeSubscription(sub *stripe.Subscription) (*ProviderSubscription, error) {
	if sub.CurrentPeriodStart == 0 || sub.CurrentPeriodEnd == 0 {
		return nil, NewIntegration(nil, "provider subscription %s is missing period boundaries", sub.ID)
	}

	out := &ProviderSubscription{
		Ref:                sub.ID,
		Status:             normalizeProviderStatus(string(sub.Status)),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.CanceledAt > 0 {
		canceledAt := time.Unix(sub.CanceledAt, 0)
		out.CanceledAt = &canceledAt
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceRef = sub.Items.Data[0].Price.ID
	}
	out.LatestPayment = latestPaymentFromInvoice(sub.LatestInvoice)
	return out, nil
}

func latestPaymentFromInvoice(inv *stripe.Invoice) *ProviderPayment {
	if inv == nil || inv.PaymentIntent == nil {
		return nil
	}
	pi := inv.PaymentIntent

	payment := &ProviderPayment{
		IntentRef:   pi.ID,
		Amount:      decimal.New(pi.Amount, -2),
		Currency:    string(pi.Currency),
		Description: inv.Description,
	}
	if pi.LatestCharge != nil {
		payment.ChargeRef = pi.LatestCharge.ID
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		payment.Status = models.PaymentStatusSucceeded
		paidAt := time.Unix(pi.Created, 0)
		if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
			paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0)
		}
		payment.PaidAt = &paidAt
	case stripe.PaymentIntentStatusCanceled:
		payment.Status = models.PaymentStatusFailed
	default:
		payment.Status = models.PaymentStatusPending
	}
	return payment
}

func normalizeProviderStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "active":
		return models.SubscriptionStatusActive
	case "past_due", "paused":
		return models.SubscriptionStatusPastDue
	case "unpaid":
		return models.SubscriptionStatusUnpaid
	case "canceled", "incomplete_expired":
		return models.SubscriptionStatusCanceled
	default:
		return models.SubscriptionStatusIncomplete
	}
}

func eventKindFromType(eventType string) EventKind {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "invoice.payment_succeeded", "invoice.paid":
		return EventPaymentSucceeded
	case "invoice.payment_failed":
		return EventPaymentFailed
	case "customer.subscription.updated":
		return EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventSubscriptionDeleted
	default:
		return EventUnknown
	}
}
