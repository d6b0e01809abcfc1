package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Event kinds the reconciler dispatches on. Provider-specific event type
// strings are normalized at the gateway boundary.
type EventKind string

const (
	EventPaymentSucceeded    EventKind = "payment_succeeded"
	EventPaymentFailed       EventKind = "payment_failed"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
	EventUnknown             EventKind = "unknown"
)

// ProviderSubscription is the normalized shape of a provider subscription
// response. Timestamps are already converted from Unix seconds.
type ProviderSubscription struct {
	Ref                string
	Status             string
	PriceRef           string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	// LatestPayment is set when the provider's initial or proration invoice
	// already resolved a payment at response time.
	LatestPayment *ProviderPayment
}

// ProviderPayment is a normalized settled or attempted charge.
type ProviderPayment struct {
	IntentRef   string
	ChargeRef   string
	Amount      decimal.Decimal
	Currency    string
	Status      string
	Description string
	PaidAt      *time.Time
}

// ProviderInvoice is the normalized payload of an invoice event.
type ProviderInvoice struct {
	SubscriptionRef string
	Payment         ProviderPayment
}

// ProviderPaymentMethod describes a stored instrument as reported by the
// provider when attaching it to a customer.
type ProviderPaymentMethod struct {
	Ref          string
	Brand        string
	Last4        string
	ExpMonth     int
	ExpYear      int
	BillingName  string
	BillingEmail string
}

// ProviderEvent is a signature-verified webhook event.
type ProviderEvent struct {
	ID        string
	Type      string
	Kind      EventKind
	CreatedAt time.Time
	// Payload is the provider object embedded in the event (subscription,
	// invoice, ...), kept raw for kind-specific parsing.
	Payload []byte
}

// Gateway is the single injected abstraction over the external billing
// provider. One instance is constructed at process start and shared; no
// component constructs its own provider client.
type Gateway interface {
	CreateSubscription(ctx context.Context, customerRef, priceRef, paymentMethodRef string) (*ProviderSubscription, error)
	ChangeSubscriptionPrice(ctx context.Context, subscriptionRef, newPriceRef string) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) (*ProviderSubscription, error)
	ReactivateSubscription(ctx context.Context, subscriptionRef string) (*ProviderSubscription, error)

	AttachPaymentMethod(ctx context.Context, customerRef, paymentMethodRef string) (*ProviderPaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodRef string) error
	SetDefaultPaymentMethod(ctx context.Context, customerRef, paymentMethodRef string) error

	CreateProduct(ctx context.Context, name, description string) (string, error)
	UpdateProduct(ctx context.Context, productRef, name, description string) error
	CreatePrice(ctx context.Context, productRef string, amount decimal.Decimal, currency, interval string, intervalCount int) (string, error)
	DeactivatePrice(ctx context.Context, priceRef string) error

	// VerifyAndParseEvent authenticates a raw webhook body against its
	// signature header. Invalid signatures yield a SignatureError.
	VerifyAndParseEvent(payload []byte, signatureHeader string) (*ProviderEvent, error)
	ParseSubscriptionEvent(ev *ProviderEvent) (*ProviderSubscription, error)
	ParseInvoiceEvent(ev *ProviderEvent) (*ProviderInvoice, error)
}
