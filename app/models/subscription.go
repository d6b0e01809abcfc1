package models

import "time"

// Account kinds that can own subscriptions and payment methods. A subscription
// belongs to exactly one of them, never both.
const (
	AccountTypeClinic    = "clinic"
	AccountTypeTherapist = "therapist"
)

const (
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusUnpaid     = "unpaid"
	SubscriptionStatusCanceled   = "canceled"
)

// Subscription is the authoritative local record of a provider subscription.
// Rows are never hard-deleted; canceled subscriptions remain as history.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	AccountType            string     `gorm:"type:varchar(20);not null;index:idx_subscriptions_account,priority:1" json:"account_type"`
	AccountID              uint       `gorm:"not null;index:idx_subscriptions_account,priority:2" json:"account_id"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_provider_sub" json:"provider_subscription_id"`
	PlanID                 uint       `gorm:"not null;index" json:"plan_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt             *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	// ProviderSyncedAt orders webhook writes against synchronous API writes.
	ProviderSyncedAt *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Plan *Plan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

// IsLive reports whether the subscription currently entitles the account.
func (s *Subscription) IsLive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// LiveSubscriptionStatuses are the statuses counted against the
// one-live-subscription-per-account invariant.
var LiveSubscriptionStatuses = []string{SubscriptionStatusActive, SubscriptionStatusTrialing}
