package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusPending   = "pending"
	PaymentStatusFailed    = "failed"
)

// Payment is one row of the append-only payment ledger. The provider payment
// intent reference is the idempotency key: the unique index backs the
// insert-if-absent write path so the API response and a later webhook for the
// same intent collapse into a single row.
type Payment struct {
	ID                      uint            `gorm:"primaryKey" json:"id"`
	UUID                    string          `gorm:"type:varchar(36);not null;uniqueIndex" json:"uuid"`
	SubscriptionID          uint            `gorm:"not null;index" json:"subscription_id"`
	AccountType             string          `gorm:"type:varchar(20);not null;index:idx_payments_account,priority:1" json:"account_type"`
	AccountID               uint            `gorm:"not null;index:idx_payments_account,priority:2" json:"account_id"`
	ProviderPaymentIntentID string          `gorm:"type:varchar(191);not null;uniqueIndex:ux_payments_provider_intent" json:"provider_payment_intent_id"`
	ProviderChargeID        string          `gorm:"type:varchar(191);default:''" json:"provider_charge_id"`
	Amount                  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency                string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Status                  string          `gorm:"type:varchar(20);not null;index" json:"status"`
	Description             string          `gorm:"type:varchar(255);default:''" json:"description"`
	CardBrand               string          `gorm:"type:varchar(20);default:''" json:"card_brand"`
	CardLast4               string          `gorm:"type:varchar(4);default:''" json:"card_last4"`
	PaidAt                  *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt               time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt               time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
