package models

import "time"

// PaymentMethod is a stored payment instrument. Per account at most one row has
// IsDefault set; the first method added becomes default automatically and
// deleting the default promotes the oldest remaining method.
type PaymentMethod struct {
	ID                      uint      `gorm:"primaryKey" json:"id"`
	AccountType             string    `gorm:"type:varchar(20);not null;index:idx_payment_methods_account,priority:1" json:"account_type"`
	AccountID               uint      `gorm:"not null;index:idx_payment_methods_account,priority:2" json:"account_id"`
	ProviderPaymentMethodID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_methods_provider_pm" json:"provider_payment_method_id"`
	CardBrand               string    `gorm:"type:varchar(20);default:''" json:"card_brand"`
	CardLast4               string    `gorm:"type:varchar(4);default:''" json:"card_last4"`
	CardExpMonth            int       `gorm:"default:0" json:"card_exp_month"`
	CardExpYear             int       `gorm:"default:0" json:"card_exp_year"`
	BillingName             string    `gorm:"type:varchar(150);default:''" json:"billing_name"`
	BillingEmail            string    `gorm:"type:varchar(200);default:''" json:"billing_email"`
	BillingAddressLine1     string    `gorm:"type:varchar(255);default:''" json:"billing_address_line1"`
	BillingAddressLine2     string    `gorm:"type:varchar(255);default:''" json:"billing_address_line2"`
	BillingCity             string    `gorm:"type:varchar(100);default:''" json:"billing_city"`
	BillingPostalCode       string    `gorm:"type:varchar(20);default:''" json:"billing_postal_code"`
	BillingCountry          string    `gorm:"type:varchar(2);default:''" json:"billing_country"`
	IsDefault               bool      `gorm:"default:false;index" json:"is_default"`
	CreatedAt               time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// MaskedSummary renders the stored card as shown to users and on ledger rows.
func (pm *PaymentMethod) MaskedSummary() string {
	if pm.CardLast4 == "" {
		return pm.CardBrand
	}
	return pm.CardBrand + " •••• " + pm.CardLast4
}
