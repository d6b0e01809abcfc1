package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	PlanIntervalDay   = "day"
	PlanIntervalWeek  = "week"
	PlanIntervalMonth = "month"
	PlanIntervalYear  = "year"
)

// Audience tags select which account kind a plan is sold to.
const (
	PlanAudienceClinic    = "clinic"
	PlanAudienceTherapist = "therapist"
)

// Plan is a published subscription plan. Price and interval are immutable once
// any subscription references the plan; price changes mint a new provider price
// reference instead of mutating the row in place.
type Plan struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Name              string          `gorm:"type:varchar(150);not null;index:idx_plans_name_audience,priority:1" json:"name" validate:"required,min=3,max=150"`
	Description       string          `gorm:"type:text" json:"description" validate:"max=2000"`
	Price             decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Currency          string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency" validate:"len=3"`
	BillingInterval   string          `gorm:"type:varchar(10);not null" json:"billing_interval" validate:"oneof=day week month year"`
	IntervalCount     int             `gorm:"not null;default:1" json:"interval_count" validate:"min=1"`
	FeaturesJSON      string          `gorm:"type:text" json:"features_json"`
	Audience          string          `gorm:"type:varchar(20);not null;index:idx_plans_name_audience,priority:2" json:"audience" validate:"oneof=clinic therapist"`
	ProviderProductID string          `gorm:"type:varchar(191);default:''" json:"provider_product_id"`
	ProviderPriceID   string          `gorm:"type:varchar(191);default:'';index" json:"provider_price_id"`
	ExpiredAt         *time.Time      `gorm:"type:timestamp;default:null;index" json:"expired_at,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Plan) Validate() error {
	v := validator.New()
	return v.Struct(p)
}

// IsRetired reports whether the plan has been soft-deleted.
func (p *Plan) IsRetired() bool {
	return p.ExpiredAt != nil
}
