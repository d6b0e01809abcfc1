package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Therapist is an individually billable practitioner. ClinicID is set when the
// therapist practices under a clinic tenant; a clinic-affiliated therapist is
// still its own billing account when it subscribes directly.
type Therapist struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Name               string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=3,max=150"`
	Email              string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	LicenseNumber      string         `gorm:"type:varchar(100);default:''" json:"license_number"`
	ClinicID           *uint          `gorm:"default:null;index" json:"clinic_id,omitempty"`
	Status             string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	ProviderCustomerID string         `gorm:"type:varchar(191);default:'';index" json:"-"`
	APIKeyHash         string         `gorm:"type:varchar(64);default:null;index" json:"-"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

func (t *Therapist) Validate() error {
	v := validator.New()
	return v.Struct(t)
}
