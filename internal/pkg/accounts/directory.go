package accounts

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/curadesk/curadesk/app/models"
	"github.com/curadesk/curadesk/internal/pkg/accountctx"
)

// Account is the directory view of a billable tenant: just enough for billing
// to resolve ownership and the provider customer linkage. Clinic/therapist
// management itself lives in other services.
type Account struct {
	Ref         accountctx.Ref
	Name        string
	Email       string
	Status      string
	CustomerRef string
}

// IsActive reports whether the account may perform billing actions.
func (a *Account) IsActive() bool {
	return a.Status == models.STATUS_ACTIVE
}

// Directory resolves account refs against the local clinic/therapist tables.
type Directory interface {
	Resolve(ref accountctx.Ref) (*Account, error)
	FindByAPIKeyHash(hash string) (*Account, error)
}

type gormDirectory struct {
	db *gorm.DB
}

// NewDirectory creates an account directory backed by GORM.
func NewDirectory(db *gorm.DB) Directory {
	return &gormDirectory{db: db}
}

func (d *gormDirectory) Resolve(ref accountctx.Ref) (*Account, error) {
	switch ref.Kind {
	case accountctx.KindClinic:
		var clinic models.Clinic
		if err := d.db.First(&clinic, ref.ID).Error; err != nil {
			return nil, err
		}
		return &Account{
			Ref:         ref,
			Name:        clinic.Name,
			Email:       clinic.Email,
			Status:      clinic.Status,
			CustomerRef: clinic.ProviderCustomerID,
		}, nil
	case accountctx.KindTherapist:
		var therapist models.Therapist
		if err := d.db.First(&therapist, ref.ID).Error; err != nil {
			return nil, err
		}
		return &Account{
			Ref:         ref,
			Name:        therapist.Name,
			Email:       therapist.Email,
			Status:      therapist.Status,
			CustomerRef: therapist.ProviderCustomerID,
		}, nil
	default:
		return nil, fmt.Errorf("unknown account kind %q", ref.Kind)
	}
}

func (d *gormDirectory) FindByAPIKeyHash(hash string) (*Account, error) {
	var clinic models.Clinic
	err := d.db.Where("api_key_hash = ?", hash).First(&clinic).Error
	if err == nil {
		return &Account{
			Ref:         accountctx.Ref{Kind: accountctx.KindClinic, ID: clinic.ID},
			Name:        clinic.Name,
			Email:       clinic.Email,
			Status:      clinic.Status,
			CustomerRef: clinic.ProviderCustomerID,
		}, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	var therapist models.Therapist
	if err := d.db.Where("api_key_hash = ?", hash).First(&therapist).Error; err != nil {
		return nil, err
	}
	return &Account{
		Ref:         accountctx.Ref{Kind: accountctx.KindTherapist, ID: therapist.ID},
		Name:        therapist.Name,
		Email:       therapist.Email,
		Status:      therapist.Status,
		CustomerRef: therapist.ProviderCustomerID,
	}, nil
}
