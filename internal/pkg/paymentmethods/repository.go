package paymentmethods

import (
	"gorm.io/gorm"

	"github.com/curadesk/curadesk/app/models"
)

// Repository provides DB operations for stored payment instruments. The
// default-flag invariants (at most one default per account, no zero-default
// window while methods exist) are enforced inside transactions here, never by
// read-modify-write in the service.
type Repository interface {
	GetByID(accountType string, accountID, id uint) (*models.PaymentMethod, error)
	GetByProviderRef(providerPaymentMethodID string) (*models.PaymentMethod, error)
	GetDefault(accountType string, accountID uint) (*models.PaymentMethod, error)
	ListByAccount(accountType string, accountID uint) ([]models.PaymentMethod, error)
	Save(pm *models.PaymentMethod) error

	// CreateWithDefaultRule inserts pm and makes it the default when the
	// account has no other method, in one transaction.
	CreateWithDefaultRule(pm *models.PaymentMethod) error
	// DeleteAndPromote removes pm and, when it was the default, promotes the
	// oldest remaining method in the same transaction.
	DeleteAndPromote(pm *models.PaymentMethod) (*models.PaymentMethod, error)
	// SetDefault clears the default flag on all of the account's methods and
	// sets it on the target, in one transaction.
	SetDefault(accountType string, accountID, id uint) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment method repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetByID(accountType string, accountID, id uint) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := r.db.
		Where("id = ? AND account_type = ? AND account_id = ?", id, accountType, accountID).
		First(&pm).Error
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

func (r *gormRepository) GetByProviderRef(providerPaymentMethodID string) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := r.db.
		Where("provider_payment_method_id = ?", providerPaymentMethodID).
		First(&pm).Error
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

func (r *gormRepository) GetDefault(accountType string, accountID uint) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := r.db.
		Where("account_type = ? AND account_id = ? AND is_default = ?", accountType, accountID, true).
		First(&pm).Error
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

func (r *gormRepository) ListByAccount(accountType string, accountID uint) ([]models.PaymentMethod, error) {
	var pms []models.PaymentMethod
	err := r.db.
		Where("account_type = ? AND account_id = ?", accountType, accountID).
		Order("id ASC").
		Find(&pms).Error
	return pms, err
}

func (r *gormRepository) Save(pm *models.PaymentMethod) error {
	return r.db.Save(pm).Error
}

func (r *gormRepository) CreateWithDefaultRule(pm *models.PaymentMethod) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.PaymentMethod{}).
			Where("account_type = ? AND account_id = ?", pm.AccountType, pm.AccountID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			pm.IsDefault = true
		}
		return tx.Create(pm).Error
	})
}

func (r *gormRepository) DeleteAndPromote(pm *models.PaymentMethod) (*models.PaymentMethod, error) {
	var promoted *models.PaymentMethod
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.PaymentMethod{}, pm.ID).Error; err != nil {
			return err
		}
		if !pm.IsDefault {
			return nil
		}

		var oldest models.PaymentMethod
		err := tx.
			Where("account_type = ? AND account_id = ?", pm.AccountType, pm.AccountID).
			Order("id ASC").
			First(&oldest).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&oldest).Update("is_default", true).Error; err != nil {
			return err
		}
		oldest.IsDefault = true
		promoted = &oldest
		return nil
	})
	return promoted, err
}

func (r *gormRepository) SetDefault(accountType string, accountID, id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.PaymentMethod{}).
			Where("account_type = ? AND account_id = ? AND id <> ?", accountType, accountID, id).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.PaymentMethod{}).
			Where("id = ? AND account_type = ? AND account_id = ?", id, accountType, accountID).
			Update("is_default", true).Error
	})
}
