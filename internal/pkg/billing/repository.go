package billing

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/curadesk/curadesk/app/models"
)

// ErrLiveSubscriptionExists is returned by CreateSubscription when the
// account already holds a live subscription at insert time.
var ErrLiveSubscriptionExists = errors.New("account already has a live subscription")

// Repository provides DB operations used by the billing service, ledger and
// webhook reconciler.
type Repository interface {
	GetPlan(id uint) (*models.Plan, error)
	GetPlanByProviderPriceID(priceRef string) (*models.Plan, error)

	// CreateSubscription inserts sub after re-checking the single-live-
	// subscription invariant under a locking read, in one transaction.
	CreateSubscription(sub *models.Subscription) error
	GetLiveSubscription(accountType string, accountID uint) (*models.Subscription, error)
	GetLatestSubscription(accountType string, accountID uint) (*models.Subscription, error)
	GetSubscriptionByProviderRef(providerSubscriptionID string) (*models.Subscription, error)
	CountLiveSubscriptionsOnPlan(planID uint) (int64, error)
	// ApplySubscriptionUpdate writes updates to one subscription row only if
	// the stored provider sync point is not newer than syncedAt. Returns
	// whether the row was written. This is the single write path for all
	// post-create subscription mutations.
	ApplySubscriptionUpdate(id uint, updates map[string]interface{}, syncedAt time.Time) (bool, error)

	GetPaymentMethod(accountType string, accountID, id uint) (*models.PaymentMethod, error)
	GetDefaultPaymentMethod(accountType string, accountID uint) (*models.PaymentMethod, error)

	CreatePaymentIfAbsent(payment *models.Payment) (bool, *models.Payment, error)
	ListPaymentsByAccount(accountType string, accountID uint, offset, limit int) ([]models.Payment, int64, error)

	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetPlan(id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) GetPlanByProviderPriceID(priceRef string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.Where("provider_price_id = ?", priceRef).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_type = ? AND account_id = ? AND status IN ?", sub.AccountType, sub.AccountID, models.LiveSubscriptionStatuses).
			First(&existing).Error
		if err == nil {
			return ErrLiveSubscriptionExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(sub).Error
	})
}

func (r *gormRepository) GetLiveSubscription(accountType string, accountID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("account_type = ? AND account_id = ? AND status IN ?", accountType, accountID, models.LiveSubscriptionStatuses).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetLatestSubscription(accountType string, accountID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("account_type = ? AND account_id = ?", accountType, accountID).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByProviderRef(providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider_subscription_id = ?", providerSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CountLiveSubscriptionsOnPlan(planID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).
		Where("plan_id = ? AND status IN ?", planID, models.LiveSubscriptionStatuses).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) ApplySubscriptionUpdate(id uint, updates map[string]interface{}, syncedAt time.Time) (bool, error) {
	merged := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		merged[k] = v
	}
	merged["provider_synced_at"] = syncedAt

	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND (provider_synced_at IS NULL OR provider_synced_at <= ?)", id, syncedAt).
		Updates(merged)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) GetPaymentMethod(accountType string, accountID, id uint) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := r.db.
		Where("id = ? AND account_type = ? AND account_id = ?", id, accountType, accountID).
		First(&pm).Error
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

func (r *gormRepository) GetDefaultPaymentMethod(accountType string, accountID uint) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := r.db.
		Where("account_type = ? AND account_id = ? AND is_default = ?", accountType, accountID, true).
		First(&pm).Error
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

func (r *gormRepository) CreatePaymentIfAbsent(payment *models.Payment) (bool, *models.Payment, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_payment_intent_id"},
		},
		DoNothing: true,
	}).Create(payment)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.Payment
	if err := r.db.Where("provider_payment_intent_id = ?", payment.ProviderPaymentIntentID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) ListPaymentsByAccount(accountType string, accountID uint, offset, limit int) ([]models.Payment, int64, error) {
	var total int64
	base := r.db.Model(&models.Payment{}).
		Where("account_type = ? AND account_id = ?", accountType, accountID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []models.Payment
	err := r.db.
		Where("account_type = ? AND account_id = ?", accountType, accountID).
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&payments).Error
	return payments, total, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
