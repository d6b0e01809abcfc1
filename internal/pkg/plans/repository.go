package plans

import (
	"gorm.io/gorm"

	"github.com/curadesk/curadesk/app/models"
)

// ListFilter narrows listPlans results.
type ListFilter struct {
	Audience       string
	IncludeRetired bool
}

// Repository provides DB operations used by the plan catalog.
type Repository interface {
	Create(plan *models.Plan) error
	GetByID(id uint) (*models.Plan, error)
	FindActiveByNameAudience(name, audience string) (*models.Plan, error)
	Save(plan *models.Plan) error
	List(filter ListFilter) ([]models.Plan, error)
	CountLiveSubscriptions(planID uint) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a plan repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(plan *models.Plan) error {
	return r.db.Create(plan).Error
}

func (r *gormRepository) GetByID(id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) FindActiveByNameAudience(name, audience string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.
		Where("name = ? AND audience = ? AND expired_at IS NULL", name, audience).
		First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) Save(plan *models.Plan) error {
	return r.db.Save(plan).Error
}

func (r *gormRepository) List(filter ListFilter) ([]models.Plan, error) {
	q := r.db.Model(&models.Plan{})
	if filter.Audience != "" {
		q = q.Where("audience = ?", filter.Audience)
	}
	if !filter.IncludeRetired {
		q = q.Where("expired_at IS NULL")
	}
	var plans []models.Plan
	err := q.Order("price ASC").Find(&plans).Error
	return plans, err
}

func (r *gormRepository) CountLiveSubscriptions(planID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).
		Where("plan_id = ? AND status IN ?", planID, models.LiveSubscriptionStatuses).
		Count(&count).Error
	return count, err
}
