package plans

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/curadesk/curadesk/app/models"
	"github.com/curadesk/curadesk/internal/pkg/billing"
)

// Service is the plan catalog: the source of truth for what can be sold and
// at which provider price reference. Published plans are immutable in price
// and interval; "changing" either mints a new provider price and deactivates
// the old one, so existing subscriptions keep their bound price until the
// provider renews them.
type Service struct {
	repo    Repository
	gateway billing.Gateway
}

// NewService creates a plan catalog from an injected repository and gateway.
func NewService(repo Repository, gateway billing.Gateway) *Service {
	return &Service{repo: repo, gateway: gateway}
}

// NewServiceFromDB creates a plan catalog from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway billing.Gateway) *Service {
	return NewService(NewRepository(db), gateway)
}

// CreatePlanInput carries everything needed to publish a new plan.
type CreatePlanInput struct {
	Name         string
	Description  string
	Price        decimal.Decimal
	Currency     string
	DurationDays int
	FeaturesJSON string
	Audience     string
}

// Create publishes a new plan: provider product + recurring price first, then
// the local row. A second active plan with the same name and audience is a
// conflict.
func (s *Service) Create(ctx context.Context, in CreatePlanInput) (*models.Plan, error) {
	name := strings.TrimSpace(in.Name)
	audience := strings.ToLower(strings.TrimSpace(in.Audience))
	if name == "" {
		return nil, billing.NewValidation(billing.CodeInvalidInput, "plan name is required")
	}
	if audience != models.PlanAudienceClinic && audience != models.PlanAudienceTherapist {
		return nil, billing.NewValidation(billing.CodeInvalidInput, "unknown plan audience %q", in.Audience)
	}
	if !in.Price.IsPositive() {
		return nil, billing.NewValidation(billing.CodeInvalidInput, "plan price must be positive")
	}

	interval, intervalCount, err := DeriveInterval(in.DurationDays)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.FindActiveByNameAudience(name, audience); err == nil {
		return nil, billing.NewConflict(billing.CodePlanNameTaken, "an active plan named %q for %s accounts already exists", name, audience)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, billing.NewIntegration(err, "plan lookup failed")
	}

	currency := in.Currency
	if currency == "" {
		currency = "usd"
	}

	productRef, err := s.gateway.CreateProduct(ctx, name, in.Description)
	if err != nil {
		return nil, err
	}
	priceRef, err := s.gateway.CreatePrice(ctx, productRef, in.Price, currency, interval, intervalCount)
	if err != nil {
		return nil, err
	}

	plan := &models.Plan{
		Name:              name,
		Description:       in.Description,
		Price:             in.Price,
		Currency:          strings.ToLower(currency),
		BillingInterval:   interval,
		IntervalCount:     intervalCount,
		FeaturesJSON:      in.FeaturesJSON,
		Audience:          audience,
		ProviderProductID: productRef,
		ProviderPriceID:   priceRef,
	}
	if err := plan.Validate(); err != nil {
		return nil, billing.NewValidation(billing.CodeInvalidInput, "invalid plan: %v", err)
	}
	if err := s.repo.Create(plan); err != nil {
		return nil, billing.NewIntegration(err, "plan persistence failed")
	}
	return plan, nil
}

// UpdatePlanInput carries optional plan changes. Nil fields are untouched.
type UpdatePlanInput struct {
	Name         *string
	Description  *string
	Price        *decimal.Decimal
	DurationDays *int
	FeaturesJSON *string
}

// Update applies plan changes. Name/description propagate straight to the
// provider product. A price or interval change never mutates the bound price:
// it mints a new provider price, deactivates the old reference and rebinds
// the local row for future purchases only.
func (s *Service) Update(ctx context.Context, id uint, in UpdatePlanInput) (*models.Plan, error) {
	plan, err := s.get(id)
	if err != nil {
		return nil, err
	}

	nameChanged := in.Name != nil && strings.TrimSpace(*in.Name) != plan.Name
	descChanged := in.Description != nil && *in.Description != plan.Description
	if nameChanged {
		name := strings.TrimSpace(*in.Name)
		if _, err := s.repo.FindActiveByNameAudience(name, plan.Audience); err == nil {
			return nil, billing.NewConflict(billing.CodePlanNameTaken, "an active plan named %q for %s accounts already exists", name, plan.Audience)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.NewIntegration(err, "plan lookup failed")
		}
		plan.Name = name
	}
	if descChanged {
		plan.Description = *in.Description
	}
	if nameChanged || descChanged {
		if err := s.gateway.UpdateProduct(ctx, plan.ProviderProductID, plan.Name, plan.Description); err != nil {
			return nil, err
		}
	}

	if in.FeaturesJSON != nil {
		plan.FeaturesJSON = *in.FeaturesJSON
	}

	priceChanged := in.Price != nil && !in.Price.Equal(plan.Price)
	interval := plan.BillingInterval
	intervalCount := plan.IntervalCount
	intervalChanged := false
	if in.DurationDays != nil {
		newInterval, newCount, err := DeriveInterval(*in.DurationDays)
		if err != nil {
			return nil, err
		}
		intervalChanged = newInterval != plan.BillingInterval || newCount != plan.IntervalCount
		interval, intervalCount = newInterval, newCount
	}

	if priceChanged || intervalChanged {
		newPrice := plan.Price
		if in.Price != nil {
			if !in.Price.IsPositive() {
				return nil, billing.NewValidation(billing.CodeInvalidInput, "plan price must be positive")
			}
			newPrice = *in.Price
		}

		priceRef, err := s.gateway.CreatePrice(ctx, plan.ProviderProductID, newPrice, plan.Currency, interval, intervalCount)
		if err != nil {
			return nil, err
		}
		oldPriceRef := plan.ProviderPriceID
		plan.Price = newPrice
		plan.BillingInterval = interval
		plan.IntervalCount = intervalCount
		plan.ProviderPriceID = priceRef

		if err := s.gateway.DeactivatePrice(ctx, oldPriceRef); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Save(plan); err != nil {
		return nil, billing.NewIntegration(err, "plan persistence failed")
	}
	return plan, nil
}

// Retire soft-deletes a plan. Blocked while any subscription is live on it;
// the conflict message carries the blocking count so operators know the size
// of the migration they still owe.
func (s *Service) Retire(ctx context.Context, id uint) (*models.Plan, error) {
	_ = ctx
	plan, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if plan.IsRetired() {
		return plan, nil
	}

	blocking, err := s.repo.CountLiveSubscriptions(plan.ID)
	if err != nil {
		return nil, billing.NewIntegration(err, "subscription count failed")
	}
	if blocking > 0 {
		return nil, billing.NewConflict(billing.CodePlanInUse, "plan %q has %d live subscription(s)", plan.Name, blocking)
	}

	now := time.Now()
	plan.ExpiredAt = &now
	if err := s.repo.Save(plan); err != nil {
		return nil, billing.NewIntegration(err, "plan persistence failed")
	}
	return plan, nil
}

// Restore clears a plan's retirement, subject to the same name conflict rule
// as creation.
func (s *Service) Restore(ctx context.Context, id uint) (*models.Plan, error) {
	_ = ctx
	plan, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !plan.IsRetired() {
		return plan, nil
	}

	if existing, err := s.repo.FindActiveByNameAudience(plan.Name, plan.Audience); err == nil && existing.ID != plan.ID {
		return nil, billing.NewConflict(billing.CodePlanNameTaken, "an active plan named %q for %s accounts already exists", plan.Name, plan.Audience)
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, billing.NewIntegration(err, "plan lookup failed")
	}

	plan.ExpiredAt = nil
	if err := s.repo.Save(plan); err != nil {
		return nil, billing.NewIntegration(err, "plan persistence failed")
	}
	return plan, nil
}

// List returns plans matching the filter, cheapest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.Plan, error) {
	_ = ctx
	plans, err := s.repo.List(filter)
	if err != nil {
		return nil, billing.NewIntegration(err, "plan listing failed")
	}
	return plans, nil
}

// Get returns one plan by id.
func (s *Service) Get(ctx context.Context, id uint) (*models.Plan, error) {
	_ = ctx
	return s.get(id)
}

func (s *Service) get(id uint) (*models.Plan, error) {
	plan, err := s.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.NewNotFound(billing.CodePlanNotFound, "plan %d not found", id)
		}
		return nil, billing.NewIntegration(err, "plan lookup failed")
	}
	return plan, nil
}
