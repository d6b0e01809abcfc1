package paymentmethods

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/curadesk/curadesk/app/models"
	"github.com/curadesk/curadesk/internal/pkg/accountctx"
	"github.com/curadesk/curadesk/internal/pkg/accounts"
	"github.com/curadesk/curadesk/internal/pkg/billing"
)

// Service is the payment method store: per-account stored instruments with a
// single designated default.
type Service struct {
	repo      Repository
	gateway   billing.Gateway
	directory accounts.Directory
}

// NewService creates a payment method store from injected collaborators.
func NewService(repo Repository, gateway billing.Gateway, directory accounts.Directory) *Service {
	return &Service{repo: repo, gateway: gateway, directory: directory}
}

// NewServiceFromDB creates a payment method store from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway billing.Gateway) *Service {
	return NewService(NewRepository(db), gateway, accounts.NewDirectory(db))
}

// AddInput carries a provider payment method reference (tokenized by the
// frontend) plus the billing address fields stored locally.
type AddInput struct {
	ProviderPaymentMethodRef string
	BillingName              string
	BillingEmail             string
	BillingAddressLine1      string
	BillingAddressLine2      string
	BillingCity              string
	BillingPostalCode        string
	BillingCountry           string
}

// BillingFieldsInput updates the locally stored billing address only; the
// card itself is immutable (replace = delete + add).
type BillingFieldsInput struct {
	BillingName         *string
	BillingEmail        *string
	BillingAddressLine1 *string
	BillingAddressLine2 *string
	BillingCity         *string
	BillingPostalCode   *string
	BillingCountry      *string
}

// Add attaches the instrument to the account's provider customer and stores
// it. A provider reference already stored for any account is a conflict: a
// card record never moves between accounts. The first method an account adds
// becomes its default.
func (s *Service) Add(ctx context.Context, ref accountctx.Ref, in AddInput) (*models.PaymentMethod, error) {
	if in.ProviderPaymentMethodRef == "" {
		return nil, billing.NewValidation(billing.CodeInvalidInput, "provider payment method reference is required")
	}

	if _, err := s.repo.GetByProviderRef(in.ProviderPaymentMethodRef); err == nil {
		return nil, billing.NewConflict(billing.CodePaymentMethodExists, "payment method %s is already registered", in.ProviderPaymentMethodRef)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, billing.NewIntegration(err, "payment method lookup failed")
	}

	account, err := s.directory.Resolve(ref)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.NewNotFound(billing.CodeAccountNotFound, "account %s not found", ref)
		}
		return nil, billing.NewIntegration(err, "account lookup failed")
	}
	if account.CustomerRef == "" {
		return nil, billing.NewValidation(billing.CodeNoProviderCustomer, "account %s has no billing customer reference", ref)
	}

	attached, err := s.gateway.AttachPaymentMethod(ctx, account.CustomerRef, in.ProviderPaymentMethodRef)
	if err != nil {
		return nil, err
	}

	pm := &models.PaymentMethod{
		AccountType:             string(ref.Kind),
		AccountID:               ref.ID,
		ProviderPaymentMethodID: attached.Ref,
		CardBrand:               attached.Brand,
		CardLast4:               attached.Last4,
		CardExpMonth:            attached.ExpMonth,
		CardExpYear:             attached.ExpYear,
		BillingName:             firstNonEmpty(in.BillingName, attached.BillingName),
		BillingEmail:            firstNonEmpty(in.BillingEmail, attached.BillingEmail),
		BillingAddressLine1:     in.BillingAddressLine1,
		BillingAddressLine2:     in.BillingAddressLine2,
		BillingCity:             in.BillingCity,
		BillingPostalCode:       in.BillingPostalCode,
		BillingCountry:          in.BillingCountry,
	}
	if err := s.repo.CreateWithDefaultRule(pm); err != nil {
		return nil, billing.NewIntegration(err, "payment method persistence failed")
	}

	if pm.IsDefault {
		if err := s.gateway.SetDefaultPaymentMethod(ctx, account.CustomerRef, pm.ProviderPaymentMethodID); err != nil {
			return nil, err
		}
	}
	return pm, nil
}

// List returns all of the account's stored methods, oldest first.
func (s *Service) List(ctx context.Context, ref accountctx.Ref) ([]models.PaymentMethod, error) {
	_ = ctx
	pms, err := s.repo.ListByAccount(string(ref.Kind), ref.ID)
	if err != nil {
		return nil, billing.NewIntegration(err, "payment method listing failed")
	}
	return pms, nil
}

// GetDefault returns the account's default method.
func (s *Service) GetDefault(ctx context.Context, ref accountctx.Ref) (*models.PaymentMethod, error) {
	_ = ctx
	pm, err := s.repo.GetDefault(string(ref.Kind), ref.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.NewNotFound(billing.CodePaymentMethodMissing, "account %s has no default payment method", ref)
		}
		return nil, billing.NewIntegration(err, "payment method lookup failed")
	}
	return pm, nil
}

// Update changes billing address fields only.
func (s *Service) Update(ctx context.Context, ref accountctx.Ref, id uint, in BillingFieldsInput) (*models.PaymentMethod, error) {
	_ = ctx
	pm, err := s.ownedMethod(ref, id)
	if err != nil {
		return nil, err
	}

	setIfPresent(&pm.BillingName, in.BillingName)
	setIfPresent(&pm.BillingEmail, in.BillingEmail)
	setIfPresent(&pm.BillingAddressLine1, in.BillingAddressLine1)
	setIfPresent(&pm.BillingAddressLine2, in.BillingAddressLine2)
	setIfPresent(&pm.BillingCity, in.BillingCity)
	setIfPresent(&pm.BillingPostalCode, in.BillingPostalCode)
	setIfPresent(&pm.BillingCountry, in.BillingCountry)

	if err := s.repo.Save(pm); err != nil {
		return nil, billing.NewIntegration(err, "payment method persistence failed")
	}
	return pm, nil
}

// Delete detaches the instrument at the provider and removes it locally.
// Deleting the default promotes the oldest remaining method in the same
// transaction, so an account with methods never sits without a default.
func (s *Service) Delete(ctx context.Context, ref accountctx.Ref, id uint) error {
	pm, err := s.ownedMethod(ref, id)
	if err != nil {
		return err
	}

	if err := s.gateway.DetachPaymentMethod(ctx, pm.ProviderPaymentMethodID); err != nil {
		return err
	}

	promoted, err := s.repo.DeleteAndPromote(pm)
	if err != nil {
		return billing.NewIntegration(err, "payment method deletion failed")
	}

	if promoted != nil {
		account, err := s.directory.Resolve(ref)
		if err == nil && account.CustomerRef != "" {
			if err := s.gateway.SetDefaultPaymentMethod(ctx, account.CustomerRef, promoted.ProviderPaymentMethodID); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetDefault flips the default flag to the target method in one transaction
// and mirrors the choice to the provider customer.
func (s *Service) SetDefault(ctx context.Context, ref accountctx.Ref, id uint) (*models.PaymentMethod, error) {
	pm, err := s.ownedMethod(ref, id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetDefault(string(ref.Kind), ref.ID, pm.ID); err != nil {
		return nil, billing.NewIntegration(err, "default flip failed")
	}
	pm.IsDefault = true

	account, err := s.directory.Resolve(ref)
	if err == nil && account.CustomerRef != "" {
		if err := s.gateway.SetDefaultPaymentMethod(ctx, account.CustomerRef, pm.ProviderPaymentMethodID); err != nil {
			return nil, err
		}
	}
	return pm, nil
}

func (s *Service) ownedMethod(ref accountctx.Ref, id uint) (*models.PaymentMethod, error) {
	pm, err := s.repo.GetByID(string(ref.Kind), ref.ID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.NewNotFound(billing.CodePaymentMethodMissing, "payment method %d not found", id)
		}
		return nil, billing.NewIntegration(err, "payment method lookup failed")
	}
	return pm, nil
}

func setIfPresent(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
