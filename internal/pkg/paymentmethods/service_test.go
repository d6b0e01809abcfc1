package paymentmethods_test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/curadesk/curadesk/app/models"
	"github.com/curadesk/curadesk/internal/pkg/accountctx"
	"github.com/curadesk/curadesk/internal/pkg/accounts"
	"github.com/curadesk/curadesk/internal/pkg/billing"
	"github.com/curadesk/curadesk/internal/pkg/paymentmethods"
)

var clinicRef = accountctx.Ref{Kind: accountctx.KindClinic, ID: 7}

type fakeMethodRepo struct {
	methods map[uint]*models.PaymentMethod
	nextID  uint
}

func newFakeMethodRepo() *fakeMethodRepo {
	return &fakeMethodRepo{methods: map[uint]*models.PaymentMethod{}, nextID: 1}
}

func (r *fakeMethodRepo) add(pm models.PaymentMethod) *models.PaymentMethod {
	if pm.ID == 0 {
		pm.ID = r.nextID
		r.nextID++
	}
	pm.AccountType = string(clinicRef.Kind)
	pm.AccountID = clinicRef.ID
	cp := pm
	r.methods[cp.ID] = &cp
	return &cp
}

func (r *fakeMethodRepo) owned(pm *models.PaymentMethod, accountType string, accountID uint) bool {
	return pm.AccountType == accountType && pm.AccountID == accountID
}

func (r *fakeMethodRepo) GetByID(accountType string, accountID, id uint) (*models.PaymentMethod, error) {
	pm, ok := r.methods[id]
	if !ok || !r.owned(pm, accountType, accountID) {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *pm
	return &cp, nil
}

func (r *fakeMethodRepo) GetByProviderRef(providerPaymentMethodID string) (*models.PaymentMethod, error) {
	for _, pm := range r.methods {
		if pm.ProviderPaymentMethodID == providerPaymentMethodID {
			cp := *pm
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeMethodRepo) GetDefault(accountType string, accountID uint) (*models.PaymentMethod, error) {
	for _, pm := range r.methods {
		if r.owned(pm, accountType, accountID) && pm.IsDefault {
			cp := *pm
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeMethodRepo) ListByAccount(accountType string, accountID uint) ([]models.PaymentMethod, error) {
	var out []models.PaymentMethod
	for _, pm := range r.methods {
		if r.owned(pm, accountType, accountID) {
			out = append(out, *pm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeMethodRepo) Save(pm *models.PaymentMethod) error {
	cp := *pm
	r.methods[cp.ID] = &cp
	return nil
}

func (r *fakeMethodRepo) CreateWithDefaultRule(pm *models.PaymentMethod) error {
	others := 0
	for _, existing := range r.methods {
		if r.owned(existing, pm.AccountType, pm.AccountID) {
			others++
		}
	}
	if others == 0 {
		pm.IsDefault = true
	}
	pm.ID = r.nextID
	r.nextID++
	cp := *pm
	r.methods[cp.ID] = &cp
	return nil
}

func (r *fakeMethodRepo) DeleteAndPromote(pm *models.PaymentMethod) (*models.PaymentMethod, error) {
	delete(r.methods, pm.ID)
	if !pm.IsDefault {
		return nil, nil
	}
	remaining, _ := r.ListByAccount(pm.AccountType, pm.AccountID)
	if len(remaining) == 0 {
		return nil, nil
	}
	oldest := r.methods[remaining[0].ID]
	oldest.IsDefault = true
	cp := *oldest
	return &cp, nil
}

func (r *fakeMethodRepo) SetDefault(accountType string, accountID, id uint) error {
	for _, pm := range r.methods {
		if r.owned(pm, accountType, accountID) {
			pm.IsDefault = pm.ID == id
		}
	}
	return nil
}

// stubGateway covers the instrument half of the gateway; everything else
// panics via the embedded nil interface.
type stubGateway struct {
	billing.Gateway

	attached  []string
	detached  []string
	defaulted []string
	card      billing.ProviderPaymentMethod
}

func (g *stubGateway) AttachPaymentMethod(_ context.Context, customerRef, paymentMethodRef string) (*billing.ProviderPaymentMethod, error) {
	g.attached = append(g.attached, customerRef+":"+paymentMethodRef)
	card := g.card
	card.Ref = paymentMethodRef
	return &card, nil
}

func (g *stubGateway) DetachPaymentMethod(_ context.Context, paymentMethodRef string) error {
	g.detached = append(g.detached, paymentMethodRef)
	return nil
}

func (g *stubGateway) SetDefaultPaymentMethod(_ context.Context, customerRef, paymentMethodRef string) error {
	g.defaulted = append(g.defaulted, customerRef+":"+paymentMethodRef)
	return nil
}

type stubDirectory struct {
	account *accounts.Account
}

func (d *stubDirectory) Resolve(ref accountctx.Ref) (*accounts.Account, error) {
	if d.account == nil || d.account.Ref != ref {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *d.account
	return &cp, nil
}

func (d *stubDirectory) FindByAPIKeyHash(string) (*accounts.Account, error) {
	return nil, gorm.ErrRecordNotFound
}

func fixture() (*fakeMethodRepo, *stubGateway, *paymentmethods.Service) {
	repo := newFakeMethodRepo()
	gw := &stubGateway{card: billing.ProviderPaymentMethod{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030}}
	dir := &stubDirectory{account: &accounts.Account{Ref: clinicRef, Name: "Test Clinic", CustomerRef: "cus_test"}}
	return repo, gw, paymentmethods.NewService(repo, gw, dir)
}

func TestAdd(t *testing.T) {
	t.Run("first method becomes the default", func(t *testing.T) {
		_, gw, svc := fixture()

		pm, err := svc.Add(context.Background(), clinicRef, paymentmethods.AddInput{
			ProviderPaymentMethodRef: "pm_1",
			BillingName:              "Dr. Chen",
		})
		require.NoError(t, err)
		assert.True(t, pm.IsDefault)
		assert.Equal(t, "visa", pm.CardBrand)
		assert.Equal(t, "4242", pm.CardLast4)
		assert.Equal(t, "Dr. Chen", pm.BillingName)
		assert.Equal(t, []string{"cus_test:pm_1"}, gw.attached)
		assert.Equal(t, []string{"cus_test:pm_1"}, gw.defaulted)
	})

	t.Run("second method is not the default", func(t *testing.T) {
		repo, gw, svc := fixture()
		repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_existing", IsDefault: true})

		pm, err := svc.Add(context.Background(), clinicRef, paymentmethods.AddInput{ProviderPaymentMethodRef: "pm_2"})
		require.NoError(t, err)
		assert.False(t, pm.IsDefault)
		assert.Empty(t, gw.defaulted)
	})

	t.Run("card metadata falls back to the provider snapshot", func(t *testing.T) {
		_, gw, svc := fixture()
		gw.card.BillingName = "Card Holder"
		gw.card.BillingEmail = "holder@example.com"

		pm, err := svc.Add(context.Background(), clinicRef, paymentmethods.AddInput{ProviderPaymentMethodRef: "pm_1"})
		require.NoError(t, err)
		assert.Equal(t, "Card Holder", pm.BillingName)
		assert.Equal(t, "holder@example.com", pm.BillingEmail)
	})

	t.Run("duplicate provider ref is a conflict", func(t *testing.T) {
		repo, _, svc := fixture()
		repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_1", IsDefault: true})

		_, err := svc.Add(context.Background(), clinicRef, paymentmethods.AddInput{ProviderPaymentMethodRef: "pm_1"})
		require.Error(t, err)
		assert.True(t, billing.IsConflict(err))
		assert.Equal(t, billing.CodePaymentMethodExists, billing.CodeOf(err))
	})

	t.Run("empty provider ref is rejected", func(t *testing.T) {
		_, _, svc := fixture()
		_, err := svc.Add(context.Background(), clinicRef, paymentmethods.AddInput{})
		require.Error(t, err)
		assert.True(t, billing.IsValidation(err))
	})

	t.Run("unknown account", func(t *testing.T) {
		repo := newFakeMethodRepo()
		svc := paymentmethods.NewService(repo, &stubGateway{}, &stubDirectory{})
		_, err := svc.Add(context.Background(), clinicRef, paymentmethods.AddInput{ProviderPaymentMethodRef: "pm_1"})
		require.Error(t, err)
		assert.Equal(t, billing.CodeAccountNotFound, billing.CodeOf(err))
	})

	t.Run("account without provider customer", func(t *testing.T) {
		repo := newFakeMethodRepo()
		dir := &stubDirectory{account: &accounts.Account{Ref: clinicRef}}
		svc := paymentmethods.NewService(repo, &stubGateway{}, dir)
		_, err := svc.Add(context.Background(), clinicRef, paymentmethods.AddInput{ProviderPaymentMethodRef: "pm_1"})
		require.Error(t, err)
		assert.Equal(t, billing.CodeNoProviderCustomer, billing.CodeOf(err))
	})
}

func TestGetDefault(t *testing.T) {
	t.Run("returns the flagged method", func(t *testing.T) {
		repo, _, svc := fixture()
		repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_1"})
		repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_2", IsDefault: true})

		pm, err := svc.GetDefault(context.Background(), clinicRef)
		require.NoError(t, err)
		assert.Equal(t, "pm_2", pm.ProviderPaymentMethodID)
	})

	t.Run("no methods on file", func(t *testing.T) {
		_, _, svc := fixture()
		_, err := svc.GetDefault(context.Background(), clinicRef)
		require.Error(t, err)
		assert.True(t, billing.IsNotFound(err))
		assert.Equal(t, billing.CodePaymentMethodMissing, billing.CodeOf(err))
	})
}

func TestUpdate(t *testing.T) {
	strPtr := func(s string) *string { return &s }

	t.Run("changes only the provided billing fields", func(t *testing.T) {
		repo, _, svc := fixture()
		seeded := repo.add(models.PaymentMethod{
			ProviderPaymentMethodID: "pm_1",
			BillingName:             "Dr. Chen",
			BillingCity:             "Portland",
			IsDefault:               true,
		})

		pm, err := svc.Update(context.Background(), clinicRef, seeded.ID, paymentmethods.BillingFieldsInput{
			BillingName:       strPtr("Riverside Clinic"),
			BillingPostalCode: strPtr("97201"),
		})
		require.NoError(t, err)
		assert.Equal(t, "Riverside Clinic", pm.BillingName)
		assert.Equal(t, "97201", pm.BillingPostalCode)
		assert.Equal(t, "Portland", pm.BillingCity)
		assert.Equal(t, "Riverside Clinic", repo.methods[seeded.ID].BillingName)
	})

	t.Run("another account's method is invisible", func(t *testing.T) {
		repo, _, svc := fixture()
		foreign := models.PaymentMethod{ID: 42, AccountType: string(accountctx.KindTherapist), AccountID: 3, ProviderPaymentMethodID: "pm_x"}
		repo.methods[foreign.ID] = &foreign

		_, err := svc.Update(context.Background(), clinicRef, 42, paymentmethods.BillingFieldsInput{BillingName: strPtr("x")})
		require.Error(t, err)
		assert.True(t, billing.IsNotFound(err))
	})
}

func TestDelete(t *testing.T) {
	t.Run("detaches at the provider and removes the row", func(t *testing.T) {
		repo, gw, svc := fixture()
		seeded := repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_1", IsDefault: true})

		err := svc.Delete(context.Background(), clinicRef, seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"pm_1"}, gw.detached)
		assert.Empty(t, repo.methods)
	})

	t.Run("deleting the default promotes the oldest remaining", func(t *testing.T) {
		repo, gw, svc := fixture()
		def := repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_default", IsDefault: true})
		oldest := repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_oldest"})
		repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_newest"})

		err := svc.Delete(context.Background(), clinicRef, def.ID)
		require.NoError(t, err)
		assert.True(t, repo.methods[oldest.ID].IsDefault)
		assert.Equal(t, []string{"cus_test:pm_oldest"}, gw.defaulted)
	})

	t.Run("deleting a non-default leaves the default alone", func(t *testing.T) {
		repo, gw, svc := fixture()
		def := repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_default", IsDefault: true})
		extra := repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_extra"})

		err := svc.Delete(context.Background(), clinicRef, extra.ID)
		require.NoError(t, err)
		assert.True(t, repo.methods[def.ID].IsDefault)
		assert.Empty(t, gw.defaulted)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, _, svc := fixture()
		err := svc.Delete(context.Background(), clinicRef, 404)
		require.Error(t, err)
		assert.Equal(t, billing.CodePaymentMethodMissing, billing.CodeOf(err))
	})
}

func TestSetDefault(t *testing.T) {
	t.Run("flips the flag and mirrors to the provider", func(t *testing.T) {
		repo, gw, svc := fixture()
		old := repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_old", IsDefault: true})
		target := repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_new"})

		pm, err := svc.SetDefault(context.Background(), clinicRef, target.ID)
		require.NoError(t, err)
		assert.True(t, pm.IsDefault)
		assert.False(t, repo.methods[old.ID].IsDefault)
		assert.True(t, repo.methods[target.ID].IsDefault)
		assert.Equal(t, []string{"cus_test:pm_new"}, gw.defaulted)
	})

	t.Run("setting the current default is idempotent", func(t *testing.T) {
		repo, _, svc := fixture()
		def := repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_default", IsDefault: true})

		pm, err := svc.SetDefault(context.Background(), clinicRef, def.ID)
		require.NoError(t, err)
		assert.True(t, pm.IsDefault)
	})
}

func TestList(t *testing.T) {
	repo, _, svc := fixture()
	repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_1", IsDefault: true})
	repo.add(models.PaymentMethod{ProviderPaymentMethodID: "pm_2"})

	out, err := svc.List(context.Background(), clinicRef)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "pm_1", out[0].ProviderPaymentMethodID)
	assert.Equal(t, "pm_2", out[1].ProviderPaymentMethodID)
}
