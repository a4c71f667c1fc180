package retention

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog([]Policy{
		{ID: "lender-cre", Role: model.RoleLender, RetentionDays: 3650, CollateralTypes: []string{"commercial_real_estate"}, RequiredDocuments: []string{"loan agreement"}},
		{ID: "lender-a", Role: model.RoleLender, RetentionDays: 2555, RequiredDocuments: []string{"loan agreement", "deed of trust"}},
		{ID: "lender-b", Role: model.RoleLender, RetentionDays: 100, RequiredDocuments: []string{"loan agreement"}},
		{ID: "broker-refi", Role: model.RoleBroker, RetentionDays: 1825, RequestTypes: []string{"refinance"}, RequiredDocuments: []string{"fee disclosure"}},
	})
	require.NoError(t, err)
	return c
}

func TestResolvePrefersFirstExactMatch(t *testing.T) {
	r := NewResolver(testCatalog(t))

	p, err := r.Resolve(model.RoleLender, Attributes{})
	require.NoError(t, err)
	assert.Equal(t, "lender-a", p.ID, "wildcard policy wins in catalog order when no attributes are supplied")

	p, err = r.Resolve(model.RoleLender, Attributes{CollateralType: "Commercial_Real_Estate"})
	require.NoError(t, err)
	assert.Equal(t, "lender-cre", p.ID)

	p, err = r.Resolve(model.RoleLender, Attributes{CollateralType: "auto"})
	require.NoError(t, err)
	assert.Equal(t, "lender-a", p.ID)
}

func TestResolveFallsBackToFirstPolicyForRole(t *testing.T) {
	r := NewResolver(testCatalog(t))

	p, err := r.Resolve(model.RoleBroker, Attributes{RequestType: "purchase"})
	require.NoError(t, err)
	assert.Equal(t, "broker-refi", p.ID)
}

func TestResolveUnknownRoleIsPolicyNotFound(t *testing.T) {
	r := NewResolver(testCatalog(t))

	_, err := r.Resolve(model.RoleVendor, Attributes{})
	assert.True(t, errors.Is(err, model.ErrPolicyNotFound))
}

func TestResolveIsDeterministic(t *testing.T) {
	r := NewResolver(testCatalog(t))
	for i := 0; i < 50; i++ {
		p, err := r.Resolve(model.RoleLender, Attributes{})
		require.NoError(t, err)
		require.Equal(t, "lender-a", p.ID)
	}
}

func TestRequiredRetentionDays(t *testing.T) {
	r := NewResolver(testCatalog(t))
	p, err := r.Resolve(model.RoleLender, Attributes{})
	require.NoError(t, err)

	cases := []struct {
		name string
		doc  model.Document
		want int
	}{
		{"category underscore", model.Document{Category: "loan_agreement"}, 2555},
		{"name match", model.Document{Name: "Deed-of-Trust signed.pdf", Category: "misc"}, 2555},
		{"case insensitive", model.Document{Category: "LOAN AGREEMENT"}, 2555},
		{"unrelated", model.Document{Name: "selfie.png", Category: "photo"}, 0},
		{"single letter", model.Document{Category: "e"}, 0},
		{"single word of matcher", model.Document{Category: "trust"}, 0},
		{"partial word run", model.Document{Category: "ed of tr"}, 0},
		{"whole word run", model.Document{Category: "deed of"}, 2555},
		{"empty", model.Document{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RequiredRetentionDays(tc.doc, p))
			assert.Equal(t, tc.want > 0, Matches(tc.doc, p))
		})
	}
}

func TestDefaultCatalogLenderScenario(t *testing.T) {
	r := NewResolver(DefaultCatalog())
	p, err := r.Resolve(model.RoleLender, Attributes{})
	require.NoError(t, err)
	assert.Equal(t, 2555, p.RetentionDays)
	assert.Equal(t, 2555, RequiredRetentionDays(model.Document{Category: "loan_agreement"}, p))

	for _, role := range []model.Role{model.RoleLender, model.RoleBroker, model.RoleBorrower, model.RoleVendor} {
		_, err := r.Resolve(role, Attributes{})
		assert.NoError(t, err, role)
	}
}

func TestLoadCatalogValidation(t *testing.T) {
	_, err := LoadCatalog(strings.NewReader(`
policies:
  - id: x
    role: auditor
    retentionDays: 10
`))
	assert.ErrorContains(t, err, "unknown role")

	_, err = LoadCatalog(strings.NewReader(`
policies:
  - id: x
    role: lender
    retentionDays: 10
  - id: x
    role: broker
    retentionDays: 10
`))
	assert.ErrorContains(t, err, "duplicate id")

	_, err = LoadCatalog(strings.NewReader(`
policies:
  - id: x
    role: lender
    retentionDays: -1
`))
	assert.ErrorContains(t, err, "negative")

	_, err = NewCatalog([]Policy{{ID: "forever", Role: model.RoleLender, RetentionDays: MaxRetentionDays + 1}})
	assert.ErrorContains(t, err, "retention period above")

	_, err = NewCatalog([]Policy{{ID: "long", Role: model.RoleLender, RetentionDays: MaxRetentionDays}})
	assert.NoError(t, err)

	_, err = LoadCatalog(strings.NewReader(`
policies:
  - id: x
    role: lender
    retentonDays: 10
`))
	assert.Error(t, err)
}

func TestCatalogReturnsCopies(t *testing.T) {
	c := testCatalog(t)
	ps := c.Policies()
	ps[0].RequiredDocuments[0] = "mutated"

	p, err := c.Lookup("lender-cre")
	require.NoError(t, err)
	assert.Equal(t, "loan agreement", p.RequiredDocuments[0])

	_, err = c.Lookup("missing")
	assert.True(t, errors.Is(err, model.ErrPolicyNotFound))
	assert.Len(t, c.ForRole(model.RoleLender), 3)
}
