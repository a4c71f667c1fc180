package retention

import (
	"fmt"
	"strings"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
)

// Attributes are the transaction attributes that refine a policy.
type Attributes = model.TransactionAttributes

// Resolver selects policies from a catalog.
type Resolver struct {
	catalog *Catalog
}

// NewResolver constructs a Resolver over catalog.
func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Catalog exposes the underlying catalog.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Resolve returns the first policy of role whose filters all accept attrs,
// falling back to the role's first policy. ErrPolicyNotFound means the role
// has no policy at all, which callers treat as no mandatory retention.
func (r *Resolver) Resolve(role model.Role, attrs Attributes) (Policy, error) {
	var fallback *Policy
	for i := range r.catalog.policies {
		p := &r.catalog.policies[i]
		if p.Role != role {
			continue
		}
		if fallback == nil {
			fallback = p
		}
		if accepts(p.CollateralTypes, attrs.CollateralType) &&
			accepts(p.RequestTypes, attrs.RequestType) &&
			accepts(p.InstrumentTypes, attrs.InstrumentType) {
			return clonePolicy(*p), nil
		}
	}
	if fallback == nil {
		return Policy{}, fmt.Errorf("role %s: %w", role, model.ErrPolicyNotFound)
	}
	return clonePolicy(*fallback), nil
}

// accepts treats an unset filter as a wildcard. A set filter needs a supplied
// value contained in it.
func accepts(filter []string, value string) bool {
	if len(filter) == 0 {
		return true
	}
	if value == "" {
		return false
	}
	for _, f := range filter {
		if strings.EqualFold(strings.TrimSpace(f), strings.TrimSpace(value)) {
			return true
		}
	}
	return false
}

// Matches reports whether the document category or name fuzzy-matches one of
// the policy's required-document matchers. A candidate containing the matcher
// matches. A candidate shorter than the matcher matches only when it is a run
// of at least two whole words of it, so "note" alone never matches
// "promissory note".
func Matches(doc model.Document, p Policy) bool {
	candidates := []string{normalize(doc.Category), normalize(doc.Name)}
	for _, req := range p.RequiredDocuments {
		m := normalize(req)
		if m == "" {
			continue
		}
		for _, c := range candidates {
			if c == "" {
				continue
			}
			if strings.Contains(c, m) || containsWords(m, c) {
				return true
			}
		}
	}
	return false
}

// containsWords reports whether part is a run of two or more consecutive
// words of whole.
func containsWords(whole, part string) bool {
	if strings.Count(part, " ") == 0 {
		return false
	}
	return strings.Contains(" "+whole+" ", " "+part+" ")
}

// RequiredRetentionDays returns the policy period when the document is
// required under p, else 0.
func RequiredRetentionDays(doc model.Document, p Policy) int {
	if Matches(doc, p) {
		return p.RetentionDays
	}
	return 0
}

// normalize lowercases s and folds separators so "Loan_Agreement.pdf" and
// "loan agreement" compare equal.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.':
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
