// Package retention holds the retention policy catalog and the resolver that
// picks the policy applying to a document.
package retention

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
)

// MaxRetentionDays caps a policy period so end dates stay within four-digit
// years.
const MaxRetentionDays = 365 * 1000

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// Policy is one retention rule. Empty filter slices act as wildcards.
type Policy struct {
	ID                string     `yaml:"id" json:"id"`
	Role              model.Role `yaml:"role" json:"role"`
	RetentionDays     int        `yaml:"retentionDays" json:"retentionDays"`
	RequiredDocuments []string   `yaml:"requiredDocuments" json:"requiredDocuments"`
	CollateralTypes   []string   `yaml:"collateralTypes,omitempty" json:"collateralTypes,omitempty"`
	RequestTypes      []string   `yaml:"requestTypes,omitempty" json:"requestTypes,omitempty"`
	InstrumentTypes   []string   `yaml:"instrumentTypes,omitempty" json:"instrumentTypes,omitempty"`
	ComplianceNote    string     `yaml:"complianceNote,omitempty" json:"complianceNote,omitempty"`
	// Strict policies keep a locked document locked for good.
	Strict bool `yaml:"strict,omitempty" json:"strict,omitempty"`
}

// Catalog is an ordered, read-only list of policies. It is safe to share
// between goroutines once loaded.
type Catalog struct {
	policies []Policy
}

type catalogFile struct {
	Policies []Policy `yaml:"policies"`
}

// NewCatalog validates policies and freezes them in the given order.
func NewCatalog(policies []Policy) (*Catalog, error) {
	seen := make(map[string]struct{}, len(policies))
	out := make([]Policy, 0, len(policies))
	for i, p := range policies {
		if p.ID == "" {
			return nil, fmt.Errorf("policy %d: missing id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("policy %s: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}
		if !p.Role.Valid() {
			return nil, fmt.Errorf("policy %s: unknown role %q", p.ID, p.Role)
		}
		if p.RetentionDays < 0 {
			return nil, fmt.Errorf("policy %s: negative retention period", p.ID)
		}
		if p.RetentionDays > MaxRetentionDays {
			return nil, fmt.Errorf("policy %s: retention period above %d days", p.ID, MaxRetentionDays)
		}
		out = append(out, clonePolicy(p))
	}
	return &Catalog{policies: out}, nil
}

// LoadCatalog parses a YAML catalog.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewCatalog(file.Policies)
}

// LoadCatalogFile reads a YAML catalog from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(bytes.NewReader(defaultCatalogYAML))
	if err != nil {
		panic(fmt.Sprintf("built-in retention catalog: %v", err))
	}
	return c
}

// Load returns the catalog at path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	return LoadCatalogFile(path)
}

// Policies returns a copy of every policy in catalog order.
func (c *Catalog) Policies() []Policy {
	out := make([]Policy, len(c.policies))
	for i, p := range c.policies {
		out[i] = clonePolicy(p)
	}
	return out
}

// ForRole returns the policies of role in catalog order.
func (c *Catalog) ForRole(role model.Role) []Policy {
	var out []Policy
	for _, p := range c.policies {
		if p.Role == role {
			out = append(out, clonePolicy(p))
		}
	}
	return out
}

// Lookup finds a policy by id.
func (c *Catalog) Lookup(id string) (Policy, error) {
	for _, p := range c.policies {
		if p.ID == id {
			return clonePolicy(p), nil
		}
	}
	return Policy{}, fmt.Errorf("policy %s: %w", id, model.ErrPolicyNotFound)
}

func clonePolicy(p Policy) Policy {
	p.RequiredDocuments = append([]string(nil), p.RequiredDocuments...)
	p.CollateralTypes = append([]string(nil), p.CollateralTypes...)
	p.RequestTypes = append([]string(nil), p.RequestTypes...)
	p.InstrumentTypes = append([]string(nil), p.InstrumentTypes...)
	return p
}
