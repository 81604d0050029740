// Package acquire sources new leads from external people-search
// providers, driven by each tenant's ideal customer profiles. The
// durable page cursor makes interrupted fetches resume without
// duplicate inserts.
package acquire

import (
	"context"
	"fmt"

	"github.com/BaSui01/leadflow/store"
)

// Candidate is one person returned by a provider search.
type Candidate struct {
	ProviderID    string
	Email         string
	Phone         string
	FirstName     string
	LastName      string
	CompanyName   string
	CompanyDomain string
	JobTitle      string
	Industry      string
	EmployeeCount int
	Country       string
	City          string
	LinkedInURL   string
}

// Page is one page of search results.
type Page struct {
	Candidates []Candidate
	TotalPages int
	SearchID   string
}

// SearchProvider is the external people-search contract. Implementations
// wrap vendors like Apollo; this repo ships the interface and a fake.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, icp *store.ICP, page, perPage int) (*Page, error)
}

// Providers maps provider names to implementations.
type Providers struct {
	byName map[string]SearchProvider
}

func NewProviders(providers ...SearchProvider) *Providers {
	p := &Providers{byName: make(map[string]SearchProvider)}
	for _, provider := range providers {
		p.byName[provider.Name()] = provider
	}
	return p
}

// Register installs a provider under its own name.
func (p *Providers) Register(provider SearchProvider) {
	p.byName[provider.Name()] = provider
}

// Get returns the provider an ICP is configured for.
func (p *Providers) Get(name string) (SearchProvider, error) {
	provider, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown data provider: %s", name)
	}
	return provider, nil
}
