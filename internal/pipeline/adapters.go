package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/baza-td/stroyparser/internal/model"
	"github.com/baza-td/stroyparser/internal/normalize"
	"github.com/baza-td/stroyparser/internal/resilience"
	"github.com/baza-td/stroyparser/internal/session"
	"github.com/baza-td/stroyparser/pkg/finder"
	"github.com/baza-td/stroyparser/pkg/rusprofile"
)

// PremiumSource is the slice of the registry client the enricher needs.
type PremiumSource interface {
	Premium(ctx context.Context, cookies map[string]string, inn string) (*rusprofile.Profile, error)
}

// SessionEnricher adapts the registry client to the Enricher interface. It
// pulls session cookies from the cache, retries transient and rate-limit
// failures, and invalidates the session when the registry rejects it. A
// circuit breaker spans batches, so a registry outage stops new lookups
// until the cooldown elapses instead of burning retries on every search.
type SessionEnricher struct {
	source  PremiumSource
	cache   *session.Cache
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// NewSessionEnricher wires a premium source to a session cache.
func NewSessionEnricher(source PremiumSource, cache *session.Cache) *SessionEnricher {
	upstreamFailure := func(err error) bool {
		return errors.Is(err, rusprofile.ErrRateLimited) ||
			errors.Is(err, rusprofile.ErrAuthRequired) ||
			errors.Is(err, rusprofile.ErrUnavailable) ||
			resilience.IsTransient(err)
	}

	retry := resilience.DefaultRetryConfig()
	retry.ShouldRetry = upstreamFailure
	retry.OnRetry = func(attempt int, err error) {
		zap.L().Debug("enrich: retrying", zap.Int("attempt", attempt), zap.Error(err))
	}

	breakerCfg := resilience.DefaultBreakerConfig()
	breakerCfg.ShouldTrip = upstreamFailure
	breakerCfg.OnStateChange = func(from, to resilience.BreakerState) {
		zap.L().Warn("enrich: breaker state changed",
			zap.Stringer("from", from), zap.Stringer("to", to))
	}

	return &SessionEnricher{
		source:  source,
		cache:   cache,
		retry:   retry,
		breaker: resilience.NewBreaker(breakerCfg),
	}
}

// Enrich fetches premium fields for a tax ID. An unknown company is not an
// error: it returns (nil, nil) and the record keeps its scrape fields only.
func (e *SessionEnricher) Enrich(ctx context.Context, taxID string) (*model.Partial, error) {
	profile, err := resilience.RunVal(ctx, e.breaker, func(ctx context.Context) (*rusprofile.Profile, error) {
		return resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*rusprofile.Profile, error) {
			handle, err := e.cache.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			p, err := e.source.Premium(ctx, handle.Cookies, taxID)
			if errors.Is(err, rusprofile.ErrAuthRequired) {
				// The registry dropped our session before its TTL ran out.
				e.cache.Invalidate()
			}
			return p, err
		})
	})
	if errors.Is(err, rusprofile.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return profileToPartial(profile), nil
}

// profileToPartial converts a parsed registry page into an
// enrichment-provenance partial with canonical phones.
func profileToPartial(p *rusprofile.Profile) *model.Partial {
	phones, _ := normalize.Phones(p.Phones)
	out := &model.Partial{
		Provenance:          model.ProvenanceEnrichment,
		TaxID:               p.INN,
		OGRN:                p.OGRN,
		Name:                normalize.CleanName(p.Name),
		Address:             p.Address,
		Website:             p.Website,
		OKVED:               p.OKVED,
		Source:              "rusprofile",
		Phones:              phones,
		Revenue:             p.Revenue,
		Profit:              p.Profit,
		EmployeeCount:       p.EmployeeCount,
		Founders:            p.Founders,
		CourtCases:          p.CourtCases,
		GovernmentContracts: p.GovernmentContracts,
	}
	if len(p.Emails) > 0 {
		out.Email = p.Emails[0]
	}
	return out
}

// SearchClient is the slice of the discovery client the finder needs.
type SearchClient interface {
	Search(ctx context.Context, query string, maxResults int) ([]finder.Company, error)
}

// SearchFinder adapts the discovery service client to the Finder interface.
type SearchFinder struct {
	client SearchClient
}

// NewSearchFinder wraps a discovery client.
func NewSearchFinder(client SearchClient) *SearchFinder {
	return &SearchFinder{client: client}
}

// Search maps discovery candidates to scrape-provenance partials. Candidates
// without a tax ID cannot be keyed and are dropped here.
func (f *SearchFinder) Search(ctx context.Context, query string, maxResults int) ([]model.Partial, error) {
	companies, err := f.client.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	return CandidatesFromCompanies(companies), nil
}

// CandidatesFromCompanies maps raw discovery records to scrape-provenance
// partials. The webhook handler uses it for batches pushed by external
// scrapers.
func CandidatesFromCompanies(companies []finder.Company) []model.Partial {
	partials := make([]model.Partial, 0, len(companies))
	for _, c := range companies {
		if c.INN == "" {
			zap.L().Debug("finder: skipping candidate without tax id", zap.String("name", c.ShortName))
			continue
		}
		name := c.ShortName
		if name == "" {
			name = c.FullName
		}
		p := model.Partial{
			Provenance: model.ProvenanceScrape,
			TaxID:      c.INN,
			OGRN:       c.OGRN,
			Name:       normalize.CleanName(name),
			Address:    c.LegalAddress,
			Website:    c.Website,
			OKVED:      c.OKVEDMain,
			Category:   c.Category,
			Phones:     c.Phones,
			Source:     "scrape",
		}
		if len(c.Emails) > 0 {
			p.Email = c.Emails[0]
		}
		partials = append(partials, p)
	}
	return partials
}
