// Package pipeline orchestrates a search: find candidate companies, validate
// and normalize them, enrich the survivors, and persist everything through
// the gateway's atomic upsert.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/baza-td/stroyparser/internal/model"
	"github.com/baza-td/stroyparser/internal/normalize"
	"github.com/baza-td/stroyparser/internal/store"
	"github.com/baza-td/stroyparser/internal/taxid"
)

// Finder produces candidate companies for a query.
type Finder interface {
	Search(ctx context.Context, query string, maxResults int) ([]model.Partial, error)
}

// Enricher fetches premium fields for a tax ID. A (nil, nil) return means
// the source does not know the company; that is not an error.
type Enricher interface {
	Enrich(ctx context.Context, taxID string) (*model.Partial, error)
}

// Config tunes a Pipeline.
type Config struct {
	// Concurrency bounds the number of candidates processed in parallel.
	Concurrency int
	// MaxResults caps candidates per search when the request does not.
	MaxResults int
	// Enrich toggles the premium enrichment stage.
	Enrich bool
}

// Request describes one search invocation.
type Request struct {
	Query      string
	City       string
	Ring       int
	SessionID  string
	MaxResults int
}

// DroppedCandidate records a candidate rejected during validation.
type DroppedCandidate struct {
	TaxID  string `json:"tax_id"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// Summary reports what a search did.
type Summary struct {
	SearchID  int64              `json:"search_id"`
	Found     int                `json:"found"`
	Saved     int                `json:"saved"`
	New       int                `json:"new"`
	Enriched  int                `json:"enriched"`
	LatencyMS int                `json:"latency_ms"`
	Dropped   []DroppedCandidate `json:"dropped,omitempty"`
	// EnrichmentSkipped is set when the enrichment source went down
	// mid-batch and the remaining candidates were saved without premium
	// fields.
	EnrichmentSkipped bool `json:"enrichment_skipped,omitempty"`
}

// Pipeline wires the finder, enricher, and gateway together.
type Pipeline struct {
	cfg      Config
	store    store.Gateway
	finder   Finder
	enricher Enricher
}

// New creates a Pipeline. The enricher may be nil to disable enrichment.
func New(cfg Config, gw store.Gateway, finder Finder, enricher Enricher) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 50
	}
	return &Pipeline{cfg: cfg, store: gw, finder: finder, enricher: enricher}
}

// Run executes one search end to end. The search record is finalized exactly
// once: completed when ingestion ran (even with validation drops), failed
// when the finder or a persistence write broke the batch.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Summary, error) {
	if p.finder == nil {
		return nil, eris.New("pipeline: no finder configured")
	}

	log := zap.L().With(zap.String("query", req.Query), zap.String("city", req.City))
	start := time.Now()

	searchID, err := p.store.RecordSearch(ctx, req.Query, req.City, req.Ring, req.SessionID)
	if err != nil {
		return nil, err
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = p.cfg.MaxResults
	}

	candidates, err := p.finder.Search(ctx, req.Query, maxResults)
	if err != nil {
		p.finalize(ctx, searchID, model.SearchFailed, 0, start)
		return nil, eris.Wrapf(err, "pipeline: search %q", req.Query)
	}
	log.Info("pipeline: search returned candidates", zap.Int("count", len(candidates)))

	summary, err := p.Ingest(ctx, searchID, req, candidates)
	if err != nil {
		p.finalize(ctx, searchID, model.SearchFailed, 0, start)
		return nil, err
	}

	summary.LatencyMS = int(time.Since(start).Milliseconds())
	p.finalize(ctx, searchID, model.SearchCompleted, summary.Saved, start)

	log.Info("pipeline: search done",
		zap.Int64("search_id", searchID),
		zap.Int("found", summary.Found),
		zap.Int("saved", summary.Saved),
		zap.Int("new", summary.New),
		zap.Int("dropped", len(summary.Dropped)))
	return summary, nil
}

// RunBatch persists a batch of already-scraped candidates under a new search
// record. It is the webhook counterpart of Run: same record lifecycle, no
// finder call.
func (p *Pipeline) RunBatch(ctx context.Context, req Request, candidates []model.Partial) (*Summary, error) {
	start := time.Now()

	searchID, err := p.store.RecordSearch(ctx, req.Query, req.City, req.Ring, req.SessionID)
	if err != nil {
		return nil, err
	}

	summary, err := p.Ingest(ctx, searchID, req, candidates)
	if err != nil {
		p.finalize(ctx, searchID, model.SearchFailed, 0, start)
		return nil, err
	}

	summary.LatencyMS = int(time.Since(start).Milliseconds())
	p.finalize(ctx, searchID, model.SearchCompleted, summary.Saved, start)
	return summary, nil
}

func (p *Pipeline) finalize(ctx context.Context, searchID int64, status model.SearchStatus, saved int, start time.Time) {
	latency := int(time.Since(start).Milliseconds())
	if err := p.store.CompleteSearch(ctx, searchID, status, saved, latency); err != nil {
		zap.L().Warn("pipeline: complete search failed", zap.Int64("search_id", searchID), zap.Error(err))
	}
}

// Ingest validates, enriches, and persists a batch of candidates for an
// existing search record. It is shared by Run and the webhook handler that
// receives externally scraped batches. Validation failures never abort the
// batch; persistence failures do.
func (p *Pipeline) Ingest(ctx context.Context, searchID int64, req Request, candidates []model.Partial) (*Summary, error) {
	summary := &Summary{SearchID: searchID, Found: len(candidates)}

	var (
		mu         sync.Mutex
		enrichDown atomic.Bool
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for rank, cand := range candidates {
		rank, cand := rank+1, cand
		g.Go(func() error {
			if err := taxid.Validate(cand.TaxID); err != nil {
				zap.L().Debug("pipeline: dropping candidate", zap.String("tax_id", cand.TaxID), zap.Error(err))
				mu.Lock()
				summary.Dropped = append(summary.Dropped, DroppedCandidate{
					TaxID:  cand.TaxID,
					Name:   cand.Name,
					Reason: err.Error(),
				})
				mu.Unlock()
				return nil
			}

			p.applySearchContext(&cand, req)

			phones, phoneErrs := normalize.Phones(cand.Phones)
			for _, perr := range phoneErrs {
				zap.L().Debug("pipeline: dropping phone", zap.String("tax_id", cand.TaxID), zap.Error(perr))
			}
			cand.Phones = phones

			rec, wasNew, err := p.store.Upsert(ctx, cand)
			if err != nil {
				return eris.Wrapf(err, "pipeline: save %s", cand.TaxID)
			}

			enriched := false
			if p.cfg.Enrich && p.enricher != nil && !enrichDown.Load() {
				enriched, err = p.enrich(ctx, cand.TaxID)
				if err != nil {
					// The source is down or locked us out; the rest of the
					// batch still gets saved, just without premium fields.
					zap.L().Warn("pipeline: enrichment unavailable, disabling for batch",
						zap.String("tax_id", cand.TaxID), zap.Error(err))
					enrichDown.Store(true)
				}
			}

			if err := p.store.LinkResult(ctx, searchID, rec.TaxID, rank); err != nil {
				return err
			}

			mu.Lock()
			summary.Saved++
			if wasNew {
				summary.New++
			}
			if enriched {
				summary.Enriched++
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	summary.EnrichmentSkipped = enrichDown.Load()
	return summary, nil
}

// enrich fetches premium fields for taxID and folds them in with a second
// upsert, so the stored record never mixes scrape and enrichment provenance
// in one write.
func (p *Pipeline) enrich(ctx context.Context, taxID string) (bool, error) {
	premium, err := p.enricher.Enrich(ctx, taxID)
	if err != nil {
		return false, err
	}
	if premium == nil {
		return false, nil
	}
	premium.Provenance = model.ProvenanceEnrichment
	switch {
	case premium.TaxID == "":
		premium.TaxID = taxID
	case premium.TaxID != taxID:
		// The source resolved to some other company. Discarding beats
		// attributing a stranger's finances to this record.
		zap.L().Warn("pipeline: enrichment tax id mismatch, discarding",
			zap.String("requested", taxID),
			zap.String("returned", premium.TaxID))
		return false, nil
	}
	if _, _, err := p.store.Upsert(ctx, *premium); err != nil {
		return false, eris.Wrapf(err, "pipeline: save enrichment %s", taxID)
	}
	return true, nil
}

// applySearchContext stamps the request's geography onto a candidate that
// does not carry its own, and derives priority from the ring.
func (p *Pipeline) applySearchContext(cand *model.Partial, req Request) {
	if cand.City == "" {
		cand.City = req.City
	}
	if cand.Ring == 0 {
		cand.Ring = req.Ring
	}
	if cand.Priority == "" && cand.Ring > 0 {
		cand.Priority = priorityForRing(cand.Ring)
	}
	if cand.Source == "" {
		cand.Source = "scrape"
	}
	if cand.Provenance == "" {
		cand.Provenance = model.ProvenanceScrape
	}
}

func priorityForRing(ring int) model.Priority {
	switch ring {
	case 1:
		return model.PriorityA
	case 2:
		return model.PriorityB
	default:
		return model.PriorityC
	}
}
