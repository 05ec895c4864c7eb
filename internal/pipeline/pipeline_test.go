package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baza-td/stroyparser/internal/model"
	"github.com/baza-td/stroyparser/internal/store"
)

type fakeFinder struct {
	partials []model.Partial
	err      error
	calls    atomic.Int32
}

func (f *fakeFinder) Search(ctx context.Context, query string, maxResults int) ([]model.Partial, error) {
	f.calls.Add(1)
	return f.partials, f.err
}

type fakeEnricher struct {
	byTaxID map[string]*model.Partial
	err     error
	calls   atomic.Int32
}

func (f *fakeEnricher) Enrich(ctx context.Context, taxID string) (*model.Partial, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.byTaxID[taxID], nil
}

func newTestGateway(t *testing.T) store.Gateway {
	t.Helper()
	g, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	require.NoError(t, g.Migrate(context.Background()))
	return g
}

func scrapeCandidates() []model.Partial {
	return []model.Partial{
		{
			Provenance: model.ProvenanceScrape,
			TaxID:      "7707083893",
			Name:       "ООО Ромашка",
			Phones:     []string{"8 (495) 123-45-67", "not-a-phone"},
		},
		{
			Provenance: model.ProvenanceScrape,
			TaxID:      "7736050003",
			Name:       "ООО Василёк",
			Phones:     []string{"+7 846 222 33 44"},
		},
		{
			Provenance: model.ProvenanceScrape,
			TaxID:      "1234567890", // checksum failure
			Name:       "ООО Фантом",
		},
	}
}

func TestRun_ValidatesNormalizesAndSaves(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t)
	p := New(Config{Concurrency: 2}, gw, &fakeFinder{partials: scrapeCandidates()}, nil)

	summary, err := p.Run(context.Background(), Request{Query: "кирпич", City: "Самара", Ring: 1, SessionID: "s-1"})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Found)
	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 2, summary.New)
	require.Len(t, summary.Dropped, 1)
	assert.Equal(t, "1234567890", summary.Dropped[0].TaxID)

	rec, err := gw.GetByTaxID(context.Background(), "7707083893")
	require.NoError(t, err)
	assert.Equal(t, []string{"+74951234567"}, rec.Phones, "phones come out canonical, invalid ones dropped")
	assert.Equal(t, "Самара", rec.City)
	assert.Equal(t, 1, rec.Ring)
	assert.Equal(t, model.PriorityA, rec.Priority)

	_, err = gw.GetByTaxID(context.Background(), "1234567890")
	assert.ErrorIs(t, err, store.ErrNotFound, "invalid candidates never reach storage")

	searches, err := gw.RecentSearches(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, searches, 1)
	assert.Equal(t, model.SearchCompleted, searches[0].Status)
	assert.Equal(t, 2, searches[0].ResultCount)
}

func TestRun_FinderFailureMarksSearchFailed(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t)
	p := New(Config{}, gw, &fakeFinder{err: errors.New("agent timeout")}, nil)

	_, err := p.Run(context.Background(), Request{Query: "кирпич"})
	require.Error(t, err)

	searches, err := gw.RecentSearches(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, searches, 1)
	assert.Equal(t, model.SearchFailed, searches[0].Status)
}

func TestRun_EnrichmentFillsPremiumFields(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t)
	revenue := int64(500_000_000)
	enricher := &fakeEnricher{byTaxID: map[string]*model.Partial{
		"7707083893": {Revenue: &revenue, Founders: []string{"Иванов И.И."}},
	}}
	p := New(Config{Concurrency: 2, Enrich: true}, gw, &fakeFinder{partials: scrapeCandidates()}, enricher)

	summary, err := p.Run(context.Background(), Request{Query: "кирпич", City: "Самара", Ring: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Enriched)
	assert.False(t, summary.EnrichmentSkipped)
	assert.Equal(t, int32(2), enricher.calls.Load(), "only valid candidates are enriched")

	rec, err := gw.GetByTaxID(context.Background(), "7707083893")
	require.NoError(t, err)
	require.NotNil(t, rec.Revenue)
	assert.Equal(t, revenue, *rec.Revenue)
	assert.Equal(t, []string{"Иванов И.И."}, rec.Founders)
	assert.NotNil(t, rec.LastEnrichedAt)
	assert.Equal(t, "ООО Ромашка", rec.Name, "scrape fields survive the enrichment upsert")

	other, err := gw.GetByTaxID(context.Background(), "7736050003")
	require.NoError(t, err)
	assert.Nil(t, other.Revenue, "companies unknown to the registry stay un-enriched")
}

func TestRun_EnrichmentForForeignTaxIDDiscarded(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t)
	revenue := int64(900_000_000)
	// The source resolved the lookup to some other company's page.
	enricher := &fakeEnricher{byTaxID: map[string]*model.Partial{
		"7707083893": {TaxID: "7736050003", Revenue: &revenue},
	}}
	p := New(Config{Concurrency: 2, Enrich: true}, gw, &fakeFinder{partials: scrapeCandidates()[:1]}, enricher)

	summary, err := p.Run(context.Background(), Request{Query: "кирпич"})
	require.NoError(t, err, "a mismatched enrichment must not fail the search")
	assert.Equal(t, 0, summary.Enriched)
	assert.Equal(t, 1, summary.Saved)

	rec, err := gw.GetByTaxID(context.Background(), "7707083893")
	require.NoError(t, err)
	assert.Nil(t, rec.Revenue, "foreign premium fields must not be attributed")
	assert.Nil(t, rec.LastEnrichedAt)

	_, err = gw.GetByTaxID(context.Background(), "7736050003")
	assert.ErrorIs(t, err, store.ErrNotFound, "the foreign company must not be created")
}

func TestRun_EnrichmentOutageDegradesBatch(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t)
	enricher := &fakeEnricher{err: errors.New("registry down")}
	p := New(Config{Concurrency: 1, Enrich: true}, gw, &fakeFinder{partials: scrapeCandidates()}, enricher)

	summary, err := p.Run(context.Background(), Request{Query: "кирпич"})
	require.NoError(t, err, "an enrichment outage must not fail the search")

	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 0, summary.Enriched)
	assert.True(t, summary.EnrichmentSkipped)
	assert.Equal(t, int32(1), enricher.calls.Load(), "enrichment is disabled after the first failure")

	rec, err := gw.GetByTaxID(context.Background(), "7707083893")
	require.NoError(t, err)
	assert.Nil(t, rec.Revenue)
}

func TestRun_RepeatSearchMergesInsteadOfDuplicating(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t)
	finder := &fakeFinder{partials: scrapeCandidates()}
	p := New(Config{Concurrency: 2}, gw, finder, nil)

	_, err := p.Run(context.Background(), Request{Query: "кирпич", City: "Самара", Ring: 1})
	require.NoError(t, err)

	finder.partials = []model.Partial{{
		Provenance: model.ProvenanceScrape,
		TaxID:      "7707083893",
		Phones:     []string{"+7 846 999 88 77"},
	}}
	summary, err := p.Run(context.Background(), Request{Query: "кирпич самара", City: "Самара", Ring: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Saved)
	assert.Equal(t, 0, summary.New, "the company already existed")

	rec, err := gw.GetByTaxID(context.Background(), "7707083893")
	require.NoError(t, err)
	assert.Equal(t, []string{"+74951234567", "+78469998877"}, rec.Phones, "phone sets union across searches")
	assert.Equal(t, "ООО Ромашка", rec.Name)

	stats, err := gw.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total, "no duplicate rows per tax id")
}

func TestIngest_WebhookBatchSharesValidation(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t)
	p := New(Config{Concurrency: 2}, gw, nil, nil)
	ctx := context.Background()

	searchID, err := gw.RecordSearch(ctx, "webhook", "", 0, "ext-1")
	require.NoError(t, err)

	summary, err := p.Ingest(ctx, searchID, Request{City: "Тольятти", Ring: 1}, scrapeCandidates())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Saved)
	require.Len(t, summary.Dropped, 1)

	rec, err := gw.GetByTaxID(ctx, "7736050003")
	require.NoError(t, err)
	assert.Equal(t, "Тольятти", rec.City)
}

func TestPriorityForRing(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.PriorityA, priorityForRing(1))
	assert.Equal(t, model.PriorityB, priorityForRing(2))
	assert.Equal(t, model.PriorityC, priorityForRing(3))
	assert.Equal(t, model.PriorityC, priorityForRing(4))
}
