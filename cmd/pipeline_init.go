package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/baza-td/stroyparser/internal/db"
	"github.com/baza-td/stroyparser/internal/pipeline"
	"github.com/baza-td/stroyparser/internal/seed"
	"github.com/baza-td/stroyparser/internal/session"
	"github.com/baza-td/stroyparser/internal/store"
	"github.com/baza-td/stroyparser/pkg/finder"
	"github.com/baza-td/stroyparser/pkg/rusprofile"
)

// pipelineEnv holds the initialized store, clients, and pipeline needed by
// the search/serve commands.
type pipelineEnv struct {
	Store    store.Gateway
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore picks the database backend from config.
func initStore(ctx context.Context) (store.Gateway, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store: database_url is required for the postgres driver")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, the registry and discovery clients, seeds
// the city table, and builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	cities, err := seed.Load(cfg.Seed.CitiesFile)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load city table")
	}
	if err := seed.Apply(ctx, st, cities); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "seed cities")
	}

	var enricher pipeline.Enricher
	if cfg.Pipeline.Enrich {
		if cfg.Rusprofile.Email == "" || cfg.Rusprofile.Password == "" {
			zap.L().Warn("rusprofile credentials not set, premium enrichment disabled")
		} else {
			opts := []rusprofile.Option{
				rusprofile.WithRateLimit(cfg.Rusprofile.RatePerSec, cfg.Rusprofile.Burst),
			}
			if cfg.Rusprofile.BaseURL != "" {
				opts = append(opts, rusprofile.WithBaseURL(cfg.Rusprofile.BaseURL))
			}
			client := rusprofile.NewClient(cfg.Rusprofile.Email, cfg.Rusprofile.Password, opts...)

			cache := session.New(cfg.Rusprofile.SessionFile,
				func(ctx context.Context) (session.Handle, error) {
					cookies, err := client.Login(ctx)
					if err != nil {
						return session.Handle{}, err
					}
					return session.Handle{Cookies: cookies, Email: cfg.Rusprofile.Email}, nil
				},
				session.WithTTL(cfg.Rusprofile.SessionTTL()),
				session.WithAccount(cfg.Rusprofile.Email),
			)
			enricher = pipeline.NewSessionEnricher(client, cache)
		}
	}

	var fdr pipeline.Finder
	if cfg.Finder.Endpoint != "" {
		fdr = pipeline.NewSearchFinder(finder.NewClient(cfg.Finder.Endpoint, cfg.Finder.Token))
	}

	p := pipeline.New(pipeline.Config{
		Concurrency: cfg.Pipeline.Concurrency,
		MaxResults:  cfg.Pipeline.MaxResults,
		Enrich:      cfg.Pipeline.Enrich && enricher != nil,
	}, st, fdr, enricher)

	return &pipelineEnv{Store: st, Pipeline: p}, nil
}
