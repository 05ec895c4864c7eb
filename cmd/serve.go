package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baza-td/stroyparser/internal/export"
	"github.com/baza-td/stroyparser/internal/model"
	"github.com/baza-td/stroyparser/internal/pipeline"
	"github.com/baza-td/stroyparser/internal/store"
	"github.com/baza-td/stroyparser/pkg/finder"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API and scraper webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env.Store, env.Pipeline),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the API surface. The dashboard frontend is served from a
// different origin, so CORS is open for reads and the webhook.
func newRouter(st store.Gateway, p *pipeline.Pipeline) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", handleStats(st))
		r.Get("/companies", handleCompanies(st))
		r.Get("/history", handleHistory(st))
		r.Get("/cities", handleCities(st))
		r.Get("/export/csv", handleExportCSV(st))
		r.Post("/search", handleSearch(p))
	})

	r.Post("/webhook/save-results", handleSaveResults(p))

	return r
}

func handleStats(st store.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := st.Stats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleCompanies(st store.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := st.ListCompanies(r.Context(), filterFromQuery(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func handleHistory(st store.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		searches, err := st.RecentSearches(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, searches)
	}
}

func handleCities(st store.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cities, err := st.ListCities(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, cities)
	}
}

func handleExportCSV(st store.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := st.ListCompanies(r.Context(), filterFromQuery(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="companies.csv"`)
		if err := export.WriteCSV(w, records); err != nil {
			zap.L().Error("csv export failed", zap.Error(err))
		}
	}
}

// handleSearch kicks off a full pipeline run asynchronously and returns the
// session id the caller can correlate in /api/history.
func handleSearch(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query      string `json:"query"`
			City       string `json:"city"`
			Ring       int    `json:"ring"`
			MaxResults int    `json:"max_results"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if req.Query == "" {
			writeError(w, http.StatusBadRequest, eris.New("query is required"))
			return
		}

		sessionID := uuid.NewString()
		preq := pipeline.Request{
			Query:      req.Query,
			City:       req.City,
			Ring:       req.Ring,
			SessionID:  sessionID,
			MaxResults: req.MaxResults,
		}

		// Detach from the request context: the run outlives the 202 reply.
		ctx := context.WithoutCancel(r.Context())
		go func() {
			summary, err := p.Run(ctx, preq)
			if err != nil {
				zap.L().Error("api search failed",
					zap.String("query", preq.Query),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("api search complete",
				zap.String("query", preq.Query),
				zap.Int64("search_id", summary.SearchID),
				zap.Int("saved", summary.Saved),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "accepted",
			"session_id": sessionID,
		})
	}
}

// handleSaveResults ingests a batch pushed by an external scraper. It runs
// synchronously so the scraper gets back the save counts.
func handleSaveResults(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string           `json:"query"`
			City      string           `json:"city"`
			Ring      int              `json:"ring"`
			SessionID string           `json:"session_id"`
			Companies []finder.Company `json:"companies"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if len(req.Companies) == 0 {
			writeError(w, http.StatusBadRequest, eris.New("companies is required"))
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		summary, err := p.RunBatch(r.Context(), pipeline.Request{
			Query:     req.Query,
			City:      req.City,
			Ring:      req.Ring,
			SessionID: req.SessionID,
		}, pipeline.CandidatesFromCompanies(req.Companies))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func filterFromQuery(r *http.Request) model.CompanyFilter {
	q := r.URL.Query()
	f := model.CompanyFilter{
		City:     q.Get("city"),
		Priority: model.Priority(q.Get("priority")),
	}
	f.Ring, _ = strconv.Atoi(q.Get("ring"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	if v := q.Get("has_phone"); v != "" {
		b := v == "true" || v == "1"
		f.HasPhone = &b
	}
	if v := q.Get("has_email"); v != "" {
		b := v == "true" || v == "1"
		f.HasEmail = &b
	}
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
