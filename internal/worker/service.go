// Package worker provides the caselink HTTP service: record intake, the
// background grouping pipeline, and the case management API.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/aduanhub/caselink/internal/agencies"
	"github.com/aduanhub/caselink/internal/config"
	storage "github.com/aduanhub/caselink/internal/db/gorm"
	"github.com/aduanhub/caselink/internal/grouping"
	"github.com/aduanhub/caselink/internal/search"
)

// IngestStats tracks API usage counters.
type IngestStats struct {
	TotalRequests   int64
	RecordsIngested int64
	SimilarRequests int64
	GroupRequests   int64
}

// Service is the caselink worker service.
type Service struct {
	version  string
	config   *config.Config
	store    *storage.Store
	records  *storage.RecordStore
	cases    *storage.CaseStore
	grouping *grouping.Service
	agencies *agencies.Registry
	search   *search.Manager
	pool     *Pool
	router   *chi.Mux
	server   *http.Server
	ctx      context.Context
	cancel   context.CancelFunc

	startTime time.Time
	ready     atomic.Bool

	totalRequests   atomic.Int64
	recordsIngested atomic.Int64
	similarRequests atomic.Int64
	groupRequests   atomic.Int64
}

// NewService creates the worker service and its ingestion pool.
func NewService(version string, cfg *config.Config, store *storage.Store, records *storage.RecordStore, cases *storage.CaseStore, groupSvc *grouping.Service) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:   version,
		config:    cfg,
		store:     store,
		records:   records,
		cases:     cases,
		grouping:  groupSvc,
		router:    chi.NewRouter(),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	svc.pool = NewPool(ctx, cfg.Workers, svc.processRecord)
	svc.setupRoutes()
	return svc
}

// SetAgencyRegistry installs the agency registry used to pre-classify
// incoming records. A nil registry disables classification.
func (s *Service) SetAgencyRegistry(reg *agencies.Registry) {
	s.agencies = reg
}

// SetSearchManager installs the hybrid search manager backing the record
// search endpoint. A nil manager disables the endpoint.
func (s *Service) SetSearchManager(mgr *search.Manager) {
	s.search = mgr
}

// Start runs the ingestion pool and the HTTP server. Blocks until the
// server stops.
func (s *Service) Start() error {
	s.pool.Start()
	s.ready.Store(true)

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Str("version", s.version).Msg("caselink worker listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and drains the ingestion pool.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)

	var srvErr error
	if s.server != nil {
		srvErr = s.server.Shutdown(ctx)
	}

	s.pool.Stop()
	s.cancel()
	return srvErr
}

// Router exposes the HTTP handler, for embedding and tests.
func (s *Service) Router() http.Handler {
	return s.router
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.countRequests)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)
	s.router.Get("/api/version", s.handleVersion)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Post("/api/records", s.handleCreateRecord)
		r.Get("/api/records/search", s.handleSearchRecords)
		r.Get("/api/records/unassigned", s.handleListUnassigned)
		r.Get("/api/records/{id}", s.handleGetRecord)
		r.Get("/api/records/{id}/similar", s.handleFindSimilar)
		r.Post("/api/records/{id}/group", s.handleGroupRecord)
		r.Get("/api/records/{id}/case", s.handleGetRecordCase)

		r.Post("/api/cases", s.handleCreateCase)
		r.Get("/api/cases", s.handleListCases)
		r.Get("/api/cases/{id}", s.handleGetCase)
		r.Patch("/api/cases/{id}", s.handleUpdateCase)
		r.Delete("/api/cases/{id}", s.handleDeleteCase)
		r.Get("/api/cases/{id}/related", s.handleRelatedCases)
		r.Post("/api/cases/{id}/records/{recordID}", s.handleAddMember)
		r.Delete("/api/cases/{id}/records/{recordID}", s.handleRemoveMember)

		r.Get("/api/stats", s.handleStats)
	})
}

// processRecord is the pool worker body: embed, index, and group one
// record. Failures mark the record so operators can retry it.
func (s *Service) processRecord(ctx context.Context, recordID int64) {
	caseID, err := s.grouping.ProcessRecord(ctx, recordID)
	if err != nil {
		log.Error().Err(err).Int64("record_id", recordID).Msg("Record processing failed")
		if markErr := s.records.MarkFailed(ctx, recordID); markErr != nil {
			log.Error().Err(markErr).Int64("record_id", recordID).Msg("Failed to mark record failed")
		}
		return
	}
	log.Debug().Int64("record_id", recordID).Int64("case_id", caseID).Msg("Record processed")
}

// countRequests tracks total API requests.
func (s *Service) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.totalRequests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// requireReady rejects requests until the service is fully initialized.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetIngestStats returns a snapshot of the API usage counters.
func (s *Service) GetIngestStats() IngestStats {
	return IngestStats{
		TotalRequests:   s.totalRequests.Load(),
		RecordsIngested: s.recordsIngested.Load(),
		SimilarRequests: s.similarRequests.Load(),
		GroupRequests:   s.groupRequests.Load(),
	}
}
