// Package grouping implements the case-grouping decision policy: given a
// new record and its nearest neighbors, join an existing open case, create
// a new one, or cross-reference similar closed cases.
package grouping

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	storage "github.com/aduanhub/caselink/internal/db/gorm"
	"github.com/aduanhub/caselink/internal/index"
	"github.com/aduanhub/caselink/internal/vectorizer"
	"github.com/aduanhub/caselink/pkg/models"
)

// Defaults preserved from the tuned intake pipeline. Both are empirical
// constants with no documented derivation; they stay configurable.
const (
	DefaultThreshold  = 0.70
	DefaultTopK       = 5
	DefaultCoFounders = 2

	// relatedClosedLimit caps how many closed cases are cross-referenced
	// on a newly created case.
	relatedClosedLimit = 3
)

// RecordStore is the slice of the record store the policy needs.
type RecordStore interface {
	GetByID(ctx context.Context, id int64) (*models.Record, error)
	SetVector(ctx context.Context, id int64, vector []float32) error
}

// CaseStore is the slice of the case store the policy needs.
type CaseStore interface {
	CreateCase(ctx context.Context, founderIDs []int64, opts storage.CreateCaseOptions) (*models.Case, error)
	AddMembership(ctx context.Context, caseID, recordID int64, score *float64, addedBy string) error
	GetCaseForRecord(ctx context.Context, recordID int64) (*models.Case, error)
	GetCase(ctx context.Context, id int64) (*models.Case, error)
}

// Options configures the policy.
type Options struct {
	Threshold  float64 // minimum cosine similarity to consider two records the same incident
	TopK       int     // neighbors examined per grouping decision
	CoFounders int     // unassigned candidates co-founding a new case
}

// Service applies the grouping policy. The read-then-write sequence is
// deliberately not one atomic transaction: two very similar records
// grouped concurrently can each create a separate case, which operators
// reconcile by merging. Membership writes are idempotent, so re-running a
// decision never duplicates rows.
type Service struct {
	records  RecordStore
	cases    CaseStore
	idx      index.Index
	embedder vectorizer.Embedder

	thresholdBits atomic.Uint64 // math.Float64bits, hot-reloadable
	topK          int
	coFounders    int

	decisions metric.Int64Counter
}

// NewService creates a grouping service.
func NewService(records RecordStore, cases CaseStore, idx index.Index, embedder vectorizer.Embedder, opts Options) *Service {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.CoFounders <= 0 {
		opts.CoFounders = DefaultCoFounders
	}

	meter := otel.Meter("github.com/aduanhub/caselink/internal/grouping")
	decisions, err := meter.Int64Counter("caselink.grouping.decisions",
		metric.WithDescription("Grouping decisions by outcome"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create grouping decision counter")
	}

	s := &Service{
		records:    records,
		cases:      cases,
		idx:        idx,
		embedder:   embedder,
		topK:       opts.TopK,
		coFounders: opts.CoFounders,
		decisions:  decisions,
	}
	s.SetThreshold(opts.Threshold)
	return s
}

// Threshold returns the current similarity threshold.
func (s *Service) Threshold() float64 {
	return math.Float64frombits(s.thresholdBits.Load())
}

// SetThreshold updates the similarity threshold. Safe to call while
// grouping is in flight; in-flight decisions use the value they read.
func (s *Service) SetThreshold(t float64) {
	s.thresholdBits.Store(math.Float64bits(t))
}

// ProcessRecord runs the full pipeline for one record: embed (when the
// vector is missing), persist the vector, index it, and group. Errors
// leave the record ungrouped and retriable.
func (s *Service) ProcessRecord(ctx context.Context, recordID int64) (int64, error) {
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return 0, fmt.Errorf("load record %d: %w", recordID, err)
	}

	if !rec.HasVector() {
		vec, err := s.embedder.Embed(ctx, rec.EmbeddingText())
		if err != nil {
			return 0, fmt.Errorf("embed record %d: %w", recordID, err)
		}
		if err := s.records.SetVector(ctx, recordID, vec); err != nil {
			return 0, fmt.Errorf("store vector for record %d: %w", recordID, err)
		}
		rec.Vector = vec
	}

	// Persisted-mode Add re-writes the same value, which is harmless;
	// memory mode needs it to see the record at all.
	if err := s.idx.Add(ctx, recordID, rec.Vector); err != nil {
		return 0, fmt.Errorf("index record %d: %w", recordID, err)
	}

	return s.GroupRecord(ctx, recordID)
}

// GroupRecord decides the case for one record and returns the case id.
// Calling it again for an already-grouped record returns the same case id
// without touching any state.
func (s *Service) GroupRecord(ctx context.Context, recordID int64) (int64, error) {
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return 0, fmt.Errorf("load record %d: %w", recordID, err)
	}

	// Idempotence: already grouped means done.
	if rec.CaseID.Valid {
		s.count(ctx, "already_grouped")
		return rec.CaseID.Int64, nil
	}

	if !rec.HasVector() {
		s.count(ctx, "skipped_no_vector")
		return 0, fmt.Errorf("group record %d: %w", recordID, vectorizer.ErrVectorUnavailable)
	}

	threshold := s.Threshold()
	candidates := s.neighbors(ctx, rec, s.topK)

	var qualifying []index.Match
	for _, m := range candidates {
		if float64(m.Score) >= threshold {
			qualifying = append(qualifying, m)
		}
	}

	if len(qualifying) == 0 {
		return s.createStandalone(ctx, rec)
	}

	// Join the best candidate whose case is still open for investigation.
	// Candidates arrive ranked by descending score, ties by ascending id.
	for _, cand := range qualifying {
		c, err := s.cases.GetCaseForRecord(ctx, cand.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue // candidate not assigned yet
		}
		if err != nil {
			log.Warn().Err(err).Int64("candidate_id", cand.ID).Msg("Candidate case lookup failed")
			continue
		}
		if c.Status == models.CaseStatusClosed {
			continue
		}

		score := float64(cand.Score)
		if err := s.cases.AddMembership(ctx, c.ID, rec.ID, &score, models.AddedBySystem); err != nil {
			s.count(ctx, "failed")
			return 0, fmt.Errorf("join case %d: %w", c.ID, err)
		}
		s.count(ctx, "joined")
		log.Info().Int64("record_id", rec.ID).Int64("case_id", c.ID).
			Str("case_number", c.Number).Float64("score", score).
			Msg("Record joined existing case")
		return c.ID, nil
	}

	// Every qualifying candidate is in a closed case or unassigned.
	// Co-found a new case with the top unassigned candidates.
	founders := []int64{rec.ID}
	scores := make(map[int64]float64)
	for _, cand := range qualifying {
		if len(founders) > s.coFounders {
			break
		}
		_, err := s.cases.GetCaseForRecord(ctx, cand.ID)
		if errors.Is(err, storage.ErrNotFound) {
			founders = append(founders, cand.ID)
			scores[cand.ID] = float64(cand.Score)
		}
	}

	if len(founders) < 1+s.coFounders {
		// Not enough unassigned co-founders; the record stands alone and
		// any similar closed cases are attached for reference.
		return s.createStandalone(ctx, rec)
	}

	c, err := s.cases.CreateCase(ctx, founders, storage.CreateCaseOptions{
		AutoGrouped: true,
		AddedBy:     models.AddedBySystem,
		Scores:      scores,
	})
	if err != nil {
		s.count(ctx, "failed")
		return 0, fmt.Errorf("co-found case: %w", err)
	}
	s.count(ctx, "cofounded")
	log.Info().Int64("record_id", rec.ID).Int64("case_id", c.ID).
		Str("case_number", c.Number).Int("founders", len(founders)).
		Msg("Record co-founded new case")
	return c.ID, nil
}

// FindSimilar returns the records most similar to the given one, for
// UI-facing views. Read-only: it never mutates grouping state. The query
// record is excluded and only matches at or above the threshold are
// returned.
func (s *Service) FindSimilar(ctx context.Context, recordID int64, topK int) ([]index.Match, error) {
	if topK <= 0 {
		topK = s.topK
	}

	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("load record %d: %w", recordID, err)
	}
	if !rec.HasVector() {
		return nil, fmt.Errorf("find similar for record %d: %w", recordID, vectorizer.ErrVectorUnavailable)
	}

	matches, err := s.idx.Search(ctx, rec.Vector, topK+1)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	threshold := s.Threshold()
	out := make([]index.Match, 0, topK)
	for _, m := range matches {
		if m.ID == recordID {
			continue
		}
		if float64(m.Score) < threshold {
			continue
		}
		out = append(out, m)
		if len(out) == topK {
			break
		}
	}
	// Re-rank after self-exclusion so ranks stay 1-based and contiguous.
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// GetCaseForRecord returns the case a record belongs to, or nil when the
// record is still unassigned.
func (s *Service) GetCaseForRecord(ctx context.Context, recordID int64) (*models.Case, error) {
	c, err := s.cases.GetCaseForRecord(ctx, recordID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// neighbors runs the self-excluded top-K search. An index failure is
// treated like "no similar candidates" so ingestion keeps moving; the
// record can be regrouped later.
func (s *Service) neighbors(ctx context.Context, rec *models.Record, k int) []index.Match {
	matches, err := s.idx.Search(ctx, rec.Vector, k+1)
	if err != nil {
		log.Warn().Err(err).Int64("record_id", rec.ID).
			Msg("Similarity search failed, treating as no candidates")
		return nil
	}

	out := make([]index.Match, 0, k)
	for _, m := range matches {
		if m.ID == rec.ID {
			continue
		}
		out = append(out, m)
		if len(out) == k {
			break
		}
	}
	return out
}

// createStandalone creates a single-member case, attaching up to
// relatedClosedLimit similar closed cases as advisory references.
func (s *Service) createStandalone(ctx context.Context, rec *models.Record) (int64, error) {
	related := s.relatedClosedCases(ctx, rec)

	c, err := s.cases.CreateCase(ctx, []int64{rec.ID}, storage.CreateCaseOptions{
		AutoGrouped:   false,
		AddedBy:       models.AddedBySystem,
		RelatedClosed: related,
	})
	if err != nil {
		s.count(ctx, "failed")
		return 0, fmt.Errorf("create case: %w", err)
	}
	s.count(ctx, "created_standalone")
	log.Info().Int64("record_id", rec.ID).Int64("case_id", c.ID).
		Str("case_number", c.Number).Int("related_closed", len(related)).
		Msg("Record created standalone case")
	return c.ID, nil
}

// relatedClosedCases runs the wider best-effort reference search: three
// times the usual fan-out, keeping the first distinct closed cases by
// descending score. Advisory metadata only, never a join; any failure
// just yields no references.
func (s *Service) relatedClosedCases(ctx context.Context, rec *models.Record) models.JSONRelatedCases {
	matches, err := s.idx.Search(ctx, rec.Vector, s.topK*3)
	if err != nil {
		log.Debug().Err(err).Msg("Reference search failed")
		return nil
	}

	var refs models.JSONRelatedCases
	seen := make(map[int64]bool)
	for _, m := range matches {
		if m.ID == rec.ID {
			continue
		}
		c, err := s.cases.GetCaseForRecord(ctx, m.ID)
		if err != nil {
			continue
		}
		if c.Status != models.CaseStatusClosed || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		refs = append(refs, models.NewRelatedClosedCase(c.ID, c.Number, m.Score))
		if len(refs) == relatedClosedLimit {
			break
		}
	}
	return refs
}

func (s *Service) count(ctx context.Context, outcome string) {
	if s.decisions == nil {
		return
	}
	s.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
