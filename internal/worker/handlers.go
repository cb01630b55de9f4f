package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	storage "github.com/aduanhub/caselink/internal/db/gorm"
	"github.com/aduanhub/caselink/internal/privacy"
	"github.com/aduanhub/caselink/internal/vectorizer"
	"github.com/aduanhub/caselink/pkg/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// recordView is the API shape of a record. Nullable columns flatten to
// optional fields and the raw vector never leaves the service.
type recordView struct {
	ID          int64  `json:"id"`
	Reference   string `json:"reference"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	Category    string `json:"category,omitempty"`
	Urgency     string `json:"urgency"`
	Status      string `json:"status"`
	CaseID      *int64 `json:"case_id,omitempty"`
	SubmittedAt string `json:"submitted_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

type caseView struct {
	ID             int64                      `json:"id"`
	Number         string                     `json:"number"`
	Title          string                     `json:"title"`
	Description    string                     `json:"description,omitempty"`
	Status         string                     `json:"status"`
	Priority       string                     `json:"priority"`
	Classification string                     `json:"classification,omitempty"`
	Keywords       []string                   `json:"keywords,omitempty"`
	MemberCount    int                        `json:"member_count"`
	AutoGrouped    bool                       `json:"auto_grouped"`
	RelatedCases   []models.RelatedClosedCase `json:"related_cases,omitempty"`
	CreatedAt      string                     `json:"created_at"`
	UpdatedAt      string                     `json:"updated_at"`
	ClosedAt       string                     `json:"closed_at,omitempty"`
}

type memberView struct {
	RecordID int64    `json:"record_id"`
	Score    *float64 `json:"similarity_score,omitempty"`
	AddedBy  string   `json:"added_by"`
	AddedAt  string   `json:"added_at"`
}

type matchView struct {
	RecordID  int64   `json:"record_id"`
	Reference string  `json:"reference,omitempty"`
	Title     string  `json:"title,omitempty"`
	Score     float32 `json:"score"`
	Rank      int     `json:"rank"`
}

func toRecordView(rec *models.Record) recordView {
	v := recordView{
		ID:          rec.ID,
		Reference:   rec.Reference,
		Title:       rec.Title,
		Text:        rec.Text,
		Urgency:     string(rec.Urgency),
		Status:      string(rec.Status),
		SubmittedAt: rec.SubmittedAt,
	}
	if rec.Category.Valid {
		v.Category = rec.Category.String
	}
	if rec.CaseID.Valid {
		id := rec.CaseID.Int64
		v.CaseID = &id
	}
	if rec.ProcessedAt.Valid {
		v.ProcessedAt = rec.ProcessedAt.String
	}
	return v
}

func toCaseView(c *models.Case) caseView {
	v := caseView{
		ID:           c.ID,
		Number:       c.Number,
		Title:        c.Title,
		Status:       string(c.Status),
		Priority:     string(c.Priority),
		Keywords:     c.Keywords,
		MemberCount:  c.MemberCount,
		AutoGrouped:  c.AutoGrouped,
		RelatedCases: c.RelatedClosed,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.Description.Valid {
		v.Description = c.Description.String
	}
	if c.Classification.Valid {
		v.Classification = c.Classification.String
	}
	if c.ClosedAt.Valid {
		v.ClosedAt = c.ClosedAt.String
	}
	return v
}

// handleHealth reports service status and uptime.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	if !s.ready.Load() {
		status = "starting"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(s.uptime().Seconds()),
	})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "service not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

type createRecordRequest struct {
	Title    string `json:"title"`
	Text     string `json:"text"`
	Category string `json:"category"`
	Urgency  string `json:"urgency"`
}

// handleCreateRecord accepts a new incident report, persists it, and
// queues it for the embedding and grouping pipeline. Responds 202: the
// case decision happens asynchronously.
func (s *Service) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	title := privacy.Clean(req.Title)
	text := privacy.Clean(req.Text)
	if title == "" && text == "" {
		writeError(w, http.StatusBadRequest, "title or text is required")
		return
	}

	rec := models.NewRecord(title, text, models.UrgencyLevel(req.Urgency))
	if req.Category != "" {
		rec.Category.String = req.Category
		rec.Category.Valid = true
	}
	if classification := s.agencies.Classify(title + " " + text); classification != "" {
		rec.Classification.String = classification
		rec.Classification.Valid = true
	}

	id, err := s.records.Insert(r.Context(), rec)
	if err != nil {
		log.Error().Err(err).Msg("Record insert failed")
		writeError(w, http.StatusInternalServerError, "failed to store record")
		return
	}
	rec.ID = id
	s.recordsIngested.Add(1)

	if err := s.pool.Enqueue(id); err != nil {
		log.Error().Err(err).Int64("record_id", id).Msg("Enqueue failed")
		writeError(w, http.StatusServiceUnavailable, "ingestion queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, toRecordView(rec))
}

func (s *Service) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := s.records.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	writeJSON(w, http.StatusOK, toRecordView(rec))
}

// handleFindSimilar returns the most similar records, read-only.
func (s *Service) handleFindSimilar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	s.similarRequests.Add(1)

	limit := queryInt(r, "limit", s.config.TopK, maxListLimit)
	matches, err := s.grouping.FindSimilar(r.Context(), id, limit)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if errors.Is(err, vectorizer.ErrVectorUnavailable) {
		writeError(w, http.StatusConflict, "record not vectorized yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "similarity search failed")
		return
	}

	views := make([]matchView, 0, len(matches))
	for _, m := range matches {
		mv := matchView{RecordID: m.ID, Score: m.Score, Rank: m.Rank}
		if rec, err := s.records.GetByID(r.Context(), m.ID); err == nil {
			mv.Reference = rec.Reference
			mv.Title = rec.Title
		}
		views = append(views, mv)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"record_id": id,
		"threshold": s.grouping.Threshold(),
		"matches":   views,
	})
}

// handleGroupRecord runs the grouping decision synchronously, for retries
// and records ingested before the pipeline existed.
func (s *Service) handleGroupRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	s.groupRequests.Add(1)

	caseID, err := s.grouping.ProcessRecord(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if errors.Is(err, vectorizer.ErrVectorUnavailable) {
		writeError(w, http.StatusBadGateway, "embedding unavailable")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("record_id", id).Msg("Grouping failed")
		writeError(w, http.StatusInternalServerError, "grouping failed")
		return
	}

	c, err := s.cases.GetCase(r.Context(), caseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load case")
		return
	}
	writeJSON(w, http.StatusOK, toCaseView(c))
}

// handleGetRecordCase returns the case a record belongs to.
func (s *Service) handleGetRecordCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := s.grouping.GetCaseForRecord(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load case")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "record is not assigned to a case")
		return
	}
	writeJSON(w, http.StatusOK, toCaseView(c))
}

// handleSearchRecords runs hybrid keyword and vector search over records.
func (s *Service) handleSearchRecords(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusServiceUnavailable, "search unavailable")
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := queryInt(r, "limit", 10, maxListLimit)

	results, err := s.search.Search(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	type searchHit struct {
		Record recordView `json:"record"`
		Score  float64    `json:"score"`
	}
	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchHit{Record: toRecordView(res.Record), Score: res.Score})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"results": hits,
	})
}

func (s *Service) handleListUnassigned(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit, maxListLimit)
	offset := queryInt(r, "offset", 0, 1<<30)

	records, err := s.records.ListUnassigned(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, toRecordView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

type createCaseRequest struct {
	Title     string  `json:"title"`
	RecordIDs []int64 `json:"record_ids"`
}

// handleCreateCase opens a case by hand from one or more existing records.
// Manually created cases are never marked auto-grouped.
func (s *Service) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.RecordIDs) == 0 {
		writeError(w, http.StatusBadRequest, "record_ids is required")
		return
	}

	c, err := s.cases.CreateCase(r.Context(), req.RecordIDs, storage.CreateCaseOptions{
		Title:   req.Title,
		AddedBy: "manual",
	})
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to create case")
		writeError(w, http.StatusInternalServerError, "failed to create case")
		return
	}
	writeJSON(w, http.StatusCreated, toCaseView(c))
}

func (s *Service) handleListCases(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit, maxListLimit)
	offset := queryInt(r, "offset", 0, 1<<30)
	status := models.CaseStatus(r.URL.Query().Get("status"))

	cases, err := s.cases.ListCases(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list cases")
		return
	}
	views := make([]caseView, 0, len(cases))
	for _, c := range cases {
		views = append(views, toCaseView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleGetCase returns a case with its full membership.
func (s *Service) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := s.cases.GetCase(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "case not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load case")
		return
	}

	members, err := s.cases.GetMembers(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load members")
		return
	}
	memberViews := make([]memberView, 0, len(members))
	for _, m := range members {
		mv := memberView{RecordID: m.RecordID, AddedBy: m.AddedBy, AddedAt: m.AddedAt}
		if m.Score.Valid {
			score := m.Score.Float64
			mv.Score = &score
		}
		memberViews = append(memberViews, mv)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"case":    toCaseView(c),
		"members": memberViews,
	})
}

func (s *Service) handleUpdateCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.cases.UpdateCase(r.Context(), id, updates); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "case not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.cases.GetCase(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load case")
		return
	}
	writeJSON(w, http.StatusOK, toCaseView(c))
}

func (s *Service) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.cases.DeleteCase(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "case not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete case")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRelatedCases returns the advisory closed-case references.
func (s *Service) handleRelatedCases(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := s.cases.GetCase(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "case not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load case")
		return
	}
	related := c.RelatedClosed
	if related == nil {
		related = models.JSONRelatedCases{}
	}
	writeJSON(w, http.StatusOK, related)
}

type addMemberRequest struct {
	AddedBy string `json:"added_by"`
}

// handleAddMember manually attaches a record to a case, for operator
// corrections the automatic policy got wrong.
func (s *Service) handleAddMember(w http.ResponseWriter, r *http.Request) {
	caseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	recordID, ok := pathID(w, r, "recordID")
	if !ok {
		return
	}

	var req addMemberRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.AddedBy == "" {
		req.AddedBy = "manual"
	}

	if err := s.cases.AddMembership(r.Context(), caseID, recordID, nil, req.AddedBy); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "case or record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}

	c, err := s.cases.GetCase(r.Context(), caseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load case")
		return
	}
	writeJSON(w, http.StatusOK, toCaseView(c))
}

func (s *Service) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	caseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	recordID, ok := pathID(w, r, "recordID")
	if !ok {
		return
	}

	if err := s.cases.RemoveMembership(r.Context(), caseID, recordID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "membership not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.GetIngestStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_requests":   stats.TotalRequests,
		"records_ingested": stats.RecordsIngested,
		"similar_requests": stats.SimilarRequests,
		"group_requests":   stats.GroupRequests,
		"uptime_seconds":   int64(s.uptime().Seconds()),
	})
}

func (s *Service) uptime() time.Duration {
	return time.Since(s.startTime)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
