package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/carry/core/bible"
	"github.com/FocuswithJustin/carry/core/cache"
	"github.com/FocuswithJustin/carry/core/errors"
	"github.com/FocuswithJustin/carry/core/passage"
	"github.com/FocuswithJustin/carry/core/plan"
	"github.com/FocuswithJustin/carry/internal/logging"
	"github.com/FocuswithJustin/carry/internal/server"
	"github.com/FocuswithJustin/carry/internal/store"
)

// maxPassageLength bounds passage strings accepted from clients.
const maxPassageLength = 256

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// maxPlanDuration bounds the number of blocks a new plan may have.
const maxPlanDuration = 366

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *APIMeta  `json:"meta,omitempty"`
}

// APIError represents an API error. Code is one of the ERROR_* passage kinds
// for resolution failures.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthInfo is the health check response.
type HealthInfo struct {
	Status   string       `json:"status"`
	Version  string       `json:"version"`
	Uptime   string       `json:"uptime"`
	Database string       `json:"database"`
	Clients  int          `json:"websocket_clients"`
	Cache    *cache.Stats `json:"resolve_cache,omitempty"`
}

// BookInfo describes one book of the table.
type BookInfo struct {
	bible.Book
	Testament   bible.Testament `json:"testament"`
	TotalVerses int             `json:"total_verses"`
}

// ResolvedPassage is a successful resolution.
type ResolvedPassage struct {
	passage.Verse
	Reference string `json:"reference"`
	OSIS      string `json:"osis"`
}

// PassageRequest is the body of the resolve and add-passage endpoints.
type PassageRequest struct {
	Passage string `json:"passage"`
}

// CreatePlanRequest is the body of POST /orgs/{orgId}/plans.
type CreatePlanRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Pace        plan.Pace `json:"pace"`
	Duration    int       `json:"duration"`
	Author      string    `json:"author"`
	Owner       string    `json:"owner"`
	Type        plan.Type `json:"type"`
}

// AddPassageResult is returned after a passage activity is appended.
type AddPassageResult struct {
	Plan     *plan.Plan    `json:"plan"`
	Activity plan.Activity `json:"activity"`
	Passage  string        `json:"passage"`
}

func toBookInfo(b *bible.Book) BookInfo {
	return BookInfo{Book: *b, Testament: b.Testament(), TotalVerses: b.TotalVerses()}
}

func toResolved(v passage.Verse) ResolvedPassage {
	return ResolvedPassage{Verse: v, Reference: v.String(), OSIS: v.OSIS()}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"name":    "Carry API",
		"version": s.cfg.Version,
		"endpoints": []string{
			"GET /health",
			"GET /books",
			"GET /books/{name}",
			"GET /passages/resolve?q=",
			"POST /passages/resolve",
			"GET /orgs/{orgId}/plans",
			"POST /orgs/{orgId}/plans",
			"GET /orgs/{orgId}/plans/{planId}",
			"PUT /orgs/{orgId}/plans/{planId}",
			"DELETE /orgs/{orgId}/plans/{planId}",
			"POST /orgs/{orgId}/plans/{planId}/blocks/{index}/passages",
			"WS /ws",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := HealthInfo{
		Status:   "healthy",
		Version:  s.cfg.Version,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Database: "ok",
		Clients:  s.hub.ClientCount(),
	}
	if stats, ok := s.resolver.CacheStats(); ok {
		info.Cache = &stats
	}
	status := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		logging.ErrorContext(r.Context(), "database ping failed", "error", err)
		info.Status = "degraded"
		info.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}
	respond(w, status, info)
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	books := bible.All()
	switch t := strings.ToUpper(r.URL.Query().Get("testament")); t {
	case "":
	case string(bible.OldTestament), string(bible.NewTestament):
		books = bible.ByTestament(bible.Testament(t))
	default:
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "testament must be OT or NT")
		return
	}

	infos := make([]BookInfo, len(books))
	for i := range books {
		infos[i] = toBookInfo(&books[i])
	}
	respondList(w, infos, len(infos))
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	b, ok := bible.LookupAlias(name)
	if !ok {
		if n, err := strconv.Atoi(name); err == nil {
			b, ok = bible.ByNumber(n)
		}
	}
	if !ok {
		respondErr(w, r, errors.NewNotFound("book", name))
		return
	}
	respond(w, http.StatusOK, toBookInfo(b))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var input string
	if r.Method == http.MethodGet {
		input = r.URL.Query().Get("q")
	} else {
		var req PassageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		input = req.Passage
	}
	if len(input) > maxPassageLength {
		respondErr(w, r, errors.NewValidation("passage", "too long"))
		return
	}

	v, err := s.resolver.Resolve(input)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, toResolved(v))
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context(), r.PathValue("orgId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	plans := make([]*plan.Plan, len(entries))
	for i, e := range entries {
		plans[i] = e.Plan
	}
	respondList(w, plans, len(plans))
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Duration < 0 || req.Duration > maxPlanDuration {
		respondErr(w, r, errors.NewValidation("duration", "must be between 0 and "+strconv.Itoa(maxPlanDuration)))
		return
	}

	p := plan.New(server.SanitizeUserInput(req.Name), req.Pace, req.Duration)
	p.Description = server.SanitizeUserInput(req.Description)
	p.Author = req.Author
	p.Owner = req.Owner
	if req.Type != "" {
		p.Type = req.Type
	}

	entry, err := s.store.Create(r.Context(), r.PathValue("orgId"), p)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	s.planChanged(r, EventPlanCreated, entry)
	setETag(w, entry.Hash)
	respond(w, http.StatusCreated, entry.Plan)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.Get(r.Context(), r.PathValue("orgId"), r.PathValue("planId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if match := r.Header.Get("If-None-Match"); match != "" && parseETag(match) == entry.Hash {
		setETag(w, entry.Hash)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	setETag(w, entry.Hash)
	respond(w, http.StatusOK, entry.Plan)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var p plan.Plan
	if !decodeBody(w, r, &p) {
		return
	}
	p.OrgID = r.PathValue("orgId")
	p.ID = r.PathValue("planId")
	p.Name = server.SanitizeUserInput(p.Name)
	p.Description = server.SanitizeUserInput(p.Description)

	entry, err := s.store.Update(r.Context(), &p, parseETag(r.Header.Get("If-Match")))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	s.planChanged(r, EventPlanUpdated, entry)
	setETag(w, entry.Hash)
	respond(w, http.StatusOK, entry.Plan)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	orgID, planID := r.PathValue("orgId"), r.PathValue("planId")
	if err := s.store.Delete(r.Context(), orgID, planID); err != nil {
		respondErr(w, r, err)
		return
	}
	logging.PlanEvent(r.Context(), string(EventPlanDeleted), orgID, planID, 0)
	s.hub.BroadcastPlan(EventPlanDeleted, orgID, planID, 0)
	respond(w, http.StatusOK, map[string]string{"message": "Plan deleted"})
}

func (s *Server) handleAddPassage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		respondErr(w, r, errors.NewValidation("index", "block index must be an integer"))
		return
	}
	var req PassageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Passage) > maxPassageLength {
		respondErr(w, r, errors.NewValidation("passage", "too long"))
		return
	}

	entry, act, err := s.store.AddPassage(r.Context(), s.resolver,
		r.PathValue("orgId"), r.PathValue("planId"), index, req.Passage)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	s.planChanged(r, EventPlanUpdated, entry)
	setETag(w, entry.Hash)
	respond(w, http.StatusCreated, AddPassageResult{
		Plan:     entry.Plan,
		Activity: act,
		Passage:  plan.PassageString(act),
	})
}

// planChanged logs and broadcasts a plan mutation.
func (s *Server) planChanged(r *http.Request, event EventType, entry *store.Entry) {
	p := entry.Plan
	logging.PlanEvent(r.Context(), string(event), p.OrgID, p.ID, p.Version)
	s.hub.BroadcastPlan(event, p.OrgID, p.ID, p.Version)
}

// decodeBody decodes a JSON request body into v, responding 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is not valid JSON")
		return false
	}
	return true
}

func setETag(w http.ResponseWriter, hash string) {
	w.Header().Set("ETag", `"`+hash+`"`)
}

// parseETag strips the weak prefix and quotes from an entity tag.
// "*" matches any version and is treated as no precondition.
func parseETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	if v == "*" {
		return ""
	}
	return v
}

// errorStatus maps an error to its HTTP status, code and client message.
func errorStatus(err error) (int, string, string) {
	if kind, ok := errors.PassageKindOf(err); ok {
		return http.StatusUnprocessableEntity, string(kind), kind.Message()
	}
	switch {
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT", err.Error()
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, errors.ErrConflict):
		return http.StatusConflict, "CONFLICT", err.Error()
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
}

// respondErr writes err using errorStatus. Server errors are logged; their
// details never reach the client.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := errorStatus(err)
	switch {
	case status == http.StatusUnprocessableEntity:
		logging.PassageRejected(r.Context(), errors.PassageInput(err), code)
	case status >= 500:
		logging.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	respondError(w, status, code, message)
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Meta:    &APIMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func respondList(w http.ResponseWriter, data any, total int) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Total:     total,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
		Meta:    &APIMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", "error", err)
	}
}
