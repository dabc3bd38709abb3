package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/FocuswithJustin/carry/core/errors"
	"github.com/FocuswithJustin/carry/core/passage"
	"github.com/FocuswithJustin/carry/core/plan"
	"github.com/FocuswithJustin/carry/internal/store"
)

// testResponse mirrors APIResponse with Data left raw for typed decoding.
type testResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	s := New(cfg, st)
	t.Cleanup(func() {
		s.Close()
		st.Close()
	})
	return s
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimitRequests = 0
	return cfg
}

// do sends a request through the full middleware chain. headers are
// alternating name/value pairs.
func do(t *testing.T, s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) testResponse {
	t.Helper()
	var resp testResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body %q: %v", rec.Body.String(), err)
	}
	if data != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			t.Fatalf("invalid data %s: %v", resp.Data, err)
		}
	}
	return resp
}

func TestHandleRoot(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(t, s, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode(t, rec, nil); !resp.Success {
		t.Error("expected success")
	}

	rec = do(t, s, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", rec.Code)
	}
	if resp := decode(t, rec, nil); resp.Error == nil || resp.Error.Code != "NOT_FOUND" {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, testConfig())

	var info HealthInfo
	rec := do(t, s, http.MethodGet, "/health", "")
	decode(t, rec, &info)
	if rec.Code != http.StatusOK || info.Status != "healthy" || info.Database != "ok" {
		t.Errorf("health = %d %+v", rec.Code, info)
	}
	if info.Version != "dev" {
		t.Errorf("Version = %q", info.Version)
	}

	do(t, s, http.MethodGet, "/passages/resolve?q=John+3:16", "")
	do(t, s, http.MethodGet, "/passages/resolve?q=John+3:16", "")
	decode(t, do(t, s, http.MethodGet, "/health", ""), &info)
	if info.Cache == nil || info.Cache.Hits != 1 || info.Cache.Misses != 1 {
		t.Errorf("resolve_cache = %+v, want one hit and one miss", info.Cache)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodGet, "/health", "")

	for _, h := range []string{"X-Request-ID", "X-Content-Type-Options", "Content-Security-Policy", "Access-Control-Allow-Origin"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("header %s missing", h)
		}
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, testConfig())
	if rec := do(t, s, http.MethodDelete, "/books", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /books status = %d, want 405", rec.Code)
	}
}

func TestHandleBooks(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		query     string
		wantCode  int
		wantTotal int
		first     string
	}{
		{"", http.StatusOK, 66, "Genesis"},
		{"?testament=OT", http.StatusOK, 39, "Genesis"},
		{"?testament=nt", http.StatusOK, 27, "Matthew"},
		{"?testament=apocrypha", http.StatusBadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var books []BookInfo
			rec := do(t, s, http.MethodGet, "/books"+tt.query, "")
			resp := decode(t, rec, &books)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if len(books) != tt.wantTotal || resp.Meta.Total != tt.wantTotal {
				t.Errorf("got %d books (meta %d), want %d", len(books), resp.Meta.Total, tt.wantTotal)
			}
			if books[0].Name != tt.first {
				t.Errorf("first book = %q, want %q", books[0].Name, tt.first)
			}
		})
	}
}

func TestHandleBook(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		path     string
		wantCode int
		wantName string
	}{
		{"/books/John", http.StatusOK, "John"},
		{"/books/jhn", http.StatusOK, "John"},
		{"/books/43", http.StatusOK, "John"},
		{"/books/Song%20of%20Solomon", http.StatusOK, "Song of Songs"},
		{"/books/Frodo", http.StatusNotFound, ""},
		{"/books/67", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var book BookInfo
			rec := do(t, s, http.MethodGet, tt.path, "")
			decode(t, rec, &book)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if book.Name != tt.wantName {
				t.Errorf("name = %q, want %q", book.Name, tt.wantName)
			}
		})
	}

	var john BookInfo
	decode(t, do(t, s, http.MethodGet, "/books/John", ""), &john)
	if john.Testament != "NT" || len(john.Chapters) != 21 || john.Chapters[2] != 36 {
		t.Errorf("John = %+v", john)
	}
}

func TestHandleResolve(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		name      string
		input     string
		wantCode  int
		wantError string
		want      passage.Verse
		wantRef   string
	}{
		{
			name: "range", input: "John 3:16-18", wantCode: http.StatusOK,
			want:    passage.Verse{BookID: 43, BookAbbr: "JHN", BookName: "John", ChapterNumber: 3, VerseFrom: 16, VerseTo: 18},
			wantRef: "John 3:16-18",
		},
		{
			name: "whole chapter", input: "john 3", wantCode: http.StatusOK,
			want:    passage.Verse{BookID: 43, BookAbbr: "JHN", BookName: "John", ChapterNumber: 3, VerseFrom: 1, VerseTo: 36},
			wantRef: "John 3",
		},
		{name: "unknown book", input: "Frodo 1:1", wantCode: http.StatusUnprocessableEntity, wantError: "ERROR_BOOK_NOT_FOUND"},
		{name: "unknown chapter", input: "John 22", wantCode: http.StatusUnprocessableEntity, wantError: "ERROR_CHAPTER_NOT_FOUND"},
		{name: "verse zero", input: "John 3:0", wantCode: http.StatusUnprocessableEntity, wantError: "ERROR_VERSE_NOT_FOUND"},
		{name: "empty", input: "", wantCode: http.StatusUnprocessableEntity, wantError: "ERROR_BOOK_NOT_FOUND"},
		{name: "too long", input: strings.Repeat("a", maxPassageLength+1), wantCode: http.StatusBadRequest, wantError: "INVALID_INPUT"},
	}

	check := func(t *testing.T, rec *httptest.ResponseRecorder, wantCode int, wantError string, want passage.Verse, wantRef string) {
		t.Helper()
		var got ResolvedPassage
		resp := decode(t, rec, &got)
		if rec.Code != wantCode {
			t.Fatalf("status = %d, want %d (%s)", rec.Code, wantCode, rec.Body.String())
		}
		if wantError != "" {
			if resp.Error == nil || resp.Error.Code != wantError {
				t.Fatalf("error = %+v, want code %s", resp.Error, wantError)
			}
			return
		}
		if diff := cmp.Diff(want, got.Verse); diff != "" {
			t.Errorf("verse mismatch (-want +got):\n%s", diff)
		}
		if got.Reference != wantRef {
			t.Errorf("reference = %q, want %q", got.Reference, wantRef)
		}
	}

	for _, tt := range tests {
		t.Run("GET "+tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, "/passages/resolve?q="+url.QueryEscape(tt.input), "")
			check(t, rec, tt.wantCode, tt.wantError, tt.want, tt.wantRef)
		})
		t.Run("POST "+tt.name, func(t *testing.T) {
			body, _ := json.Marshal(PassageRequest{Passage: tt.input})
			rec := do(t, s, http.MethodPost, "/passages/resolve", string(body))
			check(t, rec, tt.wantCode, tt.wantError, tt.want, tt.wantRef)
		})
	}
}

func TestHandleResolveMessages(t *testing.T) {
	s := newTestServer(t, testConfig())

	kinds := map[string]errors.PassageKind{
		"Frodo 1:1":  errors.KindBookNotFound,
		"John 99":    errors.KindChapterNotFound,
		"John 3:500": errors.KindVerseNotFound,
	}
	for input, kind := range kinds {
		resp := decode(t, do(t, s, http.MethodGet, "/passages/resolve?q="+url.QueryEscape(input), ""), nil)
		if resp.Error == nil || resp.Error.Message != kind.Message() {
			t.Errorf("%q: error = %+v, want message %q", input, resp.Error, kind.Message())
		}
	}
}

func TestHandleResolveInvalidJSON(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodPost, "/passages/resolve", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestResolveWithAliases(t *testing.T) {
	cfg := testConfig()
	cfg.Aliases = true
	s := newTestServer(t, cfg)

	var got ResolvedPassage
	rec := do(t, s, http.MethodGet, "/passages/resolve?q="+url.QueryEscape("JHN 3:16"), "")
	decode(t, rec, &got)
	if rec.Code != http.StatusOK || got.BookName != "John" {
		t.Errorf("alias resolve = %d %+v", rec.Code, got)
	}

	plain := newTestServer(t, testConfig())
	if rec := do(t, plain, http.MethodGet, "/passages/resolve?q="+url.QueryEscape("JHN 3:16"), ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("alias without option status = %d, want 422", rec.Code)
	}
}

func createTestPlan(t *testing.T, s *Server, org, body string) (plan.Plan, string) {
	t.Helper()
	var p plan.Plan
	rec := do(t, s, http.MethodPost, "/orgs/"+org+"/plans", body)
	decode(t, rec, &p)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	return p, rec.Header().Get("ETag")
}

func TestPlanLifecycle(t *testing.T) {
	s := newTestServer(t, testConfig())

	p, etag := createTestPlan(t, s, "org-1", `{"name":"  Gospel of John  ","pace":"week","duration":3,"author":"ana"}`)
	if p.ID == "" || p.Name != "Gospel of John" || len(p.Blocks) != 3 || p.Version != 1 {
		t.Fatalf("created plan = %+v", p)
	}
	if etag == "" {
		t.Fatal("ETag missing on create")
	}
	base := "/orgs/org-1/plans/" + p.ID

	// list
	var list []plan.Plan
	resp := decode(t, do(t, s, http.MethodGet, "/orgs/org-1/plans", ""), &list)
	if len(list) != 1 || resp.Meta.Total != 1 {
		t.Errorf("list = %d plans", len(list))
	}

	// conditional get
	if rec := do(t, s, http.MethodGet, base, "", "If-None-Match", etag); rec.Code != http.StatusNotModified {
		t.Errorf("If-None-Match status = %d, want 304", rec.Code)
	}

	// add a passage
	var added AddPassageResult
	rec := do(t, s, http.MethodPost, base+"/blocks/0/passages", `{"passage":"john 3:16-18"}`)
	decode(t, rec, &added)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add passage status = %d: %s", rec.Code, rec.Body.String())
	}
	if added.Passage != "John 3:16-18" || added.Activity.VerseRange != "16-18" || added.Plan.Version != 2 {
		t.Errorf("add passage result = %+v", added)
	}
	afterAdd := rec.Header().Get("ETag")

	// the old ETag is now stale
	p.Name = "Stale write"
	body, _ := json.Marshal(p)
	rec = do(t, s, http.MethodPut, base, string(body), "If-Match", etag)
	if rec.Code != http.StatusConflict {
		t.Errorf("stale PUT status = %d, want 409", rec.Code)
	}

	// update against the current ETag
	var current plan.Plan
	decode(t, do(t, s, http.MethodGet, base, ""), &current)
	current.Name = "John in three weeks"
	body, _ = json.Marshal(current)
	var updated plan.Plan
	rec = do(t, s, http.MethodPut, base, string(body), "If-Match", afterAdd)
	decode(t, rec, &updated)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rec.Code, rec.Body.String())
	}
	if updated.Name != "John in three weeks" || updated.Version != 3 || len(updated.Blocks[0].Activities) != 1 {
		t.Errorf("updated = %+v", updated)
	}
	if rec.Header().Get("ETag") == afterAdd {
		t.Error("ETag unchanged after update")
	}

	// delete
	if rec := do(t, s, http.MethodDelete, base, ""); rec.Code != http.StatusOK {
		t.Errorf("DELETE status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, base, ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, base, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", rec.Code)
	}
}

func TestUpdatePlanSanitizesText(t *testing.T) {
	s := newTestServer(t, testConfig())
	p, etag := createTestPlan(t, s, "org-1", `{"name":"Psalms","pace":"day","duration":2}`)

	p.Name = "\t Psalms of ascent\x00 "
	p.Description = "  Songs\x07 for the road\x1b  "
	body, _ := json.Marshal(p)
	rec := do(t, s, http.MethodPut, "/orgs/org-1/plans/"+p.ID, string(body), "If-Match", etag)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rec.Code, rec.Body.String())
	}

	var stored plan.Plan
	decode(t, do(t, s, http.MethodGet, "/orgs/org-1/plans/"+p.ID, ""), &stored)
	if stored.Name != "Psalms of ascent" {
		t.Errorf("Name = %q", stored.Name)
	}
	if stored.Description != "Songs for the road" {
		t.Errorf("Description = %q", stored.Description)
	}
}

func TestAddPassageErrors(t *testing.T) {
	s := newTestServer(t, testConfig())
	p, _ := createTestPlan(t, s, "org-1", `{"name":"Psalms","pace":"day","duration":1}`)
	base := "/orgs/org-1/plans/" + p.ID

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"unknown book", base + "/blocks/0/passages", `{"passage":"Frodo 1:1"}`, http.StatusUnprocessableEntity, "ERROR_BOOK_NOT_FOUND"},
		{"verse out of range", base + "/blocks/0/passages", `{"passage":"Psalms 23:7"}`, http.StatusUnprocessableEntity, "ERROR_VERSE_NOT_FOUND"},
		{"non-numeric index", base + "/blocks/x/passages", `{"passage":"Psalms 23"}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"index out of range", base + "/blocks/4/passages", `{"passage":"Psalms 23"}`, http.StatusNotFound, "NOT_FOUND"},
		{"unknown plan", "/orgs/org-1/plans/missing/blocks/0/passages", `{"passage":"Psalms 23"}`, http.StatusNotFound, "NOT_FOUND"},
		{"bad json", base + "/blocks/0/passages", `{`, http.StatusBadRequest, "INVALID_JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.path, tt.body)
			resp := decode(t, rec, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if resp.Error == nil || resp.Error.Code != tt.wantErr {
				t.Errorf("error = %+v, want %s", resp.Error, tt.wantErr)
			}
		})
	}
}

func TestCreatePlanValidation(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		name string
		body string
	}{
		{"empty name", `{"name":"","pace":"week","duration":1}`},
		{"unknown pace", `{"name":"x","pace":"year","duration":1}`},
		{"negative duration", `{"name":"x","pace":"week","duration":-1}`},
		{"huge duration", `{"name":"x","pace":"day","duration":100000}`},
		{"unknown type", `{"name":"x","pace":"week","duration":1,"type":"other"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, s, http.MethodPost, "/orgs/org-1/plans", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantName string
	}{
		{errors.NewPassage(errors.KindChapterNotFound, "John 0"), http.StatusUnprocessableEntity, "ERROR_CHAPTER_NOT_FOUND"},
		{errors.Wrap(errors.NewPassage(errors.KindVerseNotFound, "x"), "ctx"), http.StatusUnprocessableEntity, "ERROR_VERSE_NOT_FOUND"},
		{errors.NewValidation("name", "empty"), http.StatusBadRequest, "INVALID_INPUT"},
		{errors.NewNotFound("plan", "p"), http.StatusNotFound, "NOT_FOUND"},
		{errors.NewConflict("plan", "p", "a", "b"), http.StatusConflict, "CONFLICT"},
		{errors.ErrInternal, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		code, name, msg := errorStatus(tt.err)
		if code != tt.wantCode || name != tt.wantName || msg == "" {
			t.Errorf("errorStatus(%v) = %d, %s, %q", tt.err, code, name, msg)
		}
	}
}

func TestParseETag(t *testing.T) {
	tests := map[string]string{
		`"abc"`:   "abc",
		`W/"abc"`: "abc",
		"abc":     "abc",
		"*":       "",
		"":        "",
	}
	for in, want := range tests {
		if got := parseETag(in); got != want {
			t.Errorf("parseETag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRateLimitedServer(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRequests = 60
	cfg.RateLimitBurst = 2
	s := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
	rec := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if resp := decode(t, rec, nil); resp.Error == nil || resp.Error.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("error = %+v", resp.Error)
	}
}
