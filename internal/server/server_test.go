package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pcollins/recmerge/internal/history"
	"github.com/pcollins/recmerge/internal/store"
)

// mockRecorder captures runs in memory.
type mockRecorder struct {
	runs []history.Run
	err  error
}

func (m *mockRecorder) RecordRun(run history.Run) error {
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockRecorder) Close() error { return nil }

func newTestServer(rec history.Recorder) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store.New(), rec, logger, "test")
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(nil).Handler()
	w := doRequest(t, h, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]string
	decodeBody(t, w, &body)
	if body["status"] != "healthy" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestCreateAndGetUser(t *testing.T) {
	h := newTestServer(nil).Handler()

	w := doRequest(t, h, http.MethodPost, "/users", `{"name": "Alice", "email": "alice@example.com", "age": 30}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body)
	}
	var created store.User
	decodeBody(t, w, &created)
	if created.ID != 1 || created.Name != "Alice" {
		t.Errorf("created = %+v", created)
	}

	w = doRequest(t, h, http.MethodGet, "/users/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got store.User
	decodeBody(t, w, &got)
	if got.Email != "alice@example.com" {
		t.Errorf("got = %+v", got)
	}
}

func TestCreateUserValidation(t *testing.T) {
	h := newTestServer(nil).Handler()

	w := doRequest(t, h, http.MethodPost, "/users", `{"name": "", "email": "alice@example.com"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}

	w = doRequest(t, h, http.MethodPost, "/users", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	h := newTestServer(nil).Handler()

	doRequest(t, h, http.MethodPost, "/users", `{"name": "Alice", "email": "alice@example.com"}`)
	w := doRequest(t, h, http.MethodPost, "/users", `{"name": "Clone", "email": "alice@example.com"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestGetUserNotFound(t *testing.T) {
	h := newTestServer(nil).Handler()
	w := doRequest(t, h, http.MethodGet, "/users/99", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	w = doRequest(t, h, http.MethodGet, "/users/abc", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUpdateAndDeleteUser(t *testing.T) {
	h := newTestServer(nil).Handler()
	doRequest(t, h, http.MethodPost, "/users", `{"name": "Alice", "email": "alice@example.com"}`)

	w := doRequest(t, h, http.MethodPut, "/users/1", `{"name": "Alicia"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body)
	}
	var updated store.User
	decodeBody(t, w, &updated)
	if updated.Name != "Alicia" || updated.Email != "alice@example.com" {
		t.Errorf("updated = %+v", updated)
	}

	w = doRequest(t, h, http.MethodDelete, "/users/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	w = doRequest(t, h, http.MethodGet, "/users/1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", w.Code)
	}
}

func TestListUsersPagination(t *testing.T) {
	h := newTestServer(nil).Handler()
	for _, e := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		doRequest(t, h, http.MethodPost, "/users", `{"name": "User", "email": "`+e+`"}`)
	}

	w := doRequest(t, h, http.MethodGet, "/users?page=1&size=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body userListResponse
	decodeBody(t, w, &body)
	if body.Total != 3 || len(body.Users) != 2 || !body.HasNext {
		t.Errorf("page 1 = %+v", body)
	}

	w = doRequest(t, h, http.MethodGet, "/users?page=2&size=2", "")
	decodeBody(t, w, &body)
	if len(body.Users) != 1 || body.HasNext {
		t.Errorf("page 2 = %+v", body)
	}

	w = doRequest(t, h, http.MethodGet, "/users?page=0", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("page=0 status = %d, want 400", w.Code)
	}
	w = doRequest(t, h, http.MethodGet, "/users?size=101", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("size=101 status = %d, want 400", w.Code)
	}
}

func TestBatchUpdate(t *testing.T) {
	rec := &mockRecorder{}
	h := newTestServer(rec).Handler()
	doRequest(t, h, http.MethodPost, "/users", `{"name": "Alice", "email": "alice@example.com"}`)
	doRequest(t, h, http.MethodPost, "/users", `{"name": "Bob", "email": "bob@example.com"}`)

	w := doRequest(t, h, http.MethodPost, "/users/batch", `[
		{"id": 1, "name": "Alicia"},
		{"id": 42, "name": "Ghost"}
	]`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	var res store.BatchResult
	decodeBody(t, w, &res)
	if res.Summary.Updated != 1 || len(res.Diagnostics) != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Users) != 2 || res.Users[0].Name != "Alicia" {
		t.Errorf("users = %+v", res.Users)
	}

	if len(rec.runs) != 1 {
		t.Fatalf("recorded runs = %d, want 1", len(rec.runs))
	}
	run := rec.runs[0]
	if run.Command != history.CommandBatch || run.Outcome != history.OutcomeOK {
		t.Errorf("run = %+v", run)
	}
	if run.UpdateCount != 2 || run.UpdatedCount != 1 || run.UnmatchedCount != 1 {
		t.Errorf("run counts = %+v", run)
	}
}

func TestBatchUpdateSchemaError(t *testing.T) {
	rec := &mockRecorder{}
	h := newTestServer(rec).Handler()
	doRequest(t, h, http.MethodPost, "/users", `{"name": "Alice", "email": "alice@example.com"}`)

	w := doRequest(t, h, http.MethodPost, "/users/batch", `[{"name": "Nobody"}]`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	var body errorBody
	decodeBody(t, w, &body)
	if body.Error != "schema violation" {
		t.Errorf("error = %q", body.Error)
	}

	if len(rec.runs) != 1 || rec.runs[0].Outcome != history.OutcomeSchemaError {
		t.Errorf("runs = %+v", rec.runs)
	}
}

func TestBatchUpdateValidationRollback(t *testing.T) {
	h := newTestServer(nil).Handler()
	doRequest(t, h, http.MethodPost, "/users", `{"name": "Alice", "email": "alice@example.com"}`)

	w := doRequest(t, h, http.MethodPost, "/users/batch", `[{"id": 1, "email": "broken"}]`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	w = doRequest(t, h, http.MethodGet, "/users/1", "")
	var u store.User
	decodeBody(t, w, &u)
	if u.Email != "alice@example.com" {
		t.Errorf("user changed after failed batch: %+v", u)
	}
}

func TestBatchUpdateDuplicateEmailConflict(t *testing.T) {
	h := newTestServer(nil).Handler()
	doRequest(t, h, http.MethodPost, "/users", `{"name": "Alice", "email": "alice@example.com"}`)
	doRequest(t, h, http.MethodPost, "/users", `{"name": "Bob", "email": "bob@example.com"}`)

	w := doRequest(t, h, http.MethodPost, "/users/batch", `[{"id": 2, "email": "alice@example.com"}]`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body %s", w.Code, w.Body)
	}

	w = doRequest(t, h, http.MethodGet, "/users/2", "")
	var u store.User
	decodeBody(t, w, &u)
	if u.Email != "bob@example.com" {
		t.Errorf("user changed after rejected batch: %+v", u)
	}
}

func TestBatchUpdateRecorderFailureIsNotFatal(t *testing.T) {
	rec := &mockRecorder{err: io.ErrClosedPipe}
	h := newTestServer(rec).Handler()
	doRequest(t, h, http.MethodPost, "/users", `{"name": "Alice", "email": "alice@example.com"}`)

	w := doRequest(t, h, http.MethodPost, "/users/batch", `[{"id": 1, "name": "Alicia"}]`)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 despite recorder failure", w.Code)
	}
}

func TestSummarize(t *testing.T) {
	h := newTestServer(nil).Handler()

	w := doRequest(t, h, http.MethodPost, "/contracts/summarize", `{
		"contracts": [
			{"contract_id": "C-1", "text": "This agreement covers licensing. Further terms follow."},
			{"contract_id": "C-2", "text": "No terminator here"}
		]
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	var res summarizeResponse
	decodeBody(t, w, &res)
	if len(res.Summaries) != 2 {
		t.Fatalf("summaries = %+v", res.Summaries)
	}
	if res.Summaries[0].Summary != "This agreement covers licensing." {
		t.Errorf("summary[0] = %q", res.Summaries[0].Summary)
	}
	if res.Summaries[1].ContractID != "C-2" || res.Summaries[1].Summary == "" {
		t.Errorf("summary[1] = %+v", res.Summaries[1])
	}
}

func TestSummarizeValidation(t *testing.T) {
	h := newTestServer(nil).Handler()

	for _, body := range []string{
		`{"contracts": []}`,
		`{"contracts": [{"contract_id": "", "text": "x"}]}`,
		`{"contracts": [{"contract_id": "C-1", "text": "  "}]}`,
	} {
		w := doRequest(t, h, http.MethodPost, "/contracts/summarize", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestServer(nil).Handler()

	w := doRequest(t, h, http.MethodGet, "/healthz", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if got := rw.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("X-Request-ID = %q, want fixed-id", got)
	}
}
