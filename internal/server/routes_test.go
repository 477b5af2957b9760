package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/commonplace-systems/commonplace/internal/commitstore"
	"github.com/commonplace-systems/commonplace/internal/config"
	"github.com/commonplace-systems/commonplace/internal/docstore"
	"github.com/commonplace-systems/commonplace/internal/fsreconciler"
	"github.com/commonplace-systems/commonplace/internal/room"
)

func newTestServer(t *testing.T) (*Server, *docstore.Store, commitstore.Store) {
	t.Helper()
	cs := commitstore.NewMemStore()
	store := docstore.New("site-1", nil)
	store.SetCommitStore(cs)
	rooms := room.NewManager(store, cs)
	store.SetBroadcaster(rooms)

	s := New(&config.Config{ListenAddr: ":0"}, store, cs, rooms, nil)
	return s, store, cs
}

func doRequest(s *Server, method, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Fatalf("expected OK body, got %q", rec.Body.String())
	}
}

func TestCreateDocRejectsUnsupportedContentType(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/docs", "", map[string]string{"Content-Type": "application/octet-stream"})
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
}

func TestCreateAndGetDocRoundtrips(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/docs", "", map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated id")
	}

	rec = doRequest(s, http.MethodGet, "/docs/"+created.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type: %q", rec.Header().Get("Content-Type"))
	}
}

func TestGetMissingDocReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/docs/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteDocReturns204ThenDocIsGone(t *testing.T) {
	s, store, _ := newTestServer(t)
	d := store.CreateDocument(docstore.ContentJSON)

	rec := doRequest(s, http.MethodDelete, "/docs/"+d.ID, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/docs/"+d.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestUpdateDocAppliesUpdateAndRecordsCommit(t *testing.T) {
	s, store, cs := newTestServer(t)
	d := store.CreateDocument(docstore.ContentJSON)

	update, err := d.Doc.SetContent(`{"v":1}`)
	if err != nil {
		t.Fatal(err)
	}

	body := `{"update":"` + base64.StdEncoding.EncodeToString(update) + `"}`
	rec := doRequest(s, http.MethodPut, "/docs/"+d.ID, body, map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	commits, err := cs.ListForDoc(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) == 0 {
		t.Fatal("expected at least one commit after PUT")
	}
}

func TestListDocumentsIncludesCreated(t *testing.T) {
	s, store, _ := newTestServer(t)
	d := store.CreateDocument(docstore.ContentJSON)

	rec := doRequest(s, http.MethodGet, "/documents", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), d.ID) {
		t.Fatalf("expected %s in %s", d.ID, rec.Body.String())
	}
}

func TestDocChangesSortedAscendingByTs(t *testing.T) {
	s, store, _ := newTestServer(t)
	d := store.CreateDocument(docstore.ContentJSON)

	if err := store.SetContent(d.ID, `{"v":1}`); err != nil {
		t.Fatal(err)
	}
	if err := store.SetContent(d.ID, `{"v":2}`); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(s, http.MethodGet, "/documents/"+d.ID+"/changes", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Changes []changeEntry `json:"changes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(resp.Changes))
	}
	if resp.Changes[0].Ts > resp.Changes[1].Ts {
		t.Fatal("expected changes sorted ascending by ts")
	}
}

func TestDocHeadRehydratesAtCommit(t *testing.T) {
	s, store, cs := newTestServer(t)
	d := store.CreateDocument(docstore.ContentJSON)

	if err := store.SetContent(d.ID, `{"v":1}`); err != nil {
		t.Fatal(err)
	}
	first, err := cs.Head(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetContent(d.ID, `{"v":2}`); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(s, http.MethodGet, "/docs/"+d.ID+"/head?at_commit="+first.CommitID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp docHeadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Content != `{"v":1}` {
		t.Fatalf("expected content at first commit, got %q", resp.Content)
	}
}

func TestFsRootAbsentWhenNotConfigured(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/fs-root", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when no fs-root is configured, got %d", rec.Code)
	}
}

func TestFsRootReturnsConfiguredID(t *testing.T) {
	store := docstore.New("site-1", nil)
	cs := commitstore.NewMemStore()
	rooms := room.NewManager(store, cs)
	rec := fsReconciler(store)

	s := New(&config.Config{ListenAddr: ":0"}, store, cs, rooms, rec)
	resp := doRequest(s, http.MethodGet, "/fs-root", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"my-fs"`) {
		t.Fatalf("expected fs-root id in response, got %s", resp.Body.String())
	}
}

func fsReconciler(store *docstore.Store) *fsreconciler.Reconciler {
	return fsreconciler.New("my-fs", store)
}

func TestHandleCommandWithoutFsRootReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/commands/notes/refresh", `{"payload":{}}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without an fs-root configured, got %d", rec.Code)
	}
}

func TestHandleCommandDeliversEventToResolvedDocument(t *testing.T) {
	store := docstore.New("site-1", nil)
	cs := commitstore.NewMemStore()
	rooms := room.NewManager(store, cs)
	rec := fsReconciler(store)
	d, _ := store.GetOrCreateWithID("my-fs:notes", docstore.ContentJSON)

	s := New(&config.Config{ListenAddr: ":0"}, store, cs, rooms, rec)

	sub := d.Node.SubscribeRed()
	resp := doRequest(s, http.MethodPost, "/commands/notes/refresh", `{"payload":{"n":1},"source":"client-1"}`, map[string]string{"Content-Type": "application/json"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	evt, err := sub.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if evt.EventType != "refresh" {
		t.Fatalf("expected verb 'refresh', got %q", evt.EventType)
	}
	if evt.Source != d.Node.ID() {
		t.Fatalf("expected source to be stamped with the document's id %q, got %q", d.Node.ID(), evt.Source)
	}
}

func TestHandleCommandUnknownDocumentReturns404(t *testing.T) {
	store := docstore.New("site-1", nil)
	cs := commitstore.NewMemStore()
	rooms := room.NewManager(store, cs)
	rec := fsReconciler(store)

	s := New(&config.Config{ListenAddr: ":0"}, store, cs, rooms, rec)

	resp := doRequest(s, http.MethodPost, "/commands/missing/refresh", `{"payload":{}}`, map[string]string{"Content-Type": "application/json"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unresolvable document, got %d", resp.Code)
	}
}
