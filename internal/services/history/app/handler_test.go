package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/benchhistory/internal/platform/errors"
	"github.com/louisbranch/benchhistory/internal/platform/timeouts"
	"github.com/louisbranch/benchhistory/internal/services/history/execution"
	"github.com/louisbranch/benchhistory/internal/services/history/feed"
	"github.com/louisbranch/benchhistory/internal/services/history/row"
	"github.com/louisbranch/benchhistory/internal/services/history/storage"
	historysqlite "github.com/louisbranch/benchhistory/internal/services/history/storage/sqlite"
	"golang.org/x/net/websocket"
	"golang.org/x/text/language"
)

type testEnv struct {
	handler http.Handler
	store   *historysqlite.Store
	hub     *feed.Hub
	logs    *bytes.Buffer
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	store, err := historysqlite.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logs := &bytes.Buffer{}
	logger := log.New(logs, "", 0)
	hub := feed.NewHub(logger)
	ids := 0
	handler, err := NewHandler(Dependencies{
		Store:    store,
		Renderer: row.MustNewRenderer(row.Options{}),
		Hub:      hub,
		NewID: func() string {
			ids++
			return fmt.Sprintf("generated-id-%d", ids)
		},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return testEnv{handler: handler, store: store, hub: hub, logs: logs}
}

func (e testEnv) seed(t *testing.T, records ...execution.Record) {
	t.Helper()
	for _, record := range records {
		if err := e.store.CreateExecution(context.Background(), record); err != nil {
			t.Fatalf("seed %s: %v", record.UUID, err)
		}
	}
}

func (e testEnv) do(t *testing.T, method string, target string, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for key, value := range header {
		req.Header.Set(key, value)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func exampleRecord() execution.Record {
	return execution.Record{
		UUID:          "abcdef1234567890",
		GitRef:        "deadbeefcafe",
		StartedAt:     "2023-01-02T03:04:00Z",
		FinishedAt:    "2023-01-02T04:00:00Z",
		TypeOf:        "cron",
		PullNB:        "42",
		GolangVersion: "1.20",
	}
}

func TestNewHandlerRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewHandler(Dependencies{NewID: func() string { return "x" }}); err == nil {
		t.Fatal("expected missing store error")
	}
	env := newTestEnv(t)
	if _, err := NewHandler(Dependencies{Store: env.store}); err == nil {
		t.Fatal("expected missing id generator error")
	}
}

func TestUpReturnsOK(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/up", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("GET /up = %d %q", w.Code, w.Body.String())
	}
}

func TestRootRedirectsToExecutions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/", "", nil)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/executions" {
		t.Fatalf("GET / = %d location=%q", w.Code, w.Header().Get("Location"))
	}
}

func TestExecutionsPageRendersRows(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seed(t, exampleRecord())

	w := env.do(t, http.MethodGet, "/executions", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	for _, want := range []string{
		"<!DOCTYPE html>",
		"<title>Previous executions · Benchmark history</title>",
		`<tbody id="execution-rows" data-live="/executions/live?lang=en-US">`,
		"abcdef12",
		`href="https://github.com/vitessio/vitess/commit/deadbeefcafe">deadbe</a>`,
		"01/02/2023 03:04",
		"01/02/2023 04:00",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("page missing %q:\n%s", want, body)
		}
	}
	if got := w.Header().Get("X-Request-ID"); got == "" {
		t.Fatal("expected request id header")
	}
}

func TestExecutionsPageHTMXReturnsFragment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seed(t, exampleRecord())

	w := env.do(t, http.MethodGet, "/executions?filter=type_of+%3D+%22cron%22", "", map[string]string{"HX-Request": "true"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "<html") {
		t.Fatalf("fragment contains document markup:\n%s", body)
	}
	if !strings.HasPrefix(body, "<title>Previous executions</title>") {
		t.Fatalf("fragment should start with title: %s", body)
	}
	if !strings.Contains(body, `<tr class="previous-execution" id="execution-abcdef1234567890">`) {
		t.Fatalf("fragment missing row:\n%s", body)
	}
}

func TestExecutionsPagePaginates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seed(t,
		execution.Record{UUID: "exec-1", GitRef: "aaaaaaa", TypeOf: "cron", StartedAt: "2023-01-01T00:00:00Z"},
		execution.Record{UUID: "exec-2", GitRef: "bbbbbbb", TypeOf: "cron", StartedAt: "2023-01-02T00:00:00Z"},
	)

	first := env.do(t, http.MethodGet, "/executions?page_size=1", "", map[string]string{"HX-Request": "true"}).Body.String()
	if !strings.Contains(first, "execution-exec-2") || strings.Contains(first, "execution-exec-1") {
		t.Fatalf("first page rows unexpected:\n%s", first)
	}
	idx := strings.Index(first, `hx-get="`)
	if idx < 0 {
		t.Fatalf("first page missing next link:\n%s", first)
	}
	rest := first[idx+len(`hx-get="`):]
	next := strings.ReplaceAll(rest[:strings.Index(rest, `"`)], "&amp;", "&")

	second := env.do(t, http.MethodGet, next, "", map[string]string{"HX-Request": "true"}).Body.String()
	if !strings.Contains(second, "execution-exec-1") {
		t.Fatalf("second page missing exec-1:\n%s", second)
	}
	if strings.Contains(second, "previous-execution__more") || strings.Contains(second, "previous-execution__empty") {
		t.Fatalf("second page should end without link or empty row:\n%s", second)
	}
}

func TestExecutionsPageEmpty(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/executions?lang=pt-BR", "", nil)
	body := w.Body.String()
	if !strings.Contains(body, "Nenhuma execução registrada ainda.") {
		t.Fatalf("page missing localized empty message:\n%s", body)
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), "bh_lang=pt-BR") {
		t.Fatalf("Set-Cookie = %q", w.Header().Get("Set-Cookie"))
	}
}

func TestExecutionsPageRejectsInvalidFilter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/executions?filter=bogus+%3D+1", "", map[string]string{"HX-Request": "true"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "The filter expression is invalid.") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestExecutionsPageRejectsInvalidPageSize(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/executions?page_size=lots", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestRowEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seed(t, exampleRecord())

	w := env.do(t, http.MethodGet, "/executions/abcdef1234567890/row?lang=pt-BR", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, `<tr class="previous-execution"`) || !strings.Contains(body, "Início") {
		t.Fatalf("row body = %s", body)
	}

	missing := env.do(t, http.MethodGet, "/executions/nope/row", "", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", missing.Code)
	}
	if !strings.Contains(missing.Body.String(), "Execution not found.") {
		t.Fatalf("missing body = %s", missing.Body.String())
	}
	if got := missing.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Fatalf("missing content-type = %q", got)
	}
}

func TestAPICreateGetAndList(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := `{"uuid":"","git_ref":"deadbeefcafe","started_at":"2023-01-02T03:04:00Z","type_of":"pr","pull_nb":7,"golang_version":"1.21"}`
	created := env.do(t, http.MethodPost, "/api/executions", body, map[string]string{"Content-Type": "application/json"})
	if created.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", created.Code, created.Body.String())
	}
	var record execution.Record
	if err := json.Unmarshal(created.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if record.UUID != "generated-id-1" || record.PullNB != "7" {
		t.Fatalf("created record = %+v", record)
	}
	if got := created.Header().Get("Location"); got != "/api/executions/generated-id-1" {
		t.Fatalf("Location = %q", got)
	}

	got := env.do(t, http.MethodGet, "/api/executions/generated-id-1", "", nil)
	if got.Code != http.StatusOK || !strings.Contains(got.Body.String(), `"pull_nb":7`) {
		t.Fatalf("get = %d %s", got.Code, got.Body.String())
	}

	list := env.do(t, http.MethodGet, "/api/executions?filter=type_of+%3D+%22pr%22", "", nil)
	var page struct {
		Executions    []execution.Record `json:"executions"`
		NextPageToken string             `json:"next_page_token"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(page.Executions) != 1 || page.NextPageToken != "" {
		t.Fatalf("list = %+v", page)
	}
}

func TestAPICreateErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seed(t, exampleRecord())

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed json", body: `{"uuid":`, want: http.StatusBadRequest},
		{name: "bad pull number", body: `{"git_ref":"a","type_of":"cron","pull_nb":true}`, want: http.StatusBadRequest},
		{name: "missing type", body: `{"git_ref":"abc"}`, want: http.StatusBadRequest},
		{name: "duplicate", body: `{"uuid":"abcdef1234567890","git_ref":"abc","type_of":"cron"}`, want: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/executions", tt.body, nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
			var payload map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
				t.Fatalf("error body is not json: %v", err)
			}
			if _, ok := payload["error"]; !ok {
				t.Fatalf("error body = %s", w.Body.String())
			}
		})
	}
}

func TestAPIGetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/executions/missing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestAPIListRejectsBadPageToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/executions?page_token=%25%25", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestAPICreatePublishesToLiveFeed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/executions/live?lang=pt-BR"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if frame := readFeedFrame(t, conn); frame.Type != feed.FrameReady {
		t.Fatalf("first frame = %q", frame.Type)
	}

	body := `{"uuid":"abcdef1234567890","git_ref":"deadbeefcafe","started_at":"not a date","type_of":"cron","pull_nb":"42","golang_version":"1.20"}`
	resp, err := http.Post(srv.URL+"/api/executions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post execution: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	frame := readFeedFrame(t, conn)
	if frame.Type != feed.FrameExecutionRecorded {
		t.Fatalf("frame type = %q", frame.Type)
	}
	var payload feed.RecordedPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.UUID != "abcdef1234567890" {
		t.Fatalf("uuid = %q", payload.UUID)
	}
	for _, want := range []string{"abcdef12", ">deadbe</a>", "Data inválida", "Versão do Go"} {
		if !strings.Contains(payload.HTML, want) {
			t.Fatalf("html missing %q: %s", want, payload.HTML)
		}
	}
}

func TestAPICreateDoesNotWaitForStalledFeedPeer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/executions/live"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if frame := readFeedFrame(t, conn); frame.Type != feed.FrameReady {
		t.Fatalf("first frame = %q", frame.Type)
	}

	// The peer stops reading; fill its socket and send buffer.
	filler := strings.Repeat("x", 256<<10)
	for i := 0; i < 64; i++ {
		env.hub.Publish("filler", func(language.Tag) (string, error) {
			return filler, nil
		})
	}

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"uuid":"stalled-%d","git_ref":"deadbeefcafe","type_of":"cron"}`, i)
		start := time.Now()
		resp, err := http.Post(srv.URL+"/api/executions", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post execution: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create status = %d", resp.StatusCode)
		}
		if elapsed := time.Since(start); elapsed >= timeouts.FeedWrite {
			t.Fatalf("create took %s with a stalled feed peer", elapsed)
		}
	}
}

func readFeedFrame(t *testing.T, conn *websocket.Conn) feed.Frame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var frame feed.Frame
	if err := json.NewDecoder(conn).Decode(&frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

func TestStoreErrorMapsSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{err: storage.ErrNotFound, want: http.StatusNotFound},
		{err: storage.ErrAlreadyExists, want: http.StatusConflict},
		{err: storage.ErrInvalidFilter, want: http.StatusBadRequest},
		{err: storage.ErrInvalidPageToken, want: http.StatusBadRequest},
		{err: context.DeadlineExceeded, want: http.StatusServiceUnavailable},
		{err: errors.New("disk on fire"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := apperrors.HTTPStatus(storeError("op", tt.err)); got != tt.want {
			t.Fatalf("storeError(%v) status = %d, want %d", tt.err, got, tt.want)
		}
	}
}
