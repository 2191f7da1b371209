package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	apperrors "github.com/louisbranch/benchhistory/internal/platform/errors"
	"github.com/louisbranch/benchhistory/internal/platform/httpx"
	"github.com/louisbranch/benchhistory/internal/platform/otel"
	"github.com/louisbranch/benchhistory/internal/platform/pagination"
	"github.com/louisbranch/benchhistory/internal/platform/requestctx"
	"github.com/louisbranch/benchhistory/internal/platform/timeouts"
	"github.com/louisbranch/benchhistory/internal/services/history/execution"
	"github.com/louisbranch/benchhistory/internal/services/history/feed"
	"github.com/louisbranch/benchhistory/internal/services/history/row"
	"github.com/louisbranch/benchhistory/internal/services/history/storage"
	"github.com/louisbranch/benchhistory/internal/services/shared/htmx"
	"github.com/louisbranch/benchhistory/internal/services/shared/i18nhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// maxRecordBytes caps one POSTed execution body.
	maxRecordBytes = 1 << 20

	keyNotFound  = "history.error.not_found"
	keyFilter    = "history.error.filter"
	keyPageToken = "history.error.page_token"
)

var pageSizes = pagination.PageSizeConfig{Default: 20, Max: 100}

// Dependencies are the collaborators of the history HTTP surface.
type Dependencies struct {
	Store    storage.ExecutionStore
	Renderer row.Renderer
	// Hub receives every execution recorded through the API. Optional.
	Hub *feed.Hub
	// NewID assigns a UUID to recorded executions that arrive without one.
	NewID  func() string
	Logger *log.Logger
}

type handlers struct {
	store    storage.ExecutionStore
	renderer row.Renderer
	hub      *feed.Hub
	newID    func() string
	logger   *log.Logger
	tracer   trace.Tracer
}

// NewHandler builds the history routes wrapped in the shared middleware chain.
func NewHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errors.New("execution store is required")
	}
	if deps.NewID == nil {
		return nil, errors.New("id generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	h := &handlers{
		store:    deps.Store,
		renderer: deps.Renderer,
		hub:      deps.Hub,
		newID:    deps.NewID,
		logger:   logger,
		tracer:   otel.Tracer("history/app"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "OK")
	})
	mux.Handle("GET /{$}", http.RedirectHandler("/executions", http.StatusFound))
	mux.HandleFunc("GET /executions", h.traced("history.page", h.handlePage))
	mux.HandleFunc("GET /executions/{uuid}/row", h.traced("history.row", h.handleRow))
	mux.HandleFunc("GET /api/executions", h.traced("history.api.list", h.handleAPIList))
	mux.HandleFunc("POST /api/executions", h.traced("history.api.create", h.handleAPICreate))
	mux.HandleFunc("GET /api/executions/{uuid}", h.traced("history.api.get", h.handleAPIGet))
	if h.hub != nil {
		mux.Handle("GET /executions/live", h.hub.Handler())
	}

	return httpx.Chain(mux,
		httpx.RecoverPanic(),
		httpx.RequestID(),
		httpx.RequestLogger(logger),
	), nil
}

func (h *handlers) traced(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), name, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		))
		defer span.End()
		next(w, r.WithContext(ctx))
	}
}

// localize resolves the request language and persists an explicit choice.
func localize(w http.ResponseWriter, r *http.Request) (language.Tag, *message.Printer) {
	tag, persist := i18nhttp.ResolveTag(r)
	if persist {
		i18nhttp.SetLanguageCookie(w, tag)
	}
	return tag, i18nhttp.Printer(tag)
}

func (h *handlers) handlePage(w http.ResponseWriter, r *http.Request) {
	tag, printer := localize(w, r)
	renderer := h.renderer.WithLocalizer(printer)
	query := r.URL.Query()

	view := pageView{
		Lang:      tag.String(),
		Title:     printer.Sprintf("history.page.title"),
		AppName:   printer.Sprintf("core.app_name"),
		Filter:    strings.TrimSpace(query.Get("filter")),
		PageToken: strings.TrimSpace(query.Get("page_token")),
		Languages: i18nhttp.BuildLanguageOptions(tag, r.URL.Path, r.URL.RawQuery, printer),
		Labels: pageLabels{
			Filter: printer.Sprintf("history.page.filter"),
			Empty:  printer.Sprintf("history.page.empty"),
			Next:   printer.Sprintf("history.page.next"),
		},
	}

	status := http.StatusOK
	page, pageSize, err := h.listExecutions(r.Context(), query.Get("page_size"), view.PageToken, view.Filter)
	if err != nil {
		status = apperrors.HTTPStatus(err)
		view.Error = localizedError(printer, err)
		h.logError(r, err)
	} else {
		view.PageSize = pageSize
		view.NextPageToken = page.NextPageToken
		view.Rows = make([]row.Row, 0, len(page.Executions))
		for _, record := range page.Executions {
			view.Rows = append(view.Rows, renderer.Build(record))
		}
	}
	if view.Filter == "" && view.PageToken == "" {
		view.LiveURL = "/executions/live?" + i18nhttp.LangParam + "=" + view.Lang
	}

	htmx.RenderPage(w, r, status, rowsFragment(view), historyPage(view), view.Title)
}

func (h *handlers) handleRow(w http.ResponseWriter, r *http.Request) {
	_, printer := localize(w, r)
	record, err := h.getExecution(r.Context(), r.PathValue("uuid"))
	if err != nil {
		h.logError(r, err)
		_ = httpx.WriteHTML(w, apperrors.HTTPStatus(err), templ.EscapeString(localizedError(printer, err)))
		return
	}
	templ.Handler(h.renderer.WithLocalizer(printer).Build(record).Component()).ServeHTTP(w, r)
}

type listResponse struct {
	Executions    []execution.Record `json:"executions"`
	NextPageToken string             `json:"next_page_token,omitempty"`
}

func (h *handlers) handleAPIList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _, err := h.listExecutions(r.Context(), query.Get("page_size"), query.Get("page_token"), query.Get("filter"))
	if err != nil {
		h.logError(r, err)
		_ = httpx.WriteJSONError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, listResponse{
		Executions:    page.Executions,
		NextPageToken: page.NextPageToken,
	})
}

func (h *handlers) handleAPIGet(w http.ResponseWriter, r *http.Request) {
	record, err := h.getExecution(r.Context(), r.PathValue("uuid"))
	if err != nil {
		h.logError(r, err)
		_ = httpx.WriteJSONError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, record)
}

func (h *handlers) handleAPICreate(w http.ResponseWriter, r *http.Request) {
	var record execution.Record
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err := decoder.Decode(&record); err != nil {
		_ = httpx.WriteJSONError(w, apperrors.Wrap(apperrors.KindInvalidInput, fmt.Sprintf("decode execution: %v", err), err))
		return
	}
	record.UUID = strings.TrimSpace(record.UUID)
	if record.UUID == "" {
		record.UUID = h.newID()
	}
	if err := record.Validate(); err != nil {
		_ = httpx.WriteJSONError(w, apperrors.Wrap(apperrors.KindInvalidInput, err.Error(), err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.StoreOperation)
	defer cancel()
	if err := h.store.CreateExecution(ctx, record); err != nil {
		err = storeError("create execution", err)
		h.logError(r, err)
		_ = httpx.WriteJSONError(w, err)
		return
	}
	h.logger.Printf("execution recorded uuid=%s type=%s git_ref=%s", record.UUID, record.TypeOf, record.GitRef)

	if h.hub != nil {
		renderer := h.renderer
		h.hub.Publish(record.UUID, func(tag language.Tag) (string, error) {
			return renderer.WithLocalizer(i18nhttp.Printer(tag)).Build(record).HTML(), nil
		})
	}
	w.Header().Set("Location", "/api/executions/"+record.UUID)
	_ = httpx.WriteJSON(w, http.StatusCreated, record)
}

func (h *handlers) listExecutions(ctx context.Context, rawPageSize string, pageToken string, filterExpr string) (storage.ExecutionPage, int, error) {
	pageSize, err := pagination.ParsePageSize(rawPageSize, pageSizes)
	if err != nil {
		return storage.ExecutionPage{}, 0, apperrors.Wrap(apperrors.KindInvalidInput, err.Error(), err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.StoreOperation)
	defer cancel()
	page, err := h.store.ListExecutions(ctx, storage.ListQuery{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(pageToken),
		Filter:    strings.TrimSpace(filterExpr),
	})
	if err != nil {
		return storage.ExecutionPage{}, 0, storeError("list executions", err)
	}
	return page, pageSize, nil
}

func (h *handlers) getExecution(ctx context.Context, uuid string) (execution.Record, error) {
	uuid = strings.TrimSpace(uuid)
	if uuid == "" {
		return execution.Record{}, apperrors.EK(apperrors.KindNotFound, keyNotFound, "execution not found")
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.StoreOperation)
	defer cancel()
	record, err := h.store.GetExecution(ctx, uuid)
	if err != nil {
		return execution.Record{}, storeError("get execution", err)
	}
	return record, nil
}

// storeError maps storage failures onto typed application errors.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.EK(apperrors.KindNotFound, keyNotFound, "execution not found")
	case errors.Is(err, storage.ErrAlreadyExists):
		return apperrors.Error{Kind: apperrors.KindConflict, Message: "execution already exists", Cause: err}
	case errors.Is(err, storage.ErrInvalidFilter):
		return apperrors.Error{Kind: apperrors.KindInvalidInput, Key: keyFilter, Message: err.Error(), Cause: err}
	case errors.Is(err, storage.ErrInvalidPageToken):
		return apperrors.Error{Kind: apperrors.KindInvalidInput, Key: keyPageToken, Message: err.Error(), Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.KindUnavailable, op+": timed out", err)
	default:
		return apperrors.Wrap(apperrors.KindUnknown, op, err)
	}
}

// localizedError returns the user-facing text for err in the printer's language.
func localizedError(printer *message.Printer, err error) string {
	if key := apperrors.LocalizationKey(err); key != "" && printer != nil {
		return printer.Sprintf(key)
	}
	if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
		return http.StatusText(apperrors.HTTPStatus(err))
	}
	return err.Error()
}

func (h *handlers) logError(r *http.Request, err error) {
	if apperrors.HTTPStatus(err) < http.StatusInternalServerError {
		return
	}
	h.logger.Printf(
		"request failed method=%s path=%s request_id=%s kind=%s err=%v",
		r.Method,
		r.URL.Path,
		requestctx.RequestIDFromContext(r.Context()),
		apperrors.KindOf(err),
		err,
	)
}
