/*
handlers.go - HTTP API handlers for the capacity service

PURPOSE:
  Exposes capacity sessions over REST. Handles HTTP request/response, JSON
  serialization, and delegates to the capacity engine.

ENDPOINTS:
  Sessions:
    POST   /api/sessions                       Open a session (optional initial query)
    GET    /api/sessions/{id}                  State, query, options
    DELETE /api/sessions/{id}                  Close a session
    PUT    /api/sessions/{id}/query            Aplicar Filtros
    PATCH  /api/sessions/{id}/filters/{dim}    Debounced secondary filter edit

  Cards:
    GET    /api/sessions/{id}/cards            Cards + pending warnings (?wait=true)
    POST   /api/sessions/{id}/cards/{entity}/expand
    GET    /api/sessions/{id}/cards/{entity}/details/{type}
    GET    /api/sessions/{id}/cards/{entity}/details/{type}/{row}/{subType}
    GET    /api/sessions/{id}/cards/{entity}/tasks/{task}/logs

  Holidays:
    GET    /api/holidays                       List holidays
    POST   /api/holidays                       Create holiday
    POST   /api/holidays/defaults              Seed national holidays
    DELETE /api/holidays/{id}                  Delete holiday

  Audit:
    GET    /api/cycles                         Recent query cycles

REQUEST FLOW:
  1. Parse HTTP request
  2. Look up the session
  3. Call the engine (validation happens there, before any upstream call)
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Upstream API asked for a new login
  - 404: Unknown session or card
  - 409: Request superseded by a newer query
  - 502: Upstream API failure
  - 500: Internal errors

AUTHENTICATION:
  The service has no users of its own. The inbound Cookie header is
  forwarded to the upstream API when a session is opened.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Session registry and reaper
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/warp/capacity-engine/backend"
	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/config"
	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// DefaultWaitTimeout bounds GET /cards?wait=true.
const DefaultWaitTimeout = 35 * time.Second

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Holidays generic.HolidayStore
	Cycles   generic.CycleLog
	Sessions *SessionRegistry
	Logger   *slog.Logger

	// DB is pinged by the health endpoint. Nil skips the check.
	DB Pinger

	WaitTimeout time.Duration
}

// NewHandler creates a new handler.
func NewHandler(holidays generic.HolidayStore, cycles generic.CycleLog, sessions *SessionRegistry, logger *slog.Logger) *Handler {
	return &Handler{
		Holidays:    holidays,
		Cycles:      cycles,
		Sessions:    sessions,
		Logger:      logger.With(slog.String("component", "api")),
		WaitTimeout: DefaultWaitTimeout,
	}
}

func (h *Handler) log(r *http.Request, op string) *slog.Logger {
	return h.Logger.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// CreateSession opens a session and applies the optional initial query.
// POST /api/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.CreateSession"

	var req QueryRequest
	hasQuery := true
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		if !errors.Is(err, io.EOF) {
			h.writeError(w, r, op, badRequest("invalid request body", err))
			return
		}
		hasQuery = false
	}

	var q capacity.Query
	if hasQuery {
		var err error
		if q, err = req.toQuery(); err != nil {
			h.writeError(w, r, op, err)
			return
		}
		if err := q.Validate(); err != nil {
			h.writeError(w, r, op, err)
			return
		}
	}

	s := h.Sessions.Create(r.Header.Get("Cookie"))
	if hasQuery {
		if err := s.Apply(q); err != nil {
			_ = h.Sessions.Close(s.ID)
			h.writeError(w, r, op, err)
			return
		}
	}

	h.log(r, op).Info("session opened", slog.String("session", s.ID), slog.Bool("query", hasQuery))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toSessionDTO(s))
}

// GetSession returns state, query and contextual options.
// GET /api/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.GetSession"

	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	render.JSON(w, r, toSessionDTO(s))
}

// DeleteSession closes a session and cancels its cycles.
// DELETE /api/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.DeleteSession"

	if err := h.Sessions.Close(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, op, err)
		return
	}
	render.NoContent(w, r)
}

// ApplyQuery starts a new query cycle.
// PUT /api/sessions/{id}/query
func (h *Handler) ApplyQuery(w http.ResponseWriter, r *http.Request) {
	const op = "api.ApplyQuery"

	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}

	var req QueryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, op, badRequest("invalid request body", err))
		return
	}
	q, err := req.toQuery()
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	if err := s.Apply(q); err != nil {
		h.writeError(w, r, op, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, toSessionDTO(s))
}

// SetFilter replaces one secondary filter. The reload is debounced.
// PATCH /api/sessions/{id}/filters/{dimension}
func (h *Handler) SetFilter(w http.ResponseWriter, r *http.Request) {
	const op = "api.SetFilter"

	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	d, err := capacity.ParseDimension(chi.URLParam(r, "dimension"))
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}

	var req SecondaryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, op, badRequest("invalid request body", err))
		return
	}
	if err := s.SetSecondary(d, req.IDs); err != nil {
		h.writeError(w, r, op, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, toSessionDTO(s))
}

// =============================================================================
// CARD HANDLERS
// =============================================================================

// ListCards returns the current cards and the warnings raised since the
// last call. With ?wait=true it first waits for the running cycle.
// GET /api/sessions/{id}/cards
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	const op = "api.ListCards"

	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), h.WaitTimeout)
		err := s.Wait(ctx)
		cancel()
		if err != nil && r.Context().Err() != nil {
			return
		}
	}

	if s.AuthRequired() {
		h.writeError(w, r, op, generic.ErrUnauthorized)
		return
	}

	cards, err := s.Cards()
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	resp := CardsResponse{
		State:    s.State().String(),
		Cards:    make([]CardDTO, len(cards)),
		Warnings: s.DrainWarnings(),
	}
	for i, c := range cards {
		resp.Cards[i] = toCardDTO(c)
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	render.JSON(w, r, resp)
}

// ExpandCard explodes one card into day records.
// POST /api/sessions/{id}/cards/{entityID}/expand
func (h *Handler) ExpandCard(w http.ResponseWriter, r *http.Request) {
	const op = "api.ExpandCard"

	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	exp, err := s.Expand(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	dto := toExpansionDTO(exp)
	if card, ok := s.Card(exp.EntityID); ok {
		dto.Card = toCardDTO(card)
	}
	render.JSON(w, r, dto)
}

// CardDetails returns level-1 rows of a card.
// GET /api/sessions/{id}/cards/{entityID}/details/{type}
func (h *Handler) CardDetails(w http.ResponseWriter, r *http.Request) {
	const op = "api.CardDetails"

	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	detailType, err := capacity.ParseDimension(chi.URLParam(r, "type"))
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}

	rows, err := s.Level1(r.Context(), chi.URLParam(r, "entityID"), detailType)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	render.JSON(w, r, toDetailRowDTOs(rows))
}

// CardSubDetails returns level-2 rows under one level-1 row.
// GET /api/sessions/{id}/cards/{entityID}/details/{type}/{rowID}/{subType}
func (h *Handler) CardSubDetails(w http.ResponseWriter, r *http.Request) {
	const op = "api.CardSubDetails"

	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	parentType, err := capacity.ParseDimension(chi.URLParam(r, "type"))
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	subType, err := capacity.ParseDimension(chi.URLParam(r, "subType"))
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}

	rows, err := s.Level2(r.Context(), chi.URLParam(r, "entityID"), parentType, chi.URLParam(r, "rowID"), subType)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	render.JSON(w, r, toDetailRowDTOs(rows))
}

// TaskLogs returns the realized-time rows of one task of a card.
// GET /api/sessions/{id}/cards/{entityID}/tasks/{taskID}/logs
func (h *Handler) TaskLogs(w http.ResponseWriter, r *http.Request) {
	const op = "api.TaskLogs"

	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	logs, err := s.Level3(r.Context(), chi.URLParam(r, "entityID"), chi.URLParam(r, "taskID"))
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	render.JSON(w, r, toTimeLogDTOs(logs))
}

// =============================================================================
// HOLIDAY ENDPOINTS
// =============================================================================

// ListHolidays returns all holidays.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	const op = "api.ListHolidays"

	holidays, err := h.Holidays.ListHolidays(r.Context())
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}

	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		dtos = append(dtos, HolidayDTO{
			ID:        hol.ID,
			Date:      hol.Date.DateKey(),
			Name:      hol.Name,
			Recurring: hol.Recurring,
		})
	}
	render.JSON(w, r, map[string]any{"holidays": dtos})
}

// CreateHoliday creates or replaces a holiday.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	const op = "api.CreateHoliday"

	var req CreateHolidayRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, op, badRequest("invalid request body", err))
		return
	}
	if req.Date == "" || strings.TrimSpace(req.Name) == "" {
		h.writeError(w, r, op, badRequest("date and name are required", nil))
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		h.writeError(w, r, op, badRequest("invalid date format (use YYYY-MM-DD)", err))
		return
	}

	holiday := generic.Holiday{
		ID:        req.ID,
		Date:      date,
		Name:      strings.TrimSpace(req.Name),
		Recurring: req.Recurring,
	}
	if holiday.ID == "" {
		holiday.ID = uuid.NewString()
	}
	if err := h.Holidays.SaveHoliday(r.Context(), holiday); err != nil {
		h.writeError(w, r, op, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, HolidayDTO{ID: holiday.ID, Date: date.DateKey(), Name: holiday.Name, Recurring: holiday.Recurring})
}

// DeleteHoliday deletes a holiday.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	const op = "api.DeleteHoliday"

	if err := h.Holidays.DeleteHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, op, err)
		return
	}
	render.NoContent(w, r)
}

// AddDefaultHolidays seeds the Brazilian national holidays.
// POST /api/holidays/defaults
func (h *Handler) AddDefaultHolidays(w http.ResponseWriter, r *http.Request) {
	const op = "api.AddDefaultHolidays"

	var req DefaultHolidaysRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, op, badRequest("invalid request body", err))
		return
	}
	if len(req.Years) == 0 {
		year := time.Now().Year()
		req.Years = []int{year, year + 1}
	}

	holidays := config.DefaultHolidays(req.Years...)
	for _, hol := range holidays {
		if err := h.Holidays.SaveHoliday(r.Context(), hol); err != nil {
			h.writeError(w, r, op, err)
			return
		}
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]any{"status": "created", "count": len(holidays)})
}

// =============================================================================
// AUDIT AND HEALTH
// =============================================================================

// ListCycles returns the most recent query cycles.
// GET /api/cycles?limit=50
func (h *Handler) ListCycles(w http.ResponseWriter, r *http.Request) {
	const op = "api.ListCycles"

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeError(w, r, op, badRequest("limit must be a positive integer", err))
			return
		}
		limit = n
	}

	records, err := h.Cycles.ListCycles(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	dtos := make([]CycleDTO, len(records))
	for i, rec := range records {
		dtos[i] = toCycleDTO(rec)
	}
	render.JSON(w, r, map[string]any{"cycles": dtos})
}

// Pinger is a storage backend that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness, database reachability and the number of open
// sessions. An unreachable database answers 503.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	const op = "api.Health"

	resp := map[string]any{"status": "ok", "database": "ok", "sessions": h.Sessions.Len()}
	if h.DB == nil {
		resp["database"] = "none"
		render.JSON(w, r, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.Ping(ctx); err != nil {
		h.log(r, op).Error("database unreachable", slog.Any("error", err))
		resp["status"] = "degraded"
		resp["database"] = "unavailable"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) session(r *http.Request) (*capacity.Session, error) {
	return h.Sessions.Get(chi.URLParam(r, "id"))
}

// requestError is a malformed request rejected before reaching the engine.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

func (e *requestError) Unwrap() error { return e.err }

func badRequest(msg string, err error) error { return &requestError{msg: msg, err: err} }

// statusFor maps an error to its HTTP status and public message.
func statusFor(err error) (int, string) {
	var reqErr *requestError
	var statusErr *backend.StatusError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.msg
	case generic.IsClientError(err):
		return http.StatusBadRequest, "invalid query"
	case errors.Is(err, generic.ErrUnauthorized):
		return http.StatusUnauthorized, "upstream authentication required"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, generic.ErrSessionClosed):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, generic.ErrEntityNotFound):
		return http.StatusNotFound, "card not found"
	case generic.IsAbandoned(err):
		return http.StatusConflict, "request superseded"
	case errors.As(err, &statusErr), errors.Is(err, backend.ErrMalformedPayload), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway, "upstream API failure"
	}
	return http.StatusInternalServerError, "internal error"
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log(r, op).Error(msg, slog.Any("error", err))
	} else {
		h.log(r, op).Debug(msg, slog.Int("status", status), slog.Any("error", err))
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg, Details: err.Error()})
}
