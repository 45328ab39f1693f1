/*
handlers.go - HTTP API handlers for the ledger host

PURPOSE:
  Exposes a ledger.Authority via REST. Handles HTTP request/response, JSON
  serialization and the bearer-token writer credential, and delegates every
  ledger decision to the authority.

ENDPOINTS:
  Transactions:
    POST   /api/transactions                     Append (Bearer token)
    GET    /api/transactions/count               Number of records
    GET    /api/transactions?from=&to=           Records in [from, to)
    GET    /api/transactions/{position}          Record at position
    GET    /api/transactions/by-id/{contentId}   First record with content id

  Events:
    GET    /api/events                           TransactionAdded stream (SSE)

  Health:
    GET    /api/health                           Liveness and record count

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the authority (authorize, validate, append / read)
  3. Serialize response
  4. Map errors with statusFor

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed input
  - 401: Missing or unknown writer token
  - 404: Position or content id not on the ledger
  - 503: Store unavailable or append not accepted by the store
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - stream.go: Event stream
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/food-ledger/events"
	"github.com/warp/food-ledger/ledger"
)

// maxRangePage caps the number of records returned by one range request.
const maxRangePage = 1000

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the dependencies of every endpoint.
type Handler struct {
	Authority *ledger.Authority
	Hub       *events.Hub // optional; nil disables /api/events

	log *slog.Logger
	now func() time.Time
}

// NewHandler creates a handler over authority. hub may be nil.
func NewHandler(authority *ledger.Authority, hub *events.Hub, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Authority: authority,
		Hub:       hub,
		log:       log.With(slog.String("component", "api")),
		now:       time.Now,
	}
}

// =============================================================================
// TRANSACTION ENDPOINTS
// =============================================================================

// AppendTransaction handles POST /api/transactions.
func (h *Handler) AppendTransaction(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rec, err := req.Record()
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if rec.ContentID.IsZero() {
		rec.ContentID = ledger.DeriveContentID(rec.ExternalID, rec.Product, h.now())
	}

	pos, err := h.Authority.Append(r.Context(), bearerToken(r), rec)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, AppendResponse{Position: pos, ContentID: rec.ContentID.String()})
}

// CountTransactions handles GET /api/transactions/count.
func (h *Handler) CountTransactions(w http.ResponseWriter, r *http.Request) {
	count, err := h.Authority.Count(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: count})
}

// ListTransactions handles GET /api/transactions?from=&to=. Both bounds are
// optional; to defaults to the current count. Pages are capped at
// maxRangePage records.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.Authority.Count(ctx)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	from, err := queryUint(r, "from", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from", err)
		return
	}
	to, err := queryUint(r, "to", count)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to", err)
		return
	}
	if to < from && !r.URL.Query().Has("to") {
		to = from
	}
	if to < from {
		writeError(w, http.StatusBadRequest, "invalid range", fmt.Errorf("to (%d) is before from (%d)", to, from))
		return
	}
	if to > count {
		to = count
	}
	if from > to {
		from = to
	}
	if to-from > maxRangePage {
		to = from + maxRangePage
	}

	entries, err := h.Authority.Range(ctx, from, to)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	resp := RangeResponse{
		From:         from,
		To:           from + uint64(len(entries)),
		Count:        count,
		Transactions: make([]TransactionDTO, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Transactions = append(resp.Transactions, ToTransactionDTO(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTransaction handles GET /api/transactions/{position}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	pos, err := strconv.ParseUint(chi.URLParam(r, "position"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position", err)
		return
	}

	rec, err := h.Authority.Get(r.Context(), pos)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToTransactionDTO(ledger.Entry{Position: pos, Record: rec}))
}

// GetTransactionByContentID handles GET /api/transactions/by-id/{contentId}.
func (h *Handler) GetTransactionByContentID(w http.ResponseWriter, r *http.Request) {
	id, err := ledger.ParseContentID(chi.URLParam(r, "contentId"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	entry, err := h.Authority.GetByContentID(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToTransactionDTO(entry))
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	count, err := h.Authority.Count(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Count: count})
}

// =============================================================================
// HELPERS
// =============================================================================

// bearerToken extracts the writer credential from "Authorization: Bearer x".
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func queryUint(r *http.Request, key string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

// statusFor maps a ledger error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrWriteRejected), errors.Is(err, ledger.ErrSyncUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
	}
	writeError(w, status, http.StatusText(status), err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
