/*
handlers.go - HTTP API handlers for the contribution ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger components.

ENDPOINTS:
  Members:
    GET    /api/members                                   List members (?role, ?status, ?q)
    POST   /api/members                                   Create member
    GET    /api/members/{id}                              Get member
    PUT    /api/members/{id}                              Update profile
    DELETE /api/members/{id}                              Delete member
    POST   /api/members/{id}/fees                         Toggle membership fee flag
    POST   /api/members/{id}/balance                      Top up / deduct balance

  Contributions:
    GET    /api/members/{id}/contributions                Member's contributions, newest first
    POST   /api/members/{id}/contributions                Open a month for the member
    GET    /api/members/{id}/contributions/{month}        One contribution
    DELETE /api/members/{id}/contributions/{month}        Delete contribution and its payments
    GET    /api/contributions?month=YYYY-MM               Every member's contribution for a month

  Payments:
    POST   /api/members/{id}/contributions/{month}/payments        Record payment
    DELETE /api/members/{id}/contributions/{month}/payments/{pid}  Reverse payment
    GET    /api/members/{id}/payments                              Member's payments
    GET    /api/payments/recent?limit=N                            Latest payments

  Statistics:
    GET    /api/stats                                     Lifetime stats
    GET    /api/stats/monthly?order=desc&limit=N          Monthly stats
    GET    /api/stats/monthly/{month}                     One month
    POST   /api/stats/monthly/{month}/recompute           Rebuild from contributions

  Admin:
    POST   /api/admin/runs                                Generate a month for all members
    GET    /api/admin/runs/{month}                        Scheduled run record
    POST   /api/admin/backfill                            Historical import

  Reports:
    GET    /api/reports/monthly.xlsx                      Monthly stats spreadsheet

ACTOR:
  Mutations record the X-Actor-ID header as actionBy ("system" if absent).

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Member, contribution, payment or stats not found
  - 409: Already exists, concurrent modification
  - 500: Commit failures, partial chunked runs, internal errors

SECURITY NOTE:
  No authentication. Deploy behind an authenticating proxy that sets
  X-Actor-ID.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/welfare/contribution-ledger/ledger"
	"github.com/welfare/contribution-ledger/report"
)

const (
	actorHeader  = "X-Actor-ID"
	defaultActor = "system"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	log    zerolog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over engine.
func NewHandler(engine *ledger.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		Engine: engine,
		log:    log.With().Str("component", "api").Logger(),
	}
}

func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(actorHeader)); a != "" {
		return a
	}
	return defaultActor
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	members, err := h.Engine.Store.ListMembers(r.Context(), ledger.MemberFilter{
		Role:       ledger.Role(q.Get("role")),
		Status:     ledger.MemberStatus(q.Get("status")),
		NamePrefix: q.Get("q"),
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.Engine.Store.GetMember(r.Context(), memberID(r))
	if err != nil {
		h.writeLedgerError(w, "Failed to get member", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(m))
}

func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, err := h.Engine.Members.Create(r.Context(), req.profile())
	if err != nil {
		h.writeLedgerError(w, "Failed to create member", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, err := h.Engine.Members.Update(r.Context(), memberID(r), req.profile())
	if err != nil {
		h.writeLedgerError(w, "Failed to update member", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(m))
}

func (h *Handler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Members.Delete(r.Context(), memberID(r)); err != nil {
		h.writeLedgerError(w, "Failed to delete member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ToggleFeesPaid(w http.ResponseWriter, r *http.Request) {
	m, err := h.Engine.Members.ToggleFeesPaid(r.Context(), memberID(r))
	if err != nil {
		h.writeLedgerError(w, "Failed to toggle fees", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(m))
}

func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Engine.Payments.UpdateMemberBalance(r.Context(), ledger.BalanceAdjustment{
		MemberID: memberID(r),
		Type:     ledger.AdjustmentType(req.Type),
		Amount:   req.Amount,
		ActionBy: actor(r),
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to adjust balance", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// =============================================================================
// CONTRIBUTION HANDLERS
// =============================================================================

func (h *Handler) ListMemberContributions(w http.ResponseWriter, r *http.Request) {
	contributions, err := h.Engine.Store.ListMemberContributions(r.Context(), memberID(r))
	if err != nil {
		h.writeLedgerError(w, "Failed to list contributions", err)
		return
	}
	writeJSON(w, http.StatusOK, toContributionDTOs(contributions))
}

func (h *Handler) ListMonthContributions(w http.ResponseWriter, r *http.Request) {
	month := h.Engine.Generator.CurrentMonth()
	if s := r.URL.Query().Get("month"); s != "" {
		m, err := ledger.ParseMonth(s)
		if err != nil {
			h.writeLedgerError(w, "Invalid month", err)
			return
		}
		month = m
	}

	contributions, err := h.Engine.Store.ListContributionsByMonth(r.Context(), month)
	if err != nil {
		h.writeLedgerError(w, "Failed to list contributions", err)
		return
	}
	writeJSON(w, http.StatusOK, toContributionDTOs(contributions))
}

func (h *Handler) GetContribution(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	c, err := h.Engine.Store.GetContribution(r.Context(), memberID(r), month)
	if err != nil {
		h.writeLedgerError(w, "Failed to get contribution", err)
		return
	}
	writeJSON(w, http.StatusOK, toContributionDTO(c))
}

func (h *Handler) AddContribution(w http.ResponseWriter, r *http.Request) {
	var req AddContributionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	var month ledger.Month
	if req.Month != "" {
		m, err := ledger.ParseMonth(req.Month)
		if err != nil {
			h.writeLedgerError(w, "Invalid month", err)
			return
		}
		month = m
	}

	c, err := h.Engine.Generator.AddContribution(r.Context(), ledger.AddContributionRequest{
		MemberID: memberID(r),
		Month:    month,
		ActionBy: actor(r),
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to add contribution", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContributionDTO(c))
}

func (h *Handler) DeleteContribution(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	if err := h.Engine.Payments.DeleteContribution(r.Context(), memberID(r), month, actor(r)); err != nil {
		h.writeLedgerError(w, "Failed to delete contribution", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

func (h *Handler) AddPayment(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	var req AddPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	paidOn, err := parsePaymentDate(req.PaymentDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment date", err)
		return
	}

	p, err := h.Engine.Payments.AddPayment(r.Context(), ledger.AddPaymentRequest{
		MemberID:        memberID(r),
		Month:           month,
		Amount:          req.Amount,
		ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
		PaymentDate:     paidOn,
		ActionBy:        actor(r),
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	id := ledger.PaymentID(chi.URLParam(r, "paymentID"))
	if err := h.Engine.Payments.DeletePayment(r.Context(), memberID(r), month, id, actor(r)); err != nil {
		h.writeLedgerError(w, "Failed to delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListMemberPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Engine.Store.ListMemberPayments(r.Context(), memberID(r))
	if err != nil {
		h.writeLedgerError(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

func (h *Handler) RecentPayments(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	payments, err := h.Engine.Store.RecentPayments(r.Context(), limit)
	if err != nil {
		h.writeLedgerError(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// =============================================================================
// STATISTICS HANDLERS
// =============================================================================

func (h *Handler) GetLifetimeStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Engine.Stats.Lifetime(r.Context())
	if err != nil {
		h.writeLedgerError(w, "Failed to get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, StatsDTO{TotalMembers: st.TotalMembers})
}

func (h *Handler) ListMonthlyStats(w http.ResponseWriter, r *http.Request) {
	q, err := statsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	stats, err := h.Engine.Stats.List(r.Context(), q)
	if err != nil {
		h.writeLedgerError(w, "Failed to list stats", err)
		return
	}
	dtos := make([]MonthlyStatsDTO, len(stats))
	for i, s := range stats {
		dtos[i] = toMonthlyStatsDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetMonthlyStats(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	st, err := h.Engine.Stats.Month(r.Context(), month)
	if err != nil {
		h.writeLedgerError(w, "Failed to get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthlyStatsDTO(st))
}

func (h *Handler) RecomputeMonthlyStats(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	st, err := h.Engine.Stats.Recompute(r.Context(), month)
	if err != nil {
		h.writeLedgerError(w, "Failed to recompute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthlyStatsDTO(st))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) GenerateRun(w http.ResponseWriter, r *http.Request) {
	var req GenerateRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	month := h.Engine.Generator.CurrentMonth()
	if req.Month != "" {
		m, err := ledger.ParseMonth(req.Month)
		if err != nil {
			h.writeLedgerError(w, "Invalid month", err)
			return
		}
		month = m
	}

	run, err := h.Engine.Generator.GenerateMonth(r.Context(), month, actor(r))
	if err != nil {
		h.writeLedgerError(w, "Failed to generate contributions", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	run, err := h.Engine.Store.GetRun(r.Context(), month)
	if err != nil {
		h.writeLedgerError(w, "Failed to get run", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	first, err := ledger.ParseMonth(req.FirstMonth)
	if err != nil {
		h.writeLedgerError(w, "Invalid first month", err)
		return
	}
	last, err := ledger.ParseMonth(req.LastMonth)
	if err != nil {
		h.writeLedgerError(w, "Invalid last month", err)
		return
	}
	if last.Before(first) {
		writeError(w, http.StatusBadRequest, "lastMonth must not be before firstMonth", nil)
		return
	}

	res, err := h.Engine.Backfill.Run(r.Context(), ledger.BackfillRequest{
		Months:    ledger.MonthRange(first, last),
		Amount:    req.Amount,
		Reference: req.Reference,
		ActionBy:  actor(r),
	})
	if err != nil {
		h.writeLedgerError(w, "Backfill failed", err)
		return
	}
	writeJSON(w, http.StatusOK, BackfillDTO{
		Contributions: res.Contributions,
		Payments:      res.Payments,
		Skipped:       res.Skipped,
		Chunks:        res.Chunks,
	})
}

// =============================================================================
// REPORTS
// =============================================================================

func (h *Handler) MonthlyReport(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Engine.Stats.List(r.Context(), ledger.StatsQuery{})
	if err != nil {
		h.writeLedgerError(w, "Failed to list stats", err)
		return
	}
	f, err := report.Workbook(stats)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build report", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="monthly-stats-%s.xlsx"`, time.Now().UTC().Format("20060102")))
	if _, err := f.WriteTo(w); err != nil {
		h.log.Error().Err(err).Msg("failed to write report")
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func memberID(r *http.Request) ledger.MemberID {
	return ledger.MemberID(chi.URLParam(r, "id"))
}

// monthParam parses the {month} URL parameter, writing a 400 on failure.
func (h *Handler) monthParam(w http.ResponseWriter, r *http.Request) (ledger.Month, bool) {
	m, err := ledger.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		h.writeLedgerError(w, "Invalid month", err)
		return "", false
	}
	return m, true
}

func parsePaymentDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func statsQuery(r *http.Request) (ledger.StatsQuery, error) {
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		return ledger.StatsQuery{}, err
	}
	q := ledger.StatsQuery{Limit: limit}
	switch strings.ToLower(r.URL.Query().Get("order")) {
	case "", "asc":
	case "desc":
		q.Descending = true
	default:
		return ledger.StatsQuery{}, errors.New("order must be asc or desc")
	}
	return q, nil
}

func toContributionDTOs(cs []ledger.Contribution) []ContributionDTO {
	dtos := make([]ContributionDTO, len(cs))
	for i, c := range cs {
		dtos[i] = toContributionDTO(c)
	}
	return dtos
}

func toPaymentDTOs(ps []ledger.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(ps))
	for i, p := range ps {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos
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

// statusFor maps ledger errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrBatchTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyExists), errors.Is(err, ledger.ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(message)
	}
	writeError(w, status, message, err)
}
