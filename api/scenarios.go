/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic data
  for demos. Every scenario goes through the ledger engine, so balances,
  contributions and statistics are exactly what live traffic would produce.

AVAILABLE SCENARIOS:
  new-member:         One member with the current month open and unpaid
  overpayment-credit: Overpaid month whose credit is brought forward
  member-in-debt:     Three open months and one partial payment
  backfilled-history: Historical months imported as fully paid
  monthly-run:        Association-wide run with mixed payment states

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create members
 3. Open months, record payments, adjust balances via the engine

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "overpayment-credit"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Ledger handlers
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/welfare/contribution-ledger/ledger"
)

const scenarioActor = "scenario"

// Resetter is implemented by stores that can discard all data.
type Resetter interface {
	Reset(ctx context.Context) error
}

var errResetUnsupported = errors.New("store does not support reset")

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-member",
		Name:        "New Member",
		Description: "One member with the current month open and unpaid",
	},
	{
		ID:          "overpayment-credit",
		Name:        "Overpayment Credit",
		Description: "Last month overpaid; the credit is brought forward into this month",
	},
	{
		ID:          "member-in-debt",
		Name:        "Member In Debt",
		Description: "Three months opened with only a partial payment",
	},
	{
		ID:          "backfilled-history",
		Name:        "Backfilled History",
		Description: "Earlier months of the year imported as paid, current month generated",
	},
	{
		ID:          "monthly-run",
		Name:        "Monthly Run",
		Description: "Association-wide run with paid, partial and unpaid members",
	},
}

var scenarioLoaders = map[string]func(*Handler, context.Context) error{
	"new-member":         (*Handler).loadNewMemberScenario,
	"overpayment-credit": (*Handler).loadOverpaymentCreditScenario,
	"member-in-debt":     (*Handler).loadMemberInDebtScenario,
	"backfilled-history": (*Handler).loadBackfilledHistoryScenario,
	"monthly-run":        (*Handler).loadMonthlyRunScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Engine.Store.(Resetter)
	if !ok {
		return errResetUnsupported
	}
	return rs.Reset(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadNewMemberScenario(ctx context.Context) error {
	m, err := h.createMember(ctx, "Amina", "Otieno", "00101/24", ledger.GenderFemale)
	if err != nil {
		return err
	}
	_, err = h.openMonth(ctx, m.ID, h.Engine.Generator.CurrentMonth())
	return err
}

func (h *Handler) loadOverpaymentCreditScenario(ctx context.Context) error {
	m, err := h.createMember(ctx, "Brian", "Kamau", "00102/24", ledger.GenderMale)
	if err != nil {
		return err
	}
	current := h.Engine.Generator.CurrentMonth()
	last := current.Prev()

	c, err := h.openMonth(ctx, m.ID, last)
	if err != nil {
		return err
	}
	// Three months' worth against one: the remainder becomes credit.
	if err := h.pay(ctx, m.ID, last, c.Amount.Mul(decimal.NewFromInt(3)), "MPESA001"); err != nil {
		return err
	}
	_, err = h.openMonth(ctx, m.ID, current)
	return err
}

func (h *Handler) loadMemberInDebtScenario(ctx context.Context) error {
	m, err := h.createMember(ctx, "Cynthia", "Wanjiru", "00103/24", ledger.GenderFemale)
	if err != nil {
		return err
	}
	current := h.Engine.Generator.CurrentMonth()
	first := current.Prev().Prev()

	for _, month := range ledger.MonthRange(first, current) {
		if _, err := h.openMonth(ctx, m.ID, month); err != nil {
			return err
		}
	}
	c, err := h.Engine.Store.GetContribution(ctx, m.ID, first)
	if err != nil {
		return err
	}
	return h.pay(ctx, m.ID, first, c.Amount.Div(decimal.NewFromInt(2)).Round(2), "BANK2001")
}

func (h *Handler) loadBackfilledHistoryScenario(ctx context.Context) error {
	people := []struct {
		first, last, number string
		gender              ledger.Gender
	}{
		{"David", "Mwangi", "00104/24", ledger.GenderMale},
		{"Esther", "Achieng", "00105/24", ledger.GenderFemale},
		{"Felix", "Njoroge", "00106/24", ledger.GenderMale},
	}
	for _, p := range people {
		if _, err := h.createMember(ctx, p.first, p.last, p.number, p.gender); err != nil {
			return err
		}
	}

	current := h.Engine.Generator.CurrentMonth()
	last := current.Prev()
	first := ledger.NewMonth(last.Time().Year(), 1)
	if _, err := h.Engine.Backfill.Run(ctx, ledger.BackfillRequest{
		Months:   ledger.MonthRange(first, last),
		ActionBy: scenarioActor,
	}); err != nil {
		return err
	}
	_, err := h.Engine.Generator.GenerateMonth(ctx, current, scenarioActor)
	return err
}

func (h *Handler) loadMonthlyRunScenario(ctx context.Context) error {
	people := []struct {
		first, last, number string
		gender              ledger.Gender
	}{
		{"Grace", "Mutua", "00107/24", ledger.GenderFemale},
		{"Hassan", "Omar", "00108/24", ledger.GenderMale},
		{"Irene", "Chebet", "00109/24", ledger.GenderFemale},
		{"James", "Kiprop", "00110/24", ledger.GenderMale},
	}
	var ids []ledger.MemberID
	for _, p := range people {
		m, err := h.createMember(ctx, p.first, p.last, p.number, p.gender)
		if err != nil {
			return err
		}
		ids = append(ids, m.ID)
	}

	// James pays ahead with a top-up, so the run applies his credit.
	if _, err := h.Engine.Payments.UpdateMemberBalance(ctx, ledger.BalanceAdjustment{
		MemberID: ids[3],
		Type:     ledger.AdjustTopUp,
		Amount:   decimal.NewFromInt(200),
		ActionBy: scenarioActor,
	}); err != nil {
		return err
	}

	month := h.Engine.Generator.CurrentMonth()
	if _, err := h.Engine.Generator.GenerateMonth(ctx, month, scenarioActor); err != nil {
		return err
	}

	grace, err := h.Engine.Store.GetContribution(ctx, ids[0], month)
	if err != nil {
		return err
	}
	if err := h.pay(ctx, ids[0], month, grace.Balance, "MPESA107"); err != nil {
		return err
	}
	return h.pay(ctx, ids[1], month, decimal.NewFromInt(100), "MPESA108")
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createMember(ctx context.Context, first, last, number string, gender ledger.Gender) (ledger.Member, error) {
	return h.Engine.Members.Create(ctx, ledger.MemberProfile{
		FirstName:    first,
		LastName:     last,
		MemberNumber: number,
		Gender:       gender,
		IsFeesPaid:   true,
	})
}

func (h *Handler) openMonth(ctx context.Context, id ledger.MemberID, month ledger.Month) (ledger.Contribution, error) {
	return h.Engine.Generator.AddContribution(ctx, ledger.AddContributionRequest{
		MemberID: id,
		Month:    month,
		ActionBy: scenarioActor,
	})
}

func (h *Handler) pay(ctx context.Context, id ledger.MemberID, month ledger.Month, amount decimal.Decimal, ref string) error {
	_, err := h.Engine.Payments.AddPayment(ctx, ledger.AddPaymentRequest{
		MemberID:        id,
		Month:           month,
		Amount:          amount,
		ReferenceNumber: ref,
		ActionBy:        scenarioActor,
	})
	return err
}
