/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimal.Decimal, encoded as JSON strings ("500.00") and
  accepted as strings or numbers.

DATES:
  Months are "YYYY-MM-01". Payment dates are "YYYY-MM-DD" or RFC 3339.

VALIDATION:
  Validation is done by the ledger, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/welfare/contribution-ledger/ledger"
)

// =============================================================================
// MEMBERS
// =============================================================================

type MemberDTO struct {
	ID                  string          `json:"id"`
	FirstName           string          `json:"firstname"`
	LastName            string          `json:"lastname"`
	Email               string          `json:"email"`
	PhoneNumber         string          `json:"phonenumber"`
	MemberNumber        string          `json:"membernumber"`
	WIN                 string          `json:"win"`
	Role                string          `json:"role"`
	Gender              string          `json:"gender"`
	Status              string          `json:"status"`
	IsFeesPaid          bool            `json:"isFeesPaid"`
	Balance             decimal.Decimal `json:"balance"`
	ContributionBalance decimal.Decimal `json:"contributionBalance"`
	CreatedAt           string          `json:"createdAt"`
}

// MemberRequest is the body of create and update. Money fields are not
// accepted; balances only move through the ledger.
type MemberRequest struct {
	FirstName    string `json:"firstname"`
	LastName     string `json:"lastname"`
	Email        string `json:"email"`
	PhoneNumber  string `json:"phonenumber"`
	MemberNumber string `json:"membernumber"`
	WIN          string `json:"win"`
	Role         string `json:"role"`
	Gender       string `json:"gender"`
	Status       string `json:"status"`
	IsFeesPaid   bool   `json:"isFeesPaid"`
}

func (r MemberRequest) profile() ledger.MemberProfile {
	return ledger.MemberProfile{
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Email:        r.Email,
		PhoneNumber:  r.PhoneNumber,
		MemberNumber: r.MemberNumber,
		WIN:          r.WIN,
		Role:         ledger.Role(r.Role),
		Gender:       ledger.Gender(r.Gender),
		Status:       ledger.MemberStatus(r.Status),
		IsFeesPaid:   r.IsFeesPaid,
	}
}

type BalanceAdjustmentRequest struct {
	Type   string          `json:"type"` // "top_up" or "deduction"
	Amount decimal.Decimal `json:"amount"`
}

// =============================================================================
// CONTRIBUTIONS & PAYMENTS
// =============================================================================

type ContributionDTO struct {
	MemberID      string          `json:"memberId"`
	Month         string          `json:"month"`
	Label         string          `json:"label"`
	FirstName     string          `json:"firstname"`
	LastName      string          `json:"lastname"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	Paid          decimal.Decimal `json:"paid"`
	Status        string          `json:"status"`
	PolicyVersion int             `json:"policyVersion"`
	Payments      []PaymentDTO    `json:"payments"`
	ActionBy      string          `json:"actionBy"`
	CreatedAt     string          `json:"createdAt"`
}

type AddContributionRequest struct {
	Month string `json:"month"` // empty = current month
}

type PaymentDTO struct {
	ID                 string          `json:"id"`
	MemberID           string          `json:"memberId"`
	ContributionID     string          `json:"contributionId,omitempty"`
	FirstName          string          `json:"firstname"`
	LastName           string          `json:"lastname"`
	Amount             decimal.Decimal `json:"amount"`
	ContributionAmount decimal.Decimal `json:"contributionAmount"`
	ReferenceNumber    string          `json:"referencenumber"`
	PaymentDate        string          `json:"paymentdate"`
	PaymentType        string          `json:"paymentType"`
	ActionBy           string          `json:"actionBy"`
	CreatedAt          string          `json:"createdAt"`
}

type AddPaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	ReferenceNumber string          `json:"referencenumber"`
	PaymentDate     string          `json:"paymentdate"` // empty = now
}

// =============================================================================
// STATISTICS & RUNS
// =============================================================================

type MonthlyStatsDTO struct {
	Month         string          `json:"month"`
	Label         string          `json:"label"`
	Amount        decimal.Decimal `json:"amount"`
	Contribution  decimal.Decimal `json:"contribution"`
	Outstanding   decimal.Decimal `json:"outstanding"`
	PaymentsCount int64           `json:"paymentsCount"`
	NewMembers    int64           `json:"newMembers"`
	TotalMembers  int64           `json:"totalMembers"`
}

type StatsDTO struct {
	TotalMembers int64 `json:"totalMembers"`
}

type RunDTO struct {
	Month       string `json:"month"`
	Members     int    `json:"members"`
	Generated   int    `json:"generated"`
	Skipped     int    `json:"skipped"`
	CompletedAt string `json:"completedAt"`
}

type GenerateRunRequest struct {
	Month string `json:"month"` // empty = current month
}

type BackfillRequest struct {
	FirstMonth string          `json:"firstMonth"`
	LastMonth  string          `json:"lastMonth"`
	Amount     decimal.Decimal `json:"amount"`    // zero = policy amount
	Reference  string          `json:"reference"` // empty = "B/F"
}

type BackfillDTO struct {
	Contributions int `json:"contributions"`
	Payments      int `json:"payments"`
	Skipped       int `json:"skipped"`
	Chunks        int `json:"chunks"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toMemberDTO(m ledger.Member) MemberDTO {
	return MemberDTO{
		ID:                  string(m.ID),
		FirstName:           m.FirstName,
		LastName:            m.LastName,
		Email:               m.Email,
		PhoneNumber:         m.PhoneNumber,
		MemberNumber:        m.MemberNumber,
		WIN:                 m.WIN,
		Role:                string(m.Role),
		Gender:              string(m.Gender),
		Status:              string(m.Status),
		IsFeesPaid:          m.IsFeesPaid,
		Balance:             m.Balance,
		ContributionBalance: m.ContributionBalance,
		CreatedAt:           formatTime(m.CreatedAt),
	}
}

func toContributionDTO(c ledger.Contribution) ContributionDTO {
	payments := make([]PaymentDTO, 0, len(c.Payments))
	for _, p := range c.PaymentList() {
		payments = append(payments, toPaymentDTO(p))
	}
	return ContributionDTO{
		MemberID:      string(c.MemberID),
		Month:         string(c.Month),
		Label:         c.Month.Label(),
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		Amount:        c.Amount,
		Balance:       c.Balance,
		Paid:          c.Paid(),
		Status:        string(c.Status),
		PolicyVersion: c.PolicyVersion,
		Payments:      payments,
		ActionBy:      c.ActionBy,
		CreatedAt:     formatTime(c.CreatedAt),
	}
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:                 string(p.ID),
		MemberID:           string(p.MemberID),
		ContributionID:     string(p.ContributionID),
		FirstName:          p.FirstName,
		LastName:           p.LastName,
		Amount:             p.Amount,
		ContributionAmount: p.ContributionAmount,
		ReferenceNumber:    p.ReferenceNumber,
		PaymentDate:        formatTime(p.PaymentDate),
		PaymentType:        string(p.Type),
		ActionBy:           p.ActionBy,
		CreatedAt:          formatTime(p.CreatedAt),
	}
}

func toMonthlyStatsDTO(s ledger.MonthlyStats) MonthlyStatsDTO {
	return MonthlyStatsDTO{
		Month:         string(s.Month),
		Label:         s.Month.Label(),
		Amount:        s.Amount,
		Contribution:  s.Contribution,
		Outstanding:   s.Outstanding(),
		PaymentsCount: s.PaymentsCount,
		NewMembers:    s.NewMembers,
		TotalMembers:  s.TotalMembers,
	}
}

func toRunDTO(r ledger.ScheduledRun) RunDTO {
	return RunDTO{
		Month:       string(r.Month),
		Members:     r.Members,
		Generated:   r.Generated,
		Skipped:     r.Skipped,
		CompletedAt: formatTime(r.CompletedAt),
	}
}
