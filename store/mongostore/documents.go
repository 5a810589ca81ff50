package mongostore

import (
	"time"

	"github.com/welfare/contribution-ledger/ledger"
)

// =============================================================================
// DOCUMENTS - BSON shapes, money in integer cents
// =============================================================================

type memberDoc struct {
	ID                       string    `bson:"_id"`
	FirstName                string    `bson:"first_name"`
	LastName                 string    `bson:"last_name"`
	Email                    string    `bson:"email"`
	PhoneNumber              string    `bson:"phone_number"`
	MemberNumber             string    `bson:"member_number"`
	WIN                      string    `bson:"win"`
	Role                     string    `bson:"role"`
	Gender                   string    `bson:"gender"`
	Status                   string    `bson:"status"`
	IsFeesPaid               bool      `bson:"is_fees_paid"`
	BalanceCents             int64     `bson:"balance_cents"`
	ContributionBalanceCents int64     `bson:"contribution_balance_cents"`
	CreatedAt                time.Time `bson:"created_at"`
}

type contributionDoc struct {
	ID            string                `bson:"_id"`
	MemberID      string                `bson:"member_id"`
	Month         string                `bson:"month"`
	FirstName     string                `bson:"first_name"`
	LastName      string                `bson:"last_name"`
	AmountCents   int64                 `bson:"amount_cents"`
	BalanceCents  int64                 `bson:"balance_cents"`
	Status        string                `bson:"status"`
	PolicyVersion int                   `bson:"policy_version"`
	Payments      map[string]paymentDoc `bson:"payments"`
	ActionBy      string                `bson:"action_by"`
	CreatedAt     time.Time             `bson:"created_at"`
}

type paymentDoc struct {
	ID                      string    `bson:"_id"`
	PaymentID               string    `bson:"payment_id"`
	MemberID                string    `bson:"member_id"`
	ContributionID          string    `bson:"contribution_id"`
	FirstName               string    `bson:"first_name"`
	LastName                string    `bson:"last_name"`
	AmountCents             int64     `bson:"amount_cents"`
	ContributionAmountCents int64     `bson:"contribution_amount_cents"`
	ReferenceNumber         string    `bson:"reference_number"`
	PaymentDate             time.Time `bson:"payment_date"`
	Type                    string    `bson:"payment_type"`
	ActionBy                string    `bson:"action_by"`
	CreatedAt               time.Time `bson:"created_at"`
}

type monthlyStatsDoc struct {
	Month             string `bson:"_id"`
	AmountCents       int64  `bson:"amount_cents"`
	ContributionCents int64  `bson:"contribution_cents"`
	PaymentsCount     int64  `bson:"payments_count"`
	NewMembers        int64  `bson:"new_members"`
	TotalMembers      int64  `bson:"total_members"`
}

type statsDoc struct {
	ID           string `bson:"_id"`
	TotalMembers int64  `bson:"total_members"`
}

type runDoc struct {
	Month       string    `bson:"_id"`
	Members     int       `bson:"members"`
	Generated   int       `bson:"generated"`
	Skipped     int       `bson:"skipped"`
	CompletedAt time.Time `bson:"completed_at"`
}

const statsSingletonID = "singleton"

func contributionKey(memberID ledger.MemberID, month ledger.Month) string {
	return string(memberID) + "/" + string(month)
}

func paymentKey(memberID ledger.MemberID, id ledger.PaymentID) string {
	return string(memberID) + "/" + string(id)
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toMemberDoc(m ledger.Member) memberDoc {
	return memberDoc{
		ID:                       string(m.ID),
		FirstName:                m.FirstName,
		LastName:                 m.LastName,
		Email:                    m.Email,
		PhoneNumber:              m.PhoneNumber,
		MemberNumber:             m.MemberNumber,
		WIN:                      m.WIN,
		Role:                     string(m.Role),
		Gender:                   string(m.Gender),
		Status:                   string(m.Status),
		IsFeesPaid:               m.IsFeesPaid,
		BalanceCents:             ledger.Cents(m.Balance),
		ContributionBalanceCents: ledger.Cents(m.ContributionBalance),
		CreatedAt:                m.CreatedAt.UTC(),
	}
}

func (d memberDoc) toMember() ledger.Member {
	return ledger.Member{
		ID: ledger.MemberID(d.ID),
		MemberProfile: ledger.MemberProfile{
			FirstName:    d.FirstName,
			LastName:     d.LastName,
			Email:        d.Email,
			PhoneNumber:  d.PhoneNumber,
			MemberNumber: d.MemberNumber,
			WIN:          d.WIN,
			Role:         ledger.Role(d.Role),
			Gender:       ledger.Gender(d.Gender),
			Status:       ledger.MemberStatus(d.Status),
			IsFeesPaid:   d.IsFeesPaid,
		},
		Balance:             ledger.FromCents(d.BalanceCents),
		ContributionBalance: ledger.FromCents(d.ContributionBalanceCents),
		CreatedAt:           d.CreatedAt,
	}
}

func toContributionDoc(c ledger.Contribution) contributionDoc {
	payments := make(map[string]paymentDoc, len(c.Payments))
	for id, p := range c.Payments {
		payments[string(id)] = toPaymentDoc(p)
	}
	return contributionDoc{
		ID:            contributionKey(c.MemberID, c.Month),
		MemberID:      string(c.MemberID),
		Month:         string(c.Month),
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		AmountCents:   ledger.Cents(c.Amount),
		BalanceCents:  ledger.Cents(c.Balance),
		Status:        string(c.Status),
		PolicyVersion: c.PolicyVersion,
		Payments:      payments,
		ActionBy:      c.ActionBy,
		CreatedAt:     c.CreatedAt.UTC(),
	}
}

func (d contributionDoc) toContribution() ledger.Contribution {
	payments := make(map[ledger.PaymentID]ledger.Payment, len(d.Payments))
	for _, p := range d.Payments {
		payments[ledger.PaymentID(p.PaymentID)] = p.toPayment()
	}
	return ledger.Contribution{
		MemberID:      ledger.MemberID(d.MemberID),
		Month:         ledger.Month(d.Month),
		FirstName:     d.FirstName,
		LastName:      d.LastName,
		Amount:        ledger.FromCents(d.AmountCents),
		Balance:       ledger.FromCents(d.BalanceCents),
		Status:        ledger.PaymentStatus(d.Status),
		PolicyVersion: d.PolicyVersion,
		Payments:      payments,
		ActionBy:      d.ActionBy,
		CreatedAt:     d.CreatedAt,
	}
}

func toPaymentDoc(p ledger.Payment) paymentDoc {
	return paymentDoc{
		ID:                      paymentKey(p.MemberID, p.ID),
		PaymentID:               string(p.ID),
		MemberID:                string(p.MemberID),
		ContributionID:          string(p.ContributionID),
		FirstName:               p.FirstName,
		LastName:                p.LastName,
		AmountCents:             ledger.Cents(p.Amount),
		ContributionAmountCents: ledger.Cents(p.ContributionAmount),
		ReferenceNumber:         p.ReferenceNumber,
		PaymentDate:             p.PaymentDate.UTC(),
		Type:                    string(p.Type),
		ActionBy:                p.ActionBy,
		CreatedAt:               p.CreatedAt.UTC(),
	}
}

func (d paymentDoc) toPayment() ledger.Payment {
	return ledger.Payment{
		ID:                 ledger.PaymentID(d.PaymentID),
		MemberID:           ledger.MemberID(d.MemberID),
		ContributionID:     ledger.Month(d.ContributionID),
		FirstName:          d.FirstName,
		LastName:           d.LastName,
		Amount:             ledger.FromCents(d.AmountCents),
		ContributionAmount: ledger.FromCents(d.ContributionAmountCents),
		ReferenceNumber:    d.ReferenceNumber,
		PaymentDate:        d.PaymentDate,
		Type:               ledger.PaymentType(d.Type),
		ActionBy:           d.ActionBy,
		CreatedAt:          d.CreatedAt,
	}
}

func (d monthlyStatsDoc) toMonthlyStats() ledger.MonthlyStats {
	return ledger.MonthlyStats{
		Month:         ledger.Month(d.Month),
		Amount:        ledger.FromCents(d.AmountCents),
		Contribution:  ledger.FromCents(d.ContributionCents),
		PaymentsCount: d.PaymentsCount,
		NewMembers:    d.NewMembers,
		TotalMembers:  d.TotalMembers,
	}
}

func (d runDoc) toRun() ledger.ScheduledRun {
	return ledger.ScheduledRun{
		Month:       ledger.Month(d.Month),
		Members:     d.Members,
		Generated:   d.Generated,
		Skipped:     d.Skipped,
		CompletedAt: d.CompletedAt,
	}
}
