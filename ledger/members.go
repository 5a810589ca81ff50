package ledger

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
)

// =============================================================================
// MEMBERS - Lifecycle hooks that keep statistics consistent
// =============================================================================

var memberNumberPattern = regexp.MustCompile(`^\d{5}/\d{2}$`)

// Members creates, edits and removes member records. Creation and deletion
// move the lifetime and current-month member counters in the same batch as
// the member write.
type Members struct {
	*deps
}

func NewMembers(store Store, cfg Config) *Members {
	return &Members{deps: newDeps(store, cfg, "members")}
}

// normalize trims the profile and fills the defaulted enums.
func normalize(p MemberProfile) MemberProfile {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.PhoneNumber = strings.TrimSpace(p.PhoneNumber)
	p.MemberNumber = strings.TrimSpace(p.MemberNumber)
	p.WIN = strings.TrimSpace(p.WIN)
	if p.Role == "" {
		p.Role = RoleMember
	}
	if p.Status == "" {
		p.Status = MemberActive
	}
	return p
}

// ValidateProfile checks a normalized profile.
func ValidateProfile(p MemberProfile) error {
	if p.FirstName == "" {
		return invalid("firstname", "is required")
	}
	if p.LastName == "" {
		return invalid("lastname", "is required")
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return invalid("email", "%q is not a valid address", p.Email)
		}
	}
	if !memberNumberPattern.MatchString(p.MemberNumber) {
		return invalid("membernumber", "must look like 00000/24")
	}
	if !validRole(p.Role) {
		return invalid("role", "unknown role %q", p.Role)
	}
	if !validGender(p.Gender) {
		return invalid("gender", "must be %q or %q", GenderMale, GenderFemale)
	}
	if !validMemberStatus(p.Status) {
		return invalid("status", "unknown status %q", p.Status)
	}
	return nil
}

// Create adds a member with a zero balance. The lifetime totalMembers and
// the current month's newMembers, totalMembers and expected amount grow in
// the same batch.
func (ms *Members) Create(ctx context.Context, profile MemberProfile) (Member, error) {
	profile = normalize(profile)
	if err := ValidateProfile(profile); err != nil {
		return Member{}, err
	}

	month := ms.currentMonth()
	policy, err := ms.policy.For(month)
	if err != nil {
		return Member{}, err
	}

	m := Member{
		ID:            MemberID(ms.newID()),
		MemberProfile: profile,
		CreatedAt:     ms.now(),
	}
	batch := NewBatch().
		CreateMember(m).
		IncrementStats(1).
		IncrementMonthlyStats(month, StatsDelta{
			Amount:       policy.Amount,
			NewMembers:   1,
			TotalMembers: 1,
		})
	if err := ms.coord.Commit(ctx, batch); err != nil {
		return Member{}, err
	}

	ms.log.Info().Str("member_id", string(m.ID)).Str("month", month.String()).Msg("member created")
	ms.notify(ctx, Event{Type: EventMemberCreated, MemberID: m.ID, Month: month})
	return m, nil
}

// Update replaces the profile fields. Money fields are never touched.
func (ms *Members) Update(ctx context.Context, id MemberID, profile MemberProfile) (Member, error) {
	profile = normalize(profile)
	if err := ValidateProfile(profile); err != nil {
		return Member{}, err
	}
	if err := ms.coord.Commit(ctx, NewBatch().UpdateMember(id, profile)); err != nil {
		return Member{}, err
	}
	return ms.store.GetMember(ctx, id)
}

// ToggleFeesPaid flips the membership-fee flag.
func (ms *Members) ToggleFeesPaid(ctx context.Context, id MemberID) (Member, error) {
	m, err := ms.store.GetMember(ctx, id)
	if err != nil {
		return Member{}, err
	}
	profile := m.MemberProfile
	profile.IsFeesPaid = !profile.IsFeesPaid
	if err := ms.coord.Commit(ctx, NewBatch().UpdateMember(id, profile)); err != nil {
		return Member{}, err
	}
	m.MemberProfile = profile
	return m, nil
}

// Delete removes the member record and decrements totalMembers, lifetime
// and for the current month only. Past months keep their counts, and the
// member's contributions and payments stay as history.
func (ms *Members) Delete(ctx context.Context, id MemberID) error {
	month := ms.currentMonth()
	batch := NewBatch().
		DeleteMember(id).
		IncrementStats(-1).
		IncrementMonthlyStats(month, StatsDelta{TotalMembers: -1})
	if err := ms.coord.Commit(ctx, batch); err != nil {
		return err
	}

	ms.log.Info().Str("member_id", string(id)).Str("month", month.String()).Msg("member deleted")
	ms.notify(ctx, Event{Type: EventMemberDeleted, MemberID: id, Month: month})
	return nil
}
