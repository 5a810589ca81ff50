package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONTRIBUTION POLICY - Versioned monthly amount
// =============================================================================

// ContributionPolicy is one version of the monthly contribution amount.
// A version applies from EffectiveFrom until the next version starts.
type ContributionPolicy struct {
	Version       int
	EffectiveFrom Month
	Amount        decimal.Decimal
}

// PolicySchedule resolves the contribution amount in effect for a month.
// Contributions copy Amount and Version when created, so changing the
// schedule never rewrites history.
type PolicySchedule struct {
	versions []ContributionPolicy // sorted by EffectiveFrom
}

// NewPolicySchedule validates and orders policy versions. Versions left at
// zero are numbered by effective date, starting at 1.
func NewPolicySchedule(versions ...ContributionPolicy) (*PolicySchedule, error) {
	if len(versions) == 0 {
		return nil, invalid("policy", "at least one contribution policy is required")
	}
	sorted := append([]ContributionPolicy(nil), versions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EffectiveFrom < sorted[j].EffectiveFrom })

	seen := make(map[Month]bool)
	for i := range sorted {
		p := &sorted[i]
		if err := p.EffectiveFrom.Validate(); err != nil {
			return nil, err
		}
		if seen[p.EffectiveFrom] {
			return nil, invalid("policy", "two versions start on %s", p.EffectiveFrom)
		}
		seen[p.EffectiveFrom] = true
		if err := ValidateAmount("policy "+p.EffectiveFrom.String(), p.Amount); err != nil {
			return nil, err
		}
		if p.Version == 0 {
			p.Version = i + 1
		}
	}
	return &PolicySchedule{versions: sorted}, nil
}

// FixedPolicy is a single version in effect since the beginning of time.
func FixedPolicy(amount decimal.Decimal) *PolicySchedule {
	return &PolicySchedule{versions: []ContributionPolicy{{
		Version:       1,
		EffectiveFrom: NewMonth(1970, 1),
		Amount:        amount,
	}}}
}

// ParsePolicySchedule reads "2024-01-01=200,2024-07-01=500".
// A bare amount ("500") is a fixed policy.
func ParsePolicySchedule(s string) (*PolicySchedule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, invalid("policy", "empty contribution policy")
	}
	if !strings.Contains(s, "=") {
		amount, err := decimal.NewFromString(s)
		if err != nil {
			return nil, invalid("policy", "invalid amount %q", s)
		}
		if err := ValidateAmount("policy", amount); err != nil {
			return nil, err
		}
		return FixedPolicy(amount), nil
	}

	var versions []ContributionPolicy
	for _, part := range strings.Split(s, ",") {
		from, amountStr, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, invalid("policy", "entry %q must look like YYYY-MM-01=amount", part)
		}
		month, err := ParseMonth(strings.TrimSpace(from))
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(amountStr))
		if err != nil {
			return nil, invalid("policy", "invalid amount %q", amountStr)
		}
		versions = append(versions, ContributionPolicy{EffectiveFrom: month, Amount: amount})
	}
	return NewPolicySchedule(versions...)
}

// For returns the policy version in effect for month.
func (p *PolicySchedule) For(month Month) (ContributionPolicy, error) {
	i := sort.Search(len(p.versions), func(i int) bool { return p.versions[i].EffectiveFrom > month })
	if i == 0 {
		return ContributionPolicy{}, invalid("month", "no contribution policy in effect for %s", month)
	}
	return p.versions[i-1], nil
}

// Versions returns a copy of the schedule, oldest first.
func (p *PolicySchedule) Versions() []ContributionPolicy {
	return append([]ContributionPolicy(nil), p.versions...)
}

func (p *PolicySchedule) String() string {
	parts := make([]string, len(p.versions))
	for i, v := range p.versions {
		parts[i] = fmt.Sprintf("v%s %s=%s", strconv.Itoa(v.Version), v.EffectiveFrom, v.Amount)
	}
	return strings.Join(parts, ", ")
}
