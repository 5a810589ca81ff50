// Package store provides the in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/welfare/contribution-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type contributionKey struct {
	MemberID ledger.MemberID
	Month    ledger.Month
}

type paymentKey struct {
	MemberID  ledger.MemberID
	PaymentID ledger.PaymentID
}

type state struct {
	members       map[ledger.MemberID]ledger.Member
	contributions map[contributionKey]ledger.Contribution
	payments      map[paymentKey]ledger.Payment
	monthly       map[ledger.Month]ledger.MonthlyStats
	stats         ledger.Stats
	runs          map[ledger.Month]ledger.ScheduledRun
}

func newState() state {
	return state{
		members:       make(map[ledger.MemberID]ledger.Member),
		contributions: make(map[contributionKey]ledger.Contribution),
		payments:      make(map[paymentKey]ledger.Payment),
		monthly:       make(map[ledger.Month]ledger.MonthlyStats),
		runs:          make(map[ledger.Month]ledger.ScheduledRun),
	}
}

// CommitHook runs before the seq-th commit (1-based) is applied. A non-nil
// error rejects that commit.
type CommitHook func(seq int, b *ledger.Batch) error

type Memory struct {
	mu      sync.RWMutex
	state   state
	seq     int
	commits []int
	hook    CommitHook
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

// SetCommitHook installs a hook for fault injection in tests.
func (m *Memory) SetCommitHook(h CommitHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// Commits returns the write count of every successful commit, in order.
func (m *Memory) Commits() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.commits...)
}

// Reset discards every document.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}

// =============================================================================
// COMMIT - Snapshot, apply, restore on error
// =============================================================================

func (m *Memory) Commit(ctx context.Context, b *ledger.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	if m.hook != nil {
		if err := m.hook(m.seq, b); err != nil {
			return err
		}
	}

	snapshot := m.snapshot()
	for _, w := range b.Writes() {
		if err := m.apply(w); err != nil {
			m.state = snapshot
			return err
		}
	}
	m.commits = append(m.commits, b.Len())
	return nil
}

func (m *Memory) snapshot() state {
	s := newState()
	for k, v := range m.state.members {
		s.members[k] = v
	}
	for k, v := range m.state.contributions {
		s.contributions[k] = v.Clone()
	}
	for k, v := range m.state.payments {
		s.payments[k] = v
	}
	for k, v := range m.state.monthly {
		s.monthly[k] = v
	}
	for k, v := range m.state.runs {
		s.runs[k] = v
	}
	s.stats = m.state.stats
	return s
}

func (m *Memory) apply(w ledger.Write) error {
	st := &m.state
	switch w.Kind {
	case ledger.WriteCreateMember:
		if _, ok := st.members[w.MemberID]; ok {
			return &ledger.AlreadyExistsError{Kind: "member", Key: string(w.MemberID)}
		}
		st.members[w.MemberID] = *w.Member

	case ledger.WriteUpdateMember:
		mem, ok := st.members[w.MemberID]
		if !ok {
			return ledger.ErrMemberNotFound
		}
		mem.MemberProfile = *w.Profile
		st.members[w.MemberID] = mem

	case ledger.WriteDeleteMember:
		if _, ok := st.members[w.MemberID]; !ok {
			return ledger.ErrMemberNotFound
		}
		delete(st.members, w.MemberID)

	case ledger.WriteIncrementMember:
		mem, ok := st.members[w.MemberID]
		if !ok {
			return ledger.ErrMemberNotFound
		}
		mem.Balance = mem.Balance.Add(w.MemberDelta.Balance)
		mem.ContributionBalance = mem.ContributionBalance.Add(w.MemberDelta.ContributionBalance)
		st.members[w.MemberID] = mem

	case ledger.WriteCreateContribution:
		k := contributionKey{w.MemberID, w.Month}
		if _, ok := st.contributions[k]; ok {
			return &ledger.AlreadyExistsError{Kind: "contribution", Key: string(w.MemberID) + "/" + w.Month.String()}
		}
		st.contributions[k] = w.Contribution.Clone()

	case ledger.WriteUpdateContribution:
		k := contributionKey{w.MemberID, w.Month}
		c, ok := st.contributions[k]
		if !ok {
			return ledger.ErrContributionNotFound
		}
		u := w.ContributionUpdate
		if u.ExpectBalance != nil && !c.Balance.Equal(*u.ExpectBalance) {
			return ledger.ErrConcurrentModification
		}
		c = c.Clone()
		c.Balance = c.Balance.Add(u.BalanceDelta)
		if u.Status != "" {
			c.Status = u.Status
		}
		for _, id := range u.RemovePayments {
			if _, ok := c.Payments[id]; !ok {
				return ledger.ErrPaymentNotFound
			}
			delete(c.Payments, id)
		}
		for _, p := range u.AddPayments {
			c.Payments[p.ID] = p
		}
		st.contributions[k] = c

	case ledger.WriteDeleteContribution:
		k := contributionKey{w.MemberID, w.Month}
		if _, ok := st.contributions[k]; !ok {
			return ledger.ErrContributionNotFound
		}
		delete(st.contributions, k)

	case ledger.WritePutPayment:
		st.payments[paymentKey{w.MemberID, w.PaymentID}] = *w.Payment

	case ledger.WriteDeletePayment:
		k := paymentKey{w.MemberID, w.PaymentID}
		if _, ok := st.payments[k]; !ok {
			return ledger.ErrPaymentNotFound
		}
		delete(st.payments, k)

	case ledger.WriteIncrementMonthlyStats:
		s := st.monthly[w.Month]
		s.Month = w.Month
		d := w.StatsDelta
		s.Amount = s.Amount.Add(d.Amount)
		s.Contribution = s.Contribution.Add(d.Contribution)
		s.PaymentsCount += d.PaymentsCount
		s.NewMembers += d.NewMembers
		s.TotalMembers += d.TotalMembers
		st.monthly[w.Month] = s

	case ledger.WriteSetMonthlyStats:
		s := st.monthly[w.Month]
		s.Month = w.Month
		o := w.StatsOverwrite
		if o.Amount != nil {
			s.Amount = *o.Amount
		}
		if o.Contribution != nil {
			s.Contribution = *o.Contribution
		}
		if o.PaymentsCount != nil {
			s.PaymentsCount = *o.PaymentsCount
		}
		if o.TotalMembers != nil {
			s.TotalMembers = *o.TotalMembers
		}
		st.monthly[w.Month] = s

	case ledger.WriteIncrementStats:
		st.stats.TotalMembers += w.StatsDelta.TotalMembers

	case ledger.WriteRecordRun:
		st.runs[w.Month] = *w.Run

	default:
		return &ledger.ValidationError{Field: "write", Message: "unknown write kind " + string(w.Kind)}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetMember(_ context.Context, id ledger.MemberID) (ledger.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.state.members[id]
	if !ok {
		return ledger.Member{}, ledger.ErrMemberNotFound
	}
	return mem, nil
}

func (m *Memory) ListMembers(_ context.Context, f ledger.MemberFilter) ([]ledger.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := strings.ToLower(f.NamePrefix)
	var out []ledger.Member
	for _, mem := range m.state.members {
		if f.Role != "" && mem.Role != f.Role {
			continue
		}
		if f.Status != "" && mem.Status != f.Status {
			continue
		}
		if prefix != "" && !strings.HasPrefix(strings.ToLower(mem.FirstName), prefix) {
			continue
		}
		out = append(out, mem)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstName != out[j].FirstName {
			return out[i].FirstName < out[j].FirstName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetContribution(_ context.Context, memberID ledger.MemberID, month ledger.Month) (ledger.Contribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.state.contributions[contributionKey{memberID, month}]
	if !ok {
		return ledger.Contribution{}, ledger.ErrContributionNotFound
	}
	return c.Clone(), nil
}

func (m *Memory) ListMemberContributions(_ context.Context, memberID ledger.MemberID) ([]ledger.Contribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Contribution
	for k, c := range m.state.contributions {
		if k.MemberID == memberID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month > out[j].Month })
	return out, nil
}

func (m *Memory) ListContributionsByMonth(_ context.Context, month ledger.Month) ([]ledger.Contribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Contribution
	for k, c := range m.state.contributions {
		if k.Month == month {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstName != out[j].FirstName {
			return out[i].FirstName < out[j].FirstName
		}
		return out[i].MemberID < out[j].MemberID
	})
	return out, nil
}

func (m *Memory) GetPayment(_ context.Context, memberID ledger.MemberID, id ledger.PaymentID) (ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.state.payments[paymentKey{memberID, id}]
	if !ok {
		return ledger.Payment{}, ledger.ErrPaymentNotFound
	}
	return p, nil
}

func (m *Memory) ListMemberPayments(_ context.Context, memberID ledger.MemberID) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Payment
	for k, p := range m.state.payments {
		if k.MemberID == memberID {
			out = append(out, p)
		}
	}
	ledger.SortPayments(out, true)
	return out, nil
}

func (m *Memory) RecentPayments(_ context.Context, limit int) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Payment, 0, len(m.state.payments))
	for _, p := range m.state.payments {
		out = append(out, p)
	}
	ledger.SortPayments(out, true)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetMonthlyStats(_ context.Context, month ledger.Month) (ledger.MonthlyStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.state.monthly[month]
	if !ok {
		return ledger.MonthlyStats{}, ledger.ErrStatsNotFound
	}
	return s, nil
}

func (m *Memory) ListMonthlyStats(_ context.Context, q ledger.StatsQuery) ([]ledger.MonthlyStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.MonthlyStats, 0, len(m.state.monthly))
	for _, s := range m.state.monthly {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if q.Descending {
			return out[i].Month > out[j].Month
		}
		return out[i].Month < out[j].Month
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) GetStats(_ context.Context) (ledger.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.stats, nil
}

func (m *Memory) GetRun(_ context.Context, month ledger.Month) (ledger.ScheduledRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.state.runs[month]
	if !ok {
		return ledger.ScheduledRun{}, ledger.ErrRunNotFound
	}
	return r, nil
}

var _ ledger.Store = (*Memory)(nil)
