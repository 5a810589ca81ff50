/*
Package sqlite provides a SQLite-backed ledger.Store.

PURPOSE:
  Persists members, contributions, payments and statistics in SQLite. Every
  ledger.Batch is applied inside one SQL transaction, so a batch is
  all-or-nothing exactly like the in-memory store.

KEY TABLES:
  members:               member profile plus balance_cents, contribution_balance_cents
  contributions:         one row per (member_id, month)
  contribution_payments: payments attached to a contribution, keyed by payment_id
  payments:              payment documents, scoped to a member
  monthly_stats:         per-month counters
  stats:                 lifetime singleton (id = 1)
  scheduled_runs:        completed monthly runs

MONEY:
  Amounts are stored as integer cents. Increments are single UPDATE
  statements (balance_cents = balance_cents + ?), never read-modify-write.

PRECONDITIONS:
  Creates fail on the primary key (AlreadyExists). Updates and deletes check
  RowsAffected (NotFound). UpdateContribution with ExpectBalance adds
  "AND balance_cents = ?" to its WHERE clause (ConcurrentModification).

CONCURRENCY:
  One connection, guarded by sync.RWMutex. SQLite has a single writer
  anyway, and ":memory:" databases exist per connection.

MIGRATION:
  Versioned migrations in migrations/*.sql, embedded and applied with
  golang-migrate on New().

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, cfg)

SEE ALSO:
  - ledger/store.go: Store interface and write semantics
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/welfare/contribution-ledger/ledger"
)

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Reset deletes all data (for demo scenarios and tests).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tables := []string{
		"contribution_payments", "payments", "contributions",
		"monthly_stats", "stats", "scheduled_runs", "members",
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// COMMIT
// =============================================================================

// Commit applies every write of b in one SQL transaction.
func (s *Store) Commit(ctx context.Context, b *ledger.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, w := range b.Writes() {
		if err := applyWrite(ctx, tx, w); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func applyWrite(ctx context.Context, q querier, w ledger.Write) error {
	switch w.Kind {
	case ledger.WriteCreateMember:
		return createMember(ctx, q, *w.Member)
	case ledger.WriteUpdateMember:
		return updateMember(ctx, q, w.MemberID, *w.Profile)
	case ledger.WriteDeleteMember:
		res, err := q.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, w.MemberID)
		return expectRow(res, err, ledger.ErrMemberNotFound)
	case ledger.WriteIncrementMember:
		res, err := q.ExecContext(ctx, `
			UPDATE members
			SET balance_cents = balance_cents + ?,
			    contribution_balance_cents = contribution_balance_cents + ?
			WHERE id = ?`,
			ledger.Cents(w.MemberDelta.Balance), ledger.Cents(w.MemberDelta.ContributionBalance), w.MemberID)
		return expectRow(res, err, ledger.ErrMemberNotFound)
	case ledger.WriteCreateContribution:
		return createContribution(ctx, q, *w.Contribution)
	case ledger.WriteUpdateContribution:
		return updateContribution(ctx, q, w.MemberID, w.Month, *w.ContributionUpdate)
	case ledger.WriteDeleteContribution:
		res, err := q.ExecContext(ctx, `DELETE FROM contributions WHERE member_id = ? AND month = ?`, w.MemberID, w.Month)
		if err := expectRow(res, err, ledger.ErrContributionNotFound); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `DELETE FROM contribution_payments WHERE member_id = ? AND month = ?`, w.MemberID, w.Month)
		return wrap("delete contribution payments", err)
	case ledger.WritePutPayment:
		return putPayment(ctx, q, *w.Payment)
	case ledger.WriteDeletePayment:
		res, err := q.ExecContext(ctx, `DELETE FROM payments WHERE member_id = ? AND id = ?`, w.MemberID, w.PaymentID)
		return expectRow(res, err, ledger.ErrPaymentNotFound)
	case ledger.WriteIncrementMonthlyStats:
		d := w.StatsDelta
		_, err := q.ExecContext(ctx, `
			INSERT INTO monthly_stats (month, amount_cents, contribution_cents, payments_count, new_members, total_members)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(month) DO UPDATE SET
				amount_cents = amount_cents + excluded.amount_cents,
				contribution_cents = contribution_cents + excluded.contribution_cents,
				payments_count = payments_count + excluded.payments_count,
				new_members = new_members + excluded.new_members,
				total_members = total_members + excluded.total_members`,
			w.Month, ledger.Cents(d.Amount), ledger.Cents(d.Contribution), d.PaymentsCount, d.NewMembers, d.TotalMembers)
		return wrap("increment monthly stats", err)
	case ledger.WriteSetMonthlyStats:
		return setMonthlyStats(ctx, q, w.Month, *w.StatsOverwrite)
	case ledger.WriteIncrementStats:
		_, err := q.ExecContext(ctx, `
			INSERT INTO stats (id, total_members) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET total_members = total_members + excluded.total_members`,
			w.StatsDelta.TotalMembers)
		return wrap("increment stats", err)
	case ledger.WriteRecordRun:
		r := w.Run
		_, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO scheduled_runs (month, members, generated, skipped, completed_at)
			VALUES (?, ?, ?, ?, ?)`,
			r.Month, r.Members, r.Generated, r.Skipped, formatTime(r.CompletedAt))
		return wrap("record run", err)
	default:
		return &ledger.ValidationError{Field: "write", Message: "unknown write kind " + string(w.Kind)}
	}
}

func createMember(ctx context.Context, q querier, m ledger.Member) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO members
		(id, first_name, last_name, email, phone_number, member_number, win, role, gender, status,
		 is_fees_paid, balance_cents, contribution_balance_cents, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FirstName, m.LastName, m.Email, m.PhoneNumber, m.MemberNumber, m.WIN,
		m.Role, m.Gender, m.Status, m.IsFeesPaid,
		ledger.Cents(m.Balance), ledger.Cents(m.ContributionBalance), formatTime(m.CreatedAt))
	if isUniqueConstraintError(err) {
		return &ledger.AlreadyExistsError{Kind: "member", Key: string(m.ID)}
	}
	return wrap("insert member", err)
}

func updateMember(ctx context.Context, q querier, id ledger.MemberID, p ledger.MemberProfile) error {
	res, err := q.ExecContext(ctx, `
		UPDATE members SET
			first_name = ?, last_name = ?, email = ?, phone_number = ?, member_number = ?, win = ?,
			role = ?, gender = ?, status = ?, is_fees_paid = ?
		WHERE id = ?`,
		p.FirstName, p.LastName, p.Email, p.PhoneNumber, p.MemberNumber, p.WIN,
		p.Role, p.Gender, p.Status, p.IsFeesPaid, id)
	return expectRow(res, err, ledger.ErrMemberNotFound)
}

func createContribution(ctx context.Context, q querier, c ledger.Contribution) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO contributions
		(member_id, month, first_name, last_name, amount_cents, balance_cents, status, policy_version, action_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.MemberID, c.Month, c.FirstName, c.LastName, ledger.Cents(c.Amount), ledger.Cents(c.Balance),
		c.Status, c.PolicyVersion, c.ActionBy, formatTime(c.CreatedAt))
	if isUniqueConstraintError(err) {
		return &ledger.AlreadyExistsError{Kind: "contribution", Key: string(c.MemberID) + "/" + c.Month.String()}
	}
	if err != nil {
		return fmt.Errorf("insert contribution: %w", err)
	}
	for _, p := range c.Payments {
		if err := attachPayment(ctx, q, c.MemberID, c.Month, p); err != nil {
			return err
		}
	}
	return nil
}

func updateContribution(ctx context.Context, q querier, memberID ledger.MemberID, month ledger.Month, u ledger.ContributionUpdate) error {
	query := `
		UPDATE contributions
		SET balance_cents = balance_cents + ?,
		    status = CASE WHEN ? = '' THEN status ELSE ? END
		WHERE member_id = ? AND month = ?`
	args := []any{ledger.Cents(u.BalanceDelta), u.Status, u.Status, memberID, month}
	if u.ExpectBalance != nil {
		query += ` AND balance_cents = ?`
		args = append(args, ledger.Cents(*u.ExpectBalance))
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update contribution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := q.QueryRowContext(ctx, `SELECT 1 FROM contributions WHERE member_id = ? AND month = ?`, memberID, month).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrContributionNotFound
		}
		if err != nil {
			return fmt.Errorf("check contribution: %w", err)
		}
		return ledger.ErrConcurrentModification
	}

	for _, id := range u.RemovePayments {
		res, err := q.ExecContext(ctx, `
			DELETE FROM contribution_payments WHERE member_id = ? AND month = ? AND payment_id = ?`,
			memberID, month, id)
		if err := expectRow(res, err, ledger.ErrPaymentNotFound); err != nil {
			return err
		}
	}
	for _, p := range u.AddPayments {
		if err := attachPayment(ctx, q, memberID, month, p); err != nil {
			return err
		}
	}
	return nil
}

func attachPayment(ctx context.Context, q querier, memberID ledger.MemberID, month ledger.Month, p ledger.Payment) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT OR REPLACE INTO contribution_payments (member_id, month, payment_id, payment_json)
		VALUES (?, ?, ?, ?)`,
		memberID, month, p.ID, string(data))
	return wrap("attach payment", err)
}

func putPayment(ctx context.Context, q querier, p ledger.Payment) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO payments
		(member_id, id, contribution_id, first_name, last_name, amount_cents, contribution_amount_cents,
		 reference_number, payment_date, payment_type, action_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.MemberID, p.ID, p.ContributionID, p.FirstName, p.LastName,
		ledger.Cents(p.Amount), ledger.Cents(p.ContributionAmount),
		p.ReferenceNumber, formatTime(p.PaymentDate), p.Type, p.ActionBy, formatTime(p.CreatedAt))
	return wrap("put payment", err)
}

func setMonthlyStats(ctx context.Context, q querier, month ledger.Month, o ledger.StatsOverwrite) error {
	if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO monthly_stats (month) VALUES (?)`, month); err != nil {
		return fmt.Errorf("ensure monthly stats: %w", err)
	}
	_, err := q.ExecContext(ctx, `
		UPDATE monthly_stats SET
			amount_cents = COALESCE(?, amount_cents),
			contribution_cents = COALESCE(?, contribution_cents),
			payments_count = COALESCE(?, payments_count),
			total_members = COALESCE(?, total_members)
		WHERE month = ?`,
		nullCents(o.Amount), nullCents(o.Contribution), nullInt(o.PaymentsCount), nullInt(o.TotalMembers), month)
	return wrap("set monthly stats", err)
}

// =============================================================================
// MEMBERS
// =============================================================================

const memberColumns = `id, first_name, last_name, email, phone_number, member_number, win, role, gender, status,
	is_fees_paid, balance_cents, contribution_balance_cents, created_at`

func (s *Store) GetMember(ctx context.Context, id ledger.MemberID) (ledger.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
	if err != nil {
		return ledger.Member{}, fmt.Errorf("query member: %w", err)
	}
	members, err := scanMembers(rows)
	if err != nil {
		return ledger.Member{}, err
	}
	if len(members) == 0 {
		return ledger.Member{}, ledger.ErrMemberNotFound
	}
	return members[0], nil
}

func (s *Store) ListMembers(ctx context.Context, f ledger.MemberFilter) ([]ledger.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, f.Role)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.NamePrefix != "" {
		where = append(where, "LOWER(first_name) LIKE ?")
		args = append(args, strings.ToLower(f.NamePrefix)+"%")
	}

	query := `SELECT ` + memberColumns + ` FROM members`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY first_name, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	return scanMembers(rows)
}

func scanMembers(rows *sql.Rows) ([]ledger.Member, error) {
	defer rows.Close()
	var out []ledger.Member
	for rows.Next() {
		var (
			m                     ledger.Member
			balance, contribution int64
			createdAt             string
		)
		if err := rows.Scan(&m.ID, &m.FirstName, &m.LastName, &m.Email, &m.PhoneNumber, &m.MemberNumber,
			&m.WIN, &m.Role, &m.Gender, &m.Status, &m.IsFeesPaid, &balance, &contribution, &createdAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Balance = ledger.FromCents(balance)
		m.ContributionBalance = ledger.FromCents(contribution)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// CONTRIBUTIONS
// =============================================================================

const contributionColumns = `member_id, month, first_name, last_name, amount_cents, balance_cents,
	status, policy_version, action_by, created_at`

func (s *Store) GetContribution(ctx context.Context, memberID ledger.MemberID, month ledger.Month) (ledger.Contribution, error) {
	out, err := s.queryContributions(ctx, `WHERE member_id = ? AND month = ?`, memberID, month)
	if err != nil {
		return ledger.Contribution{}, err
	}
	if len(out) == 0 {
		return ledger.Contribution{}, ledger.ErrContributionNotFound
	}
	return out[0], nil
}

func (s *Store) ListMemberContributions(ctx context.Context, memberID ledger.MemberID) ([]ledger.Contribution, error) {
	return s.queryContributions(ctx, `WHERE member_id = ? ORDER BY month DESC`, memberID)
}

func (s *Store) ListContributionsByMonth(ctx context.Context, month ledger.Month) ([]ledger.Contribution, error) {
	return s.queryContributions(ctx, `WHERE month = ? ORDER BY first_name, member_id`, month)
}

// queryContributions loads contributions and their attached payments. The
// clause filters both tables, which share member_id and month columns.
func (s *Store) queryContributions(ctx context.Context, clause string, args ...any) ([]ledger.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+contributionColumns+` FROM contributions `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("query contributions: %w", err)
	}
	var (
		out   []ledger.Contribution
		index = make(map[string]int)
	)
	for rows.Next() {
		var (
			c               ledger.Contribution
			amount, balance int64
			createdAt       string
		)
		if err := rows.Scan(&c.MemberID, &c.Month, &c.FirstName, &c.LastName, &amount, &balance,
			&c.Status, &c.PolicyVersion, &c.ActionBy, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		c.Amount = ledger.FromCents(amount)
		c.Balance = ledger.FromCents(balance)
		c.CreatedAt = parseTime(createdAt)
		c.Payments = make(map[ledger.PaymentID]ledger.Payment)
		index[string(c.MemberID)+"|"+string(c.Month)] = len(out)
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	filter := clause
	if i := strings.Index(filter, "ORDER BY"); i >= 0 {
		filter = filter[:i]
	}
	prows, err := s.db.QueryContext(ctx, `SELECT member_id, month, payment_json FROM contribution_payments `+filter, args...)
	if err != nil {
		return nil, fmt.Errorf("query contribution payments: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var memberID, month, data string
		if err := prows.Scan(&memberID, &month, &data); err != nil {
			return nil, fmt.Errorf("scan contribution payment: %w", err)
		}
		i, ok := index[memberID+"|"+month]
		if !ok {
			continue
		}
		var p ledger.Payment
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decode contribution payment: %w", err)
		}
		out[i].Payments[p.ID] = p
	}
	return out, prows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `member_id, id, contribution_id, first_name, last_name, amount_cents,
	contribution_amount_cents, reference_number, payment_date, payment_type, action_by, created_at`

func (s *Store) GetPayment(ctx context.Context, memberID ledger.MemberID, id ledger.PaymentID) (ledger.Payment, error) {
	out, err := s.queryPayments(ctx, `WHERE member_id = ? AND id = ?`, memberID, id)
	if err != nil {
		return ledger.Payment{}, err
	}
	if len(out) == 0 {
		return ledger.Payment{}, ledger.ErrPaymentNotFound
	}
	return out[0], nil
}

func (s *Store) ListMemberPayments(ctx context.Context, memberID ledger.MemberID) ([]ledger.Payment, error) {
	return s.queryPayments(ctx, `WHERE member_id = ? ORDER BY payment_date DESC, id DESC`, memberID)
}

func (s *Store) RecentPayments(ctx context.Context, limit int) ([]ledger.Payment, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	return s.queryPayments(ctx, `ORDER BY payment_date DESC, id DESC LIMIT ?`, limit)
}

func (s *Store) queryPayments(ctx context.Context, clause string, args ...any) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []ledger.Payment
	for rows.Next() {
		var (
			p                    ledger.Payment
			amount, contribution int64
			paidOn, createdAt    string
		)
		if err := rows.Scan(&p.MemberID, &p.ID, &p.ContributionID, &p.FirstName, &p.LastName, &amount,
			&contribution, &p.ReferenceNumber, &paidOn, &p.Type, &p.ActionBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Amount = ledger.FromCents(amount)
		p.ContributionAmount = ledger.FromCents(contribution)
		p.PaymentDate = parseTime(paidOn)
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// STATISTICS & RUNS
// =============================================================================

func (s *Store) GetMonthlyStats(ctx context.Context, month ledger.Month) (ledger.MonthlyStats, error) {
	out, err := s.queryMonthlyStats(ctx, `WHERE month = ?`, month)
	if err != nil {
		return ledger.MonthlyStats{}, err
	}
	if len(out) == 0 {
		return ledger.MonthlyStats{}, ledger.ErrStatsNotFound
	}
	return out[0], nil
}

func (s *Store) ListMonthlyStats(ctx context.Context, q ledger.StatsQuery) ([]ledger.MonthlyStats, error) {
	clause := `ORDER BY month ASC`
	if q.Descending {
		clause = `ORDER BY month DESC`
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	return s.queryMonthlyStats(ctx, clause+` LIMIT ?`, limit)
}

func (s *Store) queryMonthlyStats(ctx context.Context, clause string, args ...any) ([]ledger.MonthlyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT month, amount_cents, contribution_cents, payments_count, new_members, total_members
		FROM monthly_stats `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("query monthly stats: %w", err)
	}
	defer rows.Close()

	var out []ledger.MonthlyStats
	for rows.Next() {
		var (
			st                   ledger.MonthlyStats
			amount, contribution int64
		)
		if err := rows.Scan(&st.Month, &amount, &contribution, &st.PaymentsCount, &st.NewMembers, &st.TotalMembers); err != nil {
			return nil, fmt.Errorf("scan monthly stats: %w", err)
		}
		st.Amount = ledger.FromCents(amount)
		st.Contribution = ledger.FromCents(contribution)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) GetStats(ctx context.Context) (ledger.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st ledger.Stats
	err := s.db.QueryRowContext(ctx, `SELECT total_members FROM stats WHERE id = 1`).Scan(&st.TotalMembers)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Stats{}, nil
	}
	if err != nil {
		return ledger.Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

func (s *Store) GetRun(ctx context.Context, month ledger.Month) (ledger.ScheduledRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		r           ledger.ScheduledRun
		completedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT month, members, generated, skipped, completed_at FROM scheduled_runs WHERE month = ?`, month).
		Scan(&r.Month, &r.Members, &r.Generated, &r.Skipped, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ScheduledRun{}, ledger.ErrRunNotFound
	}
	if err != nil {
		return ledger.ScheduledRun{}, fmt.Errorf("query run: %w", err)
	}
	r.CompletedAt = parseTime(completedAt)
	return r, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullCents(d *decimal.Decimal) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ledger.Cents(*d), Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// expectRow turns "no row affected" into notFound.
func expectRow(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ ledger.Store = (*Store)(nil)
