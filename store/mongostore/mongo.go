/*
Package mongostore provides a MongoDB-backed ledger.Store.

PURPOSE:
  Stores the ledger as documents, one collection per logical path:

    members         _id = member id
    contributions   _id = "{member_id}/{YYYY-MM-01}", payments embedded by id
    payments        _id = "{member_id}/{payment_id}"
    monthly_stats   _id = "YYYY-MM-01"
    stats           _id = "singleton"
    runs            _id = "YYYY-MM-01"

ATOMICITY:
  Commit runs every write of a batch in one multi-document transaction
  (session.WithTransaction). Transactions need a replica set; a single
  mongod started with --replSet is enough for development.

MONEY:
  Stored as int64 cents and changed with $inc, so concurrent increments
  never lose updates.

PRECONDITIONS:
  Creates rely on the _id unique index (duplicate key -> AlreadyExists).
  Updates and deletes check MatchedCount / DeletedCount. ExpectBalance is
  part of the update filter; when nothing matches, the contribution is
  read back inside the transaction to tell NotFound from
  ConcurrentModification.

SEE ALSO:
  - ledger/store.go: Store interface and write semantics
  - store/sqlite/sqlite.go: relational implementation of the same contract
*/
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/welfare/contribution-ledger/ledger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	colMembers       = "members"
	colContributions = "contributions"
	colPayments      = "payments"
	colMonthlyStats  = "monthly_stats"
	colStats         = "stats"
	colRuns          = "runs"
)

// Store implements ledger.Store on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri, verifies the connection and ensures indexes on dbName.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &Store{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Drop deletes the whole database. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

// Reset drops the database and recreates its indexes.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.db.Drop(ctx); err != nil {
		return fmt.Errorf("drop database: %w", err)
	}
	return s.ensureIndexes(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colMembers: {
			{Keys: bson.D{{Key: "first_name", Value: 1}, {Key: "_id", Value: 1}}},
		},
		colContributions: {
			{Keys: bson.D{{Key: "member_id", Value: 1}, {Key: "month", Value: -1}}},
			{Keys: bson.D{{Key: "month", Value: 1}, {Key: "first_name", Value: 1}}},
		},
		colPayments: {
			{Keys: bson.D{{Key: "member_id", Value: 1}, {Key: "payment_date", Value: -1}}},
			{Keys: bson.D{{Key: "payment_date", Value: -1}, {Key: "payment_id", Value: -1}}},
		},
	}
	for col, models := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", col, err)
		}
	}
	return nil
}

func (s *Store) col(name string) *mongo.Collection { return s.db.Collection(name) }

// =============================================================================
// COMMIT
// =============================================================================

// Commit applies every write of b in one transaction.
func (s *Store) Commit(ctx context.Context, b *ledger.Batch) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(context.Background())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, w := range b.Writes() {
			if err := s.apply(sc, w); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *Store) apply(ctx context.Context, w ledger.Write) error {
	switch w.Kind {
	case ledger.WriteCreateMember:
		_, err := s.col(colMembers).InsertOne(ctx, toMemberDoc(*w.Member))
		if mongo.IsDuplicateKeyError(err) {
			return &ledger.AlreadyExistsError{Kind: "member", Key: string(w.MemberID)}
		}
		return err

	case ledger.WriteUpdateMember:
		p := w.Profile
		res, err := s.col(colMembers).UpdateOne(ctx, bson.M{"_id": string(w.MemberID)}, bson.M{"$set": bson.M{
			"first_name":    p.FirstName,
			"last_name":     p.LastName,
			"email":         p.Email,
			"phone_number":  p.PhoneNumber,
			"member_number": p.MemberNumber,
			"win":           p.WIN,
			"role":          string(p.Role),
			"gender":        string(p.Gender),
			"status":        string(p.Status),
			"is_fees_paid":  p.IsFeesPaid,
		}})
		return matched(res, err, ledger.ErrMemberNotFound)

	case ledger.WriteDeleteMember:
		res, err := s.col(colMembers).DeleteOne(ctx, bson.M{"_id": string(w.MemberID)})
		return deleted(res, err, ledger.ErrMemberNotFound)

	case ledger.WriteIncrementMember:
		res, err := s.col(colMembers).UpdateOne(ctx, bson.M{"_id": string(w.MemberID)}, bson.M{"$inc": bson.M{
			"balance_cents":              ledger.Cents(w.MemberDelta.Balance),
			"contribution_balance_cents": ledger.Cents(w.MemberDelta.ContributionBalance),
		}})
		return matched(res, err, ledger.ErrMemberNotFound)

	case ledger.WriteCreateContribution:
		_, err := s.col(colContributions).InsertOne(ctx, toContributionDoc(*w.Contribution))
		if mongo.IsDuplicateKeyError(err) {
			return &ledger.AlreadyExistsError{Kind: "contribution", Key: contributionKey(w.MemberID, w.Month)}
		}
		return err

	case ledger.WriteUpdateContribution:
		return s.updateContribution(ctx, w.MemberID, w.Month, *w.ContributionUpdate)

	case ledger.WriteDeleteContribution:
		res, err := s.col(colContributions).DeleteOne(ctx, bson.M{"_id": contributionKey(w.MemberID, w.Month)})
		return deleted(res, err, ledger.ErrContributionNotFound)

	case ledger.WritePutPayment:
		doc := toPaymentDoc(*w.Payment)
		_, err := s.col(colPayments).ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
		return err

	case ledger.WriteDeletePayment:
		res, err := s.col(colPayments).DeleteOne(ctx, bson.M{"_id": paymentKey(w.MemberID, w.PaymentID)})
		return deleted(res, err, ledger.ErrPaymentNotFound)

	case ledger.WriteIncrementMonthlyStats:
		d := w.StatsDelta
		_, err := s.col(colMonthlyStats).UpdateOne(ctx, bson.M{"_id": string(w.Month)}, bson.M{"$inc": bson.M{
			"amount_cents":       ledger.Cents(d.Amount),
			"contribution_cents": ledger.Cents(d.Contribution),
			"payments_count":     d.PaymentsCount,
			"new_members":        d.NewMembers,
			"total_members":      d.TotalMembers,
		}}, options.Update().SetUpsert(true))
		return err

	case ledger.WriteSetMonthlyStats:
		return s.setMonthlyStats(ctx, w.Month, *w.StatsOverwrite)

	case ledger.WriteIncrementStats:
		_, err := s.col(colStats).UpdateOne(ctx, bson.M{"_id": statsSingletonID},
			bson.M{"$inc": bson.M{"total_members": w.StatsDelta.TotalMembers}},
			options.Update().SetUpsert(true))
		return err

	case ledger.WriteRecordRun:
		r := w.Run
		doc := runDoc{Month: string(r.Month), Members: r.Members, Generated: r.Generated, Skipped: r.Skipped, CompletedAt: r.CompletedAt.UTC()}
		_, err := s.col(colRuns).ReplaceOne(ctx, bson.M{"_id": doc.Month}, doc, options.Replace().SetUpsert(true))
		return err

	default:
		return &ledger.ValidationError{Field: "write", Message: "unknown write kind " + string(w.Kind)}
	}
}

func (s *Store) updateContribution(ctx context.Context, memberID ledger.MemberID, month ledger.Month, u ledger.ContributionUpdate) error {
	key := contributionKey(memberID, month)
	filter := bson.M{"_id": key}
	if u.ExpectBalance != nil {
		filter["balance_cents"] = ledger.Cents(*u.ExpectBalance)
	}
	for _, id := range u.RemovePayments {
		filter["payments."+string(id)] = bson.M{"$exists": true}
	}

	set := bson.M{}
	if u.Status != "" {
		set["status"] = string(u.Status)
	}
	for _, p := range u.AddPayments {
		set["payments."+string(p.ID)] = toPaymentDoc(p)
	}
	update := bson.M{"$inc": bson.M{"balance_cents": ledger.Cents(u.BalanceDelta)}}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(u.RemovePayments) > 0 {
		unset := bson.M{}
		for _, id := range u.RemovePayments {
			unset["payments."+string(id)] = ""
		}
		update["$unset"] = unset
	}

	res, err := s.col(colContributions).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// Nothing matched: find out which precondition failed.
	var doc contributionDoc
	err = s.col(colContributions).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.ErrContributionNotFound
	}
	if err != nil {
		return err
	}
	if u.ExpectBalance != nil && doc.BalanceCents != ledger.Cents(*u.ExpectBalance) {
		return ledger.ErrConcurrentModification
	}
	return ledger.ErrPaymentNotFound
}

func (s *Store) setMonthlyStats(ctx context.Context, month ledger.Month, o ledger.StatsOverwrite) error {
	set := bson.M{}
	if o.Amount != nil {
		set["amount_cents"] = ledger.Cents(*o.Amount)
	}
	if o.Contribution != nil {
		set["contribution_cents"] = ledger.Cents(*o.Contribution)
	}
	if o.PaymentsCount != nil {
		set["payments_count"] = *o.PaymentsCount
	}
	if o.TotalMembers != nil {
		set["total_members"] = *o.TotalMembers
	}

	defaults := bson.M{}
	for _, f := range []string{"amount_cents", "contribution_cents", "payments_count", "new_members", "total_members"} {
		if _, ok := set[f]; !ok {
			defaults[f] = int64(0)
		}
	}
	update := bson.M{"$setOnInsert": defaults}
	if len(set) > 0 {
		update["$set"] = set
	}
	_, err := s.col(colMonthlyStats).UpdateOne(ctx, bson.M{"_id": string(month)}, update, options.Update().SetUpsert(true))
	return err
}

func matched(res *mongo.UpdateResult, err error, notFound error) error {
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return notFound
	}
	return nil
}

func deleted(res *mongo.DeleteResult, err error, notFound error) error {
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return notFound
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Store) GetMember(ctx context.Context, id ledger.MemberID) (ledger.Member, error) {
	var doc memberDoc
	err := s.col(colMembers).FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.Member{}, ledger.ErrMemberNotFound
	}
	if err != nil {
		return ledger.Member{}, err
	}
	return doc.toMember(), nil
}

func (s *Store) ListMembers(ctx context.Context, f ledger.MemberFilter) ([]ledger.Member, error) {
	filter := bson.M{}
	if f.Role != "" {
		filter["role"] = string(f.Role)
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.NamePrefix != "" {
		filter["first_name"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(f.NamePrefix), Options: "i"}
	}
	opts := options.Find().SetSort(bson.D{{Key: "first_name", Value: 1}, {Key: "_id", Value: 1}})

	var docs []memberDoc
	if err := s.findAll(ctx, colMembers, filter, opts, &docs); err != nil {
		return nil, err
	}
	out := make([]ledger.Member, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toMember())
	}
	return out, nil
}

func (s *Store) GetContribution(ctx context.Context, memberID ledger.MemberID, month ledger.Month) (ledger.Contribution, error) {
	var doc contributionDoc
	err := s.col(colContributions).FindOne(ctx, bson.M{"_id": contributionKey(memberID, month)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.Contribution{}, ledger.ErrContributionNotFound
	}
	if err != nil {
		return ledger.Contribution{}, err
	}
	return doc.toContribution(), nil
}

func (s *Store) ListMemberContributions(ctx context.Context, memberID ledger.MemberID) ([]ledger.Contribution, error) {
	return s.listContributions(ctx, bson.M{"member_id": string(memberID)},
		options.Find().SetSort(bson.D{{Key: "month", Value: -1}}))
}

func (s *Store) ListContributionsByMonth(ctx context.Context, month ledger.Month) ([]ledger.Contribution, error) {
	return s.listContributions(ctx, bson.M{"month": string(month)},
		options.Find().SetSort(bson.D{{Key: "first_name", Value: 1}, {Key: "member_id", Value: 1}}))
}

func (s *Store) listContributions(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]ledger.Contribution, error) {
	var docs []contributionDoc
	if err := s.findAll(ctx, colContributions, filter, opts, &docs); err != nil {
		return nil, err
	}
	out := make([]ledger.Contribution, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toContribution())
	}
	return out, nil
}

func (s *Store) GetPayment(ctx context.Context, memberID ledger.MemberID, id ledger.PaymentID) (ledger.Payment, error) {
	var doc paymentDoc
	err := s.col(colPayments).FindOne(ctx, bson.M{"_id": paymentKey(memberID, id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.Payment{}, ledger.ErrPaymentNotFound
	}
	if err != nil {
		return ledger.Payment{}, err
	}
	return doc.toPayment(), nil
}

var newestPaymentFirst = bson.D{{Key: "payment_date", Value: -1}, {Key: "payment_id", Value: -1}}

func (s *Store) ListMemberPayments(ctx context.Context, memberID ledger.MemberID) ([]ledger.Payment, error) {
	return s.listPayments(ctx, bson.M{"member_id": string(memberID)}, options.Find().SetSort(newestPaymentFirst))
}

func (s *Store) RecentPayments(ctx context.Context, limit int) ([]ledger.Payment, error) {
	opts := options.Find().SetSort(newestPaymentFirst)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.listPayments(ctx, bson.M{}, opts)
}

func (s *Store) listPayments(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]ledger.Payment, error) {
	var docs []paymentDoc
	if err := s.findAll(ctx, colPayments, filter, opts, &docs); err != nil {
		return nil, err
	}
	out := make([]ledger.Payment, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toPayment())
	}
	return out, nil
}

func (s *Store) GetMonthlyStats(ctx context.Context, month ledger.Month) (ledger.MonthlyStats, error) {
	var doc monthlyStatsDoc
	err := s.col(colMonthlyStats).FindOne(ctx, bson.M{"_id": string(month)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.MonthlyStats{}, ledger.ErrStatsNotFound
	}
	if err != nil {
		return ledger.MonthlyStats{}, err
	}
	return doc.toMonthlyStats(), nil
}

func (s *Store) ListMonthlyStats(ctx context.Context, q ledger.StatsQuery) ([]ledger.MonthlyStats, error) {
	dir := 1
	if q.Descending {
		dir = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: dir}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	var docs []monthlyStatsDoc
	if err := s.findAll(ctx, colMonthlyStats, bson.M{}, opts, &docs); err != nil {
		return nil, err
	}
	out := make([]ledger.MonthlyStats, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toMonthlyStats())
	}
	return out, nil
}

func (s *Store) GetStats(ctx context.Context) (ledger.Stats, error) {
	var doc statsDoc
	err := s.col(colStats).FindOne(ctx, bson.M{"_id": statsSingletonID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.Stats{}, nil
	}
	if err != nil {
		return ledger.Stats{}, err
	}
	return ledger.Stats{TotalMembers: doc.TotalMembers}, nil
}

func (s *Store) GetRun(ctx context.Context, month ledger.Month) (ledger.ScheduledRun, error) {
	var doc runDoc
	err := s.col(colRuns).FindOne(ctx, bson.M{"_id": string(month)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.ScheduledRun{}, ledger.ErrRunNotFound
	}
	if err != nil {
		return ledger.ScheduledRun{}, err
	}
	return doc.toRun(), nil
}

func (s *Store) findAll(ctx context.Context, col string, filter bson.M, opts *options.FindOptions, out interface{}) error {
	cursor, err := s.col(col).Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("find %s: %w", col, err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("decode %s: %w", col, err)
	}
	return nil
}

var _ ledger.Store = (*Store)(nil)
