// Package ledger is the only writer of children's point balances. Every
// balance change is one immutable ledger entry appended in the same
// transaction that moves the cached balance.
package ledger

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/metrics"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
)

type Service struct {
	db     *sql.DB
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db *sql.DB, pub events.Publisher, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.Discard
	}
	return &Service{db: db, pub: pub, logger: logger, now: time.Now}
}

// Append writes one entry in its own transaction.
func (s *Service) Append(ctx context.Context, familyID, childID int64, typ model.EntryType, amount int, reason string, rel model.Related) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		entry, err = s.AppendTx(ctx, tx, familyID, childID, typ, amount, reason, rel)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Committed(entry)
	return entry, nil
}

// AppendTx writes one entry inside tx. The caller owns the transaction and
// must call Committed once it commits.
//
// The child's balance is read inside the write transaction and updated with
// a guard on the value read, so a concurrent writer surfaces as
// database.ErrConflict and the whole transaction is retried.
func (s *Service) AppendTx(ctx context.Context, tx *sql.Tx, familyID, childID int64, typ model.EntryType, amount int, reason string, rel model.Related) (*model.LedgerEntry, error) {
	if err := validate(typ, amount); err != nil {
		return nil, err
	}

	children := store.NewChildStore(tx)
	child, err := children.GetInFamily(ctx, familyID, childID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, apperr.NotFound("child %d", childID)
	}

	before := child.Balance
	after := before + amount
	if amount < 0 && after < 0 {
		return nil, apperr.InsufficientBalance("balance %d, debit %d", before, -amount)
	}

	entry, err := store.NewLedgerStore(tx).Insert(ctx, model.LedgerEntry{
		FamilyID:      familyID,
		ChildID:       childID,
		Type:          typ,
		Amount:        amount,
		Reason:        reason,
		ChoreID:       rel.ChoreID,
		RewardID:      rel.RewardID,
		RedemptionID:  rel.RedemptionID,
		BalanceBefore: before,
		BalanceAfter:  after,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	lifetime := 0
	if typ.CountsTowardLifetime() {
		lifetime = amount
	}
	if err := children.ApplyBalance(ctx, childID, before, after, lifetime); err != nil {
		return nil, err
	}
	return entry, nil
}

// Committed records metrics and publishes change events for entries whose
// transaction has committed.
func (s *Service) Committed(entries ...*model.LedgerEntry) {
	for _, e := range entries {
		if e == nil {
			continue
		}
		metrics.RecordLedgerAppend(string(e.Type), e.Amount)
		s.pub.Publish(events.Event{
			FamilyID: e.FamilyID,
			Entity:   events.EntityLedger,
			Action:   "appended",
			ID:       e.ID,
			Extra: map[string]any{
				"child_id":      e.ChildID,
				"type":          string(e.Type),
				"amount":        e.Amount,
				"balance_after": e.BalanceAfter,
			},
		})
		s.logger.Debug("ledger entry appended",
			"family_id", e.FamilyID, "child_id", e.ChildID, "type", e.Type,
			"amount", e.Amount, "balance_after", e.BalanceAfter)
	}
}

// Balance returns the child's cached balance. Use BalanceTx before any debit
// decision.
func (s *Service) Balance(ctx context.Context, familyID, childID int64) (int, error) {
	return balance(ctx, store.NewChildStore(s.db), familyID, childID)
}

// BalanceTx reads the balance inside tx.
func (s *Service) BalanceTx(ctx context.Context, tx *sql.Tx, familyID, childID int64) (int, error) {
	return balance(ctx, store.NewChildStore(tx), familyID, childID)
}

func balance(ctx context.Context, children *store.ChildStore, familyID, childID int64) (int, error) {
	child, err := children.GetInFamily(ctx, familyID, childID)
	if err != nil {
		return 0, err
	}
	if child == nil {
		return 0, apperr.NotFound("child %d", childID)
	}
	return child.Balance, nil
}

// History lists the child's entries, newest first.
func (s *Service) History(ctx context.Context, familyID, childID int64, limit int) ([]model.LedgerEntry, error) {
	child, err := store.NewChildStore(s.db).GetInFamily(ctx, familyID, childID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, apperr.NotFound("child %d", childID)
	}
	entries, err := store.NewLedgerStore(s.db).ListByChild(ctx, childID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return entries, nil
}

// Audit reports children whose cached balance disagrees with their ledger.
// It never rewrites history; corrections are compensating entries.
func (s *Service) Audit(ctx context.Context, familyID int64) ([]model.BalanceDrift, error) {
	drift, err := store.NewLedgerStore(s.db).Drift(ctx, familyID)
	if err != nil {
		return nil, err
	}
	for _, d := range drift {
		s.logger.Warn("ledger drift", "family_id", familyID, "child_id", d.ChildID, "cached", d.Cached, "ledger", d.Ledger)
	}
	if drift == nil {
		drift = []model.BalanceDrift{}
	}
	return drift, nil
}

func validate(typ model.EntryType, amount int) error {
	if _, err := model.ParseEntryType(string(typ)); err != nil {
		return apperr.Wrap(apperr.KindInvalid, err, "entry type")
	}
	if amount == 0 {
		return apperr.Invalid("amount must not be zero")
	}
	if typ.Credit() != (amount > 0) {
		return apperr.Invalid("%s entries must have a %s amount", typ, sign(typ))
	}
	return nil
}

func sign(typ model.EntryType) string {
	if typ.Credit() {
		return "positive"
	}
	return "negative"
}
