// Package reconcile pairs every ledger mutation with its durable write and
// compensates the ledger when that write fails.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/storage"
	"github.com/rs/zerolog"
)

// MutationKind identifies a ledger mutation.
type MutationKind string

const (
	KindAppend     MutationKind = "append"
	KindRemove     MutationKind = "remove"
	KindReplaceAll MutationKind = "replace_all"
)

// Compensation is what happens to the ledger when the durable write fails.
type Compensation string

const (
	// KeepLocal leaves the optimistic change in place.
	KeepLocal Compensation = "keep_local"
	// RestoreRemoved puts the removed transaction back.
	RestoreRemoved Compensation = "restore_removed"
	// NoCompensation leaves local and durable state divergent.
	NoCompensation Compensation = "none"
)

var policies = map[MutationKind]Compensation{
	KindAppend:     KeepLocal,
	KindRemove:     RestoreRemoved,
	KindReplaceAll: NoCompensation,
}

// Policy returns the compensation applied when a durable write of kind fails.
func Policy(kind MutationKind) Compensation {
	if c, ok := policies[kind]; ok {
		return c
	}
	return NoCompensation
}

// Sessions supplies the active identity. It is never mutated from here.
type Sessions interface {
	Current() (domain.Session, error)
}

// Mutation is a requested change to the ledger.
type Mutation struct {
	Kind         MutationKind
	Transaction  domain.Transaction   // KindAppend
	ID           string               // KindRemove
	Transactions []domain.Transaction // KindReplaceAll
}

// Handle is a mutation that has been applied locally and awaits Commit.
type Handle struct {
	mutation Mutation
	ownerID  string
	removal  ledger.Removal
	removed  bool
}

func (h *Handle) OwnerID() string { return h.ownerID }

// Transaction returns the appended transaction, with its owner filled in.
func (h *Handle) Transaction() domain.Transaction { return h.mutation.Transaction }

// Coordinator applies mutations to the ledger and the repository.
type Coordinator struct {
	store    *ledger.Store
	repo     storage.Repository
	sessions Sessions
	log      zerolog.Logger
}

func NewCoordinator(store *ledger.Store, repo storage.Repository, sessions Sessions, log zerolog.Logger) *Coordinator {
	return &Coordinator{store: store, repo: repo, sessions: sessions, log: log}
}

// Apply performs the optimistic, local half of m. It returns before any
// durable write is attempted.
func (c *Coordinator) Apply(m Mutation) (*Handle, error) {
	sess, err := c.sessions.Current()
	if err != nil {
		return nil, fmt.Errorf("Apply: %w", err)
	}
	owner := sess.ID
	h := &Handle{mutation: m, ownerID: owner}

	switch m.Kind {
	case KindAppend:
		tx, err := claim(m.Transaction, owner)
		if err != nil {
			return nil, fmt.Errorf("Apply: %w", err)
		}
		if !c.store.Append(tx) {
			return nil, fmt.Errorf("Apply: %s: %w", tx.ID, ErrDuplicateID)
		}
		h.mutation.Transaction = tx

	case KindRemove:
		h.removal, h.removed = c.store.Remove(m.ID)

	case KindReplaceAll:
		txs := make([]domain.Transaction, 0, len(m.Transactions))
		seen := make(map[string]bool, len(m.Transactions))
		for _, tx := range m.Transactions {
			if seen[tx.ID] {
				continue
			}
			seen[tx.ID] = true
			claimed, err := claim(tx, owner)
			if err != nil {
				return nil, fmt.Errorf("Apply: %w", err)
			}
			txs = append(txs, claimed)
		}
		c.store.ReplaceAll(txs)
		h.mutation.Transactions = txs

	default:
		return nil, fmt.Errorf("Apply: unknown mutation kind %q", m.Kind)
	}

	return h, nil
}

// Commit performs the durable half of h. On failure the ledger is
// compensated per Policy and a *PersistenceError is returned.
func (c *Coordinator) Commit(ctx context.Context, h *Handle) error {
	log := c.log.With().Str("owner_id", h.ownerID).Str("mutation", string(h.mutation.Kind)).Logger()

	var (
		err   error
		txID  string
		stage storage.ReplaceStage
	)
	switch h.mutation.Kind {
	case KindAppend:
		txID = h.mutation.Transaction.ID
		err = c.repo.InsertTransaction(ctx, h.ownerID, h.mutation.Transaction)
	case KindRemove:
		txID = h.mutation.ID
		err = c.repo.DeleteTransaction(ctx, h.ownerID, h.mutation.ID)
	case KindReplaceAll:
		err = storage.ReplaceAllTransactions(ctx, c.repo, h.ownerID, h.mutation.Transactions)
		var re *storage.ReplaceError
		if errors.As(err, &re) {
			stage = re.Stage
			err = re.Err
		}
	default:
		return fmt.Errorf("Commit: unknown mutation kind %q", h.mutation.Kind)
	}
	if err == nil {
		log.Debug().Str("transaction_id", txID).Msg("Durable write committed")
		return nil
	}

	comp := c.compensate(h, log)
	log.Error().Err(err).
		Str("transaction_id", txID).
		Str("stage", string(stage)).
		Str("compensation", string(comp)).
		Msg("Durable write failed")

	return &PersistenceError{
		Kind:          h.mutation.Kind,
		Stage:         stage,
		TransactionID: txID,
		Compensation:  comp,
		Err:           err,
	}
}

// compensate applies Policy and reports what was actually done to the ledger.
func (c *Coordinator) compensate(h *Handle, log zerolog.Logger) Compensation {
	policy := Policy(h.mutation.Kind)
	if policy != RestoreRemoved {
		return policy
	}
	if !h.removed {
		// The id was not in the ledger, so there is nothing to put back.
		return NoCompensation
	}

	// The ledger belongs to whoever is signed in now.
	if sess, err := c.sessions.Current(); err != nil || sess.ID != h.ownerID {
		log.Warn().Msg("Session changed before commit failed, skipping restore")
		return NoCompensation
	}
	c.store.Restore(h.removal)
	return policy
}

// CommitAppend appends tx locally and then inserts it durably. A durable
// failure keeps tx in the ledger.
func (c *Coordinator) CommitAppend(ctx context.Context, tx domain.Transaction) error {
	h, err := c.Apply(Mutation{Kind: KindAppend, Transaction: tx})
	if err != nil {
		return err
	}
	return c.Commit(ctx, h)
}

// CommitRemove removes id locally and then deletes it durably. A durable
// failure restores the removed transaction.
func (c *Coordinator) CommitRemove(ctx context.Context, id string) error {
	h, err := c.Apply(Mutation{Kind: KindRemove, ID: id})
	if err != nil {
		return err
	}
	return c.Commit(ctx, h)
}

// CommitReplaceAll swaps the ledger for txs and then replaces the durable
// ledger. The durable replace is not atomic and is not compensated.
func (c *Coordinator) CommitReplaceAll(ctx context.Context, txs []domain.Transaction) error {
	h, err := c.Apply(Mutation{Kind: KindReplaceAll, Transactions: txs})
	if err != nil {
		return err
	}
	return c.Commit(ctx, h)
}

func claim(tx domain.Transaction, owner string) (domain.Transaction, error) {
	if tx.OwnerID == "" {
		tx.OwnerID = owner
	}
	if tx.OwnerID != owner {
		return tx, fmt.Errorf("%s: %w", tx.ID, ErrOwnerMismatch)
	}
	if err := tx.Validate(); err != nil {
		return tx, err
	}
	return tx, nil
}
