// Package storage defines the durable persistence contract behind the ledger.
//
// Every operation is scoped to a single owner. Implementations live in the
// bigquery, mongo and local subpackages.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-assistant/internal/domain"
)

// ErrNotFound is returned when an owner has no stored value for a key.
var ErrNotFound = errors.New("storage: not found")

// Repository is the durable side of the ledger.
type Repository interface {
	// ListTransactions returns every transaction stored for owner in
	// insertion order.
	ListTransactions(ctx context.Context, ownerID string) ([]domain.Transaction, error)

	// InsertTransaction stores a single transaction. Inserting an ID that
	// already exists for owner must not create a second record.
	InsertTransaction(ctx context.Context, ownerID string, tx domain.Transaction) error

	// InsertTransactions stores a batch of transactions.
	InsertTransactions(ctx context.Context, ownerID string, txs []domain.Transaction) error

	// DeleteTransaction removes one transaction. Deleting a missing ID is not
	// an error.
	DeleteTransaction(ctx context.Context, ownerID, id string) error

	// DeleteAllTransactions removes every transaction for owner.
	DeleteAllTransactions(ctx context.Context, ownerID string) error

	// GetSettings returns ErrNotFound when owner never saved settings.
	GetSettings(ctx context.Context, ownerID string) (domain.Settings, error)

	PutSettings(ctx context.Context, ownerID string, s domain.Settings) error

	Close() error
}

// ReplaceStage names the step of a bulk replace that failed.
type ReplaceStage string

const (
	StageDelete ReplaceStage = "delete"
	StageInsert ReplaceStage = "insert"
)

// ReplaceError reports which stage of ReplaceAllTransactions failed. A failure
// in StageInsert leaves the owner's durable ledger empty or partial.
type ReplaceError struct {
	Stage ReplaceStage
	Err   error
}

func (e *ReplaceError) Error() string {
	return fmt.Sprintf("replace transactions: %s: %v", e.Stage, e.Err)
}

func (e *ReplaceError) Unwrap() error { return e.Err }

// ReplaceAllTransactions deletes everything stored for owner and then inserts
// txs. The two steps are not atomic.
func ReplaceAllTransactions(ctx context.Context, repo Repository, ownerID string, txs []domain.Transaction) error {
	if err := repo.DeleteAllTransactions(ctx, ownerID); err != nil {
		return &ReplaceError{Stage: StageDelete, Err: err}
	}
	if len(txs) == 0 {
		return nil
	}
	if err := repo.InsertTransactions(ctx, ownerID, txs); err != nil {
		return &ReplaceError{Stage: StageInsert, Err: err}
	}
	return nil
}
