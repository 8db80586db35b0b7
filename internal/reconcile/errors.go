package reconcile

import (
	"errors"
	"fmt"

	"github.com/dvloznov/finance-assistant/internal/storage"
)

var (
	// ErrOwnerMismatch is returned when a transaction names an owner other
	// than the active session.
	ErrOwnerMismatch = errors.New("reconcile: transaction belongs to another owner")

	// ErrDuplicateID is returned when appending an ID the ledger already holds.
	ErrDuplicateID = errors.New("reconcile: transaction id already in ledger")
)

// PersistenceError reports a failed durable write. The local ledger has
// already been compensated according to Policy(Kind) when it is returned.
type PersistenceError struct {
	Kind          MutationKind
	Stage         storage.ReplaceStage // set for KindReplaceAll only
	TransactionID string               // empty for KindReplaceAll
	Compensation  Compensation
	Err           error
}

func (e *PersistenceError) Error() string {
	switch {
	case e.Stage != "":
		return fmt.Sprintf("persist %s (%s): %v", e.Kind, e.Stage, e.Err)
	case e.TransactionID != "":
		return fmt.Sprintf("persist %s %s: %v", e.Kind, e.TransactionID, e.Err)
	default:
		return fmt.Sprintf("persist %s: %v", e.Kind, e.Err)
	}
}

func (e *PersistenceError) Unwrap() error { return e.Err }
