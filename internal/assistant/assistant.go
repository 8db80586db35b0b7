// Package assistant runs the ingestion pipeline: normalize the user's
// input, classify it, apply the result to the ledger optimistically and
// persist it in the background.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-assistant/internal/backup"
	"github.com/dvloznov/finance-assistant/internal/classifier"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/jobs"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/normalizer"
	"github.com/dvloznov/finance-assistant/internal/notify"
	"github.com/dvloznov/finance-assistant/internal/reconcile"
	"github.com/dvloznov/finance-assistant/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// User-facing notification texts.
const (
	msgSavedLocally     = "Saved on this device only. It will be lost if you sign out before it syncs."
	msgDeleteFailed     = "Could not delete the transaction. It has been restored."
	msgDeleteNotSaved   = "Could not delete the transaction from your saved ledger."
	msgRestoreFailed    = "Restore did not finish. Your saved ledger may be incomplete; try the restore again."
	msgSettingsNotSaved = "Settings were applied but could not be saved."
)

// Input is one user submission.
type Input struct {
	Text  string
	Image *normalizer.Blob
	Audio *normalizer.Blob
}

// Result is what a submission produced. Transaction is set only when the
// input was recognised as a financial record; TaskID names the background
// write that persists it.
type Result struct {
	Outcome     classifier.Outcome  `json:"outcome"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
	TaskID      string              `json:"taskId,omitempty"`
}

// Assistant wires the pipeline stages together.
type Assistant struct {
	classifier classifier.Classifier
	store      *ledger.Store
	sessions   *session.Manager
	coord      *reconcile.Coordinator
	runner     jobs.Runner
	notes      *notify.Center
	files      *backup.Files
	pending    *pendingInserts
	window     int
	log        zerolog.Logger

	now   func() time.Time
	newID func() string
}

// Deps are the collaborators of an Assistant.
type Deps struct {
	Classifier    classifier.Classifier
	Store         *ledger.Store
	Sessions      *session.Manager
	Coordinator   *reconcile.Coordinator
	Runner        jobs.Runner
	Notifications *notify.Center
	Files         *backup.Files
	ContextWindow int
	Logger        zerolog.Logger
}

func New(d Deps) *Assistant {
	window := d.ContextWindow
	if window <= 0 {
		window = normalizer.DefaultContextWindow
	}
	files := d.Files
	if files == nil {
		files = &backup.Files{}
	}
	return &Assistant{
		classifier: d.Classifier,
		store:      d.Store,
		sessions:   d.Sessions,
		coord:      d.Coordinator,
		runner:     d.Runner,
		notes:      d.Notifications,
		files:      files,
		pending:    newPendingInserts(),
		window:     window,
		log:        d.Logger,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

// logFor tags the logger carried by ctx, or the assistant's own, with sess.
func (a *Assistant) logFor(ctx context.Context, sess domain.Session) zerolog.Logger {
	return logger.WithSession(logger.FromContextOr(ctx, a.log), sess)
}

// Submit runs one input through the pipeline. It returns once the ledger
// has been updated; the durable write continues in the background. Only
// missing input and a missing session are errors: classification problems
// come back as a chat-only outcome.
func (a *Assistant) Submit(ctx context.Context, in Input) (*Result, error) {
	sess, err := a.sessions.Current()
	if err != nil {
		return nil, fmt.Errorf("Submit: %w", err)
	}
	settings := a.sessions.Settings()

	recent := normalizer.RecentWindow(a.store.Snapshot(), a.window)
	req, err := normalizer.Normalize(in.Text, in.Image, in.Audio, recent, settings.PersonaText)
	if err != nil {
		return nil, fmt.Errorf("Submit: %w", err)
	}

	log := a.logFor(ctx, sess).With().Str("modality", string(req.Modality)).Logger()

	outcome := a.classifier.Classify(ctx, req)
	result := &Result{Outcome: outcome}
	if !outcome.IsAddTransaction() {
		log.Debug().Msg("Chat-only outcome")
		return result, nil
	}

	data := outcome.Transaction
	tx := domain.Transaction{
		ID:          a.newID(),
		Date:        a.now().UTC(),
		Description: data.Description,
		Amount:      data.Amount,
		Category:    data.Category,
		Type:        data.Type,
		OwnerID:     sess.ID,
	}

	h, err := a.coord.Apply(reconcile.Mutation{Kind: reconcile.KindAppend, Transaction: tx})
	if err != nil {
		return nil, fmt.Errorf("Submit: %w", err)
	}
	added := h.Transaction()
	result.Transaction = &added
	log.Info().Str("transaction_id", added.ID).Msg("Transaction added")

	a.pending.add(added.ID)
	taskID, err := a.runner.Go(ctx, jobs.Request{
		Name:     "insert_transaction",
		OwnerID:  h.OwnerID(),
		Category: jobs.CategoryBestEffort,
		Run: func(ctx context.Context) error {
			return a.pending.insert(added.ID, func() error {
				return a.coord.Commit(ctx, h)
			})
		},
		OnFailure: func(err error) {
			a.pending.abandon(added.ID)
			a.notes.Warn(h.OwnerID(), msgSavedLocally)
		},
	})
	if err != nil {
		a.pending.abandon(added.ID)
		log.Error().Err(err).Str("transaction_id", added.ID).Msg("Scheduling durable write failed")
		a.notes.Warn(sess.ID, msgSavedLocally)
		return result, nil
	}
	result.TaskID = taskID
	return result, nil
}

// DeleteTransaction removes id and waits for the durable delete. If that
// fails the transaction is back in the ledger when this returns. An insert
// of id that has not reached the durable store yet is cancelled.
func (a *Assistant) DeleteTransaction(ctx context.Context, id string) error {
	sess, err := a.sessions.Current()
	if err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	log := a.logFor(ctx, sess).With().Str("transaction_id", id).Logger()
	if _, ok := a.store.Get(id); !ok {
		log.Debug().Msg("Deleting a transaction that is not in the ledger")
	}

	err = a.runner.Run(ctx, jobs.Request{
		Name:     "delete_transaction",
		OwnerID:  sess.ID,
		Category: jobs.CategoryMustConfirm,
		Run: func(ctx context.Context) error {
			return a.pending.remove(id, func() error {
				return a.coord.CommitRemove(ctx, id)
			})
		},
	})
	if err != nil {
		var pe *reconcile.PersistenceError
		if errors.As(err, &pe) {
			if pe.Compensation == reconcile.RestoreRemoved {
				a.notes.Error(sess.ID, msgDeleteFailed)
			} else {
				a.notes.Error(sess.ID, msgDeleteNotSaved)
			}
		}
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	log.Info().Msg("Transaction deleted")
	return nil
}

// Import replaces the ledger with the contents of a backup. A backup that
// fails validation changes nothing.
func (a *Assistant) Import(ctx context.Context, data []byte) (int, error) {
	sess, err := a.sessions.Current()
	if err != nil {
		return 0, fmt.Errorf("Import: %w", err)
	}

	txs, err := backup.Decode(data)
	if err != nil {
		return 0, fmt.Errorf("Import: %w", err)
	}

	err = a.runner.Run(ctx, jobs.Request{
		Name:     "replace_transactions",
		OwnerID:  sess.ID,
		Category: jobs.CategoryMustConfirm,
		Run: func(ctx context.Context) error {
			return a.coord.CommitReplaceAll(ctx, txs)
		},
	})
	if err != nil {
		var pe *reconcile.PersistenceError
		if errors.As(err, &pe) {
			a.notes.Error(sess.ID, msgRestoreFailed)
		}
		return 0, fmt.Errorf("Import: %w", err)
	}

	log := a.logFor(ctx, sess)
	log.Info().Int("transactions", len(txs)).Msg("Backup restored")
	return len(txs), nil
}

// ImportFrom reads a backup from a local path or gs:// URI and imports it.
func (a *Assistant) ImportFrom(ctx context.Context, location string) (int, error) {
	data, err := a.files.Read(ctx, location)
	if err != nil {
		return 0, fmt.Errorf("ImportFrom: %w", err)
	}
	return a.Import(ctx, data)
}

// Export encodes the current ledger in the backup format.
func (a *Assistant) Export() ([]byte, error) {
	if _, err := a.sessions.Current(); err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}
	return backup.Encode(a.store.Snapshot())
}

// ExportTo writes the current ledger to a local path or gs:// URI.
func (a *Assistant) ExportTo(ctx context.Context, location string) error {
	data, err := a.Export()
	if err != nil {
		return err
	}
	if err := a.files.Write(ctx, location, data); err != nil {
		return fmt.Errorf("ExportTo: %w", err)
	}
	return nil
}

// Transactions returns the current ledger snapshot.
func (a *Assistant) Transactions() ([]domain.Transaction, error) {
	if _, err := a.sessions.Current(); err != nil {
		return nil, err
	}
	return a.store.Snapshot(), nil
}

// Settings returns the active settings.
func (a *Assistant) Settings() (domain.Settings, error) {
	if _, err := a.sessions.Current(); err != nil {
		return domain.Settings{}, err
	}
	return a.sessions.Settings(), nil
}

// UpdateSettings applies s at once and saves it in the background.
func (a *Assistant) UpdateSettings(ctx context.Context, s domain.Settings) (domain.Settings, string, error) {
	sess, err := a.sessions.Current()
	if err != nil {
		return domain.Settings{}, "", fmt.Errorf("UpdateSettings: %w", err)
	}
	applied, err := a.sessions.SetSettings(s)
	if err != nil {
		return domain.Settings{}, "", fmt.Errorf("UpdateSettings: %w", err)
	}

	taskID, err := a.runner.Go(ctx, jobs.Request{
		Name:     "save_settings",
		OwnerID:  sess.ID,
		Category: jobs.CategoryBestEffort,
		Run: func(ctx context.Context) error {
			return a.sessions.SaveSettings(ctx, sess.ID, applied)
		},
		OnFailure: func(err error) {
			a.notes.Warn(sess.ID, msgSettingsNotSaved)
		},
	})
	if err != nil {
		log := a.logFor(ctx, sess)
		log.Error().Err(err).Msg("Scheduling settings save failed")
		a.notes.Warn(sess.ID, msgSettingsNotSaved)
		return applied, "", nil
	}
	return applied, taskID, nil
}

// Notifications lists the active owner's notifications.
func (a *Assistant) Notifications() ([]notify.Notification, error) {
	sess, err := a.sessions.Current()
	if err != nil {
		return nil, err
	}
	return a.notes.List(sess.ID), nil
}

// Dismiss removes one notification of the active owner.
func (a *Assistant) Dismiss(id string) (bool, error) {
	sess, err := a.sessions.Current()
	if err != nil {
		return false, err
	}
	return a.notes.Dismiss(sess.ID, id), nil
}
