// Package local stores each owner's ledger and settings as JSON files in a
// directory. It is used when no durable backend is configured.
package local

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/storage"
	"github.com/rs/zerolog"
)

const (
	transactionsFile = "transactions.json"
	settingsFile     = "settings.json"
)

// Repository keeps one subdirectory per owner. Unreadable or corrupt files
// read as the empty default.
type Repository struct {
	dir string
	log zerolog.Logger
	mu  sync.Mutex
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates dir if needed.
func NewRepository(dir string, log zerolog.Logger) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("NewRepository: creating %s: %w", dir, err)
	}
	return &Repository{dir: dir, log: log}, nil
}

// ErrEmptyOwner is returned for operations without an owner id.
var ErrEmptyOwner = errors.New("local: owner id is empty")

// ownerDirName encodes ownerID into a single path element. The base64url
// alphabet has no '.' or a path separator, so no owner can name "." or "..".
func ownerDirName(ownerID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(ownerID))
}

func (r *Repository) ownerPath(ownerID, name string) string {
	return filepath.Join(r.dir, ownerDirName(ownerID), name)
}

func (r *Repository) ListTransactions(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("ListTransactions: %w", ErrEmptyOwner)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readTransactions(ownerID), nil
}

func (r *Repository) InsertTransaction(ctx context.Context, ownerID string, tx domain.Transaction) error {
	return r.InsertTransactions(ctx, ownerID, []domain.Transaction{tx})
}

func (r *Repository) InsertTransactions(ctx context.Context, ownerID string, txs []domain.Transaction) error {
	if ownerID == "" {
		return fmt.Errorf("InsertTransactions: %w", ErrEmptyOwner)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.readTransactions(ownerID)
	seen := make(map[string]bool, len(current))
	for _, tx := range current {
		seen[tx.ID] = true
	}
	for _, tx := range txs {
		if seen[tx.ID] {
			continue
		}
		seen[tx.ID] = true
		tx.OwnerID = ownerID
		current = append(current, tx)
	}
	if err := r.write(ownerID, transactionsFile, current); err != nil {
		return fmt.Errorf("InsertTransactions: %w", err)
	}
	return nil
}

func (r *Repository) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return fmt.Errorf("DeleteTransaction: %w", ErrEmptyOwner)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.readTransactions(ownerID)
	kept := current[:0]
	for _, tx := range current {
		if tx.ID != id {
			kept = append(kept, tx)
		}
	}
	if err := r.write(ownerID, transactionsFile, kept); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	return nil
}

func (r *Repository) DeleteAllTransactions(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("DeleteAllTransactions: %w", ErrEmptyOwner)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.write(ownerID, transactionsFile, []domain.Transaction{}); err != nil {
		return fmt.Errorf("DeleteAllTransactions: %w", err)
	}
	return nil
}

func (r *Repository) GetSettings(ctx context.Context, ownerID string) (domain.Settings, error) {
	if ownerID == "" {
		return domain.DefaultSettings(), fmt.Errorf("GetSettings: %w", ErrEmptyOwner)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var s domain.Settings
	ok := r.read(ownerID, settingsFile, &s)
	if !ok {
		return domain.DefaultSettings(), storage.ErrNotFound
	}
	return s.Normalized(), nil
}

func (r *Repository) PutSettings(ctx context.Context, ownerID string, s domain.Settings) error {
	if ownerID == "" {
		return fmt.Errorf("PutSettings: %w", ErrEmptyOwner)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.write(ownerID, settingsFile, s); err != nil {
		return fmt.Errorf("PutSettings: %w", err)
	}
	return nil
}

func (r *Repository) Close() error { return nil }

func (r *Repository) readTransactions(ownerID string) []domain.Transaction {
	var txs []domain.Transaction
	if !r.read(ownerID, transactionsFile, &txs) {
		return []domain.Transaction{}
	}
	return txs
}

// read decodes a file into v. It reports false for a missing or corrupt file.
func (r *Repository) read(ownerID, name string, v any) bool {
	path := r.ownerPath(ownerID, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err != nil {
		r.log.Warn().Err(err).Str("owner_id", ownerID).Str("path", path).Msg("Reading local store failed, using empty default")
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		r.log.Warn().Err(err).Str("owner_id", ownerID).Str("path", path).Msg("Local store is corrupt, using empty default")
		return false
	}
	return true
}

// write replaces a file atomically via a temp file and rename.
func (r *Repository) write(ownerID, name string, v any) error {
	path := r.ownerPath(ownerID, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating owner dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), name+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
