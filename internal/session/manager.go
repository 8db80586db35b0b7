// Package session holds the identity and settings of the signed-in user.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/storage"
	"github.com/rs/zerolog"
)

// ErrNoSession is returned while nobody is signed in.
var ErrNoSession = errors.New("session: no active session")

// Manager owns the active session. The ledger is reset whenever the session
// begins or ends so it never carries another owner's records. While Begin
// is loading, nobody is signed in: Current returns ErrNoSession so no
// mutation can land in a ledger that is about to be replaced.
type Manager struct {
	mu       sync.RWMutex
	current  *domain.Session
	settings domain.Settings
	// gen changes on every Begin and End; a load only installs its result
	// if gen is unchanged.
	gen uint64

	store *ledger.Store
	repo  storage.Repository
	log   zerolog.Logger
}

func NewManager(store *ledger.Store, repo storage.Repository, log zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		repo:     repo,
		settings: domain.DefaultSettings(),
		log:      log,
	}
}

// Begin signs the previous user out, loads sess's ledger and settings and
// then signs sess in. If the ledger cannot be loaded nobody is signed in
// and the error is returned. Settings fall back to defaults.
func (m *Manager) Begin(ctx context.Context, sess domain.Session) error {
	if !sess.Valid() {
		return fmt.Errorf("Begin: session has no owner id")
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.current = nil
	m.settings = domain.DefaultSettings()
	m.store.Reset()
	m.mu.Unlock()

	log := logger.WithSession(m.log, sess)

	txs, err := m.repo.ListTransactions(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("Begin: loading transactions: %w", err)
	}

	settings, err := m.repo.GetSettings(ctx, sess.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		settings = domain.DefaultSettings()
	case err != nil:
		log.Warn().Err(err).Msg("Loading settings failed, using defaults")
		settings = domain.DefaultSettings()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		// Another Begin or End won the race.
		return fmt.Errorf("Begin: session for %s was replaced while loading", sess.ID)
	}
	m.store.ReplaceAll(txs)
	s := sess
	m.current = &s
	m.settings = settings.Normalized()

	log.Info().Int("transactions", len(txs)).Msg("Session started")
	return nil
}

// End signs out and clears the ledger.
func (m *Manager) End() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	if m.current != nil {
		log := logger.WithSession(m.log, *m.current)
		log.Info().Msg("Session ended")
	}
	m.current = nil
	m.settings = domain.DefaultSettings()
	m.store.Reset()
}

// Current returns the active session or ErrNoSession.
func (m *Manager) Current() (domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return domain.Session{}, ErrNoSession
	}
	return *m.current, nil
}

// Active reports whether someone is signed in.
func (m *Manager) Active() bool {
	_, err := m.Current()
	return err == nil
}

// Authorize reports whether token matches the active session's credential.
// A session begun without a credential accepts any token.
func (m *Manager) Authorize(token string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return false
	}
	if m.current.Credential == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.current.Credential)) == 1
}

// Settings returns the active session's settings.
func (m *Manager) Settings() domain.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// SetSettings updates the settings in memory only.
func (m *Manager) SetSettings(s domain.Settings) (domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.Settings{}, ErrNoSession
	}
	m.settings = s.Normalized()
	return m.settings, nil
}

// SaveSettings writes s durably for ownerID.
func (m *Manager) SaveSettings(ctx context.Context, ownerID string, s domain.Settings) error {
	if err := m.repo.PutSettings(ctx, ownerID, s); err != nil {
		return fmt.Errorf("SaveSettings: %w", err)
	}
	return nil
}
