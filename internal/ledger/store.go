// Package ledger holds the in-memory, authoritative ledger of the active session.
//
// Mutations are optimistic: they are visible to readers immediately, before
// and independent of any durable write.
package ledger

import (
	"sync"

	"github.com/dvloznov/finance-assistant/internal/domain"
)

// Removal is the handle returned by Remove. It carries what is needed to put
// the transaction back where it was.
type Removal struct {
	Transaction domain.Transaction
	Position    int
}

// Store is an insertion-ordered collection of transactions, unique by ID.
// It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	txs  []domain.Transaction
	subs map[int]func([]domain.Transaction)
	next int
}

// NewStore creates an empty ledger.
func NewStore() *Store {
	return &Store{subs: make(map[int]func([]domain.Transaction))}
}

// Append adds tx at the end of the ledger. It reports false, and leaves the
// ledger untouched, when a transaction with the same ID is already present.
func (s *Store) Append(tx domain.Transaction) bool {
	s.mu.Lock()
	if s.indexLocked(tx.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.txs = append(s.txs, tx)
	snap := s.copyLocked()
	s.mu.Unlock()

	s.publish(snap)
	return true
}

// Remove deletes the transaction with the given ID. The second result is
// false when no such transaction exists, in which case nothing changes.
func (s *Store) Remove(id string) (Removal, bool) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return Removal{}, false
	}
	removed := Removal{Transaction: s.txs[i], Position: i}
	s.txs = append(s.txs[:i:i], s.txs[i+1:]...)
	snap := s.copyLocked()
	s.mu.Unlock()

	s.publish(snap)
	return removed, true
}

// Restore puts a removed transaction back at its former position, clamped to
// the current length. It is a no-op if the ID has reappeared meanwhile.
func (s *Store) Restore(r Removal) bool {
	s.mu.Lock()
	if s.indexLocked(r.Transaction.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	pos := r.Position
	if pos < 0 {
		pos = 0
	}
	if pos > len(s.txs) {
		pos = len(s.txs)
	}
	s.txs = append(s.txs, domain.Transaction{})
	copy(s.txs[pos+1:], s.txs[pos:])
	s.txs[pos] = r.Transaction
	snap := s.copyLocked()
	s.mu.Unlock()

	s.publish(snap)
	return true
}

// ReplaceAll swaps the entire ledger in one step. Later duplicates of an ID
// are dropped so the uniqueness invariant holds.
func (s *Store) ReplaceAll(txs []domain.Transaction) {
	next := make([]domain.Transaction, 0, len(txs))
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if seen[tx.ID] {
			continue
		}
		seen[tx.ID] = true
		next = append(next, tx)
	}

	s.mu.Lock()
	s.txs = next
	snap := s.copyLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// Reset empties the ledger, e.g. on sign-out.
func (s *Store) Reset() {
	s.ReplaceAll(nil)
}

// Snapshot returns a copy of the current ledger in insertion order. The
// result may include mutations whose durable write has not completed.
func (s *Store) Snapshot() []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Get returns the transaction with the given ID.
func (s *Store) Get(id string) (domain.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.txs[i], true
	}
	return domain.Transaction{}, false
}

// Len returns the number of transactions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}

// Subscribe registers fn to receive a snapshot after every mutation. The
// returned func unregisters it.
func (s *Store) Subscribe(fn func([]domain.Transaction)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) publish(snap []domain.Transaction) {
	s.mu.RLock()
	fns := make([]func([]domain.Transaction), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) indexLocked(id string) int {
	for i := range s.txs {
		if s.txs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) copyLocked() []domain.Transaction {
	out := make([]domain.Transaction, len(s.txs))
	copy(out, s.txs)
	return out
}
