package assistant

import "sync"

// pendingInserts orders best-effort inserts against deletes of the same
// transaction. A delete that commits while the insert is still queued or
// retrying cancels the insert, so the record cannot land in the durable
// store after it was deleted there.
//
// mu is held across each durable write it guards. Writes from one session
// are serialized, which is fine for a single signed-in user.
type pendingInserts struct {
	mu        sync.Mutex
	cancelled map[string]bool // pending insert id -> cancelled by a delete
}

func newPendingInserts() *pendingInserts {
	return &pendingInserts{cancelled: make(map[string]bool)}
}

func (p *pendingInserts) add(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled[id] = false
}

// insert runs one attempt of the durable insert of id. A cancelled insert
// is dropped and reported as done.
func (p *pendingInserts) insert(id string, write func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancelled[id] {
		delete(p.cancelled, id)
		return nil
	}
	if err := write(); err != nil {
		return err
	}
	delete(p.cancelled, id)
	return nil
}

// abandon forgets id once its insert has given up.
func (p *pendingInserts) abandon(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancelled, id)
}

// remove runs the durable delete of id and cancels a pending insert of it.
// If the delete fails the insert goes ahead as before.
func (p *pendingInserts) remove(id string, write func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, pending := p.cancelled[id]
	if pending {
		p.cancelled[id] = true
	}
	err := write()
	if err != nil && pending {
		p.cancelled[id] = false
	}
	return err
}
