package wire

import "sync"

// Directory holds the fixed entities that can receive wires. Any
// destination not registered here is treated as a user id.
type Directory struct {
	mu       sync.RWMutex
	entities map[string]*Recipient
}

func NewDirectory() *Directory {
	return &Directory{entities: make(map[string]*Recipient)}
}

// Register adds or replaces an entity keyed by its identifier.
func (d *Directory) Register(r *Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entities[r.Identifier()] = r
}

// Entity returns the registered entity with id.
func (d *Directory) Entity(id string) (*Recipient, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.entities[id]
	return r, ok
}

// Resolve returns the entity registered as id, or a user recipient.
func (d *Directory) Resolve(l Ledger, id string) *Recipient {
	if r, ok := d.Entity(id); ok {
		return r
	}
	return UserRecipient(l, id, "")
}
