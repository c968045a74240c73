package store

import (
	"context"
	"sync"
	"time"

	"bitespeed/internal/models"
)

var _ ContactStore = (*Memory)(nil)

// Memory is an in-process ContactStore. A single lock is held for the
// duration of each transaction; writes are staged on a copy and only
// published when fn succeeds.
type Memory struct {
	mu       sync.Mutex
	contacts map[int64]models.Contact
	nextID   int64
	now      func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the timestamp source used for created/updated times.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		contacts: make(map[int64]models.Contact),
		nextID:   1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) RunInTx(ctx context.Context, fn func(tx ContactTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		contacts: make(map[int64]models.Contact, len(m.contacts)),
		nextID:   m.nextID,
		now:      m.now,
	}
	for id, c := range m.contacts {
		tx.contacts[id] = c
	}

	if err := fn(tx); err != nil {
		return err
	}
	m.contacts = tx.contacts
	m.nextID = tx.nextID
	return nil
}

// Insert stores c as-is, assigning an id when c.ID is zero. It is meant for
// seeding fixtures, including soft-deleted rows.
func (m *Memory) Insert(c models.Contact) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.nextID
	}
	if c.ID >= m.nextID {
		m.nextID = c.ID + 1
	}
	m.contacts[c.ID] = c
	return c.ID
}

// Get returns a copy of the stored contact, deleted or not.
func (m *Memory) Get(id int64) (models.Contact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	return c, ok
}

// Len counts all stored contacts, including soft-deleted ones.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contacts)
}

type memoryTx struct {
	contacts map[int64]models.Contact
	nextID   int64
	now      func() time.Time
}

func (tx *memoryTx) LockKeys(ctx context.Context, keys ...string) error {
	// the store-wide lock already serialises every transaction
	return ctx.Err()
}

func (tx *memoryTx) FindMatching(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	if email == nil && phone == nil {
		return nil, nil
	}
	return tx.filter(func(c *models.Contact) bool {
		if email != nil && c.Email != nil && *c.Email == *email {
			return true
		}
		return phone != nil && c.PhoneNumber != nil && *c.PhoneNumber == *phone
	}), nil
}

func (tx *memoryTx) FindClusters(ctx context.Context, rootIDs []int64) ([]*models.Contact, error) {
	roots := make(map[int64]struct{}, len(rootIDs))
	for _, id := range rootIDs {
		roots[id] = struct{}{}
	}
	return tx.filter(func(c *models.Contact) bool {
		if _, ok := roots[c.ID]; ok {
			return true
		}
		if c.LinkedID == nil {
			return false
		}
		_, ok := roots[*c.LinkedID]
		return ok
	}), nil
}

func (tx *memoryTx) FindCluster(ctx context.Context, primaryID int64) ([]*models.Contact, error) {
	return tx.filter(func(c *models.Contact) bool {
		return c.ID == primaryID || (c.LinkedID != nil && *c.LinkedID == primaryID)
	}), nil
}

func (tx *memoryTx) Create(ctx context.Context, c *models.Contact) error {
	now := tx.now().UTC()
	c.ID = tx.nextID
	c.CreatedAt = now
	c.UpdatedAt = now
	tx.nextID++
	tx.contacts[c.ID] = *clone(c)
	return nil
}

func (tx *memoryTx) Demote(ctx context.Context, id, primaryID int64) error {
	c, ok := tx.contacts[id]
	if !ok || c.DeletedAt != nil {
		return nil
	}
	linked := primaryID
	c.LinkPrecedence = models.LinkPrecedenceSecondary
	c.LinkedID = &linked
	c.UpdatedAt = tx.now().UTC()
	tx.contacts[id] = c
	return nil
}

func (tx *memoryTx) Relink(ctx context.Context, fromID, toID int64) error {
	now := tx.now().UTC()
	for id, c := range tx.contacts {
		if c.DeletedAt != nil || c.LinkedID == nil || *c.LinkedID != fromID {
			continue
		}
		linked := toID
		c.LinkedID = &linked
		c.UpdatedAt = now
		tx.contacts[id] = c
	}
	return nil
}

func (tx *memoryTx) filter(keep func(c *models.Contact) bool) []*models.Contact {
	var out []*models.Contact
	for _, c := range tx.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if keep(&c) {
			out = append(out, clone(&c))
		}
	}
	// map iteration order is random; keep reads deterministic
	SortBySeniority(out)
	return out
}

func clone(c *models.Contact) *models.Contact {
	cp := *c
	if c.Email != nil {
		e := *c.Email
		cp.Email = &e
	}
	if c.PhoneNumber != nil {
		p := *c.PhoneNumber
		cp.PhoneNumber = &p
	}
	if c.LinkedID != nil {
		l := *c.LinkedID
		cp.LinkedID = &l
	}
	if c.DeletedAt != nil {
		d := *c.DeletedAt
		cp.DeletedAt = &d
	}
	return &cp
}
