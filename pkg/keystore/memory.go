package keystore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/systmms/keyrot/internal/logging"
)

// Operation names a Store method, for error injection and call records
type Operation string

const (
	OpList   Operation = "list"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Call records one invocation of a MemoryStore method
type Call struct {
	Op        Operation
	Principal string
	KeyID     string
	Status    Status
}

// MemoryStore is an in-process Store that applies every mutation
type MemoryStore struct {
	mu    sync.Mutex
	keys  map[string][]AccessKey
	calls []Call
	fail  map[Operation]error
	seq   int
	last  time.Time

	// Now supplies creation timestamps. Successive keys always get strictly
	// increasing times even if Now stands still.
	Now func() time.Time

	// ListLag hides a newly created key from the next ListLag calls to
	// ListKeys, imitating an eventually consistent backend.
	ListLag int
	hidden  map[string]int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:   make(map[string][]AccessKey),
		fail:   make(map[Operation]error),
		hidden: make(map[string]int),
		Now:    time.Now,
	}
}

// Seed replaces the principal's keys
func (m *MemoryStore) Seed(principal string, keys ...AccessKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[principal] = append([]AccessKey(nil), keys...)
	for _, k := range keys {
		if k.CreatedAt.After(m.last) {
			m.last = k.CreatedAt
		}
	}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (m *MemoryStore) FailOn(op Operation, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// Keys returns the principal's keys, newest first, ignoring ListLag
func (m *MemoryStore) Keys(principal string) []AccessKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := append([]AccessKey(nil), m.keys[principal]...)
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys
}

// Calls returns every recorded call in order
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Mutations returns the recorded create, update and delete calls
func (m *MemoryStore) Mutations() []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op != OpList {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call record
func (m *MemoryStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MemoryStore) ListKeys(ctx context.Context, principal string) ([]AccessKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpList, Principal: principal})
	if err := m.fail[OpList]; err != nil {
		return nil, err
	}

	var keys []AccessKey
	for _, k := range m.keys[principal] {
		if n := m.hidden[k.ID]; n > 0 {
			m.hidden[k.ID] = n - 1
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryStore) CreateKey(ctx context.Context, principal string) (*NewAccessKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpCreate, Principal: principal})
	if err := m.fail[OpCreate]; err != nil {
		return nil, err
	}

	m.seq++
	created := m.Now()
	if !created.After(m.last) {
		created = m.last.Add(time.Second)
	}
	m.last = created

	key := AccessKey{
		ID:        fmt.Sprintf("AKIAMEMORY%010d", m.seq),
		CreatedAt: created,
		Status:    StatusActive,
	}
	m.keys[principal] = append(m.keys[principal], key)
	if m.ListLag > 0 {
		m.hidden[key.ID] = m.ListLag
	}
	m.calls[len(m.calls)-1].KeyID = key.ID

	return &NewAccessKey{
		AccessKey: key,
		Secret:    logging.Secret(fmt.Sprintf("memory-secret-%d", m.seq)),
	}, nil
}

func (m *MemoryStore) UpdateKeyStatus(ctx context.Context, principal, keyID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpUpdate, Principal: principal, KeyID: keyID, Status: status})
	if err := m.fail[OpUpdate]; err != nil {
		return err
	}

	for i, k := range m.keys[principal] {
		if k.ID == keyID {
			m.keys[principal][i].Status = status
			return nil
		}
	}
	return fmt.Errorf("update %s for %s: %w", keyID, principal, ErrNotFound)
}

func (m *MemoryStore) DeleteKey(ctx context.Context, principal, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpDelete, Principal: principal, KeyID: keyID})
	if err := m.fail[OpDelete]; err != nil {
		return err
	}

	keys := m.keys[principal]
	for i, k := range keys {
		if k.ID == keyID {
			m.keys[principal] = append(keys[:i:i], keys[i+1:]...)
			delete(m.hidden, keyID)
			return nil
		}
	}
	return fmt.Errorf("delete %s for %s: %w", keyID, principal, ErrNotFound)
}

var _ Store = (*MemoryStore)(nil)
