// Package txn implements the transaction manager: per-transaction
// pending-operation lists, per-collection pre-image snapshots, and
// commit/rollback semantics.
package txn

import (
	"sync"

	"github.com/google/uuid"

	"github.com/VochanecA/TextDBX/internal/errs"
	"github.com/VochanecA/TextDBX/internal/record"
)

// Status is a transaction's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled-back"
)

// Backend is the storage surface a transaction replays operations
// against. The engine implements it so this package has no dependency on
// the engine, cache, or gate.
type Backend interface {
	Load(collection string) (record.Collection, error)
	Save(collection string, records record.Collection) error
}

// Operation is one pending mutation, closed over its arguments, applied
// against a Backend at commit time.
type Operation func(Backend) error

type opEntry struct {
	collection string
	op         Operation
}

// Transaction is a transient entity: an id, its ordered pending
// operations, and the pre-image snapshot of every collection it has
// touched.
type Transaction struct {
	ID      string
	Status  Status
	ops     []opEntry
	backups map[string]record.Collection
}

// Manager tracks all active transactions for one engine instance.
type Manager struct {
	mu   sync.Mutex
	txns map[string]*Transaction
}

// New builds an empty transaction manager.
func New() *Manager {
	return &Manager{txns: make(map[string]*Transaction)}
}

// Begin allocates a fresh transaction identifier and returns it.
func (m *Manager) Begin() string {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns[id] = &Transaction{ID: id, Status: StatusPending, backups: make(map[string]record.Collection)}
	return id
}

// Enqueue records op as a pending mutation against collection within txnID.
// Before the first operation against a collection is recorded, the
// collection's current on-disk state is snapshotted into the
// transaction's backup map via backend.
func (m *Manager) Enqueue(txnID, collection string, backend Backend, op Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txns[txnID]
	if !ok {
		return errs.New(errs.KindTransaction, "unknown transaction "+txnID)
	}
	if t.Status != StatusPending {
		return errs.New(errs.KindTransaction, "transaction "+txnID+" is not pending")
	}

	if _, snapshotted := t.backups[collection]; !snapshotted {
		current, err := backend.Load(collection)
		if err != nil {
			return errs.Wrap(errs.KindTransaction, "snapshot collection "+collection, err)
		}
		t.backups[collection] = record.CloneCollection(current)
	}

	t.ops = append(t.ops, opEntry{collection: collection, op: op})
	return nil
}

// Commit replays every pending operation in order against backend. On
// success the transaction is cleared. On failure partway through, every
// snapshotted collection is restored (rollback) before the original error
// is surfaced as a transaction error.
func (m *Manager) Commit(txnID string, backend Backend) error {
	m.mu.Lock()
	t, ok := m.txns[txnID]
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.KindTransaction, "unknown transaction "+txnID)
	}
	if t.Status != StatusPending {
		return errs.New(errs.KindTransaction, "transaction "+txnID+" is not pending")
	}

	for _, entry := range t.ops {
		if err := entry.op(backend); err != nil {
			rollbackErr := m.restoreSnapshots(t, backend)
			m.clear(txnID)
			if rollbackErr != nil {
				return errs.Wrap(errs.KindTransaction, "commit failed and rollback also failed", err)
			}
			return errs.Wrap(errs.KindTransaction, "commit failed, rolled back", err)
		}
	}

	m.mu.Lock()
	t.Status = StatusCommitted
	m.mu.Unlock()
	m.clear(txnID)
	return nil
}

// Rollback restores every snapshotted collection's pre-image and clears
// the transaction.
func (m *Manager) Rollback(txnID string, backend Backend) error {
	m.mu.Lock()
	t, ok := m.txns[txnID]
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.KindTransaction, "unknown transaction "+txnID)
	}

	if err := m.restoreSnapshots(t, backend); err != nil {
		return errs.Wrap(errs.KindTransaction, "rollback failed", err)
	}

	m.mu.Lock()
	t.Status = StatusRolledBack
	m.mu.Unlock()
	m.clear(txnID)
	return nil
}

func (m *Manager) restoreSnapshots(t *Transaction, backend Backend) error {
	var firstErr error
	for collection, snapshot := range t.backups {
		if err := backend.Save(collection, snapshot); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) clear(txnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txns, txnID)
}

// Active reports whether txnID still refers to a pending transaction.
func (m *Manager) Active(txnID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[txnID]
	return ok && t.Status == StatusPending
}

// Len reports the number of currently pending transactions, for
// operational visibility.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txns)
}
