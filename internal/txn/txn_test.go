package txn

import (
	"errors"
	"testing"

	"github.com/VochanecA/TextDBX/internal/record"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	data map[string]record.Collection
	fail map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string]record.Collection), fail: make(map[string]bool)}
}

func (b *fakeBackend) Load(collection string) (record.Collection, error) {
	return record.CloneCollection(b.data[collection]), nil
}

func (b *fakeBackend) Save(collection string, records record.Collection) error {
	if b.fail[collection] {
		return errors.New("simulated write failure")
	}
	b.data[collection] = record.CloneCollection(records)
	return nil
}

func insertOp(collection string, rec record.Record) Operation {
	return func(backend Backend) error {
		current, err := backend.Load(collection)
		if err != nil {
			return err
		}
		return backend.Save(collection, append(current, rec))
	}
}

func TestCommitAppliesAllOperations(t *testing.T) {
	backend := newFakeBackend()
	m := New()

	id := m.Begin()
	require.NoError(t, m.Enqueue(id, "a", backend, insertOp("a", record.Record{"id": float64(9)})))
	require.NoError(t, m.Enqueue(id, "b", backend, insertOp("b", record.Record{"id": float64(9)})))

	require.NoError(t, m.Commit(id, backend))

	require.Len(t, backend.data["a"], 1)
	require.Len(t, backend.data["b"], 1)
	require.False(t, m.Active(id))
}

func TestRollbackRestoresPreImageForAllTouchedCollections(t *testing.T) {
	backend := newFakeBackend()
	backend.data["a"] = record.Collection{{"seed": "a"}}
	backend.data["b"] = record.Collection{{"seed": "b"}}
	m := New()

	id := m.Begin()
	require.NoError(t, m.Enqueue(id, "a", backend, insertOp("a", record.Record{"id": float64(9)})))
	require.NoError(t, m.Enqueue(id, "b", backend, insertOp("b", record.Record{"id": float64(9)})))

	require.NoError(t, m.Rollback(id, backend))

	require.Equal(t, record.Collection{{"seed": "a"}}, backend.data["a"])
	require.Equal(t, record.Collection{{"seed": "b"}}, backend.data["b"])
}

func TestCommitFailurePartwayRollsBack(t *testing.T) {
	backend := newFakeBackend()
	backend.data["a"] = record.Collection{{"seed": "a"}}
	backend.fail["b"] = true
	m := New()

	id := m.Begin()
	require.NoError(t, m.Enqueue(id, "a", backend, insertOp("a", record.Record{"id": float64(9)})))
	require.NoError(t, m.Enqueue(id, "b", backend, insertOp("b", record.Record{"id": float64(9)})))

	err := m.Commit(id, backend)
	require.Error(t, err)
	require.Equal(t, record.Collection{{"seed": "a"}}, backend.data["a"], "rollback must undo the first operation too")
}

func TestEnqueueUnknownTransactionFails(t *testing.T) {
	backend := newFakeBackend()
	m := New()
	err := m.Enqueue("no-such-id", "a", backend, insertOp("a", record.Record{}))
	require.Error(t, err)
}

func TestCommitUnknownTransactionFails(t *testing.T) {
	backend := newFakeBackend()
	m := New()
	err := m.Commit("no-such-id", backend)
	require.Error(t, err)
}
