package engine

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/VochanecA/TextDBX/internal/aggregate"
	"github.com/VochanecA/TextDBX/internal/config"
	"github.com/VochanecA/TextDBX/internal/errs"
	"github.com/VochanecA/TextDBX/internal/query"
	"github.com/VochanecA/TextDBX/internal/record"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newEngine(t *testing.T, mutate func(*config.Config)) (*Engine, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	cfg := &config.Config{
		Database:       "/db",
		EncryptionKey:  "a-very-long-passphrase-value-ok",
		Mode:           "plain",
		Role:           "admin",
		MaxCacheSize:   config.DefaultMaxCacheSize,
		MaxConnections: config.DefaultMaxConnections,
		QueryTimeoutMS: config.DefaultQueryTimeoutMS,
	}
	if mutate != nil {
		mutate(cfg)
	}
	e, err := New(cfg, fs, testLogger())
	require.NoError(t, err)
	return e, fs
}

// S1 encrypted round-trip.
func TestScenarioEncryptedRoundTrip(t *testing.T) {
	e, fs := newEngine(t, func(c *config.Config) { c.Mode = "encrypted" })

	require.NoError(t, e.Insert("people", record.Record{"id": float64(1), "name": "Alice"}))
	require.NoError(t, e.Insert("people", record.Record{"id": float64(2), "name": "Bob"}))

	cfg := &config.Config{
		Database: "/db", EncryptionKey: "a-very-long-passphrase-value-ok", Mode: "encrypted", Role: "admin",
		MaxCacheSize: config.DefaultMaxCacheSize, MaxConnections: config.DefaultMaxConnections, QueryTimeoutMS: config.DefaultQueryTimeoutMS,
	}
	reopened, err := New(cfg, fs, testLogger())
	require.NoError(t, err)

	result, err := reopened.Query("people", query.Options{Filter: map[string]interface{}{"id": float64(2)}})
	require.NoError(t, err)
	require.Equal(t, record.Collection{{"id": float64(2), "name": "Bob"}}, result)
}

// S2 filter combinators.
func TestScenarioFilterCombinators(t *testing.T) {
	e, _ := newEngine(t, nil)
	require.NoError(t, e.Insert("c", record.Record{"a": float64(1), "b": "x"}))
	require.NoError(t, e.Insert("c", record.Record{"a": float64(2), "b": "y"}))
	require.NoError(t, e.Insert("c", record.Record{"a": float64(3), "b": "x"}))

	result, err := e.Query("c", query.Options{Filter: map[string]interface{}{
		"$or": []interface{}{
			map[string]interface{}{"a": map[string]interface{}{"$gt": float64(2)}},
			map[string]interface{}{"b": "y"},
		},
	}})
	require.NoError(t, err)
	require.Equal(t, record.Collection{
		{"a": float64(2), "b": "y"},
		{"a": float64(3), "b": "x"},
	}, result)
}

// S3 group + sort.
func TestScenarioGroupAndSort(t *testing.T) {
	e, _ := newEngine(t, nil)
	require.NoError(t, e.Insert("readings", record.Record{"r": "u", "s": float64(10)}))
	require.NoError(t, e.Insert("readings", record.Record{"r": "u", "s": float64(30)}))
	require.NoError(t, e.Insert("readings", record.Record{"r": "a", "s": float64(20)}))

	pipeline := []aggregate.Stage{
		{"$group": map[string]interface{}{
			"_id": map[string]interface{}{"r": "r"},
			"avg": map[string]interface{}{"$avg": "s"},
			"n":   map[string]interface{}{"$count": true},
		}},
		{"$sort": map[string]interface{}{"avg": float64(-1)}},
	}
	result, err := e.Aggregate("readings", pipeline)
	require.NoError(t, err)
	require.Equal(t, record.Collection{
		{"_id": "u", "avg": 20.0, "n": 2.0},
		{"_id": "a", "avg": 20.0, "n": 1.0},
	}, result)
}

// S4 rollback.
func TestScenarioTransactionRollback(t *testing.T) {
	e, fs := newEngine(t, nil)
	require.NoError(t, e.Insert("a", record.Record{"seed": "a"}))
	require.NoError(t, e.Insert("b", record.Record{"seed": "b"}))

	before := map[string][]byte{}
	for _, name := range []string{"a", "b"} {
		data, err := afero.ReadFile(fs, filepath.Join("/db", name+".tdbx"))
		require.NoError(t, err)
		before[name] = data
	}

	txID := e.BeginTx()
	require.NoError(t, e.TxInsert(txID, "a", record.Record{"id": float64(9)}))
	require.NoError(t, e.TxInsert(txID, "b", record.Record{"id": float64(9)}))
	require.NoError(t, e.Rollback(txID))

	for _, name := range []string{"a", "b"} {
		data, err := afero.ReadFile(fs, filepath.Join("/db", name+".tdbx"))
		require.NoError(t, err)
		require.Equal(t, before[name], data)
	}
}

// S5 corruption recovery.
func TestScenarioCorruptionRecovery(t *testing.T) {
	e, fs := newEngine(t, nil)
	require.NoError(t, e.Insert("c", record.Record{"x": float64(1)}))

	path := filepath.Join("/db", "c.tdbx")
	require.NoError(t, afero.WriteFile(fs, path, []byte("not json"), 0o644))

	result, err := e.Query("c", query.Options{})
	require.NoError(t, err)
	require.Empty(t, result)

	matches, err := afero.Glob(fs, path+".backup.*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := afero.ReadFile(fs, matches[0])
	require.NoError(t, err)
	require.Equal(t, "not json", string(data))
}

// S6 permission.
func TestScenarioReaderCannotInsert(t *testing.T) {
	e, _ := newEngine(t, func(c *config.Config) { c.Role = "reader" })

	err := e.Insert("c", record.Record{"x": float64(1)})
	require.Error(t, err)

	var engineErr *errs.Error
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, errs.KindPermission, engineErr.Kind)
	require.Equal(t, []string{"query"}, engineErr.Allowed)
}

func TestCreateAndDropCollection(t *testing.T) {
	e, _ := newEngine(t, nil)
	require.NoError(t, e.CreateCollection("empty"))
	require.Contains(t, e.List(), "empty")

	require.NoError(t, e.DropCollection("empty"))
	require.NotContains(t, e.List(), "empty")
}

func TestBuildAndDropIndex(t *testing.T) {
	e, fs := newEngine(t, nil)
	require.NoError(t, e.Insert("c", record.Record{"field": "v1"}))
	require.NoError(t, e.BuildIndex("c", "field"))
	require.Equal(t, []string{"field"}, e.Indexes("c"))

	exists, err := afero.Exists(fs, filepath.Join("/db", "c.index.field.json"))
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, e.DropIndex("c", "field"))
	require.Empty(t, e.Indexes("c"))
}

func TestAutoIndexBuildsAfterThreshold(t *testing.T) {
	e, _ := newEngine(t, nil)
	require.NoError(t, e.Insert("c", record.Record{"field": "v1"}))

	for i := 0; i < 6; i++ {
		_, err := e.Query("c", query.Options{Filter: map[string]interface{}{"field": "v1"}})
		require.NoError(t, err)
	}

	require.Equal(t, []string{"field"}, e.Indexes("c"))
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	e, fs := newEngine(t, nil)
	require.NoError(t, e.Insert("c", record.Record{"id": float64(1)}))

	backupDir, err := e.Backup(time.Now())
	require.NoError(t, err)

	require.NoError(t, e.Insert("c", record.Record{"id": float64(2)}))
	result, err := e.Query("c", query.Options{})
	require.NoError(t, err)
	require.Len(t, result, 2)

	require.NoError(t, e.Restore(backupDir))

	result, err = e.Query("c", query.Options{})
	require.NoError(t, err)
	require.Equal(t, record.Collection{{"id": float64(1)}}, result)

	_ = fs
}

func TestInvalidCollectionNameRejected(t *testing.T) {
	e, _ := newEngine(t, nil)
	err := e.Insert(".hidden", record.Record{"x": float64(1)})
	require.Error(t, err)
	var engineErr *errs.Error
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, errs.KindValidation, engineErr.Kind)
}
