// Package engine wires the crypto envelope, storage, file gate, cache,
// filter/query/aggregation pipelines, mutation operations, transaction
// manager, permission gate, and backup/restore protocol behind the single
// public surface an embedding process calls into.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/VochanecA/TextDBX/internal/aggregate"
	"github.com/VochanecA/TextDBX/internal/backup"
	"github.com/VochanecA/TextDBX/internal/cache"
	"github.com/VochanecA/TextDBX/internal/config"
	"github.com/VochanecA/TextDBX/internal/errs"
	"github.com/VochanecA/TextDBX/internal/filegate"
	"github.com/VochanecA/TextDBX/internal/filter"
	"github.com/VochanecA/TextDBX/internal/mutate"
	"github.com/VochanecA/TextDBX/internal/permission"
	"github.com/VochanecA/TextDBX/internal/query"
	"github.com/VochanecA/TextDBX/internal/record"
	"github.com/VochanecA/TextDBX/internal/storage"
	"github.com/VochanecA/TextDBX/internal/txn"
)

// Engine is one embedded database instance, bound to a single database
// directory for its whole lifetime.
type Engine struct {
	fs     afero.Fs
	dbDir  string
	mode   string
	role   string
	logger *logrus.Logger

	store *storage.Store
	gate  *filegate.Gate
	cache *cache.Cache
	txns  *txn.Manager
	perms permission.Table
	users map[string]string

	queryTimeout time.Duration

	mu      sync.Mutex // guards indexes and known collections
	indexes map[string]map[string]bool
	known   map[string]bool
}

// New builds an Engine from a validated configuration, ready to serve
// requests. It creates the database directory if absent, loads any
// existing auth/users documents, and discovers already-built indexes.
func New(cfg *config.Config, fs afero.Fs, logger *logrus.Logger) (*Engine, error) {
	if err := fs.MkdirAll(cfg.Database, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindFileWrite, "create database directory", err)
	}

	mode := storage.ModePlain
	if cfg.Mode == "encrypted" {
		mode = storage.ModeEncrypted
	}

	e := &Engine{
		fs:           fs,
		dbDir:        cfg.Database,
		mode:         cfg.Mode,
		role:         cfg.Role,
		logger:       logger,
		store:        storage.New(fs, mode, cfg.EncryptionKey, logger),
		gate:         filegate.New(int64(cfg.MaxConnections)),
		txns:         txn.New(),
		queryTimeout: time.Duration(cfg.QueryTimeoutMS) * time.Millisecond,
		indexes:      make(map[string]map[string]bool),
		known:        make(map[string]bool),
	}

	c, err := cache.New(cfg.MaxCacheSize)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "build cache", err)
	}
	e.cache = c

	if err := e.loadAuthAndUsers(); err != nil {
		return nil, err
	}
	e.discoverExisting()

	return e, nil
}

func (e *Engine) loadAuthAndUsers() error {
	authPath := filepath.Join(e.dbDir, ".auth")
	if exists, _ := afero.Exists(e.fs, authPath); exists {
		data, err := afero.ReadFile(e.fs, authPath)
		if err != nil {
			return errs.Wrap(errs.KindFileRead, "read auth document", err)
		}
		var table permission.Table
		if err := json.Unmarshal(data, &table); err != nil {
			return errs.Wrap(errs.KindDataFormat, "parse auth document", err)
		}
		e.perms = table
	} else {
		e.perms = permission.DefaultTable()
	}

	usersPath := filepath.Join(e.dbDir, ".users")
	e.users = make(map[string]string)
	if exists, _ := afero.Exists(e.fs, usersPath); exists {
		data, err := afero.ReadFile(e.fs, usersPath)
		if err != nil {
			return errs.Wrap(errs.KindFileRead, "read users document", err)
		}
		var raw map[string]struct {
			Role string `json:"role"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return errs.Wrap(errs.KindDataFormat, "parse users document", err)
		}
		for name, v := range raw {
			e.users[name] = v.Role
		}
	}
	return nil
}

func (e *Engine) discoverExisting() {
	collectionFiles, _ := afero.Glob(e.fs, filepath.Join(e.dbDir, "*.tdbx"))
	e.mu.Lock()
	for _, f := range collectionFiles {
		name := strings.TrimSuffix(filepath.Base(f), ".tdbx")
		e.known[name] = true
	}
	e.mu.Unlock()

	indexFiles, _ := afero.Glob(e.fs, filepath.Join(e.dbDir, "*.index.*.json"))
	e.mu.Lock()
	for _, f := range indexFiles {
		base := filepath.Base(f)
		parts := strings.SplitN(base, ".index.", 2)
		if len(parts) != 2 {
			continue
		}
		collection := parts[0]
		field := strings.TrimSuffix(parts[1], ".json")
		if e.indexes[collection] == nil {
			e.indexes[collection] = make(map[string]bool)
		}
		e.indexes[collection][field] = true
	}
	e.mu.Unlock()
}

func (e *Engine) checkPermission(action string) error {
	return e.perms.Check(e.role, action)
}

func (e *Engine) checkName(name string) error {
	if !record.NameValid(name) {
		return errs.New(errs.KindValidation, fmt.Sprintf("invalid collection name %q", name))
	}
	return nil
}

func (e *Engine) collectionPath(name string) string {
	return filepath.Join(e.dbDir, name+".tdbx")
}

func (e *Engine) indexPath(collection, field string) string {
	return filepath.Join(e.dbDir, collection+".index."+field+".json")
}

func (e *Engine) queryContext() (context.Context, context.CancelFunc) {
	if e.queryTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), e.queryTimeout)
}

// load returns the collection's current records, consulting the cache and
// refreshing under the gate only when the cached entry is stale.
func (e *Engine) load(collection string) (record.Collection, error) {
	path := e.collectionPath(collection)
	if cached, ok := e.cache.Get(collection, e.store.ModTime(path)); ok {
		return cached, nil
	}

	ctx, cancel := e.queryContext()
	defer cancel()

	var out record.Collection
	err := e.gate.With(ctx, path, func() error {
		if cached, ok := e.cache.Get(collection, e.store.ModTime(path)); ok {
			out = cached
			return nil
		}
		loaded, err := e.store.Load(path)
		if err != nil {
			return err
		}
		e.cache.Put(collection, loaded, e.store.ModTime(path))
		out = record.CloneCollection(loaded)
		return nil
	})
	return out, err
}

// withMutation loads the collection fresh under the gate, applies fn, and
// persists the result, refreshing the cache on success.
func (e *Engine) withMutation(collection string, fn func(record.Collection) (record.Collection, error)) error {
	path := e.collectionPath(collection)
	ctx, cancel := e.queryContext()
	defer cancel()

	return e.gate.With(ctx, path, func() error {
		current, err := e.store.Load(path)
		if err != nil {
			return err
		}
		updated, err := fn(current)
		if err != nil {
			return err
		}
		if err := e.store.Save(path, updated); err != nil {
			return err
		}
		e.cache.Put(collection, updated, e.store.ModTime(path))
		e.mu.Lock()
		e.known[collection] = true
		e.mu.Unlock()
		return nil
	})
}

// Query runs the read pipeline and opportunistically builds indexes for
// filter fields whose query counter just crossed the auto-index threshold.
func (e *Engine) Query(collection string, opts query.Options) (record.Collection, error) {
	if err := e.checkPermission(permission.ActionQuery); err != nil {
		return nil, err
	}
	if err := e.checkName(collection); err != nil {
		return nil, err
	}

	records, err := e.load(collection)
	if err != nil {
		return nil, err
	}

	result, err := query.Run(records, opts)
	if err != nil {
		return nil, err
	}

	e.recordAutoIndex(collection, filter.TopLevelFields(opts.Filter))
	return result, nil
}

func (e *Engine) recordAutoIndex(collection string, fields []string) {
	if len(fields) == 0 {
		return
	}
	crossed := e.cache.RecordQuery(collection, fields)
	for _, field := range crossed {
		e.mu.Lock()
		alreadyIndexed := e.indexes[collection] != nil && e.indexes[collection][field]
		e.mu.Unlock()
		if alreadyIndexed {
			continue
		}
		if err := e.BuildIndex(collection, field); err != nil {
			e.logger.WithFields(logrus.Fields{"collection": collection, "field": field, "kind": "auto-index"}).
				Warn("engine: opportunistic auto-index build failed")
		}
	}
}

// Aggregate runs the aggregation pipeline over a collection's records.
func (e *Engine) Aggregate(collection string, pipeline []aggregate.Stage) (record.Collection, error) {
	if err := e.checkPermission(permission.ActionQuery); err != nil {
		return nil, err
	}
	if err := e.checkName(collection); err != nil {
		return nil, err
	}

	records, err := e.load(collection)
	if err != nil {
		return nil, err
	}
	return aggregate.Run(records, pipeline)
}

// Insert appends rec to collection, creating the collection file if this
// is its first record.
func (e *Engine) Insert(collection string, rec record.Record) error {
	if err := e.checkPermission(permission.ActionInsert); err != nil {
		return err
	}
	if err := e.checkName(collection); err != nil {
		return err
	}
	return e.withMutation(collection, func(current record.Collection) (record.Collection, error) {
		return mutate.Insert(current, rec), nil
	})
}

// Update shallow-merges changes into every record matching f and returns
// the count modified.
func (e *Engine) Update(collection string, f filter.Filter, changes record.Record) (int, error) {
	if err := e.checkPermission(permission.ActionUpdate); err != nil {
		return 0, err
	}
	if err := e.checkName(collection); err != nil {
		return 0, err
	}
	var modified int
	err := e.withMutation(collection, func(current record.Collection) (record.Collection, error) {
		updated, n, err := mutate.Update(current, f, changes)
		modified = n
		return updated, err
	})
	return modified, err
}

// Delete removes every record matching f and returns the count removed.
func (e *Engine) Delete(collection string, f filter.Filter) (int, error) {
	if err := e.checkPermission(permission.ActionDelete); err != nil {
		return 0, err
	}
	if err := e.checkName(collection); err != nil {
		return 0, err
	}
	var removed int
	err := e.withMutation(collection, func(current record.Collection) (record.Collection, error) {
		updated, n, err := mutate.Delete(current, f)
		removed = n
		return updated, err
	})
	return removed, err
}

// CreateCollection materializes an empty collection file if one does not
// already exist.
func (e *Engine) CreateCollection(name string) error {
	if err := e.checkPermission(permission.ActionCreateCollection); err != nil {
		return err
	}
	if err := e.checkName(name); err != nil {
		return err
	}
	return e.withMutation(name, func(current record.Collection) (record.Collection, error) {
		if current == nil {
			return record.Collection{}, nil
		}
		return current, nil
	})
}

// DropCollection removes a collection's file, cache entry, in-memory and
// on-disk indexes, and query-pattern counters.
func (e *Engine) DropCollection(name string) error {
	if err := e.checkPermission(permission.ActionDropCollection); err != nil {
		return err
	}
	if err := e.checkName(name); err != nil {
		return err
	}

	path := e.collectionPath(name)
	ctx, cancel := e.queryContext()
	defer cancel()

	err := e.gate.With(ctx, path, func() error {
		exists, err := afero.Exists(e.fs, path)
		if err != nil {
			return errs.Wrap(errs.KindFileRead, "stat collection file", err)
		}
		if exists {
			if err := e.fs.Remove(path); err != nil {
				return errs.Wrap(errs.KindFileWrite, "remove collection file", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.cache.Invalidate(name)
	e.gate.Forget(path)

	e.mu.Lock()
	delete(e.known, name)
	fields := e.indexes[name]
	delete(e.indexes, name)
	e.mu.Unlock()

	for field := range fields {
		_ = e.fs.Remove(e.indexPath(name, field))
	}
	return nil
}

// BuildIndex streams the collection once and persists a position index for
// field. The index is advisory: the filter evaluator never consults it.
func (e *Engine) BuildIndex(collection, field string) error {
	if err := e.checkPermission(permission.ActionIndex); err != nil {
		return err
	}
	if err := e.checkName(collection); err != nil {
		return err
	}

	path := e.indexPath(collection, field)
	ctx, cancel := e.queryContext()
	defer cancel()

	err := e.gate.With(ctx, path, func() error {
		records, err := e.store.Load(e.collectionPath(collection))
		if err != nil {
			return err
		}
		idx := mutate.BuildIndex(records, field)
		data, err := json.MarshalIndent(idx, "", "  ")
		if err != nil {
			return errs.Wrap(errs.KindFileWrite, "marshal index", err)
		}
		if err := afero.WriteFile(e.fs, path, data, 0o644); err != nil {
			return errs.Wrap(errs.KindFileWrite, "write index file", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.indexes[collection] == nil {
		e.indexes[collection] = make(map[string]bool)
	}
	e.indexes[collection][field] = true
	e.mu.Unlock()

	e.cache.ResetCounter(collection, field)
	return nil
}

// DropIndex removes an index's in-memory and on-disk artifacts.
func (e *Engine) DropIndex(collection, field string) error {
	if err := e.checkPermission(permission.ActionIndex); err != nil {
		return err
	}
	if err := e.checkName(collection); err != nil {
		return err
	}

	path := e.indexPath(collection, field)
	if err := e.fs.Remove(path); err != nil {
		if exists, _ := afero.Exists(e.fs, path); !exists {
			// Already gone: dropping a non-existent index is a no-op.
		} else {
			return errs.Wrap(errs.KindFileWrite, "remove index file", err)
		}
	}

	e.mu.Lock()
	if fields, ok := e.indexes[collection]; ok {
		delete(fields, field)
	}
	e.mu.Unlock()
	return nil
}

// Indexes lists the fields currently indexed for collection.
func (e *Engine) Indexes(collection string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	fields := make([]string, 0, len(e.indexes[collection]))
	for f := range e.indexes[collection] {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// List enumerates known collection names, both flushed to disk and
// created-but-not-yet-flushed within this process.
func (e *Engine) List() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.known))
	for name := range e.known {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats reports operational counters for the cache, gate, and transaction
// manager.
type Stats struct {
	CacheHits          uint64
	CacheMisses        uint64
	CacheSize          int
	GateWaits          uint64
	ActiveTransactions int
}

// Stats returns a snapshot of the engine's operational counters.
func (e *Engine) Stats() Stats {
	hits, misses := e.cache.Stats()
	return Stats{
		CacheHits:          hits,
		CacheMisses:        misses,
		CacheSize:          e.cache.Len(),
		GateWaits:          e.gate.Waits(),
		ActiveTransactions: e.txns.Len(),
	}
}

// Users returns the user -> role mapping loaded from the optional users
// document.
func (e *Engine) Users() map[string]string {
	out := make(map[string]string, len(e.users))
	for k, v := range e.users {
		out[k] = v
	}
	return out
}

// engineBackend adapts Engine to txn.Backend: every Load/Save goes through
// the file gate exactly as a non-transactional read/write would.
type engineBackend struct {
	e *Engine
}

func (b *engineBackend) Load(collection string) (record.Collection, error) {
	path := b.e.collectionPath(collection)
	ctx, cancel := b.e.queryContext()
	defer cancel()

	var out record.Collection
	err := b.e.gate.With(ctx, path, func() error {
		loaded, err := b.e.store.Load(path)
		out = loaded
		return err
	})
	return out, err
}

func (b *engineBackend) Save(collection string, records record.Collection) error {
	path := b.e.collectionPath(collection)
	ctx, cancel := b.e.queryContext()
	defer cancel()

	return b.e.gate.With(ctx, path, func() error {
		if err := b.e.store.Save(path, records); err != nil {
			return err
		}
		b.e.cache.Put(collection, records, b.e.store.ModTime(path))
		b.e.mu.Lock()
		b.e.known[collection] = true
		b.e.mu.Unlock()
		return nil
	})
}

// BeginTx opens a new transaction and returns its identifier.
func (e *Engine) BeginTx() string {
	return e.txns.Begin()
}

// TxInsert enqueues an insert against collection within txnID.
func (e *Engine) TxInsert(txnID, collection string, rec record.Record) error {
	if err := e.checkPermission(permission.ActionInsert); err != nil {
		return err
	}
	if err := e.checkName(collection); err != nil {
		return err
	}
	op := func(backend txn.Backend) error {
		current, err := backend.Load(collection)
		if err != nil {
			return err
		}
		return backend.Save(collection, mutate.Insert(current, rec))
	}
	return e.txns.Enqueue(txnID, collection, &engineBackend{e}, op)
}

// TxUpdate enqueues an update against collection within txnID.
func (e *Engine) TxUpdate(txnID, collection string, f filter.Filter, changes record.Record) error {
	if err := e.checkPermission(permission.ActionUpdate); err != nil {
		return err
	}
	if err := e.checkName(collection); err != nil {
		return err
	}
	op := func(backend txn.Backend) error {
		current, err := backend.Load(collection)
		if err != nil {
			return err
		}
		updated, _, err := mutate.Update(current, f, changes)
		if err != nil {
			return err
		}
		return backend.Save(collection, updated)
	}
	return e.txns.Enqueue(txnID, collection, &engineBackend{e}, op)
}

// TxDelete enqueues a delete against collection within txnID.
func (e *Engine) TxDelete(txnID, collection string, f filter.Filter) error {
	if err := e.checkPermission(permission.ActionDelete); err != nil {
		return err
	}
	if err := e.checkName(collection); err != nil {
		return err
	}
	op := func(backend txn.Backend) error {
		current, err := backend.Load(collection)
		if err != nil {
			return err
		}
		updated, _, err := mutate.Delete(current, f)
		if err != nil {
			return err
		}
		return backend.Save(collection, updated)
	}
	return e.txns.Enqueue(txnID, collection, &engineBackend{e}, op)
}

// Commit replays a transaction's pending operations against live storage.
func (e *Engine) Commit(txnID string) error {
	return e.txns.Commit(txnID, &engineBackend{e})
}

// Rollback restores every collection a transaction touched to its
// pre-transaction state.
func (e *Engine) Rollback(txnID string) error {
	return e.txns.Rollback(txnID, &engineBackend{e})
}

// Backup snapshots every known collection file, the metadata documents,
// and a manifest into a fresh backup directory, returning its path.
func (e *Engine) Backup(now time.Time) (string, error) {
	if err := e.checkPermission(permission.ActionBackup); err != nil {
		return "", err
	}
	return backup.Create(e.fs, e.dbDir, e.List(), e.mode, now)
}

// Restore replaces the live database with the contents of a backup
// directory, clearing caches and indexes and reloading auth/users.
func (e *Engine) Restore(backupDir string) error {
	if err := e.checkPermission(permission.ActionRestore); err != nil {
		return err
	}

	manifest, err := backup.Restore(e.fs, e.dbDir, backupDir, e.mode)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for collection := range e.indexes {
		delete(e.indexes, collection)
	}
	e.known = make(map[string]bool)
	for _, name := range manifest.Collections {
		e.known[name] = true
	}
	e.mu.Unlock()

	for _, name := range manifest.Collections {
		e.cache.Invalidate(name)
	}

	return e.loadAuthAndUsers()
}
