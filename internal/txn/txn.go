// Package txn implements the transaction scope of spec.md §4.7: one
// imperative program holds a single kv.StoreTx for its entire lifetime,
// acquires the write locks its statements declare up front, accumulates
// range-deletes for dropped relations, and commits or rolls back as a unit.
package txn

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"strata/internal/errs"
	"strata/internal/kv"
	"strata/internal/logging"
	"strata/internal/relation"
)

// lockTable serializes write access to stored relation names across
// concurrently running transactions on the same Storage, mirroring the
// coarse single-writer discipline Pieczasz-smf's dialect registry uses for
// its own name-keyed map (a sync.RWMutex guarding a map[string]*thing),
// generalized here to per-name locks so unrelated relations never block
// each other.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: map[string]*sync.Mutex{}}
}

func (lt *lockTable) get(name string) *sync.Mutex {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	l, ok := lt.locks[name]
	if !ok {
		l = &sync.Mutex{}
		lt.locks[name] = l
	}
	return l
}

// Manager owns the engine's storage and the lock table its transactions
// share. One Manager backs one database instance.
type Manager struct {
	storage kv.Storage
	locks   *lockTable
	log     *zap.SugaredLogger
}

func NewManager(storage kv.Storage) *Manager {
	return &Manager{storage: storage, locks: newLockTable(), log: logging.Nop()}
}

// WithLogger returns mgr configured to log commits and rollbacks through
// log instead of discarding them.
func (mgr *Manager) WithLogger(log *zap.SugaredLogger) *Manager {
	mgr.log = log
	return mgr
}

// purgeRange is an accumulated post-commit range-delete, queued when a
// relation is dropped so its data rows are reclaimed only after the
// transaction that dropped it durably commits.
type purgeRange struct {
	lo, hi []byte
}

// Transaction scopes one kv.StoreTx for the lifetime of an imperative
// program, per spec.md §4.7. Required write locks on stored relation names
// are obtained up front; the transaction opens read-only if no writes were
// declared, otherwise write-capable.
type Transaction struct {
	mgr      *Manager
	tx       kv.StoreTx
	catalog  *relation.Catalog
	writable bool
	held     []*sync.Mutex
	purges   []purgeRange
	done     bool
}

// Begin opens a transaction against mgr's storage. writeLocks names every
// stored relation a subsequent statement will write to; they are sorted
// and locked in that order so two concurrent Begin calls over overlapping
// write sets can never deadlock against each other.
func Begin(ctx context.Context, mgr *Manager, writeLocks []string) (*Transaction, error) {
	names := append([]string(nil), writeLocks...)
	sort.Strings(names)
	names = dedupSorted(names)

	held := make([]*sync.Mutex, 0, len(names))
	for _, n := range names {
		l := mgr.locks.get(n)
		l.Lock()
		held = append(held, l)
	}

	writable := len(names) > 0
	storeTx, err := mgr.storage.BeginTx(ctx, writable)
	if err != nil {
		for _, l := range held {
			l.Unlock()
		}
		return nil, err
	}

	return &Transaction{
		mgr:      mgr,
		tx:       storeTx,
		catalog:  relation.NewCatalog(),
		writable: writable,
		held:     held,
	}, nil
}

func dedupSorted(names []string) []string {
	out := names[:0]
	var last string
	havLast := false
	for _, n := range names {
		if havLast && n == last {
			continue
		}
		out = append(out, n)
		last = n
		havLast = true
	}
	return out
}

func (t *Transaction) unlockAll() {
	for _, l := range t.held {
		l.Unlock()
	}
	t.held = nil
}

// StoreTx exposes the underlying kv.StoreTx for callers (internal/eval's
// base-fact scans, internal/imperative's statement bodies) that need to
// read or write stored relations directly.
func (t *Transaction) StoreTx() kv.StoreTx { return t.tx }

// Writable reports whether this transaction acquired any write locks.
func (t *Transaction) Writable() bool { return t.writable }

// Open looks up name in the catalog and rebuilds its StoredRelation,
// reattaching any persisted secondary indexes.
func (t *Transaction) Open(ctx context.Context, name string) (*relation.StoredRelation, error) {
	h, ok, err := t.catalog.GetRelation(ctx, t.tx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.NotFound, "relation %q does not exist", name)
	}
	return h.StoredRelation(name)
}

// Create allocates a fresh relation id, stores name's handle in the
// catalog, and returns the live StoredRelation, per spec.md §4.4:
// "Creation assigns a fresh 8-byte relation id, allocated from a
// monotonic counter".
func (t *Transaction) Create(ctx context.Context, name string, schema *relation.RelationSchema) (*relation.StoredRelation, error) {
	if err := t.requireWritable(); err != nil {
		return nil, err
	}
	if _, exists, err := t.catalog.GetRelation(ctx, t.tx, name); err != nil {
		return nil, err
	} else if exists {
		return nil, errs.New(errs.Conflict, "relation %q already exists", name)
	}
	id, err := t.catalog.NextRelationID(ctx, t.tx)
	if err != nil {
		return nil, err
	}
	handle := relation.NewRelationHandle(id, schema)
	if err := t.catalog.PutRelation(ctx, t.tx, name, handle); err != nil {
		return nil, err
	}
	return relation.New(schema, id), nil
}

// CreateIndex declares a single-column secondary index on relation's
// named column and persists it to the catalog, so every future Open
// reattaches it, per spec.md §4.8's "index definitions ... persisted
// under reserved system relation id 0".
func (t *Transaction) CreateIndex(ctx context.Context, relName, indexName, column string, kind relation.IndexKind) (*relation.StoredRelation, error) {
	if err := t.requireWritable(); err != nil {
		return nil, err
	}
	h, ok, err := t.catalog.GetRelation(ctx, t.tx, relName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.NotFound, "relation %q does not exist", relName)
	}
	h.AddIndex(indexName, column, kind)
	if err := t.catalog.PutRelation(ctx, t.tx, relName, h); err != nil {
		return nil, err
	}
	return h.StoredRelation(relName)
}

// Drop removes name from the catalog and queues its data rows for
// post-commit purge: the range delete only ever touches durable state
// once the transaction that dropped the relation has itself committed.
func (t *Transaction) Drop(ctx context.Context, name string) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	h, ok, err := t.catalog.GetRelation(ctx, t.tx, name)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.NotFound, "relation %q does not exist", name)
	}
	if err := t.catalog.DeleteRelation(ctx, t.tx, name); err != nil {
		return err
	}
	rel, err := h.StoredRelation(name)
	if err != nil {
		return err
	}
	lo, hi := rel.Bounds()
	t.purges = append(t.purges, purgeRange{lo: lo, hi: hi})
	return nil
}

// ListRelations surfaces every catalog entry except reserved system rows.
func (t *Transaction) ListRelations(ctx context.Context) ([]string, error) {
	names, _, err := t.catalog.ListRelations(ctx, t.tx)
	return names, err
}

func (t *Transaction) requireWritable() error {
	if !t.writable {
		return errs.New(errs.Access, "transaction holds no write locks")
	}
	return nil
}

// Commit runs every accumulated range-delete from dropped relations, then
// commits the underlying kv.StoreTx, per spec.md §4.7: "After statement
// execution the driver runs accumulated range-deletes, commits the
// transaction, and delivers any pending callbacks." Callback delivery is
// the caller's responsibility (internal/imperative), since Transaction
// has no notion of registered subscribers.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.done {
		return errs.New(errs.Invariant, "transaction already closed")
	}
	t.done = true
	defer t.unlockAll()

	for _, p := range t.purges {
		if err := t.tx.DelRangeFromPersisted(ctx, p.lo, p.hi); err != nil {
			_ = t.tx.Rollback(ctx)
			return err
		}
	}
	err := t.tx.Commit(ctx)
	if err == nil {
		logging.TxnCommit(t.mgr.log, t.writable, len(t.purges), 0)
	}
	return err
}

// Rollback discards every write this transaction made.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.unlockAll()
	err := t.tx.Rollback(ctx)
	logging.TxnRollback(t.mgr.log, err)
	return err
}
