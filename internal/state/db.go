// Package state is the protocol's keyed storage.
//
// Every component keeps its records in its own namespace. Writes happen inside
// DB.Atomic, which journals the previous value of every key so a failed
// operation leaves no trace. Nested Atomic calls on the same context become
// savepoints. Top-level operations are serialized.
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"govtoken/internal/domain"
	pkgerrors "govtoken/pkg/errors"
)

// Change is one committed key write.
type Change struct {
	Namespace string
	Version   int
	Key       string
	Value     []byte
	Deleted   bool
}

// Commit is everything a successful top-level operation produced. Seq
// increases by one per commit, including across Restore.
type Commit struct {
	Seq     uint64
	Changes []Change
	Events  []domain.Event
}

// CommitListener observes commits after the operation's lock is released.
type CommitListener func(ctx context.Context, c Commit)

// Entry is a persisted key as loaded by Restore.
type Entry struct {
	Namespace string
	Key       string
	Value     []byte
	Seq       uint64
}

type store interface {
	namespace() string
	encodeEntry(key any) (string, []byte, bool, error)
	loadEntry(key string, raw []byte) error
}

type DB struct {
	mu        sync.Mutex
	seq       uint64
	stores    map[string]store
	versions  *Map[string, int]
	listeners []CommitListener
}

func NewDB() *DB {
	db := &DB{stores: make(map[string]store)}
	db.versions = NewMap[string, int](db, "state.schema", StringKeys)
	return db
}

func (db *DB) register(s store) {
	if _, exists := db.stores[s.namespace()]; exists {
		panic(fmt.Sprintf("state: namespace %q registered twice", s.namespace()))
	}
	db.stores[s.namespace()] = s
}

// OnCommit registers a listener for committed operations.
func (db *DB) OnCommit(l CommitListener) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.listeners = append(db.listeners, l)
}

// Namespaces lists registered namespaces in sorted order.
func (db *DB) Namespaces() []string {
	names := make([]string, 0, len(db.stores))
	for name := range db.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type ctxKey struct{}

type viewKey struct{}

// Tx is the journal of one top-level operation.
type Tx struct {
	db     *DB
	undo   []func()
	dirty  map[dirtyKey]store
	order  []dirtyKey
	events []domain.Event
}

type dirtyKey struct {
	ns  string
	key any
}

type savepoint struct {
	undo   int
	events int
}

func txFrom(ctx context.Context, db *DB) *Tx {
	tx, _ := ctx.Value(ctxKey{}).(*Tx)
	if tx == nil || tx.db != db {
		return nil
	}
	return tx
}

// Atomic runs fn as one all-or-nothing operation. If ctx already carries a
// transaction of this DB, fn runs under a savepoint of it.
func (db *DB) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := txFrom(ctx, db); tx != nil {
		sp := tx.savepoint()
		if err := fn(ctx); err != nil {
			tx.rollbackTo(sp)
			return err
		}
		return nil
	}

	db.mu.Lock()
	tx := &Tx{db: db, dirty: make(map[dirtyKey]store)}
	txCtx := context.WithValue(ctx, ctxKey{}, tx)

	err := runGuarded(tx, func() error { return fn(txCtx) }, db.mu.Unlock)
	if err != nil {
		tx.rollbackTo(savepoint{})
		db.mu.Unlock()
		return err
	}

	commit, err := tx.commit()
	if err == nil {
		db.seq++
		commit.Seq = db.seq
	}
	listeners := append([]CommitListener(nil), db.listeners...)
	db.mu.Unlock()
	if err != nil {
		return pkgerrors.Wrap(err, "encode commit")
	}

	for _, l := range listeners {
		l(ctx, commit)
	}
	return nil
}

// runGuarded rolls back and unlocks before re-raising a panic from fn.
func runGuarded(tx *Tx, fn func() error, unlock func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			tx.rollbackTo(savepoint{})
			unlock()
			panic(r)
		}
	}()
	return fn()
}

// View runs fn with a consistent read of the state. Views nest, and a view
// inside Atomic reads the transaction's uncommitted state.
func (db *DB) View(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx, db) != nil || ctx.Value(viewKey{}) == db {
		return fn(ctx)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(context.WithValue(ctx, viewKey{}, db))
}

// Emit buffers an event on the current transaction. Events are published
// only if the top-level operation commits.
func (db *DB) Emit(ctx context.Context, ev domain.Event) {
	tx := db.mustTx(ctx)
	n := len(tx.events)
	tx.events = append(tx.events, ev)
	tx.undo = append(tx.undo, func() { tx.events = tx.events[:n] })
}

// InTx reports whether ctx carries a transaction of this DB.
func (db *DB) InTx(ctx context.Context) bool {
	return txFrom(ctx, db) != nil
}

func (db *DB) mustTx(ctx context.Context) *Tx {
	tx := txFrom(ctx, db)
	if tx == nil {
		panic("state: write outside transaction")
	}
	return tx
}

func (tx *Tx) savepoint() savepoint {
	return savepoint{undo: len(tx.undo), events: len(tx.events)}
}

func (tx *Tx) rollbackTo(sp savepoint) {
	for i := len(tx.undo) - 1; i >= sp.undo; i-- {
		tx.undo[i]()
	}
	tx.undo = tx.undo[:sp.undo]
	if len(tx.events) > sp.events {
		tx.events = tx.events[:sp.events]
	}
}

func (tx *Tx) touch(s store, key any) {
	dk := dirtyKey{ns: s.namespace(), key: key}
	if _, seen := tx.dirty[dk]; seen {
		return
	}
	tx.dirty[dk] = s
	tx.order = append(tx.order, dk)
}

func (tx *Tx) commit() (Commit, error) {
	c := Commit{Events: tx.events}
	for _, dk := range tx.order {
		s := tx.dirty[dk]
		key, raw, present, err := s.encodeEntry(dk.key)
		if err != nil {
			return c, err
		}
		c.Changes = append(c.Changes, Change{
			Namespace: dk.ns,
			Version:   tx.db.versions.Value(dk.ns),
			Key:       key,
			Value:     raw,
			Deleted:   !present,
		})
	}
	return c, nil
}

// SchemaVersion returns the schema version of a namespace; zero if never migrated.
func (db *DB) SchemaVersion(namespace string) int {
	return db.versions.Value(namespace)
}

// Migrate runs fn once to move namespace to version. Versions only advance.
func (db *DB) Migrate(ctx context.Context, namespace string, version int, fn func(ctx context.Context) error) error {
	return db.Atomic(ctx, func(ctx context.Context) error {
		if version <= db.versions.Value(namespace) {
			return pkgerrors.Wrap(pkgerrors.ErrAlreadyMigrated,
				fmt.Sprintf("%s at version %d", namespace, db.versions.Value(namespace)))
		}
		if err := fn(ctx); err != nil {
			return err
		}
		db.versions.Set(ctx, namespace, version)
		return nil
	})
}

// Restore loads persisted entries. It must run before any operation.
func (db *DB) Restore(entries []Entry) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, e := range entries {
		s, ok := db.stores[e.Namespace]
		if !ok {
			return fmt.Errorf("state: unknown namespace %q", e.Namespace)
		}
		if err := s.loadEntry(e.Key, e.Value); err != nil {
			return fmt.Errorf("state: restore %s/%s: %w", e.Namespace, e.Key, err)
		}
		if e.Seq > db.seq {
			db.seq = e.Seq
		}
	}
	return nil
}
