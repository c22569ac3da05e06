package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"govtoken/internal/domain"
	pkgerrors "govtoken/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestAtomic_RollsBackEveryWriteOnError(t *testing.T) {
	db := NewDB()
	balances := NewMap[domain.Address, int](db, "test.balances", AddressKeys)
	alice, bob := domain.NewAddress(), domain.NewAddress()
	ctx := context.Background()

	require.NoError(t, db.Atomic(ctx, func(ctx context.Context) error {
		balances.Set(ctx, alice, 10)
		return nil
	}))

	err := db.Atomic(ctx, func(ctx context.Context) error {
		balances.Set(ctx, alice, 3)
		balances.Set(ctx, bob, 7)
		balances.Delete(ctx, alice)
		return errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 10, balances.Value(alice))
	_, ok := balances.Get(bob)
	assert.False(t, ok)
}

func TestAtomic_NestedFailureOnlyUndoesSavepoint(t *testing.T) {
	db := NewDB()
	counter := NewValue[int](db, "test.counter")
	ctx := context.Background()

	err := db.Atomic(ctx, func(ctx context.Context) error {
		counter.Set(ctx, 1)
		inner := db.Atomic(ctx, func(ctx context.Context) error {
			counter.Set(ctx, 2)
			return errBoom
		})
		assert.ErrorIs(t, inner, errBoom)
		assert.Equal(t, 1, counter.Get())
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, counter.Get())
}

func TestAtomic_PanicRollsBackAndReleasesLock(t *testing.T) {
	db := NewDB()
	counter := NewValue[int](db, "test.counter")
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = db.Atomic(ctx, func(ctx context.Context) error {
			counter.Set(ctx, 5)
			panic("bad")
		})
	})
	assert.Equal(t, 0, counter.Get())

	done := make(chan struct{})
	go func() {
		_ = db.Atomic(ctx, func(ctx context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock not released after panic")
	}
}

func TestAtomic_EventsPublishedOnlyOnCommit(t *testing.T) {
	db := NewDB()
	var got []Commit
	db.OnCommit(func(ctx context.Context, c Commit) { got = append(got, c) })
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	_ = db.Atomic(ctx, func(ctx context.Context) error {
		db.Emit(ctx, domain.NewEvent("test", domain.EventTransfer, now, nil))
		return errBoom
	})
	assert.Empty(t, got)

	require.NoError(t, db.Atomic(ctx, func(ctx context.Context) error {
		db.Emit(ctx, domain.NewEvent("test", domain.EventMint, now, nil))
		_ = db.Atomic(ctx, func(ctx context.Context) error {
			db.Emit(ctx, domain.NewEvent("test", domain.EventBurn, now, nil))
			return errBoom
		})
		return nil
	}))

	require.Len(t, got, 1)
	require.Len(t, got[0].Events, 1)
	assert.Equal(t, domain.EventMint, got[0].Events[0].Type)
}

func TestCommit_ReportsChangesWithNamespaceVersion(t *testing.T) {
	db := NewDB()
	balances := NewMap[domain.Address, int](db, "test.balances", AddressKeys)
	alice := domain.NewAddress()
	ctx := context.Background()
	var commits []Commit
	db.OnCommit(func(ctx context.Context, c Commit) { commits = append(commits, c) })

	require.NoError(t, db.Migrate(ctx, "test.balances", 2, func(ctx context.Context) error { return nil }))
	require.NoError(t, db.Atomic(ctx, func(ctx context.Context) error {
		balances.Set(ctx, alice, 1)
		balances.Set(ctx, alice, 4)
		return nil
	}))

	last := commits[len(commits)-1]
	require.Len(t, last.Changes, 1)
	assert.Equal(t, "test.balances", last.Changes[0].Namespace)
	assert.Equal(t, 2, last.Changes[0].Version)
	assert.Equal(t, alice.Hex(), last.Changes[0].Key)
	assert.JSONEq(t, "4", string(last.Changes[0].Value))
}

func TestMigrate_IsMonotonic(t *testing.T) {
	db := NewDB()
	ctx := context.Background()
	runs := 0
	step := func(ctx context.Context) error { runs++; return nil }

	require.NoError(t, db.Migrate(ctx, "test.ns", 2, step))
	assert.ErrorIs(t, db.Migrate(ctx, "test.ns", 2, step), pkgerrors.ErrAlreadyMigrated)
	assert.ErrorIs(t, db.Migrate(ctx, "test.ns", 1, step), pkgerrors.ErrAlreadyMigrated)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 2, db.SchemaVersion("test.ns"))
}

func TestRestore_LoadsTypedEntries(t *testing.T) {
	db := NewDB()
	balances := NewMap[domain.Address, int](db, "test.balances", AddressKeys)
	alice := domain.NewAddress()

	require.NoError(t, db.Restore([]Entry{{Namespace: "test.balances", Key: alice.Hex(), Value: []byte("42")}}))
	assert.Equal(t, 42, balances.Value(alice))

	err := db.Restore([]Entry{{Namespace: "missing", Key: "x", Value: []byte("1")}})
	assert.Error(t, err)
}

func TestWriteOutsideTransactionPanics(t *testing.T) {
	db := NewDB()
	counter := NewValue[int](db, "test.counter")
	assert.Panics(t, func() { counter.Set(context.Background(), 1) })
}

func TestView_NestsAndSeesTransactionState(t *testing.T) {
	db := NewDB()
	counter := NewValue[int](db, "test.counter")
	ctx := context.Background()

	require.NoError(t, db.View(ctx, func(ctx context.Context) error {
		return db.View(ctx, func(ctx context.Context) error { return nil })
	}))

	require.NoError(t, db.Atomic(ctx, func(ctx context.Context) error {
		counter.Set(ctx, 3)
		return db.View(ctx, func(ctx context.Context) error {
			assert.Equal(t, 3, counter.Get())
			return nil
		})
	}))
}

func TestCommit_SequenceContinuesAfterRestore(t *testing.T) {
	db := NewDB()
	counter := NewValue[int](db, "test.counter")
	var seqs []uint64
	db.OnCommit(func(ctx context.Context, c Commit) { seqs = append(seqs, c.Seq) })
	ctx := context.Background()

	require.NoError(t, db.Restore([]Entry{{Namespace: "test.counter", Key: "", Value: []byte("1"), Seq: 41}}))
	for i := 0; i < 2; i++ {
		require.NoError(t, db.Atomic(ctx, func(ctx context.Context) error {
			counter.Set(ctx, counter.Get()+1)
			return nil
		}))
	}
	_ = db.Atomic(ctx, func(ctx context.Context) error { return errBoom })

	assert.Equal(t, []uint64{42, 43}, seqs)
	assert.Equal(t, 3, counter.Get())
}
