package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"strata/internal/kv/memkv"
	"strata/internal/relation"
	"strata/internal/value"
)

func friendsSchema(t *testing.T) *relation.RelationSchema {
	t.Helper()
	schema, err := relation.NewRelationSchema(
		"friends",
		[]relation.ColumnDef{{Name: "fr", Type: value.ColumnType{Tag: value.TInt}}},
		[]relation.ColumnDef{{Name: "to", Type: value.ColumnType{Tag: value.TInt}}},
		relation.Normal,
		relation.TriggerSet{},
	)
	require.NoError(t, err)
	return schema
}

func TestCreateOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(memkv.New())

	tx, err := Begin(ctx, mgr, []string{"friends"})
	require.NoError(t, err)
	rel, err := tx.Create(ctx, "friends", friendsSchema(t))
	require.NoError(t, err)
	require.NoError(t, rel.Put(ctx, tx.StoreTx(), value.Tuple{value.Int(1)}, value.Tuple{value.Int(2)}, nil))
	require.NoError(t, tx.Commit(ctx))

	ro, err := Begin(ctx, mgr, nil)
	require.NoError(t, err)
	reopened, err := ro.Open(ctx, "friends")
	require.NoError(t, err)
	nonKey, ok, err := reopened.Get(ctx, ro.StoreTx(), value.Tuple{value.Int(1)})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.Tuple{value.Int(2)}, nonKey)
	require.NoError(t, ro.Commit(ctx))
}

func TestCreateDuplicateNameFails(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(memkv.New())

	tx, err := Begin(ctx, mgr, []string{"friends"})
	require.NoError(t, err)
	_, err = tx.Create(ctx, "friends", friendsSchema(t))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tx2, err := Begin(ctx, mgr, []string{"friends"})
	require.NoError(t, err)
	_, err = tx2.Create(ctx, "friends", friendsSchema(t))
	require.Error(t, err)
	require.NoError(t, tx2.Rollback(ctx))
}

func TestOpenMissingRelationFails(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(memkv.New())

	tx, err := Begin(ctx, mgr, nil)
	require.NoError(t, err)
	_, err = tx.Open(ctx, "nope")
	require.Error(t, err)
	require.NoError(t, tx.Rollback(ctx))
}

func TestDropPurgesDataOnCommit(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(memkv.New())

	tx, err := Begin(ctx, mgr, []string{"friends"})
	require.NoError(t, err)
	rel, err := tx.Create(ctx, "friends", friendsSchema(t))
	require.NoError(t, err)
	require.NoError(t, rel.Put(ctx, tx.StoreTx(), value.Tuple{value.Int(1)}, value.Tuple{value.Int(2)}, nil))
	require.NoError(t, tx.Commit(ctx))

	dropTx, err := Begin(ctx, mgr, []string{"friends"})
	require.NoError(t, err)
	require.NoError(t, dropTx.Drop(ctx, "friends"))
	require.NoError(t, dropTx.Commit(ctx))

	checkTx, err := Begin(ctx, mgr, nil)
	require.NoError(t, err)
	_, err = checkTx.Open(ctx, "friends")
	require.Error(t, err)

	lo, hi := rel.Bounds()
	it, err := checkTx.StoreTx().RangeScan(ctx, lo, hi)
	require.NoError(t, err)
	_, ok, err := it.Next()
	require.NoError(t, err)
	require.False(t, ok, "dropped relation's rows must be purged on commit")
	require.NoError(t, checkTx.Rollback(ctx))
}

func TestListRelationsExcludesCounter(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(memkv.New())

	tx, err := Begin(ctx, mgr, []string{"friends"})
	require.NoError(t, err)
	_, err = tx.Create(ctx, "friends", friendsSchema(t))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	ro, err := Begin(ctx, mgr, nil)
	require.NoError(t, err)
	names, err := ro.ListRelations(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"friends"}, names)
	require.NoError(t, ro.Rollback(ctx))
}

func TestReadOnlyTransactionCannotCreate(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(memkv.New())

	tx, err := Begin(ctx, mgr, nil)
	require.NoError(t, err)
	_, err = tx.Create(ctx, "friends", friendsSchema(t))
	require.Error(t, err)
	require.NoError(t, tx.Rollback(ctx))
}
