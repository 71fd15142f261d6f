package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treelistings/publication-service/repository"
)

func TestStore_SetGetQuery(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "things", "a", repository.Document{"owner": "u1", "n": int64(1)}, false))
	require.NoError(t, s.Set(ctx, "things", "b", repository.Document{"owner": "u2", "n": int64(2)}, false))

	doc, err := s.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, "u1", doc["owner"])

	_, err = s.Get(ctx, "things", "missing")
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	snap, err := s.Query(ctx, "things", repository.Filter{NotEquals: map[string]any{"owner": "u1"}})
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Contains(t, snap, "b")
}

func TestStore_GetReturnsIsolatedCopy(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "things", "a", repository.Document{"tags": []string{"x"}}, false))

	doc, err := s.Get(ctx, "things", "a")
	require.NoError(t, err)
	doc["tags"].([]string)[0] = "mutated"
	doc["extra"] = true

	again, err := s.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, again["tags"])
	assert.NotContains(t, again, "extra")
}

func TestStore_MergeSetKeepsOtherFields(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "things", "a", repository.Document{"x": int64(1), "y": int64(2)}, false))
	require.NoError(t, s.Set(ctx, "things", "a", repository.Document{"y": int64(9)}, true))

	doc, err := s.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc["x"])
	assert.Equal(t, int64(9), doc["y"])
}

func TestTransaction_ConflictsWhenReadDocChanges(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "counters", "c", repository.Document{"n": int64(1)}, false))

	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Get(ctx, "counters", "c"); err != nil {
			return err
		}
		// A commit lands between this transaction's read and its commit.
		if err := s.Set(ctx, "counters", "c", repository.Document{"n": int64(5)}, false); err != nil {
			return err
		}
		return tx.Set(ctx, "counters", "c", repository.Document{"n": int64(2)}, false)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrConflict))

	doc, err := s.Get(ctx, "counters", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(5), doc["n"])
}

func TestTransaction_AbsentReadConflictsWithConcurrentCreate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.Get(ctx, "counters", "new")
		require.True(t, errors.Is(err, repository.ErrNotFound))

		if err := s.Set(ctx, "counters", "new", repository.Document{"n": int64(1)}, false); err != nil {
			return err
		}
		return tx.Set(ctx, "counters", "new", repository.Document{"n": int64(1)}, false)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrConflict))
}

func TestTransaction_FnErrorDiscardsWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Set(ctx, "things", "a", repository.Document{"x": int64(1)}, false); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	_, err = s.Get(ctx, "things", "a")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestTransaction_ReadAfterWriteRejected(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Set(ctx, "things", "a", repository.Document{"x": int64(1)}, false); err != nil {
			return err
		}
		_, err := tx.Get(ctx, "things", "a")
		return err
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrConflict)
}

func TestTransaction_IncrementComposes(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "counters", "c", repository.Document{"n": int64(3)}, false))

	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Get(ctx, "counters", "c"); err != nil {
			return err
		}
		if err := tx.Increment(ctx, "counters", "c", "n", 2); err != nil {
			return err
		}
		return tx.Increment(ctx, "counters", "c", "n", 1)
	})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "counters", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(6), doc["n"])
}

func TestTransaction_IncrementCreatesMissingDoc(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Increment(ctx, "counters", "fresh", "n", 4)
	})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "counters", "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(4), doc["n"])
}

func TestFailCommits_InjectsConflicts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	s.FailCommits(1)

	write := func() error {
		return s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.Set(ctx, "things", "a", repository.Document{"x": int64(1)}, false)
		})
	}

	err := write()
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrConflict))
	_, err = s.Get(ctx, "things", "a")
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	require.NoError(t, write())
}

func TestWatch_DeliversInitialAndCommittedSnapshots(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "things", "a", repository.Document{"owner": "u1"}, false))

	var snaps []repository.Snapshot
	cancel, err := s.Watch(ctx, "things", repository.Filter{}, func(snap repository.Snapshot) {
		snaps = append(snaps, snap)
	})
	require.NoError(t, err)

	require.Len(t, snaps, 1)
	assert.Contains(t, snaps[0], "a")

	require.NoError(t, s.Set(ctx, "things", "b", repository.Document{"owner": "u2"}, false))
	require.Len(t, snaps, 2)
	assert.Contains(t, snaps[1], "b")

	cancel()
	require.NoError(t, s.Set(ctx, "things", "c", repository.Document{"owner": "u3"}, false))
	assert.Len(t, snaps, 2)
}

func TestWatch_FilterAppliesToEverySnapshot(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var snaps []repository.Snapshot
	cancel, err := s.Watch(ctx, "things", repository.Filter{NotEquals: map[string]any{"owner": "u1"}}, func(snap repository.Snapshot) {
		snaps = append(snaps, snap)
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.Set(ctx, "things", "mine", repository.Document{"owner": "u1"}, false))
	require.NoError(t, s.Set(ctx, "things", "theirs", repository.Document{"owner": "u2"}, false))

	require.Len(t, snaps, 3)
	assert.Empty(t, snaps[1])
	require.Len(t, snaps[2], 1)
	assert.Contains(t, snaps[2], "theirs")
}

func TestWatch_TransactionDeliversOneSnapshotPerCollection(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var snaps []repository.Snapshot
	cancel, err := s.Watch(ctx, "things", repository.Filter{}, func(snap repository.Snapshot) {
		snaps = append(snaps, snap)
	})
	require.NoError(t, err)
	defer cancel()

	err = s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Set(ctx, "things", "a", repository.Document{"x": int64(1)}, false); err != nil {
			return err
		}
		return tx.Set(ctx, "things", "b", repository.Document{"x": int64(2)}, false)
	})
	require.NoError(t, err)

	// One commit, one delivery: both writes appear in the same snapshot.
	require.Len(t, snaps, 2)
	assert.Len(t, snaps[1], 2)
}
