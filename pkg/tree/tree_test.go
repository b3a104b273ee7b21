package tree

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

func seededTree(t *testing.T) *Tree {
	t.Helper()
	tr := New()
	require.NoError(t, tr.Add(model.Pairs("server", "s1"), map[string]any{"port": 8080}))
	require.NoError(t, tr.Add(model.Pairs("server", "s1", "queue", "q1"), map[string]any{"durable": true}))
	require.NoError(t, tr.Add(model.Pairs("server", "s1", "queue", "q2"), nil))
	return tr
}

func TestTreeAddAndRemove(t *testing.T) {
	tr := seededTree(t)

	err := tr.Add(model.Pairs("server", "s1"), nil)
	assert.True(t, errors.Is(err, ErrExists))

	err = tr.Add(model.Pairs("server", "missing", "queue", "q"), nil)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.ErrorIs(t, tr.Add(model.RootAddress(), nil), ErrRootMutation)

	children, err := tr.Children(model.Pairs("server", "s1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q2"}, children["queue"])

	snap, err := tr.Remove(model.Pairs("server", "s1"))
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Count())
	assert.False(t, tr.Exists(model.Pairs("server", "s1", "queue", "q1")))

	_, err = tr.Remove(model.Pairs("server", "s1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTreeReturnsCopies(t *testing.T) {
	tr := seededTree(t)

	m, err := tr.Model(model.Pairs("server", "s1"))
	require.NoError(t, err)
	m["port"] = 1

	v, ok, err := tr.Attribute(model.Pairs("server", "s1"), "port")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 8080, v)
}

func TestTreeUpdate(t *testing.T) {
	tr := seededTree(t)
	addr := model.Pairs("server", "s1")

	require.NoError(t, tr.Update(addr, func(attrs map[string]any) error {
		attrs["port"] = 9090
		attrs["host"] = "localhost"
		return nil
	}))
	m, _ := tr.Model(addr)
	assert.Equal(t, map[string]any{"port": 9090, "host": "localhost"}, m)

	require.NoError(t, tr.Update(addr, func(attrs map[string]any) error {
		attrs["host"] = nil
		return nil
	}))
	_, ok, _ := tr.Attribute(addr, "host")
	assert.False(t, ok)

	failed := errors.New("boom")
	err := tr.Update(addr, func(attrs map[string]any) error {
		attrs["port"] = 1
		return failed
	})
	assert.ErrorIs(t, err, failed)
	v, _, _ := tr.Attribute(addr, "port")
	assert.Equal(t, 9090, v)
}

func TestTreeSnapshotRestore(t *testing.T) {
	tr := seededTree(t)
	addr := model.Pairs("server", "s1")

	snap, err := tr.Snapshot(addr)
	require.NoError(t, err)

	_, err = tr.Remove(model.Pairs("server", "s1", "queue", "q1"))
	require.NoError(t, err)
	require.NoError(t, tr.Update(addr, func(attrs map[string]any) error {
		attrs["port"] = 1
		return nil
	}))

	require.NoError(t, tr.Restore(addr, snap))
	assert.True(t, tr.Exists(model.Pairs("server", "s1", "queue", "q1")))
	v, _, _ := tr.Attribute(addr, "port")
	assert.Equal(t, 8080, v)

	require.NoError(t, tr.Restore(addr, nil))
	assert.False(t, tr.Exists(addr))
}

func TestTreePatternAccess(t *testing.T) {
	tr := seededTree(t)
	_, err := tr.Model(model.Pairs("server", "*"))
	assert.ErrorIs(t, err, ErrPattern)
}

func TestSnapshotValue(t *testing.T) {
	tr := seededTree(t)
	snap, err := tr.Snapshot(model.Pairs("server", "s1"))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"port":  8080,
		"queue": map[string]any{"q1": nil, "q2": nil},
	}, snap.Value(false))

	assert.Equal(t, map[string]any{
		"port": 8080,
		"queue": map[string]any{
			"q1": map[string]any{"durable": true},
			"q2": map[string]any{},
		},
	}, snap.Value(true))

	var visited []string
	require.NoError(t, snap.Walk(func(addr model.Address, _ map[string]any) error {
		visited = append(visited, addr.String())
		return nil
	}))
	assert.Equal(t, []string{"/server=s1", "/server=s1/queue=q1", "/server=s1/queue=q2"}, visited)
}

func TestLockManagerReadersShare(t *testing.T) {
	m := NewLockManager()
	ctx := context.Background()

	r1, err := m.Acquire(ctx, model.Pairs("server", "s1"), LockRead)
	require.NoError(t, err)
	r2, err := m.Acquire(ctx, model.RootAddress(), LockRead)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Held())

	r1()
	r1()
	r2()
	assert.Equal(t, 0, m.Held())
}

func TestLockManagerDisjointWriters(t *testing.T) {
	m := NewLockManager()
	ctx := context.Background()

	w1, err := m.Acquire(ctx, model.Pairs("server", "s1"), LockWrite)
	require.NoError(t, err)
	w2, err := m.Acquire(ctx, model.Pairs("server", "s2"), LockWrite)
	require.NoError(t, err)
	w1()
	w2()
}

func TestLockManagerBlocksOverlappingWrite(t *testing.T) {
	m := NewLockManager()
	parent := model.Pairs("server", "s1")
	child := model.Pairs("server", "s1", "queue", "q1")

	release, err := m.Acquire(context.Background(), parent, LockWrite)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, child, LockRead)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		r, err := m.Acquire(context.Background(), child, LockWrite)
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("child lock granted while parent write lock held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("child lock not granted after release")
	}
}
