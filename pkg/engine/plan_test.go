package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

func batchOps(specs ...string) []model.Operation {
	ops := make([]model.Operation, len(specs))
	for i, s := range specs {
		name, addr, _ := strings.Cut(s, " ")
		ops[i] = model.NewOperation(name, model.MustParseAddress(addr), nil)
	}
	return ops
}

func TestBatchPlan_Levels(t *testing.T) {
	tests := []struct {
		name   string
		ops    []model.Operation
		levels [][]int
	}{
		{
			name:   "empty",
			ops:    nil,
			levels: [][]int{},
		},
		{
			name:   "independent",
			ops:    batchOps("add /server=a", "add /server=b", "add /server=c"),
			levels: [][]int{{0, 1, 2}},
		},
		{
			name:   "same address keeps order",
			ops:    batchOps("add /server=a", "write-attribute /server=a", "remove /server=a"),
			levels: [][]int{{0}, {1}, {2}},
		},
		{
			name: "parent and child",
			ops: batchOps(
				"add /server=a",
				"add /server=a/queue=q",
				"add /server=b",
				"write-attribute /server=b",
				"add /server=a/queue=r",
			),
			levels: [][]int{{0, 2}, {1, 3, 4}},
		},
		{
			name:   "root serializes everything",
			ops:    batchOps("add /server=a", "composite /", "add /server=b"),
			levels: [][]int{{0}, {1}, {2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := NewBatchPlan(tt.ops)
			got := plan.Levels()
			if len(tt.levels) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.levels, got)
			assert.Equal(t, len(tt.levels), plan.Depth())
		})
	}
}

func TestBatchPlan_Dependencies(t *testing.T) {
	plan := NewBatchPlan(batchOps(
		"add /server=a",
		"add /server=a/queue=q",
		"write-attribute /server=a/queue=q",
	))

	assert.Empty(t, plan.Dependencies(0))
	assert.Equal(t, []int{0}, plan.Dependencies(1))
	assert.Equal(t, []int{0, 1}, plan.Dependencies(2))
}

func TestBatchPlan_ToDOT(t *testing.T) {
	plan := NewBatchPlan(batchOps("add /server=a", "remove /server=a", "add /server=b"))
	dot := plan.ToDOT()

	assert.True(t, strings.HasPrefix(dot, "digraph BatchPlan {"))
	assert.Contains(t, dot, "cluster_level_0")
	assert.Contains(t, dot, "cluster_level_1")
	assert.Contains(t, dot, `"op0" -> "op1";`)
	assert.NotContains(t, dot, `"op0" -> "op2"`)
	assert.Contains(t, dot, "lightcoral")
}

func TestController_SubmitAll_KeepsSubtreeOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := HandlerFunc(func(_ Context, op model.Operation) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, op.Name+" "+op.Address.String())
		return nil
	})
	c := newTestController(t, testResolver{"first": {Handler: record}, "second": {Handler: record}, "third": {Handler: record}})

	ops := batchOps("first /server=s1", "second /server=s1/queue=q1", "third /server=s1", "first /server=s2")
	results, err := c.SubmitAll(context.Background(), ops, 0)
	require.NoError(t, err)
	for i, res := range results {
		require.NotNil(t, res, "op %d", i)
		assert.True(t, res.Succeeded(), "op %d", i)
	}

	var s1 []string
	for _, e := range order {
		if strings.HasSuffix(e, "/server=s1") || strings.Contains(e, "/server=s1/") {
			s1 = append(s1, e)
		}
	}
	assert.Equal(t, []string{"first /server=s1", "second /server=s1/queue=q1", "third /server=s1"}, s1)
}

func TestController_SubmitAll_StopsAfterError(t *testing.T) {
	ok := HandlerFunc(func(Context, model.Operation) error { return nil })
	c := newTestController(t, testResolver{"exercise": {Handler: ok}})

	ops := batchOps("missing /server=s1", "exercise /server=s2", "exercise /server=s1")
	results, err := c.SubmitAll(context.Background(), ops, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownOperation))

	require.NotNil(t, results[1])
	assert.True(t, results[1].Succeeded())
	assert.Nil(t, results[2], "the dependent level must not run")
}
