package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationDerivationDoesNotAlias(t *testing.T) {
	op := NewOperation(OpWriteAttribute, Pairs("server", "s1"), map[string]any{
		ParamName:  "x",
		ParamValue: map[string]any{"nested": []any{1, 2}},
	})

	read := op.WithName(OpReadAttribute).WithoutParam(ParamValue)
	assert.Equal(t, OpReadAttribute, read.Name)
	assert.False(t, read.HasParam(ParamValue))
	assert.True(t, op.HasParam(ParamValue))

	clone := op.Clone()
	clone.Params[ParamValue].(map[string]any)["nested"] = "changed"
	assert.Equal(t, []any{1, 2}, op.Params[ParamValue].(map[string]any)["nested"])
}

func TestOperationJSON(t *testing.T) {
	op := NewOperation(OpWriteAttribute, Pairs("server", "s1"), map[string]any{
		ParamName:  "x",
		ParamValue: float64(9),
	})

	data, err := json.Marshal(op)
	require.NoError(t, err)
	assert.JSONEq(t, `{"operation":"write-attribute","address":[{"server":"s1"}],"name":"x","value":9}`, string(data))

	var decoded Operation
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, op, decoded)
}

func TestOperationFromMap(t *testing.T) {
	op, err := OperationFromMap(map[string]any{
		"operation": "add",
		"address":   "/server=s1/queue=q1",
		"durable":   true,
	})
	require.NoError(t, err)
	assert.Equal(t, OpAdd, op.Name)
	assert.Equal(t, Pairs("server", "s1", "queue", "q1"), op.Address)
	assert.True(t, op.BoolParam("durable", false))

	op, err = OperationFromMap(map[string]any{
		"operation": "remove",
		"address":   []any{map[string]any{"server": "s1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, Pairs("server", "s1"), op.Address)

	_, err = OperationFromMap(map[string]any{"address": "/"})
	assert.Error(t, err)
}

func TestEqualNumbers(t *testing.T) {
	assert.True(t, Equal(5, float64(5)))
	assert.True(t, Equal(int64(5), 5))
	assert.False(t, Equal(5, "5"))
	assert.True(t, Equal(map[string]any{"a": []any{1}}, map[string]any{"a": []any{float64(1)}}))
	assert.True(t, Equal(nil, nil))

	n, ok := AsInt(float64(9))
	assert.True(t, ok)
	assert.Equal(t, int64(9), n)
	_, ok = AsInt(9.5)
	assert.False(t, ok)
}
