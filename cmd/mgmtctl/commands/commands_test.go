package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/mgmtcore/pkg/config"
	"github.com/openfroyo/mgmtcore/pkg/model"
)

const testDescriptions = `
resources: [{
	pattern: "/server=*"
	attributes: {
		threads: {type: "INT", default: 4, constraint: ">=1 & <=64"}
	}
}, {
	pattern: "/server=*/queue=*"
	attributes: {
		"max-size": {type: "INT", default: 1024}
		mode: {type: "STRING", required: true, constraint: "\"async\" | \"sync\""}
	}
}]
`

const testBatch = `
operations:
  - operation: add
    address: /server=main
    threads: 8
  - operation: add
    address: /server=main/queue=orders
    mode: sync
  - operation: write-attribute
    address: /server=main/queue=orders
    name: max-size
    value: 2048
`

// setupWorkspace writes a quiet config with a file store and a description
// directory, and returns the config path.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	descDir := filepath.Join(dir, "descriptions")
	require.NoError(t, os.MkdirAll(descDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(descDir, "server.cue"), []byte(testDescriptions), 0o644))

	cfg := config.Default()
	cfg.Telemetry.Logging.Level = "error"
	cfg.Telemetry.Metrics.Enabled = false
	cfg.Store.Path = filepath.Join(dir, "mgmt.db")
	cfg.Descriptions = []string{descDir}

	path := filepath.Join(dir, "mgmt.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "now")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeBatch(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "mgmt.yaml")

	out, err := run(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote config file")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "conf", "mgmt.db"), cfg.Store.Path)
	assert.FileExists(t, cfg.Store.Path)

	_, err = run(t, "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "init", "--config", path, "--force", "--store", filepath.Join(dir, "other.db"))
	require.NoError(t, err)
	cfg, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "other.db"), cfg.Store.Path)
}

func TestApplyReadNotificationsAudit(t *testing.T) {
	cfgPath := setupWorkspace(t)
	batch := writeBatch(t, testBatch)

	out, err := run(t, "--config", cfgPath, "apply", batch)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "ok  "), out)

	// The model survives into the next invocation through the store.
	out, err = run(t, "--config", cfgPath, "--json", "read", "/server=main/queue=orders")
	require.NoError(t, err)
	var queue map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &queue))
	assert.EqualValues(t, 2048, queue["max-size"])
	assert.Equal(t, "sync", queue["mode"])

	out, err = run(t, "--config", cfgPath, "--json", "read", "/server=main", "--attribute", "threads")
	require.NoError(t, err)
	assert.Equal(t, "8", strings.TrimSpace(out))

	out, err = run(t, "--config", cfgPath, "notifications", "--resource", "/server=main")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"RESOURCE_ADDED"`)
	assert.Contains(t, lines[1], `"RESOURCE_ADDED"`)

	var changed map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &changed))
	assert.Equal(t, "ATTRIBUTE_VALUE_CHANGED", changed["type"])
	assert.Equal(t, []any{map[string]any{"server": "main"}, map[string]any{"queue": "orders"}}, changed["resource"])
	data := changed["data"].(map[string]any)
	assert.Equal(t, "max-size", data["name"])
	assert.EqualValues(t, 1024, data["old-value"])
	assert.EqualValues(t, 2048, data["new-value"])

	out, err = run(t, "--config", cfgPath, "notifications", "--type", "ATTRIBUTE_VALUE_CHANGED")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))

	out, err = run(t, "--config", cfgPath, "--json", "audit")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	// Reads are audited as well, newest first.
	require.Len(t, entries, 5)
	assert.Equal(t, model.OpReadAttribute, entries[0]["operation"])
	assert.Equal(t, model.OpWriteAttribute, entries[2]["operation"])
	assert.Equal(t, "/server=main/queue=orders", entries[2]["address"])
	for _, e := range entries {
		assert.Equal(t, "success", e["outcome"])
	}
}

func TestApplyFailure(t *testing.T) {
	cfgPath := setupWorkspace(t)
	batch := writeBatch(t, `
- operation: add
  address: /server=main
  threads: 100
`)

	out, err := run(t, "--config", cfgPath, "apply", batch)
	require.NoError(t, err)
	assert.Contains(t, out, "FAIL")

	_, err = run(t, "--config", cfgPath, "apply", batch, "--fail-on-error")
	assert.ErrorContains(t, err, "1 operation(s) failed")

	_, err = run(t, "--config", cfgPath, "read", "/server=main")
	assert.Error(t, err)

	out, err = run(t, "--config", cfgPath, "--json", "audit", "--operation", "add")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "failed", e["outcome"])
		assert.NotEmpty(t, e["failure"])
	}
}

func TestApplyConcurrent(t *testing.T) {
	cfgPath := setupWorkspace(t)
	var b strings.Builder
	b.WriteString("operations:\n")
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		b.WriteString("  - operation: add\n    address: /server=" + name + "\n")
	}

	out, err := run(t, "--config", cfgPath, "apply", writeBatch(t, b.String()), "--concurrent")
	require.NoError(t, err)
	assert.Equal(t, 6, strings.Count(out, "ok  "), out)

	out, err = run(t, "--config", cfgPath, "--json", "read", "/", "--recursive")
	require.NoError(t, err)
	var root map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &root))
	servers, ok := root["server"].(map[string]any)
	require.True(t, ok, "unexpected root %v", root)
	assert.Len(t, servers, 6)
}

func TestApplyDOT(t *testing.T) {
	out, err := run(t, "apply", writeBatch(t, testBatch), "--dot")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph BatchPlan")
	assert.Contains(t, out, `"op1" -> "op2";`)
}

func TestReadOperations(t *testing.T) {
	cfgPath := setupWorkspace(t)

	out, err := run(t, "--config", cfgPath, "--json", "read", "/", "--operations")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.Contains(t, names, model.OpReadResource)
	assert.Contains(t, names, model.OpWriteAttribute)
}

func TestValidate(t *testing.T) {
	cfgPath := setupWorkspace(t)

	out, err := run(t, "--config", cfgPath, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "2 resource(s)")

	bad := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(bad, []byte("resources: [{\n\tpattern: \"/server=*\"\n"), 0o644))
	out, err = run(t, "--config", cfgPath, "validate", bad)
	assert.ErrorContains(t, err, "validation failed")
	assert.Contains(t, out, "bad.cue")

	policies := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(policies, "broken.rego"), []byte("package mgmt.policies.broken\n\ndeny contains"), 0o644))
	_, err = run(t, "--config", cfgPath, "validate", "--policy", policies)
	assert.ErrorContains(t, err, "validation failed")
}

func TestParseBatch(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr string
	}{
		{name: "empty", input: "", want: 0},
		{name: "list", input: "- operation: add\n  address: /server=a\n", want: 1},
		{name: "map", input: "operations:\n  - {operation: remove, address: /server=a}\n  - {operation: add, address: /server=b}\n", want: 2},
		{name: "json", input: `[{"operation":"read-resource","address":[{"server":"a"}]}]`, want: 1},
		{name: "no operations", input: "ops: []\n", wantErr: "no operations list"},
		{name: "scalar", input: "42\n", wantErr: "must be a list"},
		{name: "entry not a map", input: "- add\n", wantErr: "operation 0 is not a map"},
		{name: "missing name", input: "- address: /server=a\n", wantErr: "operation 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := parseBatch([]byte(tt.input))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, ops, tt.want)
		})
	}

	ops, err := parseBatch([]byte("- {operation: write-attribute, address: /server=a, name: threads, value: 8}\n"))
	require.NoError(t, err)
	assert.Equal(t, model.OpWriteAttribute, ops[0].Name)
	assert.Equal(t, "/server=a", ops[0].Address.String())
	assert.Equal(t, "threads", ops[0].StringParam(model.ParamName))
}
