package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/llmc/internal/planner"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func testRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".llmc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "auth.py"), []byte(
		"def check_token(token):\n    return token == \"secret\"\n"), 0o644))
	return root
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "--repo", t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "llmc")
}

func TestIndexThenSearch(t *testing.T) {
	root := testRepo(t)

	out, err := runCLI(t, "--repo", root, "index")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed")

	out, err = runCLI(t, "--repo", root, "search", "check_token", "--no-vector", "--json")
	require.NoError(t, err)

	var res planner.PlanResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.Intent.IntentType)
	assert.NotEmpty(t, res.Freshness)
}

func TestGraphBuildGate(t *testing.T) {
	root := testRepo(t)
	_, err := runCLI(t, "--repo", root, "index")
	require.NoError(t, err)

	_, err = runCLI(t, "--repo", root, "graph", "build")
	require.Error(t, err, "skeleton graphs need the explicit flag")
	assert.Contains(t, err.Error(), "allow-empty-enrichment")

	out, err := runCLI(t, "--repo", root, "graph", "build", "--allow-empty-enrichment")
	require.NoError(t, err)
	assert.Contains(t, out, "graph built")

	_, err = os.Stat(filepath.Join(root, ".llmc", "rag_graph.json"))
	require.NoError(t, err)
}

func TestRepoRegisterAndList(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := testRepo(t)

	out, err := runCLI(t, "--repo", root, "repo", "register")
	require.NoError(t, err)
	assert.Contains(t, out, "registered")

	out, err = runCLI(t, "--repo", root, "repo", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "REGISTERED")

	_, err = runCLI(t, "--repo", root, "repo", "register")
	require.Error(t, err, "double registration rejected")
}

func TestEnrichDryRunReportsPending(t *testing.T) {
	root := testRepo(t)
	_, err := runCLI(t, "--repo", root, "index")
	require.NoError(t, err)

	out, err := runCLI(t, "--repo", root, "enrich")
	require.NoError(t, err)
	assert.Contains(t, out, "pending enrichment")
}
