package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with a fresh root command and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errw bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errw)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// executeJSON runs the CLI in JSON mode and decodes the response envelope.
func executeJSON(t *testing.T, args ...string) (Response, error) {
	t.Helper()
	out, err := execute(t, append(args, "--format", "json")...)
	var resp Response
	if out != "" {
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
	}
	return resp, err
}

func entityData(t *testing.T, resp Response) EntitySummary {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var s EntitySummary
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "definitions valid")
	assert.Contains(t, out, "rfq")
	assert.Contains(t, out, "rfq-large")
}

func TestValidateCommand_BadDefinitionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(path, []byte(`workflows: {rfq: {initial: "draft", transitions: [], terminal: []}}`), 0o644))

	out, err := execute(t, "validate", "--definitions", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "error:")
}

func TestCreateTransitionHistoryVerify(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	resp, err := executeJSON(t, "create", "rfq",
		"--db", db,
		"--actor", "dana", "--role", "requester",
		"--department", "it", "--amount", "120000",
		"--body", `{"title":"laptops"}`)
	require.NoError(t, err)
	created := entityData(t, resp)
	assert.Equal(t, "draft", created.Status)
	assert.EqualValues(t, 1, created.Version)
	require.NotEmpty(t, created.ID)

	resp, err = executeJSON(t, "transition", created.ID, "published",
		"--db", db,
		"--partition", created.PartitionKey,
		"--actor", "erin", "--role", "approver")
	require.NoError(t, err)
	published := entityData(t, resp)
	assert.Equal(t, "published", published.Status)
	assert.EqualValues(t, 2, published.Version)

	out, err := execute(t, "history", "rfq", created.ID, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "created")
	assert.Contains(t, out, "status_changed")

	out, err = execute(t, "verify", "rfq", created.ID, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "verified")

	out, err = execute(t, "stats", "department", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "it")
}

func TestDeleteCommand_SoftDeletesAndRefusesTerminal(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	resp, err := executeJSON(t, "create", "rfq",
		"--db", db, "--actor", "dana", "--role", "requester", "--department", "it")
	require.NoError(t, err)
	created := entityData(t, resp)

	resp, err = executeJSON(t, "delete", created.ID,
		"--db", db,
		"--partition", created.PartitionKey,
		"--actor", "dana", "--role", "requester",
		"--reason", "raised twice")
	require.NoError(t, err)
	deleted := entityData(t, resp)
	assert.Equal(t, "cancelled", deleted.Status)
	assert.EqualValues(t, 2, deleted.Version)

	// cancelled is terminal, so a second delete refuses.
	resp, err = executeJSON(t, "delete", created.ID,
		"--db", db,
		"--partition", created.PartitionKey,
		"--actor", "root", "--role", "admin")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_TRANSITION", resp.Error.Code)

	// The record is still there.
	out, err := execute(t, "history", "rfq", created.ID, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "status_changed")
}

func TestTransitionCommand_IllegalEdgeFails(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	resp, err := executeJSON(t, "create", "rfq",
		"--db", db, "--actor", "dana", "--role", "requester", "--department", "it")
	require.NoError(t, err)
	created := entityData(t, resp)

	resp, err = executeJSON(t, "transition", created.ID, "awarded",
		"--db", db,
		"--partition", created.PartitionKey,
		"--actor", "root", "--role", "admin")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_TRANSITION", resp.Error.Code)
}

func TestTransitionCommand_OverrideRequiresReason(t *testing.T) {
	_, err := execute(t, "transition", "x", "draft",
		"--db", filepath.Join(t.TempDir(), "cli.db"),
		"--partition", "x|it",
		"--actor", "root", "--role", "admin",
		"--override")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDecideCommand_BatchReportsPerItemFailures(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cli.db")

	batch := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(batch, []byte(`
- chainId: no-such-chain
  partitionKey: no-such-chain|approval
  stepId: s1
  decision: approved
  actorId: alice
  actorRole: approver
`), 0o644))

	out, err := execute(t, "decide", "--file", batch, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "processed 1: 0 succeeded, 1 failed")
	assert.Contains(t, out, "no-such-chain")
}

func TestDecideCommand_ArgConflicts(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	_, err := execute(t, "decide", "c1", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "decide", "c1", "s1", "approved", "--file", "x.yaml", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatsCommand_UnknownDimension(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")
	_, err := execute(t, "stats", "vendor", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestFormatCents_NegativeAmounts(t *testing.T) {
	assert.Equal(t, "12.05", formatCents(1205))
	assert.Equal(t, "-1.50", formatCents(-150))
}
