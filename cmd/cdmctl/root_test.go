package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/cdmtriage/internal/core"
)

// run executes one cdmctl invocation against the sqlite file at db.
func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--driver", "sqlite", "--sqlite-path", db, "--seed", "11", "--log", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSeedListClear(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cdm.db")

	out, err := run(t, db, "seed", "--count", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 8 events")

	out, err = run(t, db, "list", "--json")
	require.NoError(t, err)
	var events []core.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	assert.Len(t, events, 8)

	out, err = run(t, db, "list", "--limit", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 4, "header plus three rows")
	assert.True(t, strings.HasPrefix(lines[0], "ID"))

	_, err = run(t, db, "clear")
	assert.Error(t, err, "clear without --yes must refuse")

	_, err = run(t, db, "clear", "--yes")
	require.NoError(t, err)

	out, err = run(t, db, "list", "--json")
	require.NoError(t, err)
	events = nil
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	assert.Empty(t, events)
}

func TestImportAndSimulate(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cdm.db")
	csv := filepath.Join(dir, "cdm.tsv")
	data := "ID\tObject1\tObject2\tTCA\tMiss Distance\tRelative Speed\tPc\n" +
		"X1\tSAT-A\tDEB-B\t2031-05-01 12:00:00\t85.5\t7200\t0.002\n" +
		"X2\tSAT-C\tDEB-D\t2031-05-02T00:00:00Z\t1500\t7000\t1e-7\n" +
		"short\trow\n"
	require.NoError(t, os.WriteFile(csv, []byte(data), 0o600))

	out, err := run(t, db, "import", "--quiet", "--show-rejections", csv)
	require.NoError(t, err)
	assert.Contains(t, out, "imported: 2")
	assert.Contains(t, out, "rejected: 1")
	assert.Contains(t, out, "line 4:")

	out, err = run(t, db, "simulate", "X1", "--samples", "2000", "--json")
	require.NoError(t, err)
	var resp struct {
		Event      core.Event            `json:"event"`
		Simulation core.SimulationResult `json:"simulation"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Event.PcMC)
	assert.Equal(t, 2000, resp.Simulation.Samples)
	assert.Equal(t, resp.Simulation.PC, *resp.Event.PcMC)

	_, err = run(t, db, "simulate", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIM003")
}

func TestReclassifyWithPolicyFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cdm.db")

	_, err := run(t, db, "seed", "--count", "20")
	require.NoError(t, err)

	// A threshold no Pc can reach and gate thresholds every event passes.
	policy := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policy, []byte(
		"pc_red_threshold: 1\neta_threshold: 1000\ntangency_threshold: 2\nconditioning_threshold: 1000\nwarning_time_threshold: 0\n",
	), 0o600))

	out, err := run(t, db, "--policy", policy, "reclassify")
	require.NoError(t, err)
	assert.Contains(t, out, "reclassified 20 events")
	assert.Contains(t, out, "ANALYTIC_OK  20")
}

func TestListRejectsUnknownLane(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cdm.db")
	_, err := run(t, db, "list", "--lane", "PURPLE")
	assert.Error(t, err)
}

func TestImportDryRun(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cdm.db")
	csv := filepath.Join(dir, "cdm.tsv")
	data := "ID\tObject1\tObject2\tTCA\tMiss Distance\tRelative Speed\tPc\n" +
		"X1\tSAT-A\tDEB-B\t2031-05-01 12:00:00\t85.5\t7200\t0.002\n" +
		"X2\tSAT-C\tDEB-D\t2031-05-02T00:00:00Z\t1500\t7000\t1e-7\n" +
		"short\trow\n"
	require.NoError(t, os.WriteFile(csv, []byte(data), 0o600))

	out, err := run(t, db, "import", "--dry-run", "--show-rejections", csv)
	require.NoError(t, err)
	assert.Contains(t, out, "dry run, nothing written")
	assert.Contains(t, out, "new:        2")
	assert.Contains(t, out, "rejected:   1")
	assert.Contains(t, out, "line 4:")

	out, err = run(t, db, "list", "--json")
	require.NoError(t, err)
	var events []core.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	assert.Empty(t, events)
}
