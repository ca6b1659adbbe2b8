package shell

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, job Job) error {
	t.Helper()
	payload, err := json.Marshal(job)
	require.NoError(t, err)
	return Shell{}.Handle(context.Background(), payload)
}

func TestHandleRejectsBadPayload(t *testing.T) {
	err := Shell{}.Handle(context.Background(), []byte(`{"command":`))
	assert.ErrorContains(t, err, "decode shell payload")

	err = run(t, Job{})
	assert.ErrorContains(t, err, "command is required")
}

func TestHandleRunsCommand(t *testing.T) {
	require.NoError(t, run(t, Job{Command: "true"}))
}

func TestHandleReportsFailureWithOutput(t *testing.T) {
	err := run(t, Job{Command: "sh", Args: []string{"-c", "echo scratch disk full >&2; exit 3"}})
	require.Error(t, err)
	assert.ErrorContains(t, err, "scratch disk full")
}

func TestHandleAppliesEnvAndDir(t *testing.T) {
	require.NoError(t, run(t, Job{
		Command: "sh",
		Args:    []string{"-c", `[ "$TASKBEAT_MARK" = set ]`},
		Env:     map[string]string{"TASKBEAT_MARK": "set"},
	}))

	dir := t.TempDir()
	require.NoError(t, run(t, Job{
		Command: "sh",
		Args:    []string{"-c", `[ "$PWD" = "$TASKBEAT_WANT" ]`},
		Dir:     dir,
		Env:     map[string]string{"TASKBEAT_WANT": dir},
	}))
}
