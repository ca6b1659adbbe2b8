// Package shell runs a command on every eligible window of a task.
// The run deadline comes from the worker's context, not the payload;
// a non-zero exit is a failed run and the schedule still advances.
package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// outputTail bounds how much combined output a failure report carries.
const outputTail = 512

type Shell struct{}

// Job is the payload bound to a task at start. The same command runs
// on every window.
type Job struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

func (h Shell) Handle(ctx context.Context, payload json.RawMessage) error {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode shell payload: %w", err)
	}
	if job.Command == "" {
		return errors.New("shell payload: command is required")
	}

	cmd := exec.CommandContext(ctx, job.Command, job.Args...)
	cmd.Dir = job.Dir
	if len(job.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range job.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %q: %w (output: %s)", job.Command, err, tail(out))
	}
	return nil
}

func tail(out []byte) string {
	if len(out) > outputTail {
		out = out[len(out)-outputTail:]
	}
	return string(out)
}
