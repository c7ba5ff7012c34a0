// Package shell executes pipeline steps as subprocesses. Steps run under a
// login shell so the environment image's profile scripts (user-local gem and
// npm paths) are in effect, matching how the CI host invokes them.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Result captures the outcome of a single step execution.
type Result struct {
	Command  string
	Output   string // combined stdout+stderr
	ExitCode int
	Duration time.Duration
}

// ContainerSpec runs steps inside the environment image instead of directly
// on the host. The working directory is bind-mounted at a fixed path.
type ContainerSpec struct {
	Tool  string // podman or docker
	Image string
}

// containerWorkDir is where the checkout is mounted inside the environment image.
const containerWorkDir = "/home/builder/work"

// Executor runs shell steps inside a working directory.
type Executor struct {
	workDir   string
	env       []string
	timeout   time.Duration
	container *ContainerSpec
}

// NewExecutor creates an executor rooted at workDir. A zero timeout means
// steps run unbounded (the caller's context still applies).
func NewExecutor(workDir string, timeout time.Duration) *Executor {
	return &Executor{workDir: workDir, timeout: timeout}
}

// WithContainer makes steps execute inside the environment image (fluent helper).
func (e *Executor) WithContainer(spec ContainerSpec) *Executor {
	e.container = &spec
	return e
}

// WithEnv appends extra KEY=VALUE pairs to the step environment (fluent helper).
func (e *Executor) WithEnv(env ...string) *Executor {
	e.env = append(e.env, env...)
	return e
}

// Run executes a single step command and returns its result. The returned
// error is non-nil for non-zero exits, timeouts, and cancellation; Result is
// populated in all cases so callers can persist captured output.
func (e *Executor) Run(ctx context.Context, command string) (Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if e.container != nil {
		args := []string{"run", "--rm", "-v", e.workDir + ":" + containerWorkDir, "-w", containerWorkDir}
		for _, kv := range e.env {
			args = append(args, "-e", kv)
		}
		args = append(args, e.container.Image, "sh", "-lc", command)
		cmd = exec.CommandContext(ctx, e.container.Tool, args...)
	} else {
		// Login shell per the step contract (profile-provisioned PATH).
		cmd = exec.CommandContext(ctx, "sh", "-lc", command)
		cmd.Dir = e.workDir
		if len(e.env) > 0 {
			cmd.Env = append(cmd.Environ(), e.env...)
		}
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()

	res := Result{
		Command:  command,
		Output:   out.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, err
	}

	return res, nil
}
