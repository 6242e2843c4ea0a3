// Package jobs implements the job worker pool and the orchestrator that
// decomposes a named job into a sequence of actions and dispatches each
// one to the pool.
package jobs

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/psionic-labs/psionic/internal/metrics"
)

// ActionKind is the variant tag for Action.
type ActionKind int

const (
	// ActionCommand spawns an external process and captures its stdout.
	ActionCommand ActionKind = iota
	// ActionTest sleeps for a configured duration; used for load testing.
	ActionTest
)

// Action is one unit of work inside a named job.
type Action struct {
	Kind        ActionKind
	CommandName string
	Args        []string
	WaitMS      int64
}

// JobConfiguration is a named, ordered sequence of actions.
type JobConfiguration struct {
	Name    string
	Actions []Action
}

// JobsConfiguration is the immutable, loaded-once mapping from job name
// to its action list.
type JobsConfiguration struct {
	Jobs map[string]JobConfiguration
}

// Handler is invoked by a worker with the id assigned to the action it
// is executing; it returns the action's result or an error. The return
// value is logged but not otherwise routed anywhere (the HTTP response
// to the request that triggered the job does not wait for it).
type Handler func(id uuid.UUID) (string, error)

// buildHandler turns a configured Action into an executable Handler.
// routeArgs are the args carried on the job route that triggered this
// action's job: Command actions substitute them into their own Args via
// "{0}", "{1}", ... placeholders; Test actions ignore them entirely.
func buildHandler(action Action, routeArgs []string) Handler {
	switch action.Kind {
	case ActionCommand:
		args := substitute(action.Args, routeArgs)
		return func(id uuid.UUID) (string, error) {
			return runCommand(action.CommandName, args)
		}
	case ActionTest:
		wait := action.WaitMS
		if wait < 0 {
			wait = -wait
		}
		return func(id uuid.UUID) (string, error) {
			time.Sleep(time.Duration(wait) * time.Millisecond)
			return fmt.Sprintf("Job reference: %s", id), nil
		}
	default:
		return func(id uuid.UUID) (string, error) {
			return "", fmt.Errorf("jobs: unknown action kind %d", action.Kind)
		}
	}
}

func substitute(args, routeArgs []string) []string {
	if len(routeArgs) == 0 {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		for j, rv := range routeArgs {
			a = strings.ReplaceAll(a, "{"+strconv.Itoa(j)+"}", rv)
		}
		out[i] = a
	}
	return out
}

func runCommand(name string, args []string) (string, error) {
	cmd := exec.Command(name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		metrics.CommandExitStatusTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("command %q failed: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}
	metrics.CommandExitStatusTotal.WithLabelValues("success").Inc()
	return stdout.String(), nil
}
