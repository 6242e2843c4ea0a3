package route

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/psionic-labs/psionic/internal/jobs"
	"github.com/psionic-labs/psionic/internal/metrics"
)

// ErrRouteNotFound is returned when no configured route matches a
// request's path. Callers surface this as a 404, not a 500.
var ErrRouteNotFound = errors.New("route not found")

// ErrStaticReadFailed wraps a filesystem error reading a static route's
// configured content path.
type ErrStaticReadFailed struct{ Err error }

func (e *ErrStaticReadFailed) Error() string { return "static read failed: " + e.Err.Error() }
func (e *ErrStaticReadFailed) Unwrap() error { return e.Err }

// ErrCommandSpawnFailed wraps a process-spawn failure for a command
// route.
type ErrCommandSpawnFailed struct{ Err error }

func (e *ErrCommandSpawnFailed) Error() string { return "command spawn failed: " + e.Err.Error() }
func (e *ErrCommandSpawnFailed) Unwrap() error { return e.Err }

// HandlerKind is the variant tag for RouteHandler.
type HandlerKind int

const (
	HandlerStatic HandlerKind = iota
	HandlerCommand
	HandlerJob
)

// StaticRoute serves a file's bytes as the response body.
type StaticRoute struct {
	ContentPath string
	ContentType string
}

// Formatter turns a command's captured output into a response. A
// non-zero exit maps to 500 before the formatter ever runs.
type Formatter func(stdout []byte) *Response

// CommandRoute synchronously spawns an external process and formats its
// stdout into a response.
type CommandRoute struct {
	CommandName string
	Args        []string
	Formatter   Formatter
}

// JobRoute starts a named asynchronous job. Its handler waits for the
// orchestrator to accept or reject the job name, not for the job's
// actions to finish.
type JobRoute struct {
	Name string
	Args []string
}

// RouteHandler is a tagged variant describing how a matched request is
// served.
type RouteHandler struct {
	Kind    HandlerKind
	Static  StaticRoute
	Command CommandRoute
	Job     JobRoute
}

// DefaultFormatter splits stdout on newlines and wraps each line as a
// JSON string in a JSON array.
func DefaultFormatter(stdout []byte) *Response {
	lines := strings.Split(string(stdout), "\n")
	encoded, err := json.Marshal(lines)
	if err != nil {
		return NewResponse(500, "text/plain", []byte(err.Error()))
	}
	return NewResponse(200, "application/json", encoded)
}

// Handle dispatches a matched request to the variant-appropriate
// behavior. jobCh is the send-only handle into the Orchestrator's
// command channel.
func (h RouteHandler) Handle(jobCh chan<- jobs.JobCommand, req Request) (*Response, error) {
	switch h.Kind {
	case HandlerStatic:
		return h.handleStatic()
	case HandlerCommand:
		return h.handleCommand()
	case HandlerJob:
		return h.handleJob(jobCh)
	default:
		return nil, errors.New("route: unknown handler kind")
	}
}

func (h RouteHandler) handleStatic() (*Response, error) {
	body, err := os.ReadFile(h.Static.ContentPath)
	if err != nil {
		return nil, &ErrStaticReadFailed{Err: err}
	}
	return NewResponse(200, h.Static.ContentType, body), nil
}

func (h RouteHandler) handleCommand() (*Response, error) {
	cmd := exec.Command(h.Command.CommandName, h.Command.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); isExit {
			metrics.CommandExitStatusTotal.WithLabelValues("failure").Inc()
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = runErr.Error()
			}
			return NewResponse(500, "text/plain", []byte(msg)), nil
		}
		return nil, &ErrCommandSpawnFailed{Err: runErr}
	}
	metrics.CommandExitStatusTotal.WithLabelValues("success").Inc()

	formatter := h.Command.Formatter
	if formatter == nil {
		formatter = DefaultFormatter
	}
	return formatter(stdout.Bytes()), nil
}

func (h RouteHandler) handleJob(jobCh chan<- jobs.JobCommand) (*Response, error) {
	reply := make(chan jobs.Result, 1)
	jobCh <- jobs.JobCommand{Name: h.Job.Name, Args: h.Job.Args, Reply: reply}

	res := <-reply
	if res.Err != nil {
		if errors.Is(res.Err, jobs.ErrJobNotFound) {
			return NewResponse(404, "text/plain", []byte("Job not found")), nil
		}
		return nil, res.Err
	}

	return NewResponse(201, "text/plain", []byte("Job queued")), nil
}
