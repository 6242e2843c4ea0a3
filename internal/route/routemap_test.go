package route

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/psionic-labs/psionic/internal/jobs"
)

func TestRouteMap_NoRoutesReturnsRouteNotFound(t *testing.T) {
	m := New(nil, nil)
	_, err := m.Handle(Request{Path: "/anything"})
	if err != ErrRouteNotFound {
		t.Fatalf("expected ErrRouteNotFound, got %v", err)
	}
}

func TestRouteMap_LastMatchWins(t *testing.T) {
	routes := []Route{
		{Regex: regexp.MustCompile("^/x$"), Handler: RouteHandler{Kind: HandlerStatic, Static: StaticRoute{ContentPath: "first", ContentType: "text/plain"}}},
		{Regex: regexp.MustCompile("^/x$"), Handler: RouteHandler{Kind: HandlerStatic, Static: StaticRoute{ContentPath: "second", ContentType: "text/plain"}}},
	}
	m := New(nil, routes)

	_, err := m.Handle(Request{Path: "/x"})
	se, ok := err.(*ErrStaticReadFailed)
	if !ok {
		t.Fatalf("expected a static-read error, got %v", err)
	}
	// The underlying open error names the path that failed, which must
	// be the SECOND route's path since it was declared later.
	if !contains(se.Error(), "second") {
		t.Fatalf("expected last route ('second') to win, error was: %v", se)
	}
}

func TestRouteMap_StaticHit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	if err := os.WriteFile(path, []byte("<html>hi</html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	routes := []Route{
		{Regex: regexp.MustCompile("^/$"), Handler: RouteHandler{Kind: HandlerStatic, Static: StaticRoute{ContentPath: path, ContentType: "text/html"}}},
	}
	m := New(nil, routes)

	resp, err := m.Handle(Request{Path: "/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != 200 || resp.ContentType != "text/html" || string(resp.Body) != "<html>hi</html>" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRouteMap_CommandHit(t *testing.T) {
	routes := []Route{
		{Regex: regexp.MustCompile("^/info$"), Handler: RouteHandler{Kind: HandlerCommand, Command: CommandRoute{CommandName: "echo", Args: []string{"hello"}}}},
	}
	m := New(nil, routes)

	resp, err := m.Handle(Request{Path: "/info"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != 200 || resp.ContentType != "application/json" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if string(resp.Body) != `["hello",""]` {
		t.Fatalf("unexpected body: %s", resp.Body)
	}
}

func TestRouteMap_CommandNonZeroExitIs500(t *testing.T) {
	routes := []Route{
		{Regex: regexp.MustCompile("^/fail$"), Handler: RouteHandler{Kind: HandlerCommand, Command: CommandRoute{CommandName: "sh", Args: []string{"-c", "exit 1"}}}},
	}
	m := New(nil, routes)

	resp, err := m.Handle(Request{Path: "/fail"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != 500 || resp.ContentType != "text/plain" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRouteMap_JobHit_QueuesAndReturns201(t *testing.T) {
	jobCh := make(chan jobs.JobCommand, 1)
	go func() {
		cmd := <-jobCh
		cmd.Reply <- jobs.Result{SetID: [16]byte{1}}
	}()

	routes := []Route{
		{Regex: regexp.MustCompile("^/run$"), Handler: RouteHandler{Kind: HandlerJob, Job: JobRoute{Name: "sleepy"}}},
	}
	m := New(jobCh, routes)

	resp, err := m.Handle(Request{Path: "/run"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != 201 || string(resp.Body) != "Job queued" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRouteMap_JobNotFoundReturns404(t *testing.T) {
	jobCh := make(chan jobs.JobCommand, 1)
	go func() {
		cmd := <-jobCh
		cmd.Reply <- jobs.Result{Err: jobs.ErrJobNotFound}
	}()

	routes := []Route{
		{Regex: regexp.MustCompile("^/x$"), Handler: RouteHandler{Kind: HandlerJob, Job: JobRoute{Name: "missing"}}},
	}
	m := New(jobCh, routes)

	resp, err := m.Handle(Request{Path: "/x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != 404 {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
