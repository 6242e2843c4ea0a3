package jobs

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBuildHandler_TestAction_NegativeWaitUsesMagnitude(t *testing.T) {
	h := buildHandler(Action{Kind: ActionTest, WaitMS: -5}, nil)
	id := uuid.New()
	start := time.Now()
	result, err := h(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("expected a wait of at least 5ms, got %v", elapsed)
	}
	want := "Job reference: " + id.String()
	if result != want {
		t.Fatalf("got %q, want %q", result, want)
	}
}

func TestBuildHandler_CommandAction_SubstitutesRouteArgs(t *testing.T) {
	h := buildHandler(Action{
		Kind:        ActionCommand,
		CommandName: "echo",
		Args:        []string{"{0}", "static"},
	}, []string{"hello"})

	result, err := h(uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "hello static\n" {
		t.Fatalf("got %q", result)
	}
}

func TestSubstitute_NoRouteArgsLeavesArgsUnchanged(t *testing.T) {
	args := []string{"{0}", "literal"}
	out := substitute(args, nil)
	if out[0] != "{0}" || out[1] != "literal" {
		t.Fatalf("expected unchanged args, got %v", out)
	}
}
