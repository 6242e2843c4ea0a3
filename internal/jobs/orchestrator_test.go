package jobs

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/psionic-labs/psionic/internal/aggregator"
	"github.com/psionic-labs/psionic/internal/logger"
)

func newTestOrchestrator(t *testing.T, configs JobsConfiguration) (*Orchestrator, *Pool, *aggregator.Aggregator, func()) {
	t.Helper()
	sink := logger.Start(32)
	agg := aggregator.Start(sink.Logger())
	pool := NewPool(2, 16, time.Second, agg, sink.Logger())
	pool.Start()
	orch := Start(configs, pool, agg, sink.Logger(), 16)

	return orch, pool, agg, func() {
		orch.Stop()
		pool.Stop()
		agg.Stop()
		sink.Stop()
	}
}

func TestOrchestrator_UnknownJobRepliesError(t *testing.T) {
	orch, _, _, cleanup := newTestOrchestrator(t, JobsConfiguration{Jobs: map[string]JobConfiguration{}})
	defer cleanup()

	reply := make(chan Result, 1)
	orch.Channel() <- JobCommand{Name: "missing", Reply: reply}

	select {
	case res := <-reply:
		if res.Err != ErrJobNotFound {
			t.Fatalf("expected ErrJobNotFound, got %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestOrchestrator_TestActionDrainsAggregator(t *testing.T) {
	configs := JobsConfiguration{
		Jobs: map[string]JobConfiguration{
			"sleepy": {
				Name: "sleepy",
				Actions: []Action{
					{Kind: ActionTest, WaitMS: 10},
				},
			},
		},
	}
	orch, _, agg, cleanup := newTestOrchestrator(t, configs)
	defer cleanup()

	reply := make(chan Result, 1)
	orch.Channel() <- JobCommand{Name: "sleepy", Reply: reply}

	select {
	case res := <-reply:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if agg.OutstandingCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("aggregator never drained, outstanding=%d", agg.OutstandingCount())
}

func TestOrchestrator_MultipleActionsShareSetIDButGetDistinctActionIDs(t *testing.T) {
	configs := JobsConfiguration{
		Jobs: map[string]JobConfiguration{
			"multi": {
				Name: "multi",
				Actions: []Action{
					{Kind: ActionTest, WaitMS: 200},
					{Kind: ActionTest, WaitMS: 200},
				},
			},
		},
	}
	orch, _, agg, cleanup := newTestOrchestrator(t, configs)
	defer cleanup()

	reply := make(chan Result, 1)
	orch.Channel() <- JobCommand{Name: "multi", Reply: reply}

	res := <-reply
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.SetID == uuid.Nil {
		t.Fatal("expected a non-empty set id")
	}

	// Both actions are registered before either finishes sleeping; with a
	// shared id the aggregator would ignore the second registration and
	// never hold more than one.
	registered := time.Now().Add(100 * time.Millisecond)
	for agg.OutstandingCount() != 2 && time.Now().Before(registered) {
		time.Sleep(time.Millisecond)
	}
	if got := agg.OutstandingCount(); got != 2 {
		t.Fatalf("expected 2 distinct action ids outstanding, got %d", got)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if agg.OutstandingCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("aggregator never drained both actions, outstanding=%d", agg.OutstandingCount())
}
