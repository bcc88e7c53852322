package bench

import (
	"strings"
	"testing"
)

func TestRunMixedWorkloadSettlesToEmptyHeap(t *testing.T) {
	w := Workload{
		Name:  "mixed",
		Seed:  7,
		Steps: 2000,
		Tasks: []TaskSpec{
			{Kind: "churn", Weight: 2, Depth: 8},
			{Kind: "tree", Weight: 1, Fanout: 3, Depth: 3},
			{Kind: "cache", Weight: 1, Entries: 64},
			{Kind: "registry", Weight: 1, Entries: 32},
			{Kind: "stack", Weight: 1, Slots: 32},
			{Kind: "finalize", Weight: 1},
		},
		GC: GCSpec{DebugChecks: true},
	}

	rep, err := Run(w)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Steps != w.Steps {
		t.Errorf("expected %d steps executed, got %d", w.Steps, rep.Steps)
	}
	if rep.SinkErrs != 0 {
		t.Errorf("expected a clean run, got %d sink errors", rep.SinkErrs)
	}
	if rep.Usage != 0 {
		t.Errorf("expected an empty heap after settling, %d bytes remain", rep.Usage)
	}
	if rep.OOMs != 0 {
		t.Errorf("expected no allocation failures, got %d", rep.OOMs)
	}
	if rep.Finalized == 0 {
		t.Error("the finalize task should have produced some finalizations")
	}
	if rep.Stats.CyclesCompleted == 0 {
		t.Error("a run this size should complete collection cycles")
	}
	if !strings.Contains(rep.String(), "mixed") {
		t.Error("the report should name its workload")
	}
}

func TestRunWeakCacheClearsEntries(t *testing.T) {
	w := Workload{
		Name:  "cache-only",
		Seed:  11,
		Steps: 5000,
		Tasks: []TaskSpec{{Kind: "cache", Weight: 1, Entries: 128}},
		GC:    GCSpec{DebugChecks: true},
	}

	rep, err := Run(w)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.SinkErrs != 0 {
		t.Errorf("expected a clean run, got %d sink errors", rep.SinkErrs)
	}
	if rep.Stats.WeakCleared == 0 {
		t.Error("a weak-value cache under churn should shed entries")
	}
	if rep.Usage != 0 {
		t.Errorf("expected an empty heap after settling, %d bytes remain", rep.Usage)
	}
}

func TestRunFinalizeWorkloadCountsRuns(t *testing.T) {
	w := Workload{
		Name:  "finalize-only",
		Seed:  5,
		Steps: 300,
		Tasks: []TaskSpec{{Kind: "finalize", Weight: 1}},
		GC:    GCSpec{DebugChecks: true},
	}

	rep, err := Run(w)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Finalized == 0 {
		t.Fatal("expected finalizers to run")
	}
	if uint64(rep.Finalized) != rep.Stats.FinalizersRun {
		t.Errorf("task count %d should match collector count %d",
			rep.Finalized, rep.Stats.FinalizersRun)
	}
	if rep.Usage != 0 {
		t.Errorf("expected an empty heap after settling, %d bytes remain", rep.Usage)
	}
}

func TestRunRejectsInvalidWorkload(t *testing.T) {
	if _, err := Run(Workload{Name: "empty"}); err == nil {
		t.Error("expected validation to reject the workload")
	}
}
