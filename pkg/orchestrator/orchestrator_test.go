package orchestrator

import "testing"

func TestScheduleAssignsFittingNode(t *testing.T) {
	o := New(DefaultConfig())
	o.RegisterNode(&Node{
		ID:       "node-1",
		Status:   NodeStatusReady,
		Capacity: Resources{CPU: 4, Memory: 8, Storage: 100},
		Available: Resources{CPU: 4, Memory: 8, Storage: 100},
	})
	o.SubmitWorkload(&Workload{ID: "w1", Requirements: Resources{CPU: 2, Memory: 2, Storage: 10}})

	n, err := o.Schedule()
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if n != 1 {
		t.Fatalf("scheduled = %d, want 1", n)
	}
	if o.Snapshot().TotalScheduled != 1 {
		t.Fatalf("TotalScheduled = %d, want 1", o.Snapshot().TotalScheduled)
	}
}

func TestScheduleFailsWithoutCapacity(t *testing.T) {
	o := New(DefaultConfig())
	o.RegisterNode(&Node{
		ID:        "node-1",
		Status:    NodeStatusReady,
		Capacity:  Resources{CPU: 1, Memory: 1, Storage: 1},
		Available: Resources{CPU: 1, Memory: 1, Storage: 1},
	})
	o.SubmitWorkload(&Workload{ID: "w1", Requirements: Resources{CPU: 10, Memory: 10, Storage: 10}})

	n, err := o.Schedule()
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if n != 0 {
		t.Fatalf("scheduled = %d, want 0", n)
	}
	if o.Snapshot().FailedSchedules != 1 {
		t.Fatalf("FailedSchedules = %d, want 1", o.Snapshot().FailedSchedules)
	}
}

func TestCompleteWorkloadReleasesResources(t *testing.T) {
	o := New(DefaultConfig())
	o.RegisterNode(&Node{
		ID:        "node-1",
		Status:    NodeStatusReady,
		Capacity:  Resources{CPU: 4},
		Available: Resources{CPU: 4},
	})
	o.SubmitWorkload(&Workload{ID: "w1", Requirements: Resources{CPU: 3}})
	if _, err := o.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if err := o.CompleteWorkload("w1", true); err != nil {
		t.Fatalf("CompleteWorkload: %v", err)
	}
	if u := o.Utilization(); u != 0 {
		t.Fatalf("Utilization after completion = %v, want 0", u)
	}
}

func TestCheckNodeHealthMarksFailedAfterThreshold(t *testing.T) {
	o := New(DefaultConfig())
	o.RegisterNode(&Node{ID: "node-1", Status: NodeStatusReady})

	for i := 0; i < DefaultConfig().UnhealthyAfter; i++ {
		if err := o.CheckNodeHealth("node-1", false); err != nil {
			t.Fatalf("CheckNodeHealth: %v", err)
		}
	}

	o.mu.RLock()
	status := o.nodes["node-1"].Status
	o.mu.RUnlock()
	if status != NodeStatusFailed {
		t.Fatalf("node status = %v, want failed", status)
	}
	if o.Snapshot().NodesMarkedFailed != 1 {
		t.Fatalf("NodesMarkedFailed = %d, want 1", o.Snapshot().NodesMarkedFailed)
	}
}

func twoNodeCluster(algo SchedulingAlgorithm) *Orchestrator {
	cfg := DefaultConfig()
	cfg.Algorithm = algo
	o := New(cfg)
	o.RegisterNode(&Node{
		ID:        "n1",
		Status:    NodeStatusReady,
		Capacity:  Resources{CPU: 8, Memory: 32},
		Available: Resources{CPU: 8, Memory: 32},
	})
	o.RegisterNode(&Node{
		ID:        "n2",
		Status:    NodeStatusReady,
		Capacity:  Resources{CPU: 16, Memory: 64},
		Available: Resources{CPU: 16, Memory: 64},
	})
	return o
}

func TestScheduleResourceBasedPicksSmallestSlack(t *testing.T) {
	o := twoNodeCluster(ResourceBased)
	o.SubmitWorkload(&Workload{ID: "w1", Requirements: Resources{CPU: 2, Memory: 4}})
	if _, err := o.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := o.workloads["w1"].NodeID; got != "n1" {
		t.Fatalf("ResourceBased placed workload on %s, want n1", got)
	}
}

func TestScheduleWorstFitPicksLargestSlack(t *testing.T) {
	o := twoNodeCluster(WorstFit)
	o.SubmitWorkload(&Workload{ID: "w1", Requirements: Resources{CPU: 2, Memory: 4}})
	if _, err := o.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := o.workloads["w1"].NodeID; got != "n2" {
		t.Fatalf("WorstFit placed workload on %s, want n2", got)
	}
}

func TestScheduleRoundRobinAlternatesNodes(t *testing.T) {
	o := twoNodeCluster(RoundRobin)
	o.SubmitWorkload(&Workload{ID: "w1", Requirements: Resources{CPU: 1, Memory: 1}})
	o.SubmitWorkload(&Workload{ID: "w2", Requirements: Resources{CPU: 1, Memory: 1}})
	if _, err := o.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	n1, n2 := o.workloads["w1"].NodeID, o.workloads["w2"].NodeID
	if n1 == n2 {
		t.Fatalf("round robin placed both workloads on %s", n1)
	}
}

func TestScheduleAffinityBasedPrefersRequestedNode(t *testing.T) {
	o := twoNodeCluster(AffinityBased)
	o.SubmitWorkload(&Workload{ID: "w1", Requirements: Resources{CPU: 2, Memory: 4}, NodeAffinity: "n2"})
	if _, err := o.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := o.workloads["w1"].NodeID; got != "n2" {
		t.Fatalf("AffinityBased placed workload on %s, want n2", got)
	}
}

func TestScheduleAffinityBasedFallsBackWhenUnfit(t *testing.T) {
	o := twoNodeCluster(AffinityBased)
	o.SubmitWorkload(&Workload{ID: "w1", Requirements: Resources{CPU: 2, Memory: 4}, NodeAffinity: "does-not-exist"})
	if _, err := o.Schedule(); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := o.workloads["w1"].NodeID; got != "n1" {
		t.Fatalf("AffinityBased fallback placed workload on %s, want n1 (first fit)", got)
	}
}

func TestEvaluateScalingDecision(t *testing.T) {
	o := New(DefaultConfig())
	o.RegisterNode(&Node{
		ID:        "node-1",
		Status:    NodeStatusReady,
		Capacity:  Resources{CPU: 10},
		Available: Resources{CPU: 1},
	})

	var got ScaleDecision
	o.SetScaleCallback(func(decision ScaleDecision, utilization float64) {
		got = decision
	})
	o.evaluateScaling()

	if got != ScaleUp {
		t.Fatalf("decision = %v, want ScaleUp", got)
	}
}
