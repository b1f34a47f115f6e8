// Package orchestrator schedules workloads onto cluster nodes, tracks node
// and workload health, and runs an auto-scaling control loop. New domain
// code grounded on the teacher's control-loop idiom
// (pkg/consensus/health_monitor.go: ticker-driven loop, context
// cancellation, mutex-guarded state, DefaultXConfig constructors) and
// supplemented from original_source's auto_orchestration_impl.rs for
// scheduling and auto-scaling semantics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrNoSuitableNode    = errors.New("orchestrator: no node has capacity for the workload")
	ErrWorkloadNotFound  = errors.New("orchestrator: workload not found")
	ErrNodeNotFound      = errors.New("orchestrator: node not found")
)

// NodeStatus is a node's place in its lifecycle state machine.
type NodeStatus string

const (
	NodeStatusPending  NodeStatus = "pending"
	NodeStatusReady    NodeStatus = "ready"
	NodeStatusDraining NodeStatus = "draining"
	NodeStatusFailed   NodeStatus = "failed"
)

// WorkloadPhase is a workload's place in its lifecycle state machine.
type WorkloadPhase string

const (
	WorkloadPending   WorkloadPhase = "pending"
	WorkloadRunning   WorkloadPhase = "running"
	WorkloadSucceeded WorkloadPhase = "succeeded"
	WorkloadFailed    WorkloadPhase = "failed"
)

// Resources describes capacity or a requirement, in the same units on
// both sides so a direct comparison decides fit.
type Resources struct {
	CPU     float64
	Memory  float64
	Storage float64
}

// Fits reports whether available can satisfy a request for req.
func (available Resources) Fits(req Resources) bool {
	return available.CPU >= req.CPU && available.Memory >= req.Memory && available.Storage >= req.Storage
}

func (available Resources) sub(req Resources) Resources {
	return Resources{
		CPU:     maxZero(available.CPU - req.CPU),
		Memory:  maxZero(available.Memory - req.Memory),
		Storage: maxZero(available.Storage - req.Storage),
	}
}

func maxZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// Node is a schedulable unit of cluster capacity.
type Node struct {
	ID        string
	Status    NodeStatus
	Capacity  Resources
	Available Resources
	Workloads map[string]bool

	consecutiveFailures int
	lastHealthCheck     time.Time
}

// Workload is a unit of work the scheduler assigns to a node.
type Workload struct {
	ID           string
	Requirements Resources
	Phase        WorkloadPhase
	NodeID       string

	// NodeAffinity, if set, names the node AffinityBased scheduling should
	// prefer. If that node is not Ready or lacks capacity, AffinityBased
	// falls back to FirstFit.
	NodeAffinity string
}

// SchedulingAlgorithm picks which node a workload lands on.
type SchedulingAlgorithm string

const (
	// FirstFit picks the first Ready node (by ID, for determinism) with
	// enough available capacity.
	FirstFit SchedulingAlgorithm = "first_fit"
	// BestFit and ResourceBased are aliases: both pick the Ready, fitting
	// node that would be left with the smallest total slack across CPU,
	// memory and storage after placement, packing workloads as tightly as
	// possible.
	BestFit       SchedulingAlgorithm = "best_fit"
	ResourceBased SchedulingAlgorithm = "resource_based"
	// WorstFit picks the Ready, fitting node with the largest post-placement
	// slack, spreading workloads across the least-loaded capacity.
	WorstFit SchedulingAlgorithm = "worst_fit"
	// RoundRobin rotates through Ready, fitting nodes in ID order.
	RoundRobin SchedulingAlgorithm = "round_robin"
	// AffinityBased prefers a workload's requested node, falling back to
	// FirstFit when that node can't take the workload.
	AffinityBased SchedulingAlgorithm = "affinity_based"
)

// Config bounds the orchestrator's scheduling and auto-scaling behavior.
type Config struct {
	Algorithm         SchedulingAlgorithm
	ScaleUpThreshold  float64 // fraction of total capacity in use
	ScaleDownThreshold float64
	HealthCheckInterval time.Duration
	UnhealthyAfter    int // consecutive failed checks before a node is marked failed
}

// DefaultConfig mirrors the thresholds the original auto-orchestration
// implementation ships with.
func DefaultConfig() Config {
	return Config{
		Algorithm:           ResourceBased,
		ScaleUpThreshold:    0.8,
		ScaleDownThreshold:  0.3,
		HealthCheckInterval: 10 * time.Second,
		UnhealthyAfter:      3,
	}
}

// Metrics tracks the orchestrator's lifetime scheduling and health
// activity.
type Metrics struct {
	TotalScheduled   uint64
	FailedSchedules  uint64
	NodesMarkedFailed uint64
	HealthChecks     uint64
}

// ScaleDecision is what the auto-scaling loop concluded on its last pass.
type ScaleDecision string

const (
	ScaleNone ScaleDecision = "none"
	ScaleUp   ScaleDecision = "scale_up"
	ScaleDown ScaleDecision = "scale_down"
)

// ScaleCallback is invoked when the control loop decides to scale. The
// orchestrator has no cloud-provider integration of its own; callers wire
// one in.
type ScaleCallback func(decision ScaleDecision, utilization float64)

// Orchestrator schedules workloads onto nodes and runs the auto-scaling
// health loop.
type Orchestrator struct {
	mu sync.RWMutex

	config    Config
	nodes     map[string]*Node
	workloads map[string]*Workload
	metrics   Metrics

	roundRobinCursor int

	onScale ScaleCallback
	logger  *log.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates an Orchestrator bound to cfg.
func New(cfg Config) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		config:    cfg,
		nodes:     make(map[string]*Node),
		workloads: make(map[string]*Workload),
		logger:    log.New(log.Writer(), "[orchestrator] ", log.LstdFlags),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetScaleCallback registers fn to be invoked whenever the control loop
// decides to scale up or down.
func (o *Orchestrator) SetScaleCallback(fn ScaleCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onScale = fn
}

// RegisterNode adds n to the cluster.
func (o *Orchestrator) RegisterNode(n *Node) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n.Workloads == nil {
		n.Workloads = make(map[string]bool)
	}
	n.lastHealthCheck = time.Now()
	o.nodes[n.ID] = n
}

// SubmitWorkload queues w for scheduling.
func (o *Orchestrator) SubmitWorkload(w *Workload) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w.Phase = WorkloadPending
	o.workloads[w.ID] = w
}

// Schedule attempts to place every pending workload onto a node with
// capacity, returning how many were scheduled.
func (o *Orchestrator) Schedule() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	scheduled := 0
	for _, w := range o.workloads {
		if w.Phase != WorkloadPending {
			continue
		}
		node := o.findSuitableNodeLocked(w)
		if node == nil {
			o.metrics.FailedSchedules++
			continue
		}
		node.Available = node.Available.sub(w.Requirements)
		node.Workloads[w.ID] = true
		w.Phase = WorkloadRunning
		w.NodeID = node.ID
		scheduled++
		o.metrics.TotalScheduled++
	}
	return scheduled, nil
}

// findSuitableNodeLocked implements find_suitable_node: it walks the Ready
// nodes with enough available capacity for w.Requirements and picks among
// them according to o.config.Algorithm. Callers must hold o.mu.
func (o *Orchestrator) findSuitableNodeLocked(w *Workload) *Node {
	req := w.Requirements

	switch o.config.Algorithm {
	case BestFit, ResourceBased:
		return o.pickBySlackLocked(req, false)
	case WorstFit:
		return o.pickBySlackLocked(req, true)
	case RoundRobin:
		return o.pickRoundRobinLocked(req)
	case AffinityBased:
		if w.NodeAffinity != "" {
			if n, ok := o.nodes[w.NodeAffinity]; ok && n.Status == NodeStatusReady && n.Available.Fits(req) {
				return n
			}
		}
		return o.pickFirstFitLocked(req)
	default:
		return o.pickFirstFitLocked(req)
	}
}

// readyFittingNodesLocked returns the nodes able to take req, sorted by ID
// so iteration order never depends on Go's randomized map order.
func (o *Orchestrator) readyFittingNodesLocked(req Resources) []*Node {
	var fitting []*Node
	for _, n := range o.nodes {
		if n.Status == NodeStatusReady && n.Available.Fits(req) {
			fitting = append(fitting, n)
		}
	}
	sort.Slice(fitting, func(i, j int) bool { return fitting[i].ID < fitting[j].ID })
	return fitting
}

func (o *Orchestrator) pickFirstFitLocked(req Resources) *Node {
	fitting := o.readyFittingNodesLocked(req)
	if len(fitting) == 0 {
		return nil
	}
	return fitting[0]
}

// pickBySlackLocked picks the fitting node with the smallest post-placement
// slack (best fit) or the largest (worst fit), where slack is the sum of
// CPU, memory and storage left over after req is deducted.
func (o *Orchestrator) pickBySlackLocked(req Resources, worst bool) *Node {
	fitting := o.readyFittingNodesLocked(req)
	if len(fitting) == 0 {
		return nil
	}
	best := fitting[0]
	bestSlack := slack(best.Available.sub(req))
	for _, n := range fitting[1:] {
		s := slack(n.Available.sub(req))
		if (worst && s > bestSlack) || (!worst && s < bestSlack) {
			best, bestSlack = n, s
		}
	}
	return best
}

func slack(r Resources) float64 {
	return r.CPU + r.Memory + r.Storage
}

// pickRoundRobinLocked rotates through the fitting Ready nodes, advancing a
// persistent cursor each call so repeated scheduling passes spread load
// evenly instead of always starting from the same node.
func (o *Orchestrator) pickRoundRobinLocked(req Resources) *Node {
	fitting := o.readyFittingNodesLocked(req)
	if len(fitting) == 0 {
		return nil
	}
	n := fitting[o.roundRobinCursor%len(fitting)]
	o.roundRobinCursor++
	return n
}

// CompleteWorkload marks a running workload as finished, releasing its
// reserved resources back to its node.
func (o *Orchestrator) CompleteWorkload(id string, succeeded bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.workloads[id]
	if !ok {
		return ErrWorkloadNotFound
	}
	node, ok := o.nodes[w.NodeID]
	if ok {
		delete(node.Workloads, id)
		node.Available = Resources{
			CPU:     node.Available.CPU + w.Requirements.CPU,
			Memory:  node.Available.Memory + w.Requirements.Memory,
			Storage: node.Available.Storage + w.Requirements.Storage,
		}
	}
	if succeeded {
		w.Phase = WorkloadSucceeded
	} else {
		w.Phase = WorkloadFailed
	}
	return nil
}

// Utilization returns the cluster's current fraction of CPU capacity in
// use across ready nodes.
func (o *Orchestrator) Utilization() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.utilizationLocked()
}

func (o *Orchestrator) utilizationLocked() float64 {
	var totalCPU, availableCPU float64
	for _, n := range o.nodes {
		if n.Status != NodeStatusReady {
			continue
		}
		totalCPU += n.Capacity.CPU
		availableCPU += n.Available.CPU
	}
	if totalCPU == 0 {
		return 0
	}
	return (totalCPU - availableCPU) / totalCPU
}

// Snapshot returns a copy of the orchestrator's lifetime metrics.
func (o *Orchestrator) Snapshot() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.metrics
}

// Start begins the periodic health-check and auto-scaling loop.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: already running")
	}
	o.running = true
	o.mu.Unlock()

	go o.loop()
	return nil
}

// Stop halts the control loop.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.cancel()
	o.running = false
}

func (o *Orchestrator) loop() {
	ticker := time.NewTicker(o.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.tick()
		}
	}
}

func (o *Orchestrator) tick() {
	o.checkNodeHealth()
	if _, err := o.Schedule(); err != nil {
		o.logger.Printf("schedule: %v", err)
	}
	o.evaluateScaling()
}

// CheckNodeHealth reports healthy for nodeID, updating its consecutive-failure count
// and demoting it to Failed once UnhealthyAfter consecutive checks fail.
func (o *Orchestrator) CheckNodeHealth(nodeID string, healthy bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	n, ok := o.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}
	o.metrics.HealthChecks++
	n.lastHealthCheck = time.Now()

	if healthy {
		n.consecutiveFailures = 0
		if n.Status == NodeStatusFailed {
			n.Status = NodeStatusReady
		}
		return nil
	}

	n.consecutiveFailures++
	if n.consecutiveFailures >= o.config.UnhealthyAfter && n.Status != NodeStatusFailed {
		n.Status = NodeStatusFailed
		o.metrics.NodesMarkedFailed++
		o.logger.Printf("node %s marked failed after %d consecutive health check failures", nodeID, n.consecutiveFailures)
	}
	return nil
}

func (o *Orchestrator) checkNodeHealth() {
	// The orchestrator has no probe transport of its own; callers that
	// need liveness polling call CheckNodeHealth directly from whatever
	// agent reports node status. This hook exists so the control loop has
	// a single place to extend once a probe mechanism is wired in.
}

func (o *Orchestrator) evaluateScaling() {
	o.mu.RLock()
	utilization := o.utilizationLocked()
	cb := o.onScale
	upThreshold := o.config.ScaleUpThreshold
	downThreshold := o.config.ScaleDownThreshold
	o.mu.RUnlock()

	decision := ScaleNone
	switch {
	case utilization >= upThreshold:
		decision = ScaleUp
	case utilization <= downThreshold:
		decision = ScaleDown
	}

	clusterUtilization.Set(utilization)
	if decision != ScaleNone && cb != nil {
		cb(decision, utilization)
	}
}

var clusterUtilization = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "cluster_cpu_utilization_ratio",
	Help: "Fraction of ready-node CPU capacity currently in use.",
})
