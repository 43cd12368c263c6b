// Package orchestrator owns registered workflow definitions and their
// runtime state: the node and workflow state machines, failure policies,
// parameter resolution and admission, and the reconciliation loop advancing
// everything from externally observed job completions.
package orchestrator

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/graph"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/params"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/queue"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/runner"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/storage"
)

// Logger defines the logging interface for the orchestrator.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// nodeRef resolves an admitted job back to its owning workflow node.
type nodeRef struct {
	workflowID string
	nodeID     string
}

// Orchestrator is the single owner of all in-memory workflow state. Public
// methods may be called concurrently; the internal lock is never held across
// store or runner round trips.
type Orchestrator struct {
	mu        sync.Mutex
	store     storage.JobStore
	queue     *queue.Manager
	runners   map[string]runner.Runner
	emitter   *Emitter
	logger    Logger
	defs      map[string]*models.WorkflowDefinition
	graphs    map[string]*graph.Graph[string]
	nodes     map[string]map[string]*models.WorkflowNode
	states    map[string]*models.WorkflowState
	jobIndex  map[string]nodeRef
	processed map[string]struct{} // terminal job ids already applied, for idempotence
}

// New returns an Orchestrator backed by store and qm. It installs the
// admission gate on qm so pause/cancel take effect for future admissions
// synchronously.
func New(store storage.JobStore, qm *queue.Manager, logger Logger) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		queue:     qm,
		runners:   make(map[string]runner.Runner),
		emitter:   NewEmitter(logger),
		logger:    logger,
		defs:      make(map[string]*models.WorkflowDefinition),
		graphs:    make(map[string]*graph.Graph[string]),
		nodes:     make(map[string]map[string]*models.WorkflowNode),
		states:    make(map[string]*models.WorkflowState),
		jobIndex:  make(map[string]nodeRef),
		processed: make(map[string]struct{}),
	}
	qm.SetGate(o.admissionGate)
	return o
}

// RegisterRunner makes an execution backend available under the given type
// name ("local", "ssh", "slurm", ...).
func (o *Orchestrator) RegisterRunner(name string, r runner.Runner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runners[name] = r
}

// Subscribe returns a channel of lifecycle events and a cancel function.
func (o *Orchestrator) Subscribe(buffer int) (<-chan models.Event, func()) {
	return o.emitter.Subscribe(buffer)
}

// admissionGate blocks queue admission for jobs whose workflow is not
// actively running. Checked synchronously inside Schedule.
func (o *Orchestrator) admissionGate(job models.QueuedJob) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[job.WorkflowID]
	return ok && st.Status == models.RunningWorkflowStatus
}

// Register validates and registers a workflow definition. A cyclic
// dependency set fails with *models.CircularDependencyError and retains no
// partial state, in memory or in the store.
func (o *Orchestrator) Register(def *models.WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	g := graph.New[string]()
	for id, spec := range def.Nodes {
		g.AddNode(id)
		for _, dep := range spec.Dependencies {
			g.AddEdge(id, dep)
		}
	}
	if cycle := g.Validate(); cycle != nil {
		return &models.CircularDependencyError{Cycle: cycle}
	}

	o.mu.Lock()
	if _, ok := o.defs[def.WorkflowID]; ok {
		o.mu.Unlock()
		return errors.Errorf("workflow %q already registered", def.WorkflowID)
	}
	o.mu.Unlock()

	raw, err := json.Marshal(def)
	if err != nil {
		return errors.Wrap(err, "encoding workflow definition")
	}
	now := time.Now()
	if err := o.store.SaveWorkflow(models.Workflow{
		ID:         def.WorkflowID,
		Name:       def.Name,
		Status:     models.PendingWorkflowStatus,
		Definition: raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return errors.Wrapf(err, "persisting workflow %q", def.WorkflowID)
	}

	o.mu.Lock()
	o.commitWorkflow(def, g, now)
	o.mu.Unlock()
	o.logger.Infof("Registered workflow %s with %d nodes", def.WorkflowID, len(def.Nodes))
	return nil
}

// commitWorkflow installs a validated definition into the in-memory maps.
// Caller holds o.mu.
func (o *Orchestrator) commitWorkflow(def *models.WorkflowDefinition, g *graph.Graph[string], createdAt time.Time) {
	nodes := make(map[string]*models.WorkflowNode, len(def.Nodes))
	for id, spec := range def.Nodes {
		nodes[id] = &models.WorkflowNode{
			NodeID:         id,
			JobName:        spec.JobName,
			Template:       spec.Template,
			Parameters:     spec.Parameters,
			Dependencies:   append([]string(nil), spec.Dependencies...),
			Status:         models.PendingNodeStatus,
			FailurePolicy:  def.Policy(spec),
			FallbackPolicy: models.AbortPolicy,
			MaxRetries:     spec.MaxRetries,
			Priority:       spec.Priority,
			RunnerType:     def.Runner(spec),
			Cluster:        spec.Cluster,
		}
	}
	o.defs[def.WorkflowID] = def
	o.graphs[def.WorkflowID] = g
	o.nodes[def.WorkflowID] = nodes
	o.states[def.WorkflowID] = &models.WorkflowState{
		WorkflowID:     def.WorkflowID,
		Status:         models.PendingWorkflowStatus,
		CreatedAt:      createdAt,
		CompletedNodes: make(map[string]struct{}),
		FailedNodes:    make(map[string]struct{}),
		RunningNodes:   make(map[string]struct{}),
		TotalNodes:     len(def.Nodes),
	}
}

// Start moves a registered workflow to RUNNING and admits its root nodes.
func (o *Orchestrator) Start(ctx context.Context, workflowID string) error {
	o.mu.Lock()
	st, ok := o.states[workflowID]
	if !ok {
		o.mu.Unlock()
		return &models.WorkflowNotFoundError{WorkflowID: workflowID}
	}
	if st.Status != models.PendingWorkflowStatus {
		o.mu.Unlock()
		return errors.Errorf("workflow %q is %s, expected PENDING", workflowID, st.Status)
	}
	now := time.Now()
	st.Status = models.RunningWorkflowStatus
	st.StartedAt = &now
	o.mu.Unlock()

	if err := o.store.UpdateWorkflowStatus(workflowID, models.RunningWorkflowStatus); err != nil {
		return errors.Wrapf(err, "persisting start of workflow %q", workflowID)
	}
	o.emitter.Publish(models.Event{Type: models.WorkflowStartedEvent, WorkflowID: workflowID})
	o.admitReady(ctx, workflowID)
	return nil
}

// Pause blocks new admissions for the workflow; running nodes finish
// normally.
func (o *Orchestrator) Pause(workflowID string) error {
	return o.setRunState(workflowID, models.RunningWorkflowStatus, models.PausedWorkflowStatus)
}

// Resume re-enables admission for a paused workflow.
func (o *Orchestrator) Resume(ctx context.Context, workflowID string) error {
	if err := o.setRunState(workflowID, models.PausedWorkflowStatus, models.RunningWorkflowStatus); err != nil {
		return err
	}
	o.admitReady(ctx, workflowID)
	return nil
}

func (o *Orchestrator) setRunState(workflowID string, from, to models.WorkflowStatus) error {
	o.mu.Lock()
	st, ok := o.states[workflowID]
	if !ok {
		o.mu.Unlock()
		return &models.WorkflowNotFoundError{WorkflowID: workflowID}
	}
	if st.Status != from {
		o.mu.Unlock()
		return errors.Errorf("workflow %q is %s, expected %s", workflowID, st.Status, from)
	}
	st.Status = to
	o.mu.Unlock()
	return errors.Wrapf(o.store.UpdateWorkflowStatus(workflowID, to), "persisting %s of workflow %q", to, workflowID)
}

// Cancel terminates the workflow: admission stops immediately, running jobs
// get a best-effort backend cancel, and every non-terminal node is forced
// SKIPPED without waiting for backend acknowledgment.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) error {
	o.mu.Lock()
	st, ok := o.states[workflowID]
	if !ok {
		o.mu.Unlock()
		return &models.WorkflowNotFoundError{WorkflowID: workflowID}
	}
	if st.Status.Terminal() {
		o.mu.Unlock()
		return errors.Errorf("workflow %q is already %s", workflowID, st.Status)
	}
	st.Status = models.CancelledWorkflowStatus
	now := time.Now()
	st.FinishedAt = &now

	type cancelTarget struct {
		jobID      string
		handle     string
		runnerType string
		cluster    string
	}
	var targets []cancelTarget
	for id, n := range o.nodes[workflowID] {
		if n.Status.Terminal() {
			continue
		}
		if n.JobID != "" {
			targets = append(targets, cancelTarget{n.JobID, n.JobHandle, n.RunnerType, n.Cluster})
		}
		n.Status = models.SkippedNodeStatus
		delete(st.RunningNodes, id)
	}
	o.mu.Unlock()

	if err := o.store.UpdateWorkflowStatus(workflowID, models.CancelledWorkflowStatus); err != nil {
		o.logger.Errorf("Failed to persist cancellation of workflow %s: %v", workflowID, err)
	}
	for _, t := range targets {
		if err := o.queue.Cancel(t.jobID); err != nil {
			o.logger.Errorf("Failed to cancel job %s in queue: %v", t.jobID, err)
		}
		if t.handle == "" {
			continue
		}
		if r := o.runnerFor(t.runnerType); r != nil {
			if err := r.Cancel(ctx, runner.Handle{ID: t.handle, RunnerType: t.runnerType, Cluster: t.cluster}); err != nil {
				o.logger.Errorf("Best-effort cancel of job %s failed: %v", t.jobID, err)
			}
		}
	}
	o.emitter.Publish(models.Event{Type: models.WorkflowCancelledEvent, WorkflowID: workflowID})
	o.releaseWorkflowJobs(workflowID)
	o.logger.Infof("Cancelled workflow %s (%d jobs signalled)", workflowID, len(targets))
	return nil
}

// GetStatus returns an immutable snapshot of the workflow's runtime state.
func (o *Orchestrator) GetStatus(workflowID string) (models.StateSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[workflowID]
	if !ok {
		return models.StateSnapshot{}, &models.WorkflowNotFoundError{WorkflowID: workflowID}
	}
	snap := models.StateSnapshot{
		WorkflowID:     st.WorkflowID,
		Status:         st.Status,
		CreatedAt:      st.CreatedAt,
		StartedAt:      st.StartedAt,
		FinishedAt:     st.FinishedAt,
		CompletedNodes: setToSlice(st.CompletedNodes),
		FailedNodes:    setToSlice(st.FailedNodes),
		RunningNodes:   setToSlice(st.RunningNodes),
		NodeStatuses:   make(map[string]models.NodeStatus, len(o.nodes[workflowID])),
	}
	settled := 0
	for id, n := range o.nodes[workflowID] {
		snap.NodeStatuses[id] = n.Status
		if n.Status.Terminal() {
			settled++
		}
	}
	if st.TotalNodes > 0 {
		snap.Progress = float64(settled) / float64(st.TotalNodes)
	}
	return snap, nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// resolveInput is the per-node snapshot handed to the parameter resolver
// outside the lock.
type resolveInput struct {
	node       models.WorkflowNode
	globals    map[string]string
	depResults map[string]map[string]string
	depJobIDs  []string
}

// admitReady claims nodes whose dependencies are all COMPLETED, resolves
// their parameters and hands them to the queue manager. The claim (the
// READY/PENDING to QUEUED transition) happens under the lock, so concurrent
// admitters (a completion pass racing Start or Resume) cannot enqueue the
// same node twice. A resolution failure is a node failure raised before
// submission.
func (o *Orchestrator) admitReady(ctx context.Context, workflowID string) {
	o.mu.Lock()
	st, ok := o.states[workflowID]
	if !ok || st.Status != models.RunningWorkflowStatus {
		o.mu.Unlock()
		return
	}
	def := o.defs[workflowID]
	nodes := o.nodes[workflowID]
	var work []resolveInput
	for _, id := range o.graphs[workflowID].Ready(st.CompletedNodes) {
		n := nodes[id]
		if n == nil {
			continue
		}
		// READY marks a node whose enqueue hit store trouble and is being
		// retried; everything else eligible is still PENDING.
		if n.Status != models.PendingNodeStatus && n.Status != models.ReadyNodeStatus {
			continue
		}
		n.Status = models.QueuedNodeStatus
		in := resolveInput{
			node:       *n,
			globals:    def.GlobalParameters,
			depResults: make(map[string]map[string]string, len(n.Dependencies)),
		}
		for _, dep := range n.Dependencies {
			in.depResults[dep] = nodes[dep].Results
			if jid := nodes[dep].JobID; jid != "" {
				in.depJobIDs = append(in.depJobIDs, jid)
			}
		}
		work = append(work, in)
	}
	o.mu.Unlock()

	for _, in := range work {
		resolved, err := params.Resolve(&in.node, in.globals, in.depResults)
		if err != nil {
			o.logger.Errorf("Parameter resolution for node %s/%s failed: %v", workflowID, in.node.NodeID, err)
			o.failNode(ctx, workflowID, in.node.NodeID, err.Error())
			continue
		}
		jobID, err := o.queue.Enqueue(ctx, models.QueuedJob{
			WorkflowID:   workflowID,
			NodeID:       in.node.NodeID,
			Name:         in.node.JobName,
			Template:     in.node.Template,
			Parameters:   resolved,
			Dependencies: in.depJobIDs,
			Priority:     in.node.Priority,
			RunnerType:   in.node.RunnerType,
			Cluster:      in.node.Cluster,
		})
		if err != nil {
			var unknownDep *models.UnknownDependencyError
			var cycle *models.CircularDependencyError
			if errors.As(err, &unknownDep) || errors.As(err, &cycle) {
				o.failNode(ctx, workflowID, in.node.NodeID, err.Error())
				continue
			}
			// Store trouble: release the claim, the next pass retries.
			o.logger.Errorf("Enqueue of node %s/%s failed: %v", workflowID, in.node.NodeID, err)
			o.mu.Lock()
			if n := o.nodes[workflowID][in.node.NodeID]; n != nil && n.Status == models.QueuedNodeStatus && n.JobID == "" {
				n.Status = models.ReadyNodeStatus
			}
			o.mu.Unlock()
			continue
		}

		o.mu.Lock()
		if n := o.nodes[workflowID][in.node.NodeID]; n != nil && n.Status == models.QueuedNodeStatus && n.JobID == "" {
			n.JobID = jobID
			n.ResolvedParameters = resolved
			o.jobIndex[jobID] = nodeRef{workflowID: workflowID, nodeID: in.node.NodeID}
			o.mu.Unlock()
			continue
		}
		o.mu.Unlock()
		// The node settled (cancel, abort) while the job was being
		// persisted; withdraw the job so nothing submits it.
		if err := o.queue.Cancel(jobID); err != nil {
			o.logger.Errorf("Failed to withdraw job %s for settled node %s/%s: %v", jobID, workflowID, in.node.NodeID, err)
		}
	}
}

// OnJobTerminal applies one externally observed terminal job status to the
// owning node. Idempotent: a terminal job id is processed exactly once no
// matter how often the backend reports it.
func (o *Orchestrator) OnJobTerminal(ctx context.Context, jobID string, status models.JobStatus, results map[string]string, errMsg string) {
	o.mu.Lock()
	if _, done := o.processed[jobID]; done {
		o.mu.Unlock()
		return
	}
	ref, ok := o.jobIndex[jobID]
	if !ok {
		o.mu.Unlock()
		return
	}
	o.processed[jobID] = struct{}{}
	o.mu.Unlock()

	switch status {
	case models.CompletedJobStatus:
		o.completeNode(ctx, ref.workflowID, ref.nodeID, results)
	case models.FailedJobStatus:
		o.failNode(ctx, ref.workflowID, ref.nodeID, errMsg)
	case models.CancelledJobStatus:
		o.skipNode(ctx, ref.workflowID, ref.nodeID)
	}
	o.queue.Remove(jobID)
}

// MarkNodeRunning records a successful submission for the node owning jobID
// and emits NodeStarted.
func (o *Orchestrator) MarkNodeRunning(jobID, handle string) {
	o.mu.Lock()
	ref, ok := o.jobIndex[jobID]
	if !ok {
		o.mu.Unlock()
		return
	}
	st := o.states[ref.workflowID]
	n := o.nodes[ref.workflowID][ref.nodeID]
	if n == nil || n.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	n.Status = models.RunningNodeStatus
	n.JobHandle = handle
	st.RunningNodes[ref.nodeID] = struct{}{}
	o.mu.Unlock()
	o.emitter.Publish(models.Event{Type: models.NodeStartedEvent, WorkflowID: ref.workflowID, NodeID: ref.nodeID})
}

func (o *Orchestrator) completeNode(ctx context.Context, workflowID, nodeID string, results map[string]string) {
	o.mu.Lock()
	st := o.states[workflowID]
	n := o.nodes[workflowID][nodeID]
	if st == nil || n == nil || n.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	n.Status = models.CompletedNodeStatus
	n.Results = results
	delete(st.RunningNodes, nodeID)
	st.CompletedNodes[nodeID] = struct{}{}
	o.mu.Unlock()

	o.emitter.Publish(models.Event{
		Type:       models.NodeCompletedEvent,
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Results:    results,
	})
	o.admitReady(ctx, workflowID)
	o.checkWorkflowTerminal(workflowID)
}

// skipNode forces a node SKIPPED (cancellation observed from the backend).
func (o *Orchestrator) skipNode(ctx context.Context, workflowID, nodeID string) {
	o.mu.Lock()
	st := o.states[workflowID]
	n := o.nodes[workflowID][nodeID]
	if st == nil || n == nil || n.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	n.Status = models.SkippedNodeStatus
	delete(st.RunningNodes, nodeID)
	for _, dep := range o.graphs[workflowID].TransitiveDependents(nodeID) {
		if d := o.nodes[workflowID][dep]; d != nil && !d.Status.Terminal() {
			d.Status = models.SkippedNodeStatus
			delete(st.RunningNodes, dep)
		}
	}
	o.mu.Unlock()
	o.checkWorkflowTerminal(workflowID)
}

// failNode applies the node's failure policy to one observed failure.
func (o *Orchestrator) failNode(ctx context.Context, workflowID, nodeID, errMsg string) {
	o.mu.Lock()
	st := o.states[workflowID]
	nodes := o.nodes[workflowID]
	if st == nil || nodes == nil {
		o.mu.Unlock()
		return
	}
	n := nodes[nodeID]
	if n == nil || n.Status.Terminal() {
		o.mu.Unlock()
		return
	}

	policy := n.FailurePolicy
	if policy == models.RetryPolicy {
		if n.RetryCount < n.MaxRetries {
			n.RetryCount++
			retries := n.RetryCount
			attempts := n.MaxRetries + 1
			if n.JobID != "" {
				delete(o.jobIndex, n.JobID)
				delete(o.processed, n.JobID)
			}
			n.JobID = ""
			n.JobHandle = ""
			n.ResolvedParameters = nil
			n.Status = models.PendingNodeStatus
			delete(st.RunningNodes, nodeID)
			o.mu.Unlock()
			o.logger.Infof("Retrying node %s/%s (attempt %d of %d): %s", workflowID, nodeID, retries+1, attempts, errMsg)
			o.emitter.Publish(models.Event{
				Type:       models.NodeFailedEvent,
				WorkflowID: workflowID,
				NodeID:     nodeID,
				Error:      errMsg,
				RetryCount: retries,
			})
			o.admitReady(ctx, workflowID)
			return
		}
		// Retries exhausted: fall back, never loop.
		policy = n.FallbackPolicy
		if policy == "" || policy == models.RetryPolicy {
			policy = models.AbortPolicy
		}
	}

	n.Status = models.FailedNodeStatus
	n.ErrorMsg = errMsg
	delete(st.RunningNodes, nodeID)
	st.FailedNodes[nodeID] = struct{}{}
	retryCount := n.RetryCount

	type cancelTarget struct {
		jobID      string
		handle     string
		runnerType string
		cluster    string
	}
	var targets []cancelTarget
	skip := func(id string) {
		d := nodes[id]
		if d == nil || d.Status.Terminal() {
			return
		}
		if d.JobID != "" {
			targets = append(targets, cancelTarget{d.JobID, d.JobHandle, d.RunnerType, d.Cluster})
		}
		d.Status = models.SkippedNodeStatus
		delete(st.RunningNodes, id)
	}
	switch policy {
	case models.AbortPolicy:
		for id := range nodes {
			if id != nodeID {
				skip(id)
			}
		}
	case models.SkipDependentsPolicy, models.ContinuePolicy:
		// Only the failure's downstream cone is skipped; independent
		// branches keep running.
		for _, id := range o.graphs[workflowID].TransitiveDependents(nodeID) {
			skip(id)
		}
	}
	o.mu.Unlock()

	o.emitter.Publish(models.Event{
		Type:       models.NodeFailedEvent,
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Error:      errMsg,
		RetryCount: retryCount,
	})
	for _, t := range targets {
		if err := o.queue.Cancel(t.jobID); err != nil {
			o.logger.Errorf("Failed to cancel job %s in queue: %v", t.jobID, err)
		}
		if t.handle == "" {
			continue
		}
		if r := o.runnerFor(t.runnerType); r != nil {
			if err := r.Cancel(ctx, runner.Handle{ID: t.handle, RunnerType: t.runnerType, Cluster: t.cluster}); err != nil {
				o.logger.Errorf("Best-effort cancel of job %s failed: %v", t.jobID, err)
			}
		}
	}
	o.checkWorkflowTerminal(workflowID)
}

// checkWorkflowTerminal transitions the workflow to COMPLETED or FAILED once
// every node is terminal. PAUSED only gates admission, so a paused workflow
// whose last in-flight node settles transitions directly. The status
// transition itself guards the exactly-once emission of the terminal event.
func (o *Orchestrator) checkWorkflowTerminal(workflowID string) {
	o.mu.Lock()
	st := o.states[workflowID]
	nodes := o.nodes[workflowID]
	if st == nil || (st.Status != models.RunningWorkflowStatus && st.Status != models.PausedWorkflowStatus) {
		o.mu.Unlock()
		return
	}
	for _, n := range nodes {
		if !n.Status.Terminal() {
			o.mu.Unlock()
			return
		}
	}
	// Partial failure is explicit: any FAILED node makes the workflow FAILED
	// even when independent branches completed.
	final := models.CompletedWorkflowStatus
	if len(st.FailedNodes) > 0 {
		final = models.FailedWorkflowStatus
	}
	st.Status = final
	now := time.Now()
	st.FinishedAt = &now
	o.mu.Unlock()

	if err := o.store.UpdateWorkflowStatus(workflowID, final); err != nil {
		o.logger.Errorf("Failed to persist terminal status of workflow %s: %v", workflowID, err)
	}
	evType := models.WorkflowCompletedEvent
	if final == models.FailedWorkflowStatus {
		evType = models.WorkflowFailedEvent
	}
	o.emitter.Publish(models.Event{Type: evType, WorkflowID: workflowID})
	o.releaseWorkflowJobs(workflowID)
	o.logger.Infof("Workflow %s reached terminal status %s", workflowID, final)
}

// releaseWorkflowJobs drops a terminal workflow's jobs from the reverse
// index, the processed set and the queue's memory. The persisted records
// stay; only the runtime bookkeeping is reclaimed.
func (o *Orchestrator) releaseWorkflowJobs(workflowID string) {
	o.mu.Lock()
	var jobIDs []string
	for _, n := range o.nodes[workflowID] {
		if n.JobID == "" {
			continue
		}
		jobIDs = append(jobIDs, n.JobID)
		delete(o.jobIndex, n.JobID)
		delete(o.processed, n.JobID)
	}
	o.mu.Unlock()
	for _, id := range jobIDs {
		o.queue.Remove(id)
	}
}

func (o *Orchestrator) runnerFor(runnerType string) runner.Runner {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runners[runnerType]
}

// nodeHandle looks up the backend handle of a node, for output streaming and
// result collection.
func (o *Orchestrator) nodeHandle(workflowID, nodeID string) (runner.Handle, runner.Runner, error) {
	o.mu.Lock()
	nodes, ok := o.nodes[workflowID]
	if !ok {
		o.mu.Unlock()
		return runner.Handle{}, nil, &models.WorkflowNotFoundError{WorkflowID: workflowID}
	}
	n, ok := nodes[nodeID]
	if !ok {
		o.mu.Unlock()
		return runner.Handle{}, nil, errors.Errorf("node %q not found in workflow %q", nodeID, workflowID)
	}
	if n.JobHandle == "" {
		o.mu.Unlock()
		return runner.Handle{}, nil, errors.Errorf("node %q has not been submitted", nodeID)
	}
	h := runner.Handle{ID: n.JobHandle, RunnerType: n.RunnerType, Cluster: n.Cluster}
	r := o.runners[n.RunnerType]
	o.mu.Unlock()
	if r == nil {
		return runner.Handle{}, nil, errors.Errorf("no runner registered for type %q", h.RunnerType)
	}
	return h, r, nil
}

// StreamOutput returns the live output lines of a submitted node.
func (o *Orchestrator) StreamOutput(ctx context.Context, workflowID, nodeID string) (<-chan string, error) {
	h, r, err := o.nodeHandle(workflowID, nodeID)
	if err != nil {
		return nil, err
	}
	return r.StreamOutput(ctx, h)
}

// CollectResults retrieves a finished node's artifacts into destination.
func (o *Orchestrator) CollectResults(ctx context.Context, workflowID, nodeID, destination string) (runner.RetrieveResult, error) {
	h, r, err := o.nodeHandle(workflowID, nodeID)
	if err != nil {
		return runner.RetrieveResult{}, err
	}
	return r.RetrieveResults(ctx, h, destination)
}

// Close shuts down event delivery.
func (o *Orchestrator) Close() {
	o.emitter.Close()
}
