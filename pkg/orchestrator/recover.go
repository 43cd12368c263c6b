package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/graph"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
)

// Recover rebuilds in-memory state after a process restart. The store is the
// source of truth: registered definitions come back from the workflows
// table, node state is reconstructed from a batch read of the jobs created
// for each workflow. Correctness is preserved across the restart; only
// responsiveness is lost until the next reconciliation pass.
func (o *Orchestrator) Recover(ctx context.Context) error {
	workflows, err := o.store.ListWorkflows()
	if err != nil {
		return errors.Wrap(err, "listing workflows for recovery")
	}
	for _, wf := range workflows {
		if wf.Status.Terminal() {
			continue
		}
		if err := o.recoverWorkflow(ctx, wf); err != nil {
			o.logger.Errorf("Failed to recover workflow %s: %v", wf.ID, err)
			continue
		}
		o.logger.Infof("Recovered workflow %s (%s)", wf.ID, wf.Status)
	}
	return nil
}

func (o *Orchestrator) recoverWorkflow(ctx context.Context, wf models.Workflow) error {
	var def models.WorkflowDefinition
	if err := json.Unmarshal(wf.Definition, &def); err != nil {
		return errors.Wrapf(err, "decoding stored definition of workflow %q", wf.ID)
	}
	g := graph.New[string]()
	for id, spec := range def.Nodes {
		g.AddNode(id)
		for _, dep := range spec.Dependencies {
			g.AddEdge(id, dep)
		}
	}

	jobs, err := o.store.ListJobs(wf.ID)
	if err != nil {
		return errors.Wrapf(err, "listing jobs of workflow %q", wf.ID)
	}

	o.mu.Lock()
	if _, ok := o.defs[wf.ID]; ok {
		o.mu.Unlock()
		return nil // already live, nothing to rebuild
	}
	o.commitWorkflow(&def, g, wf.CreatedAt)
	st := o.states[wf.ID]
	st.Status = wf.Status
	nodes := o.nodes[wf.ID]

	var resultJobs []string // completed jobs whose results we still need
	for i := range jobs {
		job := jobs[i]
		n, ok := nodes[job.NodeID]
		if !ok {
			continue // job for a node the stored definition no longer has
		}
		n.JobID = job.ID
		n.JobHandle = job.Handle
		switch job.Status {
		case models.PendingJobStatus:
			n.Status = models.QueuedNodeStatus
			o.jobIndex[job.ID] = nodeRef{workflowID: wf.ID, nodeID: job.NodeID}
		case models.QueuedJobStatus:
			n.Status = models.QueuedNodeStatus
			o.jobIndex[job.ID] = nodeRef{workflowID: wf.ID, nodeID: job.NodeID}
		case models.RunningJobStatus:
			n.Status = models.RunningNodeStatus
			st.RunningNodes[job.NodeID] = struct{}{}
			o.jobIndex[job.ID] = nodeRef{workflowID: wf.ID, nodeID: job.NodeID}
		case models.CompletedJobStatus:
			n.Status = models.CompletedNodeStatus
			st.CompletedNodes[job.NodeID] = struct{}{}
			o.processed[job.ID] = struct{}{}
			resultJobs = append(resultJobs, job.ID)
		case models.FailedJobStatus:
			n.Status = models.FailedNodeStatus
			n.ErrorMsg = job.ErrorMsg
			st.FailedNodes[job.NodeID] = struct{}{}
			o.processed[job.ID] = struct{}{}
		case models.CancelledJobStatus:
			n.Status = models.SkippedNodeStatus
			o.processed[job.ID] = struct{}{}
		}
	}
	o.mu.Unlock()

	// Completed dependency results feed downstream parameter resolution, so
	// they have to come back before admission resumes.
	nodeByJob := make(map[string]string, len(jobs))
	for i := range jobs {
		nodeByJob[jobs[i].ID] = jobs[i].NodeID
	}
	for _, jobID := range resultJobs {
		results, err := o.store.GetJobResults(jobID)
		if err != nil {
			o.logger.Errorf("Failed to load results of job %s: %v", jobID, err)
			continue
		}
		o.mu.Lock()
		if n := nodes[nodeByJob[jobID]]; n != nil {
			n.Results = results
		}
		o.mu.Unlock()
	}

	// Put non-terminal jobs back under queue management.
	for i := range jobs {
		if !jobs[i].Status.Terminal() {
			o.queue.Restore(jobs[i])
		}
	}
	if wf.Status == models.RunningWorkflowStatus {
		o.admitReady(ctx, wf.ID)
		o.checkWorkflowTerminal(wf.ID)
	}
	return nil
}
