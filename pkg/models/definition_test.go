package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
)

const sampleDefinition = `
workflow_id: si-bands
name: silicon bandstructure
global_parameters:
  basis_set: pob-TZVP
default_failure_policy: SKIP_DEPENDENTS
default_runner_type: slurm
nodes:
  relax:
    job_name: relax
    template: opt
    failure_policy: RETRY
    max_retries: 2
    priority: 5
  scf:
    job_name: scf
    template: scf
    dependencies: [relax]
    parameters:
      structure: "${relax.final_structure}"
    runner_type: local
  bands:
    job_name: bands
    template: bands
    dependencies: [scf]
    cluster: hpc1
`

func TestParseDefinition(t *testing.T) {
	def, err := models.ParseDefinition([]byte(sampleDefinition))
	assert.NoError(t, err)
	assert.Equal(t, "si-bands", def.WorkflowID)
	assert.Equal(t, "silicon bandstructure", def.Name)
	assert.Len(t, def.Nodes, 3)
	assert.Equal(t, "pob-TZVP", def.GlobalParameters["basis_set"])

	relax := def.Nodes["relax"]
	assert.Equal(t, models.RetryPolicy, relax.FailurePolicy)
	assert.Equal(t, 2, relax.MaxRetries)
	assert.Equal(t, 5, relax.Priority)

	scf := def.Nodes["scf"]
	assert.Equal(t, []string{"relax"}, scf.Dependencies)
	assert.Equal(t, "${relax.final_structure}", scf.Parameters["structure"])
}

func TestParseDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "not yaml",
			yaml:    "{{nope",
			wantErr: "parse workflow definition",
		},
		{
			name:    "missing workflow id",
			yaml:    "nodes:\n  a:\n    job_name: a\n",
			wantErr: "missing workflow_id",
		},
		{
			name:    "no nodes",
			yaml:    "workflow_id: wf\n",
			wantErr: "no nodes",
		},
		{
			name:    "bad policy",
			yaml:    "workflow_id: wf\nnodes:\n  a:\n    job_name: a\n    failure_policy: EXPLODE\n",
			wantErr: "unknown failure policy",
		},
		{
			name:    "bad default policy",
			yaml:    "workflow_id: wf\ndefault_failure_policy: EXPLODE\nnodes:\n  a:\n    job_name: a\n",
			wantErr: "unknown default failure policy",
		},
		{
			name:    "negative retries",
			yaml:    "workflow_id: wf\nnodes:\n  a:\n    job_name: a\n    max_retries: -1\n",
			wantErr: "negative max_retries",
		},
		{
			name:    "undeclared dependency",
			yaml:    "workflow_id: wf\nnodes:\n  a:\n    job_name: a\n    dependencies: [ghost]\n",
			wantErr: "undeclared",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := models.ParseDefinition([]byte(tt.yaml))
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefinitionDefaults(t *testing.T) {
	def, err := models.ParseDefinition([]byte(sampleDefinition))
	assert.NoError(t, err)

	// Node-level settings win over workflow defaults, which win over the
	// built-in fallbacks.
	assert.Equal(t, models.RetryPolicy, def.Policy(def.Nodes["relax"]))
	assert.Equal(t, models.SkipDependentsPolicy, def.Policy(def.Nodes["scf"]))
	assert.Equal(t, "local", def.Runner(def.Nodes["scf"]))
	assert.Equal(t, "slurm", def.Runner(def.Nodes["bands"]))

	bare := &models.WorkflowDefinition{
		WorkflowID: "wf",
		Nodes:      map[string]models.NodeSpec{"a": {JobName: "a"}},
	}
	assert.Equal(t, models.AbortPolicy, bare.Policy(bare.Nodes["a"]))
	assert.Equal(t, "local", bare.Runner(bare.Nodes["a"]))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, models.PendingNodeStatus.Terminal())
	assert.False(t, models.ReadyNodeStatus.Terminal())
	assert.False(t, models.QueuedNodeStatus.Terminal())
	assert.False(t, models.RunningNodeStatus.Terminal())
	assert.True(t, models.CompletedNodeStatus.Terminal())
	assert.True(t, models.FailedNodeStatus.Terminal())
	assert.True(t, models.SkippedNodeStatus.Terminal())

	assert.False(t, models.PausedWorkflowStatus.Terminal())
	assert.True(t, models.CancelledWorkflowStatus.Terminal())

	assert.False(t, models.UnknownJobStatus.Terminal())
	assert.True(t, models.CancelledJobStatus.Terminal())
}
