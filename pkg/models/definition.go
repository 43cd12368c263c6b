package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// NodeSpec is the declarative description of one workflow step as it appears
// in a workflow definition file.
type NodeSpec struct {
	JobName       string            `json:"job_name" yaml:"job_name"`
	Template      string            `json:"template" yaml:"template"`
	Parameters    map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Dependencies  []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	FailurePolicy FailurePolicy     `json:"failure_policy,omitempty" yaml:"failure_policy,omitempty"`
	MaxRetries    int               `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Priority      int               `json:"priority,omitempty" yaml:"priority,omitempty"`
	RunnerType    string            `json:"runner_type,omitempty" yaml:"runner_type,omitempty"`
	Cluster       string            `json:"cluster,omitempty" yaml:"cluster,omitempty"`
}

// WorkflowDefinition is the immutable description of a workflow: its nodes,
// their dependency edges and the defaults applied to nodes that do not set
// their own. Definitions are validated once at registration.
type WorkflowDefinition struct {
	WorkflowID           string              `json:"workflow_id" yaml:"workflow_id"`
	Name                 string              `json:"name" yaml:"name"`
	Nodes                map[string]NodeSpec `json:"nodes" yaml:"nodes"`
	GlobalParameters     map[string]string   `json:"global_parameters,omitempty" yaml:"global_parameters,omitempty"`
	DefaultFailurePolicy FailurePolicy       `json:"default_failure_policy,omitempty" yaml:"default_failure_policy,omitempty"`
	DefaultRunnerType    string              `json:"default_runner_type,omitempty" yaml:"default_runner_type,omitempty"`
}

// ParseDefinition decodes a YAML workflow definition and runs basic field
// validation. Graph-level validation (cycles) is the orchestrator's job.
func ParseDefinition(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks field-level constraints: ids present, policies known,
// dependency references pointing at declared nodes.
func (d *WorkflowDefinition) Validate() error {
	if d.WorkflowID == "" {
		return fmt.Errorf("workflow definition missing workflow_id")
	}
	if len(d.Nodes) == 0 {
		return fmt.Errorf("workflow %q has no nodes", d.WorkflowID)
	}
	if d.DefaultFailurePolicy != "" && !ValidFailurePolicy(d.DefaultFailurePolicy) {
		return fmt.Errorf("workflow %q: unknown default failure policy %q", d.WorkflowID, d.DefaultFailurePolicy)
	}
	for id, spec := range d.Nodes {
		if id == "" {
			return fmt.Errorf("workflow %q contains a node with an empty id", d.WorkflowID)
		}
		if spec.FailurePolicy != "" && !ValidFailurePolicy(spec.FailurePolicy) {
			return fmt.Errorf("node %q: unknown failure policy %q", id, spec.FailurePolicy)
		}
		if spec.MaxRetries < 0 {
			return fmt.Errorf("node %q: negative max_retries", id)
		}
		for _, dep := range spec.Dependencies {
			if _, ok := d.Nodes[dep]; !ok {
				return fmt.Errorf("node %q depends on undeclared node %q", id, dep)
			}
		}
	}
	return nil
}

// Policy returns the failure policy effective for the given node spec.
func (d *WorkflowDefinition) Policy(spec NodeSpec) FailurePolicy {
	if spec.FailurePolicy != "" {
		return spec.FailurePolicy
	}
	if d.DefaultFailurePolicy != "" {
		return d.DefaultFailurePolicy
	}
	return AbortPolicy
}

// Runner returns the runner type effective for the given node spec.
func (d *WorkflowDefinition) Runner(spec NodeSpec) string {
	if spec.RunnerType != "" {
		return spec.RunnerType
	}
	if d.DefaultRunnerType != "" {
		return d.DefaultRunnerType
	}
	return "local"
}
