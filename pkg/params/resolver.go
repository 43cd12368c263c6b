// Package params renders node parameters against a restricted expression
// environment. Values are HCL template strings ("${relax.energy}") evaluated
// with no functions and an allow-listed set of variable roots, so rendering
// is pure: no host introspection, no imports, no filesystem or process
// access is expressible.
package params

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
)

// Variable roots every node may reference, in addition to its declared
// dependencies.
const (
	globalsRoot = "globals"
	paramsRoot  = "params"
)

// Resolve renders every raw parameter of node against the workflow's global
// parameters, the node's own raw parameters, and one namespace per declared
// dependency exposing that dependency's results. Referencing anything else
// is a *models.ParameterResolutionError. Resolve never mutates node.
func Resolve(node *models.WorkflowNode, globals map[string]string, depResults map[string]map[string]string) (map[string]string, error) {
	declared := make(map[string]struct{}, len(node.Dependencies))
	for _, d := range node.Dependencies {
		declared[d] = struct{}{}
	}

	vars := map[string]cty.Value{
		globalsRoot: objectVal(globals),
		paramsRoot:  objectVal(node.Parameters),
	}
	for dep := range declared {
		vars[dep] = objectVal(depResults[dep])
	}
	evalCtx := &hcl.EvalContext{Variables: vars}

	resolved := make(map[string]string, len(node.Parameters))
	for key, raw := range node.Parameters {
		expr, diags := hclsyntax.ParseTemplate([]byte(raw), node.NodeID+"."+key, hcl.InitialPos)
		if diags.HasErrors() {
			return nil, &models.ParameterResolutionError{
				NodeID:    node.NodeID,
				Parameter: key,
				Detail:    diags.Error(),
			}
		}

		// Reject undeclared references up front so the error names the
		// offending root instead of a generic eval failure.
		for _, traversal := range expr.Variables() {
			root := traversal.RootName()
			if root == globalsRoot || root == paramsRoot {
				continue
			}
			if _, ok := declared[root]; !ok {
				return nil, &models.ParameterResolutionError{
					NodeID:    node.NodeID,
					Parameter: key,
					Detail:    fmt.Sprintf("reference to %q is not among declared dependencies", root),
				}
			}
			if depResults[root] == nil {
				return nil, &models.ParameterResolutionError{
					NodeID:    node.NodeID,
					Parameter: key,
					Detail:    fmt.Sprintf("results of dependency %q are not available", root),
				}
			}
		}

		val, diags := expr.Value(evalCtx)
		if diags.HasErrors() {
			return nil, &models.ParameterResolutionError{
				NodeID:    node.NodeID,
				Parameter: key,
				Detail:    diags.Error(),
			}
		}
		str, err := convert.Convert(val, cty.String)
		if err != nil || str.IsNull() {
			return nil, &models.ParameterResolutionError{
				NodeID:    node.NodeID,
				Parameter: key,
				Detail:    fmt.Sprintf("value does not render to a string: %v", err),
			}
		}
		resolved[key] = str.AsString()
	}
	return resolved, nil
}

// objectVal lifts a string map into a cty object value. A nil map becomes an
// empty object so lookups fail with a clean "unsupported attribute" diag.
func objectVal(m map[string]string) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	attrs := make(map[string]cty.Value, len(m))
	for k, v := range m {
		attrs[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(attrs)
}
