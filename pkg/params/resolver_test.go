package params_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/params"
)

func TestResolve_Literals(t *testing.T) {
	node := &models.WorkflowNode{
		NodeID: "scf",
		Parameters: map[string]string{
			"kpoints": "8 8 8",
			"cutoff":  "500",
		},
	}
	resolved, err := params.Resolve(node, nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"kpoints": "8 8 8", "cutoff": "500"}, resolved)
}

func TestResolve_References(t *testing.T) {
	node := &models.WorkflowNode{
		NodeID:       "bands",
		Dependencies: []string{"relax", "scf"},
		Parameters: map[string]string{
			"structure": "${relax.final_structure}",
			"density":   "${scf.charge_density}",
			"basis":     "${globals.basis_set}",
			"self":      "${params.structure} again",
			"mixed":     "cell=${relax.final_structure};basis=${globals.basis_set}",
		},
	}
	globals := map[string]string{"basis_set": "pob-TZVP"}
	depResults := map[string]map[string]string{
		"relax": {"final_structure": "POSCAR-relaxed"},
		"scf":   {"charge_density": "rho.dat"},
	}

	resolved, err := params.Resolve(node, globals, depResults)
	assert.NoError(t, err)
	assert.Equal(t, "POSCAR-relaxed", resolved["structure"])
	assert.Equal(t, "rho.dat", resolved["density"])
	assert.Equal(t, "pob-TZVP", resolved["basis"])
	assert.Equal(t, "${relax.final_structure} again", resolved["self"])
	assert.Equal(t, "cell=POSCAR-relaxed;basis=pob-TZVP", resolved["mixed"])

	// Raw parameters stay untouched.
	assert.Equal(t, "${relax.final_structure}", node.Parameters["structure"])
}

func TestResolve_UndeclaredDependency(t *testing.T) {
	node := &models.WorkflowNode{
		NodeID:       "dos",
		Dependencies: []string{"scf"},
		Parameters: map[string]string{
			"density": "${bands.eigenvalues}", // bands is not a declared dependency
		},
	}
	_, err := params.Resolve(node, nil, map[string]map[string]string{
		"scf": {"charge_density": "rho.dat"},
	})
	assert.Error(t, err)
	var resErr *models.ParameterResolutionError
	assert.ErrorAs(t, err, &resErr)
	assert.Equal(t, "dos", resErr.NodeID)
	assert.Equal(t, "density", resErr.Parameter)
	assert.Contains(t, resErr.Detail, "bands")
}

func TestResolve_MissingDependencyResults(t *testing.T) {
	node := &models.WorkflowNode{
		NodeID:       "bands",
		Dependencies: []string{"scf"},
		Parameters:   map[string]string{"density": "${scf.charge_density}"},
	}
	_, err := params.Resolve(node, nil, map[string]map[string]string{"scf": nil})
	var resErr *models.ParameterResolutionError
	assert.ErrorAs(t, err, &resErr)
	assert.Contains(t, resErr.Detail, "not available")
}

func TestResolve_MissingAttribute(t *testing.T) {
	node := &models.WorkflowNode{
		NodeID:       "bands",
		Dependencies: []string{"scf"},
		Parameters:   map[string]string{"density": "${scf.no_such_key}"},
	}
	_, err := params.Resolve(node, nil, map[string]map[string]string{
		"scf": {"charge_density": "rho.dat"},
	})
	var resErr *models.ParameterResolutionError
	assert.ErrorAs(t, err, &resErr)
	assert.Equal(t, "density", resErr.Parameter)
}

func TestResolve_FunctionsUnavailable(t *testing.T) {
	// The evaluation environment carries no functions at all, so even
	// innocuous-looking calls fail resolution instead of executing.
	node := &models.WorkflowNode{
		NodeID:     "scf",
		Parameters: map[string]string{"cutoff": "${max(1, 2)}"},
	}
	_, err := params.Resolve(node, nil, nil)
	var resErr *models.ParameterResolutionError
	assert.ErrorAs(t, err, &resErr)
}

func TestResolve_SyntaxError(t *testing.T) {
	node := &models.WorkflowNode{
		NodeID:     "scf",
		Parameters: map[string]string{"bad": "${unterminated"},
	}
	_, err := params.Resolve(node, nil, nil)
	var resErr *models.ParameterResolutionError
	assert.ErrorAs(t, err, &resErr)
	assert.Equal(t, "bad", resErr.Parameter)
}

func TestResolve_EmptyParameters(t *testing.T) {
	node := &models.WorkflowNode{NodeID: "relax"}
	resolved, err := params.Resolve(node, map[string]string{"unused": "x"}, nil)
	assert.NoError(t, err)
	assert.Empty(t, resolved)
}
