// Package access implements the classification-based access control engine:
// per-request decisions over document classification, user clearance and
// roles, per-document permission overrides, and contextual restrictions.
package access

import (
	"fmt"

	"docvault/internal/model"
)

// PolicyTable maps every classification to exactly one policy. The table is
// total by construction: NewPolicyTable rejects a policy set with gaps.
type PolicyTable struct {
	policies map[model.Classification]model.AccessPolicy
}

// NewPolicyTable validates totality and builds the table.
func NewPolicyTable(policies []model.AccessPolicy) (*PolicyTable, error) {
	table := make(map[model.Classification]model.AccessPolicy, len(policies))
	for _, p := range policies {
		if !p.Classification.Valid() {
			return nil, fmt.Errorf("policy for invalid classification %d", int(p.Classification))
		}
		if _, dup := table[p.Classification]; dup {
			return nil, fmt.Errorf("duplicate policy for classification %s", p.Classification)
		}
		table[p.Classification] = p
	}
	for _, c := range model.Classifications() {
		if _, ok := table[c]; !ok {
			return nil, fmt.Errorf("no policy for classification %s", c)
		}
	}
	return &PolicyTable{policies: table}, nil
}

// Lookup returns the policy for a classification. The second return is false
// for classifications outside the defined scale; callers fail closed on it.
func (t *PolicyTable) Lookup(c model.Classification) (model.AccessPolicy, bool) {
	p, ok := t.policies[c]
	return p, ok
}

// DefaultPolicies is the built-in policy set for the four-tier scale.
func DefaultPolicies() []model.AccessPolicy {
	return []model.AccessPolicy{
		{
			Classification:    model.Public,
			RequiredClearance: model.Public,
			AllowedRoles:      []string{model.RoleWildcard},
			Permissions:       []model.Permission{model.PermRead, model.PermDownload, model.PermComment},
		},
		{
			Classification:    model.Internal,
			RequiredClearance: model.Internal,
			AllowedRoles:      []string{model.RoleWildcard},
			Permissions:       []model.Permission{model.PermRead, model.PermDownload, model.PermComment},
		},
		{
			Classification:    model.Confidential,
			RequiredClearance: model.Confidential,
			AllowedRoles:      []string{"paralegal", "legal_counsel", "supervisor", "manager", "administrator"},
			Permissions:       []model.Permission{model.PermRead, model.PermDownload, model.PermComment},
		},
		{
			Classification:    model.Secret,
			RequiredClearance: model.Secret,
			AllowedRoles:      []string{"legal_counsel", "administrator"},
			Permissions:       []model.Permission{model.PermRead},
			Restrictions: model.Restrictions{
				RequireApproval: true,
			},
		},
	}
}

// roleParents is the fixed role hierarchy: a role implicitly carries the
// roles listed as its parents' subordinates. Evaluated once into a closure
// at engine construction; never at decision time.
var roleParents = map[string][]string{
	"supervisor":    {"employee"},
	"manager":       {"supervisor"},
	"administrator": {"manager"},
	"paralegal":     {"employee"},
	"legal_counsel": {"paralegal"},
}

// computeRoleClosure expands the hierarchy into each role's full set of
// implied roles (including itself). The walk tolerates cycles.
func computeRoleClosure() map[string]map[string]bool {
	closure := make(map[string]map[string]bool)

	var expand func(role string, into map[string]bool)
	expand = func(role string, into map[string]bool) {
		if into[role] {
			return
		}
		into[role] = true
		for _, sub := range roleParents[role] {
			expand(sub, into)
		}
	}

	for role := range roleParents {
		set := make(map[string]bool)
		expand(role, set)
		closure[role] = set
	}
	return closure
}

// RoleClosure is the precomputed inheritance expansion used for role checks.
type RoleClosure struct {
	implied map[string]map[string]bool
}

// NewRoleClosure computes the closure of the built-in hierarchy.
func NewRoleClosure() *RoleClosure {
	return &RoleClosure{implied: computeRoleClosure()}
}

// Implies reports whether holding `held` grants the capabilities of `wanted`,
// directly or through inheritance.
func (rc *RoleClosure) Implies(held, wanted string) bool {
	if held == wanted {
		return true
	}
	return rc.implied[held][wanted]
}
