package access

import (
	"context"
	"fmt"
	"time"

	"docvault/internal/audit"
	"docvault/internal/model"
)

// Denial reason categories. These are the only reason strings callers ever
// see; they deliberately do not reveal exact clearance gaps or policy
// internals.
const (
	ReasonNoPolicy              = "no policy"
	ReasonInsufficientClearance = "insufficient clearance"
	ReasonRoleNotPermitted      = "role not permitted"
	ReasonOutsideAllowedHours   = "outside allowed hours"
	ReasonNetworkNotPermitted   = "network not permitted"
	ReasonLocationNotPermitted  = "location not permitted"
	ReasonUnavailable           = "document unavailable"
	ReasonInternalError         = "access evaluation failed"
)

// recentAccessWindow is how far back an access to the same document exempts
// the user from the fresh-approval requirement.
const recentAccessWindow = 7 * 24 * time.Hour

// PermissionStore persists per-document permission overrides and the access
// history backing the approval exemption.
type PermissionStore interface {
	// PermissionsForDocument returns all overrides for a document.
	PermissionsForDocument(ctx context.Context, documentID string) ([]model.DocumentPermission, error)

	// UpsertPermission creates or replaces the override matching the same
	// document and grantee.
	UpsertPermission(ctx context.Context, perm model.DocumentPermission) error

	// DeletePermission removes the override for a document and grantee.
	// Deleting an absent override is a no-op.
	DeletePermission(ctx context.Context, documentID, userID, role string) error

	// HasRecentAccess reports whether the user accessed the document at or
	// after since.
	HasRecentAccess(ctx context.Context, documentID, userID string, since time.Time) (bool, error)

	// RecordAccess appends one row to the access history.
	RecordAccess(ctx context.Context, documentID, userID, action string, at time.Time) error
}

// Clock abstracts time retrieval so decision logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// Engine evaluates access decisions. It never mutates document or policy
// state; grants and revocations go through explicit operations. All failure
// paths resolve to a denied decision, never an open one.
type Engine struct {
	policies *PolicyTable
	roles    *RoleClosure
	store    PermissionStore
	sink     audit.Sink
	clock    Clock
}

// NewEngine constructs the engine. The role-inheritance closure is computed
// here, once.
func NewEngine(policies *PolicyTable, store PermissionStore, sink audit.Sink, clock Clock) *Engine {
	return &Engine{
		policies: policies,
		roles:    NewRoleClosure(),
		store:    store,
		sink:     sink,
		clock:    clock,
	}
}

// CheckAccess evaluates whether the context's user may access the document.
// The outcome, allowed or not, is always reported to the audit sink.
func (e *Engine) CheckAccess(ctx context.Context, doc *model.Document, actx model.AccessContext) model.AccessDecision {
	return e.decide(ctx, doc, actx, "access")
}

// CheckPermission reports whether the user may perform one specific action.
// The decision must be allowed and the action present in the effective
// permission set.
func (e *Engine) CheckPermission(ctx context.Context, doc *model.Document, actx model.AccessContext, perm model.Permission) bool {
	decision := e.decide(ctx, doc, actx, string(perm))
	return decision.Allowed && decision.HasPermission(perm)
}

// decide runs the evaluation and audits the outcome under the given action.
func (e *Engine) decide(ctx context.Context, doc *model.Document, actx model.AccessContext, action string) (decision model.AccessDecision) {
	defer func() {
		// An engine defect must never fail open.
		if r := recover(); r != nil {
			decision = model.AccessDecision{Allowed: false, Reason: ReasonInternalError}
		}
		e.auditDecision(doc, actx, action, decision)
		if decision.Allowed && !decision.RequiresApproval {
			// Best-effort history row backing the recent-access exemption.
			// A decision still awaiting approval must not seed it, or the
			// approval requirement would defeat itself on the next check.
			_ = e.store.RecordAccess(ctx, doc.ID, actx.User.ID, action, e.clock.Now())
		}
	}()

	d, err := e.evaluate(ctx, doc, actx)
	if err != nil {
		return model.AccessDecision{Allowed: false, Reason: ReasonInternalError}
	}
	return d
}

// evaluate applies the decision algorithm in order, failing fast on the
// first negative check.
func (e *Engine) evaluate(ctx context.Context, doc *model.Document, actx model.AccessContext) (model.AccessDecision, error) {
	deny := func(reason string) model.AccessDecision {
		return model.AccessDecision{Allowed: false, Reason: reason}
	}

	if doc == nil || !doc.Classification.Valid() {
		return deny(ReasonNoPolicy), nil
	}
	if doc.Quarantined {
		return deny(ReasonUnavailable), nil
	}
	if actx.User.ID == "" || len(actx.User.Roles) == 0 {
		return deny(ReasonRoleNotPermitted), nil
	}

	// 1. Policy resolution: fail closed when no policy exists.
	policy, ok := e.policies.Lookup(doc.Classification)
	if !ok {
		return deny(ReasonNoPolicy), nil
	}

	// 2. Clearance against the ordered scale.
	if !actx.User.Clearance.Covers(policy.RequiredClearance) {
		return deny(ReasonInsufficientClearance), nil
	}

	// 3. Effective permissions: a live override replaces policy defaults.
	perms, overridden, err := e.effectivePermissions(ctx, doc.ID, actx.User, policy)
	if err != nil {
		return model.AccessDecision{}, err
	}

	// 4. Role membership, directly or via inheritance. An explicit override
	// stands in for role-based access, so a grant can admit a user whose
	// roles alone would not. Clearance is never bypassed.
	if !overridden && !e.roleAllowed(actx.User, policy.AllowedRoles) {
		return deny(ReasonRoleNotPermitted), nil
	}

	// 5. Contextual restrictions, all of which must pass.
	if reason := checkTimeWindow(policy.Restrictions, actx); reason != "" {
		return deny(reason), nil
	}
	if reason := checkNetwork(policy.Restrictions, actx); reason != "" {
		return deny(reason), nil
	}

	decision := model.AccessDecision{
		Allowed:      true,
		Permissions:  perms,
		Restrictions: policy.Restrictions,
	}

	// 6. Approval requirement, with author and recent-access exemptions.
	if policy.Restrictions.RequireApproval {
		exempt, err := e.approvalExempt(ctx, doc, actx.User)
		if err != nil {
			return model.AccessDecision{}, err
		}
		if !exempt {
			decision.RequiresApproval = true
			decision.ApprovalLevel = approvalLevelFor(doc.Classification)
		}
	}

	return decision, nil
}

func (e *Engine) roleAllowed(user model.User, allowed []string) bool {
	for _, want := range allowed {
		if want == model.RoleWildcard {
			return true
		}
		for _, held := range user.Roles {
			if e.roles.Implies(held, want) {
				return true
			}
		}
	}
	return false
}

// effectivePermissions resolves the permission set: a non-expired override
// matching the user (per-user first, then per-role) replaces the policy
// defaults entirely. The second return reports whether an override applied.
func (e *Engine) effectivePermissions(ctx context.Context, documentID string, user model.User, policy model.AccessPolicy) ([]model.Permission, bool, error) {
	overrides, err := e.store.PermissionsForDocument(ctx, documentID)
	if err != nil {
		return nil, false, fmt.Errorf("loading permission overrides: %w", err)
	}

	now := e.clock.Now()
	var roleMatch *model.DocumentPermission
	for i := range overrides {
		o := &overrides[i]
		if o.Expired(now) || !o.Matches(user) {
			continue
		}
		if o.UserID != "" {
			return append([]model.Permission(nil), o.Permissions...), true, nil
		}
		if roleMatch == nil {
			roleMatch = o
		}
	}
	if roleMatch != nil {
		return append([]model.Permission(nil), roleMatch.Permissions...), true, nil
	}
	return append([]model.Permission(nil), policy.Permissions...), false, nil
}

// approvalExempt reports whether the user is the document's author or has
// accessed this specific document within the recent-access window.
func (e *Engine) approvalExempt(ctx context.Context, doc *model.Document, user model.User) (bool, error) {
	if doc.OwnerID != "" && doc.OwnerID == user.ID {
		return true, nil
	}
	since := e.clock.Now().Add(-recentAccessWindow)
	recent, err := e.store.HasRecentAccess(ctx, doc.ID, user.ID, since)
	if err != nil {
		return false, fmt.Errorf("checking recent access: %w", err)
	}
	return recent, nil
}

// approvalLevelFor chooses the approver seniority by classification
// severity.
func approvalLevelFor(c model.Classification) model.ApprovalLevel {
	switch c {
	case model.Secret:
		return model.ApprovalAdministrator
	case model.Confidential:
		return model.ApprovalManager
	default:
		return model.ApprovalSupervisor
	}
}

// auditDecision reports every outcome to the sink, flagging the suspicious
// cases: a clearance-based denial, or a successful download of a secret
// document.
func (e *Engine) auditDecision(doc *model.Document, actx model.AccessContext, action string, decision model.AccessDecision) {
	if e.sink == nil {
		return
	}

	suspicious := false
	if !decision.Allowed && decision.Reason == ReasonInsufficientClearance {
		suspicious = true
	}
	if decision.Allowed && action == string(model.PermDownload) && doc != nil && doc.Classification == model.Secret {
		suspicious = true
	}

	event := audit.Event{
		Kind:       audit.KindAccessDecision,
		Timestamp:  e.clock.Now(),
		UserID:     actx.User.ID,
		Action:     action,
		Success:    decision.Allowed,
		Reason:     decision.Reason,
		Suspicious: suspicious,
		Context:    map[string]string{},
	}
	if doc != nil {
		event.DocumentID = doc.ID
		event.Classification = doc.Classification
	}
	if actx.IP.IsValid() {
		event.Context["ip"] = actx.IP.String()
	}
	if actx.Country != "" {
		event.Context["country"] = actx.Country
	}

	e.sink.Record(event)
}
