package access

import (
	"context"
	"fmt"

	"docvault/internal/audit"
	"docvault/internal/model"
)

// GrantPermission creates or replaces a per-document override. The grant
// records who granted it and is idempotent: granting the same override twice
// leaves one row. Every call is audited regardless of outcome.
func (e *Engine) GrantPermission(ctx context.Context, perm model.DocumentPermission) error {
	err := e.validateGrant(perm)
	if err == nil {
		perm.GrantedAt = e.clock.Now()
		err = e.store.UpsertPermission(ctx, perm)
	}

	e.auditPermissionChange("grant", perm.DocumentID, perm.GrantedBy, granteeOf(perm), err)
	if err != nil {
		return fmt.Errorf("granting permission: %w", err)
	}
	return nil
}

// RevokePermission removes a per-document override. Revoking an absent
// override succeeds; the call is audited either way.
func (e *Engine) RevokePermission(ctx context.Context, documentID, userID, role, revokedBy string) error {
	var err error
	if documentID == "" {
		err = fmt.Errorf("document id is required")
	} else if userID == "" && role == "" {
		err = fmt.Errorf("a grantee user or role is required")
	} else {
		err = e.store.DeletePermission(ctx, documentID, userID, role)
	}

	grantee := userID
	if grantee == "" {
		grantee = "role:" + role
	}
	e.auditPermissionChange("revoke", documentID, revokedBy, grantee, err)
	if err != nil {
		return fmt.Errorf("revoking permission: %w", err)
	}
	return nil
}

// CanAssignClassification reports whether a user may assign the given
// classification: only at or below their own clearance. The DLP-driven
// auto-reclassification path is system-driven and bypasses this check by
// never calling it; callers must not route system reclassification through
// here.
func (e *Engine) CanAssignClassification(user model.User, c model.Classification) bool {
	return c.Valid() && user.Clearance.Covers(c)
}

func (e *Engine) validateGrant(perm model.DocumentPermission) error {
	if perm.DocumentID == "" {
		return fmt.Errorf("document id is required")
	}
	if perm.GrantedBy == "" {
		return fmt.Errorf("grantedBy is required")
	}
	if (perm.UserID == "") == (perm.Role == "") {
		return fmt.Errorf("exactly one of user id or role must be set")
	}
	if len(perm.Permissions) == 0 {
		return fmt.Errorf("at least one permission is required")
	}
	return nil
}

func granteeOf(perm model.DocumentPermission) string {
	if perm.UserID != "" {
		return perm.UserID
	}
	return "role:" + perm.Role
}

func (e *Engine) auditPermissionChange(action, documentID, actor, grantee string, err error) {
	if e.sink == nil {
		return
	}
	event := audit.Event{
		Kind:       audit.KindPermission,
		Timestamp:  e.clock.Now(),
		DocumentID: documentID,
		UserID:     actor,
		Action:     action,
		Success:    err == nil,
		Context:    map[string]string{"grantee": grantee},
	}
	if err != nil {
		event.Reason = err.Error()
	}
	e.sink.Record(event)
}
