package model

import (
	"net/netip"
	"time"
)

// Permission is one action a user may take on a document.
type Permission string

const (
	PermRead     Permission = "read"
	PermDownload Permission = "download"
	PermComment  Permission = "comment"
	PermEdit     Permission = "edit"
	PermShare    Permission = "share"
	PermDelete   Permission = "delete"
)

// RoleWildcard in an AccessPolicy's AllowedRoles admits every role.
const RoleWildcard = "*"

// ApprovalLevel names who must approve an access that a policy gates behind
// approval. Higher classifications require more senior approvers.
type ApprovalLevel string

const (
	ApprovalSupervisor    ApprovalLevel = "SUPERVISOR"
	ApprovalManager       ApprovalLevel = "MANAGER"
	ApprovalAdministrator ApprovalLevel = "ADMINISTRATOR"
)

// Restrictions are the contextual conditions a policy attaches to access.
// Zero values mean "no restriction of that kind".
type Restrictions struct {
	RequireApproval bool

	// TimeWindowStart/End bound access to a daily window, "HH:mm" 24-hour
	// strings compared lexically. Both must be set for the window to apply.
	TimeWindowStart string
	TimeWindowEnd   string

	// AllowedNetworks holds IPs or CIDR prefixes; AllowedCountries holds
	// ISO country codes checked when the context carries a geolocation.
	AllowedNetworks  []string
	AllowedCountries []string

	DownloadQuota int
	ViewTimeLimit time.Duration
}

// AccessPolicy is the default access rule for one classification level.
// The policy table must be total: every classification resolves to exactly
// one policy.
type AccessPolicy struct {
	Classification    Classification
	RequiredClearance Classification
	AllowedRoles      []string
	Permissions       []Permission
	Restrictions      Restrictions
}

// DocumentPermission is a per-document override. When present, not expired,
// and matching the requesting user (by user ID or role), its Permissions
// replace the policy defaults entirely.
type DocumentPermission struct {
	ID         string
	DocumentID string

	// Exactly one of UserID or Role is set.
	UserID string
	Role   string

	Permissions []Permission
	GrantedBy   string
	GrantedAt   time.Time
	ExpiresAt   *time.Time
}

// Expired reports whether the override has lapsed at the given instant.
func (p *DocumentPermission) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// Matches reports whether the override applies to the given user.
func (p *DocumentPermission) Matches(user User) bool {
	if p.UserID != "" {
		return p.UserID == user.ID
	}
	for _, r := range user.Roles {
		if r == p.Role {
			return true
		}
	}
	return false
}

// User is the authenticated principal supplied by the caller.
type User struct {
	ID        string
	Roles     []string
	Clearance Classification
}

// AccessContext is the request-scoped context for one access decision. It is
// never persisted by this core.
type AccessContext struct {
	User      User
	IP        netip.Addr
	Country   string
	Timestamp time.Time
}

// AccessDecision is the outcome of one CheckAccess evaluation.
type AccessDecision struct {
	Allowed bool

	// Reason is a generic category string; it never reveals exact clearance
	// gaps to the caller.
	Reason string

	Permissions  []Permission
	Restrictions Restrictions

	RequiresApproval bool
	ApprovalLevel    ApprovalLevel
}

// HasPermission reports whether the decision's effective set contains p.
func (d AccessDecision) HasPermission(p Permission) bool {
	for _, have := range d.Permissions {
		if have == p {
			return true
		}
	}
	return false
}
