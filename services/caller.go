package services

// Permission is a capability granted through the caller's verified roles.
type Permission string

const (
	PermManagePayouts    Permission = "payouts:manage"
	PermViewCashflow     Permission = "analytics:view"
	PermManageAffiliates Permission = "affiliates:manage"
	PermViewAnyDownline  Permission = "downline:view_any"
	PermIngestRevenue    Permission = "revenue:ingest"
)

// rolePermissions maps gateway role names to what they may do.
var rolePermissions = map[string][]Permission{
	"admin":   {PermManagePayouts, PermViewCashflow, PermManageAffiliates, PermViewAnyDownline},
	"finance": {PermManagePayouts, PermViewCashflow},
	"pastor":  {PermViewCashflow, PermViewAnyDownline},
	"billing": {PermIngestRevenue},
}

// Caller is the verified identity handed to services. Authorisation is
// decided from Roles, never from profile data such as the email address.
type Caller struct {
	UserID string
	Roles  []string
}

func (c Caller) Can(p Permission) bool {
	for _, role := range c.Roles {
		for _, granted := range rolePermissions[role] {
			if granted == p {
				return true
			}
		}
	}
	return false
}

func (c Caller) require(p Permission) error {
	if !c.Can(p) {
		return ErrForbidden
	}
	return nil
}
