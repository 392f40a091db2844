package domain

// Principal is the caller resolved from a bearer token issued by the auth collaborator.
type Principal struct {
	SubjectID string
	Role      AgentRole
}

// IsAdmin reports whether the principal may administer assignment.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == AgentRoleAdmin
}
