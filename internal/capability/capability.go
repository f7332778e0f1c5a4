package capability

// Capability names a single permitted action. The set is closed and the
// grants table below is the only policy source.
type Capability string

const (
	// ManageContent allows creating and editing lessons.
	ManageContent Capability = "manageContent"
	// DeleteAny allows destroying resources regardless of ownership.
	DeleteAny Capability = "deleteAny"
	// ViewAllProgress allows reading any subject's progress records.
	ViewAllProgress Capability = "viewAllProgress"
	// ManageOwnProgress allows a principal to sync its own progress.
	ManageOwnProgress Capability = "manageOwnProgress"
	// UpdateOwnProfile allows a principal to edit its own account.
	UpdateOwnProfile Capability = "updateOwnProfile"
	// ManageUsers allows administering principals and their roles.
	ManageUsers Capability = "manageUsers"
)

// grants maps each capability to the roles holding it, listed in hierarchy
// order. Populated once; never mutated at runtime.
var grants = map[Capability][]Role{
	ManageContent:     {RoleTeacher, RoleAdmin},
	DeleteAny:         {RoleAdmin},
	ViewAllProgress:   {RoleTeacher, RoleAdmin},
	ManageOwnProgress: {RoleStudent, RoleTeacher, RoleAdmin},
	UpdateOwnProfile:  {RoleStudent, RoleTeacher, RoleAdmin},
	ManageUsers:       {RoleAdmin},
}

// HasPermission reports whether role holds capability. Unknown roles and
// unknown capabilities yield false.
func HasPermission(role Role, cap Capability) bool {
	for _, granted := range grants[cap] {
		if granted == role {
			return true
		}
	}
	return false
}

// RolesAllowed returns the roles holding capability in hierarchy order. The
// slice is a copy; callers cannot reach the table through it.
func RolesAllowed(cap Capability) []Role {
	granted := grants[cap]
	out := make([]Role, len(granted))
	copy(out, granted)
	return out
}

// CanModifyResource reports whether the requester may mutate a resource owned
// by ownerID: the owner itself, or an admin.
func CanModifyResource(requesterID, ownerID string, role Role) bool {
	if requesterID == "" {
		return false
	}
	if requesterID == ownerID {
		return true
	}
	return role == RoleAdmin
}

// CanViewResource reports whether the requester may read a resource owned by
// ownerID: the owner itself, or any role granted ViewAllProgress.
func CanViewResource(requesterID, ownerID string, role Role) bool {
	if requesterID == "" {
		return false
	}
	if requesterID == ownerID {
		return true
	}
	return HasPermission(role, ViewAllProgress)
}
