package auth

import "physiodesk/backend/internal/domain"

// Staff are the roles allowed to manage a physiotherapist calendar.
var Staff = []domain.Role{domain.RolePhysiotherapist, domain.RoleAdmin}

func (i Identity) HasRole(roles ...domain.Role) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

// ActsFor reports whether i may act on resources owned by id.
func (i Identity) ActsFor(id string) bool {
	return i.Role == domain.RoleAdmin || i.ID == id
}

// CanAccess reports whether i is a party to appt.
func (i Identity) CanAccess(appt domain.Appointment) bool {
	switch i.Role {
	case domain.RoleAdmin:
		return true
	case domain.RolePhysiotherapist:
		return appt.PhysiotherapistID == i.ID
	default:
		return appt.UserID == i.ID
	}
}
