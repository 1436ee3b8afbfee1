package auth

const (
	PermManageUsers          Permission = "MANAGE_USERS"
	PermManageRoles          Permission = "MANAGE_ROLES"
	PermManageEleves         Permission = "MANAGE_ELEVES"
	PermManageClasses        Permission = "MANAGE_CLASSES"
	PermManageNotes          Permission = "MANAGE_NOTES"
	PermManagePresences      Permission = "MANAGE_PRESENCES"
	PermManageCahier         Permission = "MANAGE_CAHIER"
	PermManagePaiements      Permission = "MANAGE_PAIEMENTS"
	PermManageEmploisDuTemps Permission = "MANAGE_EMPLOIS_DU_TEMPS"
	PermManageNotifications  Permission = "MANAGE_NOTIFICATIONS"
	PermManageExports        Permission = "MANAGE_EXPORTS"
	PermViewRapports         Permission = "VIEW_RAPPORTS"
	PermManageParametres     Permission = "MANAGE_PARAMETRES"
)

// AllPermissions is the full permission universe. The admin role defaults to
// all of it, although IsAdmin short-circuits before this table is consulted.
var AllPermissions = []Permission{
	PermManageUsers,
	PermManageRoles,
	PermManageEleves,
	PermManageClasses,
	PermManageNotes,
	PermManagePresences,
	PermManageCahier,
	PermManagePaiements,
	PermManageEmploisDuTemps,
	PermManageNotifications,
	PermManageExports,
	PermViewRapports,
	PermManageParametres,
}

// roleDefaults is the static role -> permission table. Unknown roles resolve
// to an empty set: authorization fails closed.
var roleDefaults = map[Role][]Permission{
	RoleAdmin: AllPermissions,
	RoleGestionnaire: {
		PermManageEleves,
		PermManageClasses,
		PermManagePaiements,
		PermManageEmploisDuTemps,
		PermManageNotifications,
		PermManageExports,
		PermViewRapports,
	},
	RoleProf: {
		PermManageNotes,
		PermManagePresences,
		PermManageCahier,
	},
	RoleEleve:  {},
	RoleParent: {},
}

// DefaultPermissions returns a copy of the role's default permission set.
func DefaultPermissions(role Role) []Permission {
	defaults, ok := roleDefaults[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(defaults))
	copy(out, defaults)
	return out
}
