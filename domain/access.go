package domain

// Principal identifies the caller a layout is rendered for.
type Principal struct {
	UserID       string
	Roles        []string
	RoleTemplate string
}

// HasAccess decides whether a user may see an item restricted to required.
//
// Rules:
//   - An item with no required roles is unrestricted.
//   - A role template that is itself one of the required roles grants access.
//   - Otherwise at least one of the user's roles must be required.
func HasAccess(required, userRoles []string, roleTemplate string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if roleTemplate != "" && r == roleTemplate {
			return true
		}
	}
	for _, r := range required {
		for _, u := range userRoles {
			if r == u {
				return true
			}
		}
	}
	return false
}

// CanAccess applies HasAccess to the item's roles.
func (p Principal) CanAccess(it Item) bool {
	return HasAccess(it.Roles, p.Roles, p.RoleTemplate)
}
