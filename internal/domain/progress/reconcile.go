package progress

import (
	"sort"
)

// RoleSet is a set of opaque platform role identifiers.
type RoleSet map[string]struct{}

// NewRoleSet builds a set from role ids, skipping empty ones.
func NewRoleSet(roles ...string) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		if r != "" {
			s[r] = struct{}{}
		}
	}
	return s
}

// Has reports whether role is in the set.
func (s RoleSet) Has(role string) bool {
	_, ok := s[role]
	return ok
}

// Slice returns the roles sorted, for stable output.
func (s RoleSet) Slice() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// RoleMap maps a level identifier to the role that represents it.
type RoleMap map[string]string

// RoleFor returns the role for a level. Untiered maps to no role.
func (m RoleMap) RoleFor(l Level) (string, bool) {
	if !l.IsTiered() {
		return "", false
	}
	role, ok := m[l.Identifier]
	return role, ok && role != ""
}

// Roles returns the whole role family covered by the map.
func (m RoleMap) Roles() RoleSet {
	s := make(RoleSet, len(m))
	for _, role := range m {
		if role != "" {
			s[role] = struct{}{}
		}
	}
	return s
}

// RoleDiff is the minimal change that brings held roles in line with computed levels.
type RoleDiff struct {
	Grants  RoleSet
	Revokes RoleSet
}

// Empty reports whether the diff changes nothing.
func (d RoleDiff) Empty() bool {
	return len(d.Grants) == 0 && len(d.Revokes) == 0
}

// ApplyTo returns held with revokes removed and grants added. held is not modified.
func (d RoleDiff) ApplyTo(held RoleSet) RoleSet {
	out := make(RoleSet, len(held)+len(d.Grants))
	for r := range held {
		if !d.Revokes.Has(r) {
			out[r] = struct{}{}
		}
	}
	for r := range d.Grants {
		out[r] = struct{}{}
	}
	return out
}

// Reconcile diffs the roles a user holds against their computed tier and streak level.
//
// At most one role per family is wanted. Roles outside both families are never
// touched. Calling Reconcile again on the applied result yields an empty diff.
func Reconcile(previous RoleSet, tier, streak Level, tierRoles, streakRoles RoleMap) RoleDiff {
	diff := RoleDiff{Grants: RoleSet{}, Revokes: RoleSet{}}

	wanted := RoleSet{}
	if role, ok := tierRoles.RoleFor(tier); ok {
		wanted[role] = struct{}{}
	}
	if role, ok := streakRoles.RoleFor(streak); ok {
		wanted[role] = struct{}{}
	}

	for role := range wanted {
		if !previous.Has(role) {
			diff.Grants[role] = struct{}{}
		}
	}

	for _, family := range []RoleSet{tierRoles.Roles(), streakRoles.Roles()} {
		for role := range family {
			if previous.Has(role) && !wanted.Has(role) {
				diff.Revokes[role] = struct{}{}
			}
		}
	}
	return diff
}
