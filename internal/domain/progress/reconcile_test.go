package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	tierRoles = RoleMap{
		"seedling": "role-seedling",
		"sprout":   "role-sprout",
		"bloom":    "role-bloom",
	}
	streakRoles = RoleMap{
		"two-days": "role-2d",
		"week":     "role-7d",
		"month":    "role-30d",
	}
	sprout = Level{Identifier: "sprout", Minimum: 600}
	week   = Level{Identifier: "week", Minimum: 7}
)

func TestReconcile_GrantsAndRevokes(t *testing.T) {
	held := NewRoleSet("role-seedling", "role-30d", "moderator")

	diff := Reconcile(held, sprout, week, tierRoles, streakRoles)

	assert.Equal(t, []string{"role-7d", "role-sprout"}, diff.Grants.Slice())
	assert.Equal(t, []string{"role-30d", "role-seedling"}, diff.Revokes.Slice())
	assert.False(t, diff.Empty())
}

func TestReconcile_UntieredRevokesWholeFamily(t *testing.T) {
	held := NewRoleSet("role-seedling", "role-sprout", "role-2d", "moderator")

	diff := Reconcile(held, Untiered, Untiered, tierRoles, streakRoles)

	assert.Empty(t, diff.Grants)
	assert.Equal(t, []string{"role-2d", "role-seedling", "role-sprout"}, diff.Revokes.Slice())
}

func TestReconcile_UnmappedLevelGrantsNothing(t *testing.T) {
	diff := Reconcile(RoleSet{}, Level{Identifier: "unknown", Minimum: 1}, Untiered, tierRoles, streakRoles)
	assert.True(t, diff.Empty())
}

func TestReconcile_Idempotent(t *testing.T) {
	cases := []struct {
		held   RoleSet
		tier   Level
		streak Level
	}{
		{NewRoleSet(), sprout, week},
		{NewRoleSet("role-bloom", "role-sprout", "role-2d", "other"), sprout, week},
		{NewRoleSet("role-seedling"), Untiered, Untiered},
		{NewRoleSet("role-sprout", "role-7d"), sprout, week},
	}

	for _, c := range cases {
		first := Reconcile(c.held, c.tier, c.streak, tierRoles, streakRoles)
		applied := first.ApplyTo(c.held)

		second := Reconcile(applied, c.tier, c.streak, tierRoles, streakRoles)

		assert.True(t, second.Empty(), "held=%v", c.held.Slice())
		assert.True(t, applied.Has("other") == c.held.Has("other"))
	}
}

func TestRoleDiff_ApplyToDoesNotMutate(t *testing.T) {
	held := NewRoleSet("role-seedling")
	diff := RoleDiff{Grants: NewRoleSet("role-sprout"), Revokes: NewRoleSet("role-seedling")}

	applied := diff.ApplyTo(held)

	assert.Equal(t, []string{"role-sprout"}, applied.Slice())
	assert.Equal(t, []string{"role-seedling"}, held.Slice())
}
