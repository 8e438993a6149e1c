package authorization

import (
	"encoding/json"
	"testing"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityClaimsSurviveJSON(t *testing.T) {
	identity := &Identity{
		UserID:         7,
		Email:          "ana@example.com",
		ManagementRole: RoleModerator,
		CountryCode:    "NL",
		OrgRoles:       map[uint64]string{3: OrgRoleAdmin, 9: OrgRoleMember},
	}

	raw, err := json.Marshal(identity.Claims())
	require.NoError(t, err)
	var claims jwt.MapClaims
	require.NoError(t, json.Unmarshal(raw, &claims))

	parsed := IdentityFromClaims(claims)
	require.NotNil(t, parsed)
	assert.Equal(t, identity, parsed)
	assert.Equal(t, []uint64{3, 9}, parsed.MunicipalityIDs())
}

func TestIdentityFromClaimsWithoutUser(t *testing.T) {
	assert.Nil(t, IdentityFromClaims(jwt.MapClaims{"email": "x@example.com"}))
	assert.Nil(t, IdentityFromClaims(nil))
}

func TestIdentityRoleHelpers(t *testing.T) {
	member := &Identity{UserID: 1, OrgRoles: map[uint64]string{5: OrgRoleMember}}
	assert.False(t, member.IsManager())
	assert.True(t, member.CanAccessMunicipality(5))
	assert.False(t, member.CanAccessMunicipality(6))

	moderator := &Identity{UserID: 2, ManagementRole: RoleModerator}
	assert.True(t, moderator.IsManager())
	assert.False(t, moderator.IsSuperAdmin())
	assert.True(t, moderator.CanAccessMunicipality(6))

	var anonymous *Identity
	assert.False(t, anonymous.IsManager())
	assert.Equal(t, "", anonymous.OrgRole(1))
}
