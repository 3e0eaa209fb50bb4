package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePermission(t *testing.T) {
	cases := map[string]Permission{
		"data-explorer:query:organization":          PermQueryOrganization,
		"data-explorer:query:all":                   PermQueryAll,
		"data-explorer:execute:organization":        PermExecuteOrganization,
		"data-explorer:execute:all":                 PermExecuteAll,
		"data-explorer:metadata:read:organization":  PermMetadataReadOrg,
		"data-explorer:metadata:read:all":           PermMetadataReadAll,
		"data-explorer:metadata:write:organization": PermMetadataWriteOrg,
		"data-explorer:discovery:run:all":           PermDiscoveryRunAll,
	}

	for token, want := range cases {
		got, err := ParsePermission(token)
		require.NoError(t, err, "token: %s", token)
		assert.Equal(t, want, got, "token: %s", token)
	}
}

func TestParsePermission_Unscoped(t *testing.T) {
	got, err := ParsePermission("data-explorer:query")
	require.NoError(t, err)
	assert.Equal(t, Permission{Resource: ResourceDataExplorer, Action: ActionQuery}, got)
}

func TestParsePermission_Malformed(t *testing.T) {
	for _, token := range []string{
		"",
		"data-explorer",
		"other-resource:query:all",
		"data-explorer:launch:all",
		"data-explorer:metadata:all",
	} {
		_, err := ParsePermission(token)
		assert.Error(t, err, "token: %s", token)
	}
}

func TestPermission_String_RoundTrips(t *testing.T) {
	for _, p := range []Permission{PermQueryOrganization, PermMetadataReadAll, PermDiscoveryRunAll} {
		parsed, err := ParsePermission(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
}

func TestPermission_Satisfies(t *testing.T) {
	// Exact match
	assert.True(t, PermQueryOrganization.Satisfies(PermQueryOrganization))

	// "all" covers "organization" for the same action
	assert.True(t, PermQueryAll.Satisfies(PermQueryOrganization))

	// The reverse does not hold
	assert.False(t, PermQueryOrganization.Satisfies(PermQueryAll))

	// Different actions never satisfy each other
	assert.False(t, PermQueryAll.Satisfies(PermExecuteOrganization))
	assert.False(t, PermMetadataReadAll.Satisfies(PermMetadataWriteOrg))
}

func validCaller() *CallerContext {
	return &CallerContext{
		UserID:                "user-1",
		OrganizationID:        "org-1",
		Permissions:           []Permission{PermExecuteOrganization},
		AccessiblePracticeIDs: []int64{42},
	}
}

func TestCallerContext_Validate(t *testing.T) {
	assert.NoError(t, validCaller().Validate())

	t.Run("missing user id", func(t *testing.T) {
		c := validCaller()
		c.UserID = ""
		assert.ErrorIs(t, c.Validate(), ErrMalformedCallerContext)
	})

	t.Run("non-positive practice id", func(t *testing.T) {
		c := validCaller()
		c.AccessiblePracticeIDs = []int64{42, 0}
		assert.ErrorIs(t, c.Validate(), ErrMalformedCallerContext)

		c.AccessiblePracticeIDs = []int64{-5}
		assert.ErrorIs(t, c.Validate(), ErrMalformedCallerContext)
	})

	t.Run("nil context", func(t *testing.T) {
		var c *CallerContext
		assert.ErrorIs(t, c.Validate(), ErrMalformedCallerContext)
	})
}

func TestCallerContext_HasPermission(t *testing.T) {
	c := validCaller()
	assert.True(t, c.HasPermission(PermExecuteOrganization))
	assert.False(t, c.HasPermission(PermMetadataWriteOrg))

	// Super-admin holds every permission implicitly
	c.IsSuperAdmin = true
	assert.True(t, c.HasPermission(PermMetadataWriteOrg))
}

func TestEvaluator_RequirePermission(t *testing.T) {
	e := NewEvaluator()

	assert.NoError(t, e.RequirePermission(validCaller(), PermExecuteOrganization))

	t.Run("missing permission", func(t *testing.T) {
		err := e.RequirePermission(validCaller(), PermMetadataWriteOrg)
		var permErr *PermissionError
		require.ErrorAs(t, err, &permErr)
		assert.Equal(t, DenialMissingPermission, permErr.Reason)
		assert.Equal(t, PermMetadataWriteOrg, permErr.Required)
	})

	t.Run("malformed context fails closed", func(t *testing.T) {
		c := validCaller()
		c.UserID = ""
		err := e.RequirePermission(c, PermExecuteOrganization)
		var permErr *PermissionError
		require.ErrorAs(t, err, &permErr)
		assert.Equal(t, DenialMalformedContext, permErr.Reason)
	})

	t.Run("nil caller fails closed", func(t *testing.T) {
		err := e.RequirePermission(nil, PermExecuteOrganization)
		assert.Error(t, err)
	})
}

func TestEvaluator_AccessiblePracticeIDs_ReturnsCopy(t *testing.T) {
	e := NewEvaluator()
	c := validCaller()

	ids := e.AccessiblePracticeIDs(c)
	require.Equal(t, []int64{42}, ids)

	ids[0] = 999
	assert.Equal(t, []int64{42}, c.AccessiblePracticeIDs)
}

func TestEvaluator_BypassTenantFilter(t *testing.T) {
	e := NewEvaluator()

	assert.False(t, e.BypassTenantFilter(validCaller()))
	assert.False(t, e.BypassTenantFilter(nil))

	admin := validCaller()
	admin.IsSuperAdmin = true
	assert.True(t, e.BypassTenantFilter(admin))
}
