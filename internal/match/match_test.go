package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueMatchers(t *testing.T) {
	op := Meta{Role: RoleOperator}
	rider := Meta{Role: RoleClient, OwnerIdentity: "Rider@Example.com", CorrelationID: "b-1"}
	anon := Meta{}

	assert.True(t, Role(RoleOperator).Match(op))
	assert.False(t, Role(RoleOperator).Match(rider))
	assert.True(t, Identity("rider@example.com").Match(rider), "identity compares case-insensitively")
	assert.True(t, Correlation("b-1").Match(rider))

	// empty selectors never match recipients lacking the field
	assert.False(t, Role("").Match(anon))
	assert.False(t, Identity("").Match(anon))
	assert.False(t, Correlation("").Match(anon))

	anyOf := AnyOf{Identity("someone@else"), Role(RoleOperator)}
	assert.True(t, anyOf.Match(op))
	assert.False(t, anyOf.Match(rider))
	assert.False(t, AnyOf{}.Match(op))

	all := AllOf{Role(RoleClient), Correlation("b-1")}
	assert.True(t, all.Match(rider))
	assert.False(t, all.Match(op))
	assert.True(t, Everyone{}.Match(anon))

	assert.Equal(t, "(identity==someone@else || role==operator)", anyOf.String())
}

func TestExpr(t *testing.T) {
	e, err := Compile(`role == "operator" || ownerIdentity.endsWith("@example.com")`)
	require.NoError(t, err)
	assert.True(t, e.Match(Meta{Role: RoleOperator}))
	assert.True(t, e.Match(Meta{OwnerIdentity: "a@example.com"}))
	assert.False(t, e.Match(Meta{OwnerIdentity: "a@other.org"}))

	_, err = Compile(`role`)
	assert.Error(t, err, "non-bool expressions are rejected")
	_, err = Compile(`role ==`)
	assert.Error(t, err)
	_, err = Compile(`unknownVar == "x"`)
	assert.Error(t, err)
}
