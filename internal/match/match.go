package match

import (
	"strings"
)

// Role names used across herald.
const (
	RoleOperator = "operator"
	RoleClient   = "client"
)

// Meta is the routing metadata attached to a live connection or a push
// subscription. Every field is optional.
type Meta struct {
	Role          string `json:"role,omitempty"`
	OwnerIdentity string `json:"ownerIdentity,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Matcher selects recipients by their Meta.
type Matcher interface {
	Match(Meta) bool
	String() string
}

// Role matches recipients with the given role. An empty role matches nothing.
type Role string

func (r Role) Match(m Meta) bool { return r != "" && m.Role == string(r) }
func (r Role) String() string    { return "role==" + string(r) }

// Identity matches recipients owned by the given identity, compared
// case-insensitively. An empty identity matches nothing.
type Identity string

func (i Identity) Match(m Meta) bool {
	return i != "" && strings.EqualFold(m.OwnerIdentity, string(i))
}
func (i Identity) String() string { return "identity==" + string(i) }

// Correlation matches recipients following the given correlation id (a
// booking id). An empty id matches nothing.
type Correlation string

func (c Correlation) Match(m Meta) bool { return c != "" && m.CorrelationID == string(c) }
func (c Correlation) String() string    { return "correlation==" + string(c) }

// AnyOf matches when at least one member matches.
type AnyOf []Matcher

func (a AnyOf) Match(m Meta) bool {
	for _, x := range a {
		if x.Match(m) {
			return true
		}
	}
	return false
}

func (a AnyOf) String() string { return join(a, " || ") }

// AllOf matches when every member matches. An empty AllOf matches everyone.
type AllOf []Matcher

func (a AllOf) Match(m Meta) bool {
	for _, x := range a {
		if !x.Match(m) {
			return false
		}
	}
	return true
}

func (a AllOf) String() string { return join(a, " && ") }

// Everyone matches every recipient.
type Everyone struct{}

func (Everyone) Match(Meta) bool { return true }
func (Everyone) String() string  { return "*" }

func join(ms []Matcher, sep string) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = m.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}
