// Package match selects notification recipients. Matchers are plain values
// (Role, Identity, Correlation, AnyOf, AllOf, Everyone) or compiled CEL
// expressions, so targeting rules can be logged, compared and tested.
//
//	m := match.AnyOf{match.Identity(owner), match.Role(match.RoleOperator), match.Correlation(bookingID)}
//	hub.SendTo(m, "booking.confirmed", payload)
package match
