package model

import (
	"fmt"
	"time"
)

// RoleWindow is a time-bounded grant of a named application role. A nil date
// leaves that side of the window open.
type RoleWindow struct {
	Name      string     `json:"name"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// NewRoleWindow constructs a role grant. When both dates are present the end
// must be strictly after the start; the invariant is checked here, at
// construction, never later.
func NewRoleWindow(name string, start, end *time.Time) (RoleWindow, error) {
	if name == "" {
		return RoleWindow{}, NewBadRequestError("role name is required")
	}
	if start != nil && end != nil && !end.After(*start) {
		return RoleWindow{}, NewBadRequestError(
			fmt.Sprintf("role %q: end date must be after start date", name),
		)
	}
	return RoleWindow{Name: name, StartDate: start, EndDate: end}, nil
}

// ActiveAt reports whether the grant is in force at the given instant.
func (r RoleWindow) ActiveAt(now time.Time) bool {
	if r.StartDate != nil && now.Before(*r.StartDate) {
		return false
	}
	if r.EndDate != nil && now.After(*r.EndDate) {
		return false
	}
	return true
}

// RequiredRoles expresses an authorization requirement over application
// roles: every AllOf role must be held, and at least one AnyOf role unless
// AnyOf is empty. Both lists are required; an empty list relaxes its
// constraint, an absent (nil) list is a programming error surfaced as
// BAD_IMPLEMENTATION by the access evaluator.
type RequiredRoles struct {
	AllOf []string `yaml:"all_of" json:"all_of"`
	AnyOf []string `yaml:"any_of" json:"any_of"`
}

// Principal is the authenticated caller: identity-provider role claims plus
// the current set of application role grants, both resolved upstream by the
// identity collaborator.
type Principal struct {
	ID       string       `json:"id"`
	Name     string       `json:"name,omitempty"`
	IDPRoles []string     `json:"idp_roles"`
	AppRoles []RoleWindow `json:"app_roles"`
}

// HasIDPRole reports whether the principal carries the given identity
// provider role claim.
func (p *Principal) HasIDPRole(role string) bool {
	for _, r := range p.IDPRoles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAppRole reports whether the principal holds an application role grant
// with the given name that is active at the given instant.
func (p *Principal) HasAppRole(name string, now time.Time) bool {
	for _, w := range p.AppRoles {
		if w.Name == name && w.ActiveAt(now) {
			return true
		}
	}
	return false
}
