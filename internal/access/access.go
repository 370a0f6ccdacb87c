// Package access evaluates a principal's identity-provider role claims and
// active application role grants against declarative requirements. It is the
// single gate consulted by every protected case operation.
package access

import (
	"fmt"
	"time"

	"github.com/casefold/grantflow/model"
)

// Requirement pairs an identity-provider role constraint with an application
// role constraint. An empty IDPRoles list relaxes the identity check; the
// application check semantics live in model.RequiredRoles.
type Requirement struct {
	IDPRoles []string            `yaml:"idp_roles" json:"idp_roles"`
	AppRoles model.RequiredRoles `yaml:"app_roles" json:"app_roles"`
}

// FromRoles lifts a bare application role requirement (as authored on tasks
// and actions) into a full requirement with no identity-provider constraint.
func FromRoles(rr model.RequiredRoles) Requirement {
	return Requirement{IDPRoles: []string{}, AppRoles: rr}
}

// CanAccess reports whether the principal satisfies the requirement at the
// given instant. The clock is an explicit parameter so role-window evaluation
// stays deterministic under test.
//
// A malformed requirement (a nil role list where an empty one was meant) is a
// programming error, not an access decision: it returns BAD_IMPLEMENTATION
// rather than denying silently.
func CanAccess(p *model.Principal, req Requirement, now time.Time) (bool, error) {
	if err := validateRequirement(req); err != nil {
		return false, err
	}

	if p == nil {
		// Anonymous callers pass only a fully empty requirement.
		return len(req.IDPRoles) == 0 &&
			len(req.AppRoles.AllOf) == 0 &&
			len(req.AppRoles.AnyOf) == 0, nil
	}

	if !idpSatisfied(p, req.IDPRoles) {
		return false, nil
	}
	return appSatisfied(p, req.AppRoles, now), nil
}

// Authorise is the raising form of CanAccess: denial becomes a FORBIDDEN
// error naming the principal.
func Authorise(p *model.Principal, req Requirement, now time.Time) error {
	ok, err := CanAccess(p, req, now)
	if err != nil {
		return err
	}
	if !ok {
		id := "anonymous"
		if p != nil {
			id = p.ID
		}
		return model.NewForbiddenError(
			fmt.Sprintf("user %q does not have the required permissions", id),
		)
	}
	return nil
}

func validateRequirement(req Requirement) error {
	if req.IDPRoles == nil {
		return model.NewBadImplementationError("requirement is missing idp_roles")
	}
	if req.AppRoles.AllOf == nil {
		return model.NewBadImplementationError("requirement is missing app_roles.all_of")
	}
	if req.AppRoles.AnyOf == nil {
		return model.NewBadImplementationError("requirement is missing app_roles.any_of")
	}
	return nil
}

func idpSatisfied(p *model.Principal, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if p.HasIDPRole(r) {
			return true
		}
	}
	return false
}

func appSatisfied(p *model.Principal, rr model.RequiredRoles, now time.Time) bool {
	for _, r := range rr.AllOf {
		if !p.HasAppRole(r, now) {
			return false
		}
	}
	if len(rr.AnyOf) == 0 {
		return true
	}
	for _, r := range rr.AnyOf {
		if p.HasAppRole(r, now) {
			return true
		}
	}
	return false
}
