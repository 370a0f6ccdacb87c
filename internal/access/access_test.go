package access

import (
	"strings"
	"testing"
	"time"

	"github.com/casefold/grantflow/model"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func emptyRequirement() Requirement {
	return Requirement{
		IDPRoles: []string{},
		AppRoles: model.RequiredRoles{AllOf: []string{}, AnyOf: []string{}},
	}
}

func grantedRole(name string) model.RoleWindow {
	start := testNow.AddDate(0, -1, 0)
	end := testNow.AddDate(0, 1, 0)
	return model.RoleWindow{Name: name, StartDate: &start, EndDate: &end}
}

func expiredRole(name string) model.RoleWindow {
	start := testNow.AddDate(-1, 0, 0)
	end := testNow.AddDate(0, -6, 0)
	return model.RoleWindow{Name: name, StartDate: &start, EndDate: &end}
}

func TestCanAccess_vacuousGrant(t *testing.T) {
	p := &model.Principal{ID: "user-1"}

	ok, err := CanAccess(p, emptyRequirement(), testNow)
	if err != nil {
		t.Fatalf("CanAccess error: %v", err)
	}
	if !ok {
		t.Error("empty requirement should grant regardless of roles")
	}
}

func TestCanAccess_anonymous(t *testing.T) {
	ok, err := CanAccess(nil, emptyRequirement(), testNow)
	if err != nil {
		t.Fatalf("CanAccess error: %v", err)
	}
	if !ok {
		t.Error("anonymous caller should pass a fully empty requirement")
	}

	req := emptyRequirement()
	req.IDPRoles = []string{"Admin"}
	ok, err = CanAccess(nil, req, testNow)
	if err != nil {
		t.Fatalf("CanAccess error: %v", err)
	}
	if ok {
		t.Error("anonymous caller must be denied a non-empty requirement")
	}
}

func TestCanAccess_idpRoles(t *testing.T) {
	req := emptyRequirement()
	req.IDPRoles = []string{"Admin", "Caseworker"}

	p := &model.Principal{ID: "user-1", IDPRoles: []string{"Caseworker"}}
	ok, err := CanAccess(p, req, testNow)
	if err != nil {
		t.Fatalf("CanAccess error: %v", err)
	}
	if !ok {
		t.Error("one matching idp role should satisfy the list")
	}

	p.IDPRoles = []string{"Viewer"}
	ok, _ = CanAccess(p, req, testNow)
	if ok {
		t.Error("no matching idp role should deny")
	}
}

func TestCanAccess_appRoles(t *testing.T) {
	req := emptyRequirement()
	req.AppRoles = model.RequiredRoles{
		AllOf: []string{"ROLE_A", "ROLE_B"},
		AnyOf: []string{"ROLE_C", "ROLE_D"},
	}

	p := &model.Principal{
		ID:       "user-1",
		AppRoles: []model.RoleWindow{grantedRole("ROLE_A"), grantedRole("ROLE_B"), grantedRole("ROLE_C")},
	}
	ok, err := CanAccess(p, req, testNow)
	if err != nil {
		t.Fatalf("CanAccess error: %v", err)
	}
	if !ok {
		t.Error("allOf held and one anyOf held should grant")
	}

	// Missing one allOf role.
	p.AppRoles = []model.RoleWindow{grantedRole("ROLE_A"), grantedRole("ROLE_C")}
	if ok, _ := CanAccess(p, req, testNow); ok {
		t.Error("missing allOf role should deny")
	}

	// allOf held but no anyOf role.
	p.AppRoles = []model.RoleWindow{grantedRole("ROLE_A"), grantedRole("ROLE_B")}
	if ok, _ := CanAccess(p, req, testNow); ok {
		t.Error("no anyOf role should deny when anyOf is non-empty")
	}

	// Role present but window expired.
	p.AppRoles = []model.RoleWindow{expiredRole("ROLE_A"), grantedRole("ROLE_B"), grantedRole("ROLE_C")}
	if ok, _ := CanAccess(p, req, testNow); ok {
		t.Error("expired role window should not count as held")
	}
}

func TestCanAccess_malformedRequirement(t *testing.T) {
	p := &model.Principal{ID: "user-1"}
	cases := []Requirement{
		{IDPRoles: nil, AppRoles: model.RequiredRoles{AllOf: []string{}, AnyOf: []string{}}},
		{IDPRoles: []string{}, AppRoles: model.RequiredRoles{AllOf: nil, AnyOf: []string{}}},
		{IDPRoles: []string{}, AppRoles: model.RequiredRoles{AllOf: []string{}, AnyOf: nil}},
	}
	for i, req := range cases {
		_, err := CanAccess(p, req, testNow)
		ee, ok := err.(*model.ErrorEnvelope)
		if !ok {
			t.Fatalf("case %d: error type = %T", i, err)
		}
		if ee.Code != model.ErrBadImplementation {
			t.Errorf("case %d: code = %q, want BAD_IMPLEMENTATION", i, ee.Code)
		}
	}
}

func TestAuthorise_forbiddenNamesPrincipal(t *testing.T) {
	req := emptyRequirement()
	req.IDPRoles = []string{"Admin"}

	p := &model.Principal{ID: "user-42", IDPRoles: []string{"Caseworker"}}
	err := Authorise(p, req, testNow)
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if ee.Code != model.ErrForbidden {
		t.Errorf("code = %q, want FORBIDDEN", ee.Code)
	}
	if !strings.Contains(ee.Message, "user-42") {
		t.Errorf("message %q does not name the principal", ee.Message)
	}
}

func TestAuthorise_grant(t *testing.T) {
	req := FromRoles(model.RequiredRoles{AllOf: []string{"ROLE_A"}, AnyOf: []string{}})
	p := &model.Principal{ID: "user-1", AppRoles: []model.RoleWindow{grantedRole("ROLE_A")}}
	if err := Authorise(p, req, testNow); err != nil {
		t.Fatalf("Authorise error: %v", err)
	}
}
