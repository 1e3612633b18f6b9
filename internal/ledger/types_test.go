package ledger

import "testing"

func TestRole(t *testing.T) {
	if !RoleAdmin.Valid() || !RoleTeller.Valid() || !RoleCustomer.Valid() {
		t.Fatal("built-in roles must be valid")
	}
	if Role(0).Valid() || Role(4).Valid() {
		t.Fatal("out-of-range roles must be invalid")
	}
	if RoleAdmin.String() != "admin" || RoleCustomer.String() != "customer" {
		t.Fatalf("unexpected role names: %s %s", RoleAdmin, RoleCustomer)
	}
}
