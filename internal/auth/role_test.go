package auth

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Role
		wantErr bool
	}{
		{"member", "member", RoleMember, false},
		{"admin", "admin", RoleAdmin, false},
		{"owner", "owner", RoleOwner, false},
		{"empty", "", 0, true},
		{"unknown", "superadmin", 0, true},
		{"case sensitive", "Owner", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRole(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRole(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestRoleOrdering(t *testing.T) {
	// The hierarchy invariant: member < admin < owner.
	if !(RoleMember < RoleAdmin && RoleAdmin < RoleOwner) {
		t.Fatal("role ordering broken: want member < admin < owner")
	}

	tests := []struct {
		name string
		have Role
		min  Role
		want bool
	}{
		{"owner meets owner", RoleOwner, RoleOwner, true},
		{"owner meets admin", RoleOwner, RoleAdmin, true},
		{"owner meets member", RoleOwner, RoleMember, true},
		{"admin fails owner", RoleAdmin, RoleOwner, false},
		{"admin meets admin", RoleAdmin, RoleAdmin, true},
		{"admin meets member", RoleAdmin, RoleMember, true},
		{"member fails admin", RoleMember, RoleAdmin, false},
		{"member meets member", RoleMember, RoleMember, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.have.AtLeast(tt.min); got != tt.want {
				t.Errorf("%v.AtLeast(%v) = %v, want %v", tt.have, tt.min, got, tt.want)
			}
		})
	}
}

func TestRoleStringRoundTrip(t *testing.T) {
	for _, name := range ValidRoleNames() {
		role, err := ParseRole(name)
		if err != nil {
			t.Fatalf("ParseRole(%q) error: %v", name, err)
		}
		if !role.Valid() {
			t.Errorf("ParseRole(%q).Valid() = false", name)
		}
		if got := role.String(); got != name {
			t.Errorf("Role.String() = %q, want %q", got, name)
		}
	}

	var zero Role
	if zero.Valid() {
		t.Error("zero Role reported valid")
	}
}

func TestPrincipalRateLimitKey(t *testing.T) {
	user := &Principal{Kind: PrincipalUser, UserID: "user-123"}
	if got := user.RateLimitKey(); got != "user:user-123" {
		t.Errorf("user RateLimitKey() = %q, want %q", got, "user:user-123")
	}

	key := &Principal{Kind: PrincipalAPIKey, OrgID: "org-1", KeyID: "key-9"}
	if got := key.RateLimitKey(); got != "apikey:key-9" {
		t.Errorf("api key RateLimitKey() = %q, want %q", got, "apikey:key-9")
	}
	if !key.IsAPIKey() {
		t.Error("IsAPIKey() = false for api key principal")
	}
	if user.IsAPIKey() {
		t.Error("IsAPIKey() = true for user principal")
	}
}
