package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "member read", role: RoleMember, action: ActionRead, allow: true},
		{name: "member comment", role: RoleMember, action: ActionComment, allow: true},
		{name: "member thread", role: RoleMember, action: ActionThread, allow: true},
		{name: "member moderate", role: RoleMember, action: ActionModerate, allow: false},
		{name: "moderator moderate", role: RoleModerator, action: ActionModerate, allow: true},
		{name: "moderator admin", role: RoleModerator, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown role", role: Role("ghost"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("moderator"); got != RoleModerator {
		t.Fatalf("Normalize(moderator) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleMember {
		t.Fatalf("Normalize(superuser) = %q, want member", got)
	}
}

func TestIsAtLeastModerator(t *testing.T) {
	if IsAtLeastModerator("member") {
		t.Fatal("member should not moderate")
	}
	if !IsAtLeastModerator("moderator") || !IsAtLeastModerator("admin") {
		t.Fatal("moderator and admin should moderate")
	}
}
