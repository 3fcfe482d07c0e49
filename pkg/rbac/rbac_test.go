package rbac

import (
	"errors"
	"testing"
)

func TestRolePermissions(t *testing.T) {
	cases := []struct {
		role, perm string
		want       bool
	}{
		{RoleUser, PermissionDecide, true},
		{RoleUser, PermissionReplayOutbox, false},
		{RoleAdmin, PermissionReplayOutbox, true},
		{RoleViewer, PermissionDeleteTask, false},
		{"ghost", PermissionReadTask, false},
	}
	for _, tc := range cases {
		if got := HasPermission(tc.role, tc.perm); got != tc.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
}

func TestCheckPermissionError(t *testing.T) {
	err := CheckPermission(3, RoleViewer, PermissionDecide)
	var denied *PermissionDeniedError
	if !errors.As(err, &denied) || denied.UserID != 3 {
		t.Fatalf("err = %v", err)
	}
	if NormalizeRole("root") != RoleViewer {
		t.Fatal("unknown role should normalize to viewer")
	}
}
