package rbac

// 权限常量
const (
	PermissionReadTask      = "tasks:read"
	PermissionUpdateTask    = "tasks:update"
	PermissionDeleteTask    = "tasks:delete"
	PermissionSync          = "sync:run"
	PermissionDecide        = "approvals:decide"
	PermissionDeleteRequest = "approvals:delete"
	PermissionManageCircle  = "circle:manage"
	PermissionSettings      = "settings:write"
	PermissionReplayOutbox  = "outbox:replay"
)

// 角色常量
const (
	RoleViewer = "viewer"
	RoleUser   = "user"
	RoleAdmin  = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleViewer: {
		PermissionReadTask,
	},
	RoleUser: {
		PermissionReadTask,
		PermissionUpdateTask,
		PermissionDeleteTask,
		PermissionSync,
		PermissionDecide,
		PermissionManageCircle,
		PermissionSettings,
	},
	RoleAdmin: {
		PermissionReadTask,
		PermissionUpdateTask,
		PermissionDeleteTask,
		PermissionSync,
		PermissionDecide,
		PermissionDeleteRequest,
		PermissionManageCircle,
		PermissionSettings,
		PermissionReplayOutbox,
	},
}

// NormalizeRole 未知角色降级为 viewer
func NormalizeRole(role string) string {
	if _, ok := rolePermissions[role]; ok {
		return role
	}
	return RoleViewer
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查用户是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(userID int, role string, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     int
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
