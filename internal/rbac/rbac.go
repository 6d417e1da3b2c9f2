package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleEditor   Role = "editor"
	RoleApprover Role = "approver"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionEdit    Action = "edit"
	ActionResolve Action = "resolve"
	ActionPublish Action = "publish"
	ActionAdmin   Action = "admin"
)

// Can reports whether a role may perform an action. Editors draft but
// cannot resolve drift or publish; approvers own baselines and the
// publish gate.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleApprover:
		return action == ActionRead || action == ActionEdit || action == ActionResolve || action == ActionPublish
	case RoleEditor:
		return action == ActionRead || action == ActionEdit
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleApprover, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
