package rbac

type Role string
type Action string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionComment  Action = "comment"
	ActionThread   Action = "thread"
	ActionModerate Action = "moderate"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action == ActionRead || action == ActionComment || action == ActionThread || action == ActionModerate
	case RoleMember:
		return action == ActionRead || action == ActionComment || action == ActionThread
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleModerator, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}

// IsAtLeastModerator reports whether the role carries moderation powers.
func IsAtLeastModerator(role string) bool {
	return Can(Normalize(role), ActionModerate)
}
