package rbac

const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
)

// RolePermissions is the shell's default policy.
var RolePermissions = map[string][]string{
	RoleStudent: {
		"session:view",
		"session:unlock",
		"session:answer",
		"session:submit",
		"session:endorse",
	},
	RoleInstructor: {
		"lesson:view",
		"lesson:grade",
	},
}
