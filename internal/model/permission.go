package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionAttemptsRead allows viewing attempt lists and details.
	PermissionAttemptsRead Permission = "attempts:read"

	// PermissionExamsMonitor allows attaching to the live exam monitor.
	PermissionExamsMonitor Permission = "exams:monitor"
)
