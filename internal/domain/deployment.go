package domain

import "time"

// Status values for a deployment. Pending is the only initial state;
// Deployed and Failed are terminal.
const (
	StatusPending  = "pending"
	StatusBuilding = "building"
	StatusDeployed = "deployed"
	StatusFailed   = "failed"
)

// Deployment captures a single deployment attempt.
type Deployment struct {
	ID          string
	UserID      string
	ProjectName string
	RepoURL     string
	Branch      string
	Namespace   string
	Status      string
	URL         string
	Log         string
	ExecutorRef string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusDeployed || status == StatusFailed
}

// CanTransition reports whether moving from one status to another is a legal
// edge of the deployment state machine.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusBuilding || to == StatusFailed
	case StatusBuilding:
		return to == StatusDeployed || to == StatusFailed
	default:
		return false
	}
}
