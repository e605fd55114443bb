package domain

import "time"

// LogLine represents one line of build output attributed to a deployment.
type LogLine struct {
	DeploymentID string
	Message      string
	Section      bool
	CreatedAt    time.Time
}
