package repository

import (
	"context"

	"github.com/skiffhq/skiff/internal/domain"
)

// DeploymentRepository stores deployment records and enforces the status
// state machine on every transition.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	// TransitionDeployment moves a record to a new status. It is an
	// idempotent no-op when the record already holds the target status and
	// returns ErrInvalidTransition when the edge is not legal. The detail
	// string, when non-empty, is appended to the record's log text.
	TransitionDeployment(ctx context.Context, id, newStatus, detail string) error
	// SetDeploymentURL records the public URL derived from the namespace.
	SetDeploymentURL(ctx context.Context, id, url string) error
	// SetExecutorRef stores the opaque handle of the running build job.
	SetExecutorRef(ctx context.Context, id, ref string) error
	AppendDeploymentLog(ctx context.Context, id, text string) error
	GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error)
	ListDeploymentsByUser(ctx context.Context, userID string, limit int) ([]domain.Deployment, error)
}
