package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skiffhq/skiff/internal/domain"
	"github.com/skiffhq/skiff/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.DeploymentRepository = (*Repository)(nil)

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, user_id, project_name, repo_url, branch, namespace, status, url, log, executor_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query,
		d.ID, d.UserID, d.ProjectName, d.RepoURL, d.Branch, d.Namespace,
		d.Status, d.URL, d.Log, d.ExecutorRef, d.CreatedAt, d.UpdatedAt)
	return err
}

// TransitionDeployment applies a guarded status update. The legal-edge check
// runs inside the UPDATE predicate so concurrent transitions on the same
// record cannot interleave between read and write.
func (r *Repository) TransitionDeployment(ctx context.Context, id, newStatus, detail string) error {
	from := legalSources(newStatus)
	if len(from) > 0 {
		const query = `UPDATE deployments
			SET status = $2,
			    log = CASE WHEN $3 <> '' THEN log || $3 ELSE log END,
			    updated_at = now()
			WHERE id = $1 AND status = ANY($4)`
		tag, err := r.pool.Exec(ctx, query, id, newStatus, detail, from)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
	}

	// No row moved, or the target has no incoming edge at all (pending):
	// distinguish missing record, idempotent repeat, and an illegal edge.
	current, err := r.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	return transitionOutcome(current, newStatus)
}

// transitionOutcome classifies a transition that changed no row: repeating
// the current status is an idempotent no-op, anything else is an illegal
// edge.
func transitionOutcome(current, target string) error {
	if current == target {
		return nil
	}
	return repository.ErrInvalidTransition
}

// SetDeploymentURL records the public URL for a deployment.
func (r *Repository) SetDeploymentURL(ctx context.Context, id, url string) error {
	const query = `UPDATE deployments SET url = $2, updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetExecutorRef stores the opaque build job handle.
func (r *Repository) SetExecutorRef(ctx context.Context, id, ref string) error {
	const query = `UPDATE deployments SET executor_ref = $2, updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AppendDeploymentLog appends text to the accumulated log.
func (r *Repository) AppendDeploymentLog(ctx context.Context, id, text string) error {
	const query = `UPDATE deployments SET log = log || $2, updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, text)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDeploymentByID retrieves a deployment.
func (r *Repository) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	const query = `SELECT id, user_id, project_name, repo_url, branch, namespace, status, url, log, executor_ref, created_at, updated_at
		FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.UserID, &d.ProjectName, &d.RepoURL, &d.Branch, &d.Namespace,
		&d.Status, &d.URL, &d.Log, &d.ExecutorRef, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListDeploymentsByUser returns recent deployments owned by a user.
func (r *Repository) ListDeploymentsByUser(ctx context.Context, userID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, user_id, project_name, repo_url, branch, namespace, status, url, log, executor_ref, created_at, updated_at
		FROM deployments WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.UserID, &d.ProjectName, &d.RepoURL, &d.Branch, &d.Namespace,
			&d.Status, &d.URL, &d.Log, &d.ExecutorRef, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

func (r *Repository) currentStatus(ctx context.Context, id string) (string, error) {
	const query = `SELECT status FROM deployments WHERE id = $1`
	var status string
	if err := r.pool.QueryRow(ctx, query, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", repository.ErrNotFound
		}
		return "", err
	}
	return status, nil
}

// legalSources lists the statuses a record may hold before moving to target.
func legalSources(target string) []string {
	var from []string
	for _, s := range []string{domain.StatusPending, domain.StatusBuilding, domain.StatusDeployed, domain.StatusFailed} {
		if domain.CanTransition(s, target) {
			from = append(from, s)
		}
	}
	return from
}
