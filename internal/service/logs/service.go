package logs

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"log/slog"

	"github.com/skiffhq/skiff/internal/domain"
	"github.com/skiffhq/skiff/internal/repository"
	"github.com/skiffhq/skiff/internal/ws"
)

// Service appends build output to the deployment record and fans lines out
// to live subscribers.
type Service struct {
	repo   repository.DeploymentRepository
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs a log service.
func New(repo repository.DeploymentRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger}
}

// Append persists one output line into the record's accumulated log text and
// broadcasts it to the deployment's subscriber group. Persistence failure is
// reported; broadcast is best-effort.
func (s Service) Append(ctx context.Context, deploymentID, line string) error {
	entry := domain.LogLine{
		DeploymentID: deploymentID,
		Message:      line,
		Section:      IsSectionMarker(line),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.AppendDeploymentLog(ctx, deploymentID, line+"\n"); err != nil {
		return err
	}
	s.broadcast(entry)
	return nil
}

// Close tears down the deployment's broadcast group. Called once the build
// reaches a terminal state.
func (s Service) Close(deploymentID string) {
	s.hub.CloseGroup(deploymentID)
}

// Hub exposes the broadcast hub for HTTP handlers.
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) broadcast(entry domain.LogLine) {
	data, err := MarshalLine(entry)
	if err != nil {
		s.logger.Warn("failed to marshal log payload", "error", err)
		return
	}
	s.hub.Broadcast(entry.DeploymentID, data)
}

// MarshalLine formats a log line for streaming payloads.
func MarshalLine(entry domain.LogLine) ([]byte, error) {
	payload := map[string]any{
		"deployment_id": entry.DeploymentID,
		"message":       entry.Message,
		"section":       entry.Section,
		"created_at":    entry.CreatedAt.Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}

// IsSectionMarker reports whether a line is a section-boundary marker.
// Markers are display grouping hints only; they never alter pipeline
// behavior.
func IsSectionMarker(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "===") || strings.HasPrefix(trimmed, "---")
}
