package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/skiffhq/skiff/internal/domain"
	"github.com/skiffhq/skiff/internal/service/deploy"
)

// handleDeploy accepts a build trigger. The deployment ID is returned
// immediately; the build proceeds asynchronously.
func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload deploy.TriggerRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	deployment, err := r.deploy.Trigger(req.Context(), requesterID(req), payload)
	if err != nil {
		status := httpStatusForError(err)
		if status == http.StatusInternalServerError {
			r.logger.Error("deploy trigger failed", "error", err)
			writeError(w, status, "failed to create deployment")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"deployment_id": deployment.ID,
		"namespace":     deployment.Namespace,
		"status":        deployment.Status,
	})
}

// handleDeploymentByID serves the status poll contract: current status,
// public URL and accumulated log text. The live log channel is the preferred
// low-latency path; this is the coarser fallback view of the same state.
func (r *Router) handleDeploymentByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	id := pathSuffix(req.URL.Path, "/deploy/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "deployment id required")
		return
	}
	deployment, err := r.deploy.Get(req.Context(), requesterID(req), id)
	if err != nil {
		status := httpStatusForError(err)
		if status == http.StatusInternalServerError {
			r.logger.Error("deployment lookup failed", "deployment_id", id, "error", err)
			writeError(w, status, "failed to load deployment")
			return
		}
		writeError(w, status, "deployment not found")
		return
	}
	writeJSON(w, http.StatusOK, deploymentPayload(deployment, true))
}

// handleDeployments lists the caller's recent deployments.
func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit := 20
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	deployments, err := r.deploy.List(req.Context(), requesterID(req), limit)
	if err != nil {
		r.logger.Error("deployment list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list deployments")
		return
	}
	items := make([]map[string]any, 0, len(deployments))
	for i := range deployments {
		items = append(items, deploymentPayload(&deployments[i], false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": items})
}

func deploymentPayload(d *domain.Deployment, includeLog bool) map[string]any {
	payload := map[string]any{
		"id":           d.ID,
		"project_name": d.ProjectName,
		"repo_url":     d.RepoURL,
		"branch":       d.Branch,
		"namespace":    d.Namespace,
		"status":       d.Status,
		"url":          d.URL,
		"created_at":   d.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   d.UpdatedAt.Format(time.RFC3339Nano),
	}
	if includeLog {
		payload["log"] = d.Log
	}
	return payload
}
