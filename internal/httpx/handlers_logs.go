package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/skiffhq/skiff/internal/domain"
	"github.com/skiffhq/skiff/internal/ws"
)

// handleLogsWS upgrades to a websocket delivering live build output for one
// deployment. Lines emitted before the join are covered by the backlog frame
// built from the record's accumulated log text.
func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	deploymentID := strings.TrimSpace(req.URL.Query().Get("deployment_id"))
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deployment_id required")
		return
	}
	deployment, err := r.deploy.Get(req.Context(), requesterID(req), deploymentID)
	if err != nil {
		writeError(w, httpStatusForError(err), "deployment not found")
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)

	if backlog := backlogFrame(deployment); backlog != nil {
		if err := client.Send(backlog); err != nil {
			return
		}
	}

	hub := r.logs.Hub()
	hub.Register(deploymentID, client)
	defer hub.Unregister(deploymentID, client)

	// Block reading control frames; returns when the peer goes away or the
	// hub closes the connection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleLogsSSE serves the same live channel over Server-Sent Events at
// /logs/{id}/stream, with periodic heartbeats to defeat idle proxies.
func (r *Router) handleLogsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	rest := pathSuffix(req.URL.Path, "/logs/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "stream" || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	deploymentID := parts[0]

	deployment, err := r.deploy.Get(req.Context(), requesterID(req), deploymentID)
	if err != nil {
		writeError(w, httpStatusForError(err), "deployment not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)

	if backlog := backlogFrame(deployment); backlog != nil {
		if err := client.Send(backlog); err != nil {
			return
		}
	}

	hub := r.logs.Hub()
	hub.Register(deploymentID, client)
	defer hub.Unregister(deploymentID, client)

	ticker := time.NewTicker(r.sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// backlogFrame packages the log text already persisted on the record so a
// late subscriber can catch up on lines emitted before it joined.
func backlogFrame(d *domain.Deployment) []byte {
	if d.Log == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]any{
		"deployment_id": d.ID,
		"backlog":       true,
		"log":           d.Log,
		"status":        d.Status,
	})
	if err != nil {
		return nil
	}
	return payload
}
