package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/skiffhq/skiff/internal/crypto"
	"github.com/skiffhq/skiff/internal/worker"
)

type TransferRequest struct {
	HostParams
	// Type is one of the worker transfer task types
	// (e.g. "transfer:scp_send").
	Type             string `json:"type"`
	LocalPath        string `json:"local_path"`
	RemotePath       string `json:"remote_path"`
	Mode             uint32 `json:"mode,omitempty"`
	LimitBytesPerSec int    `json:"limit_bytes_per_sec,omitempty"`
	Queue            string `json:"queue,omitempty"`
}

var transferTypes = map[string]bool{
	worker.TaskSCPSend:     true,
	worker.TaskSCPReceive:  true,
	worker.TaskSFTPSend:    true,
	worker.TaskSFTPReceive: true,
}

// EnqueueTransfer seals the credential and queues a background transfer.
// The response carries the task ID for later status polling.
func EnqueueTransfer(client *asynq.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransferRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !transferTypes[req.Type] {
			http.Error(w, "unknown transfer type: "+req.Type, http.StatusBadRequest)
			return
		}

		sealed, err := crypto.Encrypt(req.Secret)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		task, err := worker.NewTask(req.Type, worker.TransferPayload{
			Host:             req.Host,
			Port:             req.Port,
			User:             req.User,
			AuthType:         req.AuthType,
			SealedSecret:     sealed,
			LocalPath:        req.LocalPath,
			RemotePath:       req.RemotePath,
			Mode:             req.Mode,
			LimitBytesPerSec: req.LimitBytesPerSec,
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		queue := req.Queue
		if queue == "" {
			queue = "default"
		}
		info, err := client.EnqueueContext(r.Context(), task, asynq.Queue(queue))
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"task_id": info.ID,
			"queue":   info.Queue,
			"state":   info.State.String(),
		})
	}
}

// GetTaskStatus reports the state of a queued transfer.
func GetTaskStatus(inspector *asynq.Inspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		queue := r.URL.Query().Get("queue")
		if queue == "" {
			queue = "default"
		}
		info, err := inspector.GetTaskInfo(queue, id)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		resp := map[string]any{
			"task_id": info.ID,
			"type":    info.Type,
			"queue":   info.Queue,
			"state":   info.State.String(),
			"retried": info.Retried,
		}
		if info.LastErr != "" {
			resp["last_error"] = info.LastErr
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
