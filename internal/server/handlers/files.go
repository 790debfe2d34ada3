package handlers

import (
	"encoding/json"
	"net/http"
	"path"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/sftp"
)

type FileRequest struct {
	HostParams
	Path    string `json:"path"`
	NewPath string `json:"new_path,omitempty"`
}

// withSubsystem dials the host and opens an SFTP channel for one request.
func withSubsystem(cfg *config.Config, w http.ResponseWriter, r *http.Request, hp HostParams, fn func(*sftp.Subsystem)) {
	c, err := dialHost(r.Context(), cfg, hp)
	if err != nil {
		writeSSHError(w, err)
		return
	}
	defer c.Close("file request done")

	sub, err := sftp.Open(c)
	if err != nil {
		writeSSHError(w, err)
		return
	}
	defer sub.Close()

	fn(sub)
}

// ListFiles returns the entries of a remote directory.
func ListFiles(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		withSubsystem(cfg, w, r, req.HostParams, func(sub *sftp.Subsystem) {
			entries, err := sub.ListDir(req.Path)
			if err != nil {
				writeSSHError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"path": req.Path, "entries": entries})
		})
	}
}

// StatFile returns metadata for one remote path.
func StatFile(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		withSubsystem(cfg, w, r, req.HostParams, func(sub *sftp.Subsystem) {
			entry, err := sub.Stat(req.Path)
			if err != nil {
				writeSSHError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, entry)
		})
	}
}

// DownloadFile streams a remote file as an attachment.
func DownloadFile(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		withSubsystem(cfg, w, r, req.HostParams, func(sub *sftp.Subsystem) {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(req.Path)+`"`)
			if _, err := sub.Download(req.Path, w); err != nil {
				// Headers may already be out; just log-and-drop is not an
				// option for API clients, so surface what we can.
				writeSSHError(w, err)
			}
		})
	}
}

// UploadFile writes a multipart upload to the remote path. The request
// carries a "meta" part (FileRequest JSON) and a "file" part with the body.
func UploadFile(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta := r.FormValue("meta")
		var req FileRequest
		if err := json.Unmarshal([]byte(meta), &req); err != nil {
			http.Error(w, "invalid meta part: "+err.Error(), http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file part: "+err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()

		withSubsystem(cfg, w, r, req.HostParams, func(sub *sftp.Subsystem) {
			n, err := sub.Upload(req.Path, file, cfg.MaxUploadBytes)
			if err != nil {
				writeSSHError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"path": req.Path, "bytes": n})
		})
	}
}

// RenameFile moves a remote path.
func RenameFile(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.NewPath == "" {
			http.Error(w, "new_path is required", http.StatusBadRequest)
			return
		}
		withSubsystem(cfg, w, r, req.HostParams, func(sub *sftp.Subsystem) {
			if err := sub.Rename(req.Path, req.NewPath); err != nil {
				writeSSHError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"path": req.NewPath})
		})
	}
}

// MkdirFile creates a remote directory.
func MkdirFile(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		withSubsystem(cfg, w, r, req.HostParams, func(sub *sftp.Subsystem) {
			if err := sub.Mkdir(req.Path); err != nil {
				writeSSHError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"path": req.Path})
		})
	}
}

// DeleteFile removes a remote file or empty directory.
func DeleteFile(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		withSubsystem(cfg, w, r, req.HostParams, func(sub *sftp.Subsystem) {
			if err := sub.Remove(req.Path); err != nil {
				writeSSHError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
		})
	}
}
