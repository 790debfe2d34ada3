package handlers

import (
	"net/http"

	"github.com/skiffhq/skiff/internal/channel"
	"github.com/skiffhq/skiff/internal/config"
)

type ExecRequest struct {
	HostParams
	Command string `json:"command"`
}

type ExecResponse struct {
	ExitStatus int    `json:"exit_status"`
	Output     string `json:"output"`
}

// Exec runs one remote command on a fresh connection and returns its exit
// status plus the accumulated stdout.
func Exec(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExecRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Command == "" {
			http.Error(w, "command is required", http.StatusBadRequest)
			return
		}

		c, err := dialHost(r.Context(), cfg, req.HostParams)
		if err != nil {
			writeSSHError(w, err)
			return
		}
		defer c.Close("exec request done")

		status, out, err := channel.Output(c, req.Command)
		if err != nil {
			writeSSHError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ExecResponse{ExitStatus: status, Output: string(out)})
	}
}
