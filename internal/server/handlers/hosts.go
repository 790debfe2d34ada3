package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/skiffhq/skiff/internal/client"
	"github.com/skiffhq/skiff/internal/config"
)

// HostParams identifies the SSH target of a request. The secret arrives in
// the request body, is consumed for one connection, and is never persisted.
type HostParams struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	AuthType string `json:"auth_type"`
	Secret   string `json:"secret"`
}

func (h HostParams) clientConfig(cfg *config.Config) client.Config {
	port := h.Port
	if port == 0 {
		port = 22
	}
	cc := client.Config{
		Host:           h.Host,
		Port:           port,
		User:           h.User,
		AuthType:       h.AuthType,
		KnownHostsPath: cfg.KnownHostsPath,
		StrictHostKey:  cfg.StrictHostKey,
	}
	switch h.AuthType {
	case client.AuthPrivateKey:
		cc.PrivateKey = []byte(h.Secret)
	default:
		cc.Password = h.Secret
	}
	return cc
}

func dialHost(ctx context.Context, cfg *config.Config, h HostParams) (*client.Client, error) {
	return client.Dial(ctx, h.clientConfig(cfg))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("handlers: encode response")
	}
}

// writeSSHError maps connection-lifecycle failures to HTTP status codes.
func writeSSHError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, client.ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, client.ErrHostKeyMismatch):
		status = http.StatusForbidden
	case errors.Is(err, client.ErrConnection), errors.Is(err, client.ErrHandshake):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
