package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/terminal"
)

var upgrader = websocket.Upgrader{
	// Authentication is enforced via the API token middleware; a permissive
	// origin policy is acceptable for this single-server deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const terminalConnectTimeout = 15 * time.Second

// terminalConnect is the first text message a client sends after the
// WebSocket upgrade. An empty host requests a local shell. Browsers cannot
// set custom headers on WS upgrade, and query strings leak into access
// logs, so the credential travels in this message instead.
type terminalConnect struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	AuthType string `json:"auth_type"`
	Secret   string `json:"secret"`
	Term     string `json:"term"`
	Shell    string `json:"shell"`
}

// terminalControl is a text control frame sent mid-session. Binary frames
// carry keystrokes.
type terminalControl struct {
	Type string `json:"type"`
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// Terminal bridges a WebSocket to an interactive shell, remote over SSH or
// local behind a PTY.
func Terminal(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("terminal: websocket upgrade")
			return
		}
		defer conn.Close()

		_ = conn.SetReadDeadline(time.Now().Add(terminalConnectTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		var connect terminalConnect
		if err := json.Unmarshal(raw, &connect); err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid connect message"}`))
			return
		}

		sess, err := openTerminalSession(r.Context(), cfg, connect)
		if err != nil {
			msg, _ := json.Marshal(map[string]string{"error": err.Error()})
			_ = conn.WriteMessage(websocket.TextMessage, msg)
			return
		}

		id := uuid.NewString()
		terminal.Register(id, sess)
		defer func() {
			terminal.Unregister(id)
			_ = sess.Close()
		}()

		bridge(conn, sess, id)
		log.Info().Str("session_id", id).Str("host", connect.Host).Msg("terminal: session closed")
	}
}

func openTerminalSession(ctx context.Context, cfg *config.Config, connect terminalConnect) (terminal.Session, error) {
	if connect.Host == "" {
		return terminal.NewLocalSession(connect.Shell)
	}
	connector := &terminal.SSHConnector{}
	return connector.Connect(ctx, terminal.ConnectorConfig{
		Host:           connect.Host,
		Port:           connect.Port,
		User:           connect.User,
		AuthType:       connect.AuthType,
		Secret:         connect.Secret,
		KnownHostsPath: cfg.KnownHostsPath,
		StrictHostKey:  cfg.StrictHostKey,
		Term:           connect.Term,
		Shell:          connect.Shell,
	})
}

// bridge pumps bytes both ways until either side ends. Session output goes
// out as binary frames; text frames in are control messages.
func bridge(conn *websocket.Conn, sess terminal.Session, id string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := sess.Read(buf)
			if err != nil {
				if err != io.EOF {
					log.Debug().Err(err).Msg("terminal: session read")
				}
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				return
			}
		}
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("terminal: websocket read")
			}
			break
		}
		terminal.Touch(id)

		if msgType == websocket.TextMessage {
			var ctrl terminalControl
			if err := json.Unmarshal(msg, &ctrl); err == nil && ctrl.Type == "resize" {
				if err := sess.Resize(ctrl.Rows, ctrl.Cols); err != nil {
					log.Debug().Err(err).Msg("terminal: resize")
				}
			}
			continue
		}
		if _, err := sess.Write(msg); err != nil {
			break
		}
	}
	<-done
}
