// Package worker runs the Asynq task worker for background file transfers.
//
// Transfers are queued as JSON payloads carrying the target host and a
// sealed credential; the credential is decrypted only inside the handler,
// so it never rests in Redis in the clear.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/skiffhq/skiff/internal/client"
	"github.com/skiffhq/skiff/internal/crypto"
	"github.com/skiffhq/skiff/internal/scp"
	"github.com/skiffhq/skiff/internal/sftp"
)

// Task type constants.
const (
	TaskSCPSend     = "transfer:scp_send"
	TaskSCPReceive  = "transfer:scp_recv"
	TaskSFTPSend    = "transfer:sftp_send"
	TaskSFTPReceive = "transfer:sftp_recv"
)

// TransferPayload describes one queued file transfer.
type TransferPayload struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	AuthType string `json:"auth_type"`
	// SealedSecret is the AES-sealed credential value (password or PEM
	// private key, per AuthType).
	SealedSecret   string `json:"sealed_secret"`
	KnownHostsPath string `json:"known_hosts_path,omitempty"`

	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	// Mode is the permission bits applied to the created file on send.
	Mode uint32 `json:"mode,omitempty"`
	// LimitBytesPerSec caps throughput; zero means unlimited.
	LimitBytesPerSec int `json:"limit_bytes_per_sec,omitempty"`
}

// NewTask builds an Asynq task of the given transfer type. The payload's
// secret must already be sealed.
func NewTask(taskType string, p TransferPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal transfer payload: %w", err)
	}
	return asynq.NewTask(taskType, data), nil
}

// Worker manages the Asynq server and a shared client for enqueuing tasks.
type Worker struct {
	server   *asynq.Server
	client   *asynq.Client
	redisOpt asynq.RedisClientOpt
}

// New creates a Worker against the given Redis address. Call Start() to
// begin processing and Shutdown() to stop.
func New(redisAddr string) *Worker {
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	opt := asynq.RedisClientOpt{Addr: redisAddr}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	})

	return &Worker{
		server:   srv,
		client:   asynq.NewClient(opt),
		redisOpt: opt,
	}
}

// Start begins processing tasks in a background goroutine. Call once per
// process lifecycle.
func (w *Worker) Start() {
	go func() {
		if err := w.server.Run(w.mux()); err != nil {
			log.Error().Err(err).Msg("worker: asynq server stopped")
		}
	}()
}

// Run processes tasks on the calling goroutine until Shutdown.
func (w *Worker) Run() error {
	return w.server.Run(w.mux())
}

func (w *Worker) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSCPSend, handleSCPSend)
	mux.HandleFunc(TaskSCPReceive, handleSCPReceive)
	mux.HandleFunc(TaskSFTPSend, handleSFTPSend)
	mux.HandleFunc(TaskSFTPReceive, handleSFTPReceive)
	return mux
}

// Client returns the shared Asynq client for enqueuing tasks.
func (w *Worker) Client() *asynq.Client {
	return w.client
}

// Inspector returns an inspector bound to the same Redis backend, for task
// status queries.
func (w *Worker) Inspector() *asynq.Inspector {
	return asynq.NewInspector(w.redisOpt)
}

// Shutdown gracefully stops the worker and closes the client connection.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	_ = w.client.Close()
}

// dialFromPayload unseals the credential and opens the SSH connection.
func dialFromPayload(ctx context.Context, p TransferPayload) (*client.Client, error) {
	secret, err := crypto.Decrypt(p.SealedSecret)
	if err != nil {
		return nil, fmt.Errorf("unseal credential: %w", err)
	}
	cfg := client.Config{
		Host:           p.Host,
		Port:           p.Port,
		User:           p.User,
		AuthType:       p.AuthType,
		KnownHostsPath: p.KnownHostsPath,
	}
	switch p.AuthType {
	case client.AuthPrivateKey:
		cfg.PrivateKey = []byte(secret)
	default:
		cfg.Password = secret
	}
	return client.Dial(ctx, cfg)
}

func parsePayload(t *asynq.Task) (TransferPayload, error) {
	var p TransferPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("parse %s payload: %w", t.Type(), err)
	}
	return p, nil
}

func (p TransferPayload) fileMode() os.FileMode {
	if p.Mode == 0 {
		return 0o644
	}
	return os.FileMode(p.Mode)
}

func handleSCPSend(ctx context.Context, t *asynq.Task) error {
	p, err := parsePayload(t)
	if err != nil {
		return err
	}
	c, err := dialFromPayload(ctx, p)
	if err != nil {
		return err
	}
	defer c.Close("scp send task done")

	n, err := scp.Send(c, p.fileMode(), p.LocalPath, p.RemotePath, scp.WithLimit(p.LimitBytesPerSec))
	if err != nil {
		return err
	}
	log.Info().Str("host", p.Host).Str("remote", p.RemotePath).Int64("bytes", n).Msg("worker: scp send done")
	return nil
}

func handleSCPReceive(ctx context.Context, t *asynq.Task) error {
	p, err := parsePayload(t)
	if err != nil {
		return err
	}
	c, err := dialFromPayload(ctx, p)
	if err != nil {
		return err
	}
	defer c.Close("scp receive task done")

	n, err := scp.Receive(c, p.RemotePath, p.LocalPath, scp.WithLimit(p.LimitBytesPerSec))
	if err != nil {
		return err
	}
	log.Info().Str("host", p.Host).Str("remote", p.RemotePath).Int64("bytes", n).Msg("worker: scp receive done")
	return nil
}

func handleSFTPSend(ctx context.Context, t *asynq.Task) error {
	p, err := parsePayload(t)
	if err != nil {
		return err
	}
	c, err := dialFromPayload(ctx, p)
	if err != nil {
		return err
	}
	defer c.Close("sftp send task done")

	sub, err := sftp.Open(c)
	if err != nil {
		return err
	}
	defer sub.Close()

	n, err := sub.SendFile(p.fileMode(), p.LocalPath, p.RemotePath, sftp.WithLimit(p.LimitBytesPerSec))
	if err != nil {
		return err
	}
	log.Info().Str("host", p.Host).Str("remote", p.RemotePath).Int64("bytes", n).Msg("worker: sftp send done")
	return nil
}

func handleSFTPReceive(ctx context.Context, t *asynq.Task) error {
	p, err := parsePayload(t)
	if err != nil {
		return err
	}
	c, err := dialFromPayload(ctx, p)
	if err != nil {
		return err
	}
	defer c.Close("sftp receive task done")

	sub, err := sftp.Open(c)
	if err != nil {
		return err
	}
	defer sub.Close()

	n, err := sub.ReceiveFile(p.LocalPath, p.RemotePath, sftp.WithLimit(p.LimitBytesPerSec))
	if err != nil {
		return err
	}
	log.Info().Str("host", p.Host).Str("remote", p.RemotePath).Int64("bytes", n).Msg("worker: sftp receive done")
	return nil
}
