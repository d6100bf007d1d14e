package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// Control protocol: one JSON request per connection, one JSON response.
// The socket lives in the daemon state directory.

// ControlRequest is one command to a running daemon.
type ControlRequest struct {
	Op   string `json:"op"` // "status" | "stop"
	Repo string `json:"repo,omitempty"`
}

// ControlResponse is the daemon's answer.
type ControlResponse struct {
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
	PID    int           `json:"pid,omitempty"`
	Uptime string        `json:"uptime,omitempty"`
	Repos  []*RepoStatus `json:"repos,omitempty"`
}

// SocketPath is the control socket inside a state directory.
func SocketPath(stateDir string) string {
	return filepath.Join(stateDir, "service.sock")
}

// ControlServer answers status queries and stop requests.
type ControlServer struct {
	registry *Registry
	stop     context.CancelFunc
	started  time.Time
	log      *slog.Logger
}

// NewControlServer wires the server; stop cancels the daemon run context.
func NewControlServer(registry *Registry, stop context.CancelFunc, log *slog.Logger) *ControlServer {
	return &ControlServer{registry: registry, stop: stop, started: time.Now(), log: log}
}

// Serve listens until ctx ends. The socket file is replaced on start and
// removed on exit.
func (s *ControlServer) Serve(ctx context.Context, socketPath string) error {
	_ = os.Remove(socketPath)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return llmcerrors.New(llmcerrors.CodePathInvalid, "cannot create socket directory", err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return llmcerrors.New(llmcerrors.CodeFatal, "cannot listen on control socket", err)
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("control accept failed", slog.String("error", err.Error()))
			continue
		}
		go s.handle(conn)
	}
}

func (s *ControlServer) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var req ControlRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		_ = json.NewEncoder(conn).Encode(ControlResponse{OK: false, Error: "bad request"})
		return
	}

	var resp ControlResponse
	switch req.Op {
	case "status":
		resp = ControlResponse{
			OK:     true,
			PID:    os.Getpid(),
			Uptime: time.Since(s.started).Round(time.Second).String(),
			Repos:  s.registry.List(),
		}
	case "stop":
		resp = ControlResponse{OK: true}
		defer s.stop()
	default:
		resp = ControlResponse{OK: false, Error: "unknown op " + req.Op}
	}
	_ = json.NewEncoder(conn).Encode(resp)
}

// Call sends one request to a running daemon.
func Call(socketPath string, req ControlRequest) (*ControlResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, llmcerrors.New(llmcerrors.CodeResourceBusy, "daemon not reachable", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, err
	}
	resp := &ControlResponse{}
	if err := json.NewDecoder(conn).Decode(resp); err != nil {
		return nil, llmcerrors.New(llmcerrors.CodeBackendParse, "bad control response", err)
	}
	return resp, nil
}
