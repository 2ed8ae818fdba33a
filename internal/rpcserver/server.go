// Package rpcserver is the admission entry point (spec.md §6): a single
// operation keyed by action ∈ {acquire, release, status}, served as
// newline-delimited JSON over a Unix domain socket.
//
// Protocol and connection-handling shape adapted from octoreflex's
// internal/operator/server.go (one JSON request per connection, a
// semaphore bounding concurrent connections, read/write deadlines) —
// generalized here to serve CheckAdmission/Release/Status instead of
// process-state operator commands, avoiding any need for a gRPC/protobuf
// toolchain.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dataplatform/admissionctl/internal/admission"
	"github.com/dataplatform/admissionctl/internal/domain"
)

const (
	maxConcurrentConns = 64
	maxRequestBytes    = 4096
	connTimeout        = 30 * time.Second
)

// Request is the JSON structure for every admission RPC call.
type Request struct {
	Action            string `json:"action"` // acquire | release | status
	SrcDBID           int    `json:"src_db_id,omitempty"`
	DAGID             string `json:"dag_id,omitempty"`
	DAGRunID          string `json:"dag_run_id,omitempty"`
	TableName         string `json:"table_name,omitempty"`
	RequestedParallel int    `json:"requested_parallel,omitempty"`
}

// Response wraps whichever result type the dispatched action produced.
type Response struct {
	OK      bool                            `json:"ok"`
	Error   string                          `json:"error,omitempty"`
	Result  *domain.AdmissionResult         `json:"result,omitempty"`
	Release *domain.ReleaseResult          `json:"release,omitempty"`
	Status  map[int]admission.SourceStatus `json:"status,omitempty"`
}

// Server is the admission Unix domain socket server.
type Server struct {
	socketPath string
	controller *admission.Controller
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer builds a Server over the given Controller.
func NewServer(socketPath string, controller *admission.Controller, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		socketPath: socketPath,
		controller: controller,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe binds the Unix socket and serves until ctx is cancelled.
// Removes any stale socket file before binding.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rpcserver: remove stale socket %q: %w", s.socketPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("rpcserver: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("rpcserver: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	s.log.Info("admission socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("rpcserver: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("rpcserver: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("rpcserver: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(req Request) Response {
	switch req.Action {
	case "acquire":
		return s.cmdAcquire(req)
	case "release":
		return s.cmdRelease(req)
	case "status":
		return s.cmdStatus()
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown action %q", req.Action)}
	}
}

func (s *Server) cmdAcquire(req Request) Response {
	if req.DAGRunID == "" {
		return Response{OK: false, Error: "dag_run_id required for acquire"}
	}
	result, err := s.controller.CheckAdmission(admission.Request{
		SrcDBID: req.SrcDBID, DAGID: req.DAGID, DAGRunID: req.DAGRunID,
		TableName: req.TableName, RequestedParallel: req.RequestedParallel,
	})
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Result: &result}
}

func (s *Server) cmdRelease(req Request) Response {
	if req.DAGRunID == "" {
		return Response{OK: false, Error: "dag_run_id required for release"}
	}
	result, err := s.controller.Release(req.SrcDBID, req.DAGRunID)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Release: &result}
}

func (s *Server) cmdStatus() Response {
	status, err := s.controller.Status()
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Status: status}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("rpcserver: marshaling response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
