package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/artemis/flowmod/internal/coordinator"
	"github.com/artemis/flowmod/internal/topology"
	"github.com/artemis/flowmod/internal/wire"
)

// Keepalive parameters for the coordinator<->task-manager control
// stream, a long-lived bidirectional gRPC connection over an untrusted
// network.
const (
	KeepaliveTime    = 30 * time.Second
	KeepaliveTimeout = 10 * time.Second
	MaxConnectionAge = 24 * time.Hour
	maxMessageBytes  = 8 * 1024 * 1024
)

// Inbound is the coordinator-side handler for uplink frames. It is
// satisfied by *coordinator.Intake.
type Inbound interface {
	Acknowledge(ctx context.Context, modID topology.ModificationID, attemptID topology.ExecutionAttemptID) (coordinator.AckResult, bool)
	Decline(modID topology.ModificationID, attemptID topology.ExecutionAttemptID, reason string)
	Ignore(modID topology.ModificationID, attemptID topology.ExecutionAttemptID)
	StateMigration(ctx context.Context, attemptID topology.ExecutionAttemptID, blob []byte) error
}

// conn is one task manager's live control stream, from the coordinator's
// side. send is mutex-guarded since the trigger engine and the registry's
// deadline timers may push downlink frames from different goroutines
// while the read loop drains uplink frames concurrently.
type conn struct {
	taskManagerID topology.ID
	location      topology.TaskManagerLocation

	mu     sync.Mutex
	stream grpc.ServerStream
}

func (c *conn) send(f wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sendFrame(c.stream, f)
}

// Server is the coordinator-side control plane: a gRPC server hosting
// the Exchange bidi stream, one connection per task manager.
type Server struct {
	inbound      Inbound
	log          *zap.Logger
	onRegister   func(location topology.TaskManagerLocation, slotCapacity int)
	onDisconnect func(id topology.ID)

	grpcServer *grpc.Server

	mu    sync.RWMutex
	conns map[topology.ID]*conn
}

// NewServer constructs the control-plane server. creds is typically
// credentials.NewTLS(cm.ServerTLSConfig(trust)). log may be nil.
func NewServer(inbound Inbound, creds credentials.TransportCredentials, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		inbound: inbound,
		log:     log,
		conns:   make(map[topology.ID]*conn),
	}
	s.grpcServer = grpc.NewServer(
		grpc.Creds(creds),
		grpc.ForceServerCodec(jsonFrameCodec{}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:             KeepaliveTime,
			Timeout:          KeepaliveTimeout,
			MaxConnectionAge: MaxConnectionAge,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             15 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(maxMessageBytes),
		grpc.MaxSendMsgSize(maxMessageBytes),
	)
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Serve blocks accepting connections on addr until the listener fails or
// GracefulStop is called.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", addr, err)
	}
	s.log.Info("control plane listening", zap.String("addr", addr))
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("transport: serve: %w", err)
	}
	return nil
}

// GracefulStop drains in-flight RPCs and stops accepting new ones.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// OnRegister installs a callback fired once per task manager, right
// after its registration frame arrives, with the capacity it advertised.
// Typically wired to a SlotProvider's Register method.
func (s *Server) OnRegister(fn func(location topology.TaskManagerLocation, slotCapacity int)) {
	s.onRegister = fn
}

// OnDisconnect installs a callback fired once a task manager's stream
// ends, for callers that need to unregister it from a SlotProvider or
// adjust a connected-peer gauge.
func (s *Server) OnDisconnect(fn func(id topology.ID)) {
	s.onDisconnect = fn
}

// exchange implements controlServer: one call per task manager
// connection, for the stream's full lifetime.
func (s *Server) exchange(stream grpc.ServerStream) error {
	first, err := recvFrame(stream)
	if err != nil {
		return fmt.Errorf("transport: read registration frame: %w", err)
	}
	if first.Kind != wire.KindRegisterTaskManager {
		return fmt.Errorf("transport: expected %s, got %s", wire.KindRegisterTaskManager, first.Kind)
	}
	var reg wire.RegisterTaskManager
	if err := first.Unwrap(&reg); err != nil {
		return err
	}
	tmID, err := topology.ParseID(reg.TaskManagerID)
	if err != nil {
		return fmt.Errorf("transport: registration carried invalid task manager id: %w", err)
	}

	c := &conn{
		taskManagerID: tmID,
		location:      topology.TaskManagerLocation{TaskManagerID: tmID, Host: reg.Host, GRPCPort: reg.GRPCPort},
		stream:        stream,
	}
	s.mu.Lock()
	s.conns[tmID] = c
	s.mu.Unlock()
	s.log.Info("task manager connected", zap.String("task_manager_id", tmID.String()), zap.String("host", reg.Host))
	if s.onRegister != nil {
		s.onRegister(c.location, reg.SlotCapacity)
	}

	defer func() {
		s.mu.Lock()
		delete(s.conns, tmID)
		s.mu.Unlock()
		s.log.Info("task manager disconnected", zap.String("task_manager_id", tmID.String()))
		if s.onDisconnect != nil {
			s.onDisconnect(tmID)
		}
	}()

	ctx := stream.Context()
	for {
		f, err := recvFrame(stream)
		if err != nil {
			return err
		}
		if err := s.dispatch(ctx, f); err != nil {
			s.log.Warn("dropping malformed uplink frame", zap.String("kind", string(f.Kind)), zap.Error(err))
		}
	}
}

func (s *Server) dispatch(ctx context.Context, f wire.Frame) error {
	switch f.Kind {
	case wire.KindAcknowledge:
		var msg wire.Acknowledge
		if err := f.Unwrap(&msg); err != nil {
			return err
		}
		s.inbound.Acknowledge(ctx, msg.ModID, msg.Attempt)
	case wire.KindDecline:
		var msg wire.Decline
		if err := f.Unwrap(&msg); err != nil {
			return err
		}
		s.inbound.Decline(msg.ModID, msg.Attempt, msg.Reason)
	case wire.KindIgnore:
		var msg wire.Ignore
		if err := f.Unwrap(&msg); err != nil {
			return err
		}
		s.inbound.Ignore(msg.ModID, msg.Attempt)
	case wire.KindStateMigration:
		var msg wire.StateMigration
		if err := f.Unwrap(&msg); err != nil {
			return err
		}
		return s.inbound.StateMigration(ctx, msg.Attempt, msg.SubtaskStateBlob)
	default:
		return fmt.Errorf("transport: unknown frame kind %q", f.Kind)
	}
	return nil
}

// connByTaskManager resolves the live connection for tm, used by Gateway
// to deliver a downlink command.
func (s *Server) connByTaskManager(tm topology.ID) (*conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[tm]
	return c, ok
}
