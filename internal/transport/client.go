package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/artemis/flowmod/internal/wire"
)

// Client is the task-manager side of the control stream: one long-lived
// Exchange call to the coordinator, registered with a RegisterTaskManager
// frame immediately after connecting.
type Client struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	log    *zap.Logger

	sendMu sync.Mutex
}

// Dial opens the control stream to the coordinator at addr and sends the
// registration frame identifying this task manager.
func Dial(ctx context.Context, addr string, creds credentials.TransportCredentials, self wire.RegisterTaskManager, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                KeepaliveTime,
			Timeout:             KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonFrameCodec{})),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    exchangeStreamName,
		ServerStreams: true,
		ClientStreams: true,
	}, exchangeMethod)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: open exchange stream: %w", err)
	}

	c := &Client{conn: conn, stream: stream, log: log}
	frame, err := wire.Wrap(wire.KindRegisterTaskManager, self)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.Send(frame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: send registration: %w", err)
	}
	log.Info("connected to coordinator", zap.String("addr", addr), zap.String("task_manager_id", self.TaskManagerID))
	return c, nil
}

// Send transmits one frame. Safe for concurrent use; gRPC client streams
// otherwise forbid concurrent SendMsg calls.
func (c *Client) Send(f wire.Frame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return sendFrame(c.stream, f)
}

// Recv blocks for the next downlink frame. Only one goroutine should ever
// call Recv, matching gRPC's single-reader expectation.
func (c *Client) Recv() (wire.Frame, error) {
	return recvFrame(c.stream)
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// DialTimeout is a convenience wrapper around Dial with a bounded
// connection attempt, used by the task manager's startup path.
func DialTimeout(addr string, timeout time.Duration, creds credentials.TransportCredentials, self wire.RegisterTaskManager, log *zap.Logger) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return Dial(ctx, addr, creds, self, log)
}
