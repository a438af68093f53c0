package transport

import (
	"google.golang.org/grpc"

	"github.com/artemis/flowmod/internal/wire"
)

// serviceName matches what a .proto-generated stub would have produced;
// there is no .proto file behind it, only this hand-written descriptor,
// since every message on the wire is carried as a wire.Frame under the
// custom codec rather than as a protobuf message.
const serviceName = "flowmod.control.ControlService"

// exchangeStreamName is the bidirectional RPC every task manager opens
// once, at dial time, and holds for the lifetime of its connection to
// the coordinator.
const exchangeStreamName = "Exchange"

// controlServer is the interface the hand-rolled ServiceDesc dispatches
// to. Server implements it.
type controlServer interface {
	exchange(stream grpc.ServerStream) error
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(controlServer).exchange(stream)
}

// serviceDesc is registered with grpc.Server.RegisterService in place of
// the generated RegisterControlServiceServer a .proto workflow would
// emit.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*controlServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    exchangeStreamName,
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/transport/service.go",
}

// exchangeMethod is the fully-qualified method name passed to
// ClientConn.NewStream on the dialing side.
const exchangeMethod = "/" + serviceName + "/" + exchangeStreamName

// sendFrame and recvFrame adapt grpc.Stream's generic SendMsg/RecvMsg to
// wire.Frame, shared by both the server and client halves of Exchange.
func sendFrame(stream grpc.Stream, f wire.Frame) error {
	return stream.SendMsg(&f)
}

func recvFrame(stream grpc.Stream) (wire.Frame, error) {
	var f wire.Frame
	if err := stream.RecvMsg(&f); err != nil {
		return wire.Frame{}, err
	}
	return f, nil
}
