package main

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/PaulBabatuyi/roomChat-gRPC/internal/errors"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/realtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Requests and responses travel as google.protobuf.Struct messages whose
// fields mirror the JSON views in views.go, so any gRPC client can call the
// service without generated stubs.

const (
	realtimeService = "chat.v1.Realtime"
	chatService     = "chat.v1.Chat"
)

// connectMethod is the full method name of the realtime stream.
const connectMethod = "/" + realtimeService + "/Connect"

// chatServer is the marker interface both descriptors are registered with.
type chatServer interface {
	Connect(stream eventStream) error
}

var realtimeServiceDesc = grpc.ServiceDesc{
	ServiceName: realtimeService,
	HandlerType: (*chatServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Connect",
		Handler:       connectHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "chat/v1/realtime.proto",
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: chatService,
	HandlerType: (*chatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetOrCreateDirectRoom", (*Server).GetOrCreateDirectRoom),
		unary("CreateGroupRoom", (*Server).CreateGroupRoom),
		unary("GetRoom", (*Server).GetRoom),
		unary("ListRooms", (*Server).ListRooms),
		unary("DeleteRoom", (*Server).DeleteRoom),
		unary("SendMessage", (*Server).SendMessage),
		unary("ListMessages", (*Server).ListMessages),
		unary("MarkMessagesRead", (*Server).MarkMessagesRead),
		unary("MarkRoomRead", (*Server).MarkRoomRead),
		unary("MarkDelivered", (*Server).MarkDelivered),
		unary("DeleteMessage", (*Server).DeleteMessage),
		unary("GetRoomUnread", (*Server).GetRoomUnread),
		unary("GetTotalUnread", (*Server).GetTotalUnread),
		unary("GetRoomMessageCount", (*Server).GetRoomMessageCount),
		unary("GetUserStats", (*Server).GetUserStats),
	},
	Metadata: "chat/v1/chat.proto",
}

// registerService registers both chat services on the given gRPC server.
func registerService(s grpc.ServiceRegistrar, srv *Server) {
	s.RegisterService(&realtimeServiceDesc, srv)
	s.RegisterService(&chatServiceDesc, srv)
}

// unary adapts a typed handler to a grpc.MethodDesc. Domain errors are
// mapped to gRPC status codes on the way out.
func unary[Req, Resp any](name string, call func(*Server, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + chatService + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				r := new(Req)
				if err := decode(req.(*structpb.Struct), r); err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "malformed %s request: %v", name, err)
				}
				resp, err := call(srv.(*Server), ctx, r)
				if err != nil {
					return nil, apperrors.GRPCStatus(err)
				}
				return encode(resp)
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Server).Connect(&structStream{ServerStream: stream})
}

// structStream adapts a raw server stream to eventStream.
type structStream struct {
	grpc.ServerStream
}

// Recv reads one client event. A frame that does not decode is reported as
// ErrInvalidArgument so the caller can reply and keep reading.
func (s *structStream) Recv() (*clientEvent, error) {
	in := new(structpb.Struct)
	if err := s.RecvMsg(in); err != nil {
		return nil, err
	}
	ev := new(clientEvent)
	if err := decode(in, ev); err != nil {
		return nil, fmt.Errorf("decode client event: %v: %w", err, apperrors.ErrInvalidArgument)
	}
	return ev, nil
}

func (s *structStream) Send(ev realtime.Event) error {
	out, err := encode(ev)
	if err != nil {
		return err
	}
	return s.SendMsg(out)
}

// encode converts a JSON-tagged value into a Struct.
func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

// decode fills a JSON-tagged value from a Struct.
func decode(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
