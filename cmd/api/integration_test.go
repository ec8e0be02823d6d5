package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/auth"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/realtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const bufSize = 1024 * 1024

// startBufServer serves the chat services over an in-memory listener with
// the production interceptor chain.
func startBufServer(t *testing.T, jwtMgr *auth.JWTManager) *grpc.ClientConn {
	t.Helper()
	srv, _, _ := newTestServer(t)

	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(authUnaryInterceptor(jwtMgr)),
		grpc.ChainStreamInterceptor(authStreamInterceptor(jwtMgr)),
	)
	registerService(s, srv)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s, healthServer)

	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	// Dialer via bufconn
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func bearer(t *testing.T, jwtMgr *auth.JWTManager, userID string) context.Context {
	t.Helper()
	token, _, err := jwtMgr.GenerateToken(userID)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func TestGRPC_UnaryAndHealth(t *testing.T) {
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	conn := startBufServer(t, jwtMgr)

	// health checks need no session
	if _, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{}); err != nil {
		t.Fatalf("health check: %v", err)
	}

	req, _ := structpb.NewStruct(map[string]any{"roomId": "r1"})
	out := new(structpb.Struct)
	err := conn.Invoke(context.Background(), "/"+chatService+"/GetRoom", req, out)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without token, got %v", err)
	}

	if err := conn.Invoke(bearer(t, jwtMgr, "alice"), "/"+chatService+"/GetRoom", req, out); err != nil {
		t.Fatalf("GetRoom RPC failed: %v", err)
	}
	if out.Fields["id"].GetStringValue() != "r1" {
		t.Fatalf("unexpected room: %v", out)
	}

	err = conn.Invoke(bearer(t, jwtMgr, "mallory"), "/"+chatService+"/GetRoom", req, out)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestGRPC_ConnectStream(t *testing.T) {
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	conn := startBufServer(t, jwtMgr)

	ctx, cancel := context.WithTimeout(bearer(t, jwtMgr, "alice"), 5*time.Second)
	defer cancel()
	desc := &realtimeServiceDesc.Streams[0]
	cs, err := conn.NewStream(ctx, desc, connectMethod)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}

	recv := func(want string) *structpb.Struct {
		t.Helper()
		for {
			ev := new(structpb.Struct)
			if err := cs.RecvMsg(ev); err != nil {
				t.Fatalf("recv waiting for %s: %v", want, err)
			}
			if ev.Fields["type"].GetStringValue() == want {
				return ev
			}
		}
	}

	recv(realtime.EventConnected)

	join, _ := structpb.NewStruct(map[string]any{"type": "join_room", "roomId": "r1"})
	if err := cs.SendMsg(join); err != nil {
		t.Fatalf("send join: %v", err)
	}
	count := recv(realtime.EventRoomActiveCount)
	if got := count.Fields["payload"].GetStructValue().Fields["active"].GetNumberValue(); got != 1 {
		t.Fatalf("expected 1 active user, got %v", got)
	}

	// a malformed frame is answered, the stream survives
	bad, _ := structpb.NewStruct(map[string]any{"type": 7})
	if err := cs.SendMsg(bad); err != nil {
		t.Fatalf("send bad frame: %v", err)
	}
	errEv := recv(realtime.EventError)
	if code := errEv.Fields["payload"].GetStructValue().Fields["code"].GetStringValue(); code != codes.InvalidArgument.String() {
		t.Fatalf("expected InvalidArgument, got %q", code)
	}

	ping, _ := structpb.NewStruct(map[string]any{"type": "ping", "requestId": "p1"})
	if err := cs.SendMsg(ping); err != nil {
		t.Fatalf("send ping: %v", err)
	}
	recv(realtime.EventPong)

	if err := cs.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
}

func TestGRPC_ConnectRequiresToken(t *testing.T) {
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	conn := startBufServer(t, jwtMgr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cs, err := conn.NewStream(ctx, &realtimeServiceDesc.Streams[0], connectMethod)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	err = cs.RecvMsg(new(structpb.Struct))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}
