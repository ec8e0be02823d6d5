package main

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// SessionValidator resolves a bearer token to a user id.
type SessionValidator interface {
	ValidateSession(token string) (string, error)
}

// context key type for storing the authenticated user id in context
type authContextKey struct{}

// userFromContext extracts the authenticated user id, if present.
func userFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(authContextKey{}).(string)
	return userID, ok && userID != ""
}

// userKey keys per-user throttles. It must run after authentication.
func userKey(ctx context.Context) string {
	userID, _ := userFromContext(ctx)
	return "user:" + userID
}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, authContextKey{}, userID)
}

// unauthenticated reports methods that skip authentication.
func unauthenticated(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

// authenticate validates the bearer token carried in the request metadata.
func authenticate(ctx context.Context, v SessionValidator) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing authorization header")
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeaders[0], "Bearer"))
	if token == "" {
		return "", status.Error(codes.Unauthenticated, "invalid token")
	}

	userID, err := v.ValidateSession(token)
	if err != nil {
		return "", status.Errorf(codes.Unauthenticated, "unauthenticated: %v", err)
	}
	return userID, nil
}

// authUnaryInterceptor returns a UnaryServerInterceptor that enforces session
// authentication for every method except health checks.
func authUnaryInterceptor(v SessionValidator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if unauthenticated(info.FullMethod) {
			return handler(ctx, req)
		}
		userID, err := authenticate(ctx, v)
		if err != nil {
			return nil, err
		}
		return handler(withUser(ctx, userID), req)
	}
}

// authStreamInterceptor is the stream equivalent of authUnaryInterceptor.
func authStreamInterceptor(v SessionValidator) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if unauthenticated(info.FullMethod) {
			return handler(srv, ss)
		}
		userID, err := authenticate(ss.Context(), v)
		if err != nil {
			return err
		}
		return handler(srv, authedStream{ServerStream: ss, ctx: withUser(ss.Context(), userID)})
	}
}

// authedStream wraps grpc.ServerStream to override Context()
type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context (with the user id)
func (g authedStream) Context() context.Context { return g.ctx }
