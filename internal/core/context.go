package core

import (
	"context"

	"github.com/JonMunkholm/boardsheet/internal/board"
)

type contextKey string

const (
	ctxKeyActor     contextKey = "actor"
	ctxKeyIPAddress contextKey = "client_ip"
)

// ContextWithActor stores the authenticated caller.
func ContextWithActor(ctx context.Context, a board.Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, a)
}

// ActorFromContext returns the authenticated caller, or the zero Actor.
func ActorFromContext(ctx context.Context) board.Actor {
	if a, ok := ctx.Value(ctxKeyActor).(board.Actor); ok {
		return a
	}
	return board.Actor{}
}

// ContextWithIPAddress adds the client address for job logging.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// IPAddressFromContext extracts the client address.
func IPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}
