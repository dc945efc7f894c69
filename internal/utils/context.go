package utils

import (
	"context"
)

type contextKey string

const sessionIDContextKey contextKey = "MAILFS_SESSION_ID"

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}

func GetSessionIDFromContext(ctx context.Context) string {
	sessionID, ok := ctx.Value(sessionIDContextKey).(string)
	if !ok {
		return ""
	}
	return sessionID
}
