package interfaces

import (
	"context"

	"github.com/customeros/mailfs/internal/wire"
)

// IMAPConn is one authenticated connection able to run tagged commands.
type IMAPConn interface {
	Execute(ctx context.Context, command string) (*wire.Reply, error)
	Logout(ctx context.Context) error
	Close() error
}

// Dialer opens and authenticates a new connection.
type Dialer interface {
	Dial(ctx context.Context) (IMAPConn, error)
}
