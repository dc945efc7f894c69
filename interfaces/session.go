package interfaces

import (
	"context"

	"github.com/customeros/mailfs/internal/models"
)

// SessionService issues the primitive protocol operations for one logical
// session. Callers hold the shared state lock.
type SessionService interface {
	ListMailboxes(ctx context.Context) ([]models.MailboxListing, error)
	Select(ctx context.Context, path string) (uint32, error)
	SearchAll(ctx context.Context, path string) ([]uint32, error)
	NeedsFetch(path string, uids []uint32, class models.FetchClass, force bool) bool
	Fetch(ctx context.Context, path string, uids []uint32, class models.FetchClass, force bool) error

	CreateMailbox(ctx context.Context, path string) error
	DeleteMailbox(ctx context.Context, path string) error
	RenameMailbox(ctx context.Context, oldPath, newPath string) error

	CopyMessages(ctx context.Context, uids []uint32, src, dst string) error
	DeleteMessages(ctx context.Context, uids []uint32, path string) error
	MoveMessages(ctx context.Context, uids []uint32, src, dst string) error

	Noop(ctx context.Context) error
	Close(ctx context.Context) error
}
