package interfaces

import (
	"context"

	"github.com/customeros/mailfs/internal/models"
)

// CacheService answers lookups from cached state, refreshing through the
// session when an entry is missing or past its TTL.
type CacheService interface {
	Directories(ctx context.Context, force bool) error
	Select(ctx context.Context, path string, force bool) (*models.Directory, error)
	Search(ctx context.Context, path string, force, fetchMeta bool) ([]uint32, error)
	Message(ctx context.Context, path string, uid uint32, class models.FetchClass, force bool) (*models.Message, error)

	Directory(path string) (*models.Directory, bool)
	ChildNames(path string) []string
	IsPrefix(path string) bool
	HasMessage(path string, uid uint32) bool
	Stats() models.Snapshot
}
