package fuse

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/errors"

	"github.com/customeros/mailfs/services/mailfs"
)

type MountOptions struct {
	FsName     string
	AllowOther bool
	Debug      bool
	// Timeout bounds how long the kernel caches entries and attributes.
	Timeout time.Duration
}

// Mount serves mfs at dir. The returned server runs until unmounted.
func Mount(dir string, mfs *mailfs.FS, opts MountOptions) (*fuse.Server, error) {
	timeout := opts.Timeout
	server, err := fs.Mount(dir, NewRoot(mfs), &fs.Options{
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		MountOptions: fuse.MountOptions{
			FsName:     opts.FsName,
			Name:       opts.FsName,
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "mounting %s", dir)
	}
	return server, nil
}
