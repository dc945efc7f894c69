package fuse

import (
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"

	"github.com/customeros/mailfs/services/mailfs"
)

func TestCopyOut(t *testing.T) {
	n, errno := copyOut(nil, []byte("\\Seen"))
	assert.Equal(t, syscall.ERANGE, errno)
	assert.Equal(t, uint32(5), n)

	dest := make([]byte, 16)
	n, errno = copyOut(dest, []byte("\\Seen"))
	assert.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, "\\Seen", string(dest[:n]))
}

func TestFillAttr(t *testing.T) {
	mtime := time.Date(2024, 3, 9, 10, 15, 0, 0, time.UTC)
	var out fuse.Attr
	fillAttr(&out, mailfs.Attr{Mode: mailfs.ModeFile, Nlink: 1, Size: 1025, Mtime: mtime})

	assert.Equal(t, uint32(mailfs.ModeFile), out.Mode)
	assert.Equal(t, uint64(1025), out.Size)
	assert.Equal(t, uint64(3), out.Blocks)
	assert.Equal(t, uint64(mtime.Unix()), out.Mtime)
}
