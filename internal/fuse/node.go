// Package fuse serves a mailfs.FS through the go-fuse inode API. Nodes are
// thin: they carry no state beyond their position in the tree and hand
// every callback to the adapter by path.
package fuse

import (
	"context"
	"path"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/customeros/mailfs/services/mailfs"
)

// Node is a mailbox, a message or the root.
type Node struct {
	fs.Inode
	mfs *mailfs.FS
}

func NewRoot(mfs *mailfs.FS) *Node {
	return &Node{mfs: mfs}
}

var _ = (fs.NodeLookuper)((*Node)(nil))
var _ = (fs.NodeGetattrer)((*Node)(nil))
var _ = (fs.NodeReaddirer)((*Node)(nil))
var _ = (fs.NodeOpener)((*Node)(nil))
var _ = (fs.NodeReader)((*Node)(nil))
var _ = (fs.NodeMkdirer)((*Node)(nil))
var _ = (fs.NodeRmdirer)((*Node)(nil))
var _ = (fs.NodeRenamer)((*Node)(nil))
var _ = (fs.NodeLinker)((*Node)(nil))
var _ = (fs.NodeGetxattrer)((*Node)(nil))
var _ = (fs.NodeListxattrer)((*Node)(nil))

func (n *Node) path() string {
	return n.Path(nil)
}

func (n *Node) child(name string) string {
	return path.Join(n.path(), name)
}

func (n *Node) newChild(ctx context.Context, attr mailfs.Attr) *fs.Inode {
	return n.NewInode(ctx, &Node{mfs: n.mfs}, fs.StableAttr{Mode: attr.Mode & syscall.S_IFMT})
}

func fillAttr(out *fuse.Attr, attr mailfs.Attr) {
	out.Mode = attr.Mode
	out.Nlink = attr.Nlink
	out.Size = attr.Size
	out.Blocks = (attr.Size + 511) / 512
	setTimestamps(out, attr.Mtime)
}

func setTimestamps(out *fuse.Attr, t time.Time) {
	if t.IsZero() {
		return
	}
	out.SetTimes(&t, &t, &t)
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	attr, errno := n.mfs.Getattr(ctx, n.child(name))
	if errno != 0 {
		return nil, errno
	}
	fillAttr(&out.Attr, attr)
	return n.newChild(ctx, attr), 0
}

func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, errno := n.mfs.Getattr(ctx, n.path())
	if errno != 0 {
		return errno
	}
	fillAttr(&out.Attr, attr)
	return 0
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, errno := n.mfs.Readdir(ctx, n.path())
	if errno != 0 {
		return nil, errno
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: e.Mode})
	}
	return fs.NewListDirStream(out), 0
}

// Open uses direct IO since the reported size is only an estimate of the
// body length.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if errno := n.mfs.Open(ctx, n.path(), flags); errno != 0 {
		return nil, 0, errno
	}
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, errno := n.mfs.Read(ctx, n.path(), len(dest), off)
	if errno != 0 {
		return nil, errno
	}
	return fuse.ReadResultData(data), 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if errno := n.mfs.Mkdir(ctx, p); errno != 0 {
		return nil, errno
	}
	attr, errno := n.mfs.Getattr(ctx, p)
	if errno != 0 {
		// the server may not list the new mailbox right away
		attr = mailfs.Attr{Mode: mailfs.ModeDir, Nlink: 2}
	}
	fillAttr(&out.Attr, attr)
	return n.newChild(ctx, attr), 0
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.mfs.Rmdir(ctx, n.child(name))
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		return syscall.ENOTSUP
	}
	newPath := path.Join(newParent.EmbeddedInode().Path(nil), newName)
	return n.mfs.Rename(ctx, n.child(name), newPath)
}

// Link copies the target message. The copy gets a new UID on the server,
// so the returned inode describes the target.
func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	targetPath := target.EmbeddedInode().Path(nil)
	if errno := n.mfs.Link(ctx, targetPath, n.child(name)); errno != 0 {
		return nil, errno
	}
	attr, errno := n.mfs.Getattr(ctx, targetPath)
	if errno != 0 {
		return nil, errno
	}
	fillAttr(&out.Attr, attr)
	return n.newChild(ctx, attr), 0
}

func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, errno := n.mfs.Getxattr(ctx, n.path(), attr)
	if errno != 0 {
		return 0, errno
	}
	return copyOut(dest, value)
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	names, errno := n.mfs.Listxattr(ctx, n.path())
	if errno != 0 {
		return 0, errno
	}
	var buf []byte
	for _, name := range names {
		buf = append(buf, name...)
		buf = append(buf, 0)
	}
	return copyOut(dest, buf)
}

// copyOut follows the xattr size protocol: a short buffer gets ERANGE
// together with the size needed.
func copyOut(dest, value []byte) (uint32, syscall.Errno) {
	if len(dest) < len(value) {
		return uint32(len(value)), syscall.ERANGE
	}
	return uint32(copy(dest, value)), 0
}
