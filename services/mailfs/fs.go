// Package mailfs maps filesystem operations onto cached IMAP state.
//
// Mailboxes are directories and messages are read-only files named by UID.
// Every callback holds the state lock from start to finish, so protocol
// sequences never interleave.
package mailfs

import (
	"context"
	"strconv"
	"syscall"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailfs/interfaces"
	mailfserrors "github.com/customeros/mailfs/internal/errors"
	"github.com/customeros/mailfs/internal/logger"
	"github.com/customeros/mailfs/internal/models"
	"github.com/customeros/mailfs/internal/tracing"
	"github.com/customeros/mailfs/internal/utils"
)

const (
	ModeDir  = syscall.S_IFDIR | 0o755
	ModeFile = syscall.S_IFREG | 0o444
)

// Attr describes a file or directory.
type Attr struct {
	Mode  uint32
	Nlink uint32
	Size  uint64
	Mtime time.Time
}

func (a Attr) IsDir() bool {
	return a.Mode&syscall.S_IFMT == syscall.S_IFDIR
}

type DirEntry struct {
	Name string
	Mode uint32
}

type FS struct {
	state   *models.State
	cache   interfaces.CacheService
	session interfaces.SessionService
	log     logger.Logger
}

func NewFS(state *models.State, cache interfaces.CacheService, session interfaces.SessionService, log logger.Logger) *FS {
	return &FS{
		state:   state,
		cache:   cache,
		session: session,
		log:     log,
	}
}

func (f *FS) startSpan(ctx context.Context, operationName, path string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, operationName)
	tracing.SetDefaultFuseSpanTags(ctx, span)
	tracing.TagPath(span, path)
	return span, ctx
}

func dirAttr(mtime time.Time) Attr {
	return Attr{Mode: ModeDir, Nlink: 2, Mtime: mtime}
}

// parseUID accepts the decimal file names messages are exposed under.
func parseUID(name string) (uint32, bool) {
	if name == "" || name[0] == '0' {
		return 0, false
	}
	uid, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(uid), true
}

// message resolves path to a mailbox and a UID listed by its latest search.
func (f *FS) message(ctx context.Context, path string) (string, uint32, error) {
	parent, leaf := utils.SplitParent(path)
	uid, ok := parseUID(leaf)
	if !ok {
		return "", 0, errNotFound("%q is not a message", path)
	}
	if _, ok := f.cache.Directory(parent); !ok {
		return "", 0, errNotFound("no mailbox %q", parent)
	}
	if _, err := f.cache.Search(ctx, parent, false, true); err != nil {
		return "", 0, err
	}
	if !f.cache.HasMessage(parent, uid) {
		return "", 0, errNotFound("no message %d in %q", uid, parent)
	}
	return parent, uid, nil
}

func (f *FS) Getattr(ctx context.Context, path string) (Attr, syscall.Errno) {
	f.state.Lock()
	defer f.state.Unlock()

	path = utils.CleanPath(path)
	span, ctx := f.startSpan(ctx, "FS.Getattr", path)
	defer span.Finish()

	if path == "" {
		return dirAttr(f.state.LastList), 0
	}
	if err := f.cache.Directories(ctx, false); err != nil {
		return Attr{}, f.errno(span, "getattr", path, err)
	}
	if dir, ok := f.cache.Directory(path); ok {
		return dirAttr(dir.ListedAt), 0
	}
	if f.cache.IsPrefix(path) {
		return dirAttr(f.state.LastList), 0
	}

	parent, uid, err := f.message(ctx, path)
	if err != nil {
		return Attr{}, f.errno(span, "getattr", path, err)
	}
	msg, err := f.cache.Message(ctx, parent, uid, models.FetchMetadata, false)
	if err != nil {
		return Attr{}, f.errno(span, "getattr", path, err)
	}
	return Attr{
		Mode:  ModeFile,
		Nlink: 1,
		Size:  msg.FileSize(),
		Mtime: msg.InternalDate.OrElse(time.Time{}),
	}, 0
}

// Readdir always relists mailboxes so new folders show up immediately. The
// message listing follows the search TTL.
func (f *FS) Readdir(ctx context.Context, path string) ([]DirEntry, syscall.Errno) {
	f.state.Lock()
	defer f.state.Unlock()

	path = utils.CleanPath(path)
	span, ctx := f.startSpan(ctx, "FS.Readdir", path)
	defer span.Finish()

	if err := f.cache.Directories(ctx, true); err != nil {
		return nil, f.errno(span, "readdir", path, err)
	}
	_, known := f.cache.Directory(path)
	if path != "" && !known && !f.cache.IsPrefix(path) {
		return nil, syscall.ENOENT
	}

	entries := []DirEntry{
		{Name: ".", Mode: syscall.S_IFDIR},
		{Name: "..", Mode: syscall.S_IFDIR},
	}
	for _, name := range f.cache.ChildNames(path) {
		entries = append(entries, DirEntry{Name: name, Mode: syscall.S_IFDIR})
	}

	if known {
		uids, err := f.cache.Search(ctx, path, false, true)
		if err != nil {
			return nil, f.errno(span, "readdir", path, err)
		}
		for _, uid := range uids {
			entries = append(entries, DirEntry{Name: strconv.FormatUint(uint64(uid), 10), Mode: syscall.S_IFREG})
		}
	}
	return entries, 0
}

const writeFlags = syscall.O_WRONLY | syscall.O_RDWR | syscall.O_APPEND | syscall.O_TRUNC | syscall.O_CREAT

// Open only admits read-only access to known messages.
func (f *FS) Open(ctx context.Context, path string, flags uint32) syscall.Errno {
	f.state.Lock()
	defer f.state.Unlock()

	path = utils.CleanPath(path)
	span, ctx := f.startSpan(ctx, "FS.Open", path)
	defer span.Finish()

	if err := f.cache.Directories(ctx, false); err != nil {
		return f.errno(span, "open", path, err)
	}
	if _, _, err := f.message(ctx, path); err != nil {
		return f.errno(span, "open", path, err)
	}
	if flags&writeFlags != 0 {
		return syscall.EACCES
	}
	return 0
}

// Read returns up to size bytes of the message body starting at offset.
func (f *FS) Read(ctx context.Context, path string, size int, offset int64) ([]byte, syscall.Errno) {
	f.state.Lock()
	defer f.state.Unlock()

	path = utils.CleanPath(path)
	span, ctx := f.startSpan(ctx, "FS.Read", path)
	defer span.Finish()

	if err := f.cache.Directories(ctx, false); err != nil {
		return nil, f.errno(span, "read", path, err)
	}
	parent, uid, err := f.message(ctx, path)
	if err != nil {
		return nil, f.errno(span, "read", path, err)
	}
	msg, err := f.cache.Message(ctx, parent, uid, models.FetchBody, false)
	if err != nil {
		return nil, f.errno(span, "read", path, err)
	}

	body, _ := msg.Body.Get()
	if offset < 0 || offset >= int64(len(body)) || size <= 0 {
		return []byte{}, 0
	}
	end := offset + int64(size)
	if end > int64(len(body)) {
		end = int64(len(body))
	}
	return body[offset:end], 0
}

// Mkdir creates a mailbox. Any failure is reported as ENOENT.
func (f *FS) Mkdir(ctx context.Context, path string) syscall.Errno {
	f.state.Lock()
	defer f.state.Unlock()

	path = utils.CleanPath(path)
	span, ctx := f.startSpan(ctx, "FS.Mkdir", path)
	defer span.Finish()

	if path == "" {
		return syscall.EEXIST
	}
	if err := f.cache.Directories(ctx, false); err != nil {
		return f.errno(span, "mkdir", path, err)
	}
	if err := f.session.CreateMailbox(ctx, path); err != nil {
		f.errno(span, "mkdir", path, err)
		return syscall.ENOENT
	}
	return 0
}

// Rmdir deletes an empty mailbox. The message count comes from a forced
// SELECT so the check sees the live mailbox.
func (f *FS) Rmdir(ctx context.Context, path string) syscall.Errno {
	f.state.Lock()
	defer f.state.Unlock()

	path = utils.CleanPath(path)
	span, ctx := f.startSpan(ctx, "FS.Rmdir", path)
	defer span.Finish()

	if path == "" {
		return syscall.EBUSY
	}
	if err := f.cache.Directories(ctx, false); err != nil {
		return f.errno(span, "rmdir", path, err)
	}
	dir, ok := f.cache.Directory(path)
	if !ok {
		return syscall.ENOENT
	}
	if dir.Selectable() {
		dir, err := f.cache.Select(ctx, path, true)
		if err != nil {
			return f.errno(span, "rmdir", path, err)
		}
		if count, _ := dir.MessageCount.Get(); count > 0 {
			return syscall.ENOTEMPTY
		}
	}
	if err := f.session.DeleteMailbox(ctx, path); err != nil {
		f.errno(span, "rmdir", path, err)
		return syscall.ENOENT
	}
	return 0
}

// Rename renames a mailbox or moves a message between mailboxes. A message
// keeps its UID name; the server assigns the real UID in the destination.
func (f *FS) Rename(ctx context.Context, oldPath, newPath string) syscall.Errno {
	oldPath, newPath = utils.CleanPath(oldPath), utils.CleanPath(newPath)
	if models.IsInbox(oldPath) {
		return f.errno(nil, "rename", oldPath, errors.Wrapf(mailfserrors.ErrInboxRename, "%q", oldPath))
	}

	f.state.Lock()
	defer f.state.Unlock()

	span, ctx := f.startSpan(ctx, "FS.Rename", oldPath)
	defer span.Finish()
	span.SetTag("path.new", newPath)

	if err := f.cache.Directories(ctx, false); err != nil {
		return f.errno(span, "rename", oldPath, err)
	}
	if _, ok := f.cache.Directory(oldPath); ok {
		if err := f.session.RenameMailbox(ctx, oldPath, newPath); err != nil {
			return f.errno(span, "rename", oldPath, err)
		}
		return 0
	}

	src, dst, uid, errno := f.messageTransfer(ctx, oldPath, newPath)
	if errno != 0 {
		return errno
	}
	if src == dst {
		return 0
	}
	if err := f.session.MoveMessages(ctx, []uint32{uid}, src, dst); err != nil {
		return f.errno(span, "rename", oldPath, err)
	}
	return 0
}

// Link copies a message into another mailbox.
func (f *FS) Link(ctx context.Context, target, link string) syscall.Errno {
	f.state.Lock()
	defer f.state.Unlock()

	target, link = utils.CleanPath(target), utils.CleanPath(link)
	span, ctx := f.startSpan(ctx, "FS.Link", target)
	defer span.Finish()
	span.SetTag("path.link", link)

	if err := f.cache.Directories(ctx, false); err != nil {
		return f.errno(span, "link", target, err)
	}
	src, dst, uid, errno := f.messageTransfer(ctx, target, link)
	if errno != 0 {
		return errno
	}
	if src == dst {
		return syscall.EEXIST
	}
	if err := f.session.CopyMessages(ctx, []uint32{uid}, src, dst); err != nil {
		return f.errno(span, "link", target, err)
	}
	return 0
}

// messageTransfer validates a message move or copy from oldPath to newPath
// and leaves the source mailbox selected.
func (f *FS) messageTransfer(ctx context.Context, oldPath, newPath string) (string, string, uint32, syscall.Errno) {
	oldParent, oldLeaf := utils.SplitParent(oldPath)
	newParent, newLeaf := utils.SplitParent(newPath)

	uid, ok := parseUID(oldLeaf)
	if !ok {
		return "", "", 0, syscall.ENOENT
	}
	if newUID, ok := parseUID(newLeaf); !ok || newUID != uid {
		return "", "", 0, syscall.EACCES
	}
	if _, ok := f.cache.Directory(oldParent); !ok {
		return "", "", 0, syscall.ENOENT
	}
	if _, ok := f.cache.Directory(newParent); !ok {
		return "", "", 0, syscall.ENOTDIR
	}

	span := opentracing.SpanFromContext(ctx)
	if _, _, err := f.message(ctx, oldPath); err != nil {
		return "", "", 0, f.errno(span, "transfer", oldPath, err)
	}
	if _, err := f.cache.Select(ctx, oldParent, false); err != nil {
		return "", "", 0, f.errno(span, "transfer", oldPath, err)
	}
	return oldParent, newParent, uid, 0
}

// Keepalive sends a NOOP so the server does not drop an idle session.
func (f *FS) Keepalive(ctx context.Context) error {
	f.state.Lock()
	defer f.state.Unlock()
	return f.session.Noop(ctx)
}

// Snapshot summarizes the cache for status reporting.
func (f *FS) Snapshot() models.Snapshot {
	f.state.Lock()
	defer f.state.Unlock()
	return f.cache.Stats()
}

// Close logs the session out.
func (f *FS) Close(ctx context.Context) error {
	f.state.Lock()
	defer f.state.Unlock()
	return f.session.Close(ctx)
}
