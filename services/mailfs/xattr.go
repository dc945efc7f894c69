package mailfs

import (
	"bytes"
	"context"
	"strings"
	"syscall"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/customeros/mailfs/internal/models"
	"github.com/customeros/mailfs/internal/utils"
)

const (
	XattrFlags        = "user.imap.flags"
	XattrInternalDate = "user.imap.internaldate"
	XattrSubject      = "user.imap.subject"
	XattrFrom         = "user.imap.from"
	XattrName         = "user.imap.name"
	XattrSeparator    = "user.imap.separator"
)

var (
	messageXattrs   = []string{XattrFlags, XattrInternalDate, XattrSubject, XattrFrom}
	directoryXattrs = []string{XattrName, XattrSeparator}
)

// Getxattr exposes IMAP metadata of messages and mailboxes as extended
// attributes.
func (f *FS) Getxattr(ctx context.Context, path, name string) ([]byte, syscall.Errno) {
	f.state.Lock()
	defer f.state.Unlock()

	path = utils.CleanPath(path)
	span, ctx := f.startSpan(ctx, "FS.Getxattr", path)
	defer span.Finish()
	span.SetTag("xattr", name)

	if path == "" {
		return nil, syscall.ENODATA
	}
	if err := f.cache.Directories(ctx, false); err != nil {
		return nil, f.errno(span, "getxattr", path, err)
	}
	if dir, ok := f.cache.Directory(path); ok {
		switch name {
		case XattrName:
			return []byte(dir.Name), 0
		case XattrSeparator:
			return []byte(dir.Separator), 0
		}
		return nil, syscall.ENODATA
	}
	if f.cache.IsPrefix(path) {
		return nil, syscall.ENODATA
	}

	parent, uid, err := f.message(ctx, path)
	if err != nil {
		return nil, f.errno(span, "getxattr", path, err)
	}
	msg, err := f.cache.Message(ctx, parent, uid, models.FetchMetadata, false)
	if err != nil {
		return nil, f.errno(span, "getxattr", path, err)
	}

	switch name {
	case XattrFlags:
		flags, _ := msg.Flags.Get()
		return []byte(strings.Join(flags, " ")), 0
	case XattrInternalDate:
		date, ok := msg.InternalDate.Get()
		if !ok {
			return nil, syscall.ENODATA
		}
		return []byte(date.Format(imap.DateTimeLayout)), 0
	case XattrSubject, XattrFrom:
		value, ok := f.headerValue(msg, name)
		if !ok {
			return nil, syscall.ENODATA
		}
		return []byte(value), 0
	}
	return nil, syscall.ENODATA
}

// headerValue decodes one header of the cached header block.
func (f *FS) headerValue(msg *models.Message, name string) (string, bool) {
	header, ok := msg.Header.Get()
	if !ok {
		return "", false
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(header))
	if err != nil {
		f.log.Warnf("decoding header of message %d: %v", msg.UID, err)
		return "", false
	}

	key := "Subject"
	if name == XattrFrom {
		key = "From"
	}
	value := env.GetHeader(key)
	return value, value != ""
}

// Listxattr names the attributes Getxattr answers for path.
func (f *FS) Listxattr(ctx context.Context, path string) ([]string, syscall.Errno) {
	f.state.Lock()
	defer f.state.Unlock()

	path = utils.CleanPath(path)
	span, ctx := f.startSpan(ctx, "FS.Listxattr", path)
	defer span.Finish()

	if path == "" {
		return []string{}, 0
	}
	if err := f.cache.Directories(ctx, false); err != nil {
		return nil, f.errno(span, "listxattr", path, err)
	}
	if _, ok := f.cache.Directory(path); ok {
		return directoryXattrs, 0
	}
	if f.cache.IsPrefix(path) {
		return []string{}, 0
	}
	if _, _, err := f.message(ctx, path); err != nil {
		return nil, f.errno(span, "listxattr", path, err)
	}
	return messageXattrs, 0
}
