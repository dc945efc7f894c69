package mailfs

import (
	"syscall"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	mailfserrors "github.com/customeros/mailfs/internal/errors"
	"github.com/customeros/mailfs/internal/parser"
	"github.com/customeros/mailfs/internal/tracing"
)

func errNotFound(format string, args ...interface{}) error {
	return errors.Wrapf(mailfserrors.ErrNotFound, format, args...)
}

// errno maps an error onto the filesystem error vocabulary. Lookups that
// come up empty are ENOENT; a reply that cannot be decoded is EIO and is
// logged since it points at a server or protocol problem.
func (f *FS) errno(span opentracing.Span, op, path string, err error) syscall.Errno {
	if err == nil {
		return 0
	}
	tracing.TraceErr(span, err)

	switch {
	case errors.Is(err, mailfserrors.ErrNotFound),
		errors.Is(err, mailfserrors.ErrNotSelectable),
		errors.Is(err, mailfserrors.ErrInvalidPath):
		f.log.Debugf("%s %s: %v", op, path, err)
		return syscall.ENOENT
	case errors.Is(err, mailfserrors.ErrInboxRename):
		return syscall.EACCES
	case errors.Is(err, parser.ErrUnbalanced),
		errors.Is(err, parser.ErrLiteralMismatch),
		errors.Is(err, mailfserrors.ErrUnexpectedReply):
		f.log.Errorf("%s %s: malformed server reply: %v", op, path, err)
		return syscall.EIO
	case mailfserrors.IsStatusError(err):
		f.log.Warnf("%s %s: %v", op, path, err)
		return syscall.ENOENT
	default:
		f.log.Errorf("%s %s: %v", op, path, err)
		return syscall.EIO
	}
}
