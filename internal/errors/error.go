package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// lookup errors
	ErrNotFound      = errors.New("not found")
	ErrNotSelectable = errors.New("mailbox is not selectable")
	ErrInvalidPath   = errors.New("invalid path")

	// session errors
	ErrNotSelected      = errors.New("mailbox is not selected")
	ErrConnectionClosed = errors.New("connection closed")
	ErrInboxRename      = errors.New("the inbox cannot be renamed")
	ErrUnexpectedReply  = errors.New("unexpected reply")
)

// StatusError is returned when the server answers a command with anything
// other than OK. The raw status and response text are kept for diagnostics.
type StatusError struct {
	Command string
	Status  string
	Text    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s %s", e.Command, e.Status, e.Text)
}

// IsStatusError reports whether err carries a non-OK protocol status.
func IsStatusError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr)
}
