package errors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestStatusError(t *testing.T) {
	err := &StatusError{Command: "SELECT", Status: "NO", Text: "Mailbox doesn't exist"}
	assert.Equal(t, "SELECT failed: NO Mailbox doesn't exist", err.Error())

	wrapped := errors.Wrap(err, "select Archive")
	assert.True(t, IsStatusError(wrapped))
	assert.False(t, IsStatusError(ErrNotFound))
	assert.False(t, IsStatusError(nil))
}
