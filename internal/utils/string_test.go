package utils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanPath(t *testing.T) {
	assert.Equal(t, "", CleanPath("/"))
	assert.Equal(t, "", CleanPath(""))
	assert.Equal(t, "Lists/go", CleanPath("/Lists//go/"))
}

func TestSplitParent(t *testing.T) {
	parent, leaf := SplitParent("/INBOX/17")
	assert.Equal(t, "INBOX", parent)
	assert.Equal(t, "17", leaf)

	parent, leaf = SplitParent("/INBOX")
	assert.Equal(t, "", parent)
	assert.Equal(t, "INBOX", leaf)
}

func TestSessionID(t *testing.T) {
	id := GenerateSessionID()
	assert.Len(t, id, 12)
	assert.NotEqual(t, id, GenerateSessionID())

	ctx := WithSessionID(context.Background(), id)
	assert.Equal(t, id, GetSessionIDFromContext(ctx))
	assert.Empty(t, GetSessionIDFromContext(context.Background()))
}
